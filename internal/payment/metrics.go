package payment

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics names as constants for consistency.
const (
	MetricCheckoutSessionsTotal   = "payment_checkout_sessions_total"
	MetricWebhookEventsTotal      = "payment_webhook_events_total"
	MetricCreditsGrantedTotal     = "payment_credits_granted_total"
	MetricCreditGrantFallbacks    = "payment_credit_grant_fallbacks_total"
	MetricBestEffortFailuresTotal = "payment_best_effort_failures_total"
)

// Checkout outcome label values.
const (
	OutcomeCreated          = "created"
	OutcomeValidationError  = "validation_error"
	OutcomeCreditsRemaining = "credits_remaining"
	OutcomeInvalidPrice     = "invalid_price"
	OutcomeError            = "error"
)

// Webhook result label values beyond the ledger statuses.
const (
	WebhookResultDuplicate = "duplicate"
	WebhookResultIgnored   = "ignored"
)

// Metrics contains Prometheus metrics for payment operations.
// All operations are thread-safe. A nil *Metrics is valid and records nothing.
type Metrics struct {
	checkoutSessions   *prometheus.CounterVec
	webhookEvents      *prometheus.CounterVec
	creditsGranted     prometheus.Counter
	grantFallbacks     prometheus.Counter
	bestEffortFailures *prometheus.CounterVec
}

// NewMetrics creates and returns a new Metrics instance with all collectors initialized.
// The metrics are not registered; call Register to register them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		checkoutSessions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricCheckoutSessionsTotal,
				Help: "Total number of checkout session requests by outcome",
			},
			[]string{"outcome"},
		),
		webhookEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricWebhookEventsTotal,
				Help: "Total number of verified webhook events by type and result",
			},
			[]string{"event_type", "result"},
		),
		creditsGranted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: MetricCreditsGrantedTotal,
				Help: "Total number of AI credits granted by completed checkouts",
			},
		),
		grantFallbacks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: MetricCreditGrantFallbacks,
				Help: "Total number of credit grants that used the non-atomic fallback path",
			},
		),
		bestEffortFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricBestEffortFailuresTotal,
				Help: "Total number of failed best-effort writes by operation",
			},
			[]string{"operation"},
		),
	}
}

// Register registers all metrics with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Collectors returns all Prometheus collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.checkoutSessions,
		m.webhookEvents,
		m.creditsGranted,
		m.grantFallbacks,
		m.bestEffortFailures,
	}
}

// IncCheckoutSession counts a create-session request by outcome.
func (m *Metrics) IncCheckoutSession(outcome string) {
	if m == nil {
		return
	}
	m.checkoutSessions.WithLabelValues(outcome).Inc()
}

// IncWebhookEvent counts a verified webhook event.
func (m *Metrics) IncWebhookEvent(eventType, result string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(eventType, result).Inc()
}

// AddCreditsGranted adds to the granted credits counter.
func (m *Metrics) AddCreditsGranted(credits int) {
	if m == nil {
		return
	}
	m.creditsGranted.Add(float64(credits))
}

// IncGrantFallback counts a use of the non-atomic credit grant path.
func (m *Metrics) IncGrantFallback() {
	if m == nil {
		return
	}
	m.grantFallbacks.Inc()
}

// IncBestEffortFailure counts a failed best-effort write.
func (m *Metrics) IncBestEffortFailure(operation string) {
	if m == nil {
		return
	}
	m.bestEffortFailures.WithLabelValues(operation).Inc()
}

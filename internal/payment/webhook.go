package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/stripe/stripe-go/v81"

	"github.com/onnwee/courtside/internal/tracing"
)

// ErrMissingSignature is returned when a webhook arrives without a Stripe-Signature header.
var ErrMissingSignature = errors.New("missing Stripe-Signature header")

// EventHandler processes one verified Stripe event.
type EventHandler func(ctx context.Context, event stripe.Event) error

// WebhookResult is the acknowledgement returned to Stripe.
type WebhookResult struct {
	Received  bool   `json:"received"`
	EventID   string `json:"eventId,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

// WebhookProcessor verifies Stripe webhooks, enforces at-most-once processing
// through the ledger and dispatches events through a handler table.
type WebhookProcessor struct {
	stripe       Client
	ledger       WebhookLedger
	payments     PaymentRepository
	credits      CreditRepository
	transactions TransactionRepository
	metrics      *Metrics
	logger       *slog.Logger
	handlers     map[stripe.EventType]EventHandler
}

// NewWebhookProcessor creates a processor with handlers for
// checkout.session.completed, checkout.session.expired and charge.refunded.
func NewWebhookProcessor(
	stripeClient Client,
	ledger WebhookLedger,
	payments PaymentRepository,
	credits CreditRepository,
	transactions TransactionRepository,
	metrics *Metrics,
	logger *slog.Logger,
) *WebhookProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	p := &WebhookProcessor{
		stripe:       stripeClient,
		ledger:       ledger,
		payments:     payments,
		credits:      credits,
		transactions: transactions,
		metrics:      metrics,
		logger:       logger,
	}
	p.handlers = map[stripe.EventType]EventHandler{
		stripe.EventTypeCheckoutSessionCompleted: p.handleCheckoutCompleted,
		stripe.EventTypeCheckoutSessionExpired:   p.handleCheckoutExpired,
		stripe.EventTypeChargeRefunded:           p.handleChargeRefunded,
	}
	return p
}

// Register adds or replaces the handler for an event type.
func (p *WebhookProcessor) Register(eventType stripe.EventType, handler EventHandler) {
	p.handlers[eventType] = handler
}

// Handle verifies and processes one webhook delivery.
//
// Only ErrMissingSignature, ErrInvalidSignature and ledger lookup failures are
// returned as errors. Handler failures are logged and recorded as "failed" in the
// ledger but still acknowledged, so Stripe retries only on transport failures.
func (p *WebhookProcessor) Handle(ctx context.Context, payload []byte, signature string) (result *WebhookResult, err error) {
	ctx, endSpan := tracing.StartSpan(ctx, "payment.handle_webhook")
	defer func() { endSpan(err) }()

	if signature == "" {
		return nil, ErrMissingSignature
	}

	// Signature verification runs before anything reads the payload.
	event, err := p.stripe.ConstructEvent(payload, signature)
	if err != nil {
		p.logger.WarnContext(ctx, "webhook signature verification failed", "error", err)
		return nil, err
	}

	tracing.SetAttributes(ctx, tracing.StripeEvent(event.ID, string(event.Type))...)

	// Log minimal event info (type and ID only, not full payload)
	p.logger.InfoContext(ctx, "webhook event received", "event_type", event.Type, "event_id", event.ID)

	duplicate, err := p.ledger.IsDuplicate(ctx, event.ID)
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to check webhook ledger", "event_id", event.ID, "error", err)
		return nil, fmt.Errorf("failed to check webhook ledger: %w", err)
	}
	if duplicate {
		p.logger.InfoContext(ctx, "webhook event already processed, ignoring", "event_id", event.ID)
		p.metrics.IncWebhookEvent(string(event.Type), WebhookResultDuplicate)
		return &WebhookResult{Received: true, Duplicate: true}, nil
	}

	status := ProcessingSuccess
	handler, ok := p.handlers[event.Type]
	if !ok {
		p.logger.InfoContext(ctx, "ignoring unhandled webhook event type", "event_type", event.Type, "event_id", event.ID)
		p.metrics.IncWebhookEvent(string(event.Type), WebhookResultIgnored)
	} else {
		if err := p.runHandler(ctx, handler, event); err != nil {
			status = ProcessingFailed
			p.logger.ErrorContext(ctx, "webhook handler failed",
				"event_type", event.Type,
				"event_id", event.ID,
				"error", err)
		}
		p.metrics.IncWebhookEvent(string(event.Type), status)
	}

	BestEffort(ctx, p.logger, p.metrics, "mark_webhook_processed", func(ctx context.Context) error {
		return p.ledger.MarkProcessed(ctx, event.ID, string(event.Type), status)
	}, "event_id", event.ID, "status", status)

	return &WebhookResult{Received: true, EventID: event.ID}, nil
}

// runHandler invokes a handler, converting a panic into an error.
func (p *WebhookProcessor) runHandler(ctx context.Context, handler EventHandler, event stripe.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	ctx, endSpan := tracing.StartSpan(ctx, "payment.webhook."+string(event.Type),
		tracing.StripeEvent(event.ID, string(event.Type))...)
	defer func() { endSpan(err) }()

	return handler(ctx, event)
}

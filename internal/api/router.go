package api

import (
	"log/slog"
	"net/http"

	"github.com/onnwee/courtside/internal/config"
	"github.com/onnwee/courtside/internal/middleware"
)

// RouterConfig wires handlers and middleware into the server's HTTP handler.
type RouterConfig struct {
	Health   *HealthHandlers
	Payments *PaymentHandlers
	Webhooks *WebhookHandlers

	// MetricsHandler serves GET /metrics; nil disables the route.
	MetricsHandler http.Handler

	// CreateSessionMiddleware wraps POST /create-session, outermost first
	// (rate limiting, bearer auth).
	CreateSessionMiddleware []func(http.Handler) http.Handler

	Origins     config.Origins
	Logger      *slog.Logger
	HTTPMetrics *middleware.Metrics
	// TracingServiceName enables otelhttp spans when non-empty.
	TracingServiceName string
}

// NewRouter builds the routing table and applies the middleware chain:
// Recover -> RequestID -> Logging -> HTTPMetrics -> Tracing -> CORS -> routes.
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	mux.Handle("/health", allowMethod(http.MethodGet, http.HandlerFunc(cfg.Health.Health)))
	mux.Handle("/ready", allowMethod(http.MethodGet, http.HandlerFunc(cfg.Health.Ready)))

	var createSession http.Handler = http.HandlerFunc(cfg.Payments.CreateSession)
	for i := len(cfg.CreateSessionMiddleware) - 1; i >= 0; i-- {
		createSession = cfg.CreateSessionMiddleware[i](createSession)
	}
	mux.Handle("/create-session", allowMethod(http.MethodPost, createSession))
	mux.Handle("/webhook", allowMethod(http.MethodPost, http.HandlerFunc(cfg.Webhooks.HandleStripeWebhook)))

	if cfg.MetricsHandler != nil {
		mux.Handle("/metrics", allowMethod(http.MethodGet, cfg.MetricsHandler))
	}
	mux.HandleFunc("/", notFound)

	var handler http.Handler = mux
	handler = middleware.CORS(middleware.CORSConfig{Origins: cfg.Origins})(handler)
	if cfg.TracingServiceName != "" {
		handler = middleware.Tracing(cfg.TracingServiceName)(handler)
	}
	handler = middleware.HTTPMetrics(cfg.HTTPMetrics)(handler)
	handler = middleware.Logging(logger)(handler)
	handler = middleware.RequestID(handler)
	handler = middleware.Recover(logger, cfg.HTTPMetrics)(handler)
	return handler
}

// allowMethod serves next only for method; any other method on a known path is NOT_FOUND.
func allowMethod(method string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			notFound(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func notFound(w http.ResponseWriter, r *http.Request) {
	WriteError(w, r.Context(), http.StatusNotFound, ErrCodeNotFound, "Not found")
}

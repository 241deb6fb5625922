// Package main is the entry point for the payments API server.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/onnwee/courtside/internal/api"
	"github.com/onnwee/courtside/internal/auth"
	"github.com/onnwee/courtside/internal/config"
	"github.com/onnwee/courtside/internal/db"
	"github.com/onnwee/courtside/internal/health"
	"github.com/onnwee/courtside/internal/middleware"
	"github.com/onnwee/courtside/internal/payment"
	"github.com/onnwee/courtside/internal/tracing"
)

const (
	serviceName         = "courtside-api"
	shutdownTimeout     = 10 * time.Second
	rateLimitCleanup    = time.Minute
	rateLimitEndpoint   = "create-session"
	secretsFetchTimeout = 15 * time.Second
)

func main() {
	help := flag.Bool("help", false, "display help message")
	configPath := flag.String("config", "", "path to an optional YAML config file")
	flag.Parse()

	if *help {
		fmt.Println("Courtside payments API server")
		fmt.Println()
		fmt.Println("Usage: api [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configPath)
	if cfg == nil {
		slog.Error("failed to load configuration", "errors", errs)
		os.Exit(1)
	}

	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)

	if len(errs) > 0 {
		for _, err := range errs {
			logger.Error("invalid configuration", "error", err)
		}
		os.Exit(1)
	}
	logger.Info("configuration loaded", "config", cfg.LogSummary())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

// run loads secrets, builds the application and serves until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	store, err := newSecretStore(ctx, cfg)
	if err != nil {
		return err
	}

	fetchCtx, cancel := context.WithTimeout(ctx, secretsFetchTimeout)
	secrets, err := config.NewSecretsLoader(store, cfg.SecretsName).Get(fetchCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to load secrets: %w", err)
	}

	app, err := newApp(ctx, cfg, secrets, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	server := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Port),
		Handler:           app.Handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return serve(ctx, server, logger)
}

func newSecretStore(ctx context.Context, cfg *config.Config) (config.SecretStore, error) {
	if cfg.SecretsSource == config.SecretsSourceEnv {
		return config.EnvSecretStore{}, nil
	}
	store, err := config.NewAWSSecretStore(ctx, cfg.AWSRegion)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// serve runs server until ctx is cancelled, then shuts it down gracefully.
func serve(ctx context.Context, server *http.Server, logger *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

// app is the fully wired HTTP handler plus the resources it owns.
type app struct {
	Handler http.Handler
	closers []func()
}

// Close releases resources in reverse acquisition order.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// newApp wires storage, Stripe, rate limiting, auth and observability into the router.
// The rate limiter cleanup loop and tracing provider live until ctx is done or Close is called.
func newApp(ctx context.Context, cfg *config.Config, secrets *config.Secrets, logger *slog.Logger) (*app, error) {
	a := &app{}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	httpMetrics := middleware.NewMetrics()
	paymentMetrics := payment.NewMetrics()

	var metricsHandler http.Handler
	if cfg.MetricsEnabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		if err := httpMetrics.Register(reg); err != nil {
			return nil, fmt.Errorf("failed to register http metrics: %w", err)
		}
		if err := paymentMetrics.Register(reg); err != nil {
			return nil, fmt.Errorf("failed to register payment metrics: %w", err)
		}
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}

	provider, err := tracing.NewProvider(ctx, tracing.Config{
		ServiceName:    serviceName,
		ServiceVersion: cfg.Version,
		Enabled:        cfg.TracingEnabled,
		Environment:    cfg.Env,
		ExporterType:   cfg.TracingExporter,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     cfg.TracingSampleRate,
		Insecure:       cfg.TracingInsecure,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.closers = append(a.closers, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown tracing", "error", err)
		}
	})

	checkers := map[string]api.HealthChecker{}
	repos, err := openRepositories(ctx, secrets, logger)
	if err != nil {
		return nil, err
	}
	if repos.conn != nil {
		conn := repos.conn
		a.closers = append(a.closers, func() { _ = conn.Close() })
		checkers["database"] = health.NewDBChecker(conn)
	}

	store, redisChecker, closeStore, err := newRateLimitStore(ctx, cfg, httpMetrics, logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeStore)
	if redisChecker != nil {
		checkers["redis"] = redisChecker
	}

	stripeClient := payment.NewStripeClient(secrets.StripeSecretKey, secrets.StripeWebhookSecret)
	origins := secrets.Origins()

	checkout := payment.NewCheckoutService(stripeClient, repos.credits, repos.payments, origins, paymentMetrics, logger)
	processor := payment.NewWebhookProcessor(stripeClient, repos.ledger, repos.payments, repos.credits, repos.transactions, paymentMetrics, logger)

	createSessionMW := []func(http.Handler) http.Handler{
		middleware.RateLimiter(store, middleware.RateLimitConfig{
			RequestsPerWindow: cfg.RateLimitRequests,
			WindowDuration:    cfg.RateLimitWindow,
		}, middleware.IPKeyFunc(cfg.TrustedProxies), rateLimitEndpoint, httpMetrics),
	}
	requireUserMatch := secrets.JWTSecret != ""
	if requireUserMatch {
		createSessionMW = append(createSessionMW, middleware.RequireAuth(auth.NewVerifier(secrets.JWTSecret)))
	}

	tracingName := ""
	if provider.IsEnabled() {
		tracingName = serviceName
	}

	a.Handler = api.NewRouter(api.RouterConfig{
		Health: api.NewHealthHandlers(api.HealthHandlersConfig{
			Version:  cfg.Version,
			Checkers: checkers,
		}),
		Payments:                api.NewPaymentHandlers(checkout, requireUserMatch),
		Webhooks:                api.NewWebhookHandlers(processor),
		MetricsHandler:          metricsHandler,
		CreateSessionMiddleware: createSessionMW,
		Origins:                 origins,
		Logger:                  logger,
		HTTPMetrics:             httpMetrics,
		TracingServiceName:      tracingName,
	})

	logger.Info("application wired",
		"storage", repos.backend,
		"auth_enabled", requireUserMatch,
		"metrics_enabled", cfg.MetricsEnabled,
		"tracing_enabled", provider.IsEnabled(),
		"allowed_origins", origins.Allowed)

	ok = true
	return a, nil
}

type repositories struct {
	backend      string
	conn         *sql.DB
	payments     payment.PaymentRepository
	credits      payment.CreditRepository
	ledger       payment.WebhookLedger
	transactions payment.TransactionRepository
}

// openRepositories selects in-memory storage for memory:// URLs and PostgreSQL otherwise.
func openRepositories(ctx context.Context, secrets *config.Secrets, logger *slog.Logger) (*repositories, error) {
	if db.IsMemory(secrets.DatabaseURL) {
		logger.Warn("using in-memory storage; data is lost on restart")
		return &repositories{
			backend:      "memory",
			payments:     payment.NewInMemoryPaymentRepository(),
			credits:      payment.NewInMemoryCreditRepository(),
			ledger:       payment.NewInMemoryWebhookLedger(),
			transactions: payment.NewInMemoryTransactionRepository(),
		}, nil
	}

	conn, err := db.Open(ctx, secrets.DatabaseURL, secrets.DatabaseServiceKey)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, err
	}

	return &repositories{
		backend:      "postgres",
		conn:         conn,
		payments:     payment.NewPostgresPaymentRepository(conn, logger),
		credits:      payment.NewPostgresCreditRepository(conn),
		ledger:       payment.NewPostgresWebhookLedger(conn),
		transactions: payment.NewPostgresTransactionRepository(conn),
	}, nil
}

// newRateLimitStore uses Redis when REDIS_URL is set, otherwise a per-process store
// whose expired buckets are swept until ctx is done.
func newRateLimitStore(ctx context.Context, cfg *config.Config, metrics *middleware.Metrics, logger *slog.Logger) (middleware.RateLimitStore, api.HealthChecker, func(), error) {
	if cfg.RedisURL == "" {
		store := middleware.NewInMemoryRateLimitStore()
		cleanupCtx, cancel := context.WithCancel(ctx)
		go store.RunCleanup(cleanupCtx, rateLimitCleanup)
		return store, nil, cancel, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)

	store := middleware.NewRedisRateLimitStore(client,
		middleware.WithRedisMetrics(metrics),
		middleware.WithRedisLogger(logger))
	return store, health.NewRedisChecker(client), func() { _ = client.Close() }, nil
}

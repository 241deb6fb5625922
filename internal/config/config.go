// Package config provides configuration loading and validation for the payments server.
// It uses koanf to merge environment variables with optional file overrides, and loads
// third-party credentials from a secret store (see secrets.go).
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Secret sources.
const (
	SecretsSourceAWS = "aws"
	SecretsSourceEnv = "env"
)

// Config holds all non-secret configuration values for the payments server.
type Config struct {
	// Server settings
	Port    int    `koanf:"port"`
	Env     string `koanf:"env"`
	Version string `koanf:"version"`

	// Secrets
	SecretsSource string `koanf:"secrets_source"` // aws or env
	SecretsName   string `koanf:"secrets_name"`   // Secrets Manager secret ID
	AWSRegion     string `koanf:"aws_region"`

	// Redis (optional, backs the create-session rate limiter)
	RedisURL string `koanf:"redis_url"`

	// Rate limiting for POST /create-session
	RateLimitRequests int           `koanf:"rate_limit_requests"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	// Proxies whose X-Forwarded-For and X-Real-IP headers are trusted for the rate limit key
	TrustedProxies []netip.Prefix `koanf:"trusted_proxies"`

	// Observability
	MetricsEnabled    bool    `koanf:"metrics_enabled"`
	TracingEnabled    bool    `koanf:"tracing_enabled"`
	TracingExporter   string  `koanf:"tracing_exporter"` // otlp-http or otlp-grpc
	OTLPEndpoint      string  `koanf:"otlp_endpoint"`
	TracingSampleRate float64 `koanf:"tracing_sample_rate"`
	TracingInsecure   bool    `koanf:"tracing_insecure"`
}

// Configuration validation errors.
var (
	ErrInvalidPort          = errors.New("PORT must be a valid integer")
	ErrInvalidSecretsSource = errors.New("SECRETS_SOURCE must be aws or env")
	ErrMissingSecretsName   = errors.New("SECRETS_NAME is required when SECRETS_SOURCE is aws")
	ErrInvalidRateLimit     = errors.New("rate limit requests and window must be positive")
	ErrInvalidSampleRate    = errors.New("TRACING_SAMPLE_RATE must be between 0 and 1")
	ErrInvalidDuration      = errors.New("value must be a valid duration")
	ErrInvalidTrustedProxy  = errors.New("TRUSTED_PROXIES entries must be IP addresses or CIDR prefixes")
)

// Default values for non-secret configuration.
const (
	DefaultPort              = 8080
	DefaultEnv               = "development"
	DefaultVersion           = "1.0.0"
	DefaultSecretsSource     = SecretsSourceAWS
	DefaultSecretsName       = "courtside/payment"
	DefaultRateLimitRequests = 10
	DefaultRateLimitWindow   = time.Minute
	DefaultTracingExporter   = "otlp-http"
	DefaultTracingSampleRate = 0.1
)

// Load reads configuration from environment variables and an optional config file.
// A .env file in the working directory is loaded first when present.
// Environment variables take precedence over file values.
// Returns the loaded config and a slice of validation errors (empty if valid).
func Load(configFilePath string) (*Config, []error) {
	// Missing .env is the normal case outside local development.
	_ = godotenv.Load()

	k := koanf.New(".")
	var loadErrs []error

	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}

	port, err := getEnvIntOrDefaultMulti([]string{"COURTSIDE_PORT", "PORT"}, k.Int("port"), DefaultPort)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}

	rateLimitRequests, err := getEnvIntOrDefault("RATE_LIMIT_REQUESTS", k.Int("rate_limit_requests"), DefaultRateLimitRequests)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}

	rateLimitWindow, err := getEnvDurationOrDefault("RATE_LIMIT_WINDOW", k.Duration("rate_limit_window"), DefaultRateLimitWindow)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}

	trustedProxies, err := ParseTrustedProxies(getEnvOrKoanf("TRUSTED_PROXIES", k, "trusted_proxies"))
	if err != nil {
		loadErrs = append(loadErrs, err)
	}

	sampleRate, err := getEnvFloatOrDefault("TRACING_SAMPLE_RATE", k.Float64("tracing_sample_rate"), DefaultTracingSampleRate)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}

	cfg := &Config{
		Port:              port,
		Env:               getEnvOrDefaultMulti([]string{"COURTSIDE_ENV", "ENV", "GO_ENV"}, k.String("env"), DefaultEnv),
		Version:           getEnvOrDefault("APP_VERSION", k.String("version"), DefaultVersion),
		SecretsSource:     strings.ToLower(getEnvOrDefault("SECRETS_SOURCE", k.String("secrets_source"), DefaultSecretsSource)),
		SecretsName:       getEnvOrDefault("SECRETS_NAME", k.String("secrets_name"), DefaultSecretsName),
		AWSRegion:         getEnvOrDefaultMulti([]string{"AWS_REGION", "AWS_DEFAULT_REGION"}, k.String("aws_region"), ""),
		RedisURL:          getEnvOrKoanf("REDIS_URL", k, "redis_url"),
		RateLimitRequests: rateLimitRequests,
		RateLimitWindow:   rateLimitWindow,
		TrustedProxies:    trustedProxies,
		MetricsEnabled:    getEnvBoolOrDefault("METRICS_ENABLED", k, "metrics_enabled", true),
		TracingEnabled:    getEnvBoolOrDefault("TRACING_ENABLED", k, "tracing_enabled", false),
		TracingExporter:   getEnvOrDefault("TRACING_EXPORTER", k.String("tracing_exporter"), DefaultTracingExporter),
		OTLPEndpoint:      getEnvOrKoanf("OTEL_EXPORTER_OTLP_ENDPOINT", k, "otlp_endpoint"),
		TracingSampleRate: sampleRate,
		TracingInsecure:   getEnvBoolOrDefault("TRACING_INSECURE", k, "tracing_insecure", false),
	}

	errs := cfg.Validate()
	errs = append(loadErrs, errs...)

	return cfg, errs
}

// ParseTrustedProxies parses a comma-separated list of IP addresses and CIDR
// prefixes. A bare address becomes a single-host prefix.
func ParseTrustedProxies(raw string) ([]netip.Prefix, error) {
	var prefixes []netip.Prefix
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if strings.Contains(part, "/") {
			p, err := netip.ParsePrefix(part)
			if err != nil {
				return nil, fmt.Errorf("%w: %q", ErrInvalidTrustedProxy, part)
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(part)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidTrustedProxy, part)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

// getEnvOrKoanf returns the environment variable value if set, otherwise the koanf value.
func getEnvOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	return k.String(koanfKey)
}

// getEnvOrDefault returns the environment variable value if set, otherwise the koanf value, or default.
func getEnvOrDefault(envKey string, koanfVal string, defaultVal string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvOrDefaultMulti tries multiple environment variable keys in order.
// Returns the first non-empty value found, otherwise the koanf value, or default.
func getEnvOrDefaultMulti(envKeys []string, koanfVal string, defaultVal string) string {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			return val
		}
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvIntOrDefault returns the environment variable as int if set, otherwise the koanf value, or default.
func getEnvIntOrDefault(envKey string, koanfVal int, defaultVal int) (int, error) {
	return getEnvIntOrDefaultMulti([]string{envKey}, koanfVal, defaultVal)
}

// getEnvIntOrDefaultMulti tries multiple environment variable keys in order.
// Returns an error if any environment variable is set but cannot be parsed as an integer.
func getEnvIntOrDefaultMulti(envKeys []string, koanfVal int, defaultVal int) (int, error) {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			i, err := strconv.Atoi(val)
			if err != nil {
				if key == "PORT" || key == "COURTSIDE_PORT" {
					return 0, fmt.Errorf("%s must be a valid integer: %w", key, ErrInvalidPort)
				}
				return 0, fmt.Errorf("%s must be a valid integer: %w", key, err)
			}
			return i, nil
		}
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvFloatOrDefault returns the environment variable as float64 if set, otherwise the koanf value, or default.
func getEnvFloatOrDefault(envKey string, koanfVal float64, defaultVal float64) (float64, error) {
	if val := os.Getenv(envKey); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid float: %w", envKey, err)
		}
		return f, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvDurationOrDefault parses a Go duration (e.g. "1m") from the environment.
func getEnvDurationOrDefault(envKey string, koanfVal time.Duration, defaultVal time.Duration) (time.Duration, error) {
	if val := os.Getenv(envKey); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", envKey, ErrInvalidDuration)
		}
		return d, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvBoolOrDefault accepts true/1/yes/on and false/0/no/off, env over file over default.
func getEnvBoolOrDefault(envKey string, k *koanf.Koanf, koanfKey string, defaultVal bool) bool {
	result := defaultVal
	if k.Exists(koanfKey) {
		result = k.Bool(koanfKey)
	}
	if val := os.Getenv(envKey); val != "" {
		switch strings.ToLower(val) {
		case "true", "1", "yes", "on":
			result = true
		case "false", "0", "no", "off":
			result = false
		}
	}
	return result
}

// Validate checks that configuration values are consistent.
// Returns a slice of validation errors (empty if valid).
func (c *Config) Validate() []error {
	var errs []error

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, ErrInvalidPort)
	}

	switch c.SecretsSource {
	case SecretsSourceAWS:
		if c.SecretsName == "" {
			errs = append(errs, ErrMissingSecretsName)
		}
	case SecretsSourceEnv:
	default:
		errs = append(errs, ErrInvalidSecretsSource)
	}

	if c.RateLimitRequests <= 0 || c.RateLimitWindow <= 0 {
		errs = append(errs, ErrInvalidRateLimit)
	}

	if c.TracingSampleRate < 0 || c.TracingSampleRate > 1 {
		errs = append(errs, ErrInvalidSampleRate)
	}

	return errs
}

// LogSummary returns a summary of the configuration suitable for logging.
func (c *Config) LogSummary() map[string]string {
	return map[string]string{
		"port":                fmt.Sprintf("%d", c.Port),
		"env":                 c.Env,
		"version":             c.Version,
		"secrets_source":      c.SecretsSource,
		"secrets_name":        c.SecretsName,
		"aws_region":          c.AWSRegion,
		"redis_url":           maskDatabaseURL(c.RedisURL),
		"rate_limit_requests": fmt.Sprintf("%d", c.RateLimitRequests),
		"rate_limit_window":   c.RateLimitWindow.String(),
		"trusted_proxies":     fmt.Sprintf("%v", c.TrustedProxies),
		"metrics_enabled":     fmt.Sprintf("%t", c.MetricsEnabled),
		"tracing_enabled":     fmt.Sprintf("%t", c.TracingEnabled),
		"tracing_exporter":    c.TracingExporter,
		"otlp_endpoint":       c.OTLPEndpoint,
	}
}

// LogSummary returns the secret bundle with every credential masked.
func (s *Secrets) LogSummary() map[string]string {
	return map[string]string{
		"stripe_secret_key":     maskStripeKey(s.StripeSecretKey),
		"stripe_webhook_secret": maskSecret(s.StripeWebhookSecret),
		"database_url":          maskDatabaseURL(s.DatabaseURL),
		"database_service_key":  maskSecret(s.DatabaseServiceKey),
		"allowed_origins":       strings.Join(s.AllowedOrigins, ","),
		"app_url":               s.AppURL,
		"jwt_secret":            maskSecret(s.JWTSecret),
	}
}

// maskSecret masks a secret value, showing only the first 4 characters followed by ****
// If the secret is shorter than 8 characters, it's fully masked.
func maskSecret(s string) string {
	if s == "" {
		return "<not set>"
	}
	if len(s) < 8 {
		return "****"
	}
	return s[:4] + "****"
}

// maskStripeKey masks a Stripe API key, preserving the prefix (sk_live_, sk_test_, etc.)
func maskStripeKey(s string) string {
	if s == "" {
		return "<not set>"
	}

	parts := strings.SplitN(s, "_", 3)
	if len(parts) == 3 {
		return parts[0] + "_" + parts[1] + "_****"
	}

	return maskSecret(s)
}

// maskDatabaseURL masks the password in a connection URL (postgres://, redis://).
func maskDatabaseURL(s string) string {
	if s == "" {
		return "<not set>"
	}

	schemeEnd := strings.Index(s, "://")
	if schemeEnd == -1 {
		return maskSecret(s)
	}

	rest := s[schemeEnd+3:]
	atIndex := strings.Index(rest, "@")
	if atIndex == -1 {
		return s // No credentials in URL
	}

	colonIndex := strings.Index(rest[:atIndex], ":")
	if colonIndex == -1 {
		return s // No password (only username)
	}

	scheme := s[:schemeEnd+3]
	user := rest[:colonIndex]
	hostAndPath := rest[atIndex:]

	return scheme + user + ":****" + hostAndPath
}

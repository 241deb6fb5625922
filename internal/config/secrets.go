package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// Secret bundle keys.
const (
	SecretStripeSecretKey     = "STRIPE_SECRET_KEY"
	SecretStripeWebhookSecret = "STRIPE_WEBHOOK_SECRET"
	SecretDatabaseURL         = "DATABASE_URL"
	SecretDatabaseServiceKey  = "DATABASE_SERVICE_KEY"
	SecretAllowedOrigins      = "ALLOWED_ORIGINS"
	SecretAppURL              = "APP_URL"
	SecretJWTSecret           = "SUPABASE_JWT_SECRET"
)

// requiredSecrets must be present in every bundle.
var requiredSecrets = []string{
	SecretStripeSecretKey,
	SecretStripeWebhookSecret,
	SecretDatabaseURL,
	SecretDatabaseServiceKey,
}

var (
	// ErrMissingSecret is returned when a required key is absent from the secret bundle.
	ErrMissingSecret = errors.New("required secret is missing")

	// ErrEmptySecret is returned when the secret store has no string value for the bundle.
	ErrEmptySecret = errors.New("secret has no string value")
)

// Secrets holds third-party credentials loaded once per process.
type Secrets struct {
	StripeSecretKey     string
	StripeWebhookSecret string
	DatabaseURL         string
	DatabaseServiceKey  string
	AllowedOrigins      []string
	AppURL              string
	JWTSecret           string // Optional; enables bearer auth on create-session
}

// Origins returns the CORS/redirect origin policy derived from the secrets.
func (s *Secrets) Origins() Origins {
	return Origins{Allowed: s.AllowedOrigins, AppURL: s.AppURL}
}

// ParseSecrets decodes a JSON secret bundle and validates that every required key is present.
// All missing keys are reported together.
func ParseSecrets(raw string) (*Secrets, error) {
	var values map[string]string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil, fmt.Errorf("failed to decode secret bundle: %w", err)
	}

	var errs []error
	for _, key := range requiredSecrets {
		if values[key] == "" {
			errs = append(errs, fmt.Errorf("%w: %s", ErrMissingSecret, key))
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	return &Secrets{
		StripeSecretKey:     values[SecretStripeSecretKey],
		StripeWebhookSecret: values[SecretStripeWebhookSecret],
		DatabaseURL:         values[SecretDatabaseURL],
		DatabaseServiceKey:  values[SecretDatabaseServiceKey],
		AllowedOrigins:      ParseOrigins(values[SecretAllowedOrigins]),
		AppURL:              values[SecretAppURL],
		JWTSecret:           values[SecretJWTSecret],
	}, nil
}

// SecretStore fetches a named secret bundle.
type SecretStore interface {
	GetSecretString(ctx context.Context, name string) (string, error)
}

// secretsManagerAPI is the subset of the Secrets Manager client used by AWSSecretStore.
type secretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// AWSSecretStore reads secret bundles from AWS Secrets Manager.
type AWSSecretStore struct {
	client secretsManagerAPI
}

// NewAWSSecretStore creates a Secrets Manager backed store using the default AWS credential chain.
func NewAWSSecretStore(ctx context.Context, region string) (*AWSSecretStore, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &AWSSecretStore{client: secretsmanager.NewFromConfig(cfg)}, nil
}

// GetSecretString returns the string value of the named secret.
func (s *AWSSecretStore) GetSecretString(ctx context.Context, name string) (string, error) {
	out, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		return "", fmt.Errorf("failed to get secret %s: %w", name, err)
	}
	if out.SecretString == nil || *out.SecretString == "" {
		return "", fmt.Errorf("%w: %s", ErrEmptySecret, name)
	}
	return *out.SecretString, nil
}

// EnvSecretStore builds the secret bundle from environment variables.
// It is intended for local development and tests.
type EnvSecretStore struct{}

// GetSecretString returns a JSON bundle of the known secret keys found in the environment.
// The name is ignored.
func (EnvSecretStore) GetSecretString(ctx context.Context, name string) (string, error) {
	keys := []string{
		SecretStripeSecretKey,
		SecretStripeWebhookSecret,
		SecretDatabaseURL,
		SecretDatabaseServiceKey,
		SecretAllowedOrigins,
		SecretAppURL,
		SecretJWTSecret,
	}

	values := make(map[string]string, len(keys))
	for _, key := range keys {
		if val := os.Getenv(key); val != "" {
			values[key] = val
		}
	}

	data, err := json.Marshal(values)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// SecretsLoader fetches the secret bundle on first use and caches it for the
// lifetime of the process. There is no TTL or refresh. A failed fetch is not
// cached, so the next call retries.
type SecretsLoader struct {
	store SecretStore
	name  string

	mu     sync.Mutex
	cached *Secrets
}

// NewSecretsLoader creates a loader for the named bundle.
func NewSecretsLoader(store SecretStore, name string) *SecretsLoader {
	return &SecretsLoader{store: store, name: name}
}

// Get returns the cached secrets, fetching them on the first call.
// Concurrent first calls perform a single fetch.
func (l *SecretsLoader) Get(ctx context.Context) (*Secrets, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cached != nil {
		return l.cached, nil
	}

	raw, err := l.store.GetSecretString(ctx, l.name)
	if err != nil {
		return nil, err
	}

	secrets, err := ParseSecrets(raw)
	if err != nil {
		return nil, err
	}

	l.cached = secrets
	return secrets, nil
}

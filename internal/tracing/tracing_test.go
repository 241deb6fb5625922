package tracing

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewProvider_Disabled(t *testing.T) {
	provider, err := NewProvider(context.Background(), Config{ServiceName: "courtside-api"}, quietLogger())
	if err != nil {
		t.Fatalf("expected no error for disabled tracing, got %v", err)
	}
	if provider.IsEnabled() {
		t.Error("expected tracing to be disabled")
	}
	if err := provider.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() on disabled provider = %v", err)
	}
	if provider.Tracer("x") == nil {
		t.Error("expected fallback tracer")
	}
}

func TestNewProvider_InvalidConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr error
	}{
		{"missing service name", Config{Enabled: true, SampleRate: 0.1}, ErrMissingServiceName},
		{"negative sample rate", Config{Enabled: true, ServiceName: "courtside-api", SampleRate: -0.1}, ErrInvalidSampleRate},
		{"sample rate above one", Config{Enabled: true, ServiceName: "courtside-api", SampleRate: 1.5}, ErrInvalidSampleRate},
		{"unsupported exporter", Config{Enabled: true, ServiceName: "courtside-api", ExporterType: "zipkin"}, ErrUnsupportedExporter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewProvider(context.Background(), tt.cfg, quietLogger())
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestNewProvider_Exporters(t *testing.T) {
	tests := []struct {
		name     string
		exporter string
		rate     float64
		endpoint string
	}{
		{"otlp-http sampled", ExporterOTLPHTTP, 0.1, "localhost:4318"},
		{"otlp-grpc always", ExporterOTLPGRPC, 1, "localhost:4317"},
		{"default exporter never", "", 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider, err := NewProvider(context.Background(), Config{
				ServiceName:    "courtside-api",
				ServiceVersion: "test",
				Enabled:        true,
				Environment:    "test",
				ExporterType:   tt.exporter,
				OTLPEndpoint:   tt.endpoint,
				SampleRate:     tt.rate,
				Insecure:       true,
			}, quietLogger())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !provider.IsEnabled() {
				t.Error("expected tracing to be enabled")
			}

			_, span := provider.Tracer(TracerName).Start(context.Background(), "probe")
			span.End()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = provider.Shutdown(ctx)
		})
	}
}

func TestNewSampler(t *testing.T) {
	tests := map[float64]string{
		1:    "AlwaysOnSampler",
		0:    "AlwaysOffSampler",
		0.25: "TraceIDRatioBased{0.25}",
	}
	for rate, want := range tests {
		desc := newSampler(rate).Description()
		if !strings.HasPrefix(desc, "ParentBased{root:"+want) {
			t.Errorf("newSampler(%v) = %q, want parent-based %s", rate, desc, want)
		}
	}
}

func TestProvider_NilSafe(t *testing.T) {
	var p *Provider
	if p.IsEnabled() {
		t.Error("nil provider reported enabled")
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

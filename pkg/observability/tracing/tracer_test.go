package tracing

import (
	"context"
	"strings"
	"testing"
)

func TestNewTracerProvider_Disabled(t *testing.T) {
	provider, err := NewTracerProvider(context.Background(), TracerConfig{ServiceName: "nimqueue"})
	if err != nil {
		t.Fatalf("expected no error for disabled tracing, got: %v", err)
	}
	if provider.Enabled() {
		t.Fatal("expected disabled provider")
	}

	_, span := provider.Tracer("test").Start(context.Background(), "noop")
	if span.SpanContext().IsSampled() {
		t.Fatal("expected disabled provider to never sample")
	}
	span.End()

	if err := provider.ForceFlush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if err := provider.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestNewTracerProvider_ValidationErrors(t *testing.T) {
	tests := []struct {
		name        string
		config      TracerConfig
		expectedErr string
	}{
		{
			name:        "missing service name",
			config:      TracerConfig{Enabled: true, Endpoint: "localhost:4317", SampleRate: 1},
			expectedErr: "service name is required",
		},
		{
			name:        "missing endpoint",
			config:      TracerConfig{Enabled: true, ServiceName: "nimqueue", SampleRate: 1},
			expectedErr: "OTLP endpoint is required",
		},
		{
			name:        "negative sample rate",
			config:      TracerConfig{Enabled: true, ServiceName: "nimqueue", Endpoint: "localhost:4317", SampleRate: -0.1},
			expectedErr: "sample rate must be between 0 and 1",
		},
		{
			name:        "sample rate above one",
			config:      TracerConfig{Enabled: true, ServiceName: "nimqueue", Endpoint: "localhost:4317", SampleRate: 1.5},
			expectedErr: "sample rate must be between 0 and 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTracerProvider(context.Background(), tt.config)
			if err == nil || !strings.Contains(err.Error(), tt.expectedErr) {
				t.Fatalf("expected %q, got %v", tt.expectedErr, err)
			}
		})
	}
}

func TestNewTracerProvider_Enabled(t *testing.T) {
	// The gRPC client connects lazily, so no collector is needed here.
	provider, err := NewTracerProvider(context.Background(), TracerConfig{
		ServiceName:    "nimqueue",
		ServiceVersion: "v1.0.0",
		Environment:    "test",
		Endpoint:       "localhost:4317",
		SampleRate:     1,
		Enabled:        true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !provider.Enabled() {
		t.Fatal("expected enabled provider")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// Export fails against a missing collector; shutdown must still return.
	_ = provider.Shutdown(ctx)
}

func TestTracerProvider_NilSafe(t *testing.T) {
	var provider *TracerProvider
	if provider.Enabled() {
		t.Fatal("nil provider must report disabled")
	}
	if err := provider.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if err := provider.ForceFlush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
}

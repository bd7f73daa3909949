// SPDX-License-Identifier: MIT

package tracing

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

func TestNewProvider_Disabled(t *testing.T) {
	cfg := Config{Enabled: false, ServiceName: "devproxy-test"}

	provider, err := NewProvider(context.Background(), cfg)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if provider.tp != nil {
		t.Error("expected noop provider (tp == nil)")
	}

	tracer := otel.Tracer("test")
	_, span := tracer.Start(context.Background(), "noop-check")
	if span.IsRecording() {
		t.Error("expected noop tracer span to be non-recording")
	}
	span.End()
}

func TestNewProvider_SamplingRatesDoNotError(t *testing.T) {
	rates := []float64{1.0, 0.0, 0.5}
	for _, rate := range rates {
		cfg := Config{Enabled: false, ServiceName: "devproxy-test", SamplingRate: rate}
		if _, err := NewProvider(context.Background(), cfg); err != nil {
			t.Fatalf("rate %v: expected no error, got: %v", rate, err)
		}
	}
}

func TestProvider_ShutdownOnNoop(t *testing.T) {
	provider := &Provider{tp: nil}
	if err := provider.Shutdown(context.Background()); err != nil {
		t.Errorf("expected no error on noop shutdown, got: %v", err)
	}
}

func TestProvider_ConcurrentShutdown(t *testing.T) {
	provider := &Provider{tp: nil}

	done := make(chan struct{}, 5)
	for i := 0; i < 5; i++ {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
			defer cancel()
			_ = provider.Shutdown(ctx)
			done <- struct{}{}
		}()
	}

	for i := 0; i < 5; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for concurrent shutdown")
		}
	}
}

func TestTracer(t *testing.T) {
	cfg := Config{Enabled: false, ServiceName: "devproxy-test"}
	if _, err := NewProvider(context.Background(), cfg); err != nil {
		t.Fatalf("failed to create provider: %v", err)
	}

	tracer := Tracer("test-tracer")
	if tracer == nil {
		t.Fatal("expected non-nil tracer")
	}

	ctx, span := tracer.Start(context.Background(), "test-span")
	span.End()

	if trace.SpanFromContext(ctx) == nil {
		t.Error("expected span in context")
	}
}

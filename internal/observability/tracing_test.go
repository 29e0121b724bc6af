package observability

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestInitTracer_InvalidEndpoint(t *testing.T) {
	// gRPC dials lazily, so an unreachable endpoint still initializes.
	shutdown, err := InitTracer(context.Background(), TracingConfig{
		ServiceName: "test-service",
		Endpoint:    "invalid-endpoint:9999",
		SampleRatio: 1,
	})
	if err != nil {
		t.Logf("InitTracer failed in this environment: %v", err)
		return
	}
	if shutdown == nil {
		t.Fatal("expected shutdown function to be non-nil")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	_ = shutdown(shutdownCtx)
}

func TestInitTracer_Disabled(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), TracingConfig{ServiceName: "procplane"})
	if err != nil {
		t.Fatalf("expected no error with tracing disabled, got %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("expected no-op shutdown, got %v", err)
	}
}

func TestSampler(t *testing.T) {
	tests := []struct {
		ratio float64
		want  string
	}{
		{1, "AlwaysOnSampler"},
		{2, "AlwaysOnSampler"},
		{0, "AlwaysOffSampler"},
		{-1, "AlwaysOffSampler"},
		{0.25, "TraceIDRatioBased{0.25}"},
	}

	for _, tt := range tests {
		desc := sampler(tt.ratio).Description()
		if !strings.HasPrefix(desc, "ParentBased{") || !strings.Contains(desc, "root:"+tt.want) {
			t.Errorf("ratio %v: got %q, want root %s", tt.ratio, desc, tt.want)
		}
	}
}

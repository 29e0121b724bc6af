package observability

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
)

func initMetrics(t *testing.T) http.Handler {
	t.Helper()
	handler, shutdown, err := InitMetrics()
	if err != nil {
		t.Fatalf("InitMetrics failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = shutdown(ctx)
	})
	if handler == nil {
		t.Fatal("expected handler to be non-nil")
	}
	return handler
}

func scrape(t *testing.T, handler http.Handler) string {
	t.Helper()
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusOK)
	}
	return rr.Body.String()
}

func TestInitMetrics_DottedNamesExported(t *testing.T) {
	handler := initMetrics(t)

	counter, err := otel.Meter("procplane/test").Int64Counter("procplane.test.spawned")
	if err != nil {
		t.Fatalf("failed to create counter: %v", err)
	}
	counter.Add(context.Background(), 3)

	body := scrape(t, handler)
	if !strings.Contains(body, "procplane_test_spawned_total") {
		t.Errorf("expected dotted name in Prometheus form, got:\n%s", body)
	}
	if !strings.Contains(body, " 3") {
		t.Errorf("expected value 3 in output, got:\n%s", body)
	}
}

func TestServeMetrics(t *testing.T) {
	handler := initMetrics(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to reserve port: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ServeMetrics(ctx, addr, handler, slog.New(slog.NewTextHandler(io.Discard, nil)))

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	var resp *http.Response
	for range 50 {
		resp, err = client.Get(fmt.Sprintf("http://%s/metrics", addr))
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("metrics server never came up: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("got status %d, want 200", resp.StatusCode)
	}

	cancel()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := client.Get(fmt.Sprintf("http://%s/metrics", addr))
		if err != nil {
			return
		}
		resp.Body.Close()
		time.Sleep(20 * time.Millisecond)
	}
	t.Error("metrics server still serving after cancel")
}

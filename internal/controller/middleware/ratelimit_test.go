package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func rateMw(rps float64, burst int) func(http.Handler) http.Handler {
	return NewRateLimiter(WithTTL(5*time.Minute), WithLimit(rps, burst)).Middleware()
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func request(ctx context.Context, remote string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/", nil).WithContext(ctx)
	req.RemoteAddr = remote
	return req
}

func TestRateLimitMiddleware_AllowsRequestUnderLimit(t *testing.T) {
	handler := rateMw(100, 200)(okHandler())

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, request(context.Background(), "10.0.0.1:1234"))

	if rr.Code != http.StatusOK {
		t.Errorf("got status %d, want %d", rr.Code, http.StatusOK)
	}
}

func TestRateLimitMiddleware_RejectsRequestOverLimit(t *testing.T) {
	handler := rateMw(1, 1)(okHandler())

	// First request should succeed (uses the burst)
	rr1 := httptest.NewRecorder()
	handler.ServeHTTP(rr1, request(context.Background(), "10.0.0.1:1234"))
	if rr1.Code != http.StatusOK {
		t.Errorf("first request: got status %d, want %d", rr1.Code, http.StatusOK)
	}

	// Same host, different port: same bucket
	rr2 := httptest.NewRecorder()
	handler.ServeHTTP(rr2, request(context.Background(), "10.0.0.1:5678"))
	if rr2.Code != http.StatusTooManyRequests {
		t.Errorf("second request: got status %d, want %d", rr2.Code, http.StatusTooManyRequests)
	}
	if retryAfter := rr2.Header().Get("Retry-After"); retryAfter != "1" {
		t.Errorf("got Retry-After %q, want %q", retryAfter, "1")
	}
}

func TestRateLimitMiddleware_IndependentLimitsPerCaller(t *testing.T) {
	handler := rateMw(1, 1)(okHandler())

	ctxA := NewContextWithCaller(context.Background(), "caller-a")
	ctxB := NewContextWithCaller(context.Background(), "caller-b")

	// Exhaust caller A's limit
	for range 2 {
		handler.ServeHTTP(httptest.NewRecorder(), request(ctxA, "10.0.0.1:1"))
	}
	rrA := httptest.NewRecorder()
	handler.ServeHTTP(rrA, request(ctxA, "10.0.0.1:1"))
	if rrA.Code != http.StatusTooManyRequests {
		t.Errorf("caller A: got status %d, want %d", rrA.Code, http.StatusTooManyRequests)
	}

	// Caller B shares the address but not the bucket
	rrB := httptest.NewRecorder()
	handler.ServeHTTP(rrB, request(ctxB, "10.0.0.1:1"))
	if rrB.Code != http.StatusOK {
		t.Errorf("caller B: got status %d, want %d", rrB.Code, http.StatusOK)
	}
}

func TestRateLimitMiddleware_UnlimitedWhenRateLimitZero(t *testing.T) {
	handlerCallCount := 0
	handler := rateMw(0, 0)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCallCount++
		w.WriteHeader(http.StatusOK)
	}))

	for i := range 10 {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, request(context.Background(), "10.0.0.1:1"))
		if rr.Code != http.StatusOK {
			t.Errorf("request %d: got status %d, want %d", i, rr.Code, http.StatusOK)
		}
	}

	if handlerCallCount != 10 {
		t.Errorf("expected 10 handler calls, got %d", handlerCallCount)
	}
}

func TestRateLimiter_ExpiredBucketIsReplaced(t *testing.T) {
	rl := NewRateLimiter(WithTTL(time.Nanosecond), WithLimit(1, 1))

	first := rl.get("k")
	time.Sleep(time.Millisecond)
	if second := rl.get("k"); second == first {
		t.Error("expected a fresh limiter after the TTL elapsed")
	}
}

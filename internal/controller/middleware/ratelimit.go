package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter hands out one token bucket per caller. Callers are keyed by
// their authenticated identity, or by remote IP when auth is disabled.
type RateLimiter struct {
	limiters sync.Map // key -> *cachedLimiter
	ttl      time.Duration
	rps      float64
	burst    int
}

// Option configures a RateLimiter.
type Option func(*RateLimiter)

// WithTTL sets how long an idle caller's bucket is kept.
func WithTTL(ttl time.Duration) Option {
	return func(rl *RateLimiter) { rl.ttl = ttl }
}

// WithLimit sets the sustained rate and burst. rps <= 0 means unlimited.
func WithLimit(rps float64, burst int) Option {
	return func(rl *RateLimiter) {
		rl.rps = rps
		rl.burst = burst
	}
}

// NewRateLimiter creates a RateLimiter. Without WithLimit it allows everything.
func NewRateLimiter(opts ...Option) *RateLimiter {
	rl := &RateLimiter{ttl: 5 * time.Minute}
	for _, opt := range opts {
		opt(rl)
	}
	if rl.burst <= 0 {
		rl.burst = max(1, int(rl.rps))
	}
	return rl
}

// Middleware returns the rate limiting middleware.
func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// RateLimit=0 means unlimited
			if rl.rps > 0 && !rl.get(callerKeyFor(r)).Allow() {
				w.Header().Set("Retry-After", "1")
				http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type cachedLimiter struct {
	limiter   *rate.Limiter
	expiresAt time.Time
}

func (rl *RateLimiter) get(key string) *rate.Limiter {
	now := time.Now()
	if v, ok := rl.limiters.Load(key); ok {
		cached := v.(*cachedLimiter)
		if now.Before(cached.expiresAt) {
			return cached.limiter
		}
		// expired, need to create new
	}

	cached := &cachedLimiter{
		limiter:   rate.NewLimiter(rate.Limit(rl.rps), rl.burst),
		expiresAt: now.Add(rl.ttl),
	}
	rl.limiters.Store(key, cached)
	return cached.limiter
}

func callerKeyFor(r *http.Request) string {
	if caller, ok := CallerFromContext(r.Context()); ok {
		return "caller:" + caller
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

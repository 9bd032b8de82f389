package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/platinummonkey/warden/pkg/identity"
)

// RateLimitConfig describes one rate limit budget.
type RateLimitConfig struct {
	// RequestsPerWindow is how many requests the budget admits per window.
	RequestsPerWindow int
	// WindowDuration is the length of the accounting window.
	WindowDuration time.Duration
	// BurstSize is extra headroom on top of the steady rate.
	BurstSize int
}

// capacity is the bucket size: steady rate plus burst headroom.
func (c *RateLimitConfig) capacity() int {
	return c.RequestsPerWindow + c.BurstSize
}

// DefaultRateLimitConfig returns the budget shared by unauthenticated
// callers, keyed by client IP.
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerWindow: 100,
		WindowDuration:    time.Minute,
		BurstSize:         10,
	}
}

// PerPrincipalRateLimitConfig returns the budget each authenticated
// principal gets to itself.
func PerPrincipalRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerWindow: 1000,
		WindowDuration:    time.Minute,
		BurstSize:         50,
	}
}

// bucket tracks the token balance for one key.
type bucket struct {
	mu         sync.Mutex
	tokens     int
	lastUpdate time.Time
}

// RateLimiter is an in-memory token bucket limiter. Each key gets its
// own bucket; tokens refill continuously at the configured rate.
type RateLimiter struct {
	config  *RateLimitConfig
	mu      sync.RWMutex
	buckets map[string]*bucket
}

func NewRateLimiter(config *RateLimitConfig) *RateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	return &RateLimiter{
		config:  config,
		buckets: make(map[string]*bucket),
	}
}

// lookup returns the bucket for key, creating a full one on first use.
func (rl *RateLimiter) lookup(key string) *bucket {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{tokens: rl.config.capacity(), lastUpdate: time.Now()}
		rl.buckets[key] = b
	}
	return b
}

// Allow consumes one token for key. It reports false when the bucket
// is empty.
func (rl *RateLimiter) Allow(key string) bool {
	b := rl.lookup(key)

	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	rl.refill(b, now)

	if b.tokens <= 0 {
		return false
	}
	b.tokens--
	return true
}

// refill credits tokens accrued since the bucket was last updated.
// lastUpdate only advances when whole tokens land, so fractional
// accrual is never lost. Caller holds b.mu.
func (rl *RateLimiter) refill(b *bucket, now time.Time) {
	if rl.config.RequestsPerWindow <= 0 {
		return
	}
	perToken := rl.config.WindowDuration / time.Duration(rl.config.RequestsPerWindow)
	if perToken <= 0 {
		return
	}
	earned := int(now.Sub(b.lastUpdate) / perToken)
	if earned <= 0 {
		return
	}
	b.tokens += earned
	if limit := rl.config.capacity(); b.tokens > limit {
		b.tokens = limit
	}
	b.lastUpdate = now
}

// Remaining reports the current token balance for key. Unknown keys
// report a full bucket.
func (rl *RateLimiter) Remaining(key string) int {
	rl.mu.RLock()
	b, ok := rl.buckets[key]
	rl.mu.RUnlock()
	if !ok {
		return rl.config.capacity()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tokens
}

// Cleanup drops buckets idle for more than two windows. Idle buckets
// are full anyway, so dropping them changes nothing for the caller.
func (rl *RateLimiter) Cleanup() {
	cutoff := time.Now().Add(-2 * rl.config.WindowDuration)

	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, b := range rl.buckets {
		b.mu.Lock()
		stale := b.lastUpdate.Before(cutoff)
		b.mu.Unlock()
		if stale {
			delete(rl.buckets, key)
		}
	}
}

// StartCleanup runs Cleanup once per window until ctx is cancelled.
func (rl *RateLimiter) StartCleanup(ctx context.Context) {
	ticker := time.NewTicker(rl.config.WindowDuration)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rl.Cleanup()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// RateLimitMiddleware enforces request budgets. Authenticated
// principals are keyed individually; everyone else shares a per-IP
// budget.
type RateLimitMiddleware struct {
	principalLimiter *RateLimiter
	anonymousLimiter *RateLimiter
}

func NewRateLimitMiddleware() *RateLimitMiddleware {
	return &RateLimitMiddleware{
		principalLimiter: NewRateLimiter(PerPrincipalRateLimitConfig()),
		anonymousLimiter: NewRateLimiter(DefaultRateLimitConfig()),
	}
}

// Handler wraps next with rate limiting and the standard
// X-RateLimit-* response headers.
func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limiter := m.anonymousLimiter
		key := "ip:" + getClientIP(r)
		if principalID, ok := identity.PrincipalFromContext(r.Context()); ok {
			limiter = m.principalLimiter
			key = "principal:" + strconv.FormatInt(principalID, 10)
		}

		if !limiter.Allow(key) {
			m.rateLimitExceeded(w, limiter)
			return
		}

		setRateLimitHeaders(w, limiter.config, limiter.Remaining(key))
		next.ServeHTTP(w, r)
	})
}

func setRateLimitHeaders(w http.ResponseWriter, cfg *RateLimitConfig, remaining int) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.RequestsPerWindow))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(cfg.WindowDuration).Unix(), 10))
}

func (m *RateLimitMiddleware) rateLimitExceeded(w http.ResponseWriter, limiter *RateLimiter) {
	retryAfter := fmt.Sprintf("%.0f", limiter.config.WindowDuration.Seconds())
	setRateLimitHeaders(w, limiter.config, 0)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", retryAfter)
	w.WriteHeader(http.StatusTooManyRequests)
	w.Write([]byte(`{"error":"rate limit exceeded","retry_after":` + retryAfter + `}`))
}

// getClientIP prefers proxy-set headers over the socket address.
func getClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return r.RemoteAddr
}

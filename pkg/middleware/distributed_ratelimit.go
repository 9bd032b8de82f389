package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/warden/pkg/identity"
)

// DistributedRateLimiter counts requests in Redis so every instance of
// the service draws from the same budget. It uses a fixed window: one
// counter per key, expiring after the window duration.
type DistributedRateLimiter struct {
	redis  *redis.Client
	config *RateLimitConfig
	prefix string
}

func NewDistributedRateLimiter(redisClient *redis.Client, config *RateLimitConfig, prefix string) *DistributedRateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	if prefix == "" {
		prefix = "warden:ratelimit"
	}
	return &DistributedRateLimiter{
		redis:  redisClient,
		config: config,
		prefix: prefix,
	}
}

func (rl *DistributedRateLimiter) redisKey(key string) string {
	return rl.prefix + ":" + key
}

// Allow records one request for key and reports whether it fits in
// the current window. On Redis failure it reports true alongside the
// error; the caller decides whether to fail open.
func (rl *DistributedRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := rl.redisKey(key)

	// INCR and EXPIRE run in one round trip; EXPIRE on every call is
	// harmless and saves checking whether the key is new.
	pipe := rl.redis.Pipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, rl.config.WindowDuration)
	if _, err := pipe.Exec(ctx); err != nil {
		return true, fmt.Errorf("redis error: %w", err)
	}

	return incr.Val() <= int64(rl.config.RequestsPerWindow), nil
}

// Remaining reports how many requests are left in the current window.
// A missing counter means a fresh window.
func (rl *DistributedRateLimiter) Remaining(ctx context.Context, key string) (int, error) {
	used, err := rl.redis.Get(ctx, rl.redisKey(key)).Int()
	if err == redis.Nil {
		return rl.config.RequestsPerWindow, nil
	}
	if err != nil {
		return 0, err
	}

	left := rl.config.RequestsPerWindow - used
	if left < 0 {
		left = 0
	}
	return left, nil
}

// TTL reports how long until the window for key resets.
func (rl *DistributedRateLimiter) TTL(ctx context.Context, key string) (time.Duration, error) {
	return rl.redis.TTL(ctx, rl.redisKey(key)).Result()
}

// Reset discards the counter for key, restoring its full budget.
func (rl *DistributedRateLimiter) Reset(ctx context.Context, key string) error {
	return rl.redis.Del(ctx, rl.redisKey(key)).Err()
}

// DistributedRateLimitMiddleware enforces shared budgets across
// instances. With fallback enabled a Redis outage lets traffic
// through unlimited; with it disabled requests get 503.
type DistributedRateLimitMiddleware struct {
	redis            *redis.Client
	principalLimiter *DistributedRateLimiter
	anonymousLimiter *DistributedRateLimiter
	fallbackEnabled  bool
}

func NewDistributedRateLimitMiddleware(redisClient *redis.Client) *DistributedRateLimitMiddleware {
	return &DistributedRateLimitMiddleware{
		redis:            redisClient,
		principalLimiter: NewDistributedRateLimiter(redisClient, PerPrincipalRateLimitConfig(), "warden:ratelimit:principal"),
		anonymousLimiter: NewDistributedRateLimiter(redisClient, DefaultRateLimitConfig(), "warden:ratelimit:anon"),
		fallbackEnabled:  true,
	}
}

// SetFallbackEnabled switches between failing open (true) and failing
// closed (false) when Redis is unreachable.
func (m *DistributedRateLimitMiddleware) SetFallbackEnabled(enabled bool) {
	m.fallbackEnabled = enabled
}

// HealthCheck verifies the Redis connection backing the limiter.
func (m *DistributedRateLimitMiddleware) HealthCheck(ctx context.Context) error {
	return m.redis.Ping(ctx).Err()
}

// limiterFor picks the budget and key for the request: per-principal
// for authenticated callers, per-IP for everyone else.
func (m *DistributedRateLimitMiddleware) limiterFor(r *http.Request) (*DistributedRateLimiter, string) {
	if principalID, ok := identity.PrincipalFromContext(r.Context()); ok {
		return m.principalLimiter, "principal:" + strconv.FormatInt(principalID, 10)
	}
	return m.anonymousLimiter, "ip:" + getClientIP(r)
}

// Handler wraps next with distributed rate limiting.
func (m *DistributedRateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		limiter, key := m.limiterFor(r)

		allowed, err := limiter.Allow(ctx, key)
		if err != nil {
			if m.fallbackEnabled {
				next.ServeHTTP(w, r)
			} else {
				http.Error(w, "Service temporarily unavailable", http.StatusServiceUnavailable)
			}
			return
		}

		if !allowed {
			m.rateLimitExceeded(ctx, w, limiter, key)
			return
		}

		remaining, err := limiter.Remaining(ctx, key)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limiter.config.RequestsPerWindow))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		if ttl, err := limiter.TTL(ctx, key); err == nil && ttl > 0 {
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(ttl).Unix(), 10))
		}

		next.ServeHTTP(w, r)
	})
}

func (m *DistributedRateLimitMiddleware) rateLimitExceeded(ctx context.Context, w http.ResponseWriter, limiter *DistributedRateLimiter, key string) {
	retryAfter := limiter.config.WindowDuration
	ttl, err := limiter.TTL(ctx, key)
	if err == nil && ttl > 0 {
		retryAfter = ttl
	}
	seconds := fmt.Sprintf("%.0f", retryAfter.Seconds())

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", seconds)
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limiter.config.RequestsPerWindow))
	w.Header().Set("X-RateLimit-Remaining", "0")
	if ttl > 0 {
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(ttl).Unix(), 10))
	}
	w.WriteHeader(http.StatusTooManyRequests)
	w.Write([]byte(`{"error":"rate limit exceeded","retry_after":` + seconds + `}`))
}

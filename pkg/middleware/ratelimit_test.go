package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/warden/pkg/identity"
)

func TestRateLimiter_Allow(t *testing.T) {
	rl := NewRateLimiter(&RateLimitConfig{
		RequestsPerWindow: 3,
		WindowDuration:    time.Minute,
		BurstSize:         0,
	})

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("key"), "request %d should be allowed", i)
	}
	assert.False(t, rl.Allow("key"), "request over budget should be denied")

	// other keys are independent
	assert.True(t, rl.Allow("other"))
}

func TestRateLimiter_Remaining(t *testing.T) {
	rl := NewRateLimiter(&RateLimitConfig{
		RequestsPerWindow: 5,
		WindowDuration:    time.Minute,
		BurstSize:         0,
	})

	assert.Equal(t, 5, rl.Remaining("key"))
	rl.Allow("key")
	rl.Allow("key")
	assert.Equal(t, 3, rl.Remaining("key"))
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl := NewRateLimiter(&RateLimitConfig{
		RequestsPerWindow: 5,
		WindowDuration:    time.Millisecond,
		BurstSize:         0,
	})
	rl.Allow("stale")
	time.Sleep(5 * time.Millisecond)
	rl.Cleanup()

	rl.mu.RLock()
	_, exists := rl.buckets["stale"]
	rl.mu.RUnlock()
	assert.False(t, exists)
}

func TestRateLimitMiddleware_KeysByPrincipal(t *testing.T) {
	m := NewRateLimitMiddleware()
	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/roles", nil)
	req = req.WithContext(identity.WithPrincipal(req.Context(), 42))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	limit, err := strconv.Atoi(rec.Header().Get("X-RateLimit-Limit"))
	require.NoError(t, err)
	assert.Equal(t, PerPrincipalRateLimitConfig().RequestsPerWindow, limit)
}

func TestRateLimitMiddleware_AnonymousBudget(t *testing.T) {
	m := NewRateLimitMiddleware()
	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	budget := DefaultRateLimitConfig().RequestsPerWindow + DefaultRateLimitConfig().BurstSize
	var lastCode int
	for i := 0; i <= budget; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/roles", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		lastCode = rec.Code
	}
	assert.Equal(t, http.StatusTooManyRequests, lastCode)
}

func TestDistributedRateLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	rl := NewDistributedRateLimiter(client, &RateLimitConfig{
		RequestsPerWindow: 2,
		WindowDuration:    time.Minute,
	}, "test:ratelimit")

	ctx := context.Background()

	allowed, err := rl.Allow(ctx, "principal:1")
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = rl.Allow(ctx, "principal:1")
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = rl.Allow(ctx, "principal:1")
	require.NoError(t, err)
	assert.False(t, allowed)

	remaining, err := rl.Remaining(ctx, "principal:2")
	require.NoError(t, err)
	assert.Equal(t, 2, remaining)

	require.NoError(t, rl.Reset(ctx, "principal:1"))
	allowed, err = rl.Allow(ctx, "principal:1")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestDistributedRateLimitMiddleware_FailsOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	m := NewDistributedRateLimitMiddleware(client)
	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// Kill Redis: requests still pass with fallback enabled.
	mr.Close()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/roles", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	m.SetFallbackEnabled(false)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

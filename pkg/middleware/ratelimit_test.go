package middleware

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticehq/lattice/pkg/observability"
)

func setupRateLimiter(t *testing.T, config *RateLimitConfig) (*RateLimiter, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	return NewRateLimiter(client, config, "ratelimit:test", logger), mr
}

func TestRateLimiter_Allow(t *testing.T) {
	rl, _ := setupRateLimiter(t, &RateLimitConfig{RequestsPerWindow: 3, WindowDuration: 30 * time.Second})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, err := rl.Allow(ctx, "10.0.0.1")
		require.NoError(t, err)
		assert.True(t, allowed, "request %d within the window", i+1)
	}

	allowed, err := rl.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, allowed)

	// Other clients count separately
	allowed, err = rl.Allow(ctx, "10.0.0.2")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestRateLimiter_WindowResets(t *testing.T) {
	rl, mr := setupRateLimiter(t, &RateLimitConfig{RequestsPerWindow: 1, WindowDuration: 30 * time.Second})
	ctx := context.Background()

	allowed, err := rl.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, err = rl.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	require.False(t, allowed)

	mr.FastForward(time.Minute)

	allowed, err = rl.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestRateLimiter_FailsOpen(t *testing.T) {
	rl, mr := setupRateLimiter(t, &RateLimitConfig{RequestsPerWindow: 1, WindowDuration: 30 * time.Second})
	mr.Close()

	allowed, err := rl.Allow(context.Background(), "10.0.0.1")
	assert.Error(t, err)
	assert.True(t, allowed, "redis outage must not refuse traffic")
}

func TestRateLimiter_Handler(t *testing.T) {
	rl, _ := setupRateLimiter(t, &RateLimitConfig{RequestsPerWindow: 2, WindowDuration: 30 * time.Second})

	handler := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	request := func() int {
		r := httptest.NewRequest(http.MethodGet, "/auth/login", nil)
		r.RemoteAddr = "10.0.0.1:50000"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, r)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, request())
	assert.Equal(t, http.StatusOK, request())
	assert.Equal(t, http.StatusTooManyRequests, request())
}

func TestClientKey(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.1:50000"
	assert.Equal(t, "10.0.0.1", clientKey(r))

	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", clientKey(r))
}

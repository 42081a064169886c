package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/latticehq/lattice/pkg/httputil"
	"github.com/latticehq/lattice/pkg/observability"
)

// RateLimitConfig is a fixed window limit
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// LoginRateLimitConfig limits login attempts per client
func LoginRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{RequestsPerWindow: 10, WindowDuration: 30 * time.Second}
}

// AuthRateLimitConfig limits the rest of the auth surface per client
func AuthRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{RequestsPerWindow: 5, WindowDuration: 30 * time.Second}
}

// RateLimiter is a Redis-backed fixed window counter, shared across
// instances. Redis errors fail open: losing rate limiting briefly is
// better than refusing all traffic.
type RateLimiter struct {
	redis  *redis.Client
	config *RateLimitConfig
	prefix string
	logger *observability.Logger
}

// NewRateLimiter creates a distributed rate limiter
func NewRateLimiter(redisClient *redis.Client, config *RateLimitConfig, prefix string, logger *observability.Logger) *RateLimiter {
	return &RateLimiter{redis: redisClient, config: config, prefix: prefix, logger: logger}
}

// Allow counts one request against the key's window
func (rl *RateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := fmt.Sprintf("%s:%s", rl.prefix, key)

	pipe := rl.redis.Pipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, rl.config.WindowDuration)

	if _, err := pipe.Exec(ctx); err != nil {
		return true, fmt.Errorf("redis error: %w", err)
	}

	return incr.Val() <= int64(rl.config.RequestsPerWindow), nil
}

// Handler enforces the limit per client IP
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, err := rl.Allow(r.Context(), clientKey(r))
		if err != nil {
			rl.logger.WithError(err).Warn("rate limiter unavailable, failing open")
		}
		if !allowed {
			httputil.WriteTooManyRequests(w, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		if i := strings.IndexByte(forwarded, ','); i >= 0 {
			return strings.TrimSpace(forwarded[:i])
		}
		return strings.TrimSpace(forwarded)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

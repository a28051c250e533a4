package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/platinummonkey/warden/pkg/httputil"
	"github.com/platinummonkey/warden/pkg/observability"
)

// RedisRateLimiter implements fixed-window rate limiting in Redis so that
// limits are shared across instances. Redis errors fail open.
type RedisRateLimiter struct {
	redis   *redis.Client
	config  RateLimitConfig
	prefix  string
	metrics *observability.Metrics
}

// NewRedisRateLimiter creates a Redis-backed rate limiter. metrics may be nil.
func NewRedisRateLimiter(redisClient *redis.Client, config RateLimitConfig, metrics *observability.Metrics) *RedisRateLimiter {
	config = config.withDefaults()
	return &RedisRateLimiter{
		redis:   redisClient,
		config:  config,
		prefix:  "warden:ratelimit:" + config.Name,
		metrics: metrics,
	}
}

func (rl *RedisRateLimiter) key(key string) string {
	return fmt.Sprintf("%s:%s", rl.prefix, key)
}

// Allow counts a request for key and reports whether it is within the
// window's limit. The window starts with the first request.
func (rl *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := rl.key(key)

	count, err := rl.redis.Incr(ctx, redisKey).Result()
	if err != nil {
		return true, fmt.Errorf("redis error: %w", err)
	}
	if count == 1 {
		if err := rl.redis.Expire(ctx, redisKey, rl.config.Window).Err(); err != nil {
			return true, fmt.Errorf("redis error: %w", err)
		}
	}
	return count <= int64(rl.config.Requests), nil
}

// TTL returns the time until the rate limit window resets
func (rl *RedisRateLimiter) TTL(ctx context.Context, key string) (time.Duration, error) {
	return rl.redis.TTL(ctx, rl.key(key)).Result()
}

// Reset clears the rate limit for a key
func (rl *RedisRateLimiter) Reset(ctx context.Context, key string) error {
	return rl.redis.Del(ctx, rl.key(key)).Err()
}

// Handler wraps an HTTP handler with per-IP distributed rate limiting
func (rl *RedisRateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		key := httputil.ClientIP(r)

		allowed, err := rl.Allow(ctx, key)
		if err != nil {
			observability.FromContext(ctx).
				WithError(err).
				WithField("limiter", rl.config.Name).
				Warn("Rate limiter unavailable, allowing request")
			next.ServeHTTP(w, r)
			return
		}

		if !allowed {
			rl.metrics.RecordRateLimited(rl.config.Name)
			retryAfter := rl.config.Window
			if ttl, err := rl.TTL(ctx, key); err == nil && ttl > 0 {
				retryAfter = ttl
			}
			rateLimitExceeded(w, rl.config, retryAfter)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.config.Requests))
		next.ServeHTTP(w, r)
	})
}

// HealthCheck verifies Redis connectivity for rate limiting
func (rl *RedisRateLimiter) HealthCheck(ctx context.Context) error {
	return rl.redis.Ping(ctx).Err()
}

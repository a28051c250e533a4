package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func requestFrom(ip string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
	req.RemoteAddr = ip + ":12345"
	return req
}

func TestRateLimiter(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	rl := NewRateLimiter(RateLimitConfig{Name: "auth", Requests: 3, Window: time.Hour}, metrics)
	handler := rl.Handler(okHandler())

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, requestFrom("10.0.0.1"))
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i)
		assert.Equal(t, "3", rec.Header().Get("X-RateLimit-Limit"))
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, requestFrom("10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "3600", rec.Header().Get("Retry-After"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, requestFrom("10.0.0.2"))
	assert.Equal(t, http.StatusOK, rec.Code, "other clients are unaffected")

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.RateLimitedTotal.WithLabelValues("auth")))
}

func TestRateLimitConfig_Defaults(t *testing.T) {
	c := RateLimitConfig{}.withDefaults()
	assert.Equal(t, "default", c.Name)
	assert.Equal(t, 10, c.Requests)
	assert.Equal(t, time.Minute, c.Window)
	assert.Equal(t, 10, c.Burst)

	assert.Equal(t, "auth", DefaultAuthRateLimitConfig().Name)
}

func TestRedisRateLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	rl := NewRedisRateLimiter(client, RateLimitConfig{Name: "auth", Requests: 2, Window: time.Minute}, nil)
	handler := rl.Handler(okHandler())
	ctx := context.Background()

	t.Run("fixed window", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, requestFrom("10.0.0.1"))
			require.Equal(t, http.StatusOK, rec.Code)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, requestFrom("10.0.0.1"))
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "60", rec.Header().Get("Retry-After"))

		ttl := mr.TTL("warden:ratelimit:auth:10.0.0.1")
		assert.Equal(t, time.Minute, ttl)

		mr.FastForward(time.Minute + time.Second)
		rec = httptest.NewRecorder()
		handler.ServeHTTP(rec, requestFrom("10.0.0.1"))
		assert.Equal(t, http.StatusOK, rec.Code, "window resets")
	})

	t.Run("reset", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			_, err := rl.Allow(ctx, "reset-me")
			require.NoError(t, err)
		}
		allowed, err := rl.Allow(ctx, "reset-me")
		require.NoError(t, err)
		assert.False(t, allowed)

		require.NoError(t, rl.Reset(ctx, "reset-me"))
		allowed, err = rl.Allow(ctx, "reset-me")
		require.NoError(t, err)
		assert.True(t, allowed)
		assert.NoError(t, rl.HealthCheck(ctx))
	})

	t.Run("fails open", func(t *testing.T) {
		down := miniredis.NewMiniRedis()
		require.NoError(t, down.Start())
		downClient := redis.NewClient(&redis.Options{Addr: down.Addr(), MaxRetries: -1})
		t.Cleanup(func() { _ = downClient.Close() })
		down.Close()

		h := NewRedisRateLimiter(downClient, RateLimitConfig{Requests: 1}, nil).Handler(okHandler())
		for i := 0; i < 3; i++ {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, requestFrom("10.0.0.9"))
			assert.Equal(t, http.StatusOK, rec.Code)
		}
	})
}

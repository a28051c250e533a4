package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/platinummonkey/warden/pkg/httputil"
	"github.com/platinummonkey/warden/pkg/observability"
	"golang.org/x/time/rate"
)

// RateLimitConfig defines rate limiting configuration
type RateLimitConfig struct {
	// Name labels metrics and Redis keys.
	Name string
	// Requests is the number of requests allowed per Window.
	Requests int
	// Window is the time window for rate limiting
	Window time.Duration
	// Burst allows temporary bursts above the rate. Zero means Requests.
	Burst int
	// MaxKeys bounds the number of tracked clients in memory.
	MaxKeys int
}

// DefaultAuthRateLimitConfig returns the limits applied to sign-in,
// registration and password reset endpoints.
func DefaultAuthRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Name:     "auth",
		Requests: 10,
		Window:   time.Minute,
		MaxKeys:  10000,
	}
}

func (c RateLimitConfig) withDefaults() RateLimitConfig {
	if c.Name == "" {
		c.Name = "default"
	}
	if c.Requests <= 0 {
		c.Requests = 10
	}
	if c.Window <= 0 {
		c.Window = time.Minute
	}
	if c.Burst <= 0 {
		c.Burst = c.Requests
	}
	if c.MaxKeys <= 0 {
		c.MaxKeys = 10000
	}
	return c
}

// RateLimiter implements per-client token bucket rate limiting in memory.
// Idle clients are evicted after two windows.
type RateLimiter struct {
	config   RateLimitConfig
	limiters *expirable.LRU[string, *rate.Limiter]
	metrics  *observability.Metrics
}

// NewRateLimiter creates a new rate limiter. metrics may be nil.
func NewRateLimiter(config RateLimitConfig, metrics *observability.Metrics) *RateLimiter {
	config = config.withDefaults()
	return &RateLimiter{
		config:   config,
		limiters: expirable.NewLRU[string, *rate.Limiter](config.MaxKeys, nil, 2*config.Window),
		metrics:  metrics,
	}
}

func (rl *RateLimiter) limiter(key string) *rate.Limiter {
	if l, ok := rl.limiters.Get(key); ok {
		return l
	}
	l := rate.NewLimiter(rate.Every(rl.config.Window/time.Duration(rl.config.Requests)), rl.config.Burst)
	rl.limiters.Add(key, l)
	return l
}

// Allow checks if a request is allowed for the given key
func (rl *RateLimiter) Allow(key string) bool {
	return rl.limiter(key).Allow()
}

// Handler wraps an HTTP handler with per-IP rate limiting
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(httputil.ClientIP(r)) {
			rl.metrics.RecordRateLimited(rl.config.Name)
			rateLimitExceeded(w, rl.config, rl.config.Window)
			return
		}
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.config.Requests))
		next.ServeHTTP(w, r)
	})
}

func rateLimitExceeded(w http.ResponseWriter, config RateLimitConfig, retryAfter time.Duration) {
	w.Header().Set("Retry-After", fmt.Sprintf("%.0f", retryAfter.Seconds()))
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(config.Requests))
	w.Header().Set("X-RateLimit-Remaining", "0")
	httputil.WriteTooManyRequests(w, "Too many requests, please try again later")
}

// Package middleware holds HTTP middleware for the search API.
package middleware

import (
	"context"
	"net/http"
	"sync"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

// RateLimiter tracks a token bucket per client key. Search traffic is
// bursty; the burst allows a short flurry of queries before throttling.
type RateLimiter struct {
	mu     sync.Mutex
	limits map[string]*rate.Limiter

	rps   rate.Limit
	burst int
}

// NewRateLimiter creates a rate limiter allowing rps requests per second
// with the given burst per client.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if rps <= 0 {
		rps = 10
	}
	if burst <= 0 {
		burst = 20
	}
	return &RateLimiter{
		limits: make(map[string]*rate.Limiter),
		rps:    rate.Limit(rps),
		burst:  burst,
	}
}

func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if limiter, ok := rl.limits[key]; ok {
		return limiter
	}
	limiter := rate.NewLimiter(rl.rps, rl.burst)
	rl.limits[key] = limiter
	return limiter
}

// Allow checks if a request is allowed for the given key.
func (rl *RateLimiter) Allow(key string) bool {
	return rl.getLimiter(key).Allow()
}

// Wait blocks until a request is allowed or the context is done.
func (rl *RateLimiter) Wait(ctx context.Context, key string) error {
	return rl.getLimiter(key).Wait(ctx)
}

// RateLimit returns an Echo middleware throttling requests per client IP.
func RateLimit(rl *RateLimiter) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !rl.Allow(c.RealIP()) {
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}

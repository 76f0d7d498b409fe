// Package middleware provides the HTTP middleware shared by the plugins.
// ratelimit.go implements a per-IP token bucket limiter held in memory, used
// on the login endpoint and the token-authenticated preferences page.
package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

// limiterEntry is the bucket of one client IP.
type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimit returns middleware that allows maxRequests per IP within window,
// refilled evenly across the window. Returns 429 when exceeded.
func RateLimit(maxRequests int, window time.Duration) echo.MiddlewareFunc {
	var mu sync.Mutex
	entries := make(map[string]*limiterEntry)
	every := rate.Every(window / time.Duration(maxRequests))

	// Forget idle clients once their bucket would be full again.
	go func() {
		for {
			time.Sleep(time.Minute)
			mu.Lock()
			now := time.Now()
			for ip, entry := range entries {
				if now.Sub(entry.lastSeen) > window*2 {
					delete(entries, ip)
				}
			}
			mu.Unlock()
		}
	}()

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ip := c.RealIP()

			mu.Lock()
			entry, ok := entries[ip]
			if !ok {
				entry = &limiterEntry{limiter: rate.NewLimiter(every, maxRequests)}
				entries[ip] = entry
			}
			entry.lastSeen = time.Now()
			allowed := entry.limiter.Allow()
			mu.Unlock()

			if !allowed {
				return c.JSON(http.StatusTooManyRequests, map[string]string{
					"error":   "too_many_requests",
					"message": "Rate limit exceeded. Please try again later.",
				})
			}
			return next(c)
		}
	}
}

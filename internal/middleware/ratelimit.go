// ratelimit.go implements a per-IP request limiter using fixed-window
// counters held in memory. It guards the credential and code endpoints and
// the predict proxy. The per-identity budgets that survive restarts and span
// replicas live in Redis (see the auth plugin's AttemptLimiter); this layer
// only slows a single address hammering the gateway.

package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/naturerisk/internal/apperror"
)

// rateLimitEntry tracks request counts for a single IP within a time window.
type rateLimitEntry struct {
	count       int
	windowStart time.Time
}

// ipLimiter is a fixed-window per-IP counter held in memory. Counts are
// per process, so behind N replicas an address effectively gets N times the
// budget.
type ipLimiter struct {
	mu          sync.Mutex
	entries     map[string]*rateLimitEntry
	maxRequests int
	window      time.Duration
	now         func() time.Time
}

func newIPLimiter(maxRequests int, window time.Duration) *ipLimiter {
	return &ipLimiter{
		entries:     make(map[string]*rateLimitEntry),
		maxRequests: maxRequests,
		window:      window,
		now:         time.Now,
	}
}

// allow records one request from ip and reports whether it fits the window.
func (l *ipLimiter) allow(ip string) bool {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[ip]
	if !ok || now.Sub(entry.windowStart) > l.window {
		l.entries[ip] = &rateLimitEntry{count: 1, windowStart: now}
		return true
	}

	entry.count++
	return entry.count <= l.maxRequests
}

// sweep drops entries whose window ended long ago. Without it, every address
// that ever hit a limited route would stay in the map for the process
// lifetime.
func (l *ipLimiter) sweep() {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	for ip, entry := range l.entries {
		if now.Sub(entry.windowStart) > l.window*2 {
			delete(l.entries, ip)
		}
	}
}

// RateLimit returns middleware that limits requests per IP to maxRequests
// within the given window. Exceeding requests get a 429 AppError rendered by
// the JSON error handler, the same body the per-identity lockout produces.
//
// The client address comes from c.RealIP(), so TrustedProxies must be
// configured or every request behind the proxy shares one budget.
func RateLimit(maxRequests int, window time.Duration) echo.MiddlewareFunc {
	limiter := newIPLimiter(maxRequests, window)

	// Background cleanup of expired entries every minute. One goroutine per
	// limited route, living as long as the server.
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			limiter.sweep()
		}
	}()

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !limiter.allow(c.RealIP()) {
				return &apperror.AppError{
					Code:    http.StatusTooManyRequests,
					Type:    apperror.TypeTooManyAttempts,
					Message: "Rate limit exceeded. Please try again later.",
				}
			}
			return next(c)
		}
	}
}

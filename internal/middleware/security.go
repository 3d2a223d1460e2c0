package middleware

import (
	"github.com/labstack/echo/v4"
)

// SecurityHeaders returns middleware that sets security-related HTTP headers
// on every response. They still protect a browser client when an
// application-level bug slips through.
//
// The gateway serves JSON only and normally runs behind a reverse proxy that
// terminates TLS, so these headers are the application-layer half of the
// defense.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()

			// Content-Security-Policy: no response is ever a document, so the
			// browser may load nothing from it and may not frame it.
			h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")

			// Strict-Transport-Security: HTTPS for 1 year including subdomains.
			// Bearer tokens travel in a header and must never cross plain HTTP.
			h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")

			// X-Content-Type-Options: stop browsers from sniffing a JSON error
			// body into something executable.
			h.Set("X-Content-Type-Options", "nosniff")

			// X-Frame-Options: same as frame-ancestors for browsers that
			// predate CSP.
			h.Set("X-Frame-Options", "DENY")

			// Referrer-Policy: an otpauth URL or token in a query string must
			// not leak to another site.
			h.Set("Referrer-Policy", "no-referrer")

			// Cache-Control: tokens and TOTP secrets must never land in a
			// shared or browser cache.
			h.Set("Cache-Control", "no-store")

			return next(c)
		}
	}
}

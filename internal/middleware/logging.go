// Package middleware provides HTTP middleware for the Nature Risk Echo
// server. Middleware is applied globally or per route depending on the
// type. See internal/app for registration order.
package middleware

import (
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
)

// ContextKeyUserID is where the auth middleware leaves the caller's
// identity id. The request logger reads it so log lines can be tied to an
// account without ever touching the bearer token.
const ContextKeyUserID = "auth_user_id"

// quietPaths are polled by orchestrators and logged at debug level only.
var quietPaths = map[string]bool{"/healthz": true}

// RequestLogger logs one line per request once the response is written.
// The Authorization header and request bodies (passwords, TOTP codes) are
// never logged.
func RequestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			// Render the error now so the logged status matches the wire.
			if err := next(c); err != nil {
				c.Error(err)
			}

			req, res := c.Request(), c.Response()
			attrs := []slog.Attr{
				slog.String("method", req.Method),
				slog.String("path", req.URL.Path),
				slog.Int("status", res.Status),
				slog.Duration("latency", time.Since(start)),
				slog.String("remote_ip", c.RealIP()),
			}
			if id := res.Header().Get(echo.HeaderXRequestID); id != "" {
				attrs = append(attrs, slog.String("request_id", id))
			}
			if uid, ok := c.Get(ContextKeyUserID).(string); ok && uid != "" {
				attrs = append(attrs, slog.String("user_id", uid))
			}

			slog.LogAttrs(req.Context(), requestLevel(req.URL.Path, res.Status), "request", attrs...)
			return nil
		}
	}
}

func requestLevel(path string, status int) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	case quietPaths[path]:
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/naturerisk/internal/apperror"
)

// Recovery converts a handler panic into a 500 AppError so the JSON error
// handler answers the client and the process keeps serving.
func Recovery() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				if r == http.ErrAbortHandler {
					panic(r)
				}
				req := c.Request()
				slog.ErrorContext(req.Context(), "handler panicked",
					slog.Any("panic", r),
					slog.String("method", req.Method),
					slog.String("path", req.URL.Path),
					slog.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
					slog.String("stack", string(debug.Stack())),
				)
				err = apperror.NewInternal(fmt.Errorf("panic in %s %s: %v", req.Method, req.URL.Path, r))
			}()
			return next(c)
		}
	}
}

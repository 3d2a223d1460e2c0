package auth

import (
	"time"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/naturerisk/internal/middleware"
)

// RegisterRoutes sets up the 2FA protocol routes. Protected routes read the
// bearer token themselves so the service receives it explicitly.
//
// Credential and code submission are rate-limited per IP on top of the
// per-identity attempt counters in the service.
func RegisterRoutes(e *echo.Echo, h *Handler, devRoutes bool) {
	e.POST("/register", h.Register, middleware.RateLimit(5, time.Minute))
	e.POST("/login", h.Login, middleware.RateLimit(10, time.Minute))
	e.GET("/get_totp_secret", h.GetTOTPSecret)
	e.POST("/verify_2fa", h.Verify2FA, middleware.RateLimit(10, time.Minute))
	e.GET("/session", h.SessionInfo)

	if devRoutes {
		e.GET("/generate_2fa_code", h.GenerateCode)
	}
}

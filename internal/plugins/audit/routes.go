package audit

import (
	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/naturerisk/internal/plugins/auth"
)

// RegisterRoutes sets up the security event routes. Only 2FA-verified
// sessions may read their history.
func RegisterRoutes(e *echo.Echo, h *Handler, authSvc auth.AuthService) {
	g := e.Group("/api/security", auth.RequireVerified(authSvc))
	g.GET("/events", h.Events)
}

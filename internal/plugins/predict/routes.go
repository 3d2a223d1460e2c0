package predict

import (
	"time"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/naturerisk/internal/middleware"
	"github.com/keyxmakerx/naturerisk/internal/plugins/auth"
)

// RegisterRoutes mounts POST /api/predict behind 2FA verification.
func RegisterRoutes(e *echo.Echo, h *Handler, authSvc auth.AuthService) {
	g := e.Group("/api", auth.RequireVerified(authSvc))
	g.POST("/predict", h.Predict, middleware.RateLimit(60, time.Minute))
}

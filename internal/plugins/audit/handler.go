package audit

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/naturerisk/internal/plugins/auth"
)

// Handler handles HTTP requests for the security event log.
type Handler struct {
	service AuditService
}

// NewHandler creates a new audit handler.
func NewHandler(service AuditService) *Handler {
	return &Handler{service: service}
}

// Events lists the caller's own security events
// (GET /api/security/events?page=N).
func (h *Handler) Events(c echo.Context) error {
	page, _ := strconv.Atoi(c.QueryParam("page"))

	result, err := h.service.ListForUser(c.Request().Context(), auth.GetUserID(c), page)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, result)
}

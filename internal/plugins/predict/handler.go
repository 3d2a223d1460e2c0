package predict

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/naturerisk/internal/apperror"
	"github.com/keyxmakerx/naturerisk/internal/plugins/auth"
)

// Handler handles the prediction endpoint.
type Handler struct {
	service PredictService
}

// NewHandler creates a new predict handler.
func NewHandler(service PredictService) *Handler {
	return &Handler{service: service}
}

// Predict returns the drought risk for the posted readings (POST /api/predict).
func (h *Handler) Predict(c echo.Context) error {
	var req PredictRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	p, err := h.service.Predict(c.Request().Context(), auth.GetUserID(c), req)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, p)
}

package auth

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/naturerisk/internal/apperror"
)

// Handler handles the JSON endpoints of the 2FA protocol. Handlers are thin:
// they bind the request, pass the raw bearer token to the service, and
// encode the response. Errors propagate to the app error handler.
type Handler struct {
	service AuthService
}

// NewHandler creates a new auth handler with the given service.
func NewHandler(service AuthService) *Handler {
	return &Handler{service: service}
}

type tokenResponse struct {
	Message   string    `json:"message,omitempty"`
	Token     string    `json:"token"`
	Scope     Scope     `json:"scope"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Register creates an identity (POST /register).
func (h *Handler) Register(c echo.Context) error {
	var req RegisterRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	user, err := h.service.Register(c.Request().Context(), RegisterInput{
		Username:  req.Username,
		Email:     req.Email,
		Password:  req.Password,
		IPAddress: c.RealIP(),
		UserAgent: c.Request().UserAgent(),
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, map[string]string{
		"message": "User registered successfully!",
		"user_id": user.ID,
	})
}

// Login exchanges email and password for a password-scope token (POST /login).
func (h *Handler) Login(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	issued, err := h.service.Login(c.Request().Context(), LoginInput{
		Email:     req.Email,
		Password:  req.Password,
		IPAddress: c.RealIP(),
		UserAgent: c.Request().UserAgent(),
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, tokenResponse{
		Token:     issued.Token,
		Scope:     issued.Scope,
		ExpiresAt: issued.ExpiresAt,
	})
}

// GetTOTPSecret returns the caller's TOTP secret, issuing it on first use
// (GET /get_totp_secret).
func (h *Handler) GetTOTPSecret(c echo.Context) error {
	provision, err := h.service.GetOrCreateTOTPSecret(c.Request().Context(), bearerToken(c))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]string{
		"totp_secret": provision.Secret,
		"otpauth_url": provision.URL,
	})
}

// Verify2FA checks a TOTP code and returns a 2fa-scope token (POST /verify_2fa).
func (h *Handler) Verify2FA(c echo.Context) error {
	var req VerifyRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	issued, err := h.service.VerifyTOTP(c.Request().Context(), VerifyInput{
		Token:     bearerToken(c),
		Code:      req.TOTPCode,
		IPAddress: c.RealIP(),
		UserAgent: c.Request().UserAgent(),
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, tokenResponse{
		Message:   "2FA verification successful!",
		Token:     issued.Token,
		Scope:     issued.Scope,
		ExpiresAt: issued.ExpiresAt,
	})
}

// GenerateCode returns the current TOTP code for the caller
// (GET /generate_2fa_code). Registered in development only.
func (h *Handler) GenerateCode(c echo.Context) error {
	code, err := h.service.CurrentTOTPCode(c.Request().Context(), bearerToken(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"totp_code": code})
}

// SessionInfo describes the caller's token and protocol state (GET /session).
func (h *Handler) SessionInfo(c echo.Context) error {
	token := bearerToken(c)
	ctx := c.Request().Context()

	state, err := h.service.SessionState(ctx, token)
	if err != nil {
		return err
	}
	session, err := h.service.ValidateToken(ctx, token)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]any{
		"user_id":    session.UserID,
		"scope":      session.Scope,
		"state":      state,
		"expires_at": session.ExpiresAt,
	})
}

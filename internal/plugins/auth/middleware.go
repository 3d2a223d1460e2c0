package auth

import (
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/naturerisk/internal/apperror"
	"github.com/keyxmakerx/naturerisk/internal/middleware"
)

// Context keys for storing session data in Echo context. Other plugins
// read them through GetSession and GetUserID.
const (
	contextKeySession = "auth_session"
	contextKeyUserID  = middleware.ContextKeyUserID
)

// RequireToken returns middleware that accepts any valid bearer token,
// whatever its scope, and stores the session in the Echo context.
func RequireToken(service AuthService) echo.MiddlewareFunc {
	return requireSession(service, false)
}

// RequireVerified returns middleware that only admits tokens issued after
// TOTP verification. Password-stage tokens get 403.
func RequireVerified(service AuthService) echo.MiddlewareFunc {
	return requireSession(service, true)
}

func requireSession(service AuthService, verified bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			session, err := service.ValidateToken(c.Request().Context(), bearerToken(c))
			if err != nil {
				return err
			}
			if verified && !session.Verified() {
				return apperror.NewForbidden("Two-factor verification required")
			}

			c.Set(contextKeySession, session)
			c.Set(contextKeyUserID, session.UserID)
			return next(c)
		}
	}
}

// GetSession returns the session stored by the auth middleware, or nil.
func GetSession(c echo.Context) *Session {
	session, _ := c.Get(contextKeySession).(*Session)
	return session
}

// GetUserID returns the authenticated user's ID, or "" outside auth middleware.
func GetUserID(c echo.Context) string {
	id, _ := c.Get(contextKeyUserID).(string)
	return id
}

// bearerToken extracts the token from "Authorization: Bearer <token>".
// The scheme is matched case-insensitively.
func bearerToken(c echo.Context) string {
	header := c.Request().Header.Get(echo.HeaderAuthorization)
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

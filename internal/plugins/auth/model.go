// Package auth implements the two-factor session protocol of the Nature Risk
// gateway: credential login, per-identity TOTP secret issuance, and TOTP
// verification that upgrades a password-stage token to a 2FA-verified one.
//
// Tokens are stateless HS256 JWTs. Nothing about a session is stored
// server-side except the identity itself and short-lived failed-attempt
// counters in Redis.
package auth

import (
	"time"
)

// User is a registered identity.
type User struct {
	ID           string     `json:"id"`
	Username     string     `json:"username"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"` // Never expose in JSON responses.
	TOTPSecret   *string    `json:"-"` // Nil until first issuance. Never expose.
	CreatedAt    time.Time  `json:"created_at"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
}

// HasTOTPSecret reports whether a secret was already issued for the user.
func (u *User) HasTOTPSecret() bool {
	return u.TOTPSecret != nil && *u.TOTPSecret != ""
}

// Scope is the privilege level carried by a session token.
type Scope string

const (
	// ScopePassword is granted by a successful email/password login.
	ScopePassword Scope = "password"

	// ScopeTwoFactor is granted once a TOTP code has been verified.
	ScopeTwoFactor Scope = "2fa"
)

// Valid reports whether s is a scope this service issues.
func (s Scope) Valid() bool {
	return s == ScopePassword || s == ScopeTwoFactor
}

// SessionState is the position of a session in the login protocol.
type SessionState string

const (
	StateUnauthenticated   SessionState = "unauthenticated"
	StateAuthenticated     SessionState = "authenticated"
	StateSecretIssued      SessionState = "secret_issued"
	StateTwoFactorVerified SessionState = "two_factor_verified"
)

// Session is the validated content of a bearer token.
type Session struct {
	TokenID   string    `json:"token_id"`
	UserID    string    `json:"user_id"`
	Scope     Scope     `json:"scope"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Verified reports whether the session completed TOTP verification.
func (s *Session) Verified() bool {
	return s.Scope == ScopeTwoFactor
}

// IssuedToken is a freshly signed bearer token.
type IssuedToken struct {
	Token     string
	Scope     Scope
	ExpiresAt time.Time
}

// TOTPProvision is what a client needs to enrol an authenticator app.
type TOTPProvision struct {
	Secret string
	URL    string
}

// --- Request DTOs (bound from HTTP requests) ---

// RegisterRequest is the body of POST /register.
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginRequest is the body of POST /login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// VerifyRequest is the body of POST /verify_2fa.
type VerifyRequest struct {
	TOTPCode string `json:"totp_code"`
}

// --- Service Input DTOs (passed from handler to service) ---

// RegisterInput is the input for creating a new identity.
type RegisterInput struct {
	Username  string
	Email     string
	Password  string
	IPAddress string
	UserAgent string
}

// LoginInput is the input for authenticating with email and password.
type LoginInput struct {
	Email     string
	Password  string
	IPAddress string
	UserAgent string
}

// VerifyInput is the input for TOTP verification. Token is the raw bearer
// token presented by the caller.
type VerifyInput struct {
	Token     string
	Code      string
	IPAddress string
	UserAgent string
}

package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/keyxmakerx/naturerisk/internal/apperror"
	"github.com/keyxmakerx/naturerisk/internal/sanitize"
)

// AuthService defines the business logic contract for the 2FA session
// protocol. Every protected operation takes the caller's bearer token
// explicitly; nothing is read from ambient state.
type AuthService interface {
	// Register creates a new identity. No TOTP secret is issued yet.
	Register(ctx context.Context, input RegisterInput) (*User, error)

	// Login verifies email and password and issues a password-scope token.
	Login(ctx context.Context, input LoginInput) (*IssuedToken, error)

	// ValidateToken checks signature and expiry of a bearer token.
	ValidateToken(ctx context.Context, token string) (*Session, error)

	// GetOrCreateTOTPSecret returns the identity's TOTP secret, issuing it on
	// the first call. Repeat calls return the same secret.
	GetOrCreateTOTPSecret(ctx context.Context, token string) (*TOTPProvision, error)

	// VerifyTOTP checks a six-digit code and on success issues a 2fa-scope token.
	VerifyTOTP(ctx context.Context, input VerifyInput) (*IssuedToken, error)

	// CurrentTOTPCode returns the code valid right now. Development aid only.
	CurrentTOTPCode(ctx context.Context, token string) (string, error)

	// SessionState reports where the token's session stands in the protocol.
	SessionState(ctx context.Context, token string) (SessionState, error)
}

// Options tunes token lifetimes, TOTP behaviour and attempt limits.
type Options struct {
	TokenTTL         time.Duration
	VerifiedTokenTTL time.Duration
	TOTPIssuer       string
	TOTPSkew         uint
	LoginLimiter     AttemptLimiter
	TOTPLimiter      AttemptLimiter
	Events           EventRecorder
}

// authService implements AuthService.
type authService struct {
	repo         UserRepository
	tokens       *TokenIssuer
	tokenTTL     time.Duration
	verifiedTTL  time.Duration
	issuer       string
	skew         uint
	loginLimiter AttemptLimiter
	totpLimiter  AttemptLimiter
	events       EventRecorder
	now          func() time.Time
}

// NewAuthService creates the auth service. Nil limiters and recorder are
// replaced by no-ops.
func NewAuthService(repo UserRepository, tokens *TokenIssuer, opts Options) AuthService {
	return newAuthService(repo, tokens, opts)
}

func newAuthService(repo UserRepository, tokens *TokenIssuer, opts Options) *authService {
	s := &authService{
		repo:         repo,
		tokens:       tokens,
		tokenTTL:     opts.TokenTTL,
		verifiedTTL:  opts.VerifiedTokenTTL,
		issuer:       opts.TOTPIssuer,
		skew:         opts.TOTPSkew,
		loginLimiter: opts.LoginLimiter,
		totpLimiter:  opts.TOTPLimiter,
		events:       opts.Events,
		now:          time.Now,
	}
	if s.loginLimiter == nil {
		s.loginLimiter = noopLimiter{}
	}
	if s.totpLimiter == nil {
		s.totpLimiter = noopLimiter{}
	}
	if s.events == nil {
		s.events = noopRecorder{}
	}
	if s.issuer == "" {
		s.issuer = "Nature Risk"
	}
	return s
}

// Register validates input, hashes the password with argon2id and persists
// the identity.
func (s *authService) Register(ctx context.Context, input RegisterInput) (*User, error) {
	username := sanitize.Text(input.Username)
	email := normalizeEmail(input.Email)

	if username == "" || email == "" || input.Password == "" {
		return nil, apperror.NewBadRequest("Username, email, and password are required")
	}
	if !validEmail(email) {
		return nil, apperror.NewValidation("email address is not valid")
	}
	if len(username) > 100 {
		return nil, apperror.NewValidation("username must be at most 100 characters")
	}
	if len(input.Password) < 8 || len(input.Password) > 128 {
		return nil, apperror.NewValidation("password must be between 8 and 128 characters")
	}

	// Check before hashing; the unique key still catches a racing insert.
	exists, err := s.repo.EmailExists(ctx, email)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("checking email: %w", err))
	}
	if exists {
		return nil, apperror.NewConflict("an account with this email already exists")
	}

	hash, err := hashPassword(input.Password)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("hashing password: %w", err))
	}

	user := &User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    s.now().UTC(),
	}

	if err := s.repo.Create(ctx, user); err != nil {
		if apperror.IsType(err, apperror.TypeConflict) {
			return nil, err
		}
		return nil, apperror.NewInternal(fmt.Errorf("creating user: %w", err))
	}

	s.events.RecordEvent(ctx, EventRegistered, user.ID, user.Email, input.IPAddress, input.UserAgent, nil)
	slog.Info("user registered",
		slog.String("user_id", user.ID),
		slog.String("email", user.Email),
	)

	return user, nil
}

// Login authenticates by email and password. Unknown email and wrong
// password produce the same error after the same amount of hashing work.
func (s *authService) Login(ctx context.Context, input LoginInput) (*IssuedToken, error) {
	email := normalizeEmail(input.Email)
	if email == "" || input.Password == "" {
		return nil, apperror.NewBadRequest("Email and password are required")
	}
	if !validEmail(email) {
		return nil, apperror.NewBadRequest("Email address is not valid")
	}

	// The attempt is counted before the password is checked; success
	// clears it again.
	if !s.loginLimiter.Reserve(ctx, email) {
		s.events.RecordEvent(ctx, EventLoginLocked, "", email, input.IPAddress, input.UserAgent, nil)
		return nil, apperror.NewTooManyAttempts()
	}

	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil && !apperror.IsType(err, apperror.TypeNotFound) {
		return nil, apperror.NewInternal(fmt.Errorf("finding user: %w", err))
	}

	if user == nil {
		verifyPassword(input.Password, dummyHash())
		return nil, s.failLogin(ctx, "", input, "unknown_email")
	}
	if !verifyPassword(input.Password, user.PasswordHash) {
		return nil, s.failLogin(ctx, user.ID, input, "invalid_password")
	}

	s.loginLimiter.Reset(ctx, email)

	issued, err := s.tokens.Issue(user.ID, ScopePassword, s.tokenTTL)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("issuing token: %w", err))
	}

	if needsRehash(user.PasswordHash) {
		s.upgradeHash(ctx, user.ID, input.Password)
	}

	// Non-critical bookkeeping.
	if err := s.repo.UpdateLastLogin(ctx, user.ID); err != nil {
		slog.Warn("failed to update last login",
			slog.String("user_id", user.ID),
			slog.Any("error", err),
		)
	}

	s.events.RecordEvent(ctx, EventLoginSuccess, user.ID, email, input.IPAddress, input.UserAgent, nil)
	slog.Info("user logged in", slog.String("user_id", user.ID))

	return issued, nil
}

// upgradeHash re-hashes a legacy password with argon2id. Failures are logged
// and the old hash keeps working.
func (s *authService) upgradeHash(ctx context.Context, userID, password string) {
	hash, err := hashPassword(password)
	if err == nil {
		err = s.repo.UpdatePasswordHash(ctx, userID, hash)
	}
	if err != nil {
		slog.Warn("failed to upgrade password hash",
			slog.String("user_id", userID),
			slog.Any("error", err),
		)
		return
	}
	slog.Info("upgraded legacy password hash", slog.String("user_id", userID))
}

func (s *authService) failLogin(ctx context.Context, userID string, input LoginInput, reason string) error {
	email := normalizeEmail(input.Email)
	s.events.RecordEvent(ctx, EventLoginFailed, userID, email, input.IPAddress, input.UserAgent,
		map[string]any{"reason": reason})
	return apperror.NewInvalidCredentials()
}

// ValidateToken is pure computation: signature plus expiry.
func (s *authService) ValidateToken(_ context.Context, token string) (*Session, error) {
	return s.tokens.Parse(token)
}

// GetOrCreateTOTPSecret returns the stored secret or issues one. The first
// write is conditional, so concurrent first calls all observe one secret.
func (s *authService) GetOrCreateTOTPSecret(ctx context.Context, token string) (*TOTPProvision, error) {
	session, err := s.tokens.Parse(token)
	if err != nil {
		return nil, err
	}

	user, err := s.loadSessionUser(ctx, session)
	if err != nil {
		return nil, err
	}

	if !user.HasTOTPSecret() {
		secret, err := generateTOTPSecret(s.issuer, user.Email)
		if err != nil {
			return nil, apperror.NewInternal(err)
		}

		stored, err := s.repo.SetTOTPSecretIfEmpty(ctx, user.ID, secret)
		if err != nil {
			return nil, apperror.NewInternal(err)
		}

		if stored {
			user.TOTPSecret = &secret
			s.events.RecordEvent(ctx, EventSecretIssued, user.ID, user.Email, "", "", nil)
			slog.Info("totp secret issued", slog.String("user_id", user.ID))
		} else {
			// Lost the race; read back the winner.
			if user, err = s.loadSessionUser(ctx, session); err != nil {
				return nil, err
			}
			if !user.HasTOTPSecret() {
				return nil, apperror.NewInternal(fmt.Errorf("totp secret missing after conditional write for %s", user.ID))
			}
		}
	}

	url, err := provisioningURL(s.issuer, user.Email, *user.TOTPSecret)
	if err != nil {
		return nil, apperror.NewInternal(err)
	}

	return &TOTPProvision{Secret: *user.TOTPSecret, URL: url}, nil
}

// VerifyTOTP checks the code format first, then the token, then the code.
// A wrong code is retryable until the identity's attempt budget is spent.
// The attempt is reserved before the code is compared, so parallel guesses
// beyond the budget are refused without being checked.
func (s *authService) VerifyTOTP(ctx context.Context, input VerifyInput) (*IssuedToken, error) {
	if !validCodeFormat(input.Code) {
		return nil, apperror.NewInvalidFormat("TOTP code must be exactly six digits")
	}

	session, err := s.tokens.Parse(input.Token)
	if err != nil {
		return nil, err
	}

	user, err := s.loadSessionUser(ctx, session)
	if err != nil {
		return nil, err
	}
	if !user.HasTOTPSecret() {
		return nil, apperror.NewNoSecretProvisioned()
	}

	if !s.totpLimiter.Reserve(ctx, user.ID) {
		s.events.RecordEvent(ctx, EventTwoFactorLocked, user.ID, user.Email, input.IPAddress, input.UserAgent, nil)
		return nil, apperror.NewTooManyAttempts()
	}

	ok, err := validateTOTP(input.Code, *user.TOTPSecret, s.now(), s.skew)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("validating totp code: %w", err))
	}
	if !ok {
		s.events.RecordEvent(ctx, EventTwoFactorFailed, user.ID, user.Email, input.IPAddress, input.UserAgent, nil)
		return nil, apperror.NewInvalidCode()
	}

	s.totpLimiter.Reset(ctx, user.ID)

	issued, err := s.tokens.Issue(user.ID, ScopeTwoFactor, s.verifiedTTL)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("issuing verified token: %w", err))
	}

	s.events.RecordEvent(ctx, EventTwoFactorPassed, user.ID, user.Email, input.IPAddress, input.UserAgent, nil)
	slog.Info("2fa verified", slog.String("user_id", user.ID))

	return issued, nil
}

// CurrentTOTPCode returns the code for the caller's secret at this moment.
func (s *authService) CurrentTOTPCode(ctx context.Context, token string) (string, error) {
	session, err := s.tokens.Parse(token)
	if err != nil {
		return "", err
	}
	user, err := s.loadSessionUser(ctx, session)
	if err != nil {
		return "", err
	}
	if !user.HasTOTPSecret() {
		return "", apperror.NewNoSecretProvisioned()
	}

	code, err := generateTOTPCode(*user.TOTPSecret, s.now())
	if err != nil {
		return "", apperror.NewInternal(fmt.Errorf("generating totp code: %w", err))
	}
	slog.Debug("generated totp code", slog.String("user_id", user.ID))
	return code, nil
}

// SessionState maps a token to its protocol state. Invalid or expired
// tokens are Unauthenticated and the validation error is returned too.
func (s *authService) SessionState(ctx context.Context, token string) (SessionState, error) {
	session, err := s.tokens.Parse(token)
	if err != nil {
		return StateUnauthenticated, err
	}
	if session.Verified() {
		return StateTwoFactorVerified, nil
	}

	user, err := s.loadSessionUser(ctx, session)
	if err != nil {
		return StateUnauthenticated, err
	}
	if user.HasTOTPSecret() {
		return StateSecretIssued, nil
	}
	return StateAuthenticated, nil
}

// loadSessionUser resolves the token subject. A deleted identity makes the
// token unusable.
func (s *authService) loadSessionUser(ctx context.Context, session *Session) (*User, error) {
	user, err := s.repo.FindByID(ctx, session.UserID)
	if err != nil {
		if apperror.IsType(err, apperror.TypeNotFound) {
			return nil, apperror.NewUnauthorized("Account no longer exists")
		}
		return nil, apperror.NewInternal(fmt.Errorf("finding user: %w", err))
	}
	return user, nil
}

// --- Helpers ---

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// validEmail accepts a bare address only, no display name.
func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}

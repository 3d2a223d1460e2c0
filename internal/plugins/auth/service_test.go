package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"

	"github.com/keyxmakerx/naturerisk/internal/apperror"
)

// --- Mock Repository ---

// mockUserRepo implements UserRepository for testing. Unset fns fall back to
// an in-memory store so flows that span several calls keep their state.
type mockUserRepo struct {
	createFn          func(ctx context.Context, user *User) error
	findByIDFn        func(ctx context.Context, id string) (*User, error)
	findByEmailFn     func(ctx context.Context, email string) (*User, error)
	emailExistsFn     func(ctx context.Context, email string) (bool, error)
	updateLastLoginFn func(ctx context.Context, id string) error
	updateHashFn      func(ctx context.Context, id, hash string) error
	setTOTPSecretFn   func(ctx context.Context, id, secret string) (bool, error)

	mu    sync.Mutex
	users map[string]*User
	// secretWrites counts conditional writes that actually stored a value.
	secretWrites int
}

func newMockUserRepo() *mockUserRepo {
	return &mockUserRepo{users: make(map[string]*User)}
}

func cloneUser(u *User) *User {
	c := *u
	if u.TOTPSecret != nil {
		s := *u.TOTPSecret
		c.TOTPSecret = &s
	}
	return &c
}

func (m *mockUserRepo) Create(ctx context.Context, user *User) error {
	if m.createFn != nil {
		return m.createFn(ctx, user)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == user.Email {
			return apperror.NewConflict("an account with this email already exists")
		}
	}
	m.users[user.ID] = cloneUser(user)
	return nil
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		return cloneUser(u), nil
	}
	return nil, apperror.NewNotFound("user not found")
}

func (m *mockUserRepo) FindByEmail(ctx context.Context, email string) (*User, error) {
	if m.findByEmailFn != nil {
		return m.findByEmailFn(ctx, email)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return cloneUser(u), nil
		}
	}
	return nil, apperror.NewNotFound("user not found")
}

func (m *mockUserRepo) EmailExists(ctx context.Context, email string) (bool, error) {
	if m.emailExistsFn != nil {
		return m.emailExistsFn(ctx, email)
	}
	_, err := m.FindByEmail(ctx, email)
	return err == nil, nil
}

func (m *mockUserRepo) UpdateLastLogin(ctx context.Context, id string) error {
	if m.updateLastLoginFn != nil {
		return m.updateLastLoginFn(ctx, id)
	}
	return nil
}

func (m *mockUserRepo) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	if m.updateHashFn != nil {
		return m.updateHashFn(ctx, id, hash)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return apperror.NewNotFound("user not found")
	}
	u.PasswordHash = hash
	return nil
}

func (m *mockUserRepo) SetTOTPSecretIfEmpty(ctx context.Context, id, secret string) (bool, error) {
	if m.setTOTPSecretFn != nil {
		return m.setTOTPSecretFn(ctx, id, secret)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok || u.HasTOTPSecret() {
		return false, nil
	}
	u.TOTPSecret = &secret
	m.secretWrites++
	return true, nil
}

// --- Mock Event Recorder ---

type recordedEvent struct {
	eventType string
	userID    string
	email     string
}

type mockRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (m *mockRecorder) RecordEvent(_ context.Context, eventType, userID, email, _, _ string, _ map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, recordedEvent{eventType: eventType, userID: userID, email: email})
}

func (m *mockRecorder) has(eventType string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.events {
		if e.eventType == eventType {
			return true
		}
	}
	return false
}

// --- Test Helpers ---

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// newTestAuthService creates an authService with a pinned clock on both the
// service and its token issuer.
func newTestAuthService(repo UserRepository, opts Options) *authService {
	if opts.TokenTTL == 0 {
		opts.TokenTTL = time.Hour
	}
	if opts.VerifiedTokenTTL == 0 {
		opts.VerifiedTokenTTL = time.Hour
	}
	if opts.TOTPSkew == 0 {
		opts.TOTPSkew = 1
	}
	tokens := NewTokenIssuer([]byte("test-secret-key-of-at-least-32-bytes!"))
	svc := newAuthService(repo, tokens, opts)
	svc.setClock(testNow)
	return svc
}

func (s *authService) setClock(t time.Time) {
	s.now = func() time.Time { return t }
	s.tokens.now = func() time.Time { return t }
}

// seedUser stores a user with the given password and returns it.
func seedUser(t *testing.T, repo *mockUserRepo, email, password string) *User {
	t.Helper()
	hash, err := hashPassword(password)
	if err != nil {
		t.Fatalf("hashing password: %v", err)
	}
	u := &User{ID: "user-" + email, Username: "tester", Email: email, PasswordHash: hash, CreatedAt: testNow}
	if err := repo.Create(context.Background(), u); err != nil {
		t.Fatalf("seeding user: %v", err)
	}
	return u
}

func login(t *testing.T, svc *authService, email, password string) string {
	t.Helper()
	issued, err := svc.Login(context.Background(), LoginInput{Email: email, Password: password})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	return issued.Token
}

// assertAppError checks that err is an *apperror.AppError with the expected code.
func assertAppError(t *testing.T, err error, expectedCode int) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error with code %d, got nil", expectedCode)
	}
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *apperror.AppError, got %T: %v", err, err)
	}
	if appErr.Code != expectedCode {
		t.Errorf("expected status %d, got %d (message: %s)", expectedCode, appErr.Code, appErr.Message)
	}
}

// assertAppErrorType checks the error kind rather than the status code.
func assertAppErrorType(t *testing.T, err error, expectedType string) {
	t.Helper()
	if !apperror.IsType(err, expectedType) {
		t.Fatalf("expected error type %q, got %v", expectedType, err)
	}
}

// --- Register Tests ---

func TestRegister_Success(t *testing.T) {
	repo := newMockUserRepo()
	events := &mockRecorder{}
	svc := newTestAuthService(repo, Options{Events: events})

	user, err := svc.Register(context.Background(), RegisterInput{
		Username: "alice",
		Email:    "  Alice@Example.COM ",
		Password: "correct horse",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user.Email != "alice@example.com" {
		t.Errorf("expected normalized email, got %q", user.Email)
	}
	if user.HasTOTPSecret() {
		t.Error("registration must not issue a TOTP secret")
	}
	if !verifyPassword("correct horse", user.PasswordHash) {
		t.Error("stored hash does not verify")
	}
	if !events.has(EventRegistered) {
		t.Error("expected register event")
	}
}

func TestRegister_Validation(t *testing.T) {
	svc := newTestAuthService(newMockUserRepo(), Options{})

	cases := []struct {
		name  string
		input RegisterInput
		code  int
	}{
		{"missing fields", RegisterInput{Email: "a@b.co"}, 400},
		{"markup-only username", RegisterInput{Username: "<img src=x>", Email: "a@b.co", Password: "password1"}, 400},
		{"bad email", RegisterInput{Username: "a", Email: "not-an-email", Password: "password1"}, 422},
		{"display name", RegisterInput{Username: "a", Email: "A <a@b.co>", Password: "password1"}, 422},
		{"short password", RegisterInput{Username: "a", Email: "a@b.co", Password: "short"}, 422},
		{"long username", RegisterInput{Username: strings.Repeat("x", 101), Email: "a@b.co", Password: "password1"}, 422},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Register(context.Background(), tc.input)
			assertAppError(t, err, tc.code)
		})
	}
}

func TestRegister_StripsMarkupFromUsername(t *testing.T) {
	svc := newTestAuthService(newMockUserRepo(), Options{})

	user, err := svc.Register(context.Background(), RegisterInput{
		Username: "<b>river</b>  keeper",
		Email:    "rk@example.com",
		Password: "password1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user.Username != "river keeper" {
		t.Errorf("expected sanitized username, got %q", user.Username)
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	repo := newMockUserRepo()
	seedUser(t, repo, "alice@example.com", "password1")
	svc := newTestAuthService(repo, Options{})

	_, err := svc.Register(context.Background(), RegisterInput{
		Username: "alice2", Email: "ALICE@example.com", Password: "password2",
	})
	assertAppError(t, err, 409)
}

func TestRegister_RacingInsertConflict(t *testing.T) {
	repo := newMockUserRepo()
	repo.createFn = func(ctx context.Context, user *User) error {
		return apperror.NewConflict("an account with this email already exists")
	}
	svc := newTestAuthService(repo, Options{})

	_, err := svc.Register(context.Background(), RegisterInput{
		Username: "alice", Email: "alice@example.com", Password: "password1",
	})
	assertAppError(t, err, 409)
}

func TestRegister_StoreError(t *testing.T) {
	repo := newMockUserRepo()
	repo.emailExistsFn = func(ctx context.Context, email string) (bool, error) {
		return false, errors.New("connection refused")
	}
	svc := newTestAuthService(repo, Options{})

	_, err := svc.Register(context.Background(), RegisterInput{
		Username: "alice", Email: "alice@example.com", Password: "password1",
	})
	assertAppError(t, err, 500)
}

// --- Login Tests ---

func TestLogin_Success(t *testing.T) {
	repo := newMockUserRepo()
	user := seedUser(t, repo, "alice@example.com", "password1")
	svc := newTestAuthService(repo, Options{})

	issued, err := svc.Login(context.Background(), LoginInput{Email: "Alice@Example.com", Password: "password1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if issued.Scope != ScopePassword {
		t.Errorf("expected password scope, got %q", issued.Scope)
	}

	session, err := svc.ValidateToken(context.Background(), issued.Token)
	if err != nil {
		t.Fatalf("token does not validate: %v", err)
	}
	if session.UserID != user.ID {
		t.Errorf("expected subject %q, got %q", user.ID, session.UserID)
	}
	if session.Verified() {
		t.Error("login token must not be 2fa-verified")
	}
}

func TestLogin_UniformFailure(t *testing.T) {
	repo := newMockUserRepo()
	seedUser(t, repo, "alice@example.com", "password1")
	events := &mockRecorder{}
	svc := newTestAuthService(repo, Options{Events: events})

	_, unknownErr := svc.Login(context.Background(), LoginInput{Email: "nobody@example.com", Password: "password1"})
	_, wrongErr := svc.Login(context.Background(), LoginInput{Email: "alice@example.com", Password: "wrong-password"})

	assertAppErrorType(t, unknownErr, apperror.TypeInvalidCredentials)
	assertAppErrorType(t, wrongErr, apperror.TypeInvalidCredentials)
	if unknownErr.Error() != wrongErr.Error() {
		t.Errorf("failures must be indistinguishable: %q vs %q", unknownErr, wrongErr)
	}
	if !events.has(EventLoginFailed) {
		t.Error("expected login.failed event")
	}
}

func TestLogin_Malformed(t *testing.T) {
	svc := newTestAuthService(newMockUserRepo(), Options{})

	_, err := svc.Login(context.Background(), LoginInput{Email: "", Password: "x"})
	assertAppError(t, err, 400)

	_, err = svc.Login(context.Background(), LoginInput{Email: "nope", Password: "x"})
	assertAppError(t, err, 400)
}

func TestLogin_LockedOut(t *testing.T) {
	repo := newMockUserRepo()
	seedUser(t, repo, "alice@example.com", "password1")
	limiter := newMemLimiter(2)
	events := &mockRecorder{}
	svc := newTestAuthService(repo, Options{LoginLimiter: limiter, Events: events})

	for i := 0; i < 2; i++ {
		_, err := svc.Login(context.Background(), LoginInput{Email: "alice@example.com", Password: "bad"})
		assertAppErrorType(t, err, apperror.TypeInvalidCredentials)
	}

	// Even the right password is refused once the budget is spent.
	_, err := svc.Login(context.Background(), LoginInput{Email: "alice@example.com", Password: "password1"})
	assertAppError(t, err, 429)
	if !events.has(EventLoginLocked) {
		t.Error("expected login.locked event")
	}
}

func TestLogin_SuccessResetsCounter(t *testing.T) {
	repo := newMockUserRepo()
	seedUser(t, repo, "alice@example.com", "password1")
	limiter := newMemLimiter(3)
	svc := newTestAuthService(repo, Options{LoginLimiter: limiter})

	svc.Login(context.Background(), LoginInput{Email: "alice@example.com", Password: "bad"})
	login(t, svc, "alice@example.com", "password1")

	if n := limiter.count("alice@example.com"); n != 0 {
		t.Errorf("expected counter reset, got %d", n)
	}
}

// --- TOTP Secret Tests ---

func TestGetOrCreateTOTPSecret_Idempotent(t *testing.T) {
	repo := newMockUserRepo()
	seedUser(t, repo, "alice@example.com", "password1")
	events := &mockRecorder{}
	svc := newTestAuthService(repo, Options{Events: events})
	token := login(t, svc, "alice@example.com", "password1")

	first, err := svc.GetOrCreateTOTPSecret(context.Background(), token)
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	second, err := svc.GetOrCreateTOTPSecret(context.Background(), token)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}

	if first.Secret != second.Secret {
		t.Errorf("secret changed between calls: %q vs %q", first.Secret, second.Secret)
	}
	if len(first.Secret) != 32 {
		t.Errorf("expected 32 base32 characters for a 160-bit secret, got %d", len(first.Secret))
	}
	if !strings.HasPrefix(first.URL, "otpauth://totp/") || !strings.Contains(first.URL, "secret="+first.Secret) {
		t.Errorf("unexpected provisioning URL %q", first.URL)
	}
	if repo.secretWrites != 1 {
		t.Errorf("expected exactly one stored secret, got %d writes", repo.secretWrites)
	}
	if !events.has(EventSecretIssued) {
		t.Error("expected totp.secret_issued event")
	}
}

func TestGetOrCreateTOTPSecret_ConcurrentFirstCalls(t *testing.T) {
	repo := newMockUserRepo()
	seedUser(t, repo, "alice@example.com", "password1")
	svc := newTestAuthService(repo, Options{})
	token := login(t, svc, "alice@example.com", "password1")

	const n = 16
	secrets := make([]string, n)
	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			p, err := svc.GetOrCreateTOTPSecret(context.Background(), token)
			if err != nil {
				return err
			}
			secrets[i] = p.Secret
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent fetch: %v", err)
	}

	for i, s := range secrets {
		if s != secrets[0] {
			t.Fatalf("caller %d saw %q, caller 0 saw %q", i, s, secrets[0])
		}
	}
	if repo.secretWrites != 1 {
		t.Errorf("expected one stored secret, got %d", repo.secretWrites)
	}
}

func TestGetOrCreateTOTPSecret_LostRaceRereads(t *testing.T) {
	repo := newMockUserRepo()
	user := seedUser(t, repo, "alice@example.com", "password1")
	winner := "JBSWY3DPEHPK3PXPJBSWY3DPEHPK3PXP"
	repo.setTOTPSecretFn = func(ctx context.Context, id, secret string) (bool, error) {
		repo.mu.Lock()
		repo.users[id].TOTPSecret = &winner
		repo.mu.Unlock()
		return false, nil
	}
	svc := newTestAuthService(repo, Options{})
	token := login(t, svc, user.Email, "password1")

	p, err := svc.GetOrCreateTOTPSecret(context.Background(), token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Secret != winner {
		t.Errorf("expected winner's secret, got %q", p.Secret)
	}
}

func TestGetOrCreateTOTPSecret_RejectsBadTokens(t *testing.T) {
	repo := newMockUserRepo()
	seedUser(t, repo, "alice@example.com", "password1")
	svc := newTestAuthService(repo, Options{TokenTTL: time.Minute})
	token := login(t, svc, "alice@example.com", "password1")

	_, err := svc.GetOrCreateTOTPSecret(context.Background(), "")
	assertAppError(t, err, 401)

	_, err = svc.GetOrCreateTOTPSecret(context.Background(), "garbage")
	assertAppError(t, err, 401)

	svc.setClock(testNow.Add(2 * time.Minute))
	_, err = svc.GetOrCreateTOTPSecret(context.Background(), token)
	assertAppErrorType(t, err, apperror.TypeTokenExpired)
	if repo.secretWrites != 0 {
		t.Error("expired token must not issue a secret")
	}
}

func TestGetOrCreateTOTPSecret_DeletedUser(t *testing.T) {
	repo := newMockUserRepo()
	seedUser(t, repo, "alice@example.com", "password1")
	svc := newTestAuthService(repo, Options{})
	token := login(t, svc, "alice@example.com", "password1")

	repo.mu.Lock()
	repo.users = map[string]*User{}
	repo.mu.Unlock()

	_, err := svc.GetOrCreateTOTPSecret(context.Background(), token)
	assertAppError(t, err, 401)
}

// --- Verify Tests ---

// provisioned returns a service, a password-scope token and the issued secret.
func provisioned(t *testing.T, opts Options) (*authService, *mockUserRepo, string, string) {
	t.Helper()
	repo := newMockUserRepo()
	seedUser(t, repo, "alice@example.com", "password1")
	svc := newTestAuthService(repo, opts)
	token := login(t, svc, "alice@example.com", "password1")
	p, err := svc.GetOrCreateTOTPSecret(context.Background(), token)
	if err != nil {
		t.Fatalf("provisioning: %v", err)
	}
	return svc, repo, token, p.Secret
}

func TestVerifyTOTP_Success(t *testing.T) {
	events := &mockRecorder{}
	svc, _, token, secret := provisioned(t, Options{Events: events})

	code, err := generateTOTPCode(secret, testNow)
	if err != nil {
		t.Fatalf("generating code: %v", err)
	}

	issued, err := svc.VerifyTOTP(context.Background(), VerifyInput{Token: token, Code: code})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if issued.Scope != ScopeTwoFactor {
		t.Errorf("expected 2fa scope, got %q", issued.Scope)
	}
	if issued.Token == token {
		t.Error("verification must issue a new token")
	}
	if !events.has(EventTwoFactorPassed) {
		t.Error("expected 2fa.verified event")
	}
}

func TestVerifyTOTP_AdjacentWindows(t *testing.T) {
	svc, _, token, secret := provisioned(t, Options{})

	for _, offset := range []time.Duration{-30 * time.Second, 30 * time.Second} {
		code, _ := generateTOTPCode(secret, testNow.Add(offset))
		if _, err := svc.VerifyTOTP(context.Background(), VerifyInput{Token: token, Code: code}); err != nil {
			t.Errorf("code from %v should pass with skew 1: %v", offset, err)
		}
	}

	for _, offset := range []time.Duration{-90 * time.Second, 90 * time.Second} {
		code, _ := generateTOTPCode(secret, testNow.Add(offset))
		_, err := svc.VerifyTOTP(context.Background(), VerifyInput{Token: token, Code: code})
		assertAppErrorType(t, err, apperror.TypeInvalidCode)
	}
}

func TestVerifyTOTP_CodeFromOtherSecret(t *testing.T) {
	svc, _, token, _ := provisioned(t, Options{})

	other, err := generateTOTPSecret("Nature Risk", "bob@example.com")
	if err != nil {
		t.Fatalf("generating secret: %v", err)
	}
	code, _ := generateTOTPCode(other, testNow)

	_, err = svc.VerifyTOTP(context.Background(), VerifyInput{Token: token, Code: code})
	if err == nil {
		// One in a million chance the two secrets agree right now.
		t.Skip("codes collided")
	}
	assertAppErrorType(t, err, apperror.TypeInvalidCode)
}

func TestVerifyTOTP_FormatGuard(t *testing.T) {
	svc, _, token, _ := provisioned(t, Options{})

	for _, code := range []string{"", "12345", "1234567", "abcdef", "12 456", "١٢٣٤٥٦"} {
		_, err := svc.VerifyTOTP(context.Background(), VerifyInput{Token: token, Code: code})
		assertAppErrorType(t, err, apperror.TypeInvalidFormat)
	}

	// The format check runs before the token is looked at.
	_, err := svc.VerifyTOTP(context.Background(), VerifyInput{Token: "garbage", Code: "12345"})
	assertAppErrorType(t, err, apperror.TypeInvalidFormat)
}

func TestVerifyTOTP_NoSecretProvisioned(t *testing.T) {
	repo := newMockUserRepo()
	seedUser(t, repo, "alice@example.com", "password1")
	svc := newTestAuthService(repo, Options{})
	token := login(t, svc, "alice@example.com", "password1")

	_, err := svc.VerifyTOTP(context.Background(), VerifyInput{Token: token, Code: "123456"})
	assertAppErrorType(t, err, apperror.TypeNoSecretProvisioned)
}

func TestVerifyTOTP_ExpiredToken(t *testing.T) {
	svc, _, token, secret := provisioned(t, Options{TokenTTL: time.Minute})

	later := testNow.Add(5 * time.Minute)
	svc.setClock(later)
	code, _ := generateTOTPCode(secret, later)

	_, err := svc.VerifyTOTP(context.Background(), VerifyInput{Token: token, Code: code})
	assertAppErrorType(t, err, apperror.TypeTokenExpired)
}

func TestVerifyTOTP_LockedOut(t *testing.T) {
	limiter := newMemLimiter(3)
	events := &mockRecorder{}
	svc, _, token, secret := provisioned(t, Options{TOTPLimiter: limiter, Events: events})

	good, _ := generateTOTPCode(secret, testNow)
	bad := "000000"
	if bad == good {
		bad = "111111"
	}

	for i := 0; i < 3; i++ {
		_, err := svc.VerifyTOTP(context.Background(), VerifyInput{Token: token, Code: bad})
		assertAppErrorType(t, err, apperror.TypeInvalidCode)
	}

	_, err := svc.VerifyTOTP(context.Background(), VerifyInput{Token: token, Code: good})
	assertAppError(t, err, 429)
	if !events.has(EventTwoFactorLocked) {
		t.Error("expected 2fa.locked event")
	}
}

// --- Session State ---

func TestProtocol_EndToEnd(t *testing.T) {
	repo := newMockUserRepo()
	svc := newTestAuthService(repo, Options{})
	ctx := context.Background()

	if state, err := svc.SessionState(ctx, ""); state != StateUnauthenticated || err == nil {
		t.Fatalf("empty token: state %q err %v", state, err)
	}

	_, err := svc.Register(ctx, RegisterInput{Username: "alice", Email: "alice@example.com", Password: "password1"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	token := login(t, svc, "alice@example.com", "password1")
	if state, _ := svc.SessionState(ctx, token); state != StateAuthenticated {
		t.Fatalf("after login: %q", state)
	}

	p, err := svc.GetOrCreateTOTPSecret(ctx, token)
	if err != nil {
		t.Fatalf("secret: %v", err)
	}
	if state, _ := svc.SessionState(ctx, token); state != StateSecretIssued {
		t.Fatalf("after secret: %q", state)
	}

	code, err := svc.CurrentTOTPCode(ctx, token)
	if err != nil {
		t.Fatalf("current code: %v", err)
	}
	if want, _ := generateTOTPCode(p.Secret, testNow); code != want {
		t.Fatalf("current code %q, want %q", code, want)
	}

	issued, err := svc.VerifyTOTP(ctx, VerifyInput{Token: token, Code: code})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if state, _ := svc.SessionState(ctx, issued.Token); state != StateTwoFactorVerified {
		t.Fatalf("after verify: %q", state)
	}

	// A fresh login starts over at Authenticated but keeps the secret.
	again := login(t, svc, "alice@example.com", "password1")
	if state, _ := svc.SessionState(ctx, again); state != StateSecretIssued {
		t.Fatalf("second login: %q", state)
	}
}

// --- Password Tests ---

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := hashPassword("mySecurePassword123")
	if err != nil {
		t.Fatalf("hashPassword: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$v=19$m=65536,t=3,p=4$") {
		t.Errorf("unexpected hash format %q", hash)
	}
	if !verifyPassword("mySecurePassword123", hash) {
		t.Error("correct password should verify")
	}
	if verifyPassword("wrongPassword", hash) {
		t.Error("wrong password should not verify")
	}
}

func TestVerifyPassword_InvalidHash(t *testing.T) {
	for _, h := range []string{"", "not-a-hash", "$2b$10$short", "$bcrypt$v=19$m=1,t=1,p=1$AA$AA", "$argon2id$v=19$m=x$AA$AA"} {
		if verifyPassword("password", h) {
			t.Errorf("hash %q should never verify", h)
		}
	}
}

func TestVerifyPassword_LegacyBcrypt(t *testing.T) {
	legacy, err := bcrypt.GenerateFromPassword([]byte("password1"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	if !verifyPassword("password1", string(legacy)) {
		t.Error("legacy bcrypt hash should verify")
	}
	if verifyPassword("password2", string(legacy)) {
		t.Error("wrong password should not verify against bcrypt")
	}
	if !needsRehash(string(legacy)) {
		t.Error("bcrypt hash should be flagged for rehash")
	}
}

func TestLogin_UpgradesLegacyHash(t *testing.T) {
	repo := newMockUserRepo()
	svc := newTestAuthService(repo, Options{})

	legacy, _ := bcrypt.GenerateFromPassword([]byte("password1"), bcrypt.MinCost)
	repo.users["legacy-1"] = &User{
		ID:           "legacy-1",
		Username:     "old",
		Email:        "old@example.com",
		PasswordHash: string(legacy),
	}

	login(t, svc, "old@example.com", "password1")

	stored, _ := repo.FindByID(context.Background(), "legacy-1")
	if !strings.HasPrefix(stored.PasswordHash, "$argon2id$") {
		t.Fatalf("hash not upgraded: %q", stored.PasswordHash)
	}
	// The upgraded hash still accepts the same password.
	login(t, svc, "old@example.com", "password1")
}

func TestHashPassword_UniqueSalts(t *testing.T) {
	a, _ := hashPassword("same")
	b, _ := hashPassword("same")
	if a == b {
		t.Error("two hashes of the same password must differ")
	}
}

// --- memLimiter ---

// memLimiter is an in-process AttemptLimiter for service tests.
type memLimiter struct {
	mu     sync.Mutex
	max    int
	counts map[string]int
}

func newMemLimiter(max int) *memLimiter {
	return &memLimiter{max: max, counts: make(map[string]int)}
}

func (l *memLimiter) Reserve(_ context.Context, key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.counts[key]++
	return l.counts[key] <= l.max
}

func (l *memLimiter) Reset(_ context.Context, key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.counts, key)
}

func (l *memLimiter) count(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counts[key]
}

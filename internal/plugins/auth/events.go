package auth

import "context"

// Security event types emitted by the auth service.
const (
	EventRegistered      = "register"
	EventLoginSuccess    = "login.success"
	EventLoginFailed     = "login.failed"
	EventLoginLocked     = "login.locked"
	EventSecretIssued    = "totp.secret_issued"
	EventTwoFactorPassed = "2fa.verified"
	EventTwoFactorFailed = "2fa.failed"
	EventTwoFactorLocked = "2fa.locked"
)

// EventRecorder receives security events. Implementations must not block
// the request on persistence failures.
type EventRecorder interface {
	RecordEvent(ctx context.Context, eventType, userID, email, ip, userAgent string, details map[string]any)
}

type noopRecorder struct{}

func (noopRecorder) RecordEvent(context.Context, string, string, string, string, string, map[string]any) {
}

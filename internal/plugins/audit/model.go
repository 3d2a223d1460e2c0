// Package audit records security events raised by the auth plugin (logins,
// lockouts, TOTP issuance and verification) and lets a verified user page
// through their own history.
//
// Recording never blocks or fails the request that raised the event. A
// lost audit row is logged and otherwise ignored.
package audit

import "time"

// SecurityEvent is a single row of the security_events table. UserID is
// empty for failed logins against unknown emails.
type SecurityEvent struct {
	ID        int64          `json:"id"`
	EventType string         `json:"event_type"`
	UserID    string         `json:"user_id,omitempty"`
	Email     string         `json:"email,omitempty"`
	IPAddress string         `json:"ip_address,omitempty"`
	UserAgent string         `json:"user_agent,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// EventPage is one page of a user's security history.
type EventPage struct {
	Events  []SecurityEvent `json:"events"`
	Total   int             `json:"total"`
	Page    int             `json:"page"`
	PerPage int             `json:"per_page"`
}

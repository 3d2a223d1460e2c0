package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/keyxmakerx/naturerisk/internal/apperror"
	"github.com/keyxmakerx/naturerisk/internal/plugins/auth"
	"github.com/keyxmakerx/naturerisk/internal/sanitize"
)

// perPage is the number of events returned per page.
const perPage = 50

// maxPage caps the page number so the computed OFFSET cannot overflow. Far
// more events than any account produces fit below it; later pages are empty.
const maxPage = 100_000

// writeTimeout bounds a single event insert. The write outlives request
// cancellation so a client hanging up doesn't drop its own audit trail.
const writeTimeout = 5 * time.Second

// AuditService handles business logic for the security event log.
type AuditService interface {
	// RecordEvent persists an event. Fire-and-forget: failures are logged
	// and swallowed. Satisfies auth.EventRecorder.
	RecordEvent(ctx context.Context, eventType, userID, email, ip, userAgent string, details map[string]any)

	// ListForUser returns one page of the user's events. Pages are 1-indexed.
	ListForUser(ctx context.Context, userID string, page int) (*EventPage, error)
}

// auditService implements AuditService.
type auditService struct {
	repo EventRepository
	now  func() time.Time
}

var _ auth.EventRecorder = (*auditService)(nil)

// NewAuditService creates a new audit service with the given repository.
func NewAuditService(repo EventRepository) AuditService {
	return &auditService{repo: repo, now: time.Now}
}

func (s *auditService) RecordEvent(ctx context.Context, eventType, userID, email, ip, userAgent string, details map[string]any) {
	if eventType == "" {
		slog.Warn("dropping security event without type", slog.String("user_id", userID))
		return
	}

	event := &SecurityEvent{
		EventType: eventType,
		UserID:    userID,
		Email:     email,
		IPAddress: ip,
		UserAgent: sanitize.Truncate(sanitize.Text(userAgent), 512),
		Details:   details,
		CreatedAt: s.now().UTC(),
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	if err := s.repo.Log(ctx, event); err != nil {
		slog.Error("failed to write security event",
			slog.String("event_type", eventType),
			slog.String("user_id", userID),
			slog.Any("error", err),
		)
	}
}

func (s *auditService) ListForUser(ctx context.Context, userID string, page int) (*EventPage, error) {
	if userID == "" {
		return nil, apperror.NewMissingContext()
	}
	page = min(max(page, 1), maxPage)

	events, total, err := s.repo.ListByUser(ctx, userID, perPage, (page-1)*perPage)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("listing security events: %w", err))
	}

	return &EventPage{Events: events, Total: total, Page: page, PerPage: perPage}, nil
}

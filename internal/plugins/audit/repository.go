package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// EventRepository defines the data access contract for security events.
// All SQL lives in the concrete implementation -- no SQL leaks out.
type EventRepository interface {
	// Log inserts a new event and sets its ID.
	Log(ctx context.Context, event *SecurityEvent) error

	// ListByUser returns a user's events, most recent first, together with
	// the total count for pagination.
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]SecurityEvent, int, error)
}

// eventRepository implements EventRepository with MariaDB queries.
type eventRepository struct {
	db *sql.DB
}

// NewEventRepository creates a new repository backed by the given DB pool.
func NewEventRepository(db *sql.DB) EventRepository {
	return &eventRepository{db: db}
}

// Log inserts a security event. Nil details are stored as SQL NULL and an
// empty user ID as NULL so unknown-email failures don't need a fake user.
func (r *eventRepository) Log(ctx context.Context, event *SecurityEvent) error {
	query := `INSERT INTO security_events (event_type, user_id, email, ip_address, user_agent, details, created_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?)`

	var detailsJSON []byte
	if event.Details != nil {
		var err error
		detailsJSON, err = json.Marshal(event.Details)
		if err != nil {
			return fmt.Errorf("marshaling event details: %w", err)
		}
	}

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	userID := sql.NullString{String: event.UserID, Valid: event.UserID != ""}

	result, err := r.db.ExecContext(ctx, query,
		event.EventType, userID, event.Email,
		event.IPAddress, event.UserAgent,
		detailsJSON, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting security event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting security event id: %w", err)
	}
	event.ID = id

	return nil
}

// ListByUser returns a page of the user's events ordered newest first.
func (r *eventRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]SecurityEvent, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM security_events WHERE user_id = ?`, userID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting security events: %w", err)
	}

	query := `SELECT id, event_type, user_id, email, ip_address, user_agent, details, created_at
	          FROM security_events
	          WHERE user_id = ?
	          ORDER BY created_at DESC, id DESC
	          LIMIT ? OFFSET ?`

	rows, err := r.db.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("listing security events: %w", err)
	}
	defer rows.Close()

	events, err := scanEventRows(rows)
	if err != nil {
		return nil, 0, err
	}

	return events, total, nil
}

// scanEventRows expects columns: id, event_type, user_id, email, ip_address,
// user_agent, details, created_at.
func scanEventRows(rows *sql.Rows) ([]SecurityEvent, error) {
	events := []SecurityEvent{}
	for rows.Next() {
		var e SecurityEvent
		var userID, detailsJSON sql.NullString
		if err := rows.Scan(
			&e.ID, &e.EventType, &userID, &e.Email,
			&e.IPAddress, &e.UserAgent, &detailsJSON, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning security event: %w", err)
		}
		e.UserID = userID.String

		if detailsJSON.Valid && detailsJSON.String != "" {
			if err := json.Unmarshal([]byte(detailsJSON.String), &e.Details); err != nil {
				// Keep the row visible even if its details are corrupt.
				e.Details = map[string]any{"_parse_error": "invalid JSON"}
			}
		}

		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating security events: %w", err)
	}

	return events, nil
}

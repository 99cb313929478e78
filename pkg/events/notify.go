package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
)

// maxNotifyPayload stays under PostgreSQL's 8000-byte NOTIFY limit.
const maxNotifyPayload = 7900

// NotifyPublisher broadcasts events with pg_notify on the main database,
// so every replica sharing the database can LISTEN without extra
// infrastructure.
type NotifyPublisher struct {
	db *sql.DB
}

// NewNotifyPublisher creates a new NotifyPublisher.
// The db parameter should be the *sql.DB from database.Client.DB().
func NewNotifyPublisher(db *sql.DB) *NotifyPublisher {
	return &NotifyPublisher{db: db}
}

// Publish sends evt to its organization channel and, best-effort, its
// session channel. Returns the first error encountered (if any).
func (p *NotifyPublisher) Publish(ctx context.Context, evt Event) error {
	payloadJSON, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	notifyPayload, err := truncateIfNeeded(payloadJSON)
	if err != nil {
		return err
	}

	var firstErr error
	for _, ch := range channelsFor(evt) {
		if _, err := p.db.ExecContext(ctx, "SELECT pg_notify($1, $2)", ch, notifyPayload); err != nil {
			slog.Warn("Failed to publish event",
				"channel", ch, "type", evt.Type, "session_id", evt.SessionID, "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("pg_notify failed: %w", err)
			}
		}
	}
	return firstErr
}

// Close is a no-op; the database is owned by the caller.
func (p *NotifyPublisher) Close() error { return nil }

// truncateIfNeeded returns the payload as-is if it fits within the NOTIFY
// limit, otherwise a minimal envelope with only the routing fields and
// truncated=true. Consumers re-read the session from the API.
func truncateIfNeeded(payload []byte) (string, error) {
	if len(payload) <= maxNotifyPayload {
		return string(payload), nil
	}
	var routing struct {
		Type           string `json:"type"`
		EventID        string `json:"event_id"`
		OrganizationID string `json:"organization_id"`
		SessionID      string `json:"session_id"`
		Timestamp      string `json:"timestamp"`
	}
	if err := json.Unmarshal(payload, &routing); err != nil {
		return "", fmt.Errorf("failed to extract routing fields for truncation: %w", err)
	}
	truncated := map[string]any{
		"type":            routing.Type,
		"event_id":        routing.EventID,
		"organization_id": routing.OrganizationID,
		"session_id":      routing.SessionID,
		"timestamp":       routing.Timestamp,
		"truncated":       true,
	}
	b, err := json.Marshal(truncated)
	if err != nil {
		return "", fmt.Errorf("failed to marshal truncated payload: %w", err)
	}
	return string(b), nil
}

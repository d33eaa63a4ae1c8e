package store

import (
	"database/sql"
	"fmt"

	"github.com/tiffinworks/dabba/internal/model"
)

// WebhookEventStore is the processed-event ledger. The gateway delivers
// events at least once and possibly out of order; recording the event id
// before mutating lets relative-extension transitions run exactly once.
type WebhookEventStore struct {
	db *sql.DB
}

func NewWebhookEventStore(db *sql.DB) *WebhookEventStore {
	return &WebhookEventStore{db: db}
}

// MarkProcessed records the event id and reports whether this was the first
// delivery. A redelivered id returns false and must not be reapplied.
func (s *WebhookEventStore) MarkProcessed(eventID, eventType string) (bool, error) {
	result, err := s.db.Exec(
		`INSERT INTO webhook_events (event_id, event_type) VALUES (?, ?) ON CONFLICT(event_id) DO NOTHING`,
		eventID, eventType,
	)
	if err != nil {
		return false, fmt.Errorf("mark webhook event processed: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func (s *WebhookEventStore) Get(eventID string) (*model.WebhookEvent, error) {
	row := s.db.QueryRow(
		`SELECT event_id, event_type, processed_at FROM webhook_events WHERE event_id = ?`,
		eventID,
	)
	var e model.WebhookEvent
	err := row.Scan(&e.EventID, &e.EventType, &e.ProcessedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get webhook event: %w", err)
	}
	return &e, nil
}

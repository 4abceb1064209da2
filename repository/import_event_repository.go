package repository

import (
	"fmt"

	"github.com/gamevault/gamevault/database"
)

// ImportEvent is one entry in a session's append-only progress log
type ImportEvent struct {
	SessionID int64  `json:"session_id"`
	Seq       int64  `json:"seq"`
	Kind      string `json:"kind"`
	Payload   string `json:"payload"`
	CreatedAt string `json:"created_at"`
}

// ImportEventRepository handles the durable progress event log
type ImportEventRepository struct{}

// NewImportEventRepository creates a new import event repository
func NewImportEventRepository() *ImportEventRepository {
	return &ImportEventRepository{}
}

// Append stores one event. Seq is assigned by the progress bus and is
// monotonic per session, so (session_id, seq) never conflicts.
func (r *ImportEventRepository) Append(sessionID, seq int64, kind, payload string) error {
	return database.WithRetry(func() error {
		_, err := database.DB.Exec(
			`INSERT INTO import_events (session_id, seq, kind, payload) VALUES (?, ?, ?, ?)`,
			sessionID, seq, kind, payload)
		if err != nil {
			return fmt.Errorf("failed to append import event: %w", err)
		}
		return nil
	})
}

// ListAfter returns all events for a session with seq greater than afterSeq,
// in seq order
func (r *ImportEventRepository) ListAfter(sessionID, afterSeq int64) ([]ImportEvent, error) {
	rows, err := database.DB.Query(
		`SELECT session_id, seq, kind, payload, created_at
		 FROM import_events
		 WHERE session_id = ? AND seq > ?
		 ORDER BY seq`,
		sessionID, afterSeq)
	if err != nil {
		return nil, fmt.Errorf("failed to list import events: %w", err)
	}
	defer rows.Close()

	var events []ImportEvent
	for rows.Next() {
		var e ImportEvent
		if err := rows.Scan(&e.SessionID, &e.Seq, &e.Kind, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan import event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// MaxSeq returns the highest stored seq for a session (0 when none)
func (r *ImportEventRepository) MaxSeq(sessionID int64) (int64, error) {
	var seq int64
	err := database.DB.QueryRow(
		`SELECT COALESCE(MAX(seq), 0) FROM import_events WHERE session_id = ?`,
		sessionID).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("failed to get max event seq: %w", err)
	}
	return seq, nil
}

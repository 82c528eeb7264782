package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"tutorchat/internal/models"
)

// TranscriptStore persists per-session conversation history.
type TranscriptStore struct {
	db *sql.DB
}

// NewTranscriptStore builds a store over the opened database.
func NewTranscriptStore(db *sql.DB) *TranscriptStore {
	return &TranscriptStore{db: db}
}

// Append stores one message for the session and returns the persisted record.
func (s *TranscriptStore) Append(ctx context.Context, sessionID string, sender models.Sender, text string) (*models.Transcript, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, errors.New("session_id is required")
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO transcripts (session_id, sender, text, created_at) VALUES (?, ?, ?, ?)`,
		sessionID, sender, text, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert transcript: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("transcript id: %w", err)
	}
	return &models.Transcript{ID: id, SessionID: sessionID, Sender: sender, Text: text, CreatedAt: now}, nil
}

// List returns the session's messages oldest-first, capped at limit when positive.
func (s *TranscriptStore) List(ctx context.Context, sessionID string, limit int) ([]*models.Transcript, error) {
	query := `SELECT id, session_id, sender, text, created_at FROM transcripts WHERE session_id = ? ORDER BY created_at ASC, id ASC`
	args := []any{sessionID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transcripts: %w", err)
	}
	defer rows.Close()

	var transcripts []*models.Transcript
	for rows.Next() {
		tr := new(models.Transcript)
		if err := rows.Scan(&tr.ID, &tr.SessionID, &tr.Sender, &tr.Text, &tr.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transcript: %w", err)
		}
		transcripts = append(transcripts, tr)
	}
	return transcripts, rows.Err()
}

// Count reports how many messages the session has stored.
func (s *TranscriptStore) Count(ctx context.Context, sessionID string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transcripts WHERE session_id = ?`, sessionID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count transcripts: %w", err)
	}
	return n, nil
}

// DeleteSession removes every stored message belonging to the session.
func (s *TranscriptStore) DeleteSession(ctx context.Context, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return errors.New("session_id is required")
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM transcripts WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete session transcripts: %w", err)
	}
	return nil
}

package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/room-relay/room-relay/internal/storage/models"
)

// SessionRepository provides data access for the session ledger.
type SessionRepository struct {
	BaseRepository
}

// NewSessionRepository creates a new session repository.
func NewSessionRepository(db *DB) *SessionRepository {
	return &SessionRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

const sessionColumns = `
	id, connection_id, room, display_name, translate_to, transcribe_to, remote_addr,
	joined_at, left_at, messages_received, messages_sent, end_reason`

func scanSession(row interface{ Scan(...any) error }, s *models.Session) error {
	return row.Scan(
		&s.ID, &s.ConnectionID, &s.Room, &s.DisplayName, &s.TranslateTo, &s.TranscribeTo, &s.RemoteAddr,
		&s.JoinedAt, &s.LeftAt, &s.MessagesReceived, &s.MessagesSent, &s.EndReason,
	)
}

// Open inserts a new open session. ID is generated and JoinedAt defaults to now.
func (r *SessionRepository) Open(ctx context.Context, s *models.Session) error {
	s.ID = GenerateID()
	if s.JoinedAt.IsZero() {
		s.JoinedAt = r.Now()
	}

	_, err := r.DB().ExecContext(ctx, `
		INSERT INTO sessions (
			id, connection_id, room, display_name, translate_to, transcribe_to, remote_addr, joined_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		s.ID, s.ConnectionID, s.Room, s.DisplayName, s.TranslateTo, s.TranscribeTo, s.RemoteAddr,
		s.JoinedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}

	return nil
}

// Close completes an open session. Closing an already closed session fails.
func (r *SessionRepository) Close(ctx context.Context, id string, received, sent int64, reason string) error {
	result, err := r.DB().ExecContext(ctx, `
		UPDATE sessions SET
			left_at = ?, messages_received = ?, messages_sent = ?, end_reason = ?
		WHERE id = ? AND left_at IS NULL
	`, r.Now(), received, sent, reason, id)
	if err != nil {
		return fmt.Errorf("closing session: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return fmt.Errorf("open session not found: %s", id)
	}

	return nil
}

// GetByID retrieves a session by its ID. It returns nil when absent.
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*models.Session, error) {
	s := &models.Session{}

	err := scanSession(r.DB().QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id), s)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying session: %w", err)
	}

	return s, nil
}

// ListByRoom retrieves the most recent sessions of a room, newest first.
func (r *SessionRepository) ListByRoom(ctx context.Context, room string, limit int) ([]models.Session, error) {
	rows, err := r.DB().QueryContext(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE room = ?
		ORDER BY joined_at DESC
		LIMIT ?
	`, room, limit)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		var s models.Session
		if err := scanSession(rows, &s); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		sessions = append(sessions, s)
	}

	return sessions, rows.Err()
}

// CloseOrphaned closes every session still open, stamping them with at.
// Run it at startup: no relay survives a restart.
func (r *SessionRepository) CloseOrphaned(ctx context.Context, at time.Time) (int64, error) {
	result, err := r.DB().ExecContext(ctx, `
		UPDATE sessions SET left_at = ?, end_reason = ?
		WHERE left_at IS NULL
	`, at.UTC(), models.EndReasonOrphaned)
	if err != nil {
		return 0, fmt.Errorf("closing orphaned sessions: %w", err)
	}

	return result.RowsAffected()
}

// Totals counts all sessions, open sessions and rejections.
func (r *SessionRepository) Totals(ctx context.Context) (models.SessionTotals, error) {
	var t models.SessionTotals

	err := r.DB().QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM sessions),
			(SELECT COUNT(*) FROM sessions WHERE left_at IS NULL),
			(SELECT COUNT(*) FROM admission_rejections)
	`).Scan(&t.Total, &t.Open, &t.Rejections)
	if err != nil {
		return t, fmt.Errorf("counting sessions: %w", err)
	}

	return t, nil
}

package storage

import (
	"context"
	"fmt"

	"github.com/room-relay/room-relay/internal/storage/models"
)

// RejectionRepository provides data access for refused admissions.
type RejectionRepository struct {
	BaseRepository
}

// NewRejectionRepository creates a new rejection repository.
func NewRejectionRepository(db *DB) *RejectionRepository {
	return &RejectionRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

// Create inserts a rejection record.
func (r *RejectionRepository) Create(ctx context.Context, rej *models.Rejection) error {
	rej.ID = GenerateID()
	rej.CreatedAt = r.Now()

	_, err := r.DB().ExecContext(ctx, `
		INSERT INTO admission_rejections (id, room, display_name, code, reason, remote_addr, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, rej.ID, rej.Room, rej.DisplayName, rej.Code, rej.Reason, rej.RemoteAddr, rej.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting rejection: %w", err)
	}

	return nil
}

// ListRecent retrieves the most recent rejections, newest first.
func (r *RejectionRepository) ListRecent(ctx context.Context, limit int) ([]models.Rejection, error) {
	rows, err := r.DB().QueryContext(ctx, `
		SELECT id, room, display_name, code, reason, remote_addr, created_at
		FROM admission_rejections
		ORDER BY created_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying rejections: %w", err)
	}
	defer rows.Close()

	var out []models.Rejection
	for rows.Next() {
		var rej models.Rejection
		if err := rows.Scan(
			&rej.ID, &rej.Room, &rej.DisplayName, &rej.Code, &rej.Reason, &rej.RemoteAddr, &rej.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning rejection: %w", err)
		}
		out = append(out, rej)
	}

	return out, rows.Err()
}

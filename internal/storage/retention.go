package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PruneResult reports what a retention pass deleted.
type PruneResult struct {
	Sessions   int64
	Rejections int64
}

// Prune deletes closed sessions that ended before cutoff and rejections
// recorded before cutoff, in one transaction. Open sessions are never pruned.
func Prune(ctx context.Context, db *DB, cutoff time.Time) (PruneResult, error) {
	var res PruneResult
	cutoff = cutoff.UTC()

	err := db.Transaction(ctx, func(tx *sql.Tx) error {
		r, err := tx.ExecContext(ctx,
			"DELETE FROM sessions WHERE left_at IS NOT NULL AND left_at < ?", cutoff)
		if err != nil {
			return fmt.Errorf("pruning sessions: %w", err)
		}
		res.Sessions, _ = r.RowsAffected()

		r, err = tx.ExecContext(ctx,
			"DELETE FROM admission_rejections WHERE created_at < ?", cutoff)
		if err != nil {
			return fmt.Errorf("pruning rejections: %w", err)
		}
		res.Rejections, _ = r.RowsAffected()
		return nil
	})

	return res, err
}

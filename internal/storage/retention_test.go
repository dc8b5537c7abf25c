package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/room-relay/room-relay/internal/storage/models"
)

func TestPrune_Keeps_Open_And_Recent(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	db := newTestDB(t)
	sessions := NewSessionRepository(db)
	rejections := NewRejectionRepository(db)

	// Given an old closed session, an old open one and a recent closed one
	old := openSession(t, sessions, "lobby", "Ann", time.Now().UTC().Add(-48*time.Hour))
	req.NoError(sessions.Close(ctx, old.ID, 0, 0, models.EndReasonDisconnected))
	_, err := db.ExecContext(ctx, "UPDATE sessions SET left_at = ? WHERE id = ?", time.Now().UTC().Add(-47*time.Hour), old.ID)
	req.NoError(err)

	stillOpen := openSession(t, sessions, "lobby", "Bob", time.Now().UTC().Add(-48*time.Hour))
	recent := openSession(t, sessions, "lobby", "Cy", time.Now().UTC())
	req.NoError(sessions.Close(ctx, recent.ID, 0, 0, models.EndReasonDisconnected))

	// And an old and a new rejection
	req.NoError(rejections.Create(ctx, &models.Rejection{Room: "lobby", DisplayName: "Ann", Code: "name_conflict", Reason: "taken"}))
	_, err = db.ExecContext(ctx, "UPDATE admission_rejections SET created_at = ?", time.Now().UTC().Add(-72*time.Hour))
	req.NoError(err)
	req.NoError(rejections.Create(ctx, &models.Rejection{Room: "lobby", DisplayName: "Bob", Code: "name_conflict", Reason: "taken"}))

	// When pruning with a one day window
	res, err := Prune(ctx, db, time.Now().Add(-24*time.Hour))

	// Then only the old closed session and the old rejection go
	req.NoError(err)
	req.Equal(PruneResult{Sessions: 1, Rejections: 1}, res)

	got, err := sessions.GetByID(ctx, old.ID)
	req.NoError(err)
	req.Nil(got)

	got, err = sessions.GetByID(ctx, stillOpen.ID)
	req.NoError(err)
	req.NotNil(got)

	got, err = sessions.GetByID(ctx, recent.ID)
	req.NoError(err)
	req.NotNil(got)
}

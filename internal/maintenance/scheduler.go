// Package maintenance runs periodic housekeeping jobs for the relay.
package maintenance

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/room-relay/room-relay/internal/storage"
	"github.com/room-relay/room-relay/internal/websocket"
)

// Occupancy is the registry view the stats job logs.
type Occupancy interface {
	Rooms() []websocket.RoomSummary
	Total() int
}

// Config controls the schedules and retention window.
type Config struct {
	// PruneSchedule and StatsSchedule are cron specs (seconds field allowed)
	// or descriptors such as "@every 1h".
	PruneSchedule string
	StatsSchedule string

	// Retention is how long closed sessions and rejections are kept.
	Retention time.Duration
}

// Scheduler prunes the session ledger and logs room occupancy.
type Scheduler struct {
	cron      *cron.Cron
	db        *storage.DB
	occupancy Occupancy
	cfg       Config
	now       func() time.Time
}

// NewScheduler creates a new maintenance scheduler.
func NewScheduler(db *storage.DB, occupancy Occupancy, cfg Config) *Scheduler {
	return &Scheduler{
		cron:      cron.New(cron.WithSeconds()),
		db:        db,
		occupancy: occupancy,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Start registers the jobs and starts the scheduler.
func (s *Scheduler) Start() error {
	log.Println("Starting maintenance scheduler...")

	if s.cfg.PruneSchedule != "" {
		if _, err := s.cron.AddFunc(s.cfg.PruneSchedule, func() {
			s.PruneLedger(context.Background())
		}); err != nil {
			return fmt.Errorf("scheduling ledger pruning %q: %w", s.cfg.PruneSchedule, err)
		}
	}

	if s.cfg.StatsSchedule != "" {
		if _, err := s.cron.AddFunc(s.cfg.StatsSchedule, s.LogOccupancy); err != nil {
			return fmt.Errorf("scheduling occupancy log %q: %w", s.cfg.StatsSchedule, err)
		}
	}

	s.cron.Start()
	log.Println("Maintenance scheduler started")
	return nil
}

// Stop waits for running jobs and shuts the scheduler down.
func (s *Scheduler) Stop() {
	log.Println("Stopping maintenance scheduler...")
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Println("Maintenance scheduler stopped")
}

// PruneLedger deletes ledger rows older than the retention window.
func (s *Scheduler) PruneLedger(ctx context.Context) storage.PruneResult {
	if s.cfg.Retention <= 0 {
		return storage.PruneResult{}
	}

	res, err := storage.Prune(ctx, s.db, s.now().Add(-s.cfg.Retention))
	if err != nil {
		log.Printf("Failed to prune session ledger: %v", err)
		return res
	}
	if res.Sessions > 0 || res.Rejections > 0 {
		log.Printf("Pruned %d sessions and %d rejections older than %s", res.Sessions, res.Rejections, s.cfg.Retention)
	}
	return res
}

// LogOccupancy logs one line per occupied room.
func (s *Scheduler) LogOccupancy() {
	rooms := s.occupancy.Rooms()
	if len(rooms) == 0 {
		return
	}

	log.Printf("Occupancy: %d participants in %d rooms", s.occupancy.Total(), len(rooms))
	for _, rm := range rooms {
		log.Printf("  room %q: %d", rm.Name, rm.Count)
	}
}

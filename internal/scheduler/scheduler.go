// Package scheduler runs the proxy's daily background tasks: pruning the
// session ledger and logging daily session statistics.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/VoxelSrv/VoxelCraftProxy/internal/config"
	"github.com/VoxelSrv/VoxelCraftProxy/internal/events"
	"github.com/VoxelSrv/VoxelCraftProxy/internal/server"
)

// Ledger is the part of the session ledger the scheduler maintains.
type Ledger interface {
	Prune(cutoff time.Time) (int64, error)
	Count() (int, error)
}

// SlotStats reports capacity usage since startup.
type SlotStats interface {
	Snapshot() server.SlotsSnapshot
}

// Scheduler manages periodic background tasks.
type Scheduler struct {
	cfg      *config.Config
	eventBus *events.EventBus
	ledger   Ledger
	slots    SlotStats
	now      func() time.Time
}

// NewScheduler creates a new task scheduler. ledger may be nil when the
// session ledger is disabled.
func NewScheduler(cfg *config.Config, eventBus *events.EventBus, ledger Ledger, slots SlotStats) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		eventBus: eventBus,
		ledger:   ledger,
		slots:    slots,
		now:      time.Now,
	}
}

// Start runs all scheduled tasks until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	log.Info().Msg("scheduler started")

	if s.ledger != nil && s.cfg.Database.RetentionDays > 0 {
		go s.runPruneLoop(ctx)
	}

	go s.runStatsCollectionLoop(ctx)

	<-ctx.Done()
	log.Info().Msg("scheduler stopped")
}

func (s *Scheduler) runPruneLoop(ctx context.Context) {
	for {
		nextRun := NextRunTime(s.now(), s.cfg.Database.PruneTime)
		sleepDuration := nextRun.Sub(s.now())
		if sleepDuration <= 0 {
			sleepDuration = 24 * time.Hour
		}

		log.Info().
			Time("next_run", nextRun).
			Dur("sleep", sleepDuration).
			Msg("ledger prune scheduled")

		select {
		case <-ctx.Done():
			return
		case <-time.After(sleepDuration):
			s.PruneLedger()
		}
	}
}

// PruneLedger removes closed sessions older than the retention window.
func (s *Scheduler) PruneLedger() int64 {
	if s.ledger == nil || s.cfg.Database.RetentionDays < 1 {
		return 0
	}

	retention := time.Duration(s.cfg.Database.RetentionDays) * 24 * time.Hour
	cutoff := s.now().Add(-retention)

	log.Info().
		Int("retention_days", s.cfg.Database.RetentionDays).
		Time("cutoff", cutoff).
		Msg("running ledger prune")

	deleted, err := s.ledger.Prune(cutoff)
	if err != nil {
		log.Warn().Err(err).Msg("ledger prune failed")
		return 0
	}

	log.Info().Int64("deleted_rows", deleted).Msg("ledger prune completed")
	return deleted
}

func (s *Scheduler) runStatsCollectionLoop(ctx context.Context) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.collectStats(ctx)
		}
	}
}

func (s *Scheduler) collectStats(ctx context.Context) {
	stats := map[string]interface{}{
		"event": "daily_stats",
	}

	if s.slots != nil {
		snap := s.slots.Snapshot()
		stats["logged_in"] = snap.Used
		stats["peak"] = snap.Peak
		stats["rejected"] = snap.Rejected
	}
	if s.ledger != nil {
		if n, err := s.ledger.Count(); err == nil {
			stats["ledger_rows"] = n
		}
	}

	log.Info().Fields(stats).Msg("daily stats collected")

	s.eventBus.Emit(ctx, events.Event{
		Type:    events.EventNotifyMQTT,
		Source:  "scheduler",
		Payload: stats,
	})
}

// NextRunTime returns the next occurrence of the HH:MM clock time after
// now. Unparsable values fall back to 04:00.
func NextRunTime(now time.Time, clock string) time.Time {
	hour, minute := 4, 0
	parts := strings.Split(clock, ":")
	if len(parts) >= 2 {
		var h, m int
		_, errH := fmt.Sscanf(parts[0], "%d", &h)
		_, errM := fmt.Sscanf(parts[1], "%d", &m)
		if errH == nil && errM == nil && h >= 0 && h < 24 && m >= 0 && m < 60 {
			hour, minute = h, m
		}
	}

	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// Package rollover runs periodic ledger maintenance on a cron schedule:
// rotating day and month windows at midnight in the ledger's timezone and
// releasing reservations whose callers never settled them.
package rollover

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Defaults for Config.
const (
	DefaultSchedule      = "0 0 * * *"
	DefaultSweepSchedule = "@every 1m"
)

// Ledger is the subset of *ledger.Ledger the scheduler drives.
type Ledger interface {
	Rollover(ctx context.Context) (int, error)
	ExpireReservations(ctx context.Context, maxAge time.Duration) int
}

// Config configures a Scheduler.
type Config struct {
	// Schedule is the cron expression for window rotation, evaluated in Location.
	Schedule string

	// Location is the timezone schedules run in. Defaults to time.Local.
	Location *time.Location

	// ReservationTTL releases reservations older than this. Zero disables the sweep.
	ReservationTTL time.Duration

	// SweepSchedule is the cron expression for the reservation sweep.
	SweepSchedule string
}

// Scheduler runs ledger rollover and reservation expiry on a schedule.
type Scheduler struct {
	ledger  Ledger
	config  Config
	cron    *cron.Cron
	mu      sync.Mutex
	logger  *slog.Logger
	running bool
}

// NewScheduler creates a new rollover scheduler.
func NewScheduler(l Ledger, cfg Config) *Scheduler {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.SweepSchedule == "" {
		cfg.SweepSchedule = DefaultSweepSchedule
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}

	return &Scheduler{
		ledger: l,
		config: cfg,
		cron:   cron.New(cron.WithLocation(cfg.Location)),
		logger: slog.Default().With("component", "ledger.rollover"),
	}
}

// Start performs a catch-up rollover, then schedules the jobs.
// Jobs stop when ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	if _, err := cron.ParseStandard(s.config.Schedule); err != nil {
		return fmt.Errorf("invalid rollover schedule %q: %w", s.config.Schedule, err)
	}
	if _, err := s.cron.AddFunc(s.config.Schedule, func() { s.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule rollover: %w", err)
	}

	if s.config.ReservationTTL > 0 {
		if _, err := cron.ParseStandard(s.config.SweepSchedule); err != nil {
			return fmt.Errorf("invalid sweep schedule %q: %w", s.config.SweepSchedule, err)
		}
		if _, err := s.cron.AddFunc(s.config.SweepSchedule, func() { s.sweep(ctx) }); err != nil {
			return fmt.Errorf("failed to schedule reservation sweep: %w", err)
		}
	}

	// Buckets may have crossed a boundary while the process was down
	s.RunOnce(ctx)

	s.cron.Start()
	s.running = true

	s.logger.Info("rollover scheduler started",
		"schedule", s.config.Schedule,
		"timezone", s.config.Location.String(),
		"reservation_ttl", s.config.ReservationTTL.String(),
	)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

// RunOnce rotates ledger windows now.
func (s *Scheduler) RunOnce(ctx context.Context) {
	n, err := s.ledger.Rollover(ctx)
	if err != nil {
		s.logger.Error("scheduled rollover failed", "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("scheduled rollover completed", "buckets", n)
	} else {
		s.logger.Debug("scheduled rollover completed, no windows changed")
	}
}

func (s *Scheduler) sweep(ctx context.Context) {
	if n := s.ledger.ExpireReservations(ctx, s.config.ReservationTTL); n > 0 {
		s.logger.Info("reservation sweep released holds", "count", n)
	}
}

// Stop stops the scheduler and waits for running jobs to complete.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		<-s.cron.Stop().Done()
		s.running = false
		s.logger.Info("rollover scheduler stopped")
	}
}

// IsRunning returns true if the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// NextRun returns the next scheduled rollover time, or nil if not running.
func (s *Scheduler) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.cron.Entries()
	if len(entries) == 0 {
		return nil
	}
	next := entries[0].Next
	return &next
}

// internal/scheduler/sweep.go

// Package scheduler runs the lending engine's periodic jobs.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jules-labs/libranexus/internal/auth"
	"github.com/jules-labs/libranexus/internal/circulation"
)

// Jobs is the part of the lending engine the scheduler drives.
type Jobs interface {
	Sweep(ctx context.Context) (circulation.SweepReport, error)
	ExpireNotified(ctx context.Context, p auth.Principal, olderThan time.Duration) (circulation.ExpiryReport, error)
}

// Config holds the cron schedule and the hold expiry. A zero HoldExpiry
// leaves notified reservations in place indefinitely.
type Config struct {
	Schedule   string
	HoldExpiry time.Duration
	Timeout    time.Duration
}

func DefaultConfig() Config {
	return Config{Schedule: "0 0 * * *", Timeout: 10 * time.Minute}
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ValidateSchedule checks a five-field cron expression.
func ValidateSchedule(spec string) error {
	if _, err := parser.Parse(spec); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", spec, err)
	}
	return nil
}

// SweepScheduler runs the overdue sweep, and optionally the hold expiry, on a cron schedule.
type SweepScheduler struct {
	jobs   Jobs
	cfg    Config
	logger *slog.Logger

	cron      *cron.Cron
	mu        sync.Mutex
	isRunning bool
	lastRun   circulation.SweepReport
}

func NewSweepScheduler(jobs Jobs, cfg Config, logger *slog.Logger) *SweepScheduler {
	logger = logger.With("component", "scheduler")
	return &SweepScheduler{
		jobs:   jobs,
		cfg:    cfg,
		logger: logger,
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
	}
}

// Start schedules the jobs and stops them when ctx is done.
func (s *SweepScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		return nil
	}
	if err := ValidateSchedule(s.cfg.Schedule); err != nil {
		return err
	}

	if _, err := s.cron.AddFunc(s.cfg.Schedule, func() { s.run(ctx) }); err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}
	s.cron.Start()
	s.isRunning = true
	s.logger.Info("sweep scheduler started", "schedule", s.cfg.Schedule, "hold_expiry", s.cfg.HoldExpiry)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop waits for a running job and stops the schedule.
func (s *SweepScheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	c := s.cron
	s.mu.Unlock()

	// The running job takes s.mu to record its report.
	<-c.Stop().Done()
	s.logger.Info("sweep scheduler stopped")
}

// RunNow runs the jobs synchronously. It fails with
// circulation.ErrSweepInProgress while another sweep is running.
func (s *SweepScheduler) RunNow(ctx context.Context) (circulation.SweepReport, error) {
	return s.runJobs(ctx)
}

// LastRun returns the report of the most recent completed sweep.
func (s *SweepScheduler) LastRun() circulation.SweepReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun
}

func (s *SweepScheduler) run(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := s.runJobs(ctx); err != nil {
		if errors.Is(err, circulation.ErrSweepInProgress) {
			s.logger.Warn("sweep skipped, another run in progress")
			return
		}
		s.logger.Error("scheduled sweep failed", "error", err)
	}
}

func (s *SweepScheduler) runJobs(ctx context.Context) (circulation.SweepReport, error) {
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	report, err := s.jobs.Sweep(ctx)
	if errors.Is(err, circulation.ErrSweepInProgress) {
		return report, err
	}
	s.mu.Lock()
	s.lastRun = report
	s.mu.Unlock()

	if s.cfg.HoldExpiry > 0 {
		expiry, expErr := s.jobs.ExpireNotified(ctx, auth.System, s.cfg.HoldExpiry)
		if expErr != nil {
			err = errors.Join(err, fmt.Errorf("expire holds: %w", expErr))
		} else if expiry.Expired > 0 {
			s.logger.Info("expired ignored holds", "expired", expiry.Expired, "notified", expiry.Notified)
		}
	}
	return report, err
}

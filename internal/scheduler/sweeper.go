// Package scheduler runs periodic maintenance for mediastage.
// The staging sweeper removes staged files that outlived any job that could
// still need them.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jmylchreest/mediastage/internal/storage"
)

// Sweeper periodically purges old files from the staging directory.
type Sweeper struct {
	mu sync.Mutex

	staging  *storage.Staging
	schedule string
	maxAge   time.Duration
	logger   *slog.Logger

	cron   *cron.Cron
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSweeper creates a sweeper. schedule is a standard cron expression or a
// descriptor such as "@every 30m"; an empty schedule disables sweeping.
func NewSweeper(staging *storage.Staging, schedule string, maxAge time.Duration) *Sweeper {
	return &Sweeper{
		staging:  staging,
		schedule: schedule,
		maxAge:   maxAge,
		logger:   slog.Default(),
	}
}

// WithLogger sets a custom logger.
func (s *Sweeper) WithLogger(logger *slog.Logger) *Sweeper {
	s.logger = logger
	return s
}

// Start schedules the sweep. The sweeper stops when ctx is cancelled or
// Stop is called.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return fmt.Errorf("sweeper already started")
	}
	if s.schedule == "" {
		s.logger.Info("staging sweeper disabled")
		return nil
	}

	c := cron.New(cron.WithParser(cron.NewParser(
		cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)))
	if _, err := c.AddFunc(s.schedule, func() { s.SweepNow() }); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.schedule, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cron = c
	s.cancel = cancel
	c.Start()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		<-ctx.Done()
		<-c.Stop().Done()
	}()

	s.logger.Info("staging sweeper started",
		slog.String("schedule", s.schedule),
		slog.Duration("max_age", s.maxAge))

	return nil
}

// Stop stops the sweeper and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()

	s.mu.Lock()
	s.cron = nil
	s.cancel = nil
	s.mu.Unlock()

	s.logger.Info("staging sweeper stopped")
}

// SweepNow purges files older than the configured max age immediately.
func (s *Sweeper) SweepNow() storage.PurgeResult {
	result := s.staging.PurgeOlderThan(s.maxAge)
	if len(result.Errors) > 0 {
		s.logger.Warn("staging sweep finished with errors",
			slog.Int("removed", result.Removed),
			slog.Int("errors", len(result.Errors)))
	}
	return result
}

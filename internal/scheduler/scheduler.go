package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"webhook-chatter/internal/metrics"
)

// LockSweeper force releases chat locks older than a threshold.
type LockSweeper interface {
	ReleaseStaleLocks(ctx context.Context, before time.Time) (int64, error)
}

// Scheduler runs background maintenance jobs.
type Scheduler struct {
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	logger zerolog.Logger
	now    func() time.Time

	sweeper    LockSweeper
	staleAfter time.Duration
}

func New(sweeper LockSweeper, staleAfter time.Duration, logger zerolog.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		cron:       cron.New(cron.WithLocation(time.UTC)),
		ctx:        ctx,
		cancel:     cancel,
		logger:     logger.With().Str("component", "scheduler").Logger(),
		now:        func() time.Time { return time.Now().UTC() },
		sweeper:    sweeper,
		staleAfter: staleAfter,
	}
}

// Start registers the sweep job on spec and starts the cron loop. A zero staleAfter
// disables sweeping.
func (s *Scheduler) Start(spec string) error {
	if s.sweeper == nil || s.staleAfter <= 0 {
		s.logger.Info().Msg("stale lock sweeper disabled")
		return nil
	}

	_, err := s.cron.AddFunc(spec, func() {
		if _, err := s.SweepOnce(s.ctx); err != nil {
			s.logger.Error().Err(err).Msg("stale lock sweep failed")
		}
	})
	if err != nil {
		return fmt.Errorf("schedule lock sweeper %q: %w", spec, err)
	}

	s.cron.Start()
	s.logger.Info().Str("schedule", spec).Dur("stale_after", s.staleAfter).Msg("scheduler started")
	return nil
}

// SweepOnce releases every lock held longer than staleAfter.
func (s *Scheduler) SweepOnce(ctx context.Context) (int64, error) {
	n, err := s.sweeper.ReleaseStaleLocks(ctx, s.now().Add(-s.staleAfter))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.StaleLocksSwept.Add(float64(n))
		s.logger.Warn().Int64("released", n).Msg("released stale chat locks")
	}
	return n, nil
}

func (s *Scheduler) Stop() {
	if s.cron != nil {
		ctx := s.cron.Stop()
		<-ctx.Done()
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.logger.Info().Msg("scheduler stopped")
}

func (s *Scheduler) IsRunning() bool {
	return s.cron != nil && len(s.cron.Entries()) > 0
}

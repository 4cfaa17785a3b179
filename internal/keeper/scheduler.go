package keeper

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
)

// Scheduler runs keeper cycles on a cron schedule.
type Scheduler struct {
	ctx    context.Context
	cron   *cron.Cron
	keeper *Keeper
}

// NewScheduler registers k to run on spec, a cron expression with a leading seconds field
// (e.g. "0 */15 * * * *").
func NewScheduler(ctx context.Context, k *Keeper, spec string) (*Scheduler, error) {
	s := &Scheduler{ctx: ctx, cron: cron.New(cron.WithSeconds()), keeper: k}
	if _, err := s.cron.AddFunc(spec, func() { s.run(ctx) }); err != nil {
		return nil, fmt.Errorf("register keeper cycle %q: %w", spec, err)
	}
	return s, nil
}

func (s *Scheduler) run(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := s.keeper.RunCycle(ctx); err != nil {
		if errors.Is(err, ErrCycleRunning) {
			s.keeper.logger.Warn().Msg("Skipping scheduled cycle, previous one still running")
			return
		}
		s.keeper.logger.Error().Err(err).Msg("Scheduled keeper cycle failed")
	}
}

// AddJob runs fn on spec next to the keeper cycle, e.g. to refresh oracle prices. Failures are logged.
func (s *Scheduler) AddJob(name, spec string, fn func(ctx context.Context) error) error {
	_, err := s.cron.AddFunc(spec, func() {
		if s.ctx.Err() != nil {
			return
		}
		if err := fn(s.ctx); err != nil {
			s.keeper.logger.Error().Err(err).Str("job", name).Msg("Scheduled job failed")
		}
	})
	if err != nil {
		return fmt.Errorf("register job %s %q: %w", name, spec, err)
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.keeper.logger.Info().Int("entries", len(s.cron.Entries())).Msg("Keeper scheduler started")
}

// Stop stops the scheduler and waits for a running cycle to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.keeper.logger.Info().Msg("Keeper scheduler stopped")
}

// RunNow executes a cycle immediately, outside the schedule.
func (s *Scheduler) RunNow(ctx context.Context) {
	s.run(ctx)
}

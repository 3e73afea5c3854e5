package orchestrator

import (
	"context"
	"time"

	"storybook/internal/domain"
	"storybook/internal/infra"
)

// Sweeper fails jobs that have sat in pending or processing longer than any
// run could take, which happens when a start message was lost or the process
// running them died.
type Sweeper struct {
	jobs       domain.JobRepository
	stuckAfter time.Duration
	interval   time.Duration
	logger     *infra.Logger
	now        func() time.Time
}

func NewSweeper(jobs domain.JobRepository, stuckAfter, interval time.Duration, logger *infra.Logger) *Sweeper {
	if logger == nil {
		logger = infra.NopLogger()
	}
	if stuckAfter <= 0 {
		stuckAfter = 15 * time.Minute
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		jobs:       jobs,
		stuckAfter: stuckAfter,
		interval:   interval,
		logger:     logger,
		now:        time.Now,
	}
}

// SweepOnce fails every stale pending or processing job and returns their ids.
func (s *Sweeper) SweepOnce(ctx context.Context) ([]string, error) {
	cutoff := s.now().Add(-s.stuckAfter)
	ids, err := s.jobs.FailStale(ctx, cutoff, "stalled: no progress for "+s.stuckAfter.String())
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		s.logger.Warn().Str("job_id", id).Msg("sweeper: marked stalled job failed")
	}
	return ids, nil
}

// Run sweeps on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error().Err(err).Msg("sweeper: sweep failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

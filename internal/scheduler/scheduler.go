package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// JobFunc is invoked on every interval.
type JobFunc func(ctx context.Context) error

// Options tune scheduler behaviour.
type Options struct {
	// Name tags log lines; one scheduler drives one recurring job.
	Name     string
	Interval time.Duration
	// StartupDelay postpones the first run, giving the rest of the process
	// time to settle after a restart.
	StartupDelay time.Duration
}

// Scheduler drives periodic execution of one background job. Job errors are
// logged and the cadence continues; only context cancellation stops the loop.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	return &Scheduler{
		opts: opts,
		logger: logger.With().
			Str("component", "scheduler").
			Str("job", opts.Name).
			Logger(),
	}
}

// Run blocks, invoking the job at each interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, job JobFunc) error {
	if s.opts.StartupDelay > 0 {
		timer := time.NewTimer(s.opts.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		started := time.Now()
		s.logger.Debug().Msg("executing scheduled job")

		if err := job(ctx); err != nil {
			s.logger.Error().Err(err).Dur("took", time.Since(started)).Msg("job execution failed")
			continue
		}
		s.logger.Debug().Dur("took", time.Since(started)).Msg("job finished")
	}
}

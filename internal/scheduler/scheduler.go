// Package scheduler runs the refresh pipeline on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/eunmann/shab-cache/internal/refresh"
	"github.com/eunmann/shab-cache/pkg/logging"
)

// Runner is the job run on every tick.
type Runner interface {
	Run(ctx context.Context) (refresh.Outcome, error)
	Running() bool
}

// Scheduler triggers Runner on a standard five-field cron spec. A tick that
// finds a refresh in flight is skipped.
type Scheduler struct {
	cron   *cron.Cron
	runner Runner
	spec   string
	log    zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	ran     atomic.Int64
	skipped atomic.Int64
}

// Option configures a Scheduler.
type Option func(*options)

type options struct {
	loc *time.Location
}

// WithLocation sets the time zone the spec is evaluated in. Default: local.
func WithLocation(loc *time.Location) Option {
	return func(o *options) { o.loc = loc }
}

// New creates a Scheduler. The spec is validated here.
func New(spec string, runner Runner, opts ...Option) (*Scheduler, error) {
	o := options{loc: time.Local}
	for _, opt := range opts {
		opt(&o)
	}

	log := logging.WithPhase("scheduler")
	clog := cronLogger{log: log}
	c := cron.New(
		cron.WithLocation(o.loc),
		cron.WithLogger(clog),
		cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
	)

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron:   c,
		runner: runner,
		spec:   spec,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}
	if _, err := c.AddFunc(spec, s.tick); err != nil {
		cancel()
		return nil, fmt.Errorf("schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start begins firing in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Str("schedule", s.spec).Time("next", s.Next()).Msg("scheduler started")
}

// Stop prevents further ticks, cancels a refresh started by a tick and waits
// for it to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.log.Info().Msg("scheduler stopped")
}

// Next returns the next activation time, or the zero time before Start.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// Stats returns how many ticks ran a refresh and how many were skipped.
func (s *Scheduler) Stats() (ran, skipped int64) {
	return s.ran.Load(), s.skipped.Load()
}

func (s *Scheduler) tick() {
	if s.runner.Running() {
		s.skipped.Add(1)
		s.log.Info().Msg("refresh in progress, skipping scheduled run")
		return
	}

	s.log.Info().Msg("scheduled refresh triggered")
	_, err := s.runner.Run(s.ctx)
	if errors.Is(err, refresh.ErrAlreadyRunning) {
		s.skipped.Add(1)
		s.log.Info().Msg("refresh in progress, skipping scheduled run")
		return
	}
	s.ran.Add(1)
	if err != nil {
		s.log.Error().Err(err).Msg("scheduled refresh failed")
	}
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}

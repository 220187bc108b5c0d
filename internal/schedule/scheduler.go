// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package schedule triggers recurring jobs on cron specs. A job never
// overlaps with itself and a panicking job does not stop the scheduler.
package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/pdiddy/lumi-engine/internal/logging"
)

const (
	DefaultIngestSpec = "*/30 * * * *"
	DefaultSweepSpec  = "@every 1h"
)

// Job is one scheduled unit of work. It receives the scheduler context.
type Job func(ctx context.Context) error

// Scheduler wraps a cron runner.
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger
	ctx  context.Context
	stop context.CancelFunc
}

// New returns a stopped Scheduler. Jobs see a context that is cancelled by
// Stop.
func New() *Scheduler {
	log := logging.Component("schedule")
	cl := cronLogger{log: log}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.SkipIfStillRunning(cl),
			cron.Recover(cl),
		)),
		log:  log,
		ctx:  ctx,
		stop: cancel,
	}
}

// Add registers fn under name on spec (standard five-field cron or a
// descriptor such as "@every 1h").
func (s *Scheduler) Add(name, spec string, fn Job) error {
	_, err := s.cron.AddFunc(spec, func() {
		start := time.Now()
		if err := fn(s.ctx); err != nil {
			s.log.Warn().Err(err).Str("job", name).Dur("elapsed", time.Since(start)).Msg("scheduled job failed")
			return
		}
		s.log.Debug().Str("job", name).Dur("elapsed", time.Since(start)).Msg("scheduled job finished")
	})
	if err != nil {
		return fmt.Errorf("scheduling %s on %q: %w", name, spec, err)
	}
	s.log.Info().Str("job", name).Str("spec", spec).Msg("job scheduled")
	return nil
}

// Start begins running jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop cancels the job context and waits for running jobs to return or
// ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.stop()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Entries returns the number of registered jobs.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}

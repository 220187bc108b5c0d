// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package work runs background tasks on a fixed set of workers fed by a
// bounded queue. Submission never blocks: a full queue rejects the task so
// overload is visible to the caller and in metrics instead of piling up
// goroutines.
package work

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/pdiddy/lumi-engine/internal/logging"
	"github.com/pdiddy/lumi-engine/internal/metrics"
)

var (
	// ErrQueueFull is returned by Submit when the queue has no free slot.
	ErrQueueFull = errors.New("work queue full")

	// ErrPoolClosed is returned by Submit after Stop.
	ErrPoolClosed = errors.New("work pool closed")
)

// Task is one unit of background work. Run receives a context that is
// cancelled when the task times out or the pool stops.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Config sizes a Pool.
type Config struct {
	// Name labels log lines and metrics.
	Name string

	// Workers is the number of concurrent tasks (default runtime.NumCPU()).
	Workers int

	// QueueSize is the number of tasks that may wait for a worker (default 256).
	QueueSize int

	// TaskTimeout bounds each task; zero means no per-task limit.
	TaskTimeout time.Duration
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	Queued    int64
	Running   int64
	Submitted int64
	Rejected  int64
	Completed int64
	Failed    int64
	Panicked  int64
}

// Outstanding is the number of accepted tasks that have not finished.
func (s Stats) Outstanding() int64 {
	return s.Queued + s.Running
}

// Pool is a bounded worker pool.
type Pool struct {
	cfg   Config
	queue chan Task
	log   zerolog.Logger

	mu      sync.RWMutex
	closed  bool
	started bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	queued    atomic.Int64
	running   atomic.Int64
	submitted atomic.Int64
	rejected  atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	panicked  atomic.Int64
}

// NewPool creates a pool. Call Start before tasks run; tasks submitted
// earlier wait in the queue.
func NewPool(cfg Config) *Pool {
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	return &Pool{
		cfg:   cfg,
		queue: make(chan Task, cfg.QueueSize),
		log:   logging.Component("work").With().Str("pool", cfg.Name).Logger(),
	}
}

// Start launches the workers. Tasks see a context derived from ctx.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	p.ctx, p.cancel = context.WithCancel(ctx)

	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	p.log.Info().Int("workers", p.cfg.Workers).Int("queue", p.cfg.QueueSize).Msg("work pool started")
}

// Submit enqueues t without blocking.
func (p *Pool) Submit(t Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	// Count before the send so a fast worker never decrements first.
	p.queued.Add(1)
	select {
	case p.queue <- t:
		p.submitted.Add(1)
		metrics.PoolTasks.WithLabelValues(p.cfg.Name, "submitted").Inc()
		metrics.PoolQueued.WithLabelValues(p.cfg.Name).Inc()
		return nil
	default:
		p.queued.Add(-1)
		p.rejected.Add(1)
		metrics.PoolTasks.WithLabelValues(p.cfg.Name, "rejected").Inc()
		return ErrQueueFull
	}
}

// Outstanding returns the number of accepted tasks that have not finished.
func (p *Pool) Outstanding() int {
	return int(p.queued.Load() + p.running.Load())
}

// Stats returns current counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Queued:    p.queued.Load(),
		Running:   p.running.Load(),
		Submitted: p.submitted.Load(),
		Rejected:  p.rejected.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Panicked:  p.panicked.Load(),
	}
}

// Wait blocks until no task is outstanding or ctx is done.
func (p *Pool) Wait(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		if p.Outstanding() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Stop refuses new tasks, lets workers drain the queue, and waits for them.
// Running tasks see their context cancelled only if the parent context of
// Start is cancelled.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	started := p.started
	p.mu.Unlock()

	if started {
		p.wg.Wait()
		p.cancel()
	}
	s := p.Stats()
	p.log.Info().
		Int64("completed", s.Completed).
		Int64("failed", s.Failed).
		Int64("rejected", s.Rejected).
		Msg("work pool stopped")
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for t := range p.queue {
		p.queued.Add(-1)
		metrics.PoolQueued.WithLabelValues(p.cfg.Name).Dec()
		p.execute(t)
	}
}

func (p *Pool) execute(t Task) {
	p.running.Add(1)
	metrics.PoolRunning.WithLabelValues(p.cfg.Name).Inc()
	start := time.Now()

	ctx := p.ctx
	var cancel context.CancelFunc = func() {}
	if p.cfg.TaskTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, p.cfg.TaskTimeout)
	}

	err := p.run(ctx, t)
	cancel()

	p.running.Add(-1)
	metrics.PoolRunning.WithLabelValues(p.cfg.Name).Dec()
	metrics.PoolTaskDuration.WithLabelValues(p.cfg.Name).Observe(time.Since(start).Seconds())

	if err != nil {
		p.failed.Add(1)
		metrics.PoolTasks.WithLabelValues(p.cfg.Name, "failed").Inc()
		p.log.Warn().Err(err).Str("task", t.Name).Msg("task failed")
		return
	}
	p.completed.Add(1)
	metrics.PoolTasks.WithLabelValues(p.cfg.Name, "completed").Inc()
}

// run calls t.Run and converts a panic into an error.
func (p *Pool) run(ctx context.Context, t Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.panicked.Add(1)
			metrics.PoolTasks.WithLabelValues(p.cfg.Name, "panicked").Inc()
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	if t.Run == nil {
		return errors.New("no work function")
	}
	return t.Run(ctx)
}

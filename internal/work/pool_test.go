// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package work

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitIdle(t *testing.T, p *Pool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Wait(ctx))
}

func TestPoolRunsTasks(t *testing.T) {
	p := NewPool(Config{Name: "test-run", Workers: 3, QueueSize: 10})
	p.Start(context.Background())
	defer p.Stop()

	var ran atomic.Int32
	for i := 0; i < 10; i++ {
		require.NoError(t, p.Submit(Task{Name: "inc", Run: func(context.Context) error {
			ran.Add(1)
			return nil
		}}))
	}
	waitIdle(t, p)

	assert.Equal(t, int32(10), ran.Load())
	s := p.Stats()
	assert.Equal(t, int64(10), s.Submitted)
	assert.Equal(t, int64(10), s.Completed)
	assert.Equal(t, int64(0), s.Outstanding())
}

func TestPoolQueueFull(t *testing.T) {
	p := NewPool(Config{Name: "test-full", Workers: 1, QueueSize: 1})
	release := make(chan struct{})
	started := make(chan struct{})
	p.Start(context.Background())
	defer p.Stop()

	require.NoError(t, p.Submit(Task{Name: "blocker", Run: func(context.Context) error {
		close(started)
		<-release
		return nil
	}}))
	<-started

	require.NoError(t, p.Submit(Task{Name: "queued", Run: func(context.Context) error { return nil }}))
	err := p.Submit(Task{Name: "overflow", Run: func(context.Context) error { return nil }})
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, 2, p.Outstanding())
	assert.Equal(t, int64(1), p.Stats().Rejected)

	close(release)
	waitIdle(t, p)
	assert.Equal(t, 0, p.Outstanding())
}

func TestPoolIsolatesFailuresAndPanics(t *testing.T) {
	p := NewPool(Config{Name: "test-isolate", Workers: 2, QueueSize: 10})
	p.Start(context.Background())
	defer p.Stop()

	var ok atomic.Int32
	require.NoError(t, p.Submit(Task{Name: "fails", Run: func(context.Context) error { return errors.New("boom") }}))
	require.NoError(t, p.Submit(Task{Name: "panics", Run: func(context.Context) error { panic("kaboom") }}))
	require.NoError(t, p.Submit(Task{Name: "nil"}))
	for i := 0; i < 3; i++ {
		require.NoError(t, p.Submit(Task{Name: "ok", Run: func(context.Context) error {
			ok.Add(1)
			return nil
		}}))
	}
	waitIdle(t, p)

	s := p.Stats()
	assert.Equal(t, int32(3), ok.Load())
	assert.Equal(t, int64(3), s.Completed)
	assert.Equal(t, int64(3), s.Failed)
	assert.Equal(t, int64(1), s.Panicked)
}

func TestPoolTaskTimeout(t *testing.T) {
	p := NewPool(Config{Name: "test-timeout", Workers: 1, QueueSize: 1, TaskTimeout: 20 * time.Millisecond})
	p.Start(context.Background())
	defer p.Stop()

	var gotErr atomic.Value
	require.NoError(t, p.Submit(Task{Name: "slow", Run: func(ctx context.Context) error {
		<-ctx.Done()
		gotErr.Store(ctx.Err())
		return ctx.Err()
	}}))
	waitIdle(t, p)

	assert.ErrorIs(t, gotErr.Load().(error), context.DeadlineExceeded)
	assert.Equal(t, int64(1), p.Stats().Failed)
}

func TestPoolStopDrainsAndRejects(t *testing.T) {
	p := NewPool(Config{Name: "test-stop", Workers: 1, QueueSize: 5})

	var ran atomic.Int32
	for i := 0; i < 3; i++ {
		require.NoError(t, p.Submit(Task{Name: "queued", Run: func(context.Context) error {
			ran.Add(1)
			return nil
		}}))
	}
	assert.Equal(t, 3, p.Outstanding(), "tasks wait until Start")

	p.Start(context.Background())
	p.Stop()

	assert.Equal(t, int32(3), ran.Load())
	assert.ErrorIs(t, p.Submit(Task{Name: "late"}), ErrPoolClosed)
	p.Stop() // idempotent
}

func TestPoolWaitHonorsContext(t *testing.T) {
	p := NewPool(Config{Name: "test-wait", Workers: 1, QueueSize: 1})
	release := make(chan struct{})
	p.Start(context.Background())
	defer func() {
		close(release)
		p.Stop()
	}()

	require.NoError(t, p.Submit(Task{Name: "blocker", Run: func(context.Context) error {
		<-release
		return nil
	}}))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Wait(ctx), context.DeadlineExceeded)
}

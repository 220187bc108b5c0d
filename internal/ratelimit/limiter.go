// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package ratelimit bounds how often a key may perform an operation using a
// sliding log of request timestamps.
//
// State lives in process memory. Two lumi-engine processes do not share
// counts, so a deployment with several instances admits up to limit
// requests per instance; such deployments need a shared counter store.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/pdiddy/lumi-engine/internal/metrics"
)

// DefaultMaxKeys is the key count above which Allow sweeps idle keys inline.
const DefaultMaxKeys = 10000

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Remaining int
}

type entry struct {
	hits   []time.Time
	window time.Duration
}

// Limiter is a per-key sliding log limiter. The zero value is not usable;
// call New.
type Limiter struct {
	mu      sync.Mutex
	keys    map[string]*entry
	maxKeys int
	now     func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithMaxKeys sets the inline sweep threshold.
func WithMaxKeys(n int) Option {
	return func(l *Limiter) {
		if n > 0 {
			l.maxKeys = n
		}
	}
}

// New returns an empty Limiter.
func New(opts ...Option) *Limiter {
	l := &Limiter{
		keys:    make(map[string]*entry),
		maxKeys: DefaultMaxKeys,
		now:     time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Allow admits the request iff fewer than limit requests for key happened
// within the trailing window, and records it when admitted.
func (l *Limiter) Allow(key string, limit int, window time.Duration) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	e, ok := l.keys[key]
	if !ok {
		e = &entry{}
		l.keys[key] = e
	}
	e.window = window
	e.hits = prune(e.hits, now.Add(-window))

	if len(e.hits) >= limit {
		metrics.RateLimitDecisions.WithLabelValues("denied").Inc()
		return Decision{Allowed: false, Remaining: 0}
	}

	e.hits = append(e.hits, now)
	if len(l.keys) > l.maxKeys {
		l.sweepLocked(now)
	}
	metrics.RateLimitDecisions.WithLabelValues("allowed").Inc()
	return Decision{Allowed: true, Remaining: limit - len(e.hits)}
}

// Sweep drops keys with no request inside their window and returns how many
// were removed.
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sweepLocked(l.now())
}

func (l *Limiter) sweepLocked(now time.Time) int {
	removed := 0
	for k, e := range l.keys {
		e.hits = prune(e.hits, now.Add(-e.window))
		if len(e.hits) == 0 {
			delete(l.keys, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.keys)
}

// Run sweeps every interval (one minute when not positive) until ctx is done.
func (l *Limiter) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}

// prune drops timestamps at or before cutoff. hits is in ascending order.
func prune(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return hits
	}
	return append(hits[:0], hits[i:]...)
}

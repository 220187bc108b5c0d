// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package ingest runs ingestion cycles: it fetches every configured feed,
// deduplicates candidates through the store's conditional insert, and hands
// each new article to a background worker for acquisition, enrichment, and
// persistence.
package ingest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/pdiddy/lumi-engine/internal/acquire"
	"github.com/pdiddy/lumi-engine/internal/enrich"
	"github.com/pdiddy/lumi-engine/internal/logging"
	"github.com/pdiddy/lumi-engine/internal/metrics"
	"github.com/pdiddy/lumi-engine/internal/store"
	"github.com/pdiddy/lumi-engine/internal/work"
	"github.com/pdiddy/lumi-engine/pkg/types"
)

// ErrCycleRunning is returned by Run while another cycle of the same
// orchestrator is in progress.
var ErrCycleRunning = errors.New("ingestion cycle already running")

// Fetcher returns the candidates of one feed.
type Fetcher interface {
	Fetch(ctx context.Context, src types.Source) ([]types.Candidate, error)
}

// Acquirer returns the best available text and image for an article link.
type Acquirer interface {
	Acquire(ctx context.Context, link, snippet, imageURL string) acquire.Content
}

// Enricher annotates article text.
type Enricher interface {
	Enrich(ctx context.Context, title, text string) (enrich.Annotation, error)
}

// Dispatcher accepts background tasks without blocking.
type Dispatcher interface {
	Submit(t work.Task) error
}

// Config tunes an Orchestrator.
type Config struct {
	Sources []types.Source

	// FetchConcurrency bounds parallel feed fetches (default 4).
	FetchConcurrency int

	// FetchRatePerSecond paces feed fetches; zero or less means unpaced.
	FetchRatePerSecond float64

	// WriteRetries is the number of retries of a retryable enrichment
	// write (default 3).
	WriteRetries int

	Sweep types.SweepConfig
}

// CycleSummary counts the outcome of one Run.
type CycleSummary struct {
	Sources       int `json:"sources"`
	FailedSources int `json:"failed_sources"`
	Candidates    int `json:"candidates"`
	Created       int `json:"created"`
	Skipped       int `json:"skipped"`
	Dispatched    int `json:"dispatched"`
	Rejected      int `json:"rejected"`
	Invalid       int `json:"invalid"`
	Errors        int `json:"errors"`
}

// Orchestrator runs ingestion cycles and stale stub sweeps.
type Orchestrator struct {
	cfg      Config
	fetcher  Fetcher
	acquirer Acquirer
	enricher Enricher
	store    store.Articles
	pool     Dispatcher
	limiter  *rate.Limiter
	log      zerolog.Logger
	now      func() time.Time

	running atomic.Bool

	mu       sync.Mutex
	inflight map[string]struct{}
}

// New returns an Orchestrator. Tasks are submitted to pool, which the
// caller starts and stops.
func New(cfg Config, f Fetcher, a Acquirer, e Enricher, s store.Articles, pool Dispatcher) *Orchestrator {
	if cfg.FetchConcurrency <= 0 {
		cfg.FetchConcurrency = 4
	}
	if cfg.WriteRetries < 0 {
		cfg.WriteRetries = 0
	} else if cfg.WriteRetries == 0 {
		cfg.WriteRetries = 3
	}
	if cfg.Sweep.StaleAfter <= 0 {
		cfg.Sweep.StaleAfter = time.Hour
	}
	if cfg.Sweep.MaxAttempts <= 0 {
		cfg.Sweep.MaxAttempts = 3
	}
	if cfg.Sweep.BatchSize <= 0 {
		cfg.Sweep.BatchSize = 50
	}

	limit := rate.Inf
	if cfg.FetchRatePerSecond > 0 {
		limit = rate.Limit(cfg.FetchRatePerSecond)
	}

	return &Orchestrator{
		cfg:      cfg,
		fetcher:  f,
		acquirer: a,
		enricher: e,
		store:    s,
		pool:     pool,
		limiter:  rate.NewLimiter(limit, cfg.FetchConcurrency),
		log:      logging.Component("ingest"),
		now:      time.Now,
		inflight: make(map[string]struct{}),
	}
}

// Run performs one cycle over all sources. It returns once every source was
// fetched and deduplicated; enrichment continues on the pool. One failing
// source never aborts the cycle. The error is non-nil only when ctx ends
// the cycle early or another cycle is running.
func (o *Orchestrator) Run(ctx context.Context) (CycleSummary, error) {
	if !o.running.CompareAndSwap(false, true) {
		return CycleSummary{}, ErrCycleRunning
	}
	defer o.running.Store(false)

	start := time.Now()
	var (
		mu  sync.Mutex
		sum CycleSummary
	)
	merge := func(s CycleSummary) {
		mu.Lock()
		defer mu.Unlock()
		sum.Sources += s.Sources
		sum.FailedSources += s.FailedSources
		sum.Candidates += s.Candidates
		sum.Created += s.Created
		sum.Skipped += s.Skipped
		sum.Dispatched += s.Dispatched
		sum.Rejected += s.Rejected
		sum.Invalid += s.Invalid
		sum.Errors += s.Errors
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.FetchConcurrency)
	for _, src := range o.cfg.Sources {
		g.Go(func() error {
			if err := o.limiter.Wait(gctx); err != nil {
				return err
			}
			merge(o.ingestSource(gctx, src))
			return nil
		})
	}
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}

	metrics.CycleDuration.Observe(time.Since(start).Seconds())
	o.log.Info().
		Int("sources", sum.Sources).
		Int("failed_sources", sum.FailedSources).
		Int("candidates", sum.Candidates).
		Int("created", sum.Created).
		Int("skipped", sum.Skipped).
		Int("dispatched", sum.Dispatched).
		Int("rejected", sum.Rejected).
		Dur("elapsed", time.Since(start)).
		Msg("ingestion cycle finished")
	return sum, err
}

func (o *Orchestrator) ingestSource(ctx context.Context, src types.Source) CycleSummary {
	sum := CycleSummary{Sources: 1}
	log := o.log.With().Str("source", src.Label).Logger()

	candidates, err := o.fetcher.Fetch(ctx, src)
	if err != nil {
		log.Debug().Err(err).Msg("source skipped this cycle")
		metrics.IngestSources.WithLabelValues("failed").Inc()
		sum.FailedSources = 1
		return sum
	}
	metrics.IngestSources.WithLabelValues("ok").Inc()

	for _, c := range candidates {
		sum.Candidates++
		if c.Link == "" {
			sum.Invalid++
			metrics.IngestCandidates.WithLabelValues("invalid").Inc()
			continue
		}

		stub := types.Article{
			ID:          store.ArticleID(c.Link),
			SourceURL:   c.Link,
			Title:       c.Title,
			Source:      src.Label,
			PublishedAt: c.PublishedAt,
			ImageURL:    c.ImageURL,
			Snippet:     c.Snippet,
			CreatedAt:   o.now().UTC(),
		}
		if stub.Source == "" {
			stub.Source = c.Source
		}

		created, err := o.store.CreateStub(ctx, stub)
		if err != nil {
			log.Warn().Err(err).Str("url", c.Link).Msg("creating stub failed")
			metrics.IngestCandidates.WithLabelValues("error").Inc()
			sum.Errors++
			continue
		}
		if !created {
			sum.Skipped++
			metrics.IngestCandidates.WithLabelValues("duplicate").Inc()
			continue
		}
		sum.Created++
		metrics.IngestCandidates.WithLabelValues("created").Inc()

		if err := o.dispatch(stub); err != nil {
			// The stub stays; a later sweep picks it up.
			log.Warn().Err(err).Str("article", stub.ID).Msg("enrichment not dispatched")
			sum.Rejected++
			continue
		}
		sum.Dispatched++
	}

	log.Debug().Int("candidates", sum.Candidates).Int("created", sum.Created).Msg("source ingested")
	return sum
}

var errInFlight = errors.New("enrichment already in flight")

// dispatch submits the enrichment task for a unless one is already queued
// or running in this process.
func (o *Orchestrator) dispatch(a types.Article) error {
	o.mu.Lock()
	if _, ok := o.inflight[a.ID]; ok {
		o.mu.Unlock()
		return errInFlight
	}
	o.inflight[a.ID] = struct{}{}
	o.mu.Unlock()

	err := o.pool.Submit(work.Task{
		Name: "enrich " + a.ID,
		Run: func(ctx context.Context) error {
			defer o.release(a.ID)
			return o.enrichArticle(ctx, a)
		},
	})
	if err != nil {
		o.release(a.ID)
		return err
	}
	return nil
}

func (o *Orchestrator) release(id string) {
	o.mu.Lock()
	delete(o.inflight, id)
	o.mu.Unlock()
}

// InFlight returns the number of articles queued or running in this process.
func (o *Orchestrator) InFlight() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.inflight)
}

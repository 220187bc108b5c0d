// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pdiddy/lumi-engine/internal/acquire"
	"github.com/pdiddy/lumi-engine/internal/enrich"
	"github.com/pdiddy/lumi-engine/internal/feed"
	"github.com/pdiddy/lumi-engine/internal/ingest"
	"github.com/pdiddy/lumi-engine/internal/personalize"
	"github.com/pdiddy/lumi-engine/internal/ratelimit"
	"github.com/pdiddy/lumi-engine/internal/rewrite"
	"github.com/pdiddy/lumi-engine/internal/secrets"
	"github.com/pdiddy/lumi-engine/internal/store"
	"github.com/pdiddy/lumi-engine/internal/store/postgres"
	"github.com/pdiddy/lumi-engine/internal/tonecache"
	"github.com/pdiddy/lumi-engine/internal/work"
	"github.com/pdiddy/lumi-engine/pkg/types"
)

// openStore opens the configured canonical store.
func openStore(cfg types.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case types.DriverPostgres:
		if cfg.DSN == "" {
			return nil, fmt.Errorf("store.dsn is required for the postgres driver (or add .secrets/%s)", secrets.PostgresDSN)
		}
		pg, err := postgres.Open(cfg.DSN)
		if err != nil {
			return nil, err
		}
		return pg, nil
	default:
		if dir := filepath.Dir(cfg.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("creating %s: %w", dir, err)
			}
		}
		lite, err := store.OpenSQLite(cfg.Path)
		if err != nil {
			return nil, err
		}
		return lite, nil
	}
}

// newEnricher builds the AI adapter for the configured provider.
func newEnricher(cfg types.AIConfig) (*enrich.Enricher, error) {
	backend, err := enrich.NewBackend(cfg, nil)
	if err != nil {
		return nil, err
	}
	return enrich.New(backend, cfg), nil
}

// pipeline is the ingestion side: the orchestrator and the pool that runs
// its enrichment tasks.
type pipeline struct {
	pool *work.Pool
	orch *ingest.Orchestrator
}

func newPipeline(cfg types.Config, st store.Store) (*pipeline, error) {
	sources, err := feed.LoadSources(cfg.Ingest.SourcesFile)
	if err != nil {
		return nil, err
	}
	enricher, err := newEnricher(cfg.AI)
	if err != nil {
		return nil, err
	}

	pool := work.NewPool(work.Config{
		Name:        "enrich",
		Workers:     cfg.Work.Workers,
		QueueSize:   cfg.Work.QueueSize,
		TaskTimeout: cfg.Work.TaskTimeout,
	})
	orch := ingest.New(ingest.Config{
		Sources:            sources,
		FetchConcurrency:   cfg.Ingest.FetchConcurrency,
		FetchRatePerSecond: cfg.Ingest.FetchRatePerSecond,
		WriteRetries:       cfg.Store.WriteRetries,
		Sweep:              cfg.Sweep,
	}, feed.NewFetcher(cfg.HTTP), acquire.New(cfg.HTTP), enricher, st, pool)

	return &pipeline{pool: pool, orch: orch}, nil
}

func newEngine(cfg types.RankConfig, st store.Store) *personalize.Engine {
	return personalize.New(st,
		personalize.WithWindow(cfg.Window),
		personalize.WithCandidateLimit(cfg.CandidateLimit),
	)
}

// newRewriter builds the rewrite service with its own limiter and cache.
// The caller closes the returned cache.
func newRewriter(cfg types.Config, st store.Store, limiter *ratelimit.Limiter) (*rewrite.Service, *tonecache.Cache, error) {
	enricher, err := newEnricher(cfg.AI)
	if err != nil {
		return nil, nil, err
	}
	cache, err := tonecache.New(cfg.Rewrite.CacheBytes)
	if err != nil {
		return nil, nil, err
	}
	svc := rewrite.New(rewrite.Config{
		Limit:  cfg.Rewrite.Limit,
		Window: cfg.Rewrite.Window,
	}, st, enricher, limiter, cache)
	return svc, cache, nil
}

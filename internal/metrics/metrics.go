// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package metrics declares the Prometheus collectors exported by lumi-engine.
// Collectors register with the default registry on package init; the serve
// command exposes them over HTTP.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "lumi"

var (
	// Worker pool.
	PoolQueued = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "work",
			Name:      "queued_tasks",
			Help:      "Tasks accepted but not yet started",
		},
		[]string{"pool"},
	)

	PoolRunning = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "work",
			Name:      "running_tasks",
			Help:      "Tasks currently executing",
		},
		[]string{"pool"},
	)

	PoolTasks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "work",
			Name:      "tasks_total",
			Help:      "Task lifecycle events by outcome",
		},
		[]string{"pool", "outcome"}, // submitted, rejected, completed, failed, panicked
	)

	PoolTaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "work",
			Name:      "task_duration_seconds",
			Help:      "Task execution time",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"pool"},
	)

	// Ingestion.
	IngestSources = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "sources_total",
			Help:      "Feed fetches by outcome",
		},
		[]string{"outcome"}, // ok, failed
	)

	IngestCandidates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "candidates_total",
			Help:      "Feed candidates by dedup outcome",
		},
		[]string{"outcome"}, // created, duplicate, invalid, error
	)

	Enrichments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "enrichments_total",
			Help:      "Enrichment task results",
		},
		[]string{"outcome"}, // enriched, insufficient_content, call_failure, parse_failure, persist_failure, duplicate
	)

	CycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "cycle_duration_seconds",
			Help:      "Fetch and dedup time of one ingestion cycle",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		},
	)

	// Enrichment backend.
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ai",
			Name:      "breaker_state",
			Help:      "Circuit breaker state: 0 closed, 1 half-open, 2 open",
		},
		[]string{"name"},
	)

	// Rate limiting and rewrite.
	RateLimitDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "decisions_total",
			Help:      "Rate limiter decisions",
		},
		[]string{"decision"}, // allowed, denied
	)

	RewriteCache = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rewrite",
			Name:      "cache_total",
			Help:      "Tone rewrite cache lookups",
		},
		[]string{"result"}, // hit, miss
	)

	// Preferences.
	WeightUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "prefs",
			Name:      "weight_updates_total",
			Help:      "Topic weight increments by outcome",
		},
		[]string{"outcome"}, // ok, failed
	)
)

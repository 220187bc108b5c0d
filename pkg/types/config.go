// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// LogConfig selects log verbosity and encoding.
type LogConfig struct {
	// Level is one of trace, debug, info, warn, error (default info).
	Level string `json:"level" yaml:"level" mapstructure:"level"`

	// Format is json or console (default json).
	Format string `json:"format" yaml:"format" mapstructure:"format"`
}

// HTTPConfig holds shared HTTP settings used by stages that make network requests.
type HTTPConfig struct {
	// Timeout is the HTTP request timeout.
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`

	// UserAgent is the User-Agent header sent with HTTP requests
	// (e.g. "lumi-engine/0.1").
	UserAgent string `json:"user_agent" yaml:"user_agent" mapstructure:"user_agent"`

	// MaxRetries bounds retries on HTTP 429 and 503 responses (default 2).
	MaxRetries int `json:"max_retries" yaml:"max_retries" mapstructure:"max_retries"`
}

// AIProvider names the generative backend used for enrichment.
type AIProvider string

const (
	ProviderGemini AIProvider = "gemini"
	ProviderClaude AIProvider = "claude"
)

// AIConfig holds settings for the enrichment and rewrite calls.
type AIConfig struct {
	// Provider selects the backend: gemini or claude.
	Provider AIProvider `json:"provider" yaml:"provider" mapstructure:"provider"`

	// Model is the AI model identifier (e.g. "gemini-2.5-flash-lite").
	Model string `json:"model" yaml:"model" mapstructure:"model"`

	// APIKey is the authentication key for the AI API. Falls back to the
	// gemini-api-key or anthropic-api-key secret.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty" mapstructure:"api_key"`

	// Timeout bounds a single completion call (default 60s).
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`

	// BreakerFailures is the number of consecutive call failures that opens
	// the circuit breaker (default 5).
	BreakerFailures uint32 `json:"breaker_failures" yaml:"breaker_failures" mapstructure:"breaker_failures"`

	// BreakerCooldown is how long the breaker stays open before probing (default 1m).
	BreakerCooldown time.Duration `json:"breaker_cooldown" yaml:"breaker_cooldown" mapstructure:"breaker_cooldown"`
}

// StoreDriver names a storage backend.
type StoreDriver string

const (
	DriverSQLite   StoreDriver = "sqlite"
	DriverPostgres StoreDriver = "postgres"
)

// StoreConfig selects and locates the canonical store.
type StoreConfig struct {
	// Driver is sqlite (default) or postgres.
	Driver StoreDriver `json:"driver" yaml:"driver" mapstructure:"driver"`

	// Path is the SQLite database file (default data/lumi.db).
	Path string `json:"path" yaml:"path" mapstructure:"path"`

	// DSN is the Postgres connection string. Falls back to the postgres-dsn secret.
	DSN string `json:"dsn,omitempty" yaml:"dsn,omitempty" mapstructure:"dsn"`

	// WriteRetries is how many times a retryable enrichment write is
	// retried (default 3).
	WriteRetries int `json:"write_retries" yaml:"write_retries" mapstructure:"write_retries"`
}

// IngestConfig holds settings for the ingestion cycle.
type IngestConfig struct {
	// SourcesFile is an optional YAML list of feeds replacing the built-in list.
	SourcesFile string `json:"sources_file,omitempty" yaml:"sources_file,omitempty" mapstructure:"sources_file"`

	// FetchConcurrency bounds parallel feed fetches (default 4).
	FetchConcurrency int `json:"fetch_concurrency" yaml:"fetch_concurrency" mapstructure:"fetch_concurrency"`

	// FetchRatePerSecond paces feed fetches across the cycle (default 5).
	FetchRatePerSecond float64 `json:"fetch_rate_per_second" yaml:"fetch_rate_per_second" mapstructure:"fetch_rate_per_second"`
}

// WorkConfig sizes the enrichment worker pool.
type WorkConfig struct {
	Workers     int           `json:"workers" yaml:"workers" mapstructure:"workers"`
	QueueSize   int           `json:"queue_size" yaml:"queue_size" mapstructure:"queue_size"`
	TaskTimeout time.Duration `json:"task_timeout" yaml:"task_timeout" mapstructure:"task_timeout"`
}

// SweepConfig controls re-dispatch of stubs whose enrichment never landed.
type SweepConfig struct {
	// StaleAfter is the minimum age of a stub, or of its last failed
	// attempt, before it is retried (default 1h).
	StaleAfter time.Duration `json:"stale_after" yaml:"stale_after" mapstructure:"stale_after"`

	// MaxAttempts is the number of failed attempts after which a stub is
	// left alone for good (default 3).
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts" mapstructure:"max_attempts"`

	// BatchSize bounds the stubs re-dispatched per sweep (default 50).
	BatchSize int `json:"batch_size" yaml:"batch_size" mapstructure:"batch_size"`
}

// RankConfig tunes candidate selection for ranking.
type RankConfig struct {
	// Window is the freshness window on enrichment time (default 48h).
	Window time.Duration `json:"window" yaml:"window" mapstructure:"window"`

	// CandidateLimit bounds the candidates scored per request (default 100).
	CandidateLimit int `json:"candidate_limit" yaml:"candidate_limit" mapstructure:"candidate_limit"`

	// DefaultCount is the list length when the caller gives none (default 20).
	DefaultCount int `json:"default_count" yaml:"default_count" mapstructure:"default_count"`
}

// RewriteConfig limits and caches tone rewrites.
type RewriteConfig struct {
	// Limit is the number of rewrites a user may request per Window (default 5).
	Limit int `json:"limit" yaml:"limit" mapstructure:"limit"`

	// Window is the rate limit window (default 1m).
	Window time.Duration `json:"window" yaml:"window" mapstructure:"window"`

	// CacheBytes bounds the rewrite cache (default 32 MiB).
	CacheBytes int64 `json:"cache_bytes" yaml:"cache_bytes" mapstructure:"cache_bytes"`
}

// ScheduleConfig holds cron specs for the serve command.
type ScheduleConfig struct {
	// Ingest is the ingestion cycle schedule (default "*/30 * * * *").
	Ingest string `json:"ingest" yaml:"ingest" mapstructure:"ingest"`

	// Sweep is the stale stub sweep schedule (default "@every 1h").
	Sweep string `json:"sweep" yaml:"sweep" mapstructure:"sweep"`
}

// MetricsConfig controls the Prometheus endpoint of the serve command.
type MetricsConfig struct {
	// Addr is the listen address; empty disables the endpoint (default ":9464").
	Addr string `json:"addr" yaml:"addr" mapstructure:"addr"`
}

// Config groups all settings for lumi-engine.
type Config struct {
	Log      LogConfig      `json:"log" yaml:"log" mapstructure:"log"`
	HTTP     HTTPConfig     `json:"http" yaml:"http" mapstructure:"http"`
	AI       AIConfig       `json:"ai" yaml:"ai" mapstructure:"ai"`
	Store    StoreConfig    `json:"store" yaml:"store" mapstructure:"store"`
	Ingest   IngestConfig   `json:"ingest" yaml:"ingest" mapstructure:"ingest"`
	Work     WorkConfig     `json:"work" yaml:"work" mapstructure:"work"`
	Sweep    SweepConfig    `json:"sweep" yaml:"sweep" mapstructure:"sweep"`
	Rank     RankConfig     `json:"rank" yaml:"rank" mapstructure:"rank"`
	Rewrite  RewriteConfig  `json:"rewrite" yaml:"rewrite" mapstructure:"rewrite"`
	Schedule ScheduleConfig `json:"schedule" yaml:"schedule" mapstructure:"schedule"`
	Metrics  MetricsConfig  `json:"metrics" yaml:"metrics" mapstructure:"metrics"`
}

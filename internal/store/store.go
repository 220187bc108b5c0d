// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package store persists articles, topic preferences, and reading history.
//
// The interfaces here are the storage boundary of the pipeline. SQLite is
// the default implementation (this package); a Postgres implementation lives
// in store/postgres. Both guarantee the same atomic primitives: CreateStub is
// a conditional insert keyed by the deterministic article id,
// CompleteEnrichment writes every enrichment field in one statement that
// applies only to unenriched rows, and IncrementTopicWeight is a single
// upsert-with-increment.
package store

import (
	"context"
	"time"

	"github.com/pdiddy/lumi-engine/pkg/types"
)

// Articles is the canonical article store.
type Articles interface {
	// CreateStub inserts a stub when no article with the same id or source
	// URL exists. It reports whether a row was created.
	CreateStub(ctx context.Context, a types.Article) (bool, error)

	// CompleteEnrichment sets the raw content, image, and every enrichment
	// field of an unenriched article. It returns ErrAlreadyEnriched when the
	// article was enriched before and ErrNotFound when it does not exist.
	CompleteEnrichment(ctx context.Context, id, rawContent, imageURL string, e types.Enrichment) error

	// RecordAttemptFailure increments the failed attempt count of an
	// unenriched article.
	RecordAttemptFailure(ctx context.Context, id string, at time.Time, reason string) error

	// Article returns one article or ErrNotFound.
	Article(ctx context.Context, id string) (types.Article, error)

	// EnrichedSince returns enriched articles with processed_at >= since,
	// most recently enriched first, at most limit rows.
	EnrichedSince(ctx context.Context, since time.Time, limit int) ([]types.Article, error)

	// StaleStubs returns unenriched articles with fewer than maxAttempts
	// failed attempts whose last attempt (or creation, if none) is at or
	// before cutoff, oldest first.
	StaleStubs(ctx context.Context, cutoff time.Time, maxAttempts, limit int) ([]types.Article, error)
}

// Preferences holds per-user topic weights.
type Preferences interface {
	// TopicWeights returns topic to weight for the user; an unknown user
	// yields an empty map.
	TopicWeights(ctx context.Context, userID string) (map[string]float64, error)

	// IncrementTopicWeight atomically adds delta to the weight, creating the
	// row at types.DefaultTopicWeight+delta when absent.
	IncrementTopicWeight(ctx context.Context, userID, topic string, delta float64) error

	// EnsureTopics creates rows at types.DefaultTopicWeight for topics the
	// user has no weight for. Existing weights are untouched.
	EnsureTopics(ctx context.Context, userID string, topics []string) error
}

// History holds reading history.
type History interface {
	// RecordReading merges e into the (user, article) entry.
	RecordReading(ctx context.Context, e types.ReadingEntry) error

	// ReadingEntry returns the entry for (user, article) or ErrNotFound.
	ReadingEntry(ctx context.Context, userID, articleID string) (types.ReadingEntry, error)

	// ReadArticleIDs returns every article id the user has an entry for.
	ReadArticleIDs(ctx context.Context, userID string) (map[string]struct{}, error)

	// ReadCountSince counts the user's entries with read_at >= since.
	ReadCountSince(ctx context.Context, userID string, since time.Time) (int, error)

	// AdvanceStreak counts the UTC day of at as a reading day. The streak
	// grows by one when the last reading day was the day before, is kept
	// on the same day, and restarts at 1 after a gap. A day earlier than
	// the stored one changes nothing. It returns the resulting streak.
	AdvanceStreak(ctx context.Context, userID string, at time.Time) (int, error)

	// ReadingStreak returns the stored streak, 0 for an unknown user.
	ReadingStreak(ctx context.Context, userID string) (int, error)
}

// Store combines all storage concerns behind one handle.
type Store interface {
	Articles
	Preferences
	History
	Close() error
}

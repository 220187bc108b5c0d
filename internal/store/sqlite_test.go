// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/lumi-engine/pkg/types"
)

// --- test helpers ---

func testStore(t *testing.T) *SQLite {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "data", "lumi.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

var baseTime = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func stub(url string) types.Article {
	return types.Article{
		ID:          ArticleID(url),
		SourceURL:   url,
		Title:       "Title for " + url,
		Source:      "Test Feed",
		PublishedAt: baseTime.Add(-time.Hour),
		ImageURL:    "https://img.example.com/feed.jpg",
		Snippet:     "feed snippet",
		CreatedAt:   baseTime,
	}
}

func enrichment(processedAt time.Time, tags ...string) types.Enrichment {
	return types.Enrichment{
		Summary:        "Two sentences. Plain language.",
		SimplifiedBody: "A short read.",
		DeepDive:       "Background.",
		WhyItMatters:   "This matters because it does.",
		RabbitHole:     "Why? Because.",
		TopicTags:      tags,
		Entities:       []string{"Lagos"},
		WeightScore:    0.7,
		ProcessedAt:    processedAt,
	}
}

// --- articles ---

func TestCreateStubIsIdempotent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	a := stub("https://news.example.com/story-1")

	created, err := s.CreateStub(ctx, a)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.CreateStub(ctx, a)
	require.NoError(t, err)
	assert.False(t, created, "second insert must be a no-op")

	got, err := s.Article(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.SourceURL, got.SourceURL)
	assert.Equal(t, a.PublishedAt, got.PublishedAt)
	assert.Equal(t, "feed snippet", got.Snippet)
	assert.False(t, got.Enriched())
	assert.Nil(t, got.Enrichment)
}

func TestCreateStubConcurrentSingleWinner(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	a := stub("https://news.example.com/race")

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			created, err := s.CreateStub(ctx, a)
			assert.NoError(t, err)
			if created {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestCreateStubSameURLDifferentSpelling(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	first := stub("https://News.Example.com/story/?utm_source=rss")
	created, err := s.CreateStub(ctx, first)
	require.NoError(t, err)
	require.True(t, created)

	second := stub("https://news.example.com/story")
	assert.Equal(t, first.ID, second.ID)
	created, err = s.CreateStub(ctx, second)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestCompleteEnrichmentAllOrNothing(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	a := stub("https://news.example.com/story-2")
	_, err := s.CreateStub(ctx, a)
	require.NoError(t, err)

	e := enrichment(baseTime, "technology", "business")
	require.NoError(t, s.CompleteEnrichment(ctx, a.ID, "full article text", "", e))

	got, err := s.Article(ctx, a.ID)
	require.NoError(t, err)
	require.True(t, got.Enriched())
	assert.Equal(t, e, *got.Enrichment)
	assert.Equal(t, "full article text", got.RawContent)
	assert.Equal(t, "https://img.example.com/feed.jpg", got.ImageURL, "empty image keeps the stored one")

	err = s.CompleteEnrichment(ctx, a.ID, "other", "", enrichment(baseTime.Add(time.Hour), "sports"))
	assert.ErrorIs(t, err, ErrAlreadyEnriched)

	got, err = s.Article(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"technology", "business"}, got.Enrichment.TopicTags, "enrichment is written once")
}

func TestCompleteEnrichmentReplacesImage(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	a := stub("https://news.example.com/story-img")
	a.ImageURL = ""
	_, err := s.CreateStub(ctx, a)
	require.NoError(t, err)

	require.NoError(t, s.CompleteEnrichment(ctx, a.ID, "text", "https://img.example.com/og.jpg", enrichment(baseTime)))
	got, err := s.Article(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://img.example.com/og.jpg", got.ImageURL)
	assert.Equal(t, []string{}, got.Enrichment.TopicTags)
}

func TestCompleteEnrichmentUnknownArticle(t *testing.T) {
	s := testStore(t)
	err := s.CompleteEnrichment(context.Background(), "missing", "", "", enrichment(baseTime))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestArticleNotFound(t *testing.T) {
	s := testStore(t)
	_, err := s.Article(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEnrichedSinceWindowAndOrder(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for i, age := range []time.Duration{time.Hour, 50 * time.Hour, 2 * time.Hour, 30 * time.Minute} {
		a := stub(fmt.Sprintf("https://news.example.com/w%d", i))
		_, err := s.CreateStub(ctx, a)
		require.NoError(t, err)
		require.NoError(t, s.CompleteEnrichment(ctx, a.ID, "text", "", enrichment(baseTime.Add(-age))))
	}
	pending := stub("https://news.example.com/pending")
	_, err := s.CreateStub(ctx, pending)
	require.NoError(t, err)

	got, err := s.EnrichedSince(ctx, baseTime.Add(-48*time.Hour), 100)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, ArticleID("https://news.example.com/w3"), got[0].ID)
	assert.Equal(t, ArticleID("https://news.example.com/w0"), got[1].ID)
	assert.Equal(t, ArticleID("https://news.example.com/w2"), got[2].ID)

	limited, err := s.EnrichedSince(ctx, baseTime.Add(-48*time.Hour), 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestStaleStubsAndAttempts(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	old := stub("https://news.example.com/old")
	old.CreatedAt = baseTime.Add(-3 * time.Hour)
	fresh := stub("https://news.example.com/fresh")
	fresh.CreatedAt = baseTime
	done := stub("https://news.example.com/done")
	done.CreatedAt = baseTime.Add(-5 * time.Hour)
	for _, a := range []types.Article{old, fresh, done} {
		_, err := s.CreateStub(ctx, a)
		require.NoError(t, err)
	}
	require.NoError(t, s.CompleteEnrichment(ctx, done.ID, "text", "", enrichment(baseTime)))

	cutoff := baseTime.Add(-time.Hour)
	got, err := s.StaleStubs(ctx, cutoff, 3, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, old.ID, got[0].ID)

	// A recent failed attempt makes the stub fresh again.
	require.NoError(t, s.RecordAttemptFailure(ctx, old.ID, baseTime, "enrich: call failure"))
	got, err = s.StaleStubs(ctx, cutoff, 3, 10)
	require.NoError(t, err)
	assert.Empty(t, got)

	loaded, err := s.Article(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.EnrichAttempts)
	assert.Equal(t, baseTime, loaded.LastAttemptAt)
	assert.Equal(t, "enrich: call failure", loaded.LastError)

	// Past the attempt cap the stub is never returned.
	require.NoError(t, s.RecordAttemptFailure(ctx, old.ID, baseTime.Add(-4*time.Hour), "again"))
	require.NoError(t, s.RecordAttemptFailure(ctx, old.ID, baseTime.Add(-4*time.Hour), "again"))
	got, err = s.StaleStubs(ctx, cutoff, 3, 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

// --- preferences ---

func TestIncrementTopicWeight(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.IncrementTopicWeight(ctx, "u1", "technology", 0.1))
	weights, err := s.TopicWeights(ctx, "u1")
	require.NoError(t, err)
	assert.InDelta(t, 1.1, weights["technology"], 1e-9)

	require.NoError(t, s.IncrementTopicWeight(ctx, "u1", "technology", 0.02))
	weights, err = s.TopicWeights(ctx, "u1")
	require.NoError(t, err)
	assert.InDelta(t, 1.12, weights["technology"], 1e-9)

	other, err := s.TopicWeights(ctx, "u2")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestIncrementTopicWeightConcurrent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.IncrementTopicWeight(ctx, "u1", "sports", 0.1))
		}()
	}
	wg.Wait()

	weights, err := s.TopicWeights(ctx, "u1")
	require.NoError(t, err)
	assert.InDelta(t, 1.0+20*0.1, weights["sports"], 1e-9)
}

func TestEnsureTopicsKeepsExistingWeights(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.IncrementTopicWeight(ctx, "u1", "health", 0.5))
	require.NoError(t, s.EnsureTopics(ctx, "u1", []string{"health", "science"}))

	weights, err := s.TopicWeights(ctx, "u1")
	require.NoError(t, err)
	assert.InDelta(t, 1.5, weights["health"], 1e-9)
	assert.InDelta(t, 1.0, weights["science"], 1e-9)
}

// --- history ---

func TestRecordReadingMerges(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordReading(ctx, types.ReadingEntry{
		UserID: "u1", ArticleID: "a1", Completed: true, Reaction: "like", ReadAt: baseTime,
	}))
	require.NoError(t, s.RecordReading(ctx, types.ReadingEntry{
		UserID: "u1", ArticleID: "a1", Completed: false, ReadAt: baseTime.Add(time.Hour),
	}))

	e, err := s.ReadingEntry(ctx, "u1", "a1")
	require.NoError(t, err)
	assert.True(t, e.Completed, "completion is sticky")
	assert.Equal(t, "like", e.Reaction, "empty reaction keeps the stored one")
	assert.Equal(t, baseTime.Add(time.Hour), e.ReadAt)

	require.NoError(t, s.RecordReading(ctx, types.ReadingEntry{
		UserID: "u1", ArticleID: "a1", Reaction: "wow", ReadAt: baseTime.Add(2 * time.Hour),
	}))
	e, err = s.ReadingEntry(ctx, "u1", "a1")
	require.NoError(t, err)
	assert.Equal(t, "wow", e.Reaction)

	_, err = s.ReadingEntry(ctx, "u1", "a2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReadArticleIDsAndCount(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for i, at := range []time.Time{baseTime, baseTime.Add(-3 * 24 * time.Hour), baseTime.Add(-9 * 24 * time.Hour)} {
		require.NoError(t, s.RecordReading(ctx, types.ReadingEntry{
			UserID: "u1", ArticleID: fmt.Sprintf("a%d", i), ReadAt: at,
		}))
	}
	require.NoError(t, s.RecordReading(ctx, types.ReadingEntry{UserID: "u2", ArticleID: "a9", ReadAt: baseTime}))

	ids, err := s.ReadArticleIDs(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, ids, 3)
	assert.Contains(t, ids, "a2")
	assert.NotContains(t, ids, "a9")

	n, err := s.ReadCountSince(ctx, "u1", baseTime.Add(-7*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestAdvanceStreak(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	day := 24 * time.Hour

	steps := []struct {
		name string
		at   time.Time
		want int
	}{
		{"first read", baseTime, 1},
		{"same day", baseTime.Add(10 * time.Hour), 1},
		{"next day", baseTime.Add(day), 2},
		{"day after", baseTime.Add(2*day - 11*time.Hour), 3},
		{"earlier day is ignored", baseTime, 3},
		{"gap restarts", baseTime.Add(5 * day), 1},
		{"then grows again", baseTime.Add(6 * day), 2},
	}
	for _, step := range steps {
		got, err := s.AdvanceStreak(ctx, "u1", step.at)
		require.NoError(t, err, step.name)
		assert.Equal(t, step.want, got, step.name)
	}

	n, err := s.ReadingStreak(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.ReadingStreak(ctx, "nobody")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRecordAttemptFailureClipsOnRuneBoundary(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	a := stub("https://news.example.com/utf8")
	_, err := s.CreateStub(ctx, a)
	require.NoError(t, err)

	reason := "x" + strings.Repeat("é", MaxErrorLen)
	require.NoError(t, s.RecordAttemptFailure(ctx, a.ID, baseTime, reason))

	loaded, err := s.Article(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.EnrichAttempts)
	assert.LessOrEqual(t, len(loaded.LastError), MaxErrorLen)
	assert.True(t, strings.HasPrefix(reason, loaded.LastError))
	assert.True(t, utf8.ValidString(loaded.LastError))
}

// --- errors ---

func TestPersistenceErrorRetryable(t *testing.T) {
	busy := wrap("op", sqlite3.Error{Code: sqlite3.ErrBusy})
	assert.True(t, IsRetryable(busy))

	other := wrap("op", errors.New("disk full"))
	assert.False(t, IsRetryable(other))
	assert.False(t, IsRetryable(ErrNotFound))

	var pe *PersistenceError
	require.ErrorAs(t, busy, &pe)
	assert.Equal(t, "op", pe.Op)
}

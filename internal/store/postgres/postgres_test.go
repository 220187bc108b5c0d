// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package postgres

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/lumi-engine/internal/store"
	"github.com/pdiddy/lumi-engine/pkg/types"
)

// testStore connects to the database named by LUMI_ENGINE_TEST_POSTGRES_DSN.
// Without it the Postgres tests are skipped.
func testStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("LUMI_ENGINE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("LUMI_ENGINE_TEST_POSTGRES_DSN not set")
	}
	s, err := Open(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPostgresArticleLifecycle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	url := "https://news.example.com/pg/" + uuid.NewString()
	a := types.Article{
		ID:          store.ArticleID(url),
		SourceURL:   url,
		Title:       "Postgres story",
		Source:      "Test Feed",
		PublishedAt: now.Add(-time.Hour),
		CreatedAt:   now,
	}

	created, err := s.CreateStub(ctx, a)
	require.NoError(t, err)
	assert.True(t, created)
	created, err = s.CreateStub(ctx, a)
	require.NoError(t, err)
	assert.False(t, created)

	e := types.Enrichment{
		Summary: "s", SimplifiedBody: "b", DeepDive: "d", WhyItMatters: "w", RabbitHole: "r",
		TopicTags: []string{"technology"}, Entities: []string{}, WeightScore: 0.8, ProcessedAt: now,
	}
	require.NoError(t, s.CompleteEnrichment(ctx, a.ID, "text", "https://img.example.com/x.jpg", e))
	assert.ErrorIs(t, s.CompleteEnrichment(ctx, a.ID, "text", "", e), store.ErrAlreadyEnriched)

	got, err := s.Article(ctx, a.ID)
	require.NoError(t, err)
	require.True(t, got.Enriched())
	assert.Equal(t, []string{"technology"}, got.Enrichment.TopicTags)
	assert.Equal(t, "https://img.example.com/x.jpg", got.ImageURL)

	_, err = s.Article(ctx, uuid.NewString())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPostgresWeightsAndHistory(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	user := "u-" + uuid.NewString()

	require.NoError(t, s.IncrementTopicWeight(ctx, user, "technology", 0.1))
	require.NoError(t, s.IncrementTopicWeight(ctx, user, "technology", 0.1))
	require.NoError(t, s.EnsureTopics(ctx, user, []string{"technology", "health"}))

	weights, err := s.TopicWeights(ctx, user)
	require.NoError(t, err)
	assert.InDelta(t, 1.2, weights["technology"], 1e-9)
	assert.InDelta(t, 1.0, weights["health"], 1e-9)

	now := time.Now().UTC()
	require.NoError(t, s.RecordReading(ctx, types.ReadingEntry{UserID: user, ArticleID: "a1", Completed: true, Reaction: "like", ReadAt: now}))
	require.NoError(t, s.RecordReading(ctx, types.ReadingEntry{UserID: user, ArticleID: "a1", ReadAt: now}))

	entry, err := s.ReadingEntry(ctx, user, "a1")
	require.NoError(t, err)
	assert.True(t, entry.Completed)
	assert.Equal(t, "like", entry.Reaction)

	ids, err := s.ReadArticleIDs(ctx, user)
	require.NoError(t, err)
	assert.Contains(t, ids, "a1")

	n, err := s.ReadCountSince(ctx, user, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPostgresStreakAndClippedReason(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	user := "u-" + uuid.NewString()
	day := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

	for _, step := range []struct {
		at   time.Time
		want int
	}{
		{day, 1},
		{day.Add(5 * time.Hour), 1},
		{day.Add(24 * time.Hour), 2},
		{day.Add(96 * time.Hour), 1},
	} {
		got, err := s.AdvanceStreak(ctx, user, step.at)
		require.NoError(t, err)
		assert.Equal(t, step.want, got, step.at)
	}
	n, err := s.ReadingStreak(ctx, "u-"+uuid.NewString())
	require.NoError(t, err)
	assert.Zero(t, n)

	url := "https://news.example.com/pg/" + uuid.NewString()
	a := types.Article{ID: store.ArticleID(url), SourceURL: url, Title: "t", Source: "s", PublishedAt: day, CreatedAt: day}
	_, err = s.CreateStub(ctx, a)
	require.NoError(t, err)
	require.NoError(t, s.RecordAttemptFailure(ctx, a.ID, day, "x"+strings.Repeat("é", store.MaxErrorLen)))
	got, err := s.Article(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.EnrichAttempts, "a multibyte reason is still counted")
}

type fakePgError struct{ code string }

func (e fakePgError) Error() string    { return "pg error " + e.code }
func (e fakePgError) SQLState() string { return e.code }

func TestRetryable(t *testing.T) {
	assert.True(t, retryable(fakePgError{"40001"}))
	assert.True(t, retryable(fakePgError{"08006"}))
	assert.False(t, retryable(fakePgError{"23505"}))
	assert.False(t, retryable(errors.New("plain")))
	assert.True(t, store.IsRetryable(wrap("op", fakePgError{"40P01"})))
}

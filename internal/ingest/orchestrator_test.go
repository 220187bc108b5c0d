// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/lumi-engine/internal/acquire"
	"github.com/pdiddy/lumi-engine/internal/enrich"
	"github.com/pdiddy/lumi-engine/internal/store"
	"github.com/pdiddy/lumi-engine/internal/work"
	"github.com/pdiddy/lumi-engine/pkg/types"
)

func TestMain(m *testing.M) {
	// Override backoff to avoid real sleeps in retry tests.
	backoffBase = time.Millisecond
	os.Exit(m.Run())
}

// --- fakes ---

type fakeFetcher struct {
	feeds map[string][]types.Candidate
	fail  map[string]bool
	calls atomic.Int32
	block chan struct{}
}

func (f *fakeFetcher) Fetch(ctx context.Context, src types.Source) ([]types.Candidate, error) {
	f.calls.Add(1)
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.fail[src.URL] {
		return nil, fmt.Errorf("fetching %s: connection refused", src.Label)
	}
	return f.feeds[src.URL], nil
}

type fakeAcquirer struct {
	text string
}

func (a fakeAcquirer) Acquire(_ context.Context, link, snippet, imageURL string) acquire.Content {
	if a.text == "" {
		return acquire.Content{Text: snippet, ImageURL: imageURL}
	}
	return acquire.Content{Text: a.text, ImageURL: imageURL, Extracted: true}
}

type fakeEnricher struct {
	err   error
	calls atomic.Int32
}

func (e *fakeEnricher) Enrich(_ context.Context, title, text string) (enrich.Annotation, error) {
	e.calls.Add(1)
	if e.err != nil {
		return enrich.Annotation{}, e.err
	}
	score := 0.6
	return enrich.Annotation{
		Summary:        "Summary of " + title,
		SimplifiedBody: "Simplified.",
		DeepDive:       "Background.",
		WhyItMatters:   "This matters because.",
		RabbitHole:     "Why? Because.",
		TopicTags:      []string{"technology"},
		Entities:       []string{},
		WeightScore:    &score,
	}, nil
}

// inlineDispatcher runs every task synchronously.
type inlineDispatcher struct {
	mu   sync.Mutex
	errs []error
}

func (d *inlineDispatcher) Submit(t work.Task) error {
	err := t.Run(context.Background())
	d.mu.Lock()
	d.errs = append(d.errs, err)
	d.mu.Unlock()
	return nil
}

// holdDispatcher keeps tasks without running them.
type holdDispatcher struct {
	mu    sync.Mutex
	tasks []work.Task
	full  bool
}

func (d *holdDispatcher) Submit(t work.Task) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.full {
		return work.ErrQueueFull
	}
	d.tasks = append(d.tasks, t)
	return nil
}

// flakyStore fails CompleteEnrichment with a retryable error a fixed number
// of times.
type flakyStore struct {
	store.Articles
	failures  int
	retryable bool
	calls     int
}

func (s *flakyStore) CompleteEnrichment(ctx context.Context, id, raw, image string, e types.Enrichment) error {
	s.calls++
	if s.calls <= s.failures {
		return &store.PersistenceError{Op: "complete enrichment", Retryable: s.retryable, Err: errors.New("database is locked")}
	}
	return s.Articles.CompleteEnrichment(ctx, id, raw, image, e)
}

// --- helpers ---

var baseTime = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

var longText = strings.Repeat("Article body text. ", 10)

func testStore(t *testing.T) *store.SQLite {
	t.Helper()
	s, err := store.OpenSQLite(filepath.Join(t.TempDir(), "lumi.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func candidate(link string) types.Candidate {
	return types.Candidate{
		Title:       "Story " + link,
		Link:        link,
		PublishedAt: baseTime.Add(-time.Hour),
		Snippet:     "short snippet",
	}
}

func newOrchestrator(cfg Config, f Fetcher, a Acquirer, e Enricher, s store.Articles, d Dispatcher) *Orchestrator {
	o := New(cfg, f, a, e, s, d)
	o.now = func() time.Time { return baseTime }
	return o
}

func twoFeeds() (*fakeFetcher, []types.Source) {
	f := &fakeFetcher{feeds: map[string][]types.Candidate{
		"https://a.example.com/rss": {
			candidate("https://example.com/one"),
			candidate("https://example.com/two"),
		},
		"https://b.example.com/rss": {
			candidate("https://example.com/three"),
			// Same article syndicated under a tracking URL.
			candidate("https://example.com/one?utm_source=b"),
		},
	}}
	return f, []types.Source{
		{URL: "https://a.example.com/rss", Label: "A"},
		{URL: "https://b.example.com/rss", Label: "B"},
	}
}

// --- Run ---

func TestRunIsIdempotent(t *testing.T) {
	s := testStore(t)
	f, sources := twoFeeds()
	e := &fakeEnricher{}
	d := &inlineDispatcher{}
	o := newOrchestrator(Config{Sources: sources, FetchConcurrency: 1}, f, fakeAcquirer{text: longText}, e, s, d)

	first, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, first.Sources)
	assert.Equal(t, 4, first.Candidates)
	assert.Equal(t, 3, first.Created)
	assert.Equal(t, 1, first.Skipped)
	assert.Equal(t, 3, first.Dispatched)
	for _, err := range d.errs {
		assert.NoError(t, err)
	}

	second, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, second.Created)
	assert.Equal(t, 4, second.Skipped)
	assert.Equal(t, int32(3), e.calls.Load(), "no article is enriched twice")

	a, err := s.Article(context.Background(), store.ArticleID("https://example.com/one"))
	require.NoError(t, err)
	require.True(t, a.Enriched())
	assert.Equal(t, "A", a.Source)
	assert.Equal(t, longText, a.RawContent)
	assert.Equal(t, baseTime, a.Enrichment.ProcessedAt)
	assert.Equal(t, 0, o.InFlight())
}

func TestRunConcurrentCyclesCreateOnce(t *testing.T) {
	s := testStore(t)
	f, sources := twoFeeds()
	d1, d2 := &holdDispatcher{}, &holdDispatcher{}
	o1 := newOrchestrator(Config{Sources: sources}, f, fakeAcquirer{}, &fakeEnricher{}, s, d1)
	o2 := newOrchestrator(Config{Sources: sources}, f, fakeAcquirer{}, &fakeEnricher{}, s, d2)

	var wg sync.WaitGroup
	var sums [2]CycleSummary
	for i, o := range []*Orchestrator{o1, o2} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sum, err := o.Run(context.Background())
			assert.NoError(t, err)
			sums[i] = sum
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, sums[0].Created+sums[1].Created)
	assert.Equal(t, 3, len(d1.tasks)+len(d2.tasks))
}

func TestRunDeadFeedDoesNotAbortCycle(t *testing.T) {
	s := testStore(t)
	f, sources := twoFeeds()
	f.fail = map[string]bool{"https://a.example.com/rss": true}
	o := newOrchestrator(Config{Sources: sources}, f, fakeAcquirer{text: longText}, &fakeEnricher{}, s, &inlineDispatcher{})

	sum, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Sources)
	assert.Equal(t, 1, sum.FailedSources)
	assert.Equal(t, 2, sum.Created)
}

func TestRunSkipsCandidatesWithoutLink(t *testing.T) {
	s := testStore(t)
	f := &fakeFetcher{feeds: map[string][]types.Candidate{
		"https://a.example.com/rss": {{Title: "no link"}, candidate("https://example.com/ok")},
	}}
	o := newOrchestrator(Config{Sources: []types.Source{{URL: "https://a.example.com/rss", Label: "A"}}},
		f, fakeAcquirer{text: longText}, &fakeEnricher{}, s, &inlineDispatcher{})

	sum, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Invalid)
	assert.Equal(t, 1, sum.Created)
}

func TestRunPoolFullLeavesStubForSweep(t *testing.T) {
	s := testStore(t)
	f, sources := twoFeeds()
	d := &holdDispatcher{full: true}
	o := newOrchestrator(Config{Sources: sources}, f, fakeAcquirer{text: longText}, &fakeEnricher{}, s, d)

	sum, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Created)
	assert.Equal(t, 3, sum.Rejected)
	assert.Equal(t, 0, sum.Dispatched)
	assert.Equal(t, 0, o.InFlight())

	// Not stale yet.
	d.full = false
	sw, err := o.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, sw.Found)

	o.now = func() time.Time { return baseTime.Add(2 * time.Hour) }
	sw, err = o.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, sw.Found)
	assert.Equal(t, 3, sw.Dispatched)

	// A second sweep finds the same stubs but they are already queued.
	sw, err = o.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, sw.InFlight)
	assert.Equal(t, 0, sw.Dispatched)

	for _, task := range d.tasks {
		require.NoError(t, task.Run(context.Background()))
	}
	assert.Equal(t, 0, o.InFlight())

	sw, err = o.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, sw.Found, "enriched articles are never swept")
}

func TestRunRejectsOverlappingCycle(t *testing.T) {
	s := testStore(t)
	f, sources := twoFeeds()
	f.block = make(chan struct{})
	o := newOrchestrator(Config{Sources: sources}, f, fakeAcquirer{}, &fakeEnricher{}, s, &holdDispatcher{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := o.Run(context.Background())
		assert.NoError(t, err)
	}()

	require.Eventually(t, func() bool { return f.calls.Load() > 0 }, time.Second, time.Millisecond)
	_, err := o.Run(context.Background())
	assert.ErrorIs(t, err, ErrCycleRunning)

	close(f.block)
	<-done

	_, err = o.Run(context.Background())
	assert.NoError(t, err, "a new cycle may start once the previous one finished")
}

func TestRunHonorsCancellation(t *testing.T) {
	s := testStore(t)
	f, sources := twoFeeds()
	f.block = make(chan struct{})
	o := newOrchestrator(Config{Sources: sources}, f, fakeAcquirer{}, &fakeEnricher{}, s, &holdDispatcher{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	sum, err := o.Run(ctx)
	assert.Error(t, err)
	assert.Equal(t, 0, sum.Created)
}

// --- enrichment task ---

func TestTaskInsufficientContentRecordsAttempt(t *testing.T) {
	s := testStore(t)
	f := &fakeFetcher{feeds: map[string][]types.Candidate{
		"https://a.example.com/rss": {candidate("https://example.com/thin")},
	}}
	e := &fakeEnricher{}
	d := &inlineDispatcher{}
	o := newOrchestrator(Config{Sources: []types.Source{{URL: "https://a.example.com/rss", Label: "A"}}},
		f, fakeAcquirer{}, e, s, d)

	_, err := o.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, d.errs, 1)
	assert.ErrorIs(t, d.errs[0], ErrInsufficientContent)
	assert.Equal(t, int32(0), e.calls.Load(), "thin articles never reach the model")

	a, err := s.Article(context.Background(), store.ArticleID("https://example.com/thin"))
	require.NoError(t, err)
	assert.False(t, a.Enriched())
	assert.Equal(t, 1, a.EnrichAttempts)
	assert.Contains(t, a.LastError, "insufficient content")
}

func TestTaskEnrichmentFailureLeavesStub(t *testing.T) {
	s := testStore(t)
	f := &fakeFetcher{feeds: map[string][]types.Candidate{
		"https://a.example.com/rss": {candidate("https://example.com/bad")},
	}}
	parseErr := &enrich.Error{Kind: enrich.FailureParse, Op: "enrich", Err: errors.New("unexpected end of JSON")}
	d := &inlineDispatcher{}
	o := newOrchestrator(Config{Sources: []types.Source{{URL: "https://a.example.com/rss", Label: "A"}}},
		f, fakeAcquirer{text: longText}, &fakeEnricher{err: parseErr}, s, d)

	_, err := o.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, d.errs, 1)
	assert.Equal(t, enrich.FailureParse, enrich.KindOf(d.errs[0]))

	a, err := s.Article(context.Background(), store.ArticleID("https://example.com/bad"))
	require.NoError(t, err)
	assert.False(t, a.Enriched())
	assert.Nil(t, a.Enrichment)
	assert.Empty(t, a.RawContent, "nothing of a failed enrichment is written")
	assert.Equal(t, 1, a.EnrichAttempts)
}

func TestTaskCancelledByShutdownIsNotCounted(t *testing.T) {
	s := testStore(t)
	a := types.Article{
		ID:        store.ArticleID("https://example.com/shutdown"),
		SourceURL: "https://example.com/shutdown",
		Title:     "Shutdown",
		CreatedAt: baseTime,
	}
	_, err := s.CreateStub(context.Background(), a)
	require.NoError(t, err)

	o := newOrchestrator(Config{}, &fakeFetcher{}, fakeAcquirer{}, &fakeEnricher{}, s, &inlineDispatcher{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, o.enrichArticle(ctx, a))

	got, err := s.Article(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.EnrichAttempts, "the stub keeps its attempt budget")

	ctx, cancelTimeout := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancelTimeout()
	<-ctx.Done()
	require.Error(t, o.enrichArticle(ctx, a))

	got, err = s.Article(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.EnrichAttempts, "a timed out task counts")
}

func TestSweepRespectsAttemptCap(t *testing.T) {
	s := testStore(t)
	f := &fakeFetcher{feeds: map[string][]types.Candidate{
		"https://a.example.com/rss": {candidate("https://example.com/thin")},
	}}
	d := &inlineDispatcher{}
	o := newOrchestrator(Config{
		Sources: []types.Source{{URL: "https://a.example.com/rss", Label: "A"}},
		Sweep:   types.SweepConfig{StaleAfter: time.Hour, MaxAttempts: 2},
	}, f, fakeAcquirer{}, &fakeEnricher{}, s, d)

	_, err := o.Run(context.Background())
	require.NoError(t, err)

	now := baseTime
	for i := 0; i < 3; i++ {
		now = now.Add(2 * time.Hour)
		o.now = func() time.Time { return now }
		_, err := o.Sweep(context.Background())
		require.NoError(t, err)
	}

	a, err := s.Article(context.Background(), store.ArticleID("https://example.com/thin"))
	require.NoError(t, err)
	assert.Equal(t, 2, a.EnrichAttempts, "a stub past the cap is left alone")
	assert.Len(t, d.errs, 2)
}

func TestPersistRetriesRetryableErrors(t *testing.T) {
	s := testStore(t)
	a := types.Article{
		ID:        store.ArticleID("https://example.com/retry"),
		SourceURL: "https://example.com/retry",
		Title:     "Retry",
		CreatedAt: baseTime,
	}
	created, err := s.CreateStub(context.Background(), a)
	require.NoError(t, err)
	require.True(t, created)

	flaky := &flakyStore{Articles: s, failures: 2, retryable: true}
	o := newOrchestrator(Config{WriteRetries: 3}, &fakeFetcher{}, fakeAcquirer{text: longText}, &fakeEnricher{}, flaky, &inlineDispatcher{})
	require.NoError(t, o.enrichArticle(context.Background(), a))
	assert.Equal(t, 3, flaky.calls)

	got, err := s.Article(context.Background(), a.ID)
	require.NoError(t, err)
	assert.True(t, got.Enriched())
}

func TestPersistGivesUp(t *testing.T) {
	s := testStore(t)
	a := types.Article{ID: store.ArticleID("https://example.com/locked"), SourceURL: "https://example.com/locked", CreatedAt: baseTime}
	_, err := s.CreateStub(context.Background(), a)
	require.NoError(t, err)

	tests := []struct {
		name      string
		retryable bool
		wantCalls int
	}{
		{"retryable exhausts retries", true, 3},
		{"permanent is not retried", false, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flaky := &flakyStore{Articles: s, failures: 100, retryable: tt.retryable}
			o := newOrchestrator(Config{WriteRetries: 2}, &fakeFetcher{}, fakeAcquirer{text: longText}, &fakeEnricher{}, flaky, &inlineDispatcher{})
			err := o.enrichArticle(context.Background(), a)
			require.Error(t, err)
			assert.Equal(t, tt.wantCalls, flaky.calls)
		})
	}
}

func TestTaskAlreadyEnrichedIsSuccess(t *testing.T) {
	s := testStore(t)
	a := types.Article{ID: store.ArticleID("https://example.com/done"), SourceURL: "https://example.com/done", CreatedAt: baseTime}
	_, err := s.CreateStub(context.Background(), a)
	require.NoError(t, err)

	o := newOrchestrator(Config{}, &fakeFetcher{}, fakeAcquirer{text: longText}, &fakeEnricher{}, s, &inlineDispatcher{})
	require.NoError(t, o.enrichArticle(context.Background(), a))
	require.NoError(t, o.enrichArticle(context.Background(), a), "losing the race to another writer is not a failure")

	got, err := s.Article(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.EnrichAttempts)
}

func TestRunWithWorkPool(t *testing.T) {
	s := testStore(t)
	f, sources := twoFeeds()
	pool := work.NewPool(work.Config{Name: "ingest-test", Workers: 2, QueueSize: 10})
	pool.Start(context.Background())
	defer pool.Stop()

	o := newOrchestrator(Config{Sources: sources}, f, fakeAcquirer{text: longText}, &fakeEnricher{}, s, pool)
	sum, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Dispatched)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, pool.Wait(ctx))

	enriched, err := s.EnrichedSince(context.Background(), baseTime.Add(-time.Minute), 0)
	require.NoError(t, err)
	assert.Len(t, enriched, 3)
}

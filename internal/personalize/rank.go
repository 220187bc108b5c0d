// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package personalize ranks recently enriched articles for one reader.
//
// The score of an article is its weight score, plus 0.3 times the reader's
// weight for every topic tag it carries, plus a 0.2 boost when it was
// published within the last six hours. Articles the reader already opened
// are never returned.
package personalize

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/pdiddy/lumi-engine/pkg/types"
)

const (
	// DefaultWindow is how far back enrichment time may lie for a candidate.
	DefaultWindow = 48 * time.Hour

	// DefaultCandidateLimit bounds the candidates scored per request.
	DefaultCandidateLimit = 100

	// TagFactor scales the reader's topic weight per matching tag.
	TagFactor = 0.3

	// RecencyBoost is added to articles younger than RecencyWindow.
	RecencyBoost  = 0.2
	RecencyWindow = 6 * time.Hour

	// feedCandidates is the ranked list size a topic-filtered feed draws from.
	feedCandidates = 60
)

// Store is the read side the engine needs.
type Store interface {
	TopicWeights(ctx context.Context, userID string) (map[string]float64, error)
	EnrichedSince(ctx context.Context, since time.Time, limit int) ([]types.Article, error)
	ReadArticleIDs(ctx context.Context, userID string) (map[string]struct{}, error)
	ReadCountSince(ctx context.Context, userID string, since time.Time) (int, error)
	ReadingStreak(ctx context.Context, userID string) (int, error)
}

// Ranked is one scored article.
type Ranked struct {
	Article types.Article `json:"article"`
	Score   float64       `json:"score"`
}

// RankError reports which read failed while ranking. No partial list is
// returned alongside it.
type RankError struct {
	Op     string
	UserID string
	Err    error
}

func (e *RankError) Error() string {
	return fmt.Sprintf("ranking for %s: %s: %v", e.UserID, e.Op, e.Err)
}

func (e *RankError) Unwrap() error { return e.Err }

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the time source used for the window and recency boost.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithWindow overrides DefaultWindow.
func WithWindow(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.window = d
		}
	}
}

// WithCandidateLimit overrides DefaultCandidateLimit.
func WithCandidateLimit(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.limit = n
		}
	}
}

// Engine ranks articles. It holds no per-reader state.
type Engine struct {
	store  Store
	now    func() time.Time
	window time.Duration
	limit  int
}

// New returns an Engine reading from s.
func New(s Store, opts ...Option) *Engine {
	e := &Engine{
		store:  s,
		now:    time.Now,
		window: DefaultWindow,
		limit:  DefaultCandidateLimit,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Rank returns up to count unread articles for userID, best first. Equal
// scores order by publication time, newest first, then by id.
func (e *Engine) Rank(ctx context.Context, userID string, count int) ([]Ranked, error) {
	ranked, err := e.rankAll(ctx, userID, e.limit)
	if err != nil {
		return nil, err
	}
	if count >= 0 && len(ranked) > count {
		ranked = ranked[:count]
	}
	return ranked, nil
}

// Feed ranks a fixed pool of candidates, keeps those tagged with topic when
// topic is not empty, and truncates to count.
func (e *Engine) Feed(ctx context.Context, userID, topic string, count int) ([]Ranked, error) {
	ranked, err := e.Rank(ctx, userID, feedCandidates)
	if err != nil {
		return nil, err
	}
	if topic != "" {
		topic = types.NormalizeTopic(topic)
		filtered := ranked[:0]
		for _, r := range ranked {
			if r.Article.HasTopic(topic) {
				filtered = append(filtered, r)
			}
		}
		ranked = filtered
	}
	if count >= 0 && len(ranked) > count {
		ranked = ranked[:count]
	}
	return ranked, nil
}

func (e *Engine) rankAll(ctx context.Context, userID string, limit int) ([]Ranked, error) {
	now := e.now()

	weights, err := e.store.TopicWeights(ctx, userID)
	if err != nil {
		return nil, &RankError{Op: "load topic weights", UserID: userID, Err: err}
	}
	articles, err := e.store.EnrichedSince(ctx, now.Add(-e.window), limit)
	if err != nil {
		return nil, &RankError{Op: "load candidates", UserID: userID, Err: err}
	}
	read, err := e.store.ReadArticleIDs(ctx, userID)
	if err != nil {
		return nil, &RankError{Op: "load reading history", UserID: userID, Err: err}
	}

	ranked := make([]Ranked, 0, len(articles))
	for _, a := range articles {
		if _, seen := read[a.ID]; seen {
			continue
		}
		if !a.Enriched() || a.Enrichment.SimplifiedBody == "" {
			continue
		}
		ranked = append(ranked, Ranked{Article: a, Score: Score(a, weights, now)})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return less(ranked[i], ranked[j])
	})
	return ranked, nil
}

// Score computes the ranking score of a at now for a reader with weights.
// A topic without a weight contributes nothing.
func Score(a types.Article, weights map[string]float64, now time.Time) float64 {
	score := types.DefaultWeightScore
	if a.Enrichment != nil {
		score = a.Enrichment.WeightScore
		for _, tag := range a.Enrichment.TopicTags {
			score += weights[tag] * TagFactor
		}
	}
	if now.Sub(a.PublishedAt) < RecencyWindow {
		score += RecencyBoost
	}
	return score
}

func less(a, b Ranked) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if !a.Article.PublishedAt.Equal(b.Article.PublishedAt) {
		return a.Article.PublishedAt.After(b.Article.PublishedAt)
	}
	return a.Article.ID < b.Article.ID
}

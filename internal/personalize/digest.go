// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package personalize

import (
	"context"
	"sort"
	"time"

	"github.com/pdiddy/lumi-engine/pkg/types"
)

const (
	// DigestWindow is the period a digest covers.
	DigestWindow = 7 * 24 * time.Hour

	digestCandidates = 300
	digestPerTopic   = 3
)

// DigestTopic is one topic section of a digest.
type DigestTopic struct {
	Topic    string          `json:"topic"`
	Articles []types.Article `json:"articles"`
}

// Digest is a weekly roundup for one reader.
type Digest struct {
	UserID string        `json:"user_id"`
	Since  time.Time     `json:"since"`
	Topics []DigestTopic `json:"topics"`

	// ArticlesRead counts reading history entries inside the window.
	ArticlesRead int `json:"articles_read"`

	// Streak is the reader's run of consecutive reading days as of their
	// last read.
	Streak int `json:"streak"`
}

// Digest groups the last week's enriched articles by topic and keeps the
// three most significant per topic. Only the reader's topics are included,
// or every topic when the reader has none. Sections follow vocabulary order.
func (e *Engine) Digest(ctx context.Context, userID string) (Digest, error) {
	now := e.now()
	since := now.Add(-DigestWindow)

	weights, err := e.store.TopicWeights(ctx, userID)
	if err != nil {
		return Digest{}, &RankError{Op: "load topic weights", UserID: userID, Err: err}
	}
	articles, err := e.store.EnrichedSince(ctx, since, digestCandidates)
	if err != nil {
		return Digest{}, &RankError{Op: "load digest articles", UserID: userID, Err: err}
	}
	read, err := e.store.ReadCountSince(ctx, userID, since)
	if err != nil {
		return Digest{}, &RankError{Op: "count reads", UserID: userID, Err: err}
	}
	streak, err := e.store.ReadingStreak(ctx, userID)
	if err != nil {
		return Digest{}, &RankError{Op: "load streak", UserID: userID, Err: err}
	}

	byTopic := make(map[string][]types.Article)
	for _, a := range articles {
		if !a.Enriched() || a.Enrichment.SimplifiedBody == "" {
			continue
		}
		for _, tag := range a.Enrichment.TopicTags {
			if len(weights) > 0 {
				if _, ok := weights[tag]; !ok {
					continue
				}
			}
			byTopic[tag] = append(byTopic[tag], a)
		}
	}

	d := Digest{UserID: userID, Since: since, ArticlesRead: read, Streak: streak}
	for _, topic := range types.Topics {
		list, ok := byTopic[topic]
		if !ok {
			continue
		}
		sort.SliceStable(list, func(i, j int) bool {
			a, b := list[i], list[j]
			if a.Enrichment.WeightScore != b.Enrichment.WeightScore {
				return a.Enrichment.WeightScore > b.Enrichment.WeightScore
			}
			if !a.PublishedAt.Equal(b.PublishedAt) {
				return a.PublishedAt.After(b.PublishedAt)
			}
			return a.ID < b.ID
		})
		if len(list) > digestPerTopic {
			list = list[:digestPerTopic]
		}
		d.Topics = append(d.Topics, DigestTopic{Topic: topic, Articles: list})
	}
	return d, nil
}

// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package personalize

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/lumi-engine/pkg/types"
)

func sectionIDs(d Digest) map[string][]string {
	out := make(map[string][]string, len(d.Topics))
	for _, s := range d.Topics {
		for _, a := range s.Articles {
			out[s.Topic] = append(out[s.Topic], a.ID)
		}
	}
	return out
}

func TestDigestTopThreePerUserTopic(t *testing.T) {
	s := &fakeStore{
		weights: map[string]float64{"business": 1.2, "technology": 1.0},
		articles: []types.Article{
			article("b1", 0.3, 24*time.Hour, "business"),
			article("b2", 0.9, 48*time.Hour, "business", "technology"),
			article("b3", 0.6, 72*time.Hour, "business"),
			article("b4", 0.6, 30*time.Hour, "business"),
			article("s1", 1.0, 24*time.Hour, "sports"),
			article("old", 1.0, 8*24*time.Hour, "business"),
		},
		readAt: []time.Time{now.Add(-time.Hour), now.Add(-6 * 24 * time.Hour), now.Add(-10 * 24 * time.Hour)},
		streak: 4,
	}
	e := New(s, WithClock(func() time.Time { return now }))

	d, err := e.Digest(context.Background(), "u1")
	require.NoError(t, err)

	assert.Equal(t, now.Add(-DigestWindow), d.Since)
	assert.Equal(t, 2, d.ArticlesRead)
	assert.Equal(t, 4, d.Streak)
	assert.Equal(t, map[string][]string{
		"business":   {"b2", "b4", "b3"},
		"technology": {"b2"},
	}, sectionIDs(d))

	// Vocabulary order: business before technology.
	require.Len(t, d.Topics, 2)
	assert.Equal(t, "business", d.Topics[0].Topic)
}

func TestDigestAllTopicsWithoutPreferences(t *testing.T) {
	s := &fakeStore{articles: []types.Article{
		article("s1", 1.0, 24*time.Hour, "sports"),
		article("h1", 0.4, 24*time.Hour, "health"),
	}}
	d, err := New(s, WithClock(func() time.Time { return now })).Digest(context.Background(), "new-user")
	require.NoError(t, err)

	assert.Equal(t, map[string][]string{"sports": {"s1"}, "health": {"h1"}}, sectionIDs(d))
	assert.Equal(t, 0, d.ArticlesRead)
	assert.Zero(t, d.Streak)
}

func TestDigestStoreFailure(t *testing.T) {
	boom := errors.New("connection reset")
	_, err := New(&fakeStore{articlesErr: boom}, WithClock(func() time.Time { return now })).Digest(context.Background(), "u1")

	var re *RankError
	require.ErrorAs(t, err, &re)
	assert.ErrorIs(t, err, boom)
}

// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package prefs evolves reader topic weights from reading behaviour.
package prefs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/pdiddy/lumi-engine/internal/logging"
	"github.com/pdiddy/lumi-engine/internal/metrics"
	"github.com/pdiddy/lumi-engine/internal/store"
	"github.com/pdiddy/lumi-engine/pkg/types"
)

const (
	// CompletedDelta is added to a topic weight when an article was read to
	// the end.
	CompletedDelta = 0.1

	// ViewDelta is added when an article was only opened.
	ViewDelta = 0.02
)

var (
	// ErrNoTopics is returned by SelectTopics when no topic is given.
	ErrNoTopics = errors.New("no topics given")

	// ErrUnknownTopic is returned by SelectTopics for a slug outside the
	// vocabulary.
	ErrUnknownTopic = errors.New("unknown topic")
)

// Store is the storage the updater writes through.
type Store interface {
	Article(ctx context.Context, id string) (types.Article, error)
	IncrementTopicWeight(ctx context.Context, userID, topic string, delta float64) error
	EnsureTopics(ctx context.Context, userID string, topics []string) error
	RecordReading(ctx context.Context, e types.ReadingEntry) error
	AdvanceStreak(ctx context.Context, userID string, at time.Time) (int, error)
}

// Signal is one reading event.
type Signal struct {
	UserID    string
	ArticleID string
	Completed bool
	Reaction  string
}

// Updater applies reading signals to topic weights.
type Updater struct {
	store Store
	now   func() time.Time
	log   zerolog.Logger
}

// New returns an Updater writing to s.
func New(s Store) *Updater {
	return &Updater{store: s, now: time.Now, log: logging.Component("prefs")}
}

// ApplyReadingSignal increments the reader's weight for every topic of the
// article. Topics are updated independently; all of them are attempted and
// the failures are returned joined. An unknown or unenriched article is a
// no-op.
func (u *Updater) ApplyReadingSignal(ctx context.Context, userID, articleID string, completed bool) error {
	a, err := u.store.Article(ctx, articleID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading article %s: %w", articleID, err)
	}
	if a.Enrichment == nil {
		return nil
	}

	delta := ViewDelta
	if completed {
		delta = CompletedDelta
	}

	var errs []error
	for _, topic := range a.Enrichment.TopicTags {
		if err := u.store.IncrementTopicWeight(ctx, userID, topic, delta); err != nil {
			metrics.WeightUpdates.WithLabelValues("failed").Inc()
			errs = append(errs, fmt.Errorf("topic %s: %w", topic, err))
			continue
		}
		metrics.WeightUpdates.WithLabelValues("ok").Inc()
	}
	return errors.Join(errs...)
}

// RecordReading stores the reading event, advances the daily reading
// streak, and updates topic weights. Only the history write can fail the
// call; streak and weight failures are logged.
func (u *Updater) RecordReading(ctx context.Context, s Signal) error {
	if s.UserID == "" || s.ArticleID == "" {
		return errors.New("reading signal needs a user and an article")
	}
	readAt := u.now().UTC()
	err := u.store.RecordReading(ctx, types.ReadingEntry{
		UserID:    s.UserID,
		ArticleID: s.ArticleID,
		Completed: s.Completed,
		Reaction:  s.Reaction,
		ReadAt:    readAt,
	})
	if err != nil {
		return fmt.Errorf("recording reading: %w", err)
	}

	if streak, err := u.store.AdvanceStreak(ctx, s.UserID, readAt); err != nil {
		u.log.Warn().Err(err).Str("user", s.UserID).Msg("reading streak update failed")
	} else {
		u.log.Debug().Str("user", s.UserID).Int("streak", streak).Msg("reading streak")
	}

	if err := u.ApplyReadingSignal(ctx, s.UserID, s.ArticleID, s.Completed); err != nil {
		u.log.Warn().Err(err).Str("user", s.UserID).Str("article", s.ArticleID).Msg("topic weight update failed")
	}
	return nil
}

// SelectTopics gives the reader each topic at the default weight unless
// they already have one. Slugs are normalized and must be in the vocabulary.
func (u *Updater) SelectTopics(ctx context.Context, userID string, topics []string) ([]string, error) {
	seen := make(map[string]bool, len(topics))
	var clean []string
	for _, t := range topics {
		t = types.NormalizeTopic(t)
		if t == "" || seen[t] {
			continue
		}
		if !types.IsTopic(t) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownTopic, t)
		}
		seen[t] = true
		clean = append(clean, t)
	}
	if len(clean) == 0 {
		return nil, ErrNoTopics
	}
	if err := u.store.EnsureTopics(ctx, userID, clean); err != nil {
		return nil, fmt.Errorf("saving topics: %w", err)
	}
	return clean, nil
}

// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// DefaultTopicWeight is the weight of a newly selected topic.
const DefaultTopicWeight = 1.0

// TopicPreference is one reader's affinity for one topic. Weights only grow.
type TopicPreference struct {
	UserID string  `json:"user_id" yaml:"user_id"`
	Topic  string  `json:"topic" yaml:"topic"`
	Weight float64 `json:"weight" yaml:"weight"`
}

// ReadingEntry records that a reader opened an article. There is at most one
// entry per (UserID, ArticleID); later events merge into it.
type ReadingEntry struct {
	UserID    string `json:"user_id" yaml:"user_id"`
	ArticleID string `json:"article_id" yaml:"article_id"`

	// Completed stays true once any event reported completion.
	Completed bool `json:"completed" yaml:"completed"`

	// Reaction is optional; an empty value leaves a stored reaction alone.
	Reaction string    `json:"reaction,omitempty" yaml:"reaction,omitempty"`
	ReadAt   time.Time `json:"read_at" yaml:"read_at"`
}

// Source is one configured feed.
type Source struct {
	URL   string `json:"url" yaml:"url"`
	Label string `json:"label" yaml:"label"`
}

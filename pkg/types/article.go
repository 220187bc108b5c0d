// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package types defines the domain model shared by every lumi-engine stage:
// articles and their enrichment, reader preferences and history, feed
// sources, and the configuration tree.
package types

import (
	"fmt"
	"strings"
	"time"
)

// DefaultWeightScore is the significance used for an article whose weight
// score was never set.
const DefaultWeightScore = 0.5

// Topics is the controlled topic vocabulary. Enrichment may only tag
// articles with these slugs, and readers may only select these.
var Topics = []string{
	"nigeria",
	"africa",
	"world",
	"politics",
	"business",
	"technology",
	"startups",
	"finance",
	"sports",
	"entertainment",
	"culture",
	"health",
	"science",
	"environment",
	"education",
	"crime",
}

var topicSet = func() map[string]bool {
	m := make(map[string]bool, len(Topics))
	for _, t := range Topics {
		m[t] = true
	}
	return m
}()

// IsTopic reports whether slug belongs to the controlled vocabulary.
func IsTopic(slug string) bool {
	return topicSet[slug]
}

// NormalizeTopic trims and lowercases a topic slug.
func NormalizeTopic(slug string) string {
	return strings.ToLower(strings.TrimSpace(slug))
}

// Candidate is one item discovered in a feed, before deduplication.
type Candidate struct {
	Title       string    `json:"title" yaml:"title"`
	Link        string    `json:"link" yaml:"link"`
	Source      string    `json:"source" yaml:"source"`
	PublishedAt time.Time `json:"published_at" yaml:"published_at"`
	Snippet     string    `json:"snippet,omitempty" yaml:"snippet,omitempty"`
	ImageURL    string    `json:"image_url,omitempty" yaml:"image_url,omitempty"`
}

// Article is one discovered news item. Discovery fields are fixed when the
// stub is created. Enrichment is nil until enrichment succeeds, and is then
// written as a whole and never changed again.
type Article struct {
	// ID is derived deterministically from the normalized source URL.
	ID string `json:"id" yaml:"id"`

	// SourceURL is the article link as published by the feed. Unique.
	SourceURL string `json:"source_url" yaml:"source_url"`

	Title       string    `json:"title" yaml:"title"`
	Source      string    `json:"source" yaml:"source"`
	PublishedAt time.Time `json:"published_at" yaml:"published_at"`
	ImageURL    string    `json:"image_url,omitempty" yaml:"image_url,omitempty"`

	// Snippet is the feed-provided excerpt, kept so a later enrichment
	// attempt can fall back to it without refetching the feed.
	Snippet   string    `json:"snippet,omitempty" yaml:"snippet,omitempty"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`

	// RawContent is the text that was submitted for enrichment.
	RawContent string `json:"raw_content,omitempty" yaml:"raw_content,omitempty"`

	// EnrichAttempts counts failed enrichment attempts; LastAttemptAt and
	// LastError describe the most recent one.
	EnrichAttempts int       `json:"enrich_attempts" yaml:"enrich_attempts"`
	LastAttemptAt  time.Time `json:"last_attempt_at,omitempty" yaml:"last_attempt_at,omitempty"`
	LastError      string    `json:"last_error,omitempty" yaml:"last_error,omitempty"`

	Enrichment *Enrichment `json:"enrichment,omitempty" yaml:"enrichment,omitempty"`
}

// Enriched reports whether the article carries a complete enrichment.
func (a Article) Enriched() bool {
	return a.Enrichment != nil && !a.Enrichment.ProcessedAt.IsZero()
}

// HasTopic reports whether the article is tagged with topic.
func (a Article) HasTopic(topic string) bool {
	if a.Enrichment == nil {
		return false
	}
	for _, t := range a.Enrichment.TopicTags {
		if t == topic {
			return true
		}
	}
	return false
}

// Enrichment is the structured annotation produced for an article.
type Enrichment struct {
	Summary        string   `json:"summary" yaml:"summary"`
	SimplifiedBody string   `json:"simplified_body" yaml:"simplified_body"`
	DeepDive       string   `json:"deep_dive" yaml:"deep_dive"`
	WhyItMatters   string   `json:"why_it_matters" yaml:"why_it_matters"`
	RabbitHole     string   `json:"rabbit_hole" yaml:"rabbit_hole"`
	TopicTags      []string `json:"topic_tags" yaml:"topic_tags"`
	Entities       []string `json:"entities" yaml:"entities"`

	// WeightScore is the significance of the story in [0,1].
	WeightScore float64   `json:"weight_score" yaml:"weight_score"`
	ProcessedAt time.Time `json:"processed_at" yaml:"processed_at"`
}

// Tone is a rewrite register for article text.
type Tone string

const (
	ToneFormal         Tone = "FORMAL"
	ToneConversational Tone = "CONVERSATIONAL"
	ToneLikeAFriend    Tone = "LIKE_A_FRIEND"
)

// ParseTone accepts a tone name in any case.
func ParseTone(s string) (Tone, error) {
	switch t := Tone(strings.ToUpper(strings.TrimSpace(s))); t {
	case ToneFormal, ToneConversational, ToneLikeAFriend:
		return t, nil
	default:
		return "", fmt.Errorf("unknown tone %q (want FORMAL, CONVERSATIONAL or LIKE_A_FRIEND)", s)
	}
}

// Layer names one enrichment text field that readers can view and rewrite.
type Layer string

const (
	LayerSummary      Layer = "summary"
	LayerSimplified   Layer = "simplified"
	LayerDeepDive     Layer = "deep_dive"
	LayerWhyItMatters Layer = "why_it_matters"
	LayerRabbitHole   Layer = "rabbit_hole"
)

// ParseLayer accepts a layer name in any case.
func ParseLayer(s string) (Layer, error) {
	switch l := Layer(strings.ToLower(strings.TrimSpace(s))); l {
	case LayerSummary, LayerSimplified, LayerDeepDive, LayerWhyItMatters, LayerRabbitHole:
		return l, nil
	default:
		return "", fmt.Errorf("unknown layer %q", s)
	}
}

// Text returns the enrichment text for layer, or "" when the article is not
// enriched.
func (a Article) Text(layer Layer) string {
	e := a.Enrichment
	if e == nil {
		return ""
	}
	switch layer {
	case LayerSummary:
		return e.Summary
	case LayerSimplified:
		return e.SimplifiedBody
	case LayerDeepDive:
		return e.DeepDive
	case LayerWhyItMatters:
		return e.WhyItMatters
	case LayerRabbitHole:
		return e.RabbitHole
	}
	return ""
}

// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package rewrite serves tone rewrites of enriched article text. Requests
// are rate limited per reader and results are cached per (article, layer,
// tone); enriched text never changes, so cache entries never go stale.
package rewrite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/pdiddy/lumi-engine/internal/logging"
	"github.com/pdiddy/lumi-engine/internal/metrics"
	"github.com/pdiddy/lumi-engine/internal/ratelimit"
	"github.com/pdiddy/lumi-engine/internal/store"
	"github.com/pdiddy/lumi-engine/internal/tonecache"
	"github.com/pdiddy/lumi-engine/pkg/types"
)

const (
	DefaultLimit  = 5
	DefaultWindow = time.Minute
)

var (
	// ErrNotEnriched is returned for articles that are still stubs.
	ErrNotEnriched = errors.New("article not enriched")

	// ErrEmptyLayer is returned when the requested layer has no text.
	ErrEmptyLayer = errors.New("layer has no text")
)

// ErrRateLimited is returned when the reader exhausted their rewrite quota.
type ErrRateLimited struct {
	UserID   string
	Decision ratelimit.Decision
	Window   time.Duration
}

func (e *ErrRateLimited) Error() string {
	return fmt.Sprintf("rewrite rate limit exceeded for %s (window %s)", e.UserID, e.Window)
}

// Articles loads articles.
type Articles interface {
	Article(ctx context.Context, id string) (types.Article, error)
}

// Rewriter restates text in a tone.
type Rewriter interface {
	RewriteTone(ctx context.Context, text string, tone types.Tone) (string, error)
}

// Config sets the per-reader quota.
type Config struct {
	Limit  int
	Window time.Duration
}

// Service rewrites article layers.
type Service struct {
	articles Articles
	rewriter Rewriter
	limiter  *ratelimit.Limiter
	cache    *tonecache.Cache
	cfg      Config
	log      zerolog.Logger
}

// New returns a Service. The limiter and cache may be shared with other
// components; the caller owns their lifecycle.
func New(cfg Config, a Articles, r Rewriter, l *ratelimit.Limiter, c *tonecache.Cache) *Service {
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultLimit
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	return &Service{
		articles: a,
		rewriter: r,
		limiter:  l,
		cache:    c,
		cfg:      cfg,
		log:      logging.Component("rewrite"),
	}
}

// Rewrite returns the layer of the article rewritten in tone. Every call
// counts against the reader's quota, cached or not.
func (s *Service) Rewrite(ctx context.Context, userID, articleID string, layer types.Layer, tone types.Tone) (string, error) {
	d := s.limiter.Allow("rewrite_"+userID, s.cfg.Limit, s.cfg.Window)
	if !d.Allowed {
		return "", &ErrRateLimited{UserID: userID, Decision: d, Window: s.cfg.Window}
	}

	a, err := s.articles.Article(ctx, articleID)
	if errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("article %s: %w", articleID, store.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("loading article %s: %w", articleID, err)
	}
	if !a.Enriched() {
		return "", fmt.Errorf("article %s: %w", articleID, ErrNotEnriched)
	}
	text := a.Text(layer)
	if text == "" {
		return "", fmt.Errorf("article %s layer %s: %w", articleID, layer, ErrEmptyLayer)
	}

	key := tonecache.Key{ArticleID: articleID, Layer: layer, Tone: tone}
	if out, ok := s.cache.Get(key); ok {
		metrics.RewriteCache.WithLabelValues("hit").Inc()
		return out, nil
	}
	metrics.RewriteCache.WithLabelValues("miss").Inc()

	out, err := s.rewriter.RewriteTone(ctx, text, tone)
	if err != nil {
		return "", fmt.Errorf("rewriting %s: %w", articleID, err)
	}
	s.cache.Put(key, out)
	s.log.Debug().Str("article", articleID).Str("layer", string(layer)).Str("tone", string(tone)).Int("remaining", d.Remaining).Msg("rewrite cached")
	return out, nil
}

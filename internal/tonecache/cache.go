// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package tonecache memoizes tone rewrites. An enriched article never
// changes, so an entry for (article, layer, tone) is valid forever and is
// only ever dropped by cost-based eviction.
package tonecache

import (
	"fmt"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/pdiddy/lumi-engine/pkg/types"
)

// DefaultMaxBytes bounds the cache when no size is configured.
const DefaultMaxBytes = 32 << 20

// Key identifies one rewritten layer.
type Key struct {
	ArticleID string
	Layer     types.Layer
	Tone      types.Tone
}

func (k Key) String() string {
	return k.ArticleID + "|" + string(k.Layer) + "|" + string(k.Tone)
}

// Cache is a size-bounded rewrite cache. Entries cost their text length.
type Cache struct {
	c *ristretto.Cache[string, string]
}

// New creates a cache holding up to maxBytes of rewritten text.
func New(maxBytes int64) (*Cache, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, string]{
		// Roughly ten counters per expected entry at ~1 KiB per rewrite.
		NumCounters:        maxBytes / 100,
		MaxCost:            maxBytes,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("creating rewrite cache: %w", err)
	}
	return &Cache{c: c}, nil
}

// Get returns the cached rewrite for k.
func (c *Cache) Get(k Key) (string, bool) {
	return c.c.Get(k.String())
}

// Put stores text for k and waits until the write is visible to Get.
func (c *Cache) Put(k Key, text string) {
	cost := int64(len(text))
	if cost == 0 {
		cost = 1
	}
	c.c.Set(k.String(), text, cost)
	c.c.Wait()
}

// Close stops the cache's background goroutines.
func (c *Cache) Close() {
	c.c.Close()
}

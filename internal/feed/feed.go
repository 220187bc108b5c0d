// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package feed pulls candidate items from RSS and Atom feeds.
package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog"

	"github.com/pdiddy/lumi-engine/internal/httputil"
	"github.com/pdiddy/lumi-engine/internal/logging"
	"github.com/pdiddy/lumi-engine/pkg/types"
)

// maxFeedBytes bounds how much of a feed response is parsed.
const maxFeedBytes = 10 << 20

// Fetcher downloads and parses feeds.
type Fetcher struct {
	client     *http.Client
	userAgent  string
	maxRetries int
	now        func() time.Time
	log        zerolog.Logger
}

// NewFetcher returns a Fetcher using the shared HTTP settings.
func NewFetcher(cfg types.HTTPConfig) *Fetcher {
	ua := cfg.UserAgent
	if ua == "" {
		ua = "lumi-engine/1.0"
	}
	return &Fetcher{
		client:     httputil.NewClient(cfg),
		userAgent:  ua,
		maxRetries: cfg.MaxRetries,
		now:        time.Now,
		log:        logging.Component("feed"),
	}
}

// Fetch returns the candidates of one feed. On any network or parse failure
// it logs, then returns no candidates and the error for the caller to
// count; it never panics on malformed feeds.
func (f *Fetcher) Fetch(ctx context.Context, src types.Source) ([]types.Candidate, error) {
	start := f.now()
	got, err := f.fetch(ctx, src)
	if err != nil {
		f.log.Warn().Err(err).Str("source", src.Label).Str("url", src.URL).Msg("feed fetch failed")
		return nil, err
	}
	f.log.Debug().Str("source", src.Label).Int("items", len(got)).Dur("elapsed", f.now().Sub(start)).Msg("feed fetched")
	return got, nil
}

func (f *Fetcher) fetch(ctx context.Context, src types.Source) ([]types.Candidate, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request for %s: %w", src.Label, err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml;q=0.9, */*;q=0.8")

	resp, err := httputil.DoWithRetry(ctx, f.client, req, f.maxRetries)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", src.Label, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching %s: HTTP %d", src.Label, resp.StatusCode)
	}

	parsed, err := gofeed.NewParser().Parse(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", src.Label, err)
	}

	return toCandidates(parsed, src.Label, f.now()), nil
}

func toCandidates(parsed *gofeed.Feed, label string, now time.Time) []types.Candidate {
	out := make([]types.Candidate, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		if item == nil {
			continue
		}
		published := now
		if item.PublishedParsed != nil {
			published = *item.PublishedParsed
		} else if item.UpdatedParsed != nil {
			published = *item.UpdatedParsed
		}

		snippet := item.Description
		if strings.TrimSpace(snippet) == "" {
			snippet = item.Content
		}

		out = append(out, types.Candidate{
			Title:       strings.TrimSpace(PlainText(item.Title)),
			Link:        strings.TrimSpace(item.Link),
			Source:      label,
			PublishedAt: published.UTC(),
			Snippet:     PlainText(snippet),
			ImageURL:    itemImage(item),
		})
	}
	return out
}

// itemImage returns the item image, then media:content, media:thumbnail,
// and finally the first enclosure.
func itemImage(item *gofeed.Item) string {
	if item.Image != nil && item.Image.URL != "" {
		return item.Image.URL
	}
	if media, ok := item.Extensions["media"]; ok {
		for _, name := range []string{"content", "thumbnail"} {
			for _, e := range media[name] {
				if u := e.Attrs["url"]; u != "" {
					return u
				}
			}
		}
	}
	for _, enc := range item.Enclosures {
		if enc != nil && enc.URL != "" {
			return enc.URL
		}
	}
	return ""
}

// PlainText strips markup from an HTML fragment and collapses whitespace.
func PlainText(fragment string) string {
	if !strings.ContainsAny(fragment, "<&") {
		return strings.Join(strings.Fields(fragment), " ")
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return strings.Join(strings.Fields(fragment), " ")
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}

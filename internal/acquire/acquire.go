// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package acquire fetches an article page and extracts its readable text
// and lead image.
package acquire

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"

	"github.com/pdiddy/lumi-engine/internal/httputil"
	"github.com/pdiddy/lumi-engine/internal/logging"
	"github.com/pdiddy/lumi-engine/pkg/types"
)

// MinTextLength is the number of characters below which extracted page text
// is considered unusable and the feed snippet is kept instead.
const MinTextLength = 100

// maxPageBytes bounds how much of an article page is read.
const maxPageBytes = 5 << 20

// boilerplate lists elements removed before collecting paragraphs.
const boilerplate = "script, style, noscript, nav, aside, footer, header, form, iframe"

// Content is the outcome of acquiring one article.
type Content struct {
	// Text is the extracted body, or the feed snippet when extraction failed.
	Text string

	// ImageURL is the feed image when present, otherwise the page image.
	ImageURL string

	// Extracted reports whether Text came from the page.
	Extracted bool
}

// Acquirer downloads article pages.
type Acquirer struct {
	client     *http.Client
	userAgent  string
	maxRetries int
	log        zerolog.Logger
}

// New returns an Acquirer using the shared HTTP settings.
func New(cfg types.HTTPConfig) *Acquirer {
	ua := cfg.UserAgent
	if ua == "" {
		ua = "lumi-engine/1.0"
	}
	return &Acquirer{
		client:     httputil.NewClient(cfg),
		userAgent:  ua,
		maxRetries: cfg.MaxRetries,
		log:        logging.Component("acquire"),
	}
}

// Acquire returns the best available text for the page at link. It never
// fails: network, status, and parse problems fall back to the feed snippet
// and image so the caller can decide whether the result is long enough to
// enrich.
func (a *Acquirer) Acquire(ctx context.Context, link, snippet, imageURL string) Content {
	fallback := Content{Text: strings.TrimSpace(snippet), ImageURL: imageURL}

	page, err := a.fetch(ctx, link)
	if err != nil {
		a.log.Debug().Err(err).Str("url", link).Msg("page fetch failed, using snippet")
		return fallback
	}

	text, image := Extract(page, link)
	out := fallback
	if out.ImageURL == "" {
		out.ImageURL = image
	}
	if len([]rune(text)) >= MinTextLength {
		out.Text = text
		out.Extracted = true
	}
	return out
}

func (a *Acquirer) fetch(ctx context.Context, link string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", a.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := httputil.DoWithRetry(ctx, a.client, req, a.maxRetries)
	if err != nil {
		return nil, fmt.Errorf("HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d from %s", resp.StatusCode, link)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, fmt.Errorf("parsing page: %w", err)
	}
	return doc, nil
}

// Extract returns the paragraph text of the page's main content and the
// og:image or twitter:image URL resolved against base.
func Extract(doc *goquery.Document, base string) (text, image string) {
	image = metaImage(doc, base)

	doc.Find(boilerplate).Remove()

	root := doc.Find("article").First()
	if root.Length() == 0 {
		root = doc.Find("main").First()
	}
	if root.Length() == 0 {
		root = doc.Find("body").First()
	}

	var paras []string
	root.Find("p").Each(func(_ int, s *goquery.Selection) {
		if p := strings.Join(strings.Fields(s.Text()), " "); p != "" {
			paras = append(paras, p)
		}
	})
	return strings.Join(paras, "\n\n"), image
}

func metaImage(doc *goquery.Document, base string) string {
	for _, sel := range []string{
		`meta[property="og:image"]`,
		`meta[name="og:image"]`,
		`meta[name="twitter:image"]`,
		`meta[property="twitter:image"]`,
	} {
		v, ok := doc.Find(sel).First().Attr("content")
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		return resolve(base, strings.TrimSpace(v))
	}
	return ""
}

func resolve(base, ref string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}

// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/pdiddy/lumi-engine/internal/acquire"
	"github.com/pdiddy/lumi-engine/internal/enrich"
	"github.com/pdiddy/lumi-engine/internal/metrics"
	"github.com/pdiddy/lumi-engine/internal/store"
	"github.com/pdiddy/lumi-engine/pkg/types"
)

// ErrInsufficientContent means neither the page nor the feed snippet gave
// enough text to enrich.
var ErrInsufficientContent = errors.New("insufficient content")

// backoffBase is the delay before the first retry of a retryable write.
// Tests override this to avoid real sleeps.
var backoffBase = 500 * time.Millisecond

// failureRecordTimeout bounds the attempt bookkeeping after a task failed,
// which may run after the task context expired.
const failureRecordTimeout = 5 * time.Second

// enrichArticle is the body of one enrichment task.
func (o *Orchestrator) enrichArticle(ctx context.Context, a types.Article) error {
	log := o.log.With().Str("article", a.ID).Logger()

	content := o.acquirer.Acquire(ctx, a.SourceURL, a.Snippet, a.ImageURL)
	if utf8.RuneCountInString(content.Text) < acquire.MinTextLength {
		metrics.Enrichments.WithLabelValues("insufficient_content").Inc()
		o.recordFailure(ctx, a.ID, ErrInsufficientContent)
		return fmt.Errorf("%s: %w", a.ID, ErrInsufficientContent)
	}

	ann, err := o.enricher.Enrich(ctx, a.Title, content.Text)
	if err != nil {
		outcome := "call_failure"
		if enrich.KindOf(err) == enrich.FailureParse {
			outcome = "parse_failure"
		}
		metrics.Enrichments.WithLabelValues(outcome).Inc()
		o.recordFailure(ctx, a.ID, err)
		return fmt.Errorf("enriching %s: %w", a.ID, err)
	}

	e := ann.Enrichment(o.now())
	err = o.persist(ctx, a.ID, content.Text, content.ImageURL, *e)
	switch {
	case errors.Is(err, store.ErrAlreadyEnriched):
		// Another process finished first; its enrichment stands.
		metrics.Enrichments.WithLabelValues("duplicate").Inc()
		log.Debug().Msg("article already enriched")
		return nil
	case err != nil:
		metrics.Enrichments.WithLabelValues("persist_failure").Inc()
		o.recordFailure(ctx, a.ID, err)
		return fmt.Errorf("persisting %s: %w", a.ID, err)
	}

	metrics.Enrichments.WithLabelValues("enriched").Inc()
	log.Info().Strs("topics", e.TopicTags).Float64("weight", e.WeightScore).Bool("extracted", content.Extracted).Msg("article enriched")
	return nil
}

// persist writes the enrichment, retrying retryable store errors with
// exponential backoff.
func (o *Orchestrator) persist(ctx context.Context, id, raw, image string, e types.Enrichment) error {
	var err error
	for attempt := 0; attempt <= o.cfg.WriteRetries; attempt++ {
		if attempt > 0 {
			backoff := backoffBase * time.Duration(1<<(attempt-1))
			o.log.Debug().Err(err).Str("article", id).Int("attempt", attempt).Dur("backoff", backoff).Msg("retrying enrichment write")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
		err = o.store.CompleteEnrichment(ctx, id, raw, image, e)
		if err == nil || !store.IsRetryable(err) {
			return err
		}
	}
	return err
}

// recordFailure counts a failed attempt. Tasks cancelled by shutdown are
// not counted; a task timeout is.
func (o *Orchestrator) recordFailure(ctx context.Context, id string, cause error) {
	if errors.Is(ctx.Err(), context.Canceled) {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureRecordTimeout)
	defer cancel()
	if err := o.store.RecordAttemptFailure(ctx, id, o.now().UTC(), cause.Error()); err != nil && !errors.Is(err, store.ErrNotFound) {
		o.log.Warn().Err(err).Str("article", id).Msg("recording failed attempt")
	}
}

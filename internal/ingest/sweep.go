// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/pdiddy/lumi-engine/internal/work"
)

// SweepSummary counts the outcome of one Sweep.
type SweepSummary struct {
	Found      int `json:"found"`
	Dispatched int `json:"dispatched"`
	InFlight   int `json:"in_flight"`
	Rejected   int `json:"rejected"`
}

// Sweep re-dispatches stubs whose enrichment never landed: stubs older than
// the stale window with fewer failed attempts than the cap. Stubs already
// queued in this process are left alone.
func (o *Orchestrator) Sweep(ctx context.Context) (SweepSummary, error) {
	cutoff := o.now().Add(-o.cfg.Sweep.StaleAfter).UTC()
	stubs, err := o.store.StaleStubs(ctx, cutoff, o.cfg.Sweep.MaxAttempts, o.cfg.Sweep.BatchSize)
	if err != nil {
		return SweepSummary{}, fmt.Errorf("listing stale stubs: %w", err)
	}

	sum := SweepSummary{Found: len(stubs)}
	for _, a := range stubs {
		err := o.dispatch(a)
		switch {
		case err == nil:
			sum.Dispatched++
		case errors.Is(err, errInFlight):
			sum.InFlight++
		case errors.Is(err, work.ErrPoolClosed):
			return sum, err
		default:
			sum.Rejected++
		}
	}

	if sum.Found > 0 {
		o.log.Info().
			Int("found", sum.Found).
			Int("dispatched", sum.Dispatched).
			Int("in_flight", sum.InFlight).
			Int("rejected", sum.Rejected).
			Msg("stale stub sweep finished")
	}
	return sum, nil
}

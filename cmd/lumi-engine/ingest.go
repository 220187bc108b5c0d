// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pdiddy/lumi-engine/internal/ingest"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Run one ingestion cycle and wait for enrichment to finish",
	Long: `Ingest fetches every configured feed, creates a stub for each article
not seen before, and dispatches the new stubs for enrichment. The command
waits for the enrichment pool to drain, up to --wait, before exiting.
Stubs still pending at exit are picked up by a later sweep.`,
	RunE: runIngest,
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Re-dispatch stubs whose enrichment never landed",
	Long: `Sweep finds stubs older than sweep.stale_after with fewer than
sweep.max_attempts failed attempts and dispatches them for enrichment
again, then waits for the pool to drain, up to --wait.`,
	RunE: runSweep,
}

func runIngest(cmd *cobra.Command, args []string) error {
	return withPipeline(cmd, func(ctx context.Context, p *pipeline) error {
		summary, err := p.orch.Run(ctx)
		printCycleSummary(summary)
		return err
	})
}

func runSweep(cmd *cobra.Command, args []string) error {
	return withPipeline(cmd, func(ctx context.Context, p *pipeline) error {
		summary, err := p.orch.Sweep(ctx)
		fmt.Fprintf(os.Stdout, "Sweep: %d stale, %d dispatched, %d in flight, %d rejected\n",
			summary.Found, summary.Dispatched, summary.InFlight, summary.Rejected)
		return err
	})
}

// withPipeline opens the store, starts the pool, runs fn, and drains the
// pool before closing everything.
func withPipeline(cmd *cobra.Command, fn func(ctx context.Context, p *pipeline) error) error {
	wait, _ := cmd.Flags().GetDuration("wait")

	cfg, err := currentConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg.Store)
	if err != nil {
		return err
	}
	defer st.Close()

	p, err := newPipeline(cfg, st)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Tasks still queued after the wait are cancelled, not drained.
	poolCtx, cancelPool := context.WithCancel(ctx)
	p.pool.Start(poolCtx)
	defer func() {
		cancelPool()
		p.pool.Stop()
	}()

	if err := fn(ctx, p); err != nil {
		return err
	}

	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	start := time.Now()
	if err := p.pool.Wait(waitCtx); err != nil {
		fmt.Fprintf(os.Stderr, "Stopped waiting after %s with %d task(s) outstanding\n",
			time.Since(start).Round(time.Second), p.pool.Outstanding())
	}
	printPoolStats(p)
	return nil
}

func printCycleSummary(s ingest.CycleSummary) {
	fmt.Fprintf(os.Stdout, "Ingest: %d sources (%d failed), %d candidates\n",
		s.Sources, s.FailedSources, s.Candidates)
	fmt.Fprintf(os.Stdout, "  %d new, %d known, %d invalid, %d dispatched, %d rejected, %d store errors\n",
		s.Created, s.Skipped, s.Invalid, s.Dispatched, s.Rejected, s.Errors)
}

func printPoolStats(p *pipeline) {
	st := p.pool.Stats()
	fmt.Fprintf(os.Stdout, "Enrichment: %d completed, %d failed, %d panicked, %d outstanding\n",
		st.Completed, st.Failed, st.Panicked, st.Outstanding())
}

func init() {
	ingestCmd.Flags().Duration("wait", 10*time.Minute, "maximum time to wait for enrichment to finish")
	sweepCmd.Flags().Duration("wait", 10*time.Minute, "maximum time to wait for enrichment to finish")

	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(sweepCmd)
}

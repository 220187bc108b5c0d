// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/pdiddy/lumi-engine/internal/ingest"
	"github.com/pdiddy/lumi-engine/internal/logging"
	"github.com/pdiddy/lumi-engine/internal/schedule"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run scheduled ingestion and sweeps until interrupted",
	Long: `Serve runs the ingestion cycle on schedule.ingest and the stale stub
sweep on schedule.sweep, and exposes Prometheus metrics on metrics.addr. On
SIGINT or SIGTERM it stops the scheduler, waits up to --shutdown-timeout for
enrichment to drain, and exits.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	now, _ := cmd.Flags().GetBool("now")
	shutdownTimeout, _ := cmd.Flags().GetDuration("shutdown-timeout")
	log := logging.Component("serve")

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

	// The pool outlives the signal so queued enrichment can drain.
	poolCtx, cancelPool := context.WithCancel(context.Background())
	defer cancelPool()
	p.pool.Start(poolCtx)

	sched := schedule.New()
	if err := sched.Add("ingest", cfg.Schedule.Ingest, func(ctx context.Context) error {
		_, err := p.orch.Run(ctx)
		if errors.Is(err, ingest.ErrCycleRunning) {
			return nil
		}
		return err
	}); err != nil {
		return err
	}
	if err := sched.Add("sweep", cfg.Schedule.Sweep, func(ctx context.Context) error {
		_, err := p.orch.Sweep(ctx)
		return err
	}); err != nil {
		return err
	}
	sched.Start()

	var srv *http.Server
	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv = &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Str("addr", cfg.Metrics.Addr).Msg("metrics server failed")
			}
		}()
		log.Info().Str("addr", cfg.Metrics.Addr).Msg("serving metrics")
	}

	if now {
		go func() {
			if _, err := p.orch.Run(ctx); err != nil && !errors.Is(err, ingest.ErrCycleRunning) {
				log.Warn().Err(err).Msg("initial ingestion cycle failed")
			}
		}()
	}

	log.Info().Str("ingest", cfg.Schedule.Ingest).Str("sweep", cfg.Schedule.Sweep).Msg("lumi-engine serving")
	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := sched.Stop(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("scheduled jobs still running at shutdown")
	}
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("metrics server shutdown")
		}
	}
	if err := p.pool.Wait(shutdownCtx); err != nil {
		log.Warn().Int("outstanding", p.pool.Outstanding()).Msg("enrichment did not drain before shutdown")
	}
	cancelPool()
	p.pool.Stop()
	printPoolStats(p)
	return nil
}

func init() {
	serveCmd.Flags().Bool("now", false, "run an ingestion cycle immediately instead of waiting for the schedule")
	serveCmd.Flags().Duration("shutdown-timeout", 30*time.Second, "maximum time to drain work after a shutdown signal")

	rootCmd.AddCommand(serveCmd)
}

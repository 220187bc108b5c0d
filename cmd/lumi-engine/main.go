// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the lumi-engine CLI.
// The CLI drives the ingestion pipeline (ingest, sweep, serve) and exposes
// the reader operations (rank, feed, digest, read, topics, rewrite,
// relevance) against the configured store.
package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/pdiddy/lumi-engine/internal/logging"
	"github.com/pdiddy/lumi-engine/internal/secrets"
)

// version is set at build time via ldflags.
var version = "dev"

// loadedSecrets holds API keys loaded from .secrets/ at startup.
var loadedSecrets map[string]string

// rootCmd is the base command for the lumi-engine CLI.
var rootCmd = &cobra.Command{
	Use:   "lumi-engine",
	Short: "News ingestion, enrichment, and personalization pipeline",
	Long: `lumi-engine polls news feeds, stores each new article once as a stub,
enriches it in the background with an AI model (summary, simplified body,
deep dive, relevance, a follow-up question, topic tags, significance), and
ranks the enriched articles for each reader from their topic preferences.

Use ingest or serve to run the pipeline, and the reader subcommands to
inspect rankings, record reading signals, or request tone rewrites.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		dir, _ := cmd.Flags().GetString("secrets-dir")
		s, err := secrets.Load(dir)
		if err != nil {
			return err
		}
		loadedSecrets = s

		logging.Init(logging.Config{
			Level:  rootViper.GetString("log.level"),
			Format: rootViper.GetString("log.format"),
		})
		if len(s) > 0 {
			keys := make([]string, 0, len(s))
			for k := range s {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			logging.Debug().Strs("keys", keys).Msg("loaded secrets")
		}
		if f := rootViper.ConfigFileUsed(); f != "" {
			logging.Debug().Str("file", f).Msg("using config file")
		}
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ./lumi-engine.yaml or ~/.config/lumi-engine/lumi-engine.yaml)")
	rootCmd.PersistentFlags().String("secrets-dir", ".secrets/", "directory of secret files (gemini-api-key, anthropic-api-key, postgres-dsn)")
	rootCmd.PersistentFlags().String("log-level", "", "log level override: trace, debug, info, warn, error")
	_ = rootViper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

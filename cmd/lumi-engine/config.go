// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/pdiddy/lumi-engine/internal/schedule"
	"github.com/pdiddy/lumi-engine/internal/secrets"
	"github.com/pdiddy/lumi-engine/internal/tonecache"
	"github.com/pdiddy/lumi-engine/pkg/types"
)

// rootViper holds the configuration shared by all subcommands.
var rootViper = viper.New()

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		rootViper.SetConfigFile(cfgFile)
	} else {
		rootViper.SetConfigName("lumi-engine")
		rootViper.SetConfigType("yaml")
		rootViper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			rootViper.AddConfigPath(filepath.Join(home, ".config", "lumi-engine"))
		}
	}

	setDefaults(rootViper)
	rootViper.SetEnvPrefix("LUMI_ENGINE")
	rootViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	rootViper.AutomaticEnv()

	if err := rootViper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			fmt.Fprintln(os.Stderr, "Error reading config file:", err)
			os.Exit(1)
		}
	}
}

// setDefaults registers a default for every key so environment variables
// reach Unmarshal even when no config file sets the key.
func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("http.timeout", 15*time.Second)
	v.SetDefault("http.user_agent", "lumi-engine/"+version)
	v.SetDefault("http.max_retries", 2)

	v.SetDefault("ai.provider", string(types.ProviderGemini))
	v.SetDefault("ai.model", "")
	v.SetDefault("ai.api_key", "")
	v.SetDefault("ai.timeout", 60*time.Second)
	v.SetDefault("ai.breaker_failures", 5)
	v.SetDefault("ai.breaker_cooldown", time.Minute)

	v.SetDefault("store.driver", string(types.DriverSQLite))
	v.SetDefault("store.path", filepath.Join("data", "lumi.db"))
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.write_retries", 3)

	v.SetDefault("ingest.sources_file", "")
	v.SetDefault("ingest.fetch_concurrency", 4)
	v.SetDefault("ingest.fetch_rate_per_second", 5.0)

	v.SetDefault("work.workers", 4)
	v.SetDefault("work.queue_size", 256)
	v.SetDefault("work.task_timeout", 2*time.Minute)

	v.SetDefault("sweep.stale_after", time.Hour)
	v.SetDefault("sweep.max_attempts", 3)
	v.SetDefault("sweep.batch_size", 50)

	v.SetDefault("rank.window", 48*time.Hour)
	v.SetDefault("rank.candidate_limit", 100)
	v.SetDefault("rank.default_count", 20)

	v.SetDefault("rewrite.limit", 5)
	v.SetDefault("rewrite.window", time.Minute)
	v.SetDefault("rewrite.cache_bytes", int64(tonecache.DefaultMaxBytes))

	v.SetDefault("schedule.ingest", schedule.DefaultIngestSpec)
	v.SetDefault("schedule.sweep", schedule.DefaultSweepSpec)

	v.SetDefault("metrics.addr", ":9464")
}

// loadConfig decodes v into a Config and fills credentials left empty from
// the loaded secrets.
func loadConfig(v *viper.Viper, loaded map[string]string) (types.Config, error) {
	var cfg types.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decoding config: %w", err)
	}

	if cfg.AI.APIKey == "" {
		switch cfg.AI.Provider {
		case types.ProviderClaude:
			cfg.AI.APIKey = secrets.Lookup(loaded, secrets.AnthropicAPIKey)
		default:
			cfg.AI.APIKey = secrets.Lookup(loaded, secrets.GeminiAPIKey)
		}
	}
	if cfg.Store.DSN == "" {
		cfg.Store.DSN = secrets.Lookup(loaded, secrets.PostgresDSN)
	}

	switch cfg.Store.Driver {
	case types.DriverSQLite, types.DriverPostgres:
	default:
		return cfg, fmt.Errorf("unknown store driver %q: use sqlite or postgres", cfg.Store.Driver)
	}
	return cfg, nil
}

// currentConfig returns the configuration for the running command.
func currentConfig() (types.Config, error) {
	return loadConfig(rootViper, loadedSecrets)
}

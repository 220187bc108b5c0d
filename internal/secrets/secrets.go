// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package secrets loads API keys and credentials from a directory of plain-text files.
// Each file in the directory represents one secret: the filename is the key name and the
// file contents (trimmed) are the value.
//
// Supported key files: gemini-api-key, anthropic-api-key, postgres-dsn.
package secrets

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdiddy/lumi-engine/internal/logging"
)

// Key names understood by lumi-engine.
const (
	GeminiAPIKey    = "gemini-api-key"
	AnthropicAPIKey = "anthropic-api-key"
	PostgresDSN     = "postgres-dsn"
)

// envNames maps each key to the environment variable consulted when the
// file is absent.
var envNames = map[string]string{
	GeminiAPIKey:    "GEMINI_API_KEY",
	AnthropicAPIKey: "ANTHROPIC_API_KEY",
	PostgresDSN:     "DATABASE_URL",
}

// Load reads all files in dir and returns a map of filename to trimmed contents.
// A missing directory or missing files are not errors; Load returns an empty map.
// Unreadable files are logged and skipped.
func Load(dir string) (map[string]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("reading secrets directory %s: %w", dir, err)
	}

	secrets := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			logging.Warn().Err(err).Str("secret", name).Msg("could not read secret")
			continue
		}

		value := strings.TrimSpace(string(data))
		if value != "" {
			secrets[name] = value
		}
	}

	return secrets, nil
}

// Lookup returns the secret for key from loaded, falling back to the key's
// environment variable.
func Lookup(loaded map[string]string, key string) string {
	if v, ok := loaded[key]; ok {
		return v
	}
	if env, ok := envNames[key]; ok {
		return strings.TrimSpace(os.Getenv(env))
	}
	return ""
}

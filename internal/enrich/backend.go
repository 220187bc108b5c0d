// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package enrich

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/pdiddy/lumi-engine/internal/httputil"
	"github.com/pdiddy/lumi-engine/pkg/types"
)

const defaultAITimeout = 60 * time.Second

// NewBackend returns the Completer selected by cfg.Provider. A nil client
// gets one with cfg.Timeout.
func NewBackend(cfg types.AIConfig, client *http.Client) (Completer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("no API key configured for provider %q", cfg.Provider)
	}
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultAITimeout
		}
		client = &http.Client{Timeout: timeout}
	}

	switch cfg.Provider {
	case types.ProviderGemini, "":
		return &GeminiBackend{APIKey: cfg.APIKey, Model: cfg.Model, Client: client}, nil
	case types.ProviderClaude:
		return &ClaudeBackend{APIKey: cfg.APIKey, Model: cfg.Model, Client: client}, nil
	default:
		return nil, fmt.Errorf("unknown AI provider %q (want gemini or claude)", cfg.Provider)
	}
}

// callJSON posts in as JSON to endpoint and decodes a 200 response into out.
// Throttled responses are retried; any other non-200 status is an error
// carrying the start of the body.
func callJSON(ctx context.Context, client *http.Client, api, endpoint string, headers map[string]string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshaling %s request: %w", api, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating %s request: %w", api, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := httputil.DoWithRetry(ctx, client, req, 0)
	if err != nil {
		return fmt.Errorf("calling %s API: %w", api, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s API returned %d: %s", api, resp.StatusCode, bytes.TrimSpace(msg))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", api, err)
	}
	return nil
}

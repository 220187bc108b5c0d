// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package enrich

import (
	"context"
	"fmt"
	"net/http"
)

// claudeAPIURL is the Messages endpoint; tests point it at a local server.
var claudeAPIURL = "https://api.anthropic.com/v1/messages"

// DefaultClaudeModel is used when no model is configured.
const DefaultClaudeModel = "claude-haiku-4-5"

// ClaudeBackend calls the Claude Messages API.
type ClaudeBackend struct {
	APIKey    string
	Model     string
	MaxTokens int
	Client    *http.Client
}

type claudeRequest struct {
	Model     string          `json:"model"`
	MaxTokens int             `json:"max_tokens"`
	Messages  []claudeMessage `json:"messages"`
}

type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

// Complete sends prompt as one user message and returns the first text block.
func (c *ClaudeBackend) Complete(ctx context.Context, prompt string) (string, error) {
	model := c.Model
	if model == "" {
		model = DefaultClaudeModel
	}
	maxTokens := c.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2048
	}

	var out claudeResponse
	err := callJSON(ctx, c.Client, "Claude", claudeAPIURL, map[string]string{
		"x-api-key":         c.APIKey,
		"anthropic-version": "2023-06-01",
	}, claudeRequest{
		Model:     model,
		MaxTokens: maxTokens,
		Messages:  []claudeMessage{{Role: "user", Content: prompt}},
	}, &out)
	if err != nil {
		return "", err
	}

	for _, block := range out.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("no text block in Claude response (stop reason %q)", out.StopReason)
}

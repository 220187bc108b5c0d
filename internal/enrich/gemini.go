// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package enrich

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// geminiAPIBase is the Generative Language API root. Package-level var for
// test substitution.
var geminiAPIBase = "https://generativelanguage.googleapis.com/v1beta/models"

// DefaultGeminiModel is used when no model is configured.
const DefaultGeminiModel = "gemini-2.5-flash-lite"

// GeminiBackend calls the Gemini generateContent endpoint.
type GeminiBackend struct {
	APIKey string
	Model  string
	Client *http.Client
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback,omitempty"`
}

// Complete sends prompt as a single user turn and returns the concatenated
// text parts of the first candidate.
func (g *GeminiBackend) Complete(ctx context.Context, prompt string) (string, error) {
	model := g.Model
	if model == "" {
		model = DefaultGeminiModel
	}

	var gResp geminiResponse
	endpoint := geminiAPIBase + "/" + url.PathEscape(model) + ":generateContent"
	err := callJSON(ctx, g.Client, "Gemini", endpoint, map[string]string{
		"x-goog-api-key": g.APIKey,
	}, geminiRequest{
		Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: prompt}}}},
	}, &gResp)
	if err != nil {
		return "", err
	}

	if gResp.PromptFeedback != nil && gResp.PromptFeedback.BlockReason != "" {
		return "", fmt.Errorf("Gemini blocked the prompt: %s", gResp.PromptFeedback.BlockReason)
	}
	if len(gResp.Candidates) == 0 {
		return "", fmt.Errorf("Gemini API returned no candidates")
	}

	var sb strings.Builder
	for _, p := range gResp.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("no text content in Gemini response (finish reason %q)", gResp.Candidates[0].FinishReason)
	}
	return sb.String(), nil
}

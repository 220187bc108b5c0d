// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package enrich turns article text into a structured annotation with a
// generative model, and rewrites enriched text in a requested tone.
//
// Model output is untrusted. Every response is decoded against a fixed
// schema and validated before it is returned; anything else surfaces as an
// *Error with Kind FailureParse.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"github.com/pdiddy/lumi-engine/internal/logging"
	"github.com/pdiddy/lumi-engine/internal/metrics"
	"github.com/pdiddy/lumi-engine/pkg/types"
)

// MaxInputRunes is the longest article text submitted for enrichment.
const MaxInputRunes = 3000

const (
	defaultBreakerFailures = 5
	defaultBreakerCooldown = time.Minute
)

// FailureKind classifies an enrichment failure.
type FailureKind int

const (
	// FailureCall means the model could not be reached or refused the call.
	FailureCall FailureKind = iota + 1

	// FailureParse means the model answered but the answer did not fit the
	// schema.
	FailureParse
)

func (k FailureKind) String() string {
	switch k {
	case FailureCall:
		return "call"
	case FailureParse:
		return "parse"
	default:
		return "unknown"
	}
}

// Error is returned by every Enricher operation that fails.
type Error struct {
	Kind FailureKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s failure: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the failure kind of err, or 0 when err is not an *Error.
func KindOf(err error) FailureKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// Completer sends one prompt to a generative model and returns its text.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Enricher wraps a Completer with prompting, output validation, and a
// circuit breaker.
type Enricher struct {
	backend Completer
	breaker *gobreaker.CircuitBreaker[string]
	log     zerolog.Logger
}

// New returns an Enricher calling backend. Breaker settings come from cfg.
func New(backend Completer, cfg types.AIConfig) *Enricher {
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = defaultBreakerFailures
	}
	cooldown := cfg.BreakerCooldown
	if cooldown <= 0 {
		cooldown = defaultBreakerCooldown
	}

	e := &Enricher{
		backend: backend,
		log:     logging.Component("enrich"),
	}
	name := string(cfg.Provider)
	if name == "" {
		name = "ai"
	}
	e.breaker = gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// A caller giving up is not a provider fault.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.BreakerState.WithLabelValues(name).Set(float64(to))
			e.log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})
	metrics.BreakerState.WithLabelValues(name).Set(float64(gobreaker.StateClosed))
	return e
}

// Enrich annotates one article. The text is truncated to MaxInputRunes.
// Failures are never retried here.
func (e *Enricher) Enrich(ctx context.Context, title, text string) (Annotation, error) {
	prompt, err := render(annotatePrompt, struct{ Title, Content string }{
		Title:   strings.TrimSpace(title),
		Content: Truncate(text, MaxInputRunes),
	})
	if err != nil {
		return Annotation{}, &Error{Kind: FailureCall, Op: "enrich", Err: err}
	}

	raw, err := e.complete(ctx, prompt)
	if err != nil {
		return Annotation{}, &Error{Kind: FailureCall, Op: "enrich", Err: err}
	}

	a, err := ParseAnnotation(raw)
	if err != nil {
		return Annotation{}, &Error{Kind: FailureParse, Op: "enrich", Err: err}
	}
	return a, nil
}

// RewriteTone restates text in tone without adding or removing facts.
func (e *Enricher) RewriteTone(ctx context.Context, text string, tone types.Tone) (string, error) {
	instruction, ok := toneInstructions[tone]
	if !ok {
		return "", &Error{Kind: FailureCall, Op: "rewrite", Err: fmt.Errorf("unsupported tone %q", tone)}
	}
	prompt, err := render(rewritePrompt, struct{ Instruction, Content string }{
		Instruction: instruction,
		Content:     text,
	})
	if err != nil {
		return "", &Error{Kind: FailureCall, Op: "rewrite", Err: err}
	}

	out, err := e.complete(ctx, prompt)
	if err != nil {
		return "", &Error{Kind: FailureCall, Op: "rewrite", Err: err}
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", &Error{Kind: FailureParse, Op: "rewrite", Err: errors.New("empty rewrite")}
	}
	return out, nil
}

// PersonalRelevance writes one sentence on why a story matters to a reader
// interested in topics.
func (e *Enricher) PersonalRelevance(ctx context.Context, summary string, topics []string) (string, error) {
	prompt, err := render(relevancePrompt, struct {
		Summary string
		Topics  string
	}{
		Summary: summary,
		Topics:  strings.Join(topics, ", "),
	})
	if err != nil {
		return "", &Error{Kind: FailureCall, Op: "relevance", Err: err}
	}

	out, err := e.complete(ctx, prompt)
	if err != nil {
		return "", &Error{Kind: FailureCall, Op: "relevance", Err: err}
	}
	out = strings.TrimSpace(out)
	if !strings.HasPrefix(out, relevancePrefix) {
		return "", &Error{Kind: FailureParse, Op: "relevance", Err: fmt.Errorf("sentence does not start with %q", relevancePrefix)}
	}
	return out, nil
}

func (e *Enricher) complete(ctx context.Context, prompt string) (string, error) {
	return e.breaker.Execute(func() (string, error) {
		return e.backend.Complete(ctx, prompt)
	})
}

// Truncate returns at most n runes of s.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

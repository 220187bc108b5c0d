// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package enrich

import (
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/pdiddy/lumi-engine/pkg/types"
)

// Annotation is the schema a model response must satisfy.
type Annotation struct {
	Summary        string   `json:"summary" validate:"required"`
	SimplifiedBody string   `json:"simplifiedBody" validate:"required"`
	DeepDive       string   `json:"deepDive" validate:"required"`
	WhyItMatters   string   `json:"whyItMatters" validate:"required"`
	RabbitHole     string   `json:"rabbitHole" validate:"required"`
	TopicTags      []string `json:"topicTags" validate:"required,min=1,dive,topic"`
	Entities       []string `json:"entities"`

	// WeightScore is optional; a missing score becomes types.DefaultWeightScore.
	WeightScore *float64 `json:"weightScore" validate:"omitempty,gte=0,lte=1"`
}

// Enrichment converts a to the stored form stamped with processedAt.
func (a Annotation) Enrichment(processedAt time.Time) *types.Enrichment {
	score := types.DefaultWeightScore
	if a.WeightScore != nil {
		score = *a.WeightScore
	}
	entities := a.Entities
	if entities == nil {
		entities = []string{}
	}
	return &types.Enrichment{
		Summary:        a.Summary,
		SimplifiedBody: a.SimplifiedBody,
		DeepDive:       a.DeepDive,
		WhyItMatters:   a.WhyItMatters,
		RabbitHole:     a.RabbitHole,
		TopicTags:      a.TopicTags,
		Entities:       entities,
		WeightScore:    score,
		ProcessedAt:    processedAt.UTC(),
	}
}

var validate = func() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterValidation("topic", func(fl validator.FieldLevel) bool {
		return types.IsTopic(fl.Field().String())
	})
	return v
}()

// ParseAnnotation decodes and validates a raw model response. Code fences
// and surrounding whitespace are tolerated; unknown fields, trailing data,
// missing fields, out-of-vocabulary tags, and out-of-range scores are not.
func ParseAnnotation(raw string) (Annotation, error) {
	body := stripFences(raw)
	if body == "" {
		return Annotation{}, errors.New("empty response")
	}

	dec := json.NewDecoder(strings.NewReader(body))
	dec.DisallowUnknownFields()

	var a Annotation
	if err := dec.Decode(&a); err != nil {
		return Annotation{}, fmt.Errorf("decoding annotation: %w", err)
	}
	var extra json.RawMessage
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return Annotation{}, errors.New("trailing data after annotation")
	}

	normalize(&a)
	if err := validate.Struct(a); err != nil {
		return Annotation{}, fmt.Errorf("validating annotation: %w", err)
	}
	return a, nil
}

func normalize(a *Annotation) {
	a.Summary = strings.TrimSpace(a.Summary)
	a.SimplifiedBody = strings.TrimSpace(a.SimplifiedBody)
	a.DeepDive = strings.TrimSpace(a.DeepDive)
	a.WhyItMatters = strings.TrimSpace(a.WhyItMatters)
	a.RabbitHole = strings.TrimSpace(a.RabbitHole)

	a.TopicTags = dedupe(a.TopicTags, types.NormalizeTopic)
	a.Entities = dedupe(a.Entities, strings.TrimSpace)
}

// dedupe applies norm to each value, drops empties, and keeps first
// occurrences in order.
func dedupe(values []string, norm func(string) string) []string {
	if values == nil {
		return nil
	}
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = norm(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

var (
	openFence  = regexp.MustCompile("(?i)^```(?:json)?\\s*")
	closeFence = regexp.MustCompile("\\s*```$")
)

// stripFences removes a Markdown code fence, with or without a json hint,
// around a model response.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = openFence.ReplaceAllString(s, "")
	s = closeFence.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

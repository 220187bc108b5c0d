// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package feed

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/lumi-engine/pkg/types"
)

//go:embed sources.yaml
var defaultSources []byte

// LoadSources reads a YAML list of feeds from path, or the built-in list
// when path is empty. Entries without a URL are rejected; a missing label
// falls back to the URL.
func LoadSources(path string) ([]types.Source, error) {
	data := defaultSources
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading sources file: %w", err)
		}
		data = b
	}
	return parseSources(data)
}

func parseSources(data []byte) ([]types.Source, error) {
	var sources []types.Source
	if err := yaml.Unmarshal(data, &sources); err != nil {
		return nil, fmt.Errorf("parsing sources: %w", err)
	}

	seen := make(map[string]bool, len(sources))
	out := sources[:0]
	for i, s := range sources {
		s.URL = strings.TrimSpace(s.URL)
		s.Label = strings.TrimSpace(s.Label)
		if s.URL == "" {
			return nil, fmt.Errorf("source %d has no url", i)
		}
		if seen[s.URL] {
			continue
		}
		seen[s.URL] = true
		if s.Label == "" {
			s.Label = s.URL
		}
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no sources configured")
	}
	return out, nil
}

package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/harun/callcore/pkg/agent"
	"gopkg.in/yaml.v3"
)

// Manifest is the decoded content of a manifest file
type Manifest struct {
	Tools         []agent.ToolSpec    `json:"tools"`
	FillerPhrases map[string][]string `json:"fillerPhrases,omitempty"`
}

// ResolverConfig converts the manifest into a partial resolver configuration.
func (m *Manifest) ResolverConfig() agent.ResolverConfig {
	return agent.ResolverConfig{
		ToolManifest:  m.Tools,
		FillerPhrases: m.FillerPhrases,
	}
}

// Validate checks every tool spec and reports all failures together.
func (m *Manifest) Validate() error {
	var errs []error
	seen := make(map[string]bool, len(m.Tools))
	for _, spec := range m.Tools {
		if err := spec.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if seen[spec.Name] {
			errs = append(errs, fmt.Errorf("%w: duplicate tool %s", agent.ErrInvalidTool, spec.Name))
		}
		seen[spec.Name] = true
	}
	return errors.Join(errs...)
}

// Load reads a manifest file. The format is chosen by extension: .yaml and
// .yml are YAML, anything else is JSON.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAML(data)
	default:
		return ParseJSON(data)
	}
}

// ParseJSON decodes a JSON manifest.
func ParseJSON(data []byte) (*Manifest, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return &Manifest{}, nil
	}

	if trimmed[0] == '[' {
		var tools []agent.ToolSpec
		if err := json.Unmarshal(trimmed, &tools); err != nil {
			return nil, fmt.Errorf("failed to parse manifest: %w", err)
		}
		return &Manifest{Tools: tools}, nil
	}

	var m Manifest
	if err := json.Unmarshal(trimmed, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return &m, nil
}

// ParseYAML decodes a YAML manifest. The document is converted to JSON first
// so tool specs share one decoder, including the null fillers sentinel.
func ParseYAML(data []byte) (*Manifest, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if doc == nil {
		return &Manifest{}, nil
	}

	converted, err := json.Marshal(normalizeYAML(doc))
	if err != nil {
		return nil, fmt.Errorf("failed to convert manifest: %w", err)
	}
	return ParseJSON(converted)
}

// normalizeYAML turns map[any]any nodes, which encoding/json rejects, into
// map[string]any.
func normalizeYAML(v any) any {
	switch node := v.(type) {
	case map[string]any:
		for k, child := range node {
			node[k] = normalizeYAML(child)
		}
		return node
	case map[any]any:
		out := make(map[string]any, len(node))
		for k, child := range node {
			out[fmt.Sprint(k)] = normalizeYAML(child)
		}
		return out
	case []any:
		for i, child := range node {
			node[i] = normalizeYAML(child)
		}
		return node
	default:
		return v
	}
}

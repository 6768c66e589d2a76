package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotReady is the panic value for accessors used before configuration.
	ErrNotReady = errors.New("agent resolver is not configured")

	ErrUnknownTool      = errors.New("tool does not exist")
	ErrUnauthorizedTool = errors.New("tool exists but is not authorized")
	ErrInvalidTool      = errors.New("invalid tool definition")
	ErrInvalidArguments = errors.New("invalid tool arguments")
)

// ToolKind is the closed set of tool implementations
type ToolKind string

const (
	// ToolKindRequest tools are executed with an HTTP call to Endpoint.
	ToolKindRequest ToolKind = "request"
	// ToolKindFunction tools are executed by a locally registered function.
	ToolKindFunction ToolKind = "function"
)

// Filler pool names
const (
	FillerPoolPrimary   = "primary"
	FillerPoolSecondary = "secondary"
)

// Endpoint describes the HTTP call behind a request tool
type Endpoint struct {
	URL     string            `json:"url" yaml:"url"`
	Method  string            `json:"method" yaml:"method"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

// ToolSpec declares one tool the model may call. Fillers is tri-state: a nil
// slice with SilentFillers set means never speak a filler for this tool, an
// empty slice falls back to the session pools, anything else is used as is.
// In manifests the silent state is written as "fillers": null.
type ToolSpec struct {
	Name          string         `json:"name"`
	Description   string         `json:"description,omitempty"`
	Kind          ToolKind       `json:"type"`
	Endpoint      *Endpoint      `json:"endpoint,omitempty"`
	Parameters    map[string]any `json:"parameters,omitempty"`
	Fillers       []string       `json:"fillers,omitempty"`
	SilentFillers bool           `json:"-"`
}

type toolSpecAlias ToolSpec

// UnmarshalJSON decodes a spec and records an explicit "fillers": null.
func (s *ToolSpec) UnmarshalJSON(data []byte) error {
	var alias toolSpecAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if v, present := raw["fillers"]; present && v == nil {
		alias.SilentFillers = true
		alias.Fillers = nil
	}
	*s = ToolSpec(alias)
	return nil
}

// MarshalJSON writes "fillers": null for silent tools.
func (s ToolSpec) MarshalJSON() ([]byte, error) {
	alias := toolSpecAlias(s)
	if !s.SilentFillers {
		return json.Marshal(alias)
	}
	alias.Fillers = nil
	return json.Marshal(struct {
		toolSpecAlias
		Fillers []string `json:"fillers"`
	}{toolSpecAlias: alias, Fillers: nil})
}

// Validate checks the spec is executable
func (s ToolSpec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: tool name cannot be empty", ErrInvalidTool)
	}
	switch s.Kind {
	case ToolKindRequest:
		if s.Endpoint == nil || s.Endpoint.URL == "" {
			return fmt.Errorf("%w: request tool %s requires endpoint.url", ErrInvalidTool, s.Name)
		}
	case ToolKindFunction:
	default:
		return fmt.Errorf("%w: tool %s has unknown type %q", ErrInvalidTool, s.Name, s.Kind)
	}
	return nil
}

// LLMConfig selects the model a session talks to
type LLMConfig struct {
	Provider    string  `json:"provider,omitempty" mapstructure:"provider"` // openai, anthropic
	Model       string  `json:"model" mapstructure:"model"`
	Temperature float64 `json:"temperature,omitempty" mapstructure:"temperature"`
	MaxTokens   int     `json:"max_tokens,omitempty" mapstructure:"max_tokens"`
	BaseURL     string  `json:"base_url,omitempty" mapstructure:"base_url"`
	APIKey      string  `json:"-" mapstructure:"api_key"`

	// Timeout bounds each HTTP request to the provider; zero keeps the SDK default.
	Timeout time.Duration `json:"-" mapstructure:"-"`
}

// ResolverConfig is a partial configuration; zero fields are left untouched
type ResolverConfig struct {
	InstructionsTemplate string
	LLMConfig            *LLMConfig
	ToolManifest         []ToolSpec
	FillerPhrases        map[string][]string
}

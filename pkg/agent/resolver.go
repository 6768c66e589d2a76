package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/harun/callcore/pkg/sessionctx"
	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
)

type registeredTool struct {
	spec   ToolSpec
	schema *gojsonschema.Schema
}

// Resolver holds the instructions template, model config, filler pools and tool
// manifest of one session, and authorizes tool use against the session context.
type Resolver struct {
	session *sessionctx.Context
	logger  zerolog.Logger

	mu           sync.RWMutex
	instructions string
	llmConfig    *LLMConfig
	tools        map[string]*registeredTool
	fillers      map[string][]string

	ready     chan struct{}
	readyOnce sync.Once
}

// NewResolver creates a resolver bound to a session context. Optional initial
// configurations are applied in order.
func NewResolver(session *sessionctx.Context, logger zerolog.Logger, configs ...ResolverConfig) (*Resolver, error) {
	if session == nil {
		session = sessionctx.New()
	}
	r := &Resolver{
		session: session,
		logger:  logger.With().Str("component", "resolver").Logger(),
		tools:   make(map[string]*registeredTool),
		fillers: make(map[string][]string),
		ready:   make(chan struct{}),
	}
	var errs []error
	for _, cfg := range configs {
		if err := r.Configure(cfg); err != nil {
			errs = append(errs, err)
		}
	}
	return r, errors.Join(errs...)
}

// Configure merges a partial configuration. Scalars are overwritten when
// present, filler pools are merged per pool, tools are upserted by name.
// Invalid tool specs are skipped and reported; the rest is still applied.
func (r *Resolver) Configure(cfg ResolverConfig) error {
	keys := []string{}
	if cfg.InstructionsTemplate != "" {
		keys = append(keys, "instructionsTemplate")
	}
	if cfg.LLMConfig != nil {
		keys = append(keys, "llmConfig")
	}
	if cfg.ToolManifest != nil {
		keys = append(keys, "toolManifest")
	}
	if cfg.FillerPhrases != nil {
		keys = append(keys, "fillerPhrases")
	}
	r.logger.Info().Str("keys", strings.Join(keys, ", ")).Msg("Configuring agent resolver")

	var errs []error

	r.mu.Lock()
	if cfg.InstructionsTemplate != "" {
		r.instructions = cfg.InstructionsTemplate
	}
	if cfg.LLMConfig != nil {
		llm := *cfg.LLMConfig
		r.llmConfig = &llm
	}
	for pool, phrases := range cfg.FillerPhrases {
		r.fillers[pool] = append([]string(nil), phrases...)
	}
	for _, spec := range cfg.ToolManifest {
		if err := r.setToolLocked(spec); err != nil {
			errs = append(errs, err)
		}
	}
	ready := r.readyLocked()
	r.mu.Unlock()

	if ready {
		r.readyOnce.Do(func() {
			close(r.ready)
			r.logger.Info().Msg("Agent resolver ready")
		})
	}

	return errors.Join(errs...)
}

// SetTool upserts a single tool.
func (r *Resolver) SetTool(spec ToolSpec) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.setToolLocked(spec)
}

func (r *Resolver) setToolLocked(spec ToolSpec) error {
	if err := spec.Validate(); err != nil {
		r.logger.Error().Err(err).Str("tool", spec.Name).Msg("Rejected tool definition")
		return err
	}

	var schema *gojsonschema.Schema
	if len(spec.Parameters) > 0 {
		compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(spec.Parameters))
		if err != nil {
			r.logger.Error().Err(err).Str("tool", spec.Name).Msg("Rejected tool parameter schema")
			return fmt.Errorf("%w: tool %s parameters: %v", ErrInvalidTool, spec.Name, err)
		}
		schema = compiled
	}

	if _, exists := r.tools[spec.Name]; exists {
		r.logger.Warn().Str("tool", spec.Name).Msg("Overriding tool definition")
	}
	r.tools[spec.Name] = &registeredTool{spec: spec, schema: schema}
	return nil
}

// RemoveTool deletes a tool from the manifest.
func (r *Resolver) RemoveTool(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; !exists {
		return false
	}
	delete(r.tools, name)
	r.logger.Info().Str("tool", name).Msg("Removed tool")
	return true
}

// IsReady reports whether instructions and model are configured.
func (r *Resolver) IsReady() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.readyLocked()
}

// Ready returns a channel closed once the resolver first becomes ready.
func (r *Resolver) Ready() <-chan struct{} {
	return r.ready
}

func (r *Resolver) readyLocked() bool {
	return r.instructions != "" && r.llmConfig != nil && r.llmConfig.Model != ""
}

func (r *Resolver) assertReady() {
	if r.IsReady() {
		return
	}
	r.mu.RLock()
	toolCount := len(r.tools)
	hasInstructions := r.instructions != ""
	hasModel := r.llmConfig != nil && r.llmConfig.Model != ""
	r.mu.RUnlock()

	r.logger.Error().
		Bool("instructions", hasInstructions).
		Bool("model", hasModel).
		Int("tools", toolCount).
		Msg("Agent resolver used before configuration")
	panic(fmt.Errorf("%w: set the instructions template and llm model before use", ErrNotReady))
}

// Instructions renders the instructions template against the session context.
func (r *Resolver) Instructions() string {
	r.assertReady()

	r.mu.RLock()
	tpl := r.instructions
	r.mu.RUnlock()

	return RenderTemplate(tpl, r.session.JSON())
}

// LLMConfig returns a copy of the model configuration.
func (r *Resolver) LLMConfig() LLMConfig {
	r.assertReady()

	r.mu.RLock()
	defer r.mu.RUnlock()
	return *r.llmConfig
}

// Tools returns the authorized manifest sorted by name. Restriction state is
// read from the session context on every call.
func (r *Resolver) Tools() []ToolSpec {
	r.assertReady()

	r.mu.RLock()
	specs := make([]ToolSpec, 0, len(r.tools))
	for _, tool := range r.tools {
		specs = append(specs, tool.spec)
	}
	r.mu.RUnlock()

	authorized := specs[:0]
	for _, spec := range specs {
		if r.session.ToolRestricted(spec.Name) {
			continue
		}
		authorized = append(authorized, spec)
	}
	sort.Slice(authorized, func(i, j int) bool { return authorized[i].Name < authorized[j].Name })
	return authorized
}

// Resolve returns the spec for name. ErrUnknownTool and ErrUnauthorizedTool
// are expected outcomes: the model may reference stale or revoked tools.
func (r *Resolver) Resolve(name string) (ToolSpec, error) {
	r.mu.RLock()
	tool, exists := r.tools[name]
	r.mu.RUnlock()

	if !exists {
		r.logger.Warn().Str("tool", name).Msg("Model referenced a tool that does not exist")
		return ToolSpec{}, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}

	for _, spec := range r.Tools() {
		if spec.Name == name {
			return tool.spec, nil
		}
	}

	r.logger.Warn().Str("tool", name).Msg("Model referenced a tool it is not authorized to use")
	return ToolSpec{}, fmt.Errorf("%w: %s", ErrUnauthorizedTool, name)
}

// ValidateArguments checks raw JSON arguments against the tool's parameter
// schema. Tools without a schema accept any JSON object.
func (r *Resolver) ValidateArguments(name, args string) error {
	r.mu.RLock()
	tool, exists := r.tools[name]
	r.mu.RUnlock()
	if !exists {
		return fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}

	if strings.TrimSpace(args) == "" {
		args = "{}"
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(args), &decoded); err != nil {
		return fmt.Errorf("%w: arguments must be a JSON object: %v", ErrInvalidArguments, err)
	}
	if tool.schema == nil {
		return nil
	}

	result, err := tool.schema.Validate(gojsonschema.NewGoLoader(decoded))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("%w: %s", ErrInvalidArguments, strings.Join(msgs, "; "))
	}
	return nil
}

// FillerPhrases returns a copy of one session-level filler pool.
func (r *Resolver) FillerPhrases(pool string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.fillers[pool]...)
}

// Session returns the session context the resolver authorizes against.
func (r *Resolver) Session() *sessionctx.Context {
	return r.session
}

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/harun/callcore/internal/logger"
	"github.com/harun/callcore/pkg/agent"
	"github.com/harun/callcore/pkg/toolexecutor"
)

// Config represents the main callcore configuration
type Config struct {
	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Completion endpoint shared by the agent and governance
	LLM LLMConfig `json:"llm" mapstructure:"llm"`

	// Filler speech timings and session pools
	Fillers FillersConfig `json:"fillers" mapstructure:"fillers"`

	// Governance review
	Governance GovernanceConfig `json:"governance" mapstructure:"governance"`

	// Tools
	Tools ToolsConfig `json:"tools" mapstructure:"tools"`

	// Tracing
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`

	// Agent instructions template file
	InstructionsPath string `json:"instructions_path" mapstructure:"instructions_path"`

	// Data directory for transcripts and logs
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// LLMConfig selects the completion provider
type LLMConfig struct {
	Provider    string  `json:"provider" mapstructure:"provider"` // openai, anthropic
	Model       string  `json:"model" mapstructure:"model"`
	APIKey      string  `json:"api_key" mapstructure:"api_key"`
	BaseURL     string  `json:"base_url" mapstructure:"base_url"`
	Temperature float64 `json:"temperature" mapstructure:"temperature"`
	MaxTokens   int     `json:"max_tokens" mapstructure:"max_tokens"`
	TimeoutMs   int     `json:"timeout_ms" mapstructure:"timeout_ms"`
}

// FillersConfig holds filler thresholds and the session phrase pools
type FillersConfig struct {
	ShortDelayMs   int                 `json:"short_delay_ms" mapstructure:"short_delay_ms"`
	LongDelayMs    int                 `json:"long_delay_ms" mapstructure:"long_delay_ms"`
	RepeatWindowMs int                 `json:"repeat_window_ms" mapstructure:"repeat_window_ms"`
	Phrases        map[string][]string `json:"phrases" mapstructure:"phrases"` // primary, secondary
}

// GovernanceConfig holds governance loop settings
type GovernanceConfig struct {
	Enabled    bool `json:"enabled" mapstructure:"enabled"`
	IntervalMs int  `json:"interval_ms" mapstructure:"interval_ms"`
	TimeoutMs  int  `json:"timeout_ms" mapstructure:"timeout_ms"`
}

// ToolsConfig holds the tool manifest source and execution limits
type ToolsConfig struct {
	ManifestPath string `json:"manifest_path" mapstructure:"manifest_path"`
	Watch        bool   `json:"watch" mapstructure:"watch"`
	TimeoutMs    int    `json:"timeout_ms" mapstructure:"timeout_ms"`
}

// TracingConfig controls the OpenTelemetry tracer provider
type TracingConfig struct {
	Enabled     bool    `json:"enabled" mapstructure:"enabled"`
	SampleRatio float64 `json:"sample_ratio" mapstructure:"sample_ratio"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			Pretty:    true,
			Redaction: true,
		},
		LLM: LLMConfig{
			Provider:  "openai",
			Model:     "gpt-4o-mini",
			TimeoutMs: 30000,
		},
		Fillers: FillersConfig{
			ShortDelayMs:   int(toolexecutor.DefaultShortDelay / time.Millisecond),
			LongDelayMs:    int(toolexecutor.DefaultLongDelay / time.Millisecond),
			RepeatWindowMs: int(toolexecutor.DefaultRepeatWindow / time.Millisecond),
			Phrases: map[string][]string{
				agent.FillerPoolPrimary:   {"One moment."},
				agent.FillerPoolSecondary: {"Still working on that, thanks for waiting."},
			},
		},
		Governance: GovernanceConfig{
			Enabled:    true,
			IntervalMs: 30000,
			TimeoutMs:  30000,
		},
		Tools: ToolsConfig{
			Watch:     false,
			TimeoutMs: int(toolexecutor.DefaultTimeout / time.Millisecond),
		},
		Tracing: TracingConfig{
			Enabled:     true,
			SampleRatio: 1,
		},
	}
}

// String returns a JSON representation of the config with the API key masked
func (c *Config) String() string {
	masked := *c
	if masked.LLM.APIKey != "" {
		masked.LLM.APIKey = "***"
	}
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	return errors.Join(NewValidator().ValidateConfig(c)...)
}

// LoggerConfig converts the logging section for logger.New
func (c *Config) LoggerConfig() logger.Config {
	return logger.Config{
		Level:     c.Logging.Level,
		File:      c.Logging.File,
		Console:   c.Logging.Console,
		Pretty:    c.Logging.Pretty,
		Redaction: c.Logging.Redaction,
	}
}

// AgentLLM converts the llm section for the resolver and completer factory
func (c *Config) AgentLLM() agent.LLMConfig {
	return agent.LLMConfig{
		Provider:    c.LLM.Provider,
		Model:       c.LLM.Model,
		Temperature: c.LLM.Temperature,
		MaxTokens:   c.LLM.MaxTokens,
		BaseURL:     c.LLM.BaseURL,
		APIKey:      c.LLM.APIKey,
		Timeout:     millis(c.LLM.TimeoutMs),
	}
}

// ShortDelay returns the primary filler threshold
func (c *Config) ShortDelay() time.Duration { return millis(c.Fillers.ShortDelayMs) }

// LongDelay returns the secondary filler threshold
func (c *Config) LongDelay() time.Duration { return millis(c.Fillers.LongDelayMs) }

// RepeatWindow returns the filler repeat suppression window
func (c *Config) RepeatWindow() time.Duration { return millis(c.Fillers.RepeatWindowMs) }

// ToolTimeout returns the per-call tool timeout
func (c *Config) ToolTimeout() time.Duration { return millis(c.Tools.TimeoutMs) }

// GovernanceInterval returns the delay between governance passes
func (c *Config) GovernanceInterval() time.Duration { return millis(c.Governance.IntervalMs) }

// GovernanceTimeout returns the bound on one governance completion
func (c *Config) GovernanceTimeout() time.Duration { return millis(c.Governance.TimeoutMs) }

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func fieldError(field string, err error) error {
	return fmt.Errorf("%s: %w", field, err)
}

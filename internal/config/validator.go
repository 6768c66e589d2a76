package config

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateProvider validates a completion provider name
func (v *Validator) ValidateProvider(provider string) error {
	switch strings.ToLower(provider) {
	case "", "openai", "anthropic":
		return nil
	}
	return fmt.Errorf("invalid provider %s (must be: openai, anthropic)", provider)
}

// ValidateAPIKey validates an API key format. An empty key is allowed so the
// SDKs can fall back to their own environment variables.
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return nil
	}

	switch provider {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case "", "openai":
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	}

	return nil
}

// ValidateModel validates a model name
func (v *Validator) ValidateModel(model string) error {
	if strings.TrimSpace(model) == "" {
		return fmt.Errorf("model name cannot be empty")
	}
	return nil
}

// ValidateTemperature validates temperature value
func (v *Validator) ValidateTemperature(temp float64) error {
	if temp < 0 || temp > 2 {
		return fmt.Errorf("temperature must be between 0 and 2")
	}
	return nil
}

// ValidateMaxTokens validates max tokens value
func (v *Validator) ValidateMaxTokens(tokens int) error {
	if tokens < 0 {
		return fmt.Errorf("max tokens cannot be negative")
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	if level == "" {
		return nil
	}
	if _, err := zerolog.ParseLevel(level); err != nil {
		return fmt.Errorf("invalid log level: %s", level)
	}
	return nil
}

// ValidateMillis validates a millisecond duration. Zero selects the default.
func (v *Validator) ValidateMillis(ms int) error {
	if ms < 0 {
		return fmt.Errorf("duration cannot be negative")
	}
	return nil
}

// ValidateConfig validates the entire configuration
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errs []error
	check := func(field string, err error) {
		if err != nil {
			errs = append(errs, fieldError(field, err))
		}
	}

	check("logging.level", v.ValidateLogLevel(cfg.Logging.Level))

	check("llm.provider", v.ValidateProvider(cfg.LLM.Provider))
	check("llm.api_key", v.ValidateAPIKey(cfg.LLM.APIKey, strings.ToLower(cfg.LLM.Provider)))
	check("llm.model", v.ValidateModel(cfg.LLM.Model))
	check("llm.temperature", v.ValidateTemperature(cfg.LLM.Temperature))
	check("llm.max_tokens", v.ValidateMaxTokens(cfg.LLM.MaxTokens))
	check("llm.timeout_ms", v.ValidateMillis(cfg.LLM.TimeoutMs))

	check("fillers.short_delay_ms", v.ValidateMillis(cfg.Fillers.ShortDelayMs))
	check("fillers.long_delay_ms", v.ValidateMillis(cfg.Fillers.LongDelayMs))
	check("fillers.repeat_window_ms", v.ValidateMillis(cfg.Fillers.RepeatWindowMs))
	if cfg.Fillers.ShortDelayMs > 0 && cfg.Fillers.LongDelayMs > 0 && cfg.Fillers.LongDelayMs <= cfg.Fillers.ShortDelayMs {
		check("fillers.long_delay_ms", fmt.Errorf("must be greater than short_delay_ms"))
	}

	check("governance.interval_ms", v.ValidateMillis(cfg.Governance.IntervalMs))
	check("governance.timeout_ms", v.ValidateMillis(cfg.Governance.TimeoutMs))

	check("tools.timeout_ms", v.ValidateMillis(cfg.Tools.TimeoutMs))
	if cfg.Tools.Watch && cfg.Tools.ManifestPath == "" {
		check("tools.watch", fmt.Errorf("requires tools.manifest_path"))
	}

	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
		check("tracing.sample_ratio", fmt.Errorf("must be between 0 and 1"))
	}

	return errs
}

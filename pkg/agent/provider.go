package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/harun/callcore/pkg/turns"

	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	openaioption "github.com/openai/openai-go/option"
)

// Finish reasons reported by a Completer
const (
	FinishStop      = "stop"
	FinishToolCalls = "tool_calls"
	FinishLength    = "length"
)

// Message is one chat message sent to a completion endpoint
type Message struct {
	Role    string `json:"role"` // system, user, assistant
	Content string `json:"content"`
}

// CompletionRequest contains the parameters of a single non-streamed completion
type CompletionRequest struct {
	Model       string
	Messages    []Message
	JSONObject  bool // ask the endpoint for a single JSON object
	Temperature float64
	MaxTokens   int
}

// Completion is the first choice of a completion response
type Completion struct {
	FinishReason string
	Content      string
	ToolCalls    []turns.ToolCall
}

// Completer is the external completion endpoint
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)

	// Provider returns the provider name
	Provider() string
}

// NewCompleter creates a completer for cfg.Provider. An empty provider selects openai.
func NewCompleter(cfg LLMConfig) (Completer, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "openai":
		var opts []openaioption.RequestOption
		if cfg.Timeout > 0 {
			opts = append(opts, openaioption.WithRequestTimeout(cfg.Timeout))
		}
		return NewOpenAICompleter(cfg.APIKey, cfg.BaseURL, opts...), nil
	case "anthropic":
		var opts []anthropicoption.RequestOption
		if cfg.Timeout > 0 {
			opts = append(opts, anthropicoption.WithRequestTimeout(cfg.Timeout))
		}
		return NewAnthropicCompleter(cfg.APIKey, cfg.BaseURL, opts...), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
}

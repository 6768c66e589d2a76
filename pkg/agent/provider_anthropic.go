package agent

import (
	"context"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/harun/callcore/internal/observability"
	"github.com/harun/callcore/pkg/turns"
)

const (
	defaultAnthropicMaxTokens = 1024
	jsonObjectInstruction     = "Respond with a single JSON object and nothing else."
)

// AnthropicCompleter implements Completer with the messages API
type AnthropicCompleter struct {
	client anthropic.Client
}

// NewAnthropicCompleter creates an Anthropic completer. baseURL may be empty.
func NewAnthropicCompleter(apiKey, baseURL string, opts ...option.RequestOption) *AnthropicCompleter {
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(baseURL))
	}
	reqOpts = append(reqOpts, opts...)

	return &AnthropicCompleter{
		client: anthropic.NewClient(reqOpts...),
	}
}

// Provider returns the provider name
func (c *AnthropicCompleter) Provider() string {
	return "anthropic"
}

// Complete makes a messages API call. The messages API has no JSON response
// mode, so JSONObject requests add a system instruction instead.
func (c *AnthropicCompleter) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	var system []string
	messages := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, msg := range req.Messages {
		switch msg.Role {
		case "system":
			system = append(system, msg.Content)
		case "assistant":
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}
	if req.JSONObject {
		system = append(system, jsonObjectInstruction)
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if len(system) > 0 {
		params.System = []anthropic.TextBlockParam{{Text: strings.Join(system, "\n\n")}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	response, err := c.client.Messages.New(ctx, params)
	if err != nil {
		observability.RecordCompletion(c.Provider(), false)
		return nil, err
	}
	observability.RecordCompletion(c.Provider(), true)

	completion := &Completion{FinishReason: mapStopReason(string(response.StopReason))}
	var content strings.Builder
	for _, block := range response.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			content.WriteString(b.Text)
		case anthropic.ToolUseBlock:
			completion.ToolCalls = append(completion.ToolCalls, turns.ToolCall{
				ID:        b.ID,
				Name:      b.Name,
				Arguments: b.JSON.Input.Raw(),
			})
		}
	}
	completion.Content = content.String()
	return completion, nil
}

func mapStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return FinishStop
	case "tool_use":
		return FinishToolCalls
	case "max_tokens":
		return FinishLength
	default:
		return reason
	}
}

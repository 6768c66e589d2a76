package agent

import (
	"context"
	"fmt"

	"github.com/harun/callcore/internal/observability"
	"github.com/harun/callcore/pkg/turns"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// OpenAICompleter implements Completer with the chat completions API
type OpenAICompleter struct {
	client openai.Client
}

// NewOpenAICompleter creates an OpenAI completer. baseURL may be empty.
func NewOpenAICompleter(apiKey, baseURL string, opts ...option.RequestOption) *OpenAICompleter {
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(baseURL))
	}
	reqOpts = append(reqOpts, opts...)

	return &OpenAICompleter{
		client: openai.NewClient(reqOpts...),
	}
}

// Provider returns the provider name
func (c *OpenAICompleter) Provider() string {
	return "openai"
}

// Complete makes a non-streamed chat completion call
func (c *OpenAICompleter) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, msg := range req.Messages {
		switch msg.Role {
		case "system":
			messages = append(messages, openai.SystemMessage(msg.Content))
		case "assistant":
			messages = append(messages, openai.AssistantMessage(msg.Content))
		default:
			messages = append(messages, openai.UserMessage(msg.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: messages,
	}
	if req.JSONObject {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}

	response, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		observability.RecordCompletion(c.Provider(), false)
		return nil, err
	}
	if len(response.Choices) == 0 {
		observability.RecordCompletion(c.Provider(), false)
		return nil, fmt.Errorf("no response choices returned")
	}
	observability.RecordCompletion(c.Provider(), true)

	choice := response.Choices[0]
	completion := &Completion{
		FinishReason: string(choice.FinishReason),
		Content:      choice.Message.Content,
	}
	for _, tc := range choice.Message.ToolCalls {
		completion.ToolCalls = append(completion.ToolCalls, turns.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return completion, nil
}

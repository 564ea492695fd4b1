package llm

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"

	"github.com/aletheia-kb/aletheia/pkg/apperr"
	"github.com/aletheia-kb/aletheia/pkg/config"
)

// OpenAIProvider implements Provider using the official OpenAI SDK's Chat
// Completions API.
type OpenAIProvider struct {
	client      openai.Client
	model       string
	temperature float64
	maxTokens   int
}

// NewOpenAIProvider builds a Provider from the LLM configuration.
func NewOpenAIProvider(cfg config.LLMConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, apperr.ConfigMissing("llm", "NewOpenAIProvider", "API key is required for the OpenAI provider")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAIProvider{
		client:      openai.NewClient(opts...),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}, nil
}

func (p *OpenAIProvider) buildParams(messages []Message, tools []ToolDefinition) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(p.model),
		Messages:    convertMessagesToOpenAI(messages),
		Temperature: openai.Float(p.temperature),
	}
	if p.maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(p.maxTokens))
	}
	if len(tools) > 0 {
		params.Tools = convertToolsToOpenAI(tools)
	}
	return params
}

// Generate implements Provider.
func (p *OpenAIProvider) Generate(ctx context.Context, messages []Message, tools []ToolDefinition) (string, []ToolCall, error) {
	resp, err := p.client.Chat.Completions.New(ctx, p.buildParams(messages, tools))
	if err != nil {
		return "", nil, apperr.RemoteUnavailable("llm", "Generate", err)
	}
	if len(resp.Choices) == 0 {
		return "", nil, apperr.RemoteBadResponse("llm", "Generate", "no choices returned", nil)
	}
	choice := resp.Choices[0]
	return choice.Message.Content, convertOpenAIToolCalls(choice.Message.ToolCalls), nil
}

// GenerateStreaming implements Provider.
func (p *OpenAIProvider) GenerateStreaming(ctx context.Context, messages []Message, tools []ToolDefinition) (<-chan StreamChunk, error) {
	params := p.buildParams(messages, tools)
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{IncludeUsage: openai.Bool(true)}
	stream := p.client.Chat.Completions.NewStreaming(ctx, params)

	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		defer stream.Close()

		pendingCalls := map[int64]*ToolCall{}
		var order []int64

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]
			if choice.Delta.Content != "" {
				out <- StreamChunk{Content: choice.Delta.Content}
			}
			for _, tc := range choice.Delta.ToolCalls {
				call, ok := pendingCalls[tc.Index]
				if !ok {
					call = &ToolCall{}
					pendingCalls[tc.Index] = call
					order = append(order, tc.Index)
				}
				if tc.ID != "" {
					call.ID = tc.ID
				}
				if tc.Function.Name != "" {
					call.Name = tc.Function.Name
				}
				call.RawArgs += tc.Function.Arguments
			}
			if choice.FinishReason != "" {
				calls := make([]ToolCall, 0, len(order))
				for _, idx := range order {
					call := pendingCalls[idx]
					if call.RawArgs != "" {
						_ = json.Unmarshal([]byte(call.RawArgs), &call.Arguments)
					}
					calls = append(calls, *call)
				}
				out <- StreamChunk{Done: true, FinishReason: string(choice.FinishReason), ToolCalls: calls}
			}
		}
		if err := stream.Err(); err != nil {
			slog.Warn("openai streaming error", "error", err)
		}
	}()
	return out, nil
}

// GenerateJSON implements Provider by appending a JSON-only instruction,
// since OpenAI's strict JSON-schema response format is not guaranteed
// available on every deployment this provider targets (Azure, proxies).
func (p *OpenAIProvider) GenerateJSON(ctx context.Context, messages []Message, schema map[string]any) (string, error) {
	text, _, err := p.Generate(ctx, appendJSONInstruction(messages, schema), nil)
	return text, err
}

// ModelName implements Provider.
func (p *OpenAIProvider) ModelName() string { return p.model }

// Close implements Provider. The SDK client owns no resources to release.
func (p *OpenAIProvider) Close() error { return nil }

func convertMessagesToOpenAI(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case RoleUser:
			out = append(out, openai.UserMessage(m.Content))
		case RoleTool:
			out = append(out, openai.ToolMessage(m.Content, m.ToolCallID))
		case RoleAssistant:
			if len(m.ToolCalls) == 0 {
				out = append(out, openai.AssistantMessage(m.Content))
				continue
			}
			assistant := openai.ChatCompletionAssistantMessageParam{}
			if m.Content != "" {
				assistant.Content.OfString = openai.String(m.Content)
			}
			for _, tc := range m.ToolCalls {
				args := tc.RawArgs
				if args == "" {
					if b, err := json.Marshal(tc.Arguments); err == nil {
						args = string(b)
					}
				}
				assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallParam{
					ID: tc.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: args,
					},
				})
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		}
	}
	return out
}

func convertToolsToOpenAI(tools []ToolDefinition) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        t.Name,
				Description: openai.String(t.Description),
				Parameters:  shared.FunctionParameters(t.Parameters),
			},
		})
	}
	return out
}

func convertOpenAIToolCalls(calls []openai.ChatCompletionMessageToolCall) []ToolCall {
	out := make([]ToolCall, 0, len(calls))
	for _, c := range calls {
		call := ToolCall{ID: c.ID, Name: c.Function.Name, RawArgs: c.Function.Arguments}
		_ = json.Unmarshal([]byte(c.Function.Arguments), &call.Arguments)
		out = append(out, call)
	}
	return out
}

var _ Provider = (*OpenAIProvider)(nil)

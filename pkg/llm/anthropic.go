package llm

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/aletheia-kb/aletheia/pkg/apperr"
	"github.com/aletheia-kb/aletheia/pkg/config"
)

const defaultAnthropicMaxTokens = 4096

// AnthropicProvider implements Provider using the official Anthropic SDK,
// with prompt caching applied to the system prompt and the last user turn
// so a repeated persona/context block isn't re-billed on every request.
type AnthropicProvider struct {
	client      anthropic.Client
	model       string
	temperature float64
	maxTokens   int64
}

// NewAnthropicProvider builds a Provider from the LLM configuration.
func NewAnthropicProvider(cfg config.LLMConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, apperr.ConfigMissing("llm", "NewAnthropicProvider", "API key is required for the Anthropic provider")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	maxTokens := int64(cfg.MaxTokens)
	if maxTokens == 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	return &AnthropicProvider{
		client:      anthropic.NewClient(opts...),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   maxTokens,
	}, nil
}

func (p *AnthropicProvider) buildParams(messages []Message, tools []ToolDefinition) anthropic.MessageNewParams {
	system, turns := splitAnthropicMessages(messages)
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(p.model),
		MaxTokens:   p.maxTokens,
		System:      system,
		Messages:    turns,
		Temperature: anthropic.Float(p.temperature),
	}
	if len(tools) > 0 {
		params.Tools = convertToolsToAnthropic(tools)
	}
	return params
}

// Generate implements Provider.
func (p *AnthropicProvider) Generate(ctx context.Context, messages []Message, tools []ToolDefinition) (string, []ToolCall, error) {
	resp, err := p.client.Messages.New(ctx, p.buildParams(messages, tools))
	if err != nil {
		return "", nil, apperr.RemoteUnavailable("llm", "Generate", err)
	}
	var text string
	var calls []ToolCall
	for _, block := range resp.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			text += variant.Text
		case anthropic.ToolUseBlock:
			call := ToolCall{ID: variant.ID, Name: variant.Name}
			_ = json.Unmarshal(variant.Input, &call.Arguments)
			call.RawArgs = string(variant.Input)
			calls = append(calls, call)
		}
	}
	return text, calls, nil
}

// GenerateStreaming implements Provider.
func (p *AnthropicProvider) GenerateStreaming(ctx context.Context, messages []Message, tools []ToolDefinition) (<-chan StreamChunk, error) {
	stream := p.client.Messages.NewStreaming(ctx, p.buildParams(messages, tools))

	out := make(chan StreamChunk)
	go func() {
		defer close(out)

		var message anthropic.Message
		for stream.Next() {
			event := stream.Current()
			if err := message.Accumulate(event); err != nil {
				slog.Warn("anthropic stream accumulate error", "error", err)
				continue
			}
			switch delta := event.AsAny().(type) {
			case anthropic.ContentBlockDeltaEvent:
				if text := delta.Delta.Text; text != "" {
					out <- StreamChunk{Content: text}
				}
			case anthropic.MessageStopEvent:
				var calls []ToolCall
				for _, block := range message.Content {
					if tu, ok := block.AsAny().(anthropic.ToolUseBlock); ok {
						call := ToolCall{ID: tu.ID, Name: tu.Name, RawArgs: string(tu.Input)}
						_ = json.Unmarshal(tu.Input, &call.Arguments)
						calls = append(calls, call)
					}
				}
				out <- StreamChunk{Done: true, FinishReason: string(message.StopReason), ToolCalls: calls}
			}
		}
		if err := stream.Err(); err != nil {
			slog.Warn("anthropic streaming error", "error", err)
		}
	}()
	return out, nil
}

// GenerateJSON implements Provider.
func (p *AnthropicProvider) GenerateJSON(ctx context.Context, messages []Message, schema map[string]any) (string, error) {
	text, _, err := p.Generate(ctx, appendJSONInstruction(messages, schema), nil)
	return text, err
}

// ModelName implements Provider.
func (p *AnthropicProvider) ModelName() string { return p.model }

// Close implements Provider.
func (p *AnthropicProvider) Close() error { return nil }

// splitAnthropicMessages separates system-role messages (concatenated into
// Anthropic's top-level System field) from the conversational turns, and
// marks the system block and the last turn's last content block as
// ephemeral-cacheable so a repeated persona/context prefix is billed once
// per cache window instead of on every request.
func splitAnthropicMessages(messages []Message) ([]anthropic.TextBlockParam, []anthropic.MessageParam) {
	var system []anthropic.TextBlockParam
	var turns []anthropic.MessageParam

	for _, m := range messages {
		if m.Role == RoleSystem {
			if m.Content != "" {
				system = append(system, anthropic.TextBlockParam{Text: m.Content})
			}
			continue
		}
		turns = append(turns, convertAnthropicTurn(m))
	}

	if len(system) > 0 {
		system[len(system)-1].CacheControl = anthropic.NewCacheControlEphemeralParam()
	}
	applyLastTurnCacheControl(turns)
	return system, turns
}

func convertAnthropicTurn(m Message) anthropic.MessageParam {
	switch m.Role {
	case RoleTool:
		return anthropic.NewUserMessage(anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false))
	case RoleAssistant:
		if len(m.ToolCalls) == 0 {
			return anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content))
		}
		blocks := make([]anthropic.ContentBlockParamUnion, 0, len(m.ToolCalls)+1)
		if m.Content != "" {
			blocks = append(blocks, anthropic.NewTextBlock(m.Content))
		}
		for _, tc := range m.ToolCalls {
			args := tc.Arguments
			if args == nil {
				args = map[string]any{}
			}
			blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, args, tc.Name))
		}
		return anthropic.NewAssistantMessage(blocks...)
	default:
		return anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content))
	}
}

func applyLastTurnCacheControl(turns []anthropic.MessageParam) {
	if len(turns) == 0 {
		return
	}
	last := &turns[len(turns)-1]
	if len(last.Content) == 0 {
		return
	}
	block := &last.Content[len(last.Content)-1]
	cacheCtrl := anthropic.NewCacheControlEphemeralParam()
	switch {
	case block.OfText != nil:
		block.OfText.CacheControl = cacheCtrl
	case block.OfToolUse != nil:
		block.OfToolUse.CacheControl = cacheCtrl
	case block.OfToolResult != nil:
		block.OfToolResult.CacheControl = cacheCtrl
	}
}

func convertToolsToAnthropic(tools []ToolDefinition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		out = append(out, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: t.Parameters["properties"],
					Required:   toStringSlice(t.Parameters["required"]),
				},
			},
		})
	}
	return out
}

func toStringSlice(v any) []string {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		if s, ok := r.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

var _ Provider = (*AnthropicProvider)(nil)

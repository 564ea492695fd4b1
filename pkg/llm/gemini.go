package llm

import (
	"context"
	"encoding/json"
	"log/slog"

	"google.golang.org/genai"

	"github.com/aletheia-kb/aletheia/pkg/apperr"
	"github.com/aletheia-kb/aletheia/pkg/config"
)

// GeminiProvider implements Provider using the official Gemini SDK.
type GeminiProvider struct {
	client      *genai.Client
	model       string
	temperature float64
	maxTokens   int32
}

// NewGeminiProvider builds a Provider from the LLM configuration.
func NewGeminiProvider(cfg config.LLMConfig) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, apperr.ConfigMissing("llm", "NewGeminiProvider", "API key is required for the Gemini provider")
	}
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL: cfg.BaseURL,
		},
	})
	if err != nil {
		return nil, apperr.RemoteUnavailable("llm", "NewGeminiProvider", err)
	}
	return &GeminiProvider{
		client:      client,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   int32(cfg.MaxTokens),
	}, nil
}

func (p *GeminiProvider) buildConfig(tools []ToolDefinition) *genai.GenerateContentConfig {
	temp := float32(p.temperature)
	cfg := &genai.GenerateContentConfig{Temperature: &temp}
	if p.maxTokens > 0 {
		cfg.MaxOutputTokens = p.maxTokens
	}
	if len(tools) > 0 {
		cfg.Tools = convertToolsToGemini(tools)
		cfg.ToolConfig = &genai.ToolConfig{
			FunctionCallingConfig: &genai.FunctionCallingConfig{Mode: genai.FunctionCallingConfigModeAuto},
		}
	}
	return cfg
}

// Generate implements Provider.
func (p *GeminiProvider) Generate(ctx context.Context, messages []Message, tools []ToolDefinition) (string, []ToolCall, error) {
	cfg := p.buildConfig(tools)
	system, contents := convertMessagesToGemini(messages)
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, cfg)
	if err != nil {
		return "", nil, apperr.RemoteUnavailable("llm", "Generate", err)
	}
	return extractGeminiResponse(resp)
}

// GenerateStreaming implements Provider.
func (p *GeminiProvider) GenerateStreaming(ctx context.Context, messages []Message, tools []ToolDefinition) (<-chan StreamChunk, error) {
	cfg := p.buildConfig(tools)
	system, contents := convertMessagesToGemini(messages)
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	iter := p.client.Models.GenerateContentStream(ctx, p.model, contents, cfg)

	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		var finishReason string
		var calls []ToolCall

		iter(func(resp *genai.GenerateContentResponse, err error) bool {
			if err != nil {
				slog.Warn("gemini streaming error", "error", err)
				return false
			}
			for _, candidate := range resp.Candidates {
				if candidate.Content == nil {
					continue
				}
				if candidate.FinishReason != "" {
					finishReason = string(candidate.FinishReason)
				}
				for _, part := range candidate.Content.Parts {
					if part.Text != "" {
						out <- StreamChunk{Content: part.Text}
					}
					if part.FunctionCall != nil {
						args, _ := json.Marshal(part.FunctionCall.Args)
						calls = append(calls, ToolCall{
							Name:      part.FunctionCall.Name,
							Arguments: part.FunctionCall.Args,
							RawArgs:   string(args),
						})
					}
				}
			}
			return true
		})
		out <- StreamChunk{Done: true, FinishReason: finishReason, ToolCalls: calls}
	}()
	return out, nil
}

// GenerateJSON implements Provider.
func (p *GeminiProvider) GenerateJSON(ctx context.Context, messages []Message, schema map[string]any) (string, error) {
	cfg := p.buildConfig(nil)
	cfg.ResponseMIMEType = "application/json"
	system, contents := convertMessagesToGemini(appendJSONInstruction(messages, schema))
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, cfg)
	if err != nil {
		return "", apperr.RemoteUnavailable("llm", "GenerateJSON", err)
	}
	text, _, err := extractGeminiResponse(resp)
	return text, err
}

// ModelName implements Provider.
func (p *GeminiProvider) ModelName() string { return p.model }

// Close implements Provider. The SDK client owns no resources to release.
func (p *GeminiProvider) Close() error { return nil }

func convertMessagesToGemini(messages []Message) (system string, contents []*genai.Content) {
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			if system != "" {
				system += "\n"
			}
			system += m.Content
		case RoleUser:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		case RoleTool:
			part := genai.NewPartFromFunctionResponse(m.Name, map[string]any{"result": m.Content})
			contents = append(contents, genai.NewContentFromParts([]*genai.Part{part}, genai.RoleUser))
		case RoleAssistant:
			parts := make([]*genai.Part, 0, len(m.ToolCalls)+1)
			if m.Content != "" {
				parts = append(parts, genai.NewPartFromText(m.Content))
			}
			for _, tc := range m.ToolCalls {
				parts = append(parts, genai.NewPartFromFunctionCall(tc.Name, tc.Arguments))
			}
			contents = append(contents, genai.NewContentFromParts(parts, genai.RoleModel))
		}
	}
	return system, contents
}

func convertToolsToGemini(tools []ToolDefinition) []*genai.Tool {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  convertSchemaToGemini(t.Parameters),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

func convertSchemaToGemini(schema map[string]any) *genai.Schema {
	if schema == nil {
		return nil
	}
	out := &genai.Schema{Type: genai.TypeObject}
	if props, ok := schema["properties"].(map[string]any); ok {
		out.Properties = make(map[string]*genai.Schema, len(props))
		for name, raw := range props {
			if propSchema, ok := raw.(map[string]any); ok {
				out.Properties[name] = convertPropertySchema(propSchema)
			}
		}
	}
	out.Required = toStringSlice(schema["required"])
	return out
}

func convertPropertySchema(schema map[string]any) *genai.Schema {
	out := &genai.Schema{}
	if typ, ok := schema["type"].(string); ok {
		switch typ {
		case "string":
			out.Type = genai.TypeString
		case "number":
			out.Type = genai.TypeNumber
		case "integer":
			out.Type = genai.TypeInteger
		case "boolean":
			out.Type = genai.TypeBoolean
		case "array":
			out.Type = genai.TypeArray
		default:
			out.Type = genai.TypeObject
		}
	}
	if desc, ok := schema["description"].(string); ok {
		out.Description = desc
	}
	return out
}

func extractGeminiResponse(resp *genai.GenerateContentResponse) (string, []ToolCall, error) {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", nil, apperr.RemoteBadResponse("llm", "Generate", "no candidates returned", nil)
	}
	var text string
	var calls []ToolCall
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Text != "" {
			text += part.Text
		}
		if part.FunctionCall != nil {
			args, _ := json.Marshal(part.FunctionCall.Args)
			calls = append(calls, ToolCall{Name: part.FunctionCall.Name, Arguments: part.FunctionCall.Args, RawArgs: string(args)})
		}
	}
	return text, calls, nil
}

var _ Provider = (*GeminiProvider)(nil)

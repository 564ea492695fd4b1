// Package llm provides a provider-agnostic chat-completion client: a single
// Provider interface backed by OpenAI, Anthropic, or Gemini, covering both
// plain generation and token streaming, plus tool/function-call declarations
// for the orchestrator's in-turn tool dispatch.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aletheia-kb/aletheia/pkg/apperr"
	"github.com/aletheia-kb/aletheia/pkg/config"
)

// Role identifies the speaker of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one turn in a conversation, in the universal shape every
// provider's wire format is translated to and from.
type Message struct {
	Role       Role
	Content    string
	ToolCalls  []ToolCall // set on an assistant message that invoked tools
	ToolCallID string     // set on a tool-role message, referencing the call
	Name       string     // tool name, set on a tool-role message
}

// ToolDefinition describes a callable tool in JSON Schema terms, shared
// across providers' differing function-calling wire formats.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON Schema object
}

// ToolCall is a tool invocation requested by the model during generation.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
	RawArgs   string
}

// StreamChunk is one increment of a streaming generation.
type StreamChunk struct {
	Content      string
	ToolCalls    []ToolCall
	Done         bool
	FinishReason string
}

// Provider is a single chat-completion backend.
type Provider interface {
	// Generate runs a non-streaming completion and returns the assistant's
	// text and any tool calls it requested.
	Generate(ctx context.Context, messages []Message, tools []ToolDefinition) (text string, toolCalls []ToolCall, err error)

	// GenerateStreaming runs a streaming completion. The returned channel is
	// closed once the final chunk (Done=true) has been sent or ctx is
	// cancelled.
	GenerateStreaming(ctx context.Context, messages []Message, tools []ToolDefinition) (<-chan StreamChunk, error)

	// GenerateJSON runs a non-streaming completion constrained to return
	// text parseable against schema, used for intent classification, query
	// rewriting, and entity/relation extraction. Implementations fall back
	// to a "respond with JSON only" instruction when the provider has no
	// native structured-output mode.
	GenerateJSON(ctx context.Context, messages []Message, schema map[string]any) (json string, err error)

	ModelName() string
	Close() error
}

// appendJSONInstruction appends a system message instructing the model to
// respond with JSON matching schema and nothing else. Used by providers that
// have no native structured-output mode reachable through this client's
// minimal request shape.
func appendJSONInstruction(messages []Message, schema map[string]any) []Message {
	instruction := "Respond with a single JSON value and no other text."
	if schema != nil {
		if b, err := json.Marshal(schema); err == nil {
			instruction = fmt.Sprintf("Respond with a single JSON value matching this JSON Schema and no other text:\n%s", string(b))
		}
	}
	out := make([]Message, 0, len(messages)+1)
	out = append(out, messages...)
	out = append(out, Message{Role: RoleSystem, Content: instruction})
	return out
}

// StripJSONFence removes a surrounding ```json ... ``` or ``` ... ``` code
// fence, for providers that wrap JSON output in markdown despite being told
// not to.
func StripJSONFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	return strings.TrimSpace(trimmed)
}

// New builds a Provider from the LLM configuration.
func New(cfg config.LLMConfig) (Provider, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIProvider(cfg)
	case "anthropic":
		return NewAnthropicProvider(cfg)
	case "gemini":
		return NewGeminiProvider(cfg)
	default:
		return nil, apperr.ConfigMissing("llm", "New", "unknown LLM provider: "+cfg.Provider)
	}
}

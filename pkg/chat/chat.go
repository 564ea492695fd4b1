// Package chat implements Aletheia's chat orchestrator: per-turn intent
// classification, retrieval invocation, slash-command and in-generation
// tool dispatch, system-prompt assembly, and token streaming.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aletheia-kb/aletheia/pkg/llm"
	"github.com/aletheia-kb/aletheia/pkg/retrieval"
	"github.com/aletheia-kb/aletheia/pkg/tool"
)

// Intent is the result of classifying a user turn.
type Intent struct {
	Intent         string   `json:"intent"` // search | tool | conversational | command
	NeedsSearch    bool     `json:"needsSearch"`
	SearchMode     string   `json:"searchMode"`
	SuggestedTools []string `json:"suggestedTools"`
	Confidence     float64  `json:"confidence"`
}

// defaultIntent is used when intent classification's JSON response fails
// to parse, per spec: default to a search turn at moderate confidence
// rather than failing it outright.
var defaultIntent = Intent{Intent: "search", NeedsSearch: true, SearchMode: "hybrid", Confidence: 0.5}

var intentSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"intent":         map[string]any{"type": "string", "enum": []string{"search", "tool", "conversational", "command"}},
		"needsSearch":    map[string]any{"type": "boolean"},
		"searchMode":     map[string]any{"type": "string", "enum": []string{"semantic", "keyword", "hybrid", "graph"}},
		"suggestedTools": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"confidence":     map[string]any{"type": "number"},
	},
	"required": []string{"intent", "needsSearch"},
}

// retrievalLimit and retrievalRerank are the fixed parameters the
// orchestrator passes to retrieval on every search-needing turn.
const retrievalLimit = 8

const retrievalRerank = true

// Chunk is one increment of the assistant's streamed reply.
type Chunk struct {
	Content string
	Done    bool
}

// Orchestrator wires the LLM, retrieval engine, and tool registry together
// into the chat turn algorithm.
type Orchestrator struct {
	llm        llm.Provider
	retrieval  *retrieval.Engine
	tools      *tool.Registry
	dispatcher *tool.Dispatcher
	persona    string
}

// New builds an Orchestrator. persona is the system-prompt preamble read
// from configuration (config.Config.PersonaPrompt).
func New(llmProvider llm.Provider, retrievalEngine *retrieval.Engine, tools *tool.Registry, dispatcher *tool.Dispatcher, persona string) *Orchestrator {
	return &Orchestrator{
		llm:        llmProvider,
		retrieval:  retrievalEngine,
		tools:      tools,
		dispatcher: dispatcher,
		persona:    persona,
	}
}

// Handle runs one chat turn: intent -> retrieval -> tools -> prompt ->
// stream. history's last message must be the new user turn. The returned
// channel is closed once the reply is complete or ctx is cancelled.
func (o *Orchestrator) Handle(ctx context.Context, history []llm.Message) (<-chan Chunk, error) {
	out := make(chan Chunk)
	go o.run(ctx, history, out)
	return out, nil
}

func (o *Orchestrator) run(ctx context.Context, history []llm.Message, out chan<- Chunk) {
	defer close(out)

	query := lastUserContent(history)

	intent := o.classifyIntent(ctx, query)

	var contextBlock string
	var degraded bool
	if intent.NeedsSearch {
		contextBlock, degraded = o.retrieveContext(ctx, query, intent.SearchMode)
	}

	var toolResults string
	if strings.HasPrefix(strings.TrimSpace(query), "/") {
		toolResults = o.dispatchCommand(ctx, query)
	}

	systemPrompt := o.buildSystemPrompt(contextBlock, toolResults, degraded)
	messages := append([]llm.Message{{Role: llm.RoleSystem, Content: systemPrompt}}, history...)

	toolDefs := o.toolDefinitions()

	stream, err := o.llm.GenerateStreaming(ctx, messages, toolDefs)
	if err != nil {
		slog.Error("chat: streaming generation failed", "error", err)
		emit(ctx, out, Chunk{Content: "I hit an error generating a response.", Done: true})
		return
	}

	if degraded {
		if !emit(ctx, out, Chunk{Content: degradationNotice + "\n\n"}) {
			return
		}
	}

	var pendingToolCalls []llm.ToolCall
	for chunk := range stream {
		if chunk.Content != "" {
			if !emit(ctx, out, Chunk{Content: chunk.Content}) {
				return
			}
		}
		if len(chunk.ToolCalls) > 0 {
			pendingToolCalls = append(pendingToolCalls, chunk.ToolCalls...)
		}
		if chunk.Done {
			break
		}
	}

	// Tool calls the model declared during generation (function-calling)
	// execute in-turn; their formatted output is appended so the client
	// sees one continuous stream.
	for _, call := range pendingToolCalls {
		formatted := o.dispatchModelToolCall(ctx, call)
		if formatted != "" {
			emit(ctx, out, Chunk{Content: "\n\n" + formatted})
		}
	}

	emit(ctx, out, Chunk{Done: true})
}

// classifyIntent runs the intent classification call at the provider's
// configured temperature (there is no per-call temperature override) and
// tolerates extra prose or malformed JSON around the response, falling
// back to defaultIntent.
func (o *Orchestrator) classifyIntent(ctx context.Context, query string) Intent {
	prompt := fmt.Sprintf(`Classify the following chat message. Respond with the requested JSON only.

Message: %s`, llm.SanitizeInput(query))

	text, err := o.llm.GenerateJSON(ctx, []llm.Message{{Role: llm.RoleUser, Content: prompt}}, intentSchema)
	if err != nil {
		slog.Warn("chat: intent classification call failed, defaulting to search", "error", err)
		return defaultIntent
	}

	var parsed Intent
	if err := json.Unmarshal([]byte(llm.StripJSONFence(text)), &parsed); err != nil {
		slog.Warn("chat: intent classification response unparseable, defaulting to search", "error", err)
		return defaultIntent
	}
	if parsed.Intent == "" {
		return defaultIntent
	}
	return parsed
}

// degradationNotice opens the assistant's reply when retrieval was
// expected to supply context but failed, per the orchestrator's
// retrieval-never-fails-the-turn contract.
const degradationNotice = "I don't have retrieved context for this right now, so this answer relies on general knowledge only."

// retrieveContext invokes retrieval and formats the result. Retrieval
// never fails the turn: on error, it logs, returns an empty block, and
// reports degraded=true so the caller can note it in the system prompt
// and the reply's opening sentence.
func (o *Orchestrator) retrieveContext(ctx context.Context, query, mode string) (block string, degraded bool) {
	if o.retrieval == nil {
		return "", false
	}
	results, err := o.retrieval.AdvancedSearch(ctx, retrieval.Request{
		Query:  query,
		Mode:   retrieval.Mode(mode),
		Limit:  retrievalLimit,
		Rerank: retrievalRerank,
	})
	if err != nil {
		slog.Warn("chat: retrieval failed, continuing without context", "error", err)
		return "", true
	}
	return retrieval.FormatContextBlock(results), false
}

// dispatchCommand parses and dispatches a slash-command-prefixed message
// before prompt assembly, per the tool-dispatch contract.
func (o *Orchestrator) dispatchCommand(ctx context.Context, query string) string {
	if o.tools == nil || o.dispatcher == nil {
		return ""
	}
	call, err := tool.ParseCommand(query)
	if err != nil {
		return ""
	}
	desc, ok := o.tools.GetByCommand(call.Command)
	if !ok {
		return tool.FormatResult(call.Command, tool.Result{Success: false, Error: "unknown command"})
	}
	args, err := tool.Validate(desc.Params, call.Args)
	if err != nil {
		return tool.FormatResult(desc.Name, tool.Result{Success: false, Error: err.Error()})
	}
	result, _ := o.dispatcher.Dispatch(ctx, desc, args)
	return tool.FormatResult(desc.Name, result)
}

// dispatchModelToolCall executes one function-call the model declared
// during generation.
func (o *Orchestrator) dispatchModelToolCall(ctx context.Context, call llm.ToolCall) string {
	if o.tools == nil || o.dispatcher == nil {
		return ""
	}
	desc, ok := o.tools.Get(call.Name)
	if !ok {
		return tool.FormatResult(call.Name, tool.Result{Success: false, Error: "unknown tool"})
	}
	result, _ := o.dispatcher.Dispatch(ctx, desc, call.Arguments)
	return tool.FormatResult(desc.Name, result)
}

func (o *Orchestrator) toolDefinitions() []llm.ToolDefinition {
	if o.tools == nil {
		return nil
	}
	descs := o.tools.List()
	defs := make([]llm.ToolDefinition, 0, len(descs))
	for _, d := range descs {
		defs = append(defs, llm.ToolDefinition{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  paramSchema(d.Params),
		})
	}
	return defs
}

func paramSchema(params []tool.Param) map[string]any {
	properties := make(map[string]any, len(params))
	var required []string
	for _, p := range params {
		jsonType := "string"
		switch p.Type {
		case tool.ParamNumber:
			jsonType = "number"
		case tool.ParamBool:
			jsonType = "boolean"
		case tool.ParamArray:
			jsonType = "array"
		}
		properties[p.Name] = map[string]any{"type": jsonType}
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return map[string]any{"type": "object", "properties": properties, "required": required}
}

// buildSystemPrompt assembles persona + citation instruction + context
// block + tool results, in that order. When degraded is true, retrieval
// was expected but failed; the prompt instructs the model to open its
// reply with degradationNotice instead of silently answering as if
// context had been available.
func (o *Orchestrator) buildSystemPrompt(contextBlock, toolResults string, degraded bool) string {
	var b strings.Builder
	b.WriteString(o.persona)
	b.WriteString("\n\nCite every fact drawn from the context below inline as [source:section].")
	if degraded {
		b.WriteString("\n\nKnowledge base retrieval failed for this turn. Your reply's opening sentence must read exactly: \"")
		b.WriteString(degradationNotice)
		b.WriteString("\"")
	}
	if contextBlock != "" {
		b.WriteString("\n\n")
		b.WriteString(contextBlock)
	}
	if toolResults != "" {
		b.WriteString("\n\nTool Results:\n")
		b.WriteString(toolResults)
	}
	return b.String()
}

func lastUserContent(history []llm.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == llm.RoleUser {
			return history[i].Content
		}
	}
	return ""
}

// emit sends chunk to out, returning false if ctx was cancelled first so
// the caller can stop producing further chunks.
func emit(ctx context.Context, out chan<- Chunk, chunk Chunk) bool {
	select {
	case out <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

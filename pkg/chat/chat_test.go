package chat

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aletheia-kb/aletheia/pkg/embed"
	"github.com/aletheia-kb/aletheia/pkg/llm"
	"github.com/aletheia-kb/aletheia/pkg/retrieval"
	"github.com/aletheia-kb/aletheia/pkg/tool"
	"github.com/aletheia-kb/aletheia/pkg/vector"
)

// fakeLLM is a scripted llm.Provider: classifyJSON answers GenerateJSON
// calls, streamContent is emitted (one chunk) by GenerateStreaming, and
// streamToolCalls are attached to the final chunk.
type fakeLLM struct {
	classifyJSON    string
	streamContent   string
	streamToolCalls []llm.ToolCall
}

func (f *fakeLLM) Generate(ctx context.Context, messages []llm.Message, tools []llm.ToolDefinition) (string, []llm.ToolCall, error) {
	return f.streamContent, nil, nil
}

func (f *fakeLLM) GenerateStreaming(ctx context.Context, messages []llm.Message, tools []llm.ToolDefinition) (<-chan llm.StreamChunk, error) {
	ch := make(chan llm.StreamChunk, 2)
	ch <- llm.StreamChunk{Content: f.streamContent}
	ch <- llm.StreamChunk{Done: true, ToolCalls: f.streamToolCalls}
	close(ch)
	return ch, nil
}

func (f *fakeLLM) GenerateJSON(ctx context.Context, messages []llm.Message, schema map[string]any) (string, error) {
	return f.classifyJSON, nil
}

func (f *fakeLLM) ModelName() string { return "fake-llm" }
func (f *fakeLLM) Close() error      { return nil }

var _ llm.Provider = (*fakeLLM)(nil)

// erroringVectorStore fails every search call, so retrieveContext hits
// its degraded path without standing up a real vector backend.
type erroringVectorStore struct{}

func (erroringVectorStore) Upsert(ctx context.Context, id string, vec []float32, text string, metadata map[string]any) error {
	return nil
}
func (erroringVectorStore) VectorSearch(ctx context.Context, queryVec []float32, k int, filter *vector.Filter) ([]vector.Result, error) {
	return nil, errors.New("store unreachable")
}
func (erroringVectorStore) BM25Search(ctx context.Context, queryText string, k int, filter *vector.Filter) ([]vector.Result, error) {
	return nil, errors.New("store unreachable")
}
func (erroringVectorStore) HybridSearch(ctx context.Context, queryText string, queryVec []float32, opts vector.HybridOptions) ([]vector.Result, error) {
	return nil, errors.New("store unreachable")
}
func (erroringVectorStore) DeleteBySource(ctx context.Context, source string) error { return nil }
func (erroringVectorStore) ResetCollection(ctx context.Context) error              { return nil }
func (erroringVectorStore) Stats(ctx context.Context) (vector.Stats, error)         { return vector.Stats{}, nil }
func (erroringVectorStore) SupportsOrFilter() bool                                  { return false }
func (erroringVectorStore) Close() error                                           { return nil }

var _ vector.Provider = erroringVectorStore{}

// stubEmbedProvider returns a fixed vector; retrieveContext's degraded
// path is driven by the vector store, not the embedder.
type stubEmbedProvider struct{}

func (stubEmbedProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0}, nil
}
func (stubEmbedProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}
func (stubEmbedProvider) Dimension() int    { return 2 }
func (stubEmbedProvider) ModelName() string { return "stub-embed" }

var _ embed.Provider = stubEmbedProvider{}

// retrievalEngineThatErrors builds a retrieval.Engine whose every search
// mode fails, for exercising the orchestrator's degradation path.
func retrievalEngineThatErrors(t *testing.T) *retrieval.Engine {
	t.Helper()
	embedder := embed.New(stubEmbedProvider{}, nil)
	return retrieval.New(erroringVectorStore{}, nil, embedder, &fakeLLM{streamContent: "rewritten query"}, nil, nil)
}

func collect(t *testing.T, ch <-chan Chunk) string {
	t.Helper()
	var out string
	for {
		select {
		case chunk, ok := <-ch:
			if !ok {
				return out
			}
			out += chunk.Content
			if chunk.Done {
				return out
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for chat stream")
		}
	}
}

func TestHandle_ConversationalTurnStreamsAssistantText(t *testing.T) {
	provider := &fakeLLM{
		classifyJSON:  `{"intent":"conversational","needsSearch":false,"confidence":0.9}`,
		streamContent: "Hello there.",
	}
	orch := New(provider, nil, nil, nil, "You are a helpful assistant.")

	ch, err := orch.Handle(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "hi"}})
	require.NoError(t, err)
	assert.Equal(t, "Hello there.", collect(t, ch))
}

func TestHandle_MalformedIntentJSONDefaultsToSearch(t *testing.T) {
	provider := &fakeLLM{
		classifyJSON:  `not json at all`,
		streamContent: "answer",
	}
	orch := New(provider, nil, nil, nil, "persona")

	ch, err := orch.Handle(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "what is flow state?"}})
	require.NoError(t, err)
	assert.Equal(t, "answer", collect(t, ch))
}

func TestHandle_SlashCommandDispatchesLocalToolBeforeStreaming(t *testing.T) {
	var calledWith map[string]any
	registry := tool.NewRegistry()
	registry.Register(tool.Descriptor{
		Name:    "search_knowledge",
		Command: "/search",
		Params:  []tool.Param{{Name: "input", Type: tool.ParamString}},
		Handler: func(args map[string]any) (tool.Result, error) {
			calledWith = args
			return tool.Result{Success: true, Data: "3 results"}, nil
		},
	})
	dispatcher := tool.NewDispatcher()

	provider := &fakeLLM{
		classifyJSON:  `{"intent":"command","needsSearch":false,"confidence":0.9}`,
		streamContent: "Here are your results.",
	}
	orch := New(provider, nil, registry, dispatcher, "persona")

	ch, err := orch.Handle(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "/search hello world"}})
	require.NoError(t, err)
	text := collect(t, ch)
	assert.Equal(t, "Here are your results.", text)
	require.NotNil(t, calledWith)
	assert.Equal(t, "hello world", calledWith["input"])
}

func TestHandle_ModelDeclaredToolCallIsExecutedAndAppended(t *testing.T) {
	registry := tool.NewRegistry()
	registry.Register(tool.Descriptor{
		Name: "get_weather",
		Handler: func(args map[string]any) (tool.Result, error) {
			return tool.Result{Success: true, Data: "sunny"}, nil
		},
	})
	dispatcher := tool.NewDispatcher()

	provider := &fakeLLM{
		classifyJSON:  `{"intent":"tool","needsSearch":false,"confidence":0.9}`,
		streamContent: "Let me check.",
		streamToolCalls: []llm.ToolCall{
			{ID: "1", Name: "get_weather", Arguments: map[string]any{"city": "Lisbon"}},
		},
	}
	orch := New(provider, nil, registry, dispatcher, "persona")

	ch, err := orch.Handle(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "what's the weather?"}})
	require.NoError(t, err)
	text := collect(t, ch)
	assert.Contains(t, text, "Let me check.")
	assert.Contains(t, text, "get_weather")
	assert.Contains(t, text, "sunny")
}

func TestBuildSystemPrompt_IncludesAllSectionsWhenPresent(t *testing.T) {
	orch := New(&fakeLLM{}, nil, nil, nil, "Persona text")
	prompt := orch.buildSystemPrompt("Context:\n1. [a.md:A] text", "**tool**: ok", false)
	assert.Contains(t, prompt, "Persona text")
	assert.Contains(t, prompt, "Cite every fact")
	assert.Contains(t, prompt, "Context:")
	assert.Contains(t, prompt, "Tool Results:")
	assert.NotContains(t, prompt, "retrieval failed")
}

func TestBuildSystemPrompt_NotesDegradationWhenRetrievalFailed(t *testing.T) {
	orch := New(&fakeLLM{}, nil, nil, nil, "Persona text")
	prompt := orch.buildSystemPrompt("", "", true)
	assert.Contains(t, prompt, "retrieval failed")
	assert.Contains(t, prompt, degradationNotice)
}

func TestRun_RetrievalErrorPrependsDegradationNoticeToReply(t *testing.T) {
	engine := retrievalEngineThatErrors(t)
	provider := &fakeLLM{
		classifyJSON:  `{"intent":"search","needsSearch":true,"searchMode":"hybrid","confidence":0.9}`,
		streamContent: "Here is my answer.",
	}
	orch := New(provider, engine, nil, nil, "persona")

	ch, err := orch.Handle(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "what is X?"}})
	require.NoError(t, err)
	text := collect(t, ch)
	assert.True(t, strings.HasPrefix(text, degradationNotice))
	assert.Contains(t, text, "Here is my answer.")
}

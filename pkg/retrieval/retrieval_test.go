package retrieval

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aletheia-kb/aletheia/pkg/embed"
	"github.com/aletheia-kb/aletheia/pkg/llm"
	"github.com/aletheia-kb/aletheia/pkg/vector"
)

// fakeEmbedProvider returns a deterministic vector derived from text length,
// so semantic similarity isn't exercised but call plumbing is.
type fakeEmbedProvider struct{}

func (fakeEmbedProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{float32(len(text)), 1}, nil
}
func (fakeEmbedProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1}
	}
	return out, nil
}
func (fakeEmbedProvider) Dimension() int    { return 2 }
func (fakeEmbedProvider) ModelName() string { return "fake-embed" }

var _ embed.Provider = fakeEmbedProvider{}

// fakeLLM returns scripted responses keyed by which generator is invoked,
// so tests don't depend on prompt wording.
type fakeLLM struct {
	generateText string
	jsonText     string
}

func (f *fakeLLM) Generate(ctx context.Context, messages []llm.Message, tools []llm.ToolDefinition) (string, []llm.ToolCall, error) {
	return f.generateText, nil, nil
}
func (f *fakeLLM) GenerateStreaming(ctx context.Context, messages []llm.Message, tools []llm.ToolDefinition) (<-chan llm.StreamChunk, error) {
	ch := make(chan llm.StreamChunk, 1)
	ch <- llm.StreamChunk{Content: f.generateText, Done: true}
	close(ch)
	return ch, nil
}
func (f *fakeLLM) GenerateJSON(ctx context.Context, messages []llm.Message, schema map[string]any) (string, error) {
	return f.jsonText, nil
}
func (f *fakeLLM) ModelName() string { return "fake-llm" }
func (f *fakeLLM) Close() error      { return nil }

var _ llm.Provider = (*fakeLLM)(nil)

// fakeVectorStore returns canned results for each search mode,
// independent of the query, so tests can assert on shape and dedup
// behavior rather than ranking quality.
type fakeVectorStore struct {
	results       []vector.Result
	supportsOr    bool
	vectorCalls   int
	bm25Calls     int
	hybridCalls   int
	lastVecFilter *vector.Filter
}

func (f *fakeVectorStore) Upsert(ctx context.Context, id string, vec []float32, text string, metadata map[string]any) error {
	return nil
}
func (f *fakeVectorStore) VectorSearch(ctx context.Context, queryVec []float32, k int, filter *vector.Filter) ([]vector.Result, error) {
	f.vectorCalls++
	f.lastVecFilter = filter
	return f.results, nil
}
func (f *fakeVectorStore) BM25Search(ctx context.Context, queryText string, k int, filter *vector.Filter) ([]vector.Result, error) {
	f.bm25Calls++
	return f.results, nil
}
func (f *fakeVectorStore) HybridSearch(ctx context.Context, queryText string, queryVec []float32, opts vector.HybridOptions) ([]vector.Result, error) {
	f.hybridCalls++
	return f.results, nil
}
func (f *fakeVectorStore) DeleteBySource(ctx context.Context, source string) error { return nil }
func (f *fakeVectorStore) ResetCollection(ctx context.Context) error               { return nil }
func (f *fakeVectorStore) Stats(ctx context.Context) (vector.Stats, error)         { return vector.Stats{}, nil }
func (f *fakeVectorStore) SupportsOrFilter() bool                                  { return f.supportsOr }
func (f *fakeVectorStore) Close() error                                            { return nil }

var _ vector.Provider = (*fakeVectorStore)(nil)

// fakeCache is a minimal in-memory cache.Store for exercising the
// cache-first lookup and write-back paths.
type fakeCache struct {
	data map[string][]byte
}

func newFakeCache() *fakeCache { return &fakeCache{data: make(map[string][]byte)} }

func (c *fakeCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, ok := c.data[key]
	return v, ok, nil
}
func (c *fakeCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.data[key] = value
	return nil
}
func (c *fakeCache) Allow(ctx context.Context, identifier string, limit int, window time.Duration) (bool, int, error) {
	return true, limit, nil
}
func (c *fakeCache) Reset(ctx context.Context) error          { return nil }
func (c *fakeCache) TotalKeys(ctx context.Context) (int, error) { return len(c.data), nil }
func (c *fakeCache) Close() error                              { return nil }

func sampleResults() []vector.Result {
	return []vector.Result{
		{ChunkID: "a", Text: "chunk a", Score: 0.9, Metadata: map[string]any{"source": "notes.md", "section_heading": "Intro", "chunk_index": 0}},
		{ChunkID: "b", Text: "chunk b", Score: 0.8, Metadata: map[string]any{"source": "notes.md", "section_heading": "Intro", "chunk_index": 0}}, // same fingerprint as a
		{ChunkID: "c", Text: "chunk c", Score: 0.7, Metadata: map[string]any{"source": "other.md", "section_heading": "Body", "chunk_index": 1}},
	}
}

func TestAdvancedSearch_HybridDefaultModeDedupesByFingerprint(t *testing.T) {
	store := &fakeVectorStore{results: sampleResults()}
	embedder := embed.New(fakeEmbedProvider{}, nil)
	provider := &fakeLLM{generateText: "rewritten query about note taking"}
	engine := New(store, nil, embedder, provider, nil, nil)

	results, err := engine.AdvancedSearch(context.Background(), Request{Query: "how do I take notes", Limit: 5})
	require.NoError(t, err)
	assert.Equal(t, 1, store.hybridCalls)
	assert.Len(t, results, 2, "duplicate (source, chunk_index) fingerprint should collapse to one result")
	assert.Equal(t, "notes.md", results[0].Source)
	assert.Equal(t, float64(0.9), results[0].Score)
}

func TestAdvancedSearch_SemanticModeCallsVectorSearch(t *testing.T) {
	store := &fakeVectorStore{results: sampleResults()}
	embedder := embed.New(fakeEmbedProvider{}, nil)
	provider := &fakeLLM{generateText: "rewritten"}
	engine := New(store, nil, embedder, provider, nil, nil)

	_, err := engine.AdvancedSearch(context.Background(), Request{Query: "notes", Mode: ModeSemantic, Limit: 5})
	require.NoError(t, err)
	assert.Equal(t, 1, store.vectorCalls)
	assert.Equal(t, 0, store.hybridCalls)
}

func TestAdvancedSearch_KeywordModeCallsBM25Search(t *testing.T) {
	store := &fakeVectorStore{results: sampleResults()}
	embedder := embed.New(fakeEmbedProvider{}, nil)
	provider := &fakeLLM{generateText: "rewritten"}
	engine := New(store, nil, embedder, provider, nil, nil)

	_, err := engine.AdvancedSearch(context.Background(), Request{Query: "notes", Mode: ModeKeyword, Limit: 5})
	require.NoError(t, err)
	assert.Equal(t, 1, store.bm25Calls)
}

func TestAdvancedSearch_GraphModeWithoutGraphStoreFallsBackToHybrid(t *testing.T) {
	store := &fakeVectorStore{results: sampleResults()}
	embedder := embed.New(fakeEmbedProvider{}, nil)
	provider := &fakeLLM{generateText: "rewritten"}
	engine := New(store, nil, embedder, provider, nil, nil)

	_, err := engine.AdvancedSearch(context.Background(), Request{Query: "notes", Mode: ModeGraph, Limit: 5})
	require.NoError(t, err)
	assert.Equal(t, 1, store.hybridCalls, "graph mode with no graph store configured should fall back to hybrid")
}

func TestAdvancedSearch_EmptyQueryReturnsValidationError(t *testing.T) {
	store := &fakeVectorStore{results: sampleResults()}
	embedder := embed.New(fakeEmbedProvider{}, nil)
	provider := &fakeLLM{generateText: "rewritten"}
	engine := New(store, nil, embedder, provider, nil, nil)

	_, err := engine.AdvancedSearch(context.Background(), Request{Query: "   "})
	require.Error(t, err)
}

func TestAdvancedSearch_SecondIdenticalCallHitsCache(t *testing.T) {
	store := &fakeVectorStore{results: sampleResults()}
	embedder := embed.New(fakeEmbedProvider{}, nil)
	provider := &fakeLLM{generateText: "rewritten"}
	fc := newFakeCache()
	engine := New(store, nil, embedder, provider, nil, fc)

	_, err := engine.AdvancedSearch(context.Background(), Request{Query: "notes about flow", Limit: 5})
	require.NoError(t, err)
	firstHybridCalls := store.hybridCalls

	_, err = engine.AdvancedSearch(context.Background(), Request{Query: "notes about flow", Limit: 5})
	require.NoError(t, err)
	assert.Equal(t, firstHybridCalls, store.hybridCalls, "an identical second search should be served from cache without hitting the vector store again")
}

func TestFormatContextBlock_CitesSourceAndSection(t *testing.T) {
	results := []Result{{Text: "flow state improves focus", Source: "flow.md", Section: "Definition", Score: 0.9}}
	block := FormatContextBlock(results)
	assert.Contains(t, block, "[flow.md:Definition]")
	assert.Contains(t, block, "flow state improves focus")
}

func TestFormatContextBlock_EmptyResultsReturnsEmptyString(t *testing.T) {
	assert.Equal(t, "", FormatContextBlock(nil))
}

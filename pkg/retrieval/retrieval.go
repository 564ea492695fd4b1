// Package retrieval implements Aletheia's retrieval engine: candidate
// generation across semantic, keyword, hybrid, and graph-guided search
// modes, with query rewriting, reranking, deduplication, and result
// caching layered on top.
package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/aletheia-kb/aletheia/pkg/apperr"
	"github.com/aletheia-kb/aletheia/pkg/cache"
	"github.com/aletheia-kb/aletheia/pkg/embed"
	"github.com/aletheia-kb/aletheia/pkg/graph"
	"github.com/aletheia-kb/aletheia/pkg/llm"
	"github.com/aletheia-kb/aletheia/pkg/rerank"
	"github.com/aletheia-kb/aletheia/pkg/vector"
)

// Mode selects the candidate-generation strategy for AdvancedSearch.
type Mode string

const (
	ModeSemantic Mode = "semantic"
	ModeKeyword  Mode = "keyword"
	ModeHybrid   Mode = "hybrid"
	ModeGraph    Mode = "graph"
)

// overFetchFactor is how many more candidates than limit are generated
// before reranking and deduplication narrow the set back down.
const overFetchFactor = 3

// hybridAlpha weights vector similarity against keyword match in hybrid
// search and in the graph mode's fallback.
const hybridAlpha = 0.7

// Request is the public contract for AdvancedSearch.
type Request struct {
	Query  string
	Mode   Mode
	Filter *vector.Filter
	Limit  int
	Rerank bool
}

// Result is a retained search result, formatted the way the orchestrator
// embeds it in a numbered context block.
type Result struct {
	Text    string
	Source  string
	Section string
	Score   float64
}

// Engine wires the vector store, optional knowledge graph, embedder, LLM,
// optional reranker, and optional cache together into the retrieval
// algorithm. GraphStore, Reranker, and Cache may be nil: a nil GraphStore
// makes graph mode fall back to hybrid; a nil Reranker skips reranking
// even when requested; a nil Cache disables the cache-first lookups and
// degrades every cache write to a no-op.
type Engine struct {
	vectorStore vector.Provider
	graphStore  *graph.Store
	embedder    *embed.Client
	llm         llm.Provider
	reranker    *rerank.Client
	cache       cache.Store
}

// New builds an Engine.
func New(vectorStore vector.Provider, graphStore *graph.Store, embedder *embed.Client, llmProvider llm.Provider, reranker *rerank.Client, cacheStore cache.Store) *Engine {
	return &Engine{
		vectorStore: vectorStore,
		graphStore:  graphStore,
		embedder:    embedder,
		llm:         llmProvider,
		reranker:    reranker,
		cache:       cacheStore,
	}
}

// AdvancedSearch runs the full retrieval algorithm: cache lookup, query
// rewrite, mode-specific candidate generation with over-fetch, optional
// rerank, dedup by (source, chunk_index), and a final cache write.
func (e *Engine) AdvancedSearch(ctx context.Context, req Request) ([]Result, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, apperr.Validation("retrieval", "AdvancedSearch", "query must not be empty")
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 8
	}
	mode := req.Mode
	if mode == "" {
		mode = ModeHybrid
	}

	queryVec, err := e.embedder.Embed(ctx, req.Query)
	if err != nil {
		return nil, err
	}

	cacheKey := e.searchCacheKey(queryVec, mode, req.Filter)
	if cacheKey != "" {
		if cached, ok := e.readSearchCache(ctx, cacheKey); ok {
			return take(cached, limit), nil
		}
	}

	rewritten, err := e.rewriteQuery(ctx, req.Query)
	if err != nil {
		slog.Warn("query rewrite failed, using original query", "error", err)
		rewritten = req.Query
	}

	candidates, err := e.generateCandidates(ctx, mode, req.Query, rewritten, queryVec, req.Filter, limit*overFetchFactor)
	if err != nil {
		return nil, err
	}

	if req.Rerank && e.reranker != nil && len(candidates) > limit {
		candidates = e.reranker.Rerank(ctx, rewritten, candidates, limit)
	} else {
		sortByScoreDesc(candidates)
	}

	deduped := dedupeCandidates(candidates)
	results := take(toResults(deduped), limit)

	if cacheKey != "" {
		e.writeSearchCache(ctx, cacheKey, results)
	}

	return results, nil
}

// generateCandidates dispatches to the mode-specific candidate generator.
func (e *Engine) generateCandidates(ctx context.Context, mode Mode, original, rewritten string, queryVec []float32, filter *vector.Filter, k int) ([]rerank.Candidate, error) {
	switch mode {
	case ModeSemantic:
		results, err := e.vectorStore.VectorSearch(ctx, queryVec, k, filter)
		if err != nil {
			return nil, err
		}
		return toCandidates(results), nil

	case ModeKeyword:
		results, err := e.vectorStore.BM25Search(ctx, rewritten, k, filter)
		if err != nil {
			return nil, err
		}
		return toCandidates(results), nil

	case ModeGraph:
		return e.graphCandidates(ctx, original, queryVec, filter, k)

	default: // ModeHybrid and anything unrecognized
		results, err := e.vectorStore.HybridSearch(ctx, rewritten, queryVec, vector.HybridOptions{Alpha: hybridAlpha, K: k, Filter: filter})
		if err != nil {
			return nil, err
		}
		return toCandidates(results), nil
	}
}

// graphCandidates extracts entities from the query, gathers the documents
// each entity appears in via the knowledge graph, and restricts vector
// search to those sources. It falls back to hybrid search whenever the
// graph store is absent, extraction fails, or no entity resolves to a
// document.
func (e *Engine) graphCandidates(ctx context.Context, query string, queryVec []float32, filter *vector.Filter, k int) ([]rerank.Candidate, error) {
	if e.graphStore == nil {
		return e.generateCandidates(ctx, ModeHybrid, query, query, queryVec, filter, k)
	}

	entities, err := e.extractQueryEntities(ctx, query)
	if err != nil || len(entities) == 0 {
		if err != nil {
			slog.Warn("graph mode entity extraction failed, falling back to hybrid", "error", err)
		}
		return e.generateCandidates(ctx, ModeHybrid, query, query, queryVec, filter, k)
	}

	sourceSet := make(map[string]bool)
	for _, entity := range entities {
		docs, docErr := e.graphStore.DocumentsFor(ctx, entity, k)
		if docErr != nil {
			slog.Warn("graph documentsFor failed", "entity", entity, "error", docErr)
			continue
		}
		for _, doc := range docs {
			sourceSet[doc.Name] = true
		}
	}
	if len(sourceSet) == 0 {
		return e.generateCandidates(ctx, ModeHybrid, query, query, queryVec, filter, k)
	}

	sources := make([]string, 0, len(sourceSet))
	for s := range sourceSet {
		sources = append(sources, s)
	}

	if e.vectorStore.SupportsOrFilter() {
		branches := make([]vector.Filter, len(sources))
		for i, s := range sources {
			branches[i] = vector.Equal("source", s)
		}
		orFilter := vector.Or(branches...)
		combined := orFilter
		if filter != nil {
			combined = vector.And(*filter, orFilter)
		}
		results, err := e.vectorStore.VectorSearch(ctx, queryVec, k, &combined)
		if err != nil {
			return nil, err
		}
		return toCandidates(results), nil
	}

	// Backend can't push an Or filter down: batch one Equal-filtered
	// query per source and union the results.
	var all []rerank.Candidate
	for _, s := range sources {
		eqFilter := vector.Equal("source", s)
		combined := eqFilter
		if filter != nil {
			combined = vector.And(*filter, eqFilter)
		}
		results, err := e.vectorStore.VectorSearch(ctx, queryVec, k, &combined)
		if err != nil {
			slog.Warn("graph mode per-source search failed", "source", s, "error", err)
			continue
		}
		all = append(all, toCandidates(results)...)
	}
	return all, nil
}

// entityExtraction is the JSON shape requested from the LLM for graph-mode
// query entity resolution.
type entityExtraction struct {
	Entities []string `json:"entities"`
}

var entityExtractionSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"entities": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string"},
		},
	},
	"required": []string{"entities"},
}

func (e *Engine) extractQueryEntities(ctx context.Context, query string) ([]string, error) {
	prompt := fmt.Sprintf(`Identify the named entities (people, projects, tools, concepts, techniques, theories) mentioned in this search query. Use the exact names as they would appear in a knowledge base.

Query: %s`, llm.SanitizeInput(query))

	text, err := e.llm.GenerateJSON(ctx, []llm.Message{{Role: llm.RoleUser, Content: prompt}}, entityExtractionSchema)
	if err != nil {
		return nil, err
	}

	var parsed entityExtraction
	if err := json.Unmarshal([]byte(llm.StripJSONFence(text)), &parsed); err != nil {
		return nil, apperr.ParseFailure("retrieval", "extractQueryEntities", "invalid entity extraction JSON", err)
	}
	return parsed.Entities, nil
}

// rewriteQuery asks the LLM to rewrite query for keyword richness while
// preserving intent, consulting and populating the query-rewrite cache.
func (e *Engine) rewriteQuery(ctx context.Context, query string) (string, error) {
	if e.cache != nil {
		if raw, hit, err := e.cache.Get(ctx, cache.QueryRewriteKey(query)); err == nil && hit {
			return string(raw), nil
		}
	}

	prompt := fmt.Sprintf(`Rewrite the following search query to be richer in keywords while preserving its original intent. Respond with a single line and nothing else.

Query: %s`, llm.SanitizeInput(query))

	text, _, err := e.llm.Generate(ctx, []llm.Message{{Role: llm.RoleUser, Content: prompt}}, nil)
	if err != nil {
		return "", err
	}

	rewritten := firstLine(text)
	if rewritten == "" {
		rewritten = query
	}

	if e.cache != nil {
		_ = e.cache.Set(ctx, cache.QueryRewriteKey(query), []byte(rewritten), cache.QueryRewriteTTL)
	}
	return rewritten, nil
}

func (e *Engine) searchCacheKey(queryVec []float32, mode Mode, filter *vector.Filter) string {
	if e.cache == nil {
		return ""
	}
	key := cache.SearchKey(queryVec) + ":" + string(mode)
	if filter != nil {
		if b, err := json.Marshal(filter); err == nil {
			key += ":" + string(b)
		}
	}
	return key
}

func (e *Engine) readSearchCache(ctx context.Context, key string) ([]Result, bool) {
	raw, hit, err := e.cache.Get(ctx, key)
	if err != nil || !hit {
		return nil, false
	}
	var results []Result
	if err := json.Unmarshal(raw, &results); err != nil {
		return nil, false
	}
	return results, true
}

func (e *Engine) writeSearchCache(ctx context.Context, key string, results []Result) {
	raw, err := json.Marshal(results)
	if err != nil {
		return
	}
	_ = e.cache.Set(ctx, key, raw, cache.SearchTTL)
}

func toCandidates(results []vector.Result) []rerank.Candidate {
	out := make([]rerank.Candidate, len(results))
	for i, r := range results {
		typ, _ := r.Metadata["type"].(string)
		out[i] = rerank.Candidate{
			ID:       r.ChunkID,
			Text:     r.Text,
			Type:     typ,
			Score:    r.Score,
			Metadata: r.Metadata,
		}
	}
	return out
}

func toResults(candidates []rerank.Candidate) []Result {
	out := make([]Result, len(candidates))
	for i, c := range candidates {
		source, _ := c.Metadata["source"].(string)
		section, _ := c.Metadata["section_heading"].(string)
		out[i] = Result{Text: c.Text, Source: source, Section: section, Score: c.Score}
	}
	return out
}

// dedupeCandidates removes every candidate whose (source, chunk_index)
// fingerprint has already been seen, keeping the first (highest-scored,
// since candidates are sorted before this runs) occurrence.
func dedupeCandidates(candidates []rerank.Candidate) []rerank.Candidate {
	seen := make(map[string]bool, len(candidates))
	out := make([]rerank.Candidate, 0, len(candidates))
	for _, c := range candidates {
		fp := fingerprint(c)
		if seen[fp] {
			continue
		}
		seen[fp] = true
		out = append(out, c)
	}
	return out
}

func fingerprint(c rerank.Candidate) string {
	source, _ := c.Metadata["source"].(string)
	var chunkIndex int
	switch v := c.Metadata["chunk_index"].(type) {
	case int:
		chunkIndex = v
	case float64:
		chunkIndex = int(v)
	}
	return fmt.Sprintf("%s#%d", source, chunkIndex)
}

func sortByScoreDesc(candidates []rerank.Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].Score > candidates[j].Score })
}

func take[T any](items []T, limit int) []T {
	if limit <= 0 || limit >= len(items) {
		return items
	}
	return items[:limit]
}

func firstLine(text string) string {
	text = strings.TrimSpace(text)
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		text = text[:idx]
	}
	return strings.TrimSpace(text)
}

package vector

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"github.com/philippgille/chromem-go"

	"github.com/aletheia-kb/aletheia/pkg/apperr"
)

// ChromemConfig configures the embedded chromem-go backend.
type ChromemConfig struct {
	// PersistPath enables gzip-compressed file persistence. Empty means
	// in-memory only.
	PersistPath string
	Collection  string
}

// ChromemProvider implements Provider using chromem-go, an in-process,
// pure-Go vector store. It requires no external services, at the cost of
// being single-process and memory-bound. BM25Search and the keyword half
// of HybridSearch are served from a side term index kept in memory
// alongside the chromem collection, since chromem itself only does
// embedding similarity search.
type ChromemProvider struct {
	db         *chromem.DB
	collection string
	persisted  bool

	mu       sync.RWMutex
	texts    map[string]string // chunk ID -> text, for BM25
	byType   map[string]string // chunk ID -> type, for Stats
	bySource map[string]string // chunk ID -> source, for DeleteBySource
	col      *chromem.Collection
}

// identityEmbed is passed to chromem as its embedding function. It is
// never invoked because every call supplies a precomputed vector from
// pkg/embed; chromem requires a non-nil function regardless.
func identityEmbed(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("chromem: embedding function invoked, expected precomputed vectors")
}

// NewChromemProvider opens (or creates) a chromem database and its
// collection. If cfg.PersistPath is set, the database is loaded from
// disk when present and saved back after every mutation.
func NewChromemProvider(cfg ChromemConfig) (*ChromemProvider, error) {
	var db *chromem.DB
	var err error

	if cfg.PersistPath != "" {
		db, err = chromem.NewPersistentDB(cfg.PersistPath, true)
		if err != nil {
			db = chromem.NewDB()
		}
	} else {
		db = chromem.NewDB()
	}

	col, err := db.GetOrCreateCollection(cfg.Collection, nil, chromem.EmbeddingFunc(identityEmbed))
	if err != nil {
		return nil, apperr.New(apperr.KindRemoteUnavailable, "vector", "NewChromemProvider", "failed to open chromem collection", err)
	}

	return &ChromemProvider{
		db:         db,
		collection: cfg.Collection,
		persisted:  cfg.PersistPath != "",
		texts:      make(map[string]string),
		byType:     make(map[string]string),
		bySource:   make(map[string]string),
		col:        col,
	}, nil
}

// Upsert implements Provider.
func (p *ChromemProvider) Upsert(ctx context.Context, id string, vector []float32, text string, metadata map[string]any) error {
	strMetadata := make(map[string]string, len(metadata))
	for k, v := range metadata {
		strMetadata[k] = fmt.Sprint(v)
	}

	doc := chromem.Document{
		ID:        id,
		Content:   text,
		Metadata:  strMetadata,
		Embedding: vector,
	}

	if err := p.col.AddDocuments(ctx, []chromem.Document{doc}, runtime.NumCPU()); err != nil {
		return apperr.New(apperr.KindRemoteUnavailable, "vector", "Upsert", "chromem upsert failed", err)
	}

	p.mu.Lock()
	p.texts[id] = text
	if t, ok := metadata["type"].(string); ok {
		p.byType[id] = t
	}
	if s, ok := metadata["source"].(string); ok {
		p.bySource[id] = s
	}
	p.mu.Unlock()

	return p.persist()
}

// VectorSearch implements Provider.
func (p *ChromemProvider) VectorSearch(ctx context.Context, queryVec []float32, k int, filter *Filter) ([]Result, error) {
	where := flattenEqualFilter(filter)
	if n := p.col.Count(); k > n {
		k = n
	}
	if k <= 0 {
		return nil, nil
	}

	results, err := p.col.QueryEmbedding(ctx, queryVec, k, where, nil)
	if err != nil {
		return nil, apperr.New(apperr.KindRemoteUnavailable, "vector", "VectorSearch", "chromem query failed", err)
	}

	out := make([]Result, 0, len(results))
	for _, r := range results {
		out = append(out, Result{
			ChunkID:  r.ID,
			Text:     r.Content,
			Score:    distanceToScore(1 - float64(r.Similarity)),
			Metadata: stringMapToAny(r.Metadata),
		})
	}
	return out, nil
}

// BM25Search implements Provider from the in-memory text index, since
// chromem has no native keyword search.
func (p *ChromemProvider) BM25Search(ctx context.Context, queryText string, k int, filter *Filter) ([]Result, error) {
	terms := tokenize(queryText)
	if len(terms) == 0 {
		return nil, nil
	}
	allowedType, hasTypeFilter := filterEqualValue(filter, "type")

	p.mu.RLock()
	defer p.mu.RUnlock()

	scored := make([]Result, 0, len(p.texts))
	for id, text := range p.texts {
		if hasTypeFilter && p.byType[id] != allowedType {
			continue
		}
		score := termFrequencyScore(text, terms)
		if score > 0 {
			scored = append(scored, Result{ChunkID: id, Text: text, Score: score})
		}
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// HybridSearch implements Provider by fusing VectorSearch and BM25Search
// scores, weighted by opts.Alpha.
func (p *ChromemProvider) HybridSearch(ctx context.Context, queryText string, queryVec []float32, opts HybridOptions) ([]Result, error) {
	fetchK := opts.K * 3
	if fetchK < opts.K {
		fetchK = opts.K
	}

	vecResults, err := p.VectorSearch(ctx, queryVec, fetchK, opts.Filter)
	if err != nil {
		return nil, err
	}
	bm25Results, err := p.BM25Search(ctx, queryText, fetchK, opts.Filter)
	if err != nil {
		return nil, err
	}

	combined := make(map[string]*Result, len(vecResults)+len(bm25Results))
	for _, r := range vecResults {
		copied := r
		copied.Score = opts.Alpha * r.Score
		combined[r.ChunkID] = &copied
	}
	for _, r := range bm25Results {
		if existing, ok := combined[r.ChunkID]; ok {
			existing.Score += (1 - opts.Alpha) * r.Score
			continue
		}
		copied := r
		copied.Score = (1 - opts.Alpha) * r.Score
		combined[r.ChunkID] = &copied
	}

	out := make([]Result, 0, len(combined))
	for _, r := range combined {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > opts.K {
		out = out[:opts.K]
	}
	return out, nil
}

// DeleteBySource implements Provider.
func (p *ChromemProvider) DeleteBySource(ctx context.Context, source string) error {
	if err := p.col.Delete(ctx, map[string]string{"source": source}, nil); err != nil {
		return apperr.New(apperr.KindRemoteUnavailable, "vector", "DeleteBySource", "chromem delete failed", err)
	}

	p.mu.Lock()
	for id, s := range p.bySource {
		if s == source {
			delete(p.texts, id)
			delete(p.byType, id)
			delete(p.bySource, id)
		}
	}
	p.mu.Unlock()

	return p.persist()
}

// ResetCollection implements Provider.
func (p *ChromemProvider) ResetCollection(ctx context.Context) error {
	if err := p.db.DeleteCollection(p.collection); err != nil {
		return apperr.New(apperr.KindRemoteUnavailable, "vector", "ResetCollection", "chromem delete failed", err)
	}
	col, err := p.db.GetOrCreateCollection(p.collection, nil, chromem.EmbeddingFunc(identityEmbed))
	if err != nil {
		return apperr.New(apperr.KindRemoteUnavailable, "vector", "ResetCollection", "chromem recreate failed", err)
	}

	p.mu.Lock()
	p.col = col
	p.texts = make(map[string]string)
	p.byType = make(map[string]string)
	p.bySource = make(map[string]string)
	p.mu.Unlock()

	return p.persist()
}

// Stats implements Provider.
func (p *ChromemProvider) Stats(ctx context.Context) (Stats, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := Stats{TotalChunks: len(p.texts), CountsByType: map[string]int{}}
	for _, t := range p.byType {
		stats.CountsByType[t]++
	}
	return stats, nil
}

// SupportsOrFilter implements Provider. chromem's where-filter is a flat
// AND of equality clauses; it has no native Or.
func (p *ChromemProvider) SupportsOrFilter() bool { return false }

// Close implements Provider.
func (p *ChromemProvider) Close() error { return p.persist() }

func (p *ChromemProvider) persist() error {
	if !p.persisted {
		return nil
	}
	//nolint:staticcheck // chromem-go's Export is the only persistence entry point.
	if err := p.db.Export(p.collection, true, ""); err != nil {
		return apperr.New(apperr.KindRemoteUnavailable, "vector", "persist", "chromem persist failed", err)
	}
	return nil
}

// flattenEqualFilter reduces a Filter tree to the flat string-equality map
// chromem's where-filter accepts. Nested Or filters are dropped, since
// ChromemProvider reports SupportsOrFilter() == false and callers are
// expected to batch Or branches themselves.
func flattenEqualFilter(filter *Filter) map[string]string {
	if filter == nil {
		return nil
	}
	where := make(map[string]string)
	collectEquals(*filter, where)
	if len(where) == 0 {
		return nil
	}
	return where
}

func collectEquals(f Filter, out map[string]string) {
	switch f.Operator {
	case OpEqual:
		out[f.Path] = fmt.Sprint(f.Value)
	case OpAnd:
		for _, child := range f.Children {
			collectEquals(child, out)
		}
	}
}

func filterEqualValue(filter *Filter, path string) (string, bool) {
	where := flattenEqualFilter(filter)
	v, ok := where[path]
	return v, ok
}

func stringMapToAny(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

var _ Provider = (*ChromemProvider)(nil)

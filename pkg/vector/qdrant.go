package vector

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/qdrant/go-client/qdrant"

	"github.com/aletheia-kb/aletheia/pkg/apperr"
	"github.com/aletheia-kb/aletheia/pkg/config"
)

// scrollPageSize is how many points BM25Search reads with its single Scroll
// call; points past that first page are not scanned. Qdrant has no native BM25, so
// this adapter approximates it by scoring payload text client-side after
// pushing the structured Filter down to Scroll.
const scrollPageSize = 256

// QdrantProvider implements Provider against a remote Qdrant collection
// over gRPC.
type QdrantProvider struct {
	client     *qdrant.Client
	collection string
}

// NewQdrantProvider dials Qdrant at cfg.Endpoint ("host:port") and binds to
// cfg.Collection. The collection itself is created lazily on first Upsert,
// since the vector dimension isn't known until then.
func NewQdrantProvider(cfg config.VectorStoreConfig) (*QdrantProvider, error) {
	host, port := splitEndpoint(cfg.Endpoint)

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, apperr.RemoteUnavailable("vector", "NewQdrantProvider", err)
	}

	return &QdrantProvider{client: client, collection: cfg.Collection}, nil
}

func u32Ptr(v uint32) *uint32 { return &v }

func splitEndpoint(endpoint string) (host string, port int) {
	host, port = "localhost", 6334
	if endpoint == "" {
		return host, port
	}
	parts := strings.SplitN(endpoint, ":", 2)
	host = parts[0]
	if len(parts) == 2 {
		var p int
		if _, err := fmt.Sscanf(parts[1], "%d", &p); err == nil && p > 0 {
			port = p
		}
	}
	return host, port
}

func (p *QdrantProvider) ensureCollection(ctx context.Context, dimension int) error {
	exists, err := p.client.CollectionExists(ctx, p.collection)
	if err != nil {
		return apperr.RemoteUnavailable("vector", "ensureCollection", err)
	}
	if exists {
		return nil
	}

	err = p.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: p.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return apperr.RemoteUnavailable("vector", "ensureCollection", err)
	}
	return nil
}

// Upsert implements Provider.
func (p *QdrantProvider) Upsert(ctx context.Context, id string, vector []float32, text string, metadata map[string]any) error {
	if err := p.ensureCollection(ctx, len(vector)); err != nil {
		return err
	}

	payload := make(map[string]*qdrant.Value, len(metadata)+1)
	val, err := qdrant.NewValue(text)
	if err != nil {
		return apperr.Validation("vector", "Upsert", "text payload could not be encoded")
	}
	payload["content"] = val
	for key, value := range metadata {
		v, err := qdrant.NewValue(value)
		if err != nil {
			continue
		}
		payload[key] = v
	}

	point := &qdrant.PointStruct{
		Id:      qdrant.NewID(id),
		Vectors: qdrant.NewVectors(vector...),
		Payload: payload,
	}

	_, err = p.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: p.collection,
		Points:         []*qdrant.PointStruct{point},
	})
	if err != nil {
		return apperr.RemoteUnavailable("vector", "Upsert", err)
	}
	return nil
}

// VectorSearch implements Provider.
func (p *QdrantProvider) VectorSearch(ctx context.Context, queryVec []float32, k int, filter *Filter) ([]Result, error) {
	req := &qdrant.SearchPoints{
		CollectionName: p.collection,
		Vector:         queryVec,
		Limit:          uint64(k),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if filter != nil {
		req.Filter = buildQdrantFilter(*filter)
	}

	resp, err := p.client.GetPointsClient().Search(ctx, req)
	if err != nil {
		return nil, apperr.RemoteUnavailable("vector", "VectorSearch", err)
	}

	results := make([]Result, 0, len(resp.Result))
	for _, point := range resp.Result {
		results = append(results, resultFromScoredPoint(point))
	}
	return results, nil
}

// BM25Search implements Provider by reading the first scrollPageSize points
// of the filtered subset of the collection and ranking them with an
// in-process term-frequency score, since Qdrant's gRPC API has no native
// full-text ranking. Later pages are not read. The structured filter is
// still pushed down to Scroll; only the ranking itself is client-side.
func (p *QdrantProvider) BM25Search(ctx context.Context, queryText string, k int, filter *Filter) ([]Result, error) {
	terms := tokenize(queryText)
	if len(terms) == 0 {
		return nil, nil
	}

	req := &qdrant.ScrollPoints{
		CollectionName: p.collection,
		Limit:          u32Ptr(scrollPageSize),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if filter != nil {
		req.Filter = buildQdrantFilter(*filter)
	}

	resp, err := p.client.Scroll(ctx, req)
	if err != nil {
		return nil, apperr.RemoteUnavailable("vector", "BM25Search", err)
	}

	scored := make([]Result, 0, len(resp))
	for _, point := range resp {
		result := resultFromRetrievedPoint(point)
		result.Score = termFrequencyScore(result.Text, terms)
		if result.Score > 0 {
			scored = append(scored, result)
		}
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// HybridSearch implements Provider by running VectorSearch and BM25Search
// independently, then combining scores by Alpha and re-sorting. This is a
// client-side rank fusion rather than a native Qdrant hybrid query.
func (p *QdrantProvider) HybridSearch(ctx context.Context, queryText string, queryVec []float32, opts HybridOptions) ([]Result, error) {
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
func (p *QdrantProvider) DeleteBySource(ctx context.Context, source string) error {
	filter := buildQdrantFilter(Equal("source", source))
	_, err := p.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: p.collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{Filter: filter},
		},
	})
	if err != nil {
		return apperr.RemoteUnavailable("vector", "DeleteBySource", err)
	}
	return nil
}

// ResetCollection implements Provider.
func (p *QdrantProvider) ResetCollection(ctx context.Context) error {
	exists, err := p.client.CollectionExists(ctx, p.collection)
	if err != nil {
		return apperr.RemoteUnavailable("vector", "ResetCollection", err)
	}
	if exists {
		if err := p.client.DeleteCollection(ctx, p.collection); err != nil {
			return apperr.RemoteUnavailable("vector", "ResetCollection", err)
		}
	}
	return nil
}

// Stats implements Provider.
func (p *QdrantProvider) Stats(ctx context.Context) (Stats, error) {
	info, err := p.client.GetCollectionInfo(ctx, p.collection)
	if err != nil {
		return Stats{}, apperr.RemoteUnavailable("vector", "Stats", err)
	}

	stats := Stats{TotalChunks: int(info.GetPointsCount()), CountsByType: map[string]int{}}

	resp, err := p.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: p.collection,
		Limit:          u32Ptr(scrollPageSize),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return stats, nil
	}
	for _, point := range resp {
		result := resultFromRetrievedPoint(point)
		if docType, ok := result.Metadata["type"].(string); ok {
			stats.CountsByType[docType]++
		}
	}
	return stats, nil
}

// SupportsOrFilter implements Provider. Qdrant's Filter.Should clause
// natively expresses Or.
func (p *QdrantProvider) SupportsOrFilter() bool { return true }

// Close implements Provider.
func (p *QdrantProvider) Close() error { return p.client.Close() }

func buildQdrantFilter(f Filter) *qdrant.Filter {
	switch f.Operator {
	case OpAnd:
		var must []*qdrant.Condition
		for _, child := range f.Children {
			must = append(must, nestedCondition(child))
		}
		return &qdrant.Filter{Must: must}
	case OpOr:
		var should []*qdrant.Condition
		for _, child := range f.Children {
			should = append(should, nestedCondition(child))
		}
		return &qdrant.Filter{Should: should}
	default:
		return &qdrant.Filter{Must: []*qdrant.Condition{nestedCondition(f)}}
	}
}

func nestedCondition(f Filter) *qdrant.Condition {
	if f.Operator == OpAnd || f.Operator == OpOr {
		return &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Filter{Filter: buildQdrantFilter(f)},
		}
	}

	val, err := qdrant.NewValue(f.Value)
	if err != nil {
		return &qdrant.Condition{}
	}
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key: f.Path,
				Match: &qdrant.Match{
					MatchValue: &qdrant.Match_Keyword{Keyword: val.GetStringValue()},
				},
			},
		},
	}
}

func resultFromScoredPoint(point *qdrant.ScoredPoint) Result {
	metadata := decodePayload(point.Payload)
	text, _ := metadata["content"].(string)
	return Result{
		ChunkID:  pointIDString(point.Id),
		Text:     text,
		Score:    distanceToScore(1 - float64(point.Score)),
		Metadata: metadata,
	}
}

func resultFromRetrievedPoint(point *qdrant.RetrievedPoint) Result {
	metadata := decodePayload(point.Payload)
	text, _ := metadata["content"].(string)
	return Result{
		ChunkID:  pointIDString(point.Id),
		Text:     text,
		Metadata: metadata,
	}
}

func pointIDString(id *qdrant.PointId) string {
	if id == nil || id.PointIdOptions == nil {
		return ""
	}
	switch v := id.PointIdOptions.(type) {
	case *qdrant.PointId_Uuid:
		return v.Uuid
	case *qdrant.PointId_Num:
		return fmt.Sprintf("%d", v.Num)
	}
	return ""
}

func decodePayload(payload map[string]*qdrant.Value) map[string]any {
	metadata := make(map[string]any, len(payload))
	for key, value := range payload {
		switch v := value.Kind.(type) {
		case *qdrant.Value_StringValue:
			metadata[key] = v.StringValue
		case *qdrant.Value_IntegerValue:
			metadata[key] = v.IntegerValue
		case *qdrant.Value_DoubleValue:
			metadata[key] = v.DoubleValue
		case *qdrant.Value_BoolValue:
			metadata[key] = v.BoolValue
		case *qdrant.Value_ListValue:
			if v.ListValue == nil {
				continue
			}
			list := make([]any, len(v.ListValue.Values))
			for i, item := range v.ListValue.Values {
				if s, ok := item.Kind.(*qdrant.Value_StringValue); ok {
					list[i] = s.StringValue
				}
			}
			metadata[key] = list
		}
	}
	return metadata
}

// tokenize lowercases and splits on non-alphanumeric runs.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	return fields
}

// termFrequencyScore is a simplified BM25-shaped score: raw term frequency
// normalized by document length, summed across query terms. It ranks
// documents the way BM25 would for short knowledge-base chunks without
// needing corpus-wide document frequency statistics.
func termFrequencyScore(text string, queryTerms []string) float64 {
	if text == "" {
		return 0
	}
	docTerms := tokenize(text)
	if len(docTerms) == 0 {
		return 0
	}

	counts := make(map[string]int, len(docTerms))
	for _, t := range docTerms {
		counts[t]++
	}

	const k1 = 1.2
	var score float64
	docLen := float64(len(docTerms))
	for _, qt := range queryTerms {
		tf := float64(counts[qt])
		if tf == 0 {
			continue
		}
		score += (tf * (k1 + 1)) / (tf + k1*(0.5+0.5*docLen/avgDocLenEstimate))
	}
	return score
}

// avgDocLenEstimate approximates the corpus average document length in
// tokens for BM25's length-normalization term. Chunks are token-budgeted to
// roughly this size, so a fixed estimate avoids a corpus-wide scan.
const avgDocLenEstimate = 150

var _ Provider = (*QdrantProvider)(nil)

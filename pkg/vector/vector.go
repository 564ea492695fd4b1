// Package vector defines Aletheia's vector store contract — dense search,
// keyword (BM25) search, and a weighted hybrid of both — along with the
// structured filter predicates every backend must push down to the store.
package vector

import "context"

// Operator identifies how a Filter's Value is compared against a stored
// field, or how its Children combine.
type Operator string

const (
	OpEqual Operator = "Equal"
	OpAnd   Operator = "And"
	OpOr    Operator = "Or"
)

// Filter is a structured predicate over chunk metadata. Equal compares
// Path against Value; And/Or combine Children. Backends must push Filter
// down to the store and must not filter post-hoc except to enforce a
// result limit.
type Filter struct {
	Path     string
	Operator Operator
	Value    any
	Children []Filter
}

// Equal builds a leaf Equal filter.
func Equal(path string, value any) Filter {
	return Filter{Path: path, Operator: OpEqual, Value: value}
}

// And combines filters with AND semantics.
func And(filters ...Filter) Filter {
	return Filter{Operator: OpAnd, Children: filters}
}

// Or combines filters with OR semantics. Not every backend can push an Or
// filter down natively; see Provider.SupportsOrFilter.
func Or(filters ...Filter) Filter {
	return Filter{Operator: OpOr, Children: filters}
}

// Result is a single scored match. Score is normalized to [0, 1]
// regardless of the backend's native distance metric.
type Result struct {
	ChunkID  string
	Text     string
	Score    float64
	Metadata map[string]any
}

// Stats summarizes a collection's contents for the admin API.
type Stats struct {
	TotalChunks  int
	CountsByType map[string]int
}

// Provider is a vector store backend. Implementations own one collection
// and are responsible for keeping its stored dimension and model
// identifier consistent across every Upsert.
type Provider interface {
	// Upsert writes or overwrites a chunk's vector and metadata. Upsert is
	// idempotent on the chunk's ID.
	Upsert(ctx context.Context, id string, vector []float32, text string, metadata map[string]any) error

	// VectorSearch returns the k nearest neighbors to queryVec, optionally
	// restricted by filter.
	VectorSearch(ctx context.Context, queryVec []float32, k int, filter *Filter) ([]Result, error)

	// BM25Search returns the k best keyword matches for queryText,
	// optionally restricted by filter.
	BM25Search(ctx context.Context, queryText string, k int, filter *Filter) ([]Result, error)

	// HybridSearch blends vector and keyword search. Alpha controls the
	// weighting: 1 is pure vector, 0 is pure BM25.
	HybridSearch(ctx context.Context, queryText string, queryVec []float32, opts HybridOptions) ([]Result, error)

	// DeleteBySource removes every chunk whose "source" metadata field
	// equals source, for single-file re-ingestion.
	DeleteBySource(ctx context.Context, source string) error

	// ResetCollection destroys and recreates the collection, discarding
	// all stored chunks.
	ResetCollection(ctx context.Context) error

	// Stats reports the collection's size and per-type breakdown.
	Stats(ctx context.Context) (Stats, error)

	// SupportsOrFilter reports whether this backend can push a compound
	// Or filter down natively. Callers that need Or semantics against a
	// backend that returns false must batch one Equal-filtered query per
	// branch and union the results instead.
	SupportsOrFilter() bool

	Close() error
}

// HybridOptions configures HybridSearch.
type HybridOptions struct {
	Alpha  float64
	K      int
	Filter *Filter
}

// distanceToScore converts a cosine distance in [0, 2] to a similarity
// score in [0, 1], per the spec's score = 1 - distance convention.
func distanceToScore(distance float64) float64 {
	score := 1 - distance
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

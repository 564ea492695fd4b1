// Package cache provides Aletheia's Redis-backed key-value cache: TTL'd
// storage for embeddings, search results, and query rewrites, plus a
// fixed-window rate-limit counter.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math"
	"time"
)

const (
	// SearchTTL is how long a cached search result stays valid.
	SearchTTL = time.Hour
	// EmbeddingTTL is how long a cached embedding stays valid.
	EmbeddingTTL = 24 * time.Hour
	// QueryRewriteTTL is how long a cached query rewrite stays valid.
	QueryRewriteTTL = time.Hour
)

// Store is the cache adapter's public contract. It satisfies
// pkg/embed.Cache's Get/Set shape directly, so a Store can front an
// embed.Client without an adapter shim.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Allow increments the rate-limit counter for identifier and reports
	// whether the request is allowed under limit within window. The
	// counter's expiry is set on its first increment in the window.
	Allow(ctx context.Context, identifier string, limit int, window time.Duration) (allowed bool, remaining int, err error)

	// Reset clears every key the store owns, for the admin rebuild
	// endpoint.
	Reset(ctx context.Context) error

	// TotalKeys reports the number of keys currently stored, for the
	// admin stats endpoint.
	TotalKeys(ctx context.Context) (int, error)

	Close() error
}

// SearchKey builds the cache key for a vector-search result, hashed from
// the serialized query vector.
func SearchKey(queryVec []float32) string {
	return "search:" + hashFloats(queryVec)
}

// EmbeddingKey builds the cache key for a single text's embedding.
func EmbeddingKey(text, model string) string {
	return "embedding:" + hashText(model+"\x00"+text)
}

// QueryRewriteKey builds the cache key for a rewritten query.
func QueryRewriteKey(query string) string {
	return "query-rewrite:" + hashText(query)
}

// RateLimitKey builds the Redis key for a rate-limit counter.
func RateLimitKey(identifier string) string {
	return "rate-limit:" + identifier
}

func hashText(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}

func hashFloats(vec []float32) string {
	buf := make([]byte, 4*len(vec))
	for i, f := range vec {
		bits := math.Float32bits(f)
		buf[i*4] = byte(bits)
		buf[i*4+1] = byte(bits >> 8)
		buf[i*4+2] = byte(bits >> 16)
		buf[i*4+3] = byte(bits >> 24)
	}
	return hashText(string(buf))
}

// Package embed provides Aletheia's embedding client: a cache-fronted,
// order-preserving wrapper around a remote embedding model provider.
package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"time"

	"github.com/aletheia-kb/aletheia/pkg/apperr"
)

// maxBatchSize is the largest batch EmbedDocuments will send to a
// Provider in one call.
const maxBatchSize = 128

// cacheTTL is how long a cached embedding remains valid.
const cacheTTL = 24 * time.Hour

// Provider is a remote embedding model. Implementations must preserve
// input/output order in EmbedBatch and return apperr-typed errors so
// callers can distinguish retryable failures from bad configuration.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	ModelName() string
}

// Cache is the subset of pkg/cache's Store used to memoize embeddings.
// Defined here, rather than imported from pkg/cache, so pkg/embed has no
// dependency on the cache's transport (redis).
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Client is the embedding client the rest of Aletheia depends on. It
// consults Cache before calling Provider, and writes cache misses back
// with cacheTTL.
type Client struct {
	provider Provider
	cache    Cache
}

// New builds a Client around provider. cache may be nil, in which case
// every call reaches the provider directly.
func New(provider Provider, cache Cache) *Client {
	return &Client{provider: provider, cache: cache}
}

// Embed returns text's embedding, using the cache when available.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	key := cacheKey(text, c.provider.ModelName())

	if c.cache != nil {
		if raw, hit, err := c.cache.Get(ctx, key); err == nil && hit {
			if vec, ok := decodeVector(raw); ok {
				return vec, nil
			}
		}
	}

	vec, err := c.provider.Embed(ctx, text)
	if err != nil {
		return nil, apperr.RemoteUnavailable("embed", "Embed", err)
	}

	if c.cache != nil {
		_ = c.cache.Set(ctx, key, encodeVector(vec), cacheTTL)
	}

	return vec, nil
}

// EmbedBatch embeds texts, preserving input/output order. Each element is
// looked up in the cache independently; only cache misses are sent to the
// provider, in a single batched call per ≤128-item window.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return c.embedDocuments(ctx, texts, nil)
}

// EmbedDocuments is EmbedBatch with an optional progress callback, invoked
// after each underlying provider batch completes with the number of texts
// embedded so far.
func (c *Client) EmbedDocuments(ctx context.Context, texts []string, progress func(done, total int)) ([][]float32, error) {
	return c.embedDocuments(ctx, texts, progress)
}

func (c *Client) embedDocuments(ctx context.Context, texts []string, progress func(done, total int)) ([][]float32, error) {
	results := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string

	if c.cache != nil {
		for i, text := range texts {
			key := cacheKey(text, c.provider.ModelName())
			if raw, hit, err := c.cache.Get(ctx, key); err == nil && hit {
				if vec, ok := decodeVector(raw); ok {
					results[i] = vec
					continue
				}
			}
			missIdx = append(missIdx, i)
			missTexts = append(missTexts, text)
		}
	} else {
		for i, text := range texts {
			missIdx = append(missIdx, i)
			missTexts = append(missTexts, text)
		}
	}

	done := len(texts) - len(missTexts)
	if progress != nil {
		progress(done, len(texts))
	}

	for start := 0; start < len(missTexts); start += maxBatchSize {
		end := start + maxBatchSize
		if end > len(missTexts) {
			end = len(missTexts)
		}

		vectors, err := c.provider.EmbedBatch(ctx, missTexts[start:end])
		if err != nil {
			return nil, apperr.RemoteUnavailable("embed", "EmbedDocuments", err)
		}
		if len(vectors) != end-start {
			return nil, apperr.RemoteBadResponse("embed", "EmbedDocuments",
				fmt.Sprintf("provider returned %d vectors for %d inputs", len(vectors), end-start), nil)
		}

		for j, vec := range vectors {
			idx := missIdx[start+j]
			results[idx] = vec
			if c.cache != nil {
				key := cacheKey(missTexts[start+j], c.provider.ModelName())
				_ = c.cache.Set(ctx, key, encodeVector(vec), cacheTTL)
			}
		}

		done += end - start
		if progress != nil {
			progress(done, len(texts))
		}
	}

	return results, nil
}

// Dimension returns the provider's embedding dimension.
func (c *Client) Dimension() int { return c.provider.Dimension() }

// ModelName returns the provider's model identifier.
func (c *Client) ModelName() string { return c.provider.ModelName() }

// cosineSimilarity computes the cosine similarity of two equal-length
// vectors. It returns 0 for mismatched or zero-length inputs rather than
// panicking, since callers may compare vectors produced by different
// model generations during a migration.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// CosineSimilarity exposes cosineSimilarity for in-process rank fusion and
// testing.
func CosineSimilarity(a, b []float32) float64 {
	return cosineSimilarity(a, b)
}

func cacheKey(text, model string) string {
	h := sha256.Sum256([]byte(model + "\x00" + text))
	return "embedding:" + hex.EncodeToString(h[:])
}

func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, f := range vec {
		bits := math.Float32bits(f)
		buf[i*4] = byte(bits)
		buf[i*4+1] = byte(bits >> 8)
		buf[i*4+2] = byte(bits >> 16)
		buf[i*4+3] = byte(bits >> 24)
	}
	return buf
}

func decodeVector(buf []byte) ([]float32, bool) {
	if len(buf)%4 != 0 {
		return nil, false
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		bits := uint32(buf[i*4]) | uint32(buf[i*4+1])<<8 | uint32(buf[i*4+2])<<16 | uint32(buf[i*4+3])<<24
		vec[i] = math.Float32frombits(bits)
	}
	return vec, true
}

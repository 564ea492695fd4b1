// Package chunk splits a parsed Document into token-budgeted, overlap-aware
// Chunks — the atomic retrieval unit the rest of Aletheia embeds, indexes,
// and cites.
package chunk

import (
	"time"

	"github.com/aletheia-kb/aletheia/pkg/document"
)

// Chunk is the atomic retrieval unit. Text is always prefixed with its
// section heading so the chunk carries attribution even in isolation.
type Chunk struct {
	ID             string
	Text           string
	Source         string
	SectionHeading string
	ChunkIndex     int
	TotalChunks    int
	Type           document.Type
	Tags           []string
	CreatedAt      time.Time
}

// Config controls the chunking budget. Size is approximated in tokens,
// where one token is estimated as ceil(len(text)/4).
type Config struct {
	MaxTokens int
	Overlap   int
}

// DefaultConfig returns the spec's default budget: 600 tokens per chunk
// with 100 tokens of overlap between consecutive chunks.
func DefaultConfig() Config {
	return Config{MaxTokens: 600, Overlap: 100}
}

func (c *Config) setDefaults() {
	if c.MaxTokens <= 0 {
		c.MaxTokens = 600
	}
	if c.Overlap < 0 {
		c.Overlap = 100
	}
}

// estimateTokens approximates a token count as ceil(chars/4).
func estimateTokens(s string) int {
	if len(s) == 0 {
		return 0
	}
	return (len(s) + 3) / 4
}

package retrieval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aletheia-kb/aletheia/pkg/embed"
)

func TestMultiQuerySearch_UnionsAndSortsByScore(t *testing.T) {
	store := &fakeVectorStore{results: sampleResults()}
	embedder := embed.New(fakeEmbedProvider{}, nil)
	provider := &fakeLLM{generateText: "how do I organize notes\nwhat's a good note taking method"}
	engine := New(store, nil, embedder, provider, nil, nil)

	results, err := engine.MultiQuerySearch(context.Background(), "how to take notes", 5, nil)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.GreaterOrEqual(t, store.hybridCalls, 1)

	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score, "results should be sorted by descending score")
	}
}

func TestParseQueryLines_StripsBulletsAndQuotes(t *testing.T) {
	lines := parseQueryLines("- \"first query\"\n* second query\n1. third query\n\n")
	assert.Equal(t, []string{"first query", "second query", "third query"}, lines)
}

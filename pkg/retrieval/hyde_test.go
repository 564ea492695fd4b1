package retrieval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aletheia-kb/aletheia/pkg/embed"
)

func TestHyDESearch_EmbedsHypotheticalAnswerAndSearches(t *testing.T) {
	store := &fakeVectorStore{results: sampleResults()}
	embedder := embed.New(fakeEmbedProvider{}, nil)
	provider := &fakeLLM{generateText: "Flow state is a condition of deep, effortless focus."}
	engine := New(store, nil, embedder, provider, nil, nil)

	results, err := engine.HyDESearch(context.Background(), "what is flow state?", 5, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, store.vectorCalls)
	assert.NotEmpty(t, results)
}

func TestHyDESearch_EmptyQueryReturnsValidationError(t *testing.T) {
	store := &fakeVectorStore{results: sampleResults()}
	embedder := embed.New(fakeEmbedProvider{}, nil)
	provider := &fakeLLM{generateText: "answer"}
	engine := New(store, nil, embedder, provider, nil, nil)

	_, err := engine.HyDESearch(context.Background(), "", 5, nil)
	require.Error(t, err)
}

func TestHyDESearch_EmptyLLMResponseIsAnError(t *testing.T) {
	store := &fakeVectorStore{results: sampleResults()}
	embedder := embed.New(fakeEmbedProvider{}, nil)
	provider := &fakeLLM{generateText: ""}
	engine := New(store, nil, embedder, provider, nil, nil)

	_, err := engine.HyDESearch(context.Background(), "what is flow state?", 5, nil)
	require.Error(t, err)
}

package retrieval

import (
	"context"
	"fmt"
	"strings"

	"github.com/aletheia-kb/aletheia/pkg/apperr"
	"github.com/aletheia-kb/aletheia/pkg/llm"
	"github.com/aletheia-kb/aletheia/pkg/vector"
)

// HyDESearch implements Hypothetical Document Embeddings: instead of
// searching with the query's own embedding, it asks the LLM for a
// hypothetical answer, embeds that answer, and searches with the
// resulting vector — which tends to land closer to real relevant
// documents than a short question does. filter may be nil.
//
// Paper: "Precise Zero-Shot Dense Retrieval without Relevance Labels"
// https://arxiv.org/abs/2212.10496
func (e *Engine) HyDESearch(ctx context.Context, query string, limit int, filter *vector.Filter) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, apperr.Validation("retrieval", "HyDESearch", "query must not be empty")
	}
	if limit <= 0 {
		limit = 8
	}

	hypothetical, err := e.generateHypotheticalAnswer(ctx, query)
	if err != nil {
		return nil, err
	}

	vec, err := e.embedder.Embed(ctx, hypothetical)
	if err != nil {
		return nil, err
	}

	results, err := e.vectorStore.VectorSearch(ctx, vec, limit, filter)
	if err != nil {
		return nil, err
	}

	candidates := toCandidates(results)
	sortByScoreDesc(candidates)
	return toResults(take(candidates, limit)), nil
}

func (e *Engine) generateHypotheticalAnswer(ctx context.Context, query string) (string, error) {
	prompt := fmt.Sprintf(`Write a concise, first-person hypothetical answer to the following question, as if it were excerpted directly from a document that answers it well. Do not mention that it is hypothetical. Keep it to one or two short paragraphs.

Question: %s

Answer:`, llm.SanitizeInput(query))

	text, _, err := e.llm.Generate(ctx, []llm.Message{{Role: llm.RoleUser, Content: prompt}}, nil)
	if err != nil {
		return "", err
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", apperr.RemoteBadResponse("retrieval", "generateHypotheticalAnswer", "LLM returned an empty response", nil)
	}
	return text, nil
}

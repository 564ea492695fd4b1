package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aletheia-kb/aletheia/pkg/apperr"
	"github.com/aletheia-kb/aletheia/pkg/llm"
	"github.com/aletheia-kb/aletheia/pkg/rerank"
	"github.com/aletheia-kb/aletheia/pkg/vector"
)

// defaultMultiQueryVariants is how many alternative phrasings are
// generated alongside the original query.
const defaultMultiQueryVariants = 3

// MultiQuerySearch runs hybrid search across the original query and
// several LLM-generated rephrasings, unions the results by chunk
// identifier (keeping each result's best score across variants), and
// returns the top limit by score. Improves recall when the corpus uses
// different terminology than the user's phrasing. filter may be nil.
func (e *Engine) MultiQuerySearch(ctx context.Context, query string, limit int, filter *vector.Filter) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, apperr.Validation("retrieval", "MultiQuerySearch", "query must not be empty")
	}
	if limit <= 0 {
		limit = 8
	}

	queries, err := e.expandQuery(ctx, query, defaultMultiQueryVariants)
	if err != nil {
		slog.Warn("multi-query expansion failed, searching with the original query only", "error", err)
		queries = []string{query}
	}

	byID := make(map[string]rerank.Candidate)
	for _, q := range queries {
		vec, embedErr := e.embedder.Embed(ctx, q)
		if embedErr != nil {
			slog.Warn("multi-query embed failed", "query", q, "error", embedErr)
			continue
		}
		results, searchErr := e.vectorStore.HybridSearch(ctx, q, vec, vector.HybridOptions{Alpha: hybridAlpha, K: limit * overFetchFactor, Filter: filter})
		if searchErr != nil {
			slog.Warn("multi-query hybrid search failed", "query", q, "error", searchErr)
			continue
		}
		for _, c := range toCandidates(results) {
			if existing, ok := byID[c.ID]; !ok || c.Score > existing.Score {
				byID[c.ID] = c
			}
		}
	}

	combined := make([]rerank.Candidate, 0, len(byID))
	for _, c := range byID {
		combined = append(combined, c)
	}
	sortByScoreDesc(combined)
	return toResults(take(combined, limit)), nil
}

// expandQuery generates numVariations alternative phrasings of query,
// always including the original as the first element.
func (e *Engine) expandQuery(ctx context.Context, query string, numVariations int) ([]string, error) {
	prompt := fmt.Sprintf(`Generate %d alternative phrasings of the following search query. Each should use different wording or synonyms while preserving the original intent. Respond with only the alternatives, one per line, without numbering or bullets.

Original query: %s`, numVariations, llm.SanitizeInput(query))

	text, _, err := e.llm.Generate(ctx, []llm.Message{{Role: llm.RoleUser, Content: prompt}}, nil)
	if err != nil {
		return []string{query}, err
	}

	queries := []string{query}
	seen := map[string]bool{strings.ToLower(query): true}
	for _, line := range parseQueryLines(text) {
		if seen[strings.ToLower(line)] {
			continue
		}
		queries = append(queries, line)
		seen[strings.ToLower(line)] = true
		if len(queries) > numVariations {
			break
		}
	}
	return queries, nil
}

func parseQueryLines(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		for _, prefix := range []string{"-", "•", "*", "1.", "2.", "3.", "4.", "5."} {
			line = strings.TrimPrefix(line, prefix)
		}
		line = strings.TrimSpace(line)
		line = strings.Trim(line, `"'`)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

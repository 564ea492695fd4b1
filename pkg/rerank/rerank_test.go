package rerank

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestApplyMetadataBoost_FavorsDocumentationAndRecency(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	candidates := []Candidate{
		{ID: "old-doc", Text: "a", Type: "documentation", Score: 0.8, Created: now.Add(-2 * recencyHalfLife)},
		{ID: "fresh-research", Text: "b", Type: "research", Score: 0.8, Created: now},
	}

	boosted := ApplyMetadataBoost(candidates, now)

	assert.Equal(t, "fresh-research", boosted[0].ID, "a fresh research note should outrank a stale documentation page at equal base score")
	assert.Less(t, boosted[1].Score, boosted[0].Score)
}

func TestApplyMetadataBoost_NoCreatedTimeSkipsDecay(t *testing.T) {
	now := time.Now()
	candidates := []Candidate{{ID: "a", Score: 0.5, Type: "documentation"}}
	boosted := ApplyMetadataBoost(candidates, now)
	assert.InDelta(t, 0.5*1.15, boosted[0].Score, 1e-9)
}

func TestAverageMultiQuery_AveragesAcrossSets(t *testing.T) {
	sets := [][]Candidate{
		{{ID: "a", Score: 1.0}, {ID: "b", Score: 0.5}},
		{{ID: "a", Score: 0.6}},
	}
	merged := AverageMultiQuery(sets)

	byID := map[string]Candidate{}
	for _, c := range merged {
		byID[c.ID] = c
	}
	assert.InDelta(t, 0.8, byID["a"].Score, 1e-9)
	assert.InDelta(t, 0.5, byID["b"].Score, 1e-9)
}

func TestTruncate(t *testing.T) {
	candidates := []Candidate{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	assert.Len(t, truncate(candidates, 2), 2)
	assert.Len(t, truncate(candidates, 0), 3)
	assert.Len(t, truncate(candidates, 10), 3)
}

func TestClamp01(t *testing.T) {
	assert.Equal(t, 0.0, clamp01(-1))
	assert.Equal(t, 1.0, clamp01(2))
	assert.Equal(t, 0.5, clamp01(0.5))
}

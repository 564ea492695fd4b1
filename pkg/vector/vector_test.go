package vector

import "testing"

func TestDistanceToScore(t *testing.T) {
	tests := []struct {
		name     string
		distance float64
		want     float64
	}{
		{"identical", 0, 1},
		{"opposite", 2, 0},
		{"orthogonal", 1, 0},
		{"clamped_low", 3, 0},
		{"clamped_high", -1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := distanceToScore(tt.distance); got != tt.want {
				t.Errorf("distanceToScore(%v) = %v, want %v", tt.distance, got, tt.want)
			}
		})
	}
}

func TestTokenize(t *testing.T) {
	got := tokenize("Cognitive Load & Flow-State (2024)")
	want := []string{"cognitive", "load", "flow", "state", "2024"}
	if len(got) != len(want) {
		t.Fatalf("tokenize() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("tokenize()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestTermFrequencyScore(t *testing.T) {
	text := "the flow state is a cognitive state of deep focus"
	terms := tokenize("cognitive state")

	score := termFrequencyScore(text, terms)
	if score <= 0 {
		t.Fatalf("termFrequencyScore() = %v, want > 0", score)
	}

	noMatch := termFrequencyScore(text, tokenize("unrelated query words"))
	if noMatch != 0 {
		t.Errorf("termFrequencyScore() with no matching terms = %v, want 0", noMatch)
	}
}

func TestCollectEquals_FlattensAndFilter(t *testing.T) {
	f := And(Equal("type", "project"), Equal("tag", "chess"))
	where := flattenEqualFilter(&f)

	if where["type"] != "project" || where["tag"] != "chess" {
		t.Errorf("flattenEqualFilter() = %v", where)
	}
}

func TestCollectEquals_DropsOrBranch(t *testing.T) {
	f := Or(Equal("type", "project"), Equal("type", "research"))
	where := flattenEqualFilter(&f)

	if len(where) != 0 {
		t.Errorf("flattenEqualFilter() on an Or filter = %v, want empty (chromem has no native Or)", where)
	}
}

func TestFilterEqualValue(t *testing.T) {
	f := Equal("type", "research")
	v, ok := filterEqualValue(&f, "type")
	if !ok || v != "research" {
		t.Errorf("filterEqualValue() = (%q, %v), want (\"research\", true)", v, ok)
	}

	if _, ok := filterEqualValue(&f, "tag"); ok {
		t.Errorf("filterEqualValue() for absent path should return ok=false")
	}
}

func TestChromemHybridSearch_CombinesVectorAndKeywordScores(t *testing.T) {
	provider, err := NewChromemProvider(ChromemConfig{Collection: "test"})
	if err != nil {
		t.Fatalf("NewChromemProvider() error = %v", err)
	}
	defer provider.Close()

	if err := provider.Upsert(nil, "c1", []float32{1, 0, 0}, "cognitive load and flow state research", map[string]any{"type": "research"}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if err := provider.Upsert(nil, "c2", []float32{0, 1, 0}, "a completely unrelated chess opening", map[string]any{"type": "project"}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	results, err := provider.HybridSearch(nil, "cognitive flow", []float32{1, 0, 0}, HybridOptions{Alpha: 0.5, K: 2})
	if err != nil {
		t.Fatalf("HybridSearch() error = %v", err)
	}
	if len(results) == 0 {
		t.Fatal("HybridSearch() returned no results")
	}
	if results[0].ChunkID != "c1" {
		t.Errorf("HybridSearch() top result = %q, want c1", results[0].ChunkID)
	}
}

func TestChromemHybridSearch_AlphaExtremesMatchPureModeOrdering(t *testing.T) {
	provider, err := NewChromemProvider(ChromemConfig{Collection: "alpha-test"})
	if err != nil {
		t.Fatalf("NewChromemProvider() error = %v", err)
	}
	defer provider.Close()

	// c1 is the closer vector match (embedding-aligned with the query) but
	// shares no keyword with it; c2 is the weaker vector match but repeats
	// every query term, so BM25 ranks it first.
	if err := provider.Upsert(nil, "c1", []float32{1, 0, 0}, "unrelated chess opening theory", nil); err != nil {
		t.Fatalf("Upsert(c1) error = %v", err)
	}
	if err := provider.Upsert(nil, "c2", []float32{0, 0, 1}, "cognitive load cognitive flow cognitive research", nil); err != nil {
		t.Fatalf("Upsert(c2) error = %v", err)
	}

	queryVec := []float32{1, 0, 0}
	queryText := "cognitive flow research"

	vecOnly, err := provider.VectorSearch(nil, queryVec, 2, nil)
	if err != nil {
		t.Fatalf("VectorSearch() error = %v", err)
	}
	bm25Only, err := provider.BM25Search(nil, queryText, 2, nil)
	if err != nil {
		t.Fatalf("BM25Search() error = %v", err)
	}

	alphaOne, err := provider.HybridSearch(nil, queryText, queryVec, HybridOptions{Alpha: 1, K: 2})
	if err != nil {
		t.Fatalf("HybridSearch(alpha=1) error = %v", err)
	}
	alphaZero, err := provider.HybridSearch(nil, queryText, queryVec, HybridOptions{Alpha: 0, K: 2})
	if err != nil {
		t.Fatalf("HybridSearch(alpha=0) error = %v", err)
	}

	if len(vecOnly) == 0 || len(bm25Only) == 0 {
		t.Fatal("expected both pure-mode searches to return results")
	}
	if alphaOne[0].ChunkID != vecOnly[0].ChunkID {
		t.Errorf("HybridSearch(alpha=1) top = %q, want %q (pure vector order)", alphaOne[0].ChunkID, vecOnly[0].ChunkID)
	}
	if alphaZero[0].ChunkID != bm25Only[0].ChunkID {
		t.Errorf("HybridSearch(alpha=0) top = %q, want %q (pure BM25 order)", alphaZero[0].ChunkID, bm25Only[0].ChunkID)
	}
}

func TestChromemDeleteBySource_RemovesOnlyMatchingChunks(t *testing.T) {
	provider, err := NewChromemProvider(ChromemConfig{Collection: "delete-test"})
	if err != nil {
		t.Fatalf("NewChromemProvider() error = %v", err)
	}
	defer provider.Close()

	_ = provider.Upsert(nil, "a1", []float32{1, 0}, "keep this", map[string]any{"type": "project", "source": "keep.md"})
	_ = provider.Upsert(nil, "a2", []float32{0, 1}, "drop this", map[string]any{"type": "project", "source": "drop.md"})

	if err := provider.DeleteBySource(nil, "drop.md"); err != nil {
		t.Fatalf("DeleteBySource() error = %v", err)
	}

	stats, err := provider.Stats(nil)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.TotalChunks != 1 {
		t.Errorf("TotalChunks after DeleteBySource = %d, want 1", stats.TotalChunks)
	}

	results, err := provider.BM25Search(nil, "keep", 5, nil)
	if err != nil {
		t.Fatalf("BM25Search() error = %v", err)
	}
	if len(results) != 1 || results[0].ChunkID != "a1" {
		t.Errorf("BM25Search() after delete = %v, want only a1", results)
	}
}

func TestChromemStats_CountsByType(t *testing.T) {
	provider, err := NewChromemProvider(ChromemConfig{Collection: "stats-test"})
	if err != nil {
		t.Fatalf("NewChromemProvider() error = %v", err)
	}
	defer provider.Close()

	_ = provider.Upsert(nil, "a", []float32{1, 0}, "x", map[string]any{"type": "project"})
	_ = provider.Upsert(nil, "b", []float32{0, 1}, "y", map[string]any{"type": "project"})
	_ = provider.Upsert(nil, "c", []float32{1, 1}, "z", map[string]any{"type": "research"})

	stats, err := provider.Stats(nil)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.TotalChunks != 3 {
		t.Errorf("TotalChunks = %d, want 3", stats.TotalChunks)
	}
	if stats.CountsByType["project"] != 2 || stats.CountsByType["research"] != 1 {
		t.Errorf("CountsByType = %v", stats.CountsByType)
	}
}

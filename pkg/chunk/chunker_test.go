package chunk

import (
	"strings"
	"testing"

	"github.com/aletheia-kb/aletheia/pkg/document"
)

func TestChunk_SingleSmallSectionYieldsOneChunk(t *testing.T) {
	doc := &document.Document{
		Path: "notes.md",
		Type: document.TypeDocumentation,
		Sections: []document.Section{
			{Heading: "Intro", Level: 1, Body: "A short paragraph."},
		},
	}

	chunks := Chunk(doc, DefaultConfig())
	if len(chunks) != 1 {
		t.Fatalf("len(chunks) = %d, want 1", len(chunks))
	}
	if chunks[0].TotalChunks != 1 {
		t.Errorf("TotalChunks = %d, want 1", chunks[0].TotalChunks)
	}
	if !strings.HasPrefix(chunks[0].Text, "Intro") {
		t.Errorf("Text = %q, want heading prefix", chunks[0].Text)
	}
}

func TestChunk_EmptySectionSkipped(t *testing.T) {
	doc := &document.Document{
		Path: "notes.md",
		Sections: []document.Section{
			{Heading: "Empty", Body: "   "},
			{Heading: "Real", Body: "Some content here."},
		},
	}

	chunks := Chunk(doc, DefaultConfig())
	if len(chunks) != 1 {
		t.Fatalf("len(chunks) = %d, want 1", len(chunks))
	}
	if chunks[0].SectionHeading != "Real" {
		t.Errorf("SectionHeading = %q, want %q", chunks[0].SectionHeading, "Real")
	}
}

func TestChunk_LargeSectionSplitsWithOverlap(t *testing.T) {
	var body strings.Builder
	for i := 0; i < 50; i++ {
		body.WriteString("This is paragraph number ")
		body.WriteString(strings.Repeat("x", 20))
		body.WriteString(".\n\n")
	}

	doc := &document.Document{
		Path: "big.md",
		Sections: []document.Section{
			{Heading: "Big Section", Body: body.String()},
		},
	}

	cfg := Config{MaxTokens: 50, Overlap: 10}
	chunks := Chunk(doc, cfg)

	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if c.ChunkIndex != i {
			t.Errorf("chunk %d: ChunkIndex = %d, want %d", i, c.ChunkIndex, i)
		}
		if c.TotalChunks != len(chunks) {
			t.Errorf("chunk %d: TotalChunks = %d, want %d", i, c.TotalChunks, len(chunks))
		}
		if c.Source != "big.md" {
			t.Errorf("chunk %d: Source = %q, want %q", i, c.Source, "big.md")
		}
	}
}

func TestChunk_FencedCodeBlockStaysAtomic(t *testing.T) {
	body := "Some intro text.\n\n```go\nfunc main() {\n\n\tprintln(\"hi\")\n}\n```\n\nMore text after."

	doc := &document.Document{
		Path: "code.md",
		Sections: []document.Section{
			{Heading: "Snippet", Body: body},
		},
	}

	blocks := splitBlocks(body)
	found := false
	for _, b := range blocks {
		if strings.Contains(b, "```go") && strings.Contains(b, "```") && strings.Count(b, "```") == 2 {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a block containing the whole fenced code, got %v", blocks)
	}

	chunks := Chunk(doc, DefaultConfig())
	if len(chunks) != 1 {
		t.Fatalf("len(chunks) = %d, want 1", len(chunks))
	}
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"abcd", 1},
		{"abcde", 2},
		{strings.Repeat("a", 600), 150},
	}
	for _, tt := range tests {
		if got := estimateTokens(tt.text); got != tt.want {
			t.Errorf("estimateTokens(%q) = %d, want %d", tt.text, got, tt.want)
		}
	}
}

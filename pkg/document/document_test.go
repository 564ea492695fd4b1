package document

import (
	"testing"
)

func TestSplitFrontMatter(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		wantOK    bool
		wantRaw   string
		wantBody  string
	}{
		{
			name:     "with_front_matter",
			content:  "---\ntitle: Hello\ntype: project\n---\n# Heading\n\nBody text.\n",
			wantOK:   true,
			wantRaw:  "title: Hello\ntype: project",
			wantBody: "# Heading\n\nBody text.\n",
		},
		{
			name:     "without_front_matter",
			content:  "# Heading\n\nBody text.\n",
			wantOK:   false,
			wantBody: "# Heading\n\nBody text.\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, body, ok := splitFrontMatter(tt.content)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && raw != tt.wantRaw {
				t.Errorf("raw = %q, want %q", raw, tt.wantRaw)
			}
			if body != tt.wantBody {
				t.Errorf("body = %q, want %q", body, tt.wantBody)
			}
		})
	}
}

func TestInferType(t *testing.T) {
	tests := []struct {
		relPath string
		want    Type
	}{
		{"CORE/identity.md", TypeDocumentation},
		{"PROJECTS/aletheia/overview.md", TypeProject},
		{"PHILOSOPHY/ethics.md", TypePhilosophy},
		{"RESEARCH/notes.md", TypeResearch},
		{"MENTAL_ARTIFACTS/sketch.md", TypeResearch},
		{"unrelated/readme.md", TypeDocumentation},
		{"root.md", TypeDocumentation},
	}

	for _, tt := range tests {
		t.Run(tt.relPath, func(t *testing.T) {
			if got := inferType(tt.relPath); got != tt.want {
				t.Errorf("inferType(%q) = %v, want %v", tt.relPath, got, tt.want)
			}
		})
	}
}

func TestInferTags(t *testing.T) {
	tags := inferTags("PROJECTS/Chess_Engine/notes.md", "This covers neural network architecture for the chess engine.")

	want := map[string]bool{
		"chess engine": true,
		"neural":       true,
		"architecture": true,
		"chess":        true,
	}
	got := map[string]bool{}
	for _, tag := range tags {
		got[tag] = true
	}

	for tag := range want {
		if !got[tag] {
			t.Errorf("expected tag %q in %v", tag, tags)
		}
	}
}

func TestParseSections_NoHeadings(t *testing.T) {
	sections := parseSections("Just a paragraph with no headings.\n")
	if len(sections) != 1 {
		t.Fatalf("len(sections) = %d, want 1", len(sections))
	}
	if sections[0].Heading != mainContentHeading {
		t.Errorf("Heading = %q, want %q", sections[0].Heading, mainContentHeading)
	}
}

func TestParseSections_SplitsOnHeadings(t *testing.T) {
	body := "# First\n\nFirst body.\n\n## Second\n\nSecond body.\n"
	sections := parseSections(body)

	if len(sections) != 2 {
		t.Fatalf("len(sections) = %d, want 2", len(sections))
	}
	if sections[0].Heading != "First" || sections[0].Level != 1 {
		t.Errorf("sections[0] = %+v", sections[0])
	}
	if sections[1].Heading != "Second" || sections[1].Level != 2 {
		t.Errorf("sections[1] = %+v", sections[1])
	}
}

func TestParse_FrontMatterOverridesInference(t *testing.T) {
	content := "---\ntitle: Custom Title\ntype: research\ntags: [manual]\n---\n# Heading\n\nBody.\n"
	doc, err := Parse("/corpus/PROJECTS/x.md", "PROJECTS/x.md", []byte(content))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if doc.Title != "Custom Title" {
		t.Errorf("Title = %q, want %q", doc.Title, "Custom Title")
	}
	if doc.Type != TypeResearch {
		t.Errorf("Type = %v, want %v", doc.Type, TypeResearch)
	}

	found := false
	for _, tag := range doc.Tags {
		if tag == "manual" {
			found = true
		}
	}
	if !found {
		t.Errorf("Tags = %v, want to contain %q", doc.Tags, "manual")
	}
}

func TestParse_MalformedFrontMatterFails(t *testing.T) {
	content := "---\ntitle: [unterminated\n---\nBody.\n"
	_, err := Parse("/corpus/x.md", "x.md", []byte(content))
	if err == nil {
		t.Fatal("expected error for malformed front matter")
	}
}

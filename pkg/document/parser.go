package document

import (
	"bytes"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"

	"github.com/aletheia-kb/aletheia/pkg/apperr"
)

const mainContentHeading = "Main Content"

var markdownParser = goldmark.New(goldmark.WithExtensions(extension.GFM))

// Discover walks root recursively and returns the paths of every file with
// a ".md" extension, sorted in directory-walk order.
func Discover(root string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.EqualFold(filepath.Ext(path), ".md") {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, apperr.New(apperr.KindRemoteUnavailable, "document", "Discover", "failed to walk corpus root", err)
	}
	return paths, nil
}

// Parse reads and parses a single Markdown file into a Document. relPath
// is the file's path relative to the corpus root and drives type and tag
// inference; path is the path used to read the file from disk.
func Parse(path, relPath string, raw []byte) (*Document, error) {
	content := string(raw)

	fmRaw, body, hasFrontMatter := splitFrontMatter(content)

	var fm frontMatter
	var err error
	if hasFrontMatter {
		fm, err = parseFrontMatter(fmRaw)
		if err != nil {
			return nil, err
		}
	}

	doc := &Document{
		Path:     path,
		Raw:      content,
		Sections: parseSections(body),
	}

	if fm.Title != "" {
		doc.Title = fm.Title
	} else {
		doc.Title = titleFromFilename(relPath)
	}

	if fm.Type != "" {
		doc.Type = Type(fm.Type)
	} else {
		doc.Type = inferType(relPath)
	}

	doc.CreatedAt = parseDate(fm.Date)

	tags := inferTags(relPath, body)
	if len(fm.Tags) > 0 {
		tags = mergeTags(fm.Tags, tags)
	}
	doc.Tags = tags

	return doc, nil
}

func mergeTags(primary, secondary []string) []string {
	seen := make(map[string]bool)
	var merged []string
	for _, group := range [][]string{primary, secondary} {
		for _, tag := range group {
			tag = strings.TrimSpace(strings.ToLower(tag))
			if tag == "" || seen[tag] {
				continue
			}
			seen[tag] = true
			merged = append(merged, tag)
		}
	}
	return merged
}

func titleFromFilename(relPath string) string {
	base := filepath.Base(relPath)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = strings.NewReplacer("_", " ", "-", " ").Replace(base)
	return strings.TrimSpace(base)
}

// parseSections walks body's Markdown AST and splits it on headings: each
// heading closes the current Section and opens a new one. If body has no
// headings, the entire body becomes a single "Main Content" Section.
func parseSections(body string) []Section {
	source := []byte(body)
	root := markdownParser.Parser().Parse(text.NewReader(source))

	var sections []Section
	var current *Section
	var bodyBuf strings.Builder

	flush := func() {
		if current == nil {
			return
		}
		current.Body = strings.TrimSpace(bodyBuf.String())
		sections = append(sections, *current)
		bodyBuf.Reset()
	}

	_ = ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}

		switch node := n.(type) {
		case *ast.Heading:
			flush()
			heading := headingText(node, source)
			current = &Section{Heading: heading, Level: node.Level}
			return ast.WalkSkipChildren, nil

		case *ast.FencedCodeBlock, *ast.CodeBlock:
			bodyBuf.WriteString(blockSource(n, source))
			bodyBuf.WriteString("\n\n")
			return ast.WalkSkipChildren, nil

		case *ast.CodeSpan:
			bodyBuf.WriteString("`")
			bodyBuf.WriteString(string(nodeText(node, source)))
			bodyBuf.WriteString("`")
			return ast.WalkSkipChildren, nil

		case *ast.Text:
			bodyBuf.Write(node.Segment.Value(source))
			if node.SoftLineBreak() || node.HardLineBreak() {
				bodyBuf.WriteString("\n")
			}

		case *ast.Paragraph, *ast.ListItem, *ast.List:
			// Structural containers; their text/code children are
			// collected individually above.
		}

		return ast.WalkContinue, nil
	})

	flush()

	if len(sections) == 0 {
		return []Section{{
			Heading: mainContentHeading,
			Level:   0,
			Body:    strings.TrimSpace(body),
		}}
	}

	return sections
}

// headingText concatenates the text of a heading's inline children.
func headingText(h *ast.Heading, source []byte) string {
	var buf bytes.Buffer
	for c := h.FirstChild(); c != nil; c = c.NextSibling() {
		if t, ok := c.(*ast.Text); ok {
			buf.Write(t.Segment.Value(source))
		}
	}
	return strings.TrimSpace(buf.String())
}

// nodeText concatenates the segments of n's direct child Text nodes, used
// for inline nodes like CodeSpan that store text as child Text segments.
func nodeText(n ast.Node, source []byte) []byte {
	var buf bytes.Buffer
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if t, ok := c.(*ast.Text); ok {
			buf.Write(t.Segment.Value(source))
		}
	}
	return buf.Bytes()
}

// blockSource returns the raw source text spanned by a block node's Lines,
// preserving fenced code blocks intact (including fences).
func blockSource(n ast.Node, source []byte) string {
	lineser, ok := n.(interface{ Lines() *text.Segments })
	if !ok {
		return ""
	}
	lines := lineser.Lines()
	var buf bytes.Buffer
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		buf.Write(seg.Value(source))
	}

	if fcb, ok := n.(*ast.FencedCodeBlock); ok {
		lang := string(fcb.Language(source))
		return "```" + lang + "\n" + buf.String() + "```"
	}
	return buf.String()
}

package document

import (
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aletheia-kb/aletheia/pkg/apperr"
)

// frontMatter holds the recognized front-matter keys. Unrecognized keys
// are preserved in Extra so callers can round-trip them if needed.
type frontMatter struct {
	Title string   `yaml:"title"`
	Type  string   `yaml:"type"`
	Tags  []string `yaml:"tags"`
	Date  string   `yaml:"date"`
	Extra map[string]any `yaml:",inline"`
}

const frontMatterDelim = "---"

// splitFrontMatter separates YAML front matter from the document body. If
// the content does not begin with a front-matter block, the entire content
// is returned as body and ok is false.
func splitFrontMatter(content string) (raw string, body string, ok bool) {
	trimmed := strings.TrimLeft(content, "\r\n")
	if !strings.HasPrefix(trimmed, frontMatterDelim) {
		return "", content, false
	}

	rest := trimmed[len(frontMatterDelim):]
	rest = strings.TrimPrefix(rest, "\r\n")
	rest = strings.TrimPrefix(rest, "\n")

	end := strings.Index(rest, "\n"+frontMatterDelim)
	if end == -1 {
		return "", content, false
	}

	raw = rest[:end]
	remainder := rest[end+len("\n"+frontMatterDelim):]
	remainder = strings.TrimPrefix(remainder, "\r\n")
	remainder = strings.TrimPrefix(remainder, "\n")

	return raw, remainder, true
}

// parseFrontMatter parses a front-matter block, malformed YAML surfaces as
// a KindParseFailure error so the caller can skip the file and continue.
func parseFrontMatter(raw string) (frontMatter, error) {
	var fm frontMatter
	if strings.TrimSpace(raw) == "" {
		return fm, nil
	}
	if err := yaml.Unmarshal([]byte(raw), &fm); err != nil {
		return fm, apperr.ParseFailure("document", "parseFrontMatter", "malformed front matter", err)
	}
	return fm, nil
}

// parseDate attempts a handful of common date layouts; an unparsable date
// is not an error, it simply leaves CreatedAt zero.
func parseDate(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	layouts := []string{time.RFC3339, "2006-01-02", "2006-01-02T15:04:05", "January 2, 2006"}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

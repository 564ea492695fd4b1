package retrieval

import (
	"fmt"
	"strings"
)

// FormatContextBlock renders results as a numbered context block with a
// citation instruction, for embedding in the orchestrator's system
// prompt. Each entry cites as [source:section].
func FormatContextBlock(results []Result) string {
	if len(results) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("Context:\n")
	for i, r := range results {
		fmt.Fprintf(&b, "%d. [%s:%s] %s\n", i+1, r.Source, r.Section, r.Text)
	}
	b.WriteString("\nCite any fact drawn from the context above inline as [source:section].")
	return b.String()
}

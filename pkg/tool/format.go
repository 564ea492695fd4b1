package tool

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FormatResult renders a tool's result as Markdown for inclusion in the
// assistant's "Tool Results" section. A failed result renders its error
// rather than its (absent) data.
func FormatResult(name string, result Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**%s**", name)
	if !result.Success {
		fmt.Fprintf(&b, ": failed — %s\n", result.Error)
		return b.String()
	}
	b.WriteString("\n\n")
	b.WriteString(formatData(result.Data))
	b.WriteString("\n")
	return b.String()
}

func formatData(data any) string {
	switch v := data.(type) {
	case nil:
		return "(no output)"
	case string:
		return v
	case []any:
		var b strings.Builder
		for _, item := range v {
			fmt.Fprintf(&b, "- %s\n", formatScalar(item))
		}
		return strings.TrimRight(b.String(), "\n")
	case map[string]any:
		raw, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return "```json\n" + string(raw) + "\n```"
	default:
		return formatScalar(v)
	}
}

func formatScalar(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

package llm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendJSONInstruction_IncludesSchema(t *testing.T) {
	schema := map[string]any{"type": "object", "properties": map[string]any{"intent": map[string]any{"type": "string"}}}
	out := appendJSONInstruction([]Message{{Role: RoleUser, Content: "classify this"}}, schema)

	require.Len(t, out, 2)
	assert.Equal(t, RoleUser, out[0].Role)
	last := out[len(out)-1]
	assert.Equal(t, RoleSystem, last.Role)
	assert.Contains(t, last.Content, "JSON Schema")
	assert.True(t, strings.Contains(last.Content, "intent"))
}

func TestAppendJSONInstruction_NilSchemaStillInstructs(t *testing.T) {
	out := appendJSONInstruction([]Message{{Role: RoleUser, Content: "hi"}}, nil)
	last := out[len(out)-1]
	assert.Equal(t, RoleSystem, last.Role)
	assert.Contains(t, last.Content, "JSON")
}

func TestConvertOpenAIToolCalls_EmptyInput(t *testing.T) {
	out := convertOpenAIToolCalls(nil)
	assert.Empty(t, out)
}

func TestToStringSlice(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, toStringSlice([]any{"a", "b", 1}))
	assert.Nil(t, toStringSlice("not a slice"))
}

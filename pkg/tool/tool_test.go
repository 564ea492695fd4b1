package tool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommand_FlagsAndPositionalFoldIntoInput(t *testing.T) {
	call, err := ParseCommand("/search --mode=semantic --limit 5 hello world")
	require.NoError(t, err)
	assert.Equal(t, "/search", call.Command)
	assert.Equal(t, "semantic", call.Args["mode"])
	assert.Equal(t, "5", call.Args["limit"])
	assert.Equal(t, "hello world", call.Args["input"])
}

func TestParseCommand_SecondPositionalRunGoesToQueryWhenInputTaken(t *testing.T) {
	call, err := ParseCommand("/search --input=explicit trailing words")
	require.NoError(t, err)
	assert.Equal(t, "explicit", call.Args["input"])
	assert.Equal(t, "trailing words", call.Args["query"])
}

func TestParseCommand_BareFlagBecomesBooleanTrue(t *testing.T) {
	call, err := ParseCommand("/neural --verbose")
	require.NoError(t, err)
	assert.Equal(t, "true", call.Args["verbose"])
}

func TestParseCommand_RequiresSlashPrefix(t *testing.T) {
	_, err := ParseCommand("search hello")
	require.Error(t, err)
}

func TestValidate_MissingRequiredParameterIsNamed(t *testing.T) {
	params := []Param{{Name: "query", Type: ParamString, Required: true}}
	_, err := Validate(params, map[string]string{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "query")
}

func TestValidate_ExcessParametersAreIgnoredNotErrored(t *testing.T) {
	params := []Param{{Name: "query", Type: ParamString, Required: true}}
	args, err := Validate(params, map[string]string{"query": "notes", "extra": "whatever"})
	require.NoError(t, err)
	assert.Equal(t, "notes", args["query"])
	assert.Equal(t, "whatever", args["extra"])
}

func TestValidate_CoercesNumberBoolAndArray(t *testing.T) {
	params := []Param{
		{Name: "limit", Type: ParamNumber},
		{Name: "rerank", Type: ParamBool},
		{Name: "tags", Type: ParamArray},
	}
	args, err := Validate(params, map[string]string{
		"limit":  "10",
		"rerank": "true",
		"tags":   "go, rag, notes",
	})
	require.NoError(t, err)
	assert.Equal(t, 10.0, args["limit"])
	assert.Equal(t, true, args["rerank"])
	assert.Equal(t, []string{"go", "rag", "notes"}, args["tags"])
}

func TestValidate_ArrayAcceptsWhitespaceSeparatedWhenNoComma(t *testing.T) {
	params := []Param{{Name: "tags", Type: ParamArray}}
	args, err := Validate(params, map[string]string{"tags": "go rag notes"})
	require.NoError(t, err)
	assert.Equal(t, []string{"go", "rag", "notes"}, args["tags"])
}

func TestValidate_InvalidNumberIsAValidationError(t *testing.T) {
	params := []Param{{Name: "limit", Type: ParamNumber}}
	_, err := Validate(params, map[string]string{"limit": "not-a-number"})
	require.Error(t, err)
}

func TestRegistry_RegisterAndLookupByNameAndCommand(t *testing.T) {
	r := NewRegistry()
	r.Register(Descriptor{Name: "search_knowledge", Command: "/search"})

	byName, ok := r.Get("search_knowledge")
	require.True(t, ok)
	assert.Equal(t, "/search", byName.Command)

	byCommand, ok := r.GetByCommand("/search")
	require.True(t, ok)
	assert.Equal(t, "search_knowledge", byCommand.Name)

	_, ok = r.Get("missing")
	assert.False(t, ok)
}

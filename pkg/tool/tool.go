// Package tool implements Aletheia's tool registry and dispatcher: a
// registry of immutable Tool Descriptors, a slash-command parser, parameter
// validation with type coercion, and dispatch to either a local handler or
// a remote HTTP endpoint.
package tool

import (
	"strconv"
	"strings"

	"github.com/aletheia-kb/aletheia/pkg/apperr"
	"github.com/aletheia-kb/aletheia/pkg/registry"
)

// ParamType is the declared type of a tool parameter, used for validation
// and coercion.
type ParamType string

const (
	ParamString ParamType = "string"
	ParamNumber ParamType = "number"
	ParamArray  ParamType = "array"
	ParamBool   ParamType = "bool"
)

// Param describes one named parameter a tool accepts.
type Param struct {
	Name     string
	Type     ParamType
	Required bool
}

// Handler is a local in-process tool implementation. It receives already
// validated and coerced arguments.
type Handler func(args map[string]any) (Result, error)

// Descriptor is an immutable registration of a tool: its name, its
// parameter schema, and how to dispatch to it. Exactly one of Handler or
// Endpoint is expected to be set; Handler takes precedence if both are.
type Descriptor struct {
	Name        string
	Command     string // slash command token, e.g. "/search"; empty if LLM-function-call only
	Description string
	Params      []Param
	Handler     Handler // local dispatch
	Endpoint    string  // remote dispatch URL, used when Handler is nil
	Token       string  // bearer credential for remote dispatch
}

// Result is the outcome of a tool execution.
type Result struct {
	Success bool
	Data    any
	Error   string
}

// Registry holds the set of registered tool descriptors, built on the
// shared generic BaseRegistry keyed by name, plus a secondary index from
// slash command token to name.
type Registry struct {
	base      *registry.BaseRegistry[Descriptor]
	byCommand map[string]string // command -> name
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		base:      registry.NewBaseRegistry[Descriptor](),
		byCommand: make(map[string]string),
	}
}

// Register adds a descriptor to the registry. A later call with the same
// Name replaces an earlier one, so callers can reconfigure tools by
// re-registering them; BaseRegistry.Register rejects duplicates, so a
// conflicting prior registration is removed first.
func (r *Registry) Register(d Descriptor) {
	_ = r.base.Remove(d.Name)
	_ = r.base.Register(d.Name, d)
	if d.Command != "" {
		r.byCommand[d.Command] = d.Name
	}
}

// Get looks up a descriptor by name.
func (r *Registry) Get(name string) (Descriptor, bool) {
	return r.base.Get(name)
}

// GetByCommand looks up a descriptor by its slash command token, e.g.
// "/search".
func (r *Registry) GetByCommand(command string) (Descriptor, bool) {
	name, ok := r.byCommand[command]
	if !ok {
		return Descriptor{}, false
	}
	return r.base.Get(name)
}

// List returns every registered descriptor in no particular order.
func (r *Registry) List() []Descriptor {
	return r.base.List()
}

// ParsedCall is the result of parsing a slash-command string: a command
// token plus a bag of raw (un-coerced, un-validated) argument strings.
type ParsedCall struct {
	Command string
	Args    map[string]string
}

// ParseCommand parses a slash-prefixed command string per the registry's
// grammar: token 0 is the command; subsequent "--flag=value" or
// "--flag value" pairs become named arguments; contiguous positional
// tokens fold into an "input" argument, or "query" if "input" is already
// set.
func ParseCommand(s string) (ParsedCall, error) {
	fields := strings.Fields(strings.TrimSpace(s))
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return ParsedCall{}, apperr.Validation("tool", "ParseCommand", "command must start with '/'")
	}

	call := ParsedCall{Command: fields[0], Args: make(map[string]string)}
	var positional []string

	i := 1
	for i < len(fields) {
		tok := fields[i]
		if !strings.HasPrefix(tok, "--") {
			positional = append(positional, tok)
			i++
			continue
		}

		flag := strings.TrimPrefix(tok, "--")
		if eq := strings.IndexByte(flag, '='); eq >= 0 {
			call.Args[flag[:eq]] = flag[eq+1:]
			i++
			continue
		}

		// "--flag value" form: the next token is the value, unless
		// there is no next token or it is itself a flag, in which case
		// the flag is treated as a boolean "true".
		if i+1 < len(fields) && !strings.HasPrefix(fields[i+1], "--") {
			call.Args[flag] = fields[i+1]
			i += 2
			continue
		}
		call.Args[flag] = "true"
		i++
	}

	if len(positional) > 0 {
		joined := strings.Join(positional, " ")
		key := "input"
		if _, exists := call.Args["input"]; exists {
			key = "query"
		}
		call.Args[key] = joined
	}

	return call, nil
}

// Validate checks that every required parameter in params is present in
// args and coerces each present argument to its declared type. It returns
// a new map; extra arguments not named in params are passed through
// unchanged rather than rejected, per the tool-dispatch contract that
// excess parameters are ignored, not errored.
func Validate(params []Param, args map[string]string) (map[string]any, error) {
	out := make(map[string]any, len(args))
	declared := make(map[string]Param, len(params))
	for _, p := range params {
		declared[p.Name] = p
	}

	for _, p := range params {
		raw, present := args[p.Name]
		if !present {
			if p.Required {
				return nil, apperr.Validation("tool", "Validate", "missing required parameter: "+p.Name)
			}
			continue
		}
		coerced, err := coerce(p.Type, raw)
		if err != nil {
			return nil, apperr.Validation("tool", "Validate", "invalid value for parameter "+p.Name+": "+err.Error())
		}
		out[p.Name] = coerced
	}

	for name, raw := range args {
		if _, known := declared[name]; known {
			continue
		}
		out[name] = raw
	}

	return out, nil
}

func coerce(t ParamType, raw string) (any, error) {
	switch t {
	case ParamNumber:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, err
		}
		return f, nil
	case ParamBool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, err
		}
		return b, nil
	case ParamArray:
		return splitList(raw), nil
	default: // ParamString and anything unrecognized
		return raw, nil
	}
}

// splitList splits a comma-separated or whitespace-separated list,
// trimming surrounding whitespace from each element and dropping empties.
func splitList(raw string) []string {
	sep := ","
	if !strings.Contains(raw, ",") {
		sep = " "
	}
	var out []string
	for _, part := range strings.Split(raw, sep) {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

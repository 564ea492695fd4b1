package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/aletheia-kb/aletheia/pkg/apperr"
	"github.com/aletheia-kb/aletheia/pkg/config"
	"github.com/aletheia-kb/aletheia/pkg/httpclient"
)

// State is a dispatch's position in the PARSED -> VALIDATED -> EXECUTING ->
// {SUCCESS | FAILED} state machine. FAILED is terminal: a single dispatch
// is never retried within a turn.
type State string

const (
	StateParsed    State = "parsed"
	StateValidated State = "validated"
	StateExecuting State = "executing"
	StateSuccess   State = "success"
	StateFailed    State = "failed"
)

// defaultTimeout bounds every remote tool call.
const defaultTimeout = 30 * time.Second

// Dispatcher executes tool descriptors, routing to a local handler when
// present and otherwise POSTing to the descriptor's remote endpoint.
type Dispatcher struct {
	http *httpclient.Client
}

// NewDispatcher builds a Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{http: httpclient.New(httpclient.WithMaxRetries(0))}
}

// Dispatch runs the parse -> validate -> execute state machine for a
// single tool call against args already coerced by Validate. It has no
// error return: remote and handler failures are reported as
// Result{Success:false, Error:...} with StateFailed so the orchestrator can
// continue the turn, and so is a descriptor with neither a handler nor an
// endpoint configured.
func (d *Dispatcher) Dispatch(ctx context.Context, desc Descriptor, args map[string]any) (Result, State) {
	if desc.Handler != nil {
		result, err := desc.Handler(args)
		if err != nil {
			return Result{Success: false, Error: err.Error()}, StateFailed
		}
		return result, StateSuccess
	}

	if desc.Endpoint == "" {
		return Result{Success: false, Error: "tool has no local handler or remote endpoint"}, StateFailed
	}

	result, err := d.callRemote(ctx, desc, args)
	if err != nil {
		return Result{Success: false, Error: err.Error()}, StateFailed
	}
	if !result.Success {
		return result, StateFailed
	}
	return result, StateSuccess
}

type remotePayload struct {
	Tool       string         `json:"tool"`
	Parameters map[string]any `json:"parameters"`
}

type remoteResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data"`
	Error   string `json:"error,omitempty"`
}

// callRemote POSTs the validated payload to the descriptor's endpoint with
// a per-call timeout and bearer credentials from configuration. On a
// non-2xx response it degrades to {success=false, error} without
// propagating the HTTP status to the caller.
func (d *Dispatcher) callRemote(ctx context.Context, desc Descriptor, args map[string]any) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	body, err := json.Marshal(remotePayload{Tool: desc.Name, Parameters: args})
	if err != nil {
		return Result{}, apperr.Validation("tool", "callRemote", "failed to encode tool parameters")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, desc.Endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, apperr.RemoteUnavailable("tool", "callRemote", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if desc.Token != "" {
		req.Header.Set("Authorization", "Bearer "+desc.Token)
	}

	resp, err := d.http.Do(req)
	if err != nil {
		return Result{Success: false, Error: "tool endpoint unreachable"}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{Success: false, Error: "tool endpoint returned an error"}, nil
	}

	var parsed remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Result{Success: false, Error: "tool endpoint returned a malformed response"}, nil
	}
	if !parsed.Success {
		msg := parsed.Error
		if msg == "" {
			msg = "tool reported failure"
		}
		return Result{Success: false, Error: msg}, nil
	}
	return Result{Success: true, Data: parsed.Data}, nil
}

// RegisterRemoteTools registers one Descriptor per remote tool endpoint
// declared in configuration, keyed by its lower-cased name as both the
// tool Name and, prefixed with "/", its slash Command.
func RegisterRemoteTools(r *Registry, cfg *config.Config) {
	for _, rt := range cfg.RemoteTools() {
		name := strings.ToLower(rt.Name)
		r.Register(Descriptor{
			Name:     name,
			Command:  "/" + name,
			Endpoint: rt.URL,
			Token:    rt.Token,
		})
	}
}

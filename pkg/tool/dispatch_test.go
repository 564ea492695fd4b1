package tool

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatch_LocalHandlerSuccess(t *testing.T) {
	desc := Descriptor{
		Name: "echo",
		Handler: func(args map[string]any) (Result, error) {
			return Result{Success: true, Data: args["input"]}, nil
		},
	}
	d := NewDispatcher()

	result, state := d.Dispatch(context.Background(), desc, map[string]any{"input": "hi"})
	assert.Equal(t, StateSuccess, state)
	assert.True(t, result.Success)
	assert.Equal(t, "hi", result.Data)
}

func TestDispatch_LocalHandlerErrorIsFailedState(t *testing.T) {
	desc := Descriptor{
		Name: "broken",
		Handler: func(args map[string]any) (Result, error) {
			return Result{}, assertErr("boom")
		},
	}
	d := NewDispatcher()

	result, state := d.Dispatch(context.Background(), desc, nil)
	assert.Equal(t, StateFailed, state)
	assert.False(t, result.Success)
	assert.Equal(t, "boom", result.Error)
}

func TestDispatch_RemoteSuccessSendsBearerTokenAndPayload(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(remoteResponse{Success: true, Data: "remote-result"})
	}))
	defer srv.Close()

	desc := Descriptor{Name: "weather", Endpoint: srv.URL, Token: "tok-123"}
	d := NewDispatcher()

	result, state := d.Dispatch(context.Background(), desc, map[string]any{"city": "Lisbon"})
	require.Equal(t, StateSuccess, state)
	assert.True(t, result.Success)
	assert.Equal(t, "remote-result", result.Data)
	assert.Equal(t, "Bearer tok-123", gotAuth)
	assert.Equal(t, "weather", gotBody["tool"])
}

func TestDispatch_RemoteNon2xxDegradesWithoutExposingStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	desc := Descriptor{Name: "weather", Endpoint: srv.URL}
	d := NewDispatcher()

	result, state := d.Dispatch(context.Background(), desc, nil)
	assert.Equal(t, StateFailed, state)
	assert.False(t, result.Success)
	assert.NotContains(t, result.Error, "500")
}

func TestDispatch_NoHandlerAndNoEndpointFails(t *testing.T) {
	d := NewDispatcher()
	result, state := d.Dispatch(context.Background(), Descriptor{Name: "nothing"}, nil)
	assert.Equal(t, StateFailed, state)
	assert.False(t, result.Success)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }

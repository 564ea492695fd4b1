// Package server implements Aletheia's HTTP API: chat (SSE), search, tool
// execution, and admin stats/rebuild, over a chi router with Prometheus
// instrumentation.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/aletheia-kb/aletheia/pkg/apperr"
	"github.com/aletheia-kb/aletheia/pkg/cache"
	"github.com/aletheia-kb/aletheia/pkg/chat"
	"github.com/aletheia-kb/aletheia/pkg/config"
	"github.com/aletheia-kb/aletheia/pkg/graph"
	"github.com/aletheia-kb/aletheia/pkg/llm"
	"github.com/aletheia-kb/aletheia/pkg/retrieval"
	"github.com/aletheia-kb/aletheia/pkg/tool"
	"github.com/aletheia-kb/aletheia/pkg/vector"
)

// Server holds every dependency the HTTP API dispatches to.
type Server struct {
	cfg          config.ServerConfig
	orchestrator *chat.Orchestrator
	retrieval    *retrieval.Engine
	tools        *tool.Registry
	dispatcher   *tool.Dispatcher
	vectorStore  vector.Provider
	graphStore   *graph.Store
	cacheStore   cache.Store
	metrics      *Metrics
	router       chi.Router
}

// New builds a Server and registers its routes. graphStore and cacheStore
// may be nil; the corresponding admin-stats fields are then reported as
// zero rather than erroring. metrics is built by the caller (rather than
// internally) so the same collector can also instrument the cache store
// before it's handed to the embedder and retrieval engine.
func New(cfg config.ServerConfig, orchestrator *chat.Orchestrator, retrievalEngine *retrieval.Engine, tools *tool.Registry, dispatcher *tool.Dispatcher, vectorStore vector.Provider, graphStore *graph.Store, cacheStore cache.Store, metrics *Metrics) *Server {
	s := &Server{
		cfg:          cfg,
		orchestrator: orchestrator,
		retrieval:    retrievalEngine,
		tools:        tools,
		dispatcher:   dispatcher,
		vectorStore:  vectorStore,
		graphStore:   graphStore,
		cacheStore:   cacheStore,
		metrics:      metrics,
	}
	s.router = s.buildRouter()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe starts an http.Server bound to the configured address and
// blocks until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	httpServer := &http.Server{Addr: s.cfg.Addr, Handler: s}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", s.cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.metricsMiddleware)
	r.Use(s.rateLimitMiddleware)

	r.Post("/api/chat", s.handleChat)
	r.Post("/api/search", s.handleSearch)
	r.Post("/api/tools/execute", s.handleToolExecute)
	r.Get("/api/admin/stats", s.handleAdminStats)
	r.Post("/api/admin/rebuild", s.handleAdminRebuild)
	r.Handle("/metrics", s.metrics.Handler())

	return r
}

// rateLimitMiddleware enforces a per-remote-address limit via the cache
// counter (spec §5), short-circuiting with a structured error when
// exceeded. Requests are allowed through uninstrumented when no cache
// store is configured.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cacheStore == nil || s.cfg.RateLimit <= 0 {
			next.ServeHTTP(w, r)
			return
		}
		allowed, _, err := s.cacheStore.Allow(r.Context(), r.RemoteAddr, s.cfg.RateLimit, s.cfg.RateLimitWindow)
		if err != nil {
			slog.Warn("rate limit check failed, allowing request", "error", err)
			next.ServeHTTP(w, r)
			return
		}
		if !allowed {
			writeError(w, http.StatusTooManyRequests, apperr.RateLimited("server", "rateLimitMiddleware", "rate limit exceeded").Error(), nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type chatRequestBody struct {
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
	SessionID string `json:"sessionId"`
}

// handleChat streams the assistant's reply as text/event-stream.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var body chatRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	if len(body.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "messages must not be empty", nil)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported", nil)
		return
	}

	sessionID := body.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	messages := make([]llm.Message, len(body.Messages))
	for i, m := range body.Messages {
		messages[i] = llm.Message{Role: llm.Role(m.Role), Content: m.Content}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Session-Id", sessionID)

	slog.Debug("server: chat turn starting", "sessionId", sessionID, "messages", len(messages))

	ctx := r.Context()
	stream, err := s.orchestrator.Handle(ctx, messages)
	if err != nil {
		s.metrics.chatTurns.WithLabelValues("error").Inc()
		writeError(w, http.StatusInternalServerError, "failed to start chat turn", nil)
		return
	}
	s.metrics.chatTurns.WithLabelValues("ok").Inc()

	for chunk := range stream {
		if chunk.Content != "" {
			fmtSSE(w, chunk.Content)
			flusher.Flush()
		}
		if chunk.Done {
			break
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func fmtSSE(w http.ResponseWriter, content string) {
	payload, _ := json.Marshal(map[string]string{"content": content})
	w.Write([]byte("data: " + string(payload) + "\n\n"))
}

type searchRequestBody struct {
	Query   string      `json:"query"`
	Mode    string      `json:"mode"`
	Limit   int         `json:"limit"`
	Rerank  *bool       `json:"rerank"`
	Method  string      `json:"method"`
	Filters *filterBody `json:"filters"`
}

// filterBody is the wire shape of a structured predicate filter
// (spec §4.4): {path, operator, value, children?}, mirroring
// vector.Filter field for field so /api/search can push filters down to
// the store instead of only documenting them.
type filterBody struct {
	Path     string       `json:"path"`
	Operator string       `json:"operator"`
	Value    any          `json:"value"`
	Children []filterBody `json:"children"`
}

func (f *filterBody) toVectorFilter() *vector.Filter {
	if f == nil {
		return nil
	}
	out := &vector.Filter{
		Path:     f.Path,
		Operator: vector.Operator(f.Operator),
		Value:    f.Value,
	}
	for _, c := range f.Children {
		c := c
		out.Children = append(out.Children, *c.toVectorFilter())
	}
	return out
}

type searchResponseBody struct {
	Results []retrieval.Result `json:"results"`
	Count   int                `json:"count"`
	Query   string             `json:"query"`
	Method  string             `json:"method"`
	Mode    string             `json:"mode"`
}

// handleSearch runs a one-off retrieval call outside a chat turn.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var body searchRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", []string{err.Error()})
		return
	}
	if body.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required", []string{"query must not be empty"})
		return
	}

	mode := body.Mode
	if mode == "" {
		mode = "hybrid"
	}
	limit := body.Limit
	if limit == 0 {
		limit = 10
	}
	rerank := true
	if body.Rerank != nil {
		rerank = *body.Rerank
	}
	method := body.Method
	if method == "" {
		method = "standard"
	}

	filter := body.Filters.toVectorFilter()

	start := time.Now()
	var (
		results []retrieval.Result
		err     error
	)
	switch method {
	case "hyde":
		results, err = s.retrieval.HyDESearch(r.Context(), body.Query, limit, filter)
	case "multi":
		results, err = s.retrieval.MultiQuerySearch(r.Context(), body.Query, limit, filter)
	default:
		results, err = s.retrieval.AdvancedSearch(r.Context(), retrieval.Request{
			Query: body.Query, Mode: retrieval.Mode(mode), Filter: filter, Limit: limit, Rerank: rerank,
		})
	}
	s.metrics.searchDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	if err != nil {
		s.metrics.searchCalls.WithLabelValues(mode, "error").Inc()
		writeError(w, http.StatusBadRequest, "search failed", []string{err.Error()})
		return
	}
	s.metrics.searchCalls.WithLabelValues(mode, "ok").Inc()

	writeJSON(w, http.StatusOK, searchResponseBody{
		Results: results, Count: len(results), Query: body.Query, Method: method, Mode: mode,
	})
}

type toolExecuteRequestBody struct {
	Tool       string         `json:"tool"`
	Parameters map[string]any `json:"parameters"`
}

type toolExecuteResponseBody struct {
	Tool      string `json:"tool"`
	Data      any    `json:"data,omitempty"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	Formatted string `json:"formatted,omitempty"`
}

// handleToolExecute runs a single named tool outside a chat turn.
func (s *Server) handleToolExecute(w http.ResponseWriter, r *http.Request) {
	var body toolExecuteRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", []string{err.Error()})
		return
	}
	if body.Tool == "" {
		writeError(w, http.StatusBadRequest, "tool is required", []string{"Missing required parameter: tool"})
		return
	}

	desc, ok := s.tools.Get(body.Tool)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown tool", []string{"tool " + body.Tool + " is not registered"})
		return
	}

	for _, p := range desc.Params {
		if p.Required {
			if _, present := body.Parameters[p.Name]; !present {
				writeError(w, http.StatusBadRequest, "missing required parameter", []string{"Missing required parameter: " + p.Name})
				return
			}
		}
	}

	start := time.Now()
	result, _ := s.dispatcher.Dispatch(r.Context(), desc, body.Parameters)
	s.metrics.toolDuration.WithLabelValues(desc.Name).Observe(time.Since(start).Seconds())
	status := "ok"
	if !result.Success {
		status = "error"
	}
	s.metrics.toolCalls.WithLabelValues(desc.Name, status).Inc()

	writeJSON(w, http.StatusOK, toolExecuteResponseBody{
		Tool: desc.Name, Data: result.Data, Success: result.Success, Error: result.Error,
		Formatted: tool.FormatResult(desc.Name, result),
	})
}

type adminStatsResponseBody struct {
	VectorDatabase vector.Stats `json:"vectorDatabase"`
	KnowledgeGraph graph.Stats  `json:"knowledgeGraph"`
	Cache          struct {
		TotalKeys int `json:"totalKeys"`
	} `json:"cache"`
	Timestamp string `json:"timestamp"`
}

func (s *Server) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var resp adminStatsResponseBody

	if s.vectorStore != nil {
		if stats, err := s.vectorStore.Stats(ctx); err == nil {
			resp.VectorDatabase = stats
		}
	}
	if s.graphStore != nil {
		if stats, err := s.graphStore.Stats(ctx); err == nil {
			resp.KnowledgeGraph = stats
		}
	}
	if s.cacheStore != nil {
		if total, err := s.cacheStore.TotalKeys(ctx); err == nil {
			resp.Cache.TotalKeys = total
		}
	}
	resp.Timestamp = time.Now().UTC().Format(time.RFC3339)

	writeJSON(w, http.StatusOK, resp)
}

type adminRebuildResponseBody struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// handleAdminRebuild clears all three stores. It fails the request on the
// first clearing error rather than reporting partial success.
func (s *Server) handleAdminRebuild(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if s.vectorStore != nil {
		if err := s.vectorStore.ResetCollection(ctx); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to reset vector store", nil)
			return
		}
	}
	if s.graphStore != nil {
		if err := s.graphStore.Reset(ctx); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to reset graph store", nil)
			return
		}
	}
	if s.cacheStore != nil {
		if err := s.cacheStore.Reset(ctx); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to reset cache", nil)
			return
		}
	}

	writeJSON(w, http.StatusOK, adminRebuildResponseBody{
		Success:   true,
		Message:   "all stores cleared",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string, details []string) {
	writeJSON(w, status, map[string]any{"error": message, "details": details})
}

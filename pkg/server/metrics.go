package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aletheia-kb/aletheia/pkg/cache"
)

// Metrics groups the Prometheus collectors the API exposes at /metrics,
// scoped to the concerns this service actually has: HTTP request shape,
// ingestion throughput, search latency, cache hit ratio, chat turns, and
// tool executions.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	chatTurns      *prometheus.CounterVec
	searchCalls    *prometheus.CounterVec
	searchDuration *prometheus.HistogramVec
	toolCalls      *prometheus.CounterVec
	toolDuration   *prometheus.HistogramVec

	ingestDuration *prometheus.HistogramVec
	ingestChunks   *prometheus.CounterVec

	cacheOps *prometheus.CounterVec
}

// NewMetrics builds a fresh, independently registered Metrics collector.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aletheia_http_requests_total",
			Help: "Total HTTP requests by route and status code.",
		}, []string{"route", "method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aletheia_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
		chatTurns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aletheia_chat_turns_total",
			Help: "Total chat turns handled.",
		}, []string{"status"}),
		searchCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aletheia_search_calls_total",
			Help: "Total search requests by mode.",
		}, []string{"mode", "status"}),
		searchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aletheia_search_duration_seconds",
			Help:    "Search request latency in seconds, by method (standard, hyde, multi).",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aletheia_tool_calls_total",
			Help: "Total tool dispatches by tool name and outcome.",
		}, []string{"tool", "status"}),
		toolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aletheia_tool_call_duration_seconds",
			Help:    "Tool dispatch duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"tool"}),
		ingestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aletheia_ingest_run_duration_seconds",
			Help:    "Ingestion pipeline run duration in seconds.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"status"}),
		ingestChunks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aletheia_ingest_chunks_indexed_total",
			Help: "Total chunks indexed by the ingestion pipeline.",
		}, []string{"status"}),
		cacheOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aletheia_cache_operations_total",
			Help: "Cache Get operations by key namespace and outcome (hit, miss).",
		}, []string{"namespace", "outcome"}),
	}

	registry.MustRegister(
		m.httpRequests, m.httpDuration,
		m.chatTurns, m.searchCalls, m.searchDuration,
		m.toolCalls, m.toolDuration,
		m.ingestDuration, m.ingestChunks,
		m.cacheOps,
	)
	return m
}

// RecordIngestRun observes one completed (or failed) ingestion pipeline
// run, for the aletheia_ingest_run_duration_seconds /
// aletheia_ingest_chunks_indexed_total series.
func (m *Metrics) RecordIngestRun(elapsed time.Duration, chunksIndexed int, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.ingestDuration.WithLabelValues(status).Observe(elapsed.Seconds())
	m.ingestChunks.WithLabelValues(status).Add(float64(chunksIndexed))
}

// WrapCache returns store wrapped with hit/miss instrumentation on Get,
// or nil if store is nil. Every other method passes through unchanged.
func (m *Metrics) WrapCache(store cache.Store) cache.Store {
	if store == nil {
		return nil
	}
	return &instrumentedCache{Store: store, metrics: m}
}

// instrumentedCache records a cache hit/miss counter per Get call,
// labeled by the key's namespace prefix (e.g. "embedding", "search",
// "query-rewrite") so hit ratio can be broken down by which cache the
// request came from. Allow calls pass through uncounted.
type instrumentedCache struct {
	cache.Store
	metrics *Metrics
}

func (c *instrumentedCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, hit, err := c.Store.Get(ctx, key)
	if err == nil {
		outcome := "miss"
		if hit {
			outcome = "hit"
		}
		c.metrics.cacheOps.WithLabelValues(cacheNamespace(key), outcome).Inc()
	}
	return value, hit, err
}

func cacheNamespace(key string) string {
	if idx := strings.Index(key, ":"); idx != -1 {
		return key[:idx]
	}
	return "unknown"
}

// Handler exposes the registry in Prometheus's text exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// responseWriter wraps http.ResponseWriter to capture the status code
// written and implement http.Flusher so SSE handlers downstream still
// work through the middleware chain.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(statusCode int) {
	rw.statusCode = statusCode
	rw.ResponseWriter.WriteHeader(statusCode)
}

func (rw *responseWriter) Flush() {
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// metricsMiddleware records request count and duration per route pattern,
// read from chi's RouteContext rather than the raw (parameterized) path.
func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		route := routePattern(r)
		duration := time.Since(start).Seconds()
		s.metrics.httpRequests.WithLabelValues(route, r.Method, strconv.Itoa(wrapped.statusCode)).Inc()
		s.metrics.httpDuration.WithLabelValues(route, r.Method).Observe(duration)
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return r.URL.Path
}

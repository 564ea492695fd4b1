package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aletheia-kb/aletheia/pkg/cache"
	"github.com/aletheia-kb/aletheia/pkg/config"
	"github.com/aletheia-kb/aletheia/pkg/embed"
	"github.com/aletheia-kb/aletheia/pkg/graph"
	"github.com/aletheia-kb/aletheia/pkg/graphbuild"
	"github.com/aletheia-kb/aletheia/pkg/llm"
	"github.com/aletheia-kb/aletheia/pkg/rerank"
	"github.com/aletheia-kb/aletheia/pkg/retrieval"
	"github.com/aletheia-kb/aletheia/pkg/server"
	"github.com/aletheia-kb/aletheia/pkg/tool"
	"github.com/aletheia-kb/aletheia/pkg/vector"
)

// deps holds every provider aletheia wires together, built once from
// configuration and shared between the ingest and serve commands.
type deps struct {
	cfg         *config.Config
	llm         llm.Provider
	embedder    *embed.Client
	vectorStore vector.Provider
	graphStore  *graph.Store
	cacheStore  cache.Store
	reranker    *rerank.Client
	graphBuild  *graphbuild.Builder
	retrieval   *retrieval.Engine
	tools       *tool.Registry
	dispatcher  *tool.Dispatcher
	metrics     *server.Metrics
}

// buildDeps constructs every provider. The LLM, embedder, and vector
// store are required; the graph store, cache, and reranker degrade
// gracefully to nil when unconfigured or unreachable, matching the rest
// of the module's fail-at-first-use posture.
func buildDeps(ctx context.Context) (*deps, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	llmCfg, err := cfg.LLM()
	if err != nil {
		return nil, fmt.Errorf("loading llm config: %w", err)
	}
	llmProvider, err := llm.New(llmCfg)
	if err != nil {
		return nil, fmt.Errorf("constructing llm provider: %w", err)
	}

	metrics := server.NewMetrics()
	cacheStore := buildCache(ctx, cfg, metrics)

	embedderCfg, err := cfg.Embedder()
	if err != nil {
		return nil, fmt.Errorf("loading embedder config: %w", err)
	}
	embedProvider, err := embed.NewOpenAIProvider(embedderCfg)
	if err != nil {
		return nil, fmt.Errorf("constructing embedder: %w", err)
	}
	embedder := embed.New(embedProvider, cacheStore)

	vectorCfg, err := cfg.VectorStore()
	if err != nil {
		return nil, fmt.Errorf("loading vector store config: %w", err)
	}
	vectorStore, err := vector.New(vectorCfg)
	if err != nil {
		return nil, fmt.Errorf("constructing vector store: %w", err)
	}

	graphStore := buildGraphStore(ctx, cfg)
	reranker := buildReranker(cfg)

	var graphBuild *graphbuild.Builder
	if graphStore != nil {
		graphBuild = graphbuild.New(llmProvider, graphStore)
	}

	retrievalEngine := retrieval.New(vectorStore, graphStore, embedder, llmProvider, reranker, cacheStore)

	tools := tool.NewRegistry()
	dispatcher := tool.NewDispatcher()
	tool.RegisterRemoteTools(tools, cfg)
	registerBuiltinTools(tools, retrievalEngine)

	return &deps{
		cfg:         cfg,
		llm:         llmProvider,
		embedder:    embedder,
		vectorStore: vectorStore,
		graphStore:  graphStore,
		cacheStore:  cacheStore,
		reranker:    reranker,
		graphBuild:  graphBuild,
		retrieval:   retrievalEngine,
		tools:       tools,
		dispatcher:  dispatcher,
		metrics:     metrics,
	}, nil
}

// buildCache dials Redis and wraps the resulting store with metrics'
// cache-hit/miss instrumentation, so every Get issued later through the
// embedder and retrieval engine's caches is counted — not just the
// server's own direct cache reads (it has none; it only calls Allow,
// Reset, and TotalKeys).
func buildCache(ctx context.Context, cfg *config.Config, metrics *server.Metrics) cache.Store {
	cacheCfg, err := cfg.Cache()
	if err != nil {
		slog.Warn("aletheia: cache not configured, continuing without it", "error", err)
		return nil
	}
	store, err := cache.NewRedisStore(ctx, cacheCfg)
	if err != nil {
		slog.Warn("aletheia: cache unreachable, continuing without it", "error", err)
		return nil
	}
	return metrics.WrapCache(store)
}

func buildGraphStore(ctx context.Context, cfg *config.Config) *graph.Store {
	graphCfg, err := cfg.GraphStore()
	if err != nil {
		slog.Warn("aletheia: graph store not configured, continuing without it", "error", err)
		return nil
	}
	store, err := graph.NewStore(ctx, graphCfg)
	if err != nil {
		slog.Warn("aletheia: graph store unreachable, continuing without it", "error", err)
		return nil
	}
	return store
}

func buildReranker(cfg *config.Config) *rerank.Client {
	rerankCfg, err := cfg.Reranker()
	if err != nil {
		slog.Warn("aletheia: reranker not configured, continuing without it", "error", err)
		return nil
	}
	client, err := rerank.New(rerankCfg)
	if err != nil {
		slog.Warn("aletheia: reranker construction failed, continuing without it", "error", err)
		return nil
	}
	return client
}

// registerBuiltinTools wires the search_knowledge tool directly onto the
// retrieval engine, so chat turns and the /api/tools/execute endpoint can
// invoke retrieval as an explicit tool call, not only as implicit
// search-intent retrieval.
func registerBuiltinTools(tools *tool.Registry, engine *retrieval.Engine) {
	tools.Register(tool.Descriptor{
		Name:        "search_knowledge",
		Command:     "/search",
		Description: "Search the knowledge base for relevant notes.",
		Params: []tool.Param{
			{Name: "query", Type: tool.ParamString, Required: true},
			{Name: "limit", Type: tool.ParamNumber},
		},
		Handler: func(args map[string]any) (tool.Result, error) {
			query, _ := args["query"].(string)
			if query == "" {
				if input, ok := args["input"].(string); ok {
					query = input
				}
			}
			limit := 8
			if n, ok := args["limit"].(float64); ok && n > 0 {
				limit = int(n)
			}
			results, err := engine.AdvancedSearch(context.Background(), retrieval.Request{
				Query: query, Mode: retrieval.ModeHybrid, Limit: limit, Rerank: true,
			})
			if err != nil {
				return tool.Result{Success: false, Error: err.Error()}, nil
			}
			return tool.Result{Success: true, Data: retrieval.FormatContextBlock(results)}, nil
		},
	})
}

func (d *deps) Close() {
	if d.cacheStore != nil {
		_ = d.cacheStore.Close()
	}
	if d.graphStore != nil {
		_ = d.graphStore.Close(context.Background())
	}
	if d.llm != nil {
		_ = d.llm.Close()
	}
}

package config

import (
	"os"
	"strconv"
	"time"

	"github.com/aletheia-kb/aletheia/pkg/apperr"
)

// Config reads Aletheia's environment-variable-driven configuration:
// endpoints, credentials, and model identifiers for the LLM, embedder,
// reranker, vector store, graph store, and cache, plus optional remote
// tool endpoints.
//
// Absent required variables fail at first use rather than at Load, so the
// process stays bootable for partial operation (e.g. chat without a
// configured reranker).
type Config struct{}

// Load loads .env.local/.env (if present) via LoadEnvFiles and returns a
// Config. Load never fails on missing application variables; only
// malformed .env files are reported.
func Load() (*Config, error) {
	if err := LoadEnvFiles(); err != nil {
		return nil, apperr.New(apperr.KindConfigMissing, "config", "Load", "failed to load .env files", err)
	}
	return &Config{}, nil
}

func requireEnv(component, key string) (string, error) {
	v := os.Getenv(key)
	if v == "" {
		return "", apperr.ConfigMissing(component, "Load", key+" is not set")
	}
	return v, nil
}

func optionalEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func optionalEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func optionalEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// LLMConfig configures the chat-completion provider.
type LLMConfig struct {
	Provider    string // "openai", "anthropic", or "gemini"
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
}

// LLM reads the LLM provider configuration. Provider and API key are
// required; the rest have sensible defaults.
func (c *Config) LLM() (LLMConfig, error) {
	provider, err := requireEnv("llm", "ALETHEIA_LLM_PROVIDER")
	if err != nil {
		return LLMConfig{}, err
	}
	apiKey, err := requireEnv("llm", "ALETHEIA_LLM_API_KEY")
	if err != nil {
		return LLMConfig{}, err
	}
	return LLMConfig{
		Provider:    provider,
		BaseURL:     optionalEnv("ALETHEIA_LLM_BASE_URL", ""),
		APIKey:      apiKey,
		Model:       optionalEnv("ALETHEIA_LLM_MODEL", "gpt-4o-mini"),
		Temperature: optionalEnvFloat("ALETHEIA_LLM_TEMPERATURE", 0.7),
		MaxTokens:   optionalEnvInt("ALETHEIA_LLM_MAX_TOKENS", 1024),
	}, nil
}

// EmbedderConfig configures the embedding provider.
type EmbedderConfig struct {
	Provider string
	BaseURL  string
	APIKey   string
	Model    string
}

// Embedder reads the embedding provider configuration.
func (c *Config) Embedder() (EmbedderConfig, error) {
	provider, err := requireEnv("embed", "ALETHEIA_EMBEDDER_PROVIDER")
	if err != nil {
		return EmbedderConfig{}, err
	}
	apiKey, err := requireEnv("embed", "ALETHEIA_EMBEDDER_API_KEY")
	if err != nil {
		return EmbedderConfig{}, err
	}
	return EmbedderConfig{
		Provider: provider,
		BaseURL:  optionalEnv("ALETHEIA_EMBEDDER_BASE_URL", ""),
		APIKey:   apiKey,
		Model:    optionalEnv("ALETHEIA_EMBEDDER_MODEL", "text-embedding-3-small"),
	}, nil
}

// RerankerConfig configures the optional reranker. A reranker is not
// always present; Reranker returns ConfigMissing when unset so callers
// can fall back to unreranked retrieval.
type RerankerConfig struct {
	Provider string
	BaseURL  string
	APIKey   string
	Model    string
}

// Reranker reads the reranker configuration.
func (c *Config) Reranker() (RerankerConfig, error) {
	provider, err := requireEnv("rerank", "ALETHEIA_RERANKER_PROVIDER")
	if err != nil {
		return RerankerConfig{}, err
	}
	apiKey, err := requireEnv("rerank", "ALETHEIA_RERANKER_API_KEY")
	if err != nil {
		return RerankerConfig{}, err
	}
	return RerankerConfig{
		Provider: provider,
		BaseURL:  optionalEnv("ALETHEIA_RERANKER_BASE_URL", ""),
		APIKey:   apiKey,
		Model:    optionalEnv("ALETHEIA_RERANKER_MODEL", "rerank-english-v3.0"),
	}, nil
}

// VectorStoreConfig configures the vector store backend.
type VectorStoreConfig struct {
	Provider   string // "qdrant" or "chromem"
	Endpoint   string
	APIKey     string
	Collection string
}

// VectorStore reads the vector store configuration.
func (c *Config) VectorStore() (VectorStoreConfig, error) {
	provider, err := requireEnv("vector", "ALETHEIA_VECTOR_PROVIDER")
	if err != nil {
		return VectorStoreConfig{}, err
	}
	return VectorStoreConfig{
		Provider:   provider,
		Endpoint:   optionalEnv("ALETHEIA_VECTOR_ENDPOINT", "localhost:6334"),
		APIKey:     optionalEnv("ALETHEIA_VECTOR_API_KEY", ""),
		Collection: optionalEnv("ALETHEIA_VECTOR_COLLECTION", "aletheia_chunks"),
	}, nil
}

// GraphStoreConfig configures the Neo4j-backed knowledge graph store.
type GraphStoreConfig struct {
	URI      string
	Username string
	Password string
	Database string
}

// GraphStore reads the graph store configuration. URI and Username are
// required; Password may legitimately be empty for unauthenticated local
// instances.
func (c *Config) GraphStore() (GraphStoreConfig, error) {
	uri, err := requireEnv("graph", "ALETHEIA_GRAPH_URI")
	if err != nil {
		return GraphStoreConfig{}, err
	}
	username, err := requireEnv("graph", "ALETHEIA_GRAPH_USERNAME")
	if err != nil {
		return GraphStoreConfig{}, err
	}
	return GraphStoreConfig{
		URI:      uri,
		Username: username,
		Password: os.Getenv("ALETHEIA_GRAPH_PASSWORD"),
		Database: optionalEnv("ALETHEIA_GRAPH_DATABASE", "neo4j"),
	}, nil
}

// CacheConfig configures the Redis-backed cache used for embedding
// memoization and rate limiting.
type CacheConfig struct {
	Addr     string
	Password string
	DB       int
}

// Cache reads the cache configuration. Addr is required.
func (c *Config) Cache() (CacheConfig, error) {
	addr, err := requireEnv("cache", "ALETHEIA_CACHE_ADDR")
	if err != nil {
		return CacheConfig{}, err
	}
	return CacheConfig{
		Addr:     addr,
		Password: os.Getenv("ALETHEIA_CACHE_PASSWORD"),
		DB:       optionalEnvInt("ALETHEIA_CACHE_DB", 0),
	}, nil
}

// IngestConfig configures the ingestion pipeline's corpus location and
// checkpoint persistence.
type IngestConfig struct {
	CorpusRoot     string
	CheckpointPath string
}

// Ingest reads the ingestion configuration. CorpusRoot is required;
// CheckpointPath defaults to .aletheia-ingest-checkpoint.json, relative to
// the working directory.
func (c *Config) Ingest() (IngestConfig, error) {
	root, err := requireEnv("ingest", "ALETHEIA_CORPUS_ROOT")
	if err != nil {
		return IngestConfig{}, err
	}
	return IngestConfig{
		CorpusRoot:     root,
		CheckpointPath: optionalEnv("ALETHEIA_INGEST_CHECKPOINT", ".aletheia-ingest-checkpoint.json"),
	}, nil
}

// ServerConfig configures the HTTP API's listen address and per-identifier
// rate limit.
type ServerConfig struct {
	Addr            string
	RateLimit       int
	RateLimitWindow time.Duration
}

// Server reads the server configuration. Every field has a default, so
// Server never fails.
func (c *Config) Server() ServerConfig {
	return ServerConfig{
		Addr:            optionalEnv("ALETHEIA_SERVER_ADDR", ":8080"),
		RateLimit:       optionalEnvInt("ALETHEIA_RATE_LIMIT", 60),
		RateLimitWindow: time.Minute,
	}
}

// defaultPersonaPrompt is used when ALETHEIA_PERSONA_PROMPT is unset: a
// plain, citation-disciplined assistant persona rather than a stylized one.
// Per spec.md's open question, persona choice is a deployment concern, so
// an operator who wants a different voice sets the environment variable
// rather than changing code.
const defaultPersonaPrompt = "You are a helpful assistant answering questions from a personal knowledge base. Be concise and accurate."

// PersonaPrompt reads the configured assistant persona, falling back to a
// plain default.
func (c *Config) PersonaPrompt() string {
	return optionalEnv("ALETHEIA_PERSONA_PROMPT", defaultPersonaPrompt)
}

// RemoteTool describes a single remote tool endpoint declared via
// ALETHEIA_TOOL_<NAME>_URL / ALETHEIA_TOOL_<NAME>_TOKEN.
type RemoteTool struct {
	Name  string
	URL   string
	Token string
}

// RemoteTools scans the environment for ALETHEIA_TOOL_*_URL pairs and
// returns the declared remote tool endpoints. An absent bearer token is
// not an error; the tool is simply called unauthenticated.
func (c *Config) RemoteTools() []RemoteTool {
	const prefix = "ALETHEIA_TOOL_"
	const suffix = "_URL"

	seen := make(map[string]bool)
	var tools []RemoteTool

	for _, kv := range os.Environ() {
		key, value, ok := splitEnv(kv)
		if !ok || !hasPrefixSuffix(key, prefix, suffix) {
			continue
		}
		name := key[len(prefix) : len(key)-len(suffix)]
		if seen[name] {
			continue
		}
		seen[name] = true
		tools = append(tools, RemoteTool{
			Name:  name,
			URL:   value,
			Token: os.Getenv(prefix + name + "_TOKEN"),
		})
	}

	return tools
}

func splitEnv(kv string) (key, value string, ok bool) {
	for i := 0; i < len(kv); i++ {
		if kv[i] == '=' {
			return kv[:i], kv[i+1:], true
		}
	}
	return "", "", false
}

func hasPrefixSuffix(s, prefix, suffix string) bool {
	return len(s) > len(prefix)+len(suffix) &&
		s[:len(prefix)] == prefix &&
		s[len(s)-len(suffix):] == suffix
}

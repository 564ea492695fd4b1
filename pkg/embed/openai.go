package embed

import (
	"context"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/aletheia-kb/aletheia/pkg/apperr"
	"github.com/aletheia-kb/aletheia/pkg/config"
)

// modelDimensions holds the known output dimension for OpenAI's embedding
// models, used when a caller doesn't override it explicitly.
var modelDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// OpenAIProvider implements Provider using the official OpenAI SDK.
type OpenAIProvider struct {
	client    openai.Client
	model     string
	dimension int
}

// NewOpenAIProvider builds a Provider from the embedder configuration.
func NewOpenAIProvider(cfg config.EmbedderConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, apperr.ConfigMissing("embed", "NewOpenAIProvider", "API key is required for the OpenAI embedder")
	}

	model := cfg.Model
	if model == "" {
		model = "text-embedding-3-small"
	}

	dimension := modelDimensions[model]
	if dimension == 0 {
		dimension = 1536
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIProvider{
		client:    openai.NewClient(opts...),
		model:     model,
		dimension: dimension,
	}, nil
}

// Embed implements Provider.
func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch implements Provider, preserving input/output order via each
// response item's Index field.
func (p *OpenAIProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := p.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(p.model),
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
	})
	if err != nil {
		return nil, err
	}

	vectors := make([][]float32, len(texts))
	for _, item := range resp.Data {
		if int(item.Index) >= len(vectors) {
			continue
		}
		vec := make([]float32, len(item.Embedding))
		for i, f := range item.Embedding {
			vec[i] = float32(f)
		}
		vectors[item.Index] = vec
	}

	return vectors, nil
}

// Dimension implements Provider.
func (p *OpenAIProvider) Dimension() int { return p.dimension }

// ModelName implements Provider.
func (p *OpenAIProvider) ModelName() string { return p.model }

var _ Provider = (*OpenAIProvider)(nil)

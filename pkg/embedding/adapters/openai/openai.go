package openai

import (
	"context"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/sync/errgroup"

	rmerrors "github.com/lexlapax/ragmem/pkg/errors"
	"github.com/lexlapax/ragmem/pkg/log"
)

var (
	// ErrEmptyAPIKey is returned when the API key is missing.
	ErrEmptyAPIKey = errors.New("API key cannot be empty")
)

// Config holds the configuration for the OpenAI embedding adapter.
type Config struct {
	// APIKey is the OpenAI API key.
	APIKey string
	// Model is the embedding model, e.g., "text-embedding-3-small".
	Model string
	// BaseURL is the base URL for the OpenAI API (for testing).
	BaseURL string
	// Dimensions is the vector length the model produces.
	Dimensions int
	// BatchSize caps how many texts go into one API request; larger
	// inputs are split into sub-batches embedded concurrently.
	BatchSize int
}

// OpenAIProvider implements embedding.Provider using the OpenAI API.
type OpenAIProvider struct {
	client     *openai.Client
	model      string
	dimensions int
	batchSize  int
}

// NewOpenAIProvider creates a new OpenAI embedding provider.
func NewOpenAIProvider(config Config) (*OpenAIProvider, error) {
	if config.APIKey == "" {
		return nil, ErrEmptyAPIKey
	}

	// Set defaults if not specified
	if config.Model == "" {
		config.Model = "text-embedding-3-small"
	}
	if config.Dimensions <= 0 {
		config.Dimensions = 1536
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 128
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	return &OpenAIProvider{
		client:     openai.NewClientWithConfig(clientConfig),
		model:      config.Model,
		dimensions: config.Dimensions,
		batchSize:  config.BatchSize,
	}, nil
}

// Dimensions returns the configured vector length.
func (p *OpenAIProvider) Dimensions() int {
	return p.dimensions
}

// Embed converts a single text into a vector.
func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch converts texts into vectors, splitting oversized inputs into
// sub-batches that are embedded concurrently.
func (p *OpenAIProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	log.Debug("Generating embeddings", "count", len(texts), "model", p.model)

	if len(texts) <= p.batchSize {
		return p.embedChunk(ctx, texts)
	}

	vectors := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	for start := 0; start < len(texts); start += p.batchSize {
		start := start
		end := start + p.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		g.Go(func() error {
			batch, err := p.embedChunk(gctx, texts[start:end])
			if err != nil {
				return err
			}
			copy(vectors[start:end], batch)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

func (p *OpenAIProvider) embedChunk(ctx context.Context, texts []string) ([][]float32, error) {
	request := openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(p.model),
	}

	response, err := p.client.CreateEmbeddings(ctx, request)
	if err != nil {
		log.Error("Failed to generate embeddings", "error", err)
		return nil, rmerrors.Wrap(rmerrors.ErrEmbeddingUnavailable, "creating embeddings: %v", err)
	}

	if len(response.Data) != len(texts) {
		return nil, rmerrors.Wrap(rmerrors.ErrEmbeddingUnavailable,
			"embedding count mismatch: sent %d, received %d", len(texts), len(response.Data))
	}

	vectors := make([][]float32, len(response.Data))
	for i, data := range response.Data {
		if p.dimensions > 0 && len(data.Embedding) != p.dimensions {
			return nil, fmt.Errorf("unexpected embedding dimension: got %d, want %d",
				len(data.Embedding), p.dimensions)
		}
		vectors[i] = data.Embedding
	}
	return vectors, nil
}

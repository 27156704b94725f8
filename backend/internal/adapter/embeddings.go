package adapter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sashabaranov/go-openai"
	"gnosis/backend/pkg/errors"
	"gnosis/backend/pkg/logger"
	"go.uber.org/zap"
)

// EmbeddingAdapter produces fixed-dimension embedding vectors via the
// OpenAI embeddings API (or any OpenAI-compatible gateway)
type EmbeddingAdapter struct {
	client    *openai.Client
	model     string
	dimension int
	mu        sync.RWMutex // Protects model field for concurrent access
	logger    *zap.Logger
}

// NewEmbeddingAdapter creates a new embedding adapter. baseURL may be empty
// to use the OpenAI default; dimension must match the vector collection.
func NewEmbeddingAdapter(baseURL, apiKey, model string, dimension int) *EmbeddingAdapter {
	// Local gateways accept any key
	if apiKey == "" {
		apiKey = "dummy-key"
	}

	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL + "/v1"
	}

	return &EmbeddingAdapter{
		client:    openai.NewClientWithConfig(config),
		model:     model,
		dimension: dimension,
		logger:    logger.Named("embeddings"),
	}
}

// Dimension returns the configured vector dimension
func (a *EmbeddingAdapter) Dimension() int {
	return a.dimension
}

// SetModel updates the model used by this adapter
func (a *EmbeddingAdapter) SetModel(model string) {
	if model != "" {
		a.mu.Lock()
		a.model = model
		a.mu.Unlock()
		a.logger.Debug("Embedding model updated", zap.String("model", model))
	}
}

// EmbedText embeds a single text into a vector of the configured dimension
func (a *EmbeddingAdapter) EmbedText(ctx context.Context, text string) ([]float32, error) {
	a.mu.RLock()
	currentModel := a.model
	a.mu.RUnlock()

	req := openai.EmbeddingRequest{
		Input:      []string{text},
		Model:      openai.EmbeddingModel(currentModel),
		Dimensions: a.dimension,
	}

	// Retry logic with exponential backoff
	var resp openai.EmbeddingResponse
	var err error
	maxRetries := 3
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * time.Second
			a.logger.Warn("Retrying embedding request",
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", backoff),
			)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		resp, err = a.client.CreateEmbeddings(ctx, req)
		if err == nil {
			break
		}

		a.logger.Error("Embedding request failed",
			zap.Error(err),
			zap.Int("attempt", attempt+1),
			zap.String("model", currentModel),
		)
	}
	if err != nil {
		return nil, errors.NewEmbeddingFailed(currentModel, err)
	}

	if len(resp.Data) == 0 {
		return nil, errors.NewEmbeddingFailed(currentModel, fmt.Errorf("no embedding in response"))
	}

	embedding := resp.Data[0].Embedding
	if len(embedding) != a.dimension {
		// Dimension drift means a misconfigured model, not a bad request
		return nil, errors.NewEmbeddingDimensionMismatch(a.dimension, len(embedding))
	}

	return embedding, nil
}

// Package ai provides the embedding client used to vectorize query text.
// Stored entity embeddings come from the external ingestion pipeline; this
// client only serves interactive queries whose embedding is not cached.
package ai

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"

	"github.com/mailsense/mailsense/internal/profile"
)

// EmbeddingService is the vector embedding service interface.
type EmbeddingService interface {
	// Embed generates a vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates vectors for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Model returns the embedding model identifier.
	Model() string

	// Dimensions returns the vector dimension.
	Dimensions() int
}

type embeddingService struct {
	client     *openai.Client
	model      string
	dimensions int
}

// NewEmbeddingService creates an EmbeddingService from the profile. Any
// OpenAI-compatible endpoint works via the base URL override.
func NewEmbeddingService(profile *profile.Profile) (EmbeddingService, error) {
	if profile.AIAPIKey == "" {
		return nil, errors.New("embedding service requires an API key")
	}

	clientConfig := openai.DefaultConfig(profile.AIAPIKey)
	if profile.AIBaseURL != "" {
		clientConfig.BaseURL = profile.AIBaseURL
	}

	return &embeddingService{
		client:     openai.NewClientWithConfig(clientConfig),
		model:      profile.AIEmbeddingModel,
		dimensions: profile.EmbeddingDim,
	}, nil
}

func (s *embeddingService) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := s.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, errors.New("empty embedding result")
	}
	return vectors[0], nil
}

func (s *embeddingService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, errors.New("no texts provided for embedding")
	}

	req := openai.EmbeddingRequest{
		Input:      texts,
		Model:      openai.EmbeddingModel(s.model),
		Dimensions: s.dimensions,
	}

	resp, err := s.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, errors.Wrap(err, "create embeddings failed")
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("empty embedding response")
	}

	vectors := make([][]float32, len(resp.Data))
	for i, data := range resp.Data {
		vectors[i] = data.Embedding
	}
	return vectors, nil
}

func (s *embeddingService) Model() string {
	return s.model
}

func (s *embeddingService) Dimensions() int {
	return s.dimensions
}

package embedding

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"document-rag/internal/apperr"
	"document-rag/internal/config"
	"document-rag/internal/models"
)

const defaultBatchSize = 32

// NewEmbedder builds the embedder for the configured provider. Index time and
// query time must use the same model, so both go through here.
func NewEmbedder(llmConfig *config.LLMConfig) (embeddings.Embedder, error) {
	log.Debug().Interface("config", map[string]string{
		"provider":        llmConfig.Provider,
		"base_url":        llmConfig.BaseURL,
		"embedding_model": llmConfig.Model,
	}).Msg("Creating embedder")

	var (
		client embeddings.EmbedderClient
		err    error
	)
	switch llmConfig.Provider {
	case config.ProviderOllama:
		opts := []ollama.Option{ollama.WithModel(llmConfig.Model)}
		if llmConfig.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(llmConfig.BaseURL))
		}
		client, err = ollama.New(opts...)
	case config.ProviderOpenAI:
		if llmConfig.Key == "" {
			return nil, apperr.Config("new embedder", fmt.Errorf("openai: %w", apperr.ErrMissingCredentials))
		}
		opts := []openai.Option{
			openai.WithEmbeddingModel(llmConfig.Model),
			openai.WithToken(strings.TrimPrefix(llmConfig.Key, "Bearer ")),
		}
		if llmConfig.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(llmConfig.BaseURL))
		}
		client, err = openai.New(opts...)
	default:
		return nil, apperr.Config("new embedder", fmt.Errorf("unsupported embedding provider %q", llmConfig.Provider))
	}
	if err != nil {
		return nil, apperr.Config("new embedder", fmt.Errorf("initialize %s client: %w", llmConfig.Provider, err))
	}

	embedder, err := embeddings.NewEmbedder(client, embeddings.WithBatchSize(defaultBatchSize))
	if err != nil {
		return nil, apperr.Config("new embedder", err)
	}
	return embedder, nil
}

// GenerateEmbedding embeds every chunk. The result is parallel to chunks.
func GenerateEmbedding(ctx context.Context, embedder embeddings.Embedder, chunks []models.Chunk) ([]models.ChunkEmbedding, error) {
	if len(chunks) == 0 {
		return nil, apperr.Data("generate embedding", apperr.ErrNoChunks)
	}

	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Content
	}

	vectors, err := embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, apperr.Upstream("generate embedding", err)
	}
	if len(vectors) != len(chunks) {
		return nil, apperr.Upstream("generate embedding",
			fmt.Errorf("received %d embeddings for %d chunks", len(vectors), len(chunks)))
	}

	chunkEmbeddings := make([]models.ChunkEmbedding, len(chunks))
	dim := len(vectors[0])
	for i, chunk := range chunks {
		if len(vectors[i]) == 0 || len(vectors[i]) != dim {
			return nil, apperr.Upstream("generate embedding",
				fmt.Errorf("chunk %s: embedding has %d dimensions, want %d", chunk.ID(), len(vectors[i]), dim))
		}
		chunkEmbeddings[i] = models.ChunkEmbedding{Chunk: chunk, Embedding: vectors[i]}
	}
	log.Debug().Int("chunks", len(chunks)).Int("dimension", dim).Msg("Generated embeddings")
	return chunkEmbeddings, nil
}

// EmbedQuery embeds a single query string.
func EmbedQuery(ctx context.Context, embedder embeddings.Embedder, query string) ([]float32, error) {
	vector, err := embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, apperr.Upstream("embed query", err)
	}
	if len(vector) == 0 {
		return nil, apperr.Upstream("embed query", fmt.Errorf("empty embedding for query"))
	}
	return vector, nil
}

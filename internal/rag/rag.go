package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/prompts"

	"document-rag/internal/apperr"
	"document-rag/internal/embedding"
	"document-rag/internal/helper"
	"document-rag/internal/llmservice"
	"document-rag/internal/models"
	"document-rag/internal/vectorstore"
)

var lineBreaks = strings.NewReplacer("\n", "", "\r", "")

type RAG struct {
	embedder       embeddings.Embedder
	llm            llmservice.LanguageModel
	embeddingModel string
	template       prompts.PromptTemplate
	topK           int
}

// NewRAG answers questions with llm over chunks retrieved with embedder.
// embeddingModel must name the model the index was built with. topK <= 0
// falls back to models.DefaultTopK.
func NewRAG(embedder embeddings.Embedder, llm llmservice.LanguageModel, embeddingModel string, topK int) *RAG {
	if topK <= 0 {
		topK = models.DefaultTopK
	}
	return &RAG{
		embedder:       embedder,
		llm:            llm,
		embeddingModel: embeddingModel,
		template:       prompts.NewPromptTemplate(models.PromptTemplate, []string{"question", "docs"}),
		topK:           topK,
	}
}

// Query retrieves at most k chunks for query and asks the language model to
// answer from them. k <= 0 uses the default. The answer has no line breaks.
func (r *RAG) Query(ctx context.Context, idx vectorstore.Index, query string, k int) (*models.PromptResponse, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, apperr.Data("query", apperr.ErrEmptyQuery)
	}
	if k <= 0 {
		k = r.topK
	}

	manifest := idx.Manifest()
	if manifest.EmbeddingModel != "" && manifest.EmbeddingModel != r.embeddingModel {
		return nil, apperr.Config("query", fmt.Errorf("%w: index built with %q, configured %q",
			apperr.ErrEmbeddingModelMismatch, manifest.EmbeddingModel, r.embeddingModel))
	}

	queryID, err := helper.GenerateUUID()
	if err != nil {
		return nil, err
	}
	logger := log.With().Str("query_id", queryID).Logger()

	vector, err := embedding.EmbedQuery(ctx, r.embedder, query)
	if err != nil {
		return nil, err
	}
	if manifest.Dimension > 0 && len(vector) != manifest.Dimension {
		return nil, apperr.Config("query", fmt.Errorf("%w: query embedding has %d dimensions, index has %d",
			apperr.ErrEmbeddingModelMismatch, len(vector), manifest.Dimension))
	}

	chunks, err := idx.Query(ctx, vector, k)
	if err != nil {
		return nil, err
	}
	logger.Debug().Int("k", k).Int("retrieved", len(chunks)).Msg("Retrieved chunks")

	docs := make([]string, len(chunks))
	for i, c := range chunks {
		docs[i] = c.Content
	}

	prompt, err := r.template.Format(map[string]any{
		"question": query,
		"docs":     strings.Join(docs, " "),
	})
	if err != nil {
		return nil, apperr.Config("format prompt", err)
	}

	answer, err := r.llm.Complete(ctx, prompt)
	if err != nil {
		return nil, err
	}
	logger.Info().Int("answer_chars", len(answer)).Msg("Answered query")

	return &models.PromptResponse{
		Query:   query,
		Chunks:  chunks,
		Content: lineBreaks.Replace(answer),
	}, nil
}

// Package indexer builds the persisted vector index from a document directory,
// or reuses it when one already exists.
package indexer

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"

	"document-rag/internal/apperr"
	"document-rag/internal/config"
	"document-rag/internal/embedding"
	"document-rag/internal/parser"
	"document-rag/internal/vectorstore"
)

// Status says how BuildOrLoad obtained its index.
type Status int

const (
	Built Status = iota + 1
	Reused
)

func (s Status) String() string {
	switch s {
	case Built:
		return "built"
	case Reused:
		return "reused"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Result is the outcome of BuildOrLoad or Rebuild.
type Result struct {
	Index     vectorstore.Index
	Status    Status
	Documents int
	Chunks    int
	Duration  time.Duration
}

type Indexer struct {
	backend        vectorstore.Backend
	loader         parser.Loader
	splitter       *parser.Splitter
	embedder       embeddings.Embedder
	embeddingModel string
	chunking       config.ChunkingConfig
}

// New wires an indexer. embeddingModel is recorded in the manifest so queries
// can check they embed with the same model.
func New(backend vectorstore.Backend, loader parser.Loader, chunking config.ChunkingConfig, embedder embeddings.Embedder, embeddingModel string) (*Indexer, error) {
	splitter, err := parser.NewSplitter(chunking)
	if err != nil {
		return nil, err
	}
	if chunking.Strategy == "" {
		chunking.Strategy = config.StrategyWindow
	}
	return &Indexer{
		backend:        backend,
		loader:         loader,
		splitter:       splitter,
		embedder:       embedder,
		embeddingModel: embeddingModel,
		chunking:       chunking,
	}, nil
}

// NewFromConfig wires an indexer from loaded configuration.
func NewFromConfig(cfg *config.Config, backend vectorstore.Backend, embedder embeddings.Embedder) (*Indexer, error) {
	return New(backend, parser.DirLoader{Glob: cfg.Documents.Glob}, cfg.Chunking, embedder, cfg.EmbedLLM.Model)
}

// BuildOrLoad reuses an existing index without looking at path. Otherwise it
// builds one from the documents under path.
func (ix *Indexer) BuildOrLoad(ctx context.Context, path string) (Result, error) {
	start := time.Now()
	exists, err := ix.backend.Exists(ctx)
	if err != nil {
		return Result{}, err
	}
	if !exists {
		return ix.build(ctx, path)
	}

	idx, err := ix.backend.Open(ctx)
	if err != nil {
		return Result{}, err
	}
	m := idx.Manifest()
	log.Warn().
		Str("collection", m.Collection).
		Time("created_at", m.CreatedAt).
		Bool("may_be_stale", true).
		Msg("Reusing existing index; source changes are not detected, use index --force to rebuild")
	return Result{
		Index:     idx,
		Status:    Reused,
		Documents: m.Documents,
		Chunks:    idx.Count(),
		Duration:  time.Since(start),
	}, nil
}

// Rebuild drops any existing index and builds afresh.
func (ix *Indexer) Rebuild(ctx context.Context, path string) (Result, error) {
	if err := ix.backend.Drop(ctx); err != nil {
		return Result{}, err
	}
	log.Info().Str("path", path).Msg("Dropped existing index")
	return ix.build(ctx, path)
}

func (ix *Indexer) build(ctx context.Context, path string) (Result, error) {
	start := time.Now()
	log.Info().Str("path", path).Msg("Building index")

	var documents, chunks int
	idx, err := ix.backend.Build(ctx, func(idx vectorstore.Index) (vectorstore.Manifest, error) {
		pages, n, err := ix.loader.Load(path)
		if err != nil {
			return vectorstore.Manifest{}, err
		}
		documents = n

		parts, err := ix.splitter.Split(pages)
		if err != nil {
			return vectorstore.Manifest{}, err
		}
		if len(parts) == 0 {
			return vectorstore.Manifest{}, apperr.Data("build index", fmt.Errorf("%w from %d documents in %s", apperr.ErrNoChunks, n, path))
		}
		chunks = len(parts)
		log.Info().Int("documents", n).Int("pages", len(pages)).Int("chunks", chunks).Msg("Split documents")

		chunkEmbeddings, err := embedding.GenerateEmbedding(ctx, ix.embedder, parts)
		if err != nil {
			return vectorstore.Manifest{}, err
		}
		vectors := make([][]float32, len(chunkEmbeddings))
		for i, ce := range chunkEmbeddings {
			vectors[i] = ce.Embedding
		}
		if err := idx.Add(ctx, parts, vectors); err != nil {
			return vectorstore.Manifest{}, err
		}

		return vectorstore.Manifest{
			EmbeddingModel: ix.embeddingModel,
			Dimension:      len(vectors[0]),
			ChunkStrategy:  ix.chunking.Strategy,
			ChunkSize:      ix.chunking.Size,
			ChunkOverlap:   ix.chunking.Overlap,
			Documents:      documents,
			Chunks:         chunks,
			CreatedAt:      time.Now().UTC().Truncate(time.Second),
		}, nil
	})
	if err != nil {
		return Result{}, err
	}

	res := Result{
		Index:     idx,
		Status:    Built,
		Documents: documents,
		Chunks:    chunks,
		Duration:  time.Since(start),
	}
	log.Info().Int("documents", documents).Int("chunks", chunks).Dur("duration", res.Duration).Msg("Built index")
	return res, nil
}

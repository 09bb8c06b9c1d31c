package vectorstore

import (
	"context"
	"time"

	"document-rag/internal/models"
)

// Manifest describes how an index was built. Backends persist it last, so its
// presence marks a complete build.
type Manifest struct {
	Collection     string    `yaml:"collection"`
	EmbeddingModel string    `yaml:"embedding_model"`
	Dimension      int       `yaml:"dimension"`
	ChunkStrategy  string    `yaml:"chunk_strategy"`
	ChunkSize      int       `yaml:"chunk_size"`
	ChunkOverlap   int       `yaml:"chunk_overlap"`
	Documents      int       `yaml:"documents"`
	Chunks         int       `yaml:"chunks"`
	CreatedAt      time.Time `yaml:"created_at"`
}

// Index is a collection of chunks searchable by vector proximity.
type Index interface {
	// Add stores chunks[i] with embeddings[i].
	Add(ctx context.Context, chunks []models.Chunk, embeddings [][]float32) error

	// Query returns at most k chunks, most similar first.
	Query(ctx context.Context, vector []float32, k int) ([]models.Chunk, error)

	Count() int

	Manifest() Manifest
}

// Backend opens or creates the persisted index for one collection.
type Backend interface {
	// Exists reports whether a persisted index is present. It is the only
	// signal used to choose between reuse and rebuild.
	Exists(ctx context.Context) (bool, error)

	Open(ctx context.Context) (Index, error)

	// Build creates an empty index, lets fill populate it and commits it with
	// the manifest returned by fill. Nothing is visible to Exists until fill
	// succeeds.
	Build(ctx context.Context, fill func(Index) (Manifest, error)) (Index, error)

	// Drop removes the persisted index. Dropping a missing index is not an error.
	Drop(ctx context.Context) error
}

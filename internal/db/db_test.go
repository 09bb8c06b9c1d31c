package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"

	"document-rag/internal/apperr"
	"document-rag/internal/config"
	"document-rag/internal/models"
	"document-rag/internal/vectorstore"
)

// createTestDatabase starts postgres with the pgvector extension available.
func createTestDatabase(ctx context.Context, t *testing.T) *bun.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping pgvector container test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	pgContainer, err := postgres.Run(ctx,
		"pgvector/pgvector:pg16",
		postgres.WithDatabase("rag"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		terminateCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := pgContainer.Terminate(terminateCtx); err != nil {
			t.Logf("Warning: failed to terminate container: %s", err)
		}
	})

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db := NewDB(ConnectDB(&config.DatabaseConfig{DSN: dsn}), false)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestPGVectorStore(t *testing.T) {
	ctx := context.Background()
	db := createTestDatabase(ctx, t)
	store := NewPGVectorStore(db, "docs")

	exists, err := store.Exists(ctx)
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = store.Open(ctx)
	assert.ErrorIs(t, err, apperr.ErrIndexIncomplete)

	chunks := []models.Chunk{
		{Content: "north", SourceFilename: "a.pdf", PageNumber: 1, ChunkID: 1},
		{Content: "east", SourceFilename: "a.pdf", PageNumber: 1, ChunkID: 2},
		{Content: "south", SourceFilename: "b.pdf", PageNumber: 4, ChunkID: 1},
	}
	vecs := [][]float32{{0, 1}, {1, 0}, {0, -1}}

	idx, err := store.Build(ctx, func(idx vectorstore.Index) (vectorstore.Manifest, error) {
		if err := idx.Add(ctx, chunks, vecs); err != nil {
			return vectorstore.Manifest{}, err
		}
		return vectorstore.Manifest{EmbeddingModel: "compass", Dimension: 2, Chunks: len(chunks), Documents: 2}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, idx.Count())
	assert.Equal(t, "compass", idx.Manifest().EmbeddingModel)

	exists, err = store.Exists(ctx)
	require.NoError(t, err)
	assert.True(t, exists)

	got, err := idx.Query(ctx, []float32{0.1, 0.9}, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, chunks[0], got[0])
	assert.Equal(t, chunks[1], got[1])

	other := NewPGVectorStore(db, "other")
	exists, err = other.Exists(ctx)
	require.NoError(t, err)
	assert.False(t, exists, "collections are independent")

	require.NoError(t, store.Drop(ctx))
	exists, err = store.Exists(ctx)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestPGVectorStore_FailedBuildLeavesNothing(t *testing.T) {
	ctx := context.Background()
	db := createTestDatabase(ctx, t)
	store := NewPGVectorStore(db, "docs")

	_, err := store.Build(ctx, func(idx vectorstore.Index) (vectorstore.Manifest, error) {
		if err := idx.Add(ctx, []models.Chunk{{Content: "x", SourceFilename: "x.pdf", PageNumber: 1, ChunkID: 1}}, [][]float32{{1, 1}}); err != nil {
			return vectorstore.Manifest{}, err
		}
		return vectorstore.Manifest{}, apperr.Upstream("embed", assert.AnError)
	})
	assert.ErrorIs(t, err, apperr.ErrUpstream)

	exists, err := store.Exists(ctx)
	require.NoError(t, err)
	assert.False(t, exists)

	count, err := db.NewSelect().Model((*Document)(nil)).Where("collection = ?", "docs").Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

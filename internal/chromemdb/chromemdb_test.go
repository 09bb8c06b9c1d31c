package chromemdb

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"document-rag/internal/apperr"
	"document-rag/internal/models"
	"document-rag/internal/testutil"
	"document-rag/internal/vectorstore"
)

func sampleChunks() []models.Chunk {
	return []models.Chunk{
		{Content: "aaaa aaaa", SourceFilename: "a.pdf", PageNumber: 1, ChunkID: 1},
		{Content: "bbbb bbbb", SourceFilename: "a.pdf", PageNumber: 1, ChunkID: 2},
		{Content: "aaab", SourceFilename: "b.pdf", PageNumber: 2, ChunkID: 1},
		{Content: "cccc", SourceFilename: "b.pdf", PageNumber: 3, ChunkID: 1},
		{Content: "abcd", SourceFilename: "c.pdf", PageNumber: 1, ChunkID: 1},
		{Content: "dddd dddd dddd", SourceFilename: "c.pdf", PageNumber: 1, ChunkID: 2},
	}
}

func vectors(chunks []models.Chunk) [][]float32 {
	out := make([][]float32, len(chunks))
	for i, c := range chunks {
		out[i] = testutil.Letters(c.Content)
	}
	return out
}

func buildSample(t *testing.T, m *VectorDBManager) vectorstore.Index {
	t.Helper()
	chunks := sampleChunks()
	idx, err := m.Build(context.Background(), func(idx vectorstore.Index) (vectorstore.Manifest, error) {
		if err := idx.Add(context.Background(), chunks, vectors(chunks)); err != nil {
			return vectorstore.Manifest{}, err
		}
		return vectorstore.Manifest{EmbeddingModel: "letters", Dimension: 27, Chunks: len(chunks), Documents: 3}, nil
	})
	require.NoError(t, err)
	return idx
}

func TestVectorDBManager_BuildAndOpen(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "chroma_db")
	m := NewVectorDBManager(dbPath, "documents", false, nil)

	exists, err := m.Exists(ctx)
	require.NoError(t, err)
	assert.False(t, exists)

	built := buildSample(t, m)
	assert.Equal(t, 6, built.Count())
	assert.Equal(t, "letters", built.Manifest().EmbeddingModel)
	assert.Equal(t, "documents", built.Manifest().Collection)

	exists, err = m.Exists(ctx)
	require.NoError(t, err)
	assert.True(t, exists)

	entries, err := os.ReadDir(filepath.Dir(dbPath))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "staging directory must be cleaned up")

	reopened, err := NewVectorDBManager(dbPath, "documents", false, nil).Open(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, reopened.Count())
	assert.Equal(t, built.Manifest(), reopened.Manifest())
}

func TestIndex_Query(t *testing.T) {
	ctx := context.Background()
	m := NewVectorDBManager(filepath.Join(t.TempDir(), "db"), "documents", false, nil)
	idx := buildSample(t, m)

	q := testutil.Letters("aaaa")
	got, err := idx.Query(ctx, q, 4)
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, models.Chunk{Content: "aaaa aaaa", SourceFilename: "a.pdf", PageNumber: 1, ChunkID: 1}, got[0])
	assert.Equal(t, "aaab", got[1].Content)

	again, err := idx.Query(ctx, q, 4)
	require.NoError(t, err)
	assert.Equal(t, got, again, "same query against an unchanged index returns the same order")

	all, err := idx.Query(ctx, q, 50)
	require.NoError(t, err)
	assert.Len(t, all, 6, "k larger than the index is clamped")

	none, err := idx.Query(ctx, q, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestIndex_AddMismatch(t *testing.T) {
	m := NewVectorDBManager(filepath.Join(t.TempDir(), "db"), "documents", false, nil)
	_, err := m.Build(context.Background(), func(idx vectorstore.Index) (vectorstore.Manifest, error) {
		return vectorstore.Manifest{}, idx.Add(context.Background(), sampleChunks(), nil)
	})
	assert.ErrorIs(t, err, apperr.ErrData)

	exists, err := m.Exists(context.Background())
	require.NoError(t, err)
	assert.False(t, exists, "failed build leaves nothing behind")
}

func TestVectorDBManager_OpenIncomplete(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "chroma_db")
	require.NoError(t, os.MkdirAll(dbPath, 0o755))
	m := NewVectorDBManager(dbPath, "documents", false, nil)

	_, err := m.Open(ctx)
	assert.ErrorIs(t, err, apperr.ErrIndexIncomplete)

	require.NoError(t, writeManifest(dbPath, vectorstore.Manifest{EmbeddingModel: "letters"}))
	_, err = m.Open(ctx)
	assert.ErrorIs(t, err, apperr.ErrIndexIncomplete, "manifest without collection")
}

func TestVectorDBManager_Drop(t *testing.T) {
	ctx := context.Background()
	m := NewVectorDBManager(filepath.Join(t.TempDir(), "db"), "documents", false, nil)
	buildSample(t, m)

	require.NoError(t, m.Drop(ctx))
	exists, err := m.Exists(ctx)
	require.NoError(t, err)
	assert.False(t, exists)
	require.NoError(t, m.Drop(ctx), "dropping twice is fine")
}

func TestIndex_QueryTiesOrderedByID(t *testing.T) {
	ctx := context.Background()
	m := NewVectorDBManager(filepath.Join(t.TempDir(), "db"), "documents", false, nil)

	var chunks []models.Chunk
	for page := 1; page <= 20; page++ {
		chunks = append(chunks, models.Chunk{Content: "confidential header", SourceFilename: "h.pdf", PageNumber: page, ChunkID: 1})
	}
	idx, err := m.Build(ctx, func(idx vectorstore.Index) (vectorstore.Manifest, error) {
		if err := idx.Add(ctx, chunks, vectors(chunks)); err != nil {
			return vectorstore.Manifest{}, err
		}
		return vectorstore.Manifest{EmbeddingModel: "letters", Dimension: 27, Chunks: len(chunks), Documents: 1}, nil
	})
	require.NoError(t, err)

	q := testutil.Letters("confidential header")
	first, err := idx.Query(ctx, q, 4)
	require.NoError(t, err)
	require.Len(t, first, 4)

	pages := make([]int, len(first))
	for n, c := range first {
		pages[n] = c.PageNumber
	}
	// IDs sort as strings: h.pdf-1-1 < h.pdf-10-1 < h.pdf-11-1 < ...
	assert.Equal(t, []int{1, 10, 11, 12}, pages)

	for range 50 {
		got, err := idx.Query(ctx, q, 4)
		require.NoError(t, err)
		require.Equal(t, first, got)
	}
}

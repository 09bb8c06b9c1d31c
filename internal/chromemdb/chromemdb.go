package chromemdb

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"
	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"document-rag/internal/apperr"
	"document-rag/internal/models"
	"document-rag/internal/vectorstore"
)

const (
	manifestFile = "index.yaml"
	// documents are written one at a time
	addConcurrency = 1
)

// VectorDBManager is a vectorstore.Backend over a persistent chromem-go
// database. The index lives in dbPath; builds happen in a sibling staging
// directory that is renamed into place once complete.
//
// There is no locking: two processes building the same dbPath race, and the
// last rename wins.
type VectorDBManager struct {
	dbPath         string
	collectionName string
	compress       bool
	embed          chromem.EmbeddingFunc
}

// NewVectorDBManager prepares a backend. embed is only called if chromem needs
// to embed text itself, which it does not because vectors are always supplied.
func NewVectorDBManager(dbPath, collectionName string, compress bool, embed chromem.EmbeddingFunc) *VectorDBManager {
	return &VectorDBManager{
		dbPath:         dbPath,
		collectionName: collectionName,
		compress:       compress,
		embed:          embed,
	}
}

func (m *VectorDBManager) Exists(_ context.Context) (bool, error) {
	_, err := os.Stat(m.dbPath)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, apperr.Config("stat index", err)
	}
}

func (m *VectorDBManager) Open(_ context.Context) (vectorstore.Index, error) {
	manifest, err := readManifest(m.dbPath)
	if err != nil {
		return nil, err
	}

	db, err := chromem.NewPersistentDB(m.dbPath, m.compress)
	if err != nil {
		return nil, apperr.Config("open index", fmt.Errorf("failed to open database: %w", err))
	}
	c := db.GetCollection(m.collectionName, m.embed)
	if c == nil {
		return nil, apperr.Data("open index",
			fmt.Errorf("%w: collection %q missing in %s", apperr.ErrIndexIncomplete, m.collectionName, m.dbPath))
	}

	log.Debug().Str("path", m.dbPath).Str("collection", c.Name).Int("documents", c.Count()).Msg("Opened vector database")
	return &Index{collection: c, manifest: manifest}, nil
}

func (m *VectorDBManager) Build(ctx context.Context, fill func(vectorstore.Index) (vectorstore.Manifest, error)) (vectorstore.Index, error) {
	parent := filepath.Dir(m.dbPath)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return nil, apperr.Config("build index", err)
	}
	staging := filepath.Join(parent, fmt.Sprintf(".%s.staging-%s", filepath.Base(m.dbPath), uuid.NewString()))
	defer os.RemoveAll(staging)

	db, err := chromem.NewPersistentDB(staging, m.compress)
	if err != nil {
		return nil, apperr.Config("build index", fmt.Errorf("failed to create database: %w", err))
	}
	c, err := db.CreateCollection(m.collectionName, nil, m.embed)
	if err != nil {
		return nil, apperr.Config("build index", fmt.Errorf("failed to create collection: %w", err))
	}

	manifest, err := fill(&Index{collection: c})
	if err != nil {
		return nil, err
	}
	manifest.Collection = m.collectionName
	if err := writeManifest(staging, manifest); err != nil {
		return nil, err
	}

	if err := os.Rename(staging, m.dbPath); err != nil {
		return nil, apperr.Config("build index", fmt.Errorf("commit %s: %w", m.dbPath, err))
	}
	log.Info().Str("path", m.dbPath).Int("chunks", manifest.Chunks).Msg("Persisted vector database")

	return m.Open(ctx)
}

func (m *VectorDBManager) Drop(_ context.Context) error {
	if err := os.RemoveAll(m.dbPath); err != nil {
		return apperr.Config("drop index", err)
	}
	return nil
}

func readManifest(dir string) (vectorstore.Manifest, error) {
	var manifest vectorstore.Manifest
	data, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return manifest, apperr.Data("open index", fmt.Errorf("%w: no %s in %s", apperr.ErrIndexIncomplete, manifestFile, dir))
		}
		return manifest, apperr.Config("open index", err)
	}
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return manifest, apperr.Data("open index", fmt.Errorf("%w: %s: %v", apperr.ErrIndexIncomplete, manifestFile, err))
	}
	return manifest, nil
}

func writeManifest(dir string, manifest vectorstore.Manifest) error {
	data, err := yaml.Marshal(manifest)
	if err != nil {
		return apperr.Config("write manifest", err)
	}
	if err := os.WriteFile(filepath.Join(dir, manifestFile), data, 0o644); err != nil {
		return apperr.Config("write manifest", err)
	}
	return nil
}

// Index is one chromem collection plus its manifest.
type Index struct {
	collection *chromem.Collection
	manifest   vectorstore.Manifest
}

func (i *Index) Add(ctx context.Context, chunks []models.Chunk, embeddings [][]float32) error {
	if len(chunks) != len(embeddings) {
		return apperr.Data("add documents", fmt.Errorf("%d chunks but %d embeddings", len(chunks), len(embeddings)))
	}
	docs := make([]chromem.Document, len(chunks))
	for n, chunk := range chunks {
		docs[n] = chromem.Document{
			ID:        chunk.ID(),
			Content:   chunk.Content,
			Metadata:  chunk.Metadata(),
			Embedding: embeddings[n],
		}
	}
	if err := i.collection.AddDocuments(ctx, docs, addConcurrency); err != nil {
		return apperr.Config("add documents", fmt.Errorf("failed to add documents: %w", err))
	}
	return nil
}

// Query ranks every document so that chunks with equal similarity are
// ordered by ID; chromem itself returns ties in no particular order.
func (i *Index) Query(ctx context.Context, vector []float32, k int) ([]models.Chunk, error) {
	total := i.collection.Count()
	if k <= 0 || total == 0 {
		return nil, nil
	}
	results, err := i.collection.QueryEmbedding(ctx, vector, total, nil, nil)
	if err != nil {
		return nil, apperr.Data("query index", fmt.Errorf("failed to query by similarity: %w", err))
	}
	sort.SliceStable(results, func(a, b int) bool {
		if results[a].Similarity != results[b].Similarity {
			return results[a].Similarity > results[b].Similarity
		}
		return results[a].ID < results[b].ID
	})
	results = results[:min(k, len(results))]

	chunks := make([]models.Chunk, len(results))
	for n, r := range results {
		chunks[n] = models.ChunkFromMetadata(r.Content, r.Metadata)
	}
	return chunks, nil
}

func (i *Index) Count() int { return i.collection.Count() }

func (i *Index) Manifest() vectorstore.Manifest { return i.manifest }

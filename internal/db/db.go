package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"document-rag/internal/apperr"
	"document-rag/internal/config"
	"document-rag/internal/models"
	"document-rag/internal/vectorstore"
)

const insertBatchSize = 100

type Document struct {
	bun.BaseModel  `bun:"table:documents,alias:d"`
	ID             int64  `bun:"id,pk,autoincrement"`
	Collection     string `bun:"collection,notnull"`
	ChunkKey       string `bun:"chunk_key,notnull"`
	Content        string `bun:"content,notnull"`
	Embedding      Vector `bun:"embedding,notnull,type:vector"`
	SourceFilename string `bun:"source_filename,notnull"`
	PageNumber     int    `bun:"page_number,notnull"`
	ChunkID        int    `bun:"chunk_id,notnull"`
}

// IndexManifest is the commit marker of a collection. It is inserted after all
// of its documents.
type IndexManifest struct {
	bun.BaseModel  `bun:"table:index_manifests,alias:m"`
	Collection     string    `bun:"collection,pk"`
	EmbeddingModel string    `bun:"embedding_model,notnull"`
	Dimension      int       `bun:"dimension,notnull"`
	ChunkStrategy  string    `bun:"chunk_strategy,notnull"`
	ChunkSize      int       `bun:"chunk_size,notnull"`
	ChunkOverlap   int       `bun:"chunk_overlap,notnull"`
	Documents      int       `bun:"documents,notnull"`
	Chunks         int       `bun:"chunks,notnull"`
	CreatedAt      time.Time `bun:"created_at,notnull"`
}

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	db.AddQueryHook(bundebug.NewQueryHook(
		bundebug.WithEnabled(debug),
		bundebug.WithVerbose(debug),
	))
	return db
}

func ConnectDB(cfg *config.DatabaseConfig) *sql.DB {
	opts := []pgdriver.Option{pgdriver.WithDSN(cfg.DSN)}
	if cfg.Password != "" {
		opts = append(opts, pgdriver.WithPassword(cfg.Password))
	}
	return sql.OpenDB(pgdriver.NewConnector(opts...))
}

func InitDB(ctx context.Context, db bun.IDB) error {
	if _, err := db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return err
	}
	if _, err := db.NewCreateTable().Model((*Document)(nil)).IfNotExists().Exec(ctx); err != nil {
		return err
	}
	if _, err := db.NewCreateIndex().Model((*Document)(nil)).Index("documents_collection_idx").
		Column("collection").IfNotExists().Exec(ctx); err != nil {
		return err
	}
	_, err := db.NewCreateTable().Model((*IndexManifest)(nil)).IfNotExists().Exec(ctx)
	return err
}

// PGVectorStore is a vectorstore.Backend over postgres with the pgvector extension.
type PGVectorStore struct {
	db         *bun.DB
	collection string
}

func NewPGVectorStore(db *bun.DB, collection string) *PGVectorStore {
	return &PGVectorStore{db: db, collection: collection}
}

func (s *PGVectorStore) Exists(ctx context.Context) (bool, error) {
	if err := InitDB(ctx, s.db); err != nil {
		return false, apperr.Config("init database", err)
	}
	exists, err := s.db.NewSelect().Model((*IndexManifest)(nil)).
		Where("collection = ?", s.collection).Exists(ctx)
	if err != nil {
		return false, apperr.Config("check index", err)
	}
	return exists, nil
}

func (s *PGVectorStore) Open(ctx context.Context) (vectorstore.Index, error) {
	var m IndexManifest
	err := s.db.NewSelect().Model(&m).Where("collection = ?", s.collection).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.Data("open index", fmt.Errorf("%w: no manifest for collection %q", apperr.ErrIndexIncomplete, s.collection))
	}
	if err != nil {
		return nil, apperr.Config("open index", err)
	}
	log.Debug().Str("collection", s.collection).Int("chunks", m.Chunks).Msg("Opened pgvector index")
	return &collectionIndex{db: s.db, collection: s.collection, manifest: m.toManifest(), count: m.Chunks}, nil
}

// Build clears leftovers of an interrupted build, inserts the documents and
// writes the manifest last. On failure the partial rows are removed again.
func (s *PGVectorStore) Build(ctx context.Context, fill func(vectorstore.Index) (vectorstore.Manifest, error)) (vectorstore.Index, error) {
	if err := InitDB(ctx, s.db); err != nil {
		return nil, apperr.Config("init database", err)
	}
	if err := s.deleteDocuments(ctx); err != nil {
		return nil, err
	}

	idx := &collectionIndex{db: s.db, collection: s.collection}
	manifest, err := fill(idx)
	if err != nil {
		if cleanupErr := s.deleteDocuments(ctx); cleanupErr != nil {
			log.Warn().Err(cleanupErr).Str("collection", s.collection).Msg("Failed to remove partial index")
		}
		return nil, err
	}
	manifest.Collection = s.collection

	row := manifestRow(manifest)
	if _, err := s.db.NewInsert().Model(&row).Exec(ctx); err != nil {
		return nil, apperr.Config("write manifest", err)
	}
	log.Info().Str("collection", s.collection).Int("chunks", manifest.Chunks).Msg("Persisted pgvector index")
	return s.Open(ctx)
}

func (s *PGVectorStore) Drop(ctx context.Context) error {
	if err := InitDB(ctx, s.db); err != nil {
		return apperr.Config("init database", err)
	}
	if _, err := s.db.NewDelete().Model((*IndexManifest)(nil)).
		Where("collection = ?", s.collection).Exec(ctx); err != nil {
		return apperr.Config("drop index", err)
	}
	return s.deleteDocuments(ctx)
}

func (s *PGVectorStore) deleteDocuments(ctx context.Context) error {
	if _, err := s.db.NewDelete().Model((*Document)(nil)).
		Where("collection = ?", s.collection).Exec(ctx); err != nil {
		return apperr.Config("delete documents", err)
	}
	return nil
}

type collectionIndex struct {
	db         *bun.DB
	collection string
	manifest   vectorstore.Manifest
	count      int
}

func (i *collectionIndex) Add(ctx context.Context, chunks []models.Chunk, embeddings [][]float32) error {
	if len(chunks) != len(embeddings) {
		return apperr.Data("add documents", fmt.Errorf("%d chunks but %d embeddings", len(chunks), len(embeddings)))
	}
	docs := make([]Document, len(chunks))
	for n, c := range chunks {
		docs[n] = Document{
			Collection:     i.collection,
			ChunkKey:       c.ID(),
			Content:        c.Content,
			Embedding:      Vector(embeddings[n]),
			SourceFilename: c.SourceFilename,
			PageNumber:     c.PageNumber,
			ChunkID:        c.ChunkID,
		}
	}
	for start := 0; start < len(docs); start += insertBatchSize {
		batch := docs[start:min(start+insertBatchSize, len(docs))]
		if _, err := i.db.NewInsert().Model(&batch).Exec(ctx); err != nil {
			return apperr.Config("add documents", err)
		}
	}
	i.count += len(docs)
	return nil
}

// Query orders by L2 distance, ties broken by insertion order.
func (i *collectionIndex) Query(ctx context.Context, vector []float32, k int) ([]models.Chunk, error) {
	if k <= 0 {
		return nil, nil
	}
	var docs []Document
	err := i.db.NewSelect().
		Model(&docs).
		Column("content", "source_filename", "page_number", "chunk_id").
		Where("collection = ?", i.collection).
		OrderExpr("embedding <-> ?", Vector(vector)).
		OrderExpr("id ASC").
		Limit(k).
		Scan(ctx)
	if err != nil {
		return nil, apperr.Data("query index", err)
	}
	chunks := make([]models.Chunk, len(docs))
	for n, d := range docs {
		chunks[n] = models.Chunk{
			Content:        d.Content,
			SourceFilename: d.SourceFilename,
			PageNumber:     d.PageNumber,
			ChunkID:        d.ChunkID,
		}
	}
	return chunks, nil
}

func (i *collectionIndex) Count() int { return i.count }

func (i *collectionIndex) Manifest() vectorstore.Manifest { return i.manifest }

func manifestRow(m vectorstore.Manifest) IndexManifest {
	return IndexManifest{
		Collection:     m.Collection,
		EmbeddingModel: m.EmbeddingModel,
		Dimension:      m.Dimension,
		ChunkStrategy:  m.ChunkStrategy,
		ChunkSize:      m.ChunkSize,
		ChunkOverlap:   m.ChunkOverlap,
		Documents:      m.Documents,
		Chunks:         m.Chunks,
		CreatedAt:      m.CreatedAt,
	}
}

func (m IndexManifest) toManifest() vectorstore.Manifest {
	return vectorstore.Manifest{
		Collection:     m.Collection,
		EmbeddingModel: m.EmbeddingModel,
		Dimension:      m.Dimension,
		ChunkStrategy:  m.ChunkStrategy,
		ChunkSize:      m.ChunkSize,
		ChunkOverlap:   m.ChunkOverlap,
		Documents:      m.Documents,
		Chunks:         m.Chunks,
		CreatedAt:      m.CreatedAt,
	}
}

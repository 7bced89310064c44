package memory

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

func init() {
	sqlite_vec.Auto()
}

// SQLiteStore implements Store using SQLite with sqlite-vec for vector
// search. It is the fallback backend for deployments that want embedding
// similarity instead of Bleve's BM25 ranking.
type SQLiteStore struct {
	db        *sql.DB
	embedder  EmbeddingProvider
	dimension int
}

// SQLiteConfig configures the SQLite memory store.
type SQLiteConfig struct {
	Path     string
	Embedder EmbeddingProvider
}

// NewSQLiteStore opens (creating if necessary) a SQLite-backed Store.
func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("memory: open database: %w", err)
	}

	store := &SQLiteStore{
		db:        db,
		embedder:  cfg.Embedder,
		dimension: cfg.Embedder.Dimension(),
	}

	if err := store.init(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) init() error {
	var vecVersion string
	if err := s.db.QueryRow("SELECT vec_version()").Scan(&vecVersion); err != nil {
		return fmt.Errorf("memory: sqlite-vec extension not loaded: %w", err)
	}

	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS entries (
		id TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		category TEXT,
		source TEXT,
		importance REAL DEFAULT 0.5,
		created_at DATETIME NOT NULL,
		accessed_at DATETIME NOT NULL
	);

	CREATE VIRTUAL TABLE IF NOT EXISTS entry_vectors USING vec0(
		id TEXT PRIMARY KEY,
		embedding FLOAT[%d]
	);

	CREATE INDEX IF NOT EXISTS idx_entries_source ON entries(source);
	CREATE INDEX IF NOT EXISTS idx_entries_category ON entries(category);
	CREATE INDEX IF NOT EXISTS idx_entries_created ON entries(created_at);
	`, s.dimension)

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("memory: create schema: %w", err)
	}
	return nil
}

// Remember embeds content and stores it alongside its metadata.
func (s *SQLiteStore) Remember(ctx context.Context, content string, meta EntryMeta) error {
	embeddings, err := s.embedder.Embed(ctx, []string{content})
	if err != nil {
		return fmt.Errorf("memory: embed content: %w", err)
	}
	if len(embeddings) == 0 || len(embeddings[0]) == 0 {
		return fmt.Errorf("memory: embedder returned no vector")
	}

	id := uuid.New().String()
	now := time.Now()

	importance := meta.Importance
	if importance == 0 {
		importance = 0.5
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("memory: begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO entries (id, content, category, source, importance, created_at, accessed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, id, content, string(meta.Category), meta.Source, importance, now, now); err != nil {
		return fmt.Errorf("memory: insert entry: %w", err)
	}

	embeddingBlob := serializeEmbedding(embeddings[0])
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO entry_vectors (id, embedding) VALUES (?, ?)
	`, id, embeddingBlob); err != nil {
		return fmt.Errorf("memory: insert embedding: %w", err)
	}

	return tx.Commit()
}

// Recall runs a vector similarity search against stored entries.
func (s *SQLiteStore) Recall(ctx context.Context, query string, opts RecallOpts) ([]Result, error) {
	embeddings, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("memory: embed query: %w", err)
	}
	if len(embeddings) == 0 || len(embeddings[0]) == 0 {
		return nil, fmt.Errorf("memory: embedder returned no vector for query")
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}
	queryBlob := serializeEmbedding(embeddings[0])

	rows, err := s.db.QueryContext(ctx, `
		SELECT e.id, e.content, e.category, e.source, e.importance,
		       e.created_at, e.accessed_at, v.distance
		FROM entry_vectors v
		JOIN entries e ON v.id = e.id
		WHERE v.embedding MATCH ?
		  AND k = ?
		ORDER BY v.distance
	`, queryBlob, limit)
	if err != nil {
		return nil, fmt.Errorf("memory: vector search: %w", err)
	}
	defer rows.Close()

	var results []Result
	var accessedIDs []string
	for rows.Next() {
		var r Result
		var category string
		var distance float32

		if err := rows.Scan(&r.ID, &r.Content, &category, &r.Source, &r.Importance,
			&r.CreatedAt, &r.AccessedAt, &distance); err != nil {
			return nil, fmt.Errorf("memory: scan row: %w", err)
		}
		r.Category = Category(category)

		if distance < 0 {
			distance = 0
		}
		r.Score = 1.0 / (1.0 + distance)

		if r.Score < opts.MinScore {
			continue
		}
		if opts.Category != "" && r.Category != opts.Category {
			continue
		}
		if opts.TimeRange != nil {
			if r.CreatedAt.Before(opts.TimeRange.Start) || r.CreatedAt.After(opts.TimeRange.End) {
				continue
			}
		}

		results = append(results, r)
		accessedIDs = append(accessedIDs, r.ID)
	}

	if len(accessedIDs) > 0 {
		go s.touchAccessed(accessedIDs)
	}

	return results, nil
}

// Forget deletes an entry and its embedding by ID.
func (s *SQLiteStore) Forget(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM entry_vectors WHERE id = ?", id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM entries WHERE id = ?", id); err != nil {
		return err
	}
	return tx.Commit()
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) touchAccessed(ids []string) {
	now := time.Now()
	for _, id := range ids {
		s.db.Exec(`UPDATE entries SET accessed_at = ? WHERE id = ?`, now, id)
	}
}

// serializeEmbedding converts a float32 slice to bytes for sqlite-vec.
func serializeEmbedding(embedding []float32) []byte {
	data, _ := sqlite_vec.SerializeFloat32(embedding)
	return data
}

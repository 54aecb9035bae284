// Package postgres implements sift.Store using PostgreSQL with pgvector for
// native vector similarity search.
//
// Store accepts an externally-owned *pgxpool.Pool via constructor injection.
// The caller creates and closes the pool.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quellen/sift"
)

// Store implements sift.Store backed by PostgreSQL with pgvector.
// Vector search uses HNSW indexes with cosine distance, filtered by
// workspace.
type Store struct {
	pool *pgxpool.Pool
	cfg  pgConfig
}

// pgConfig holds store configuration set via Option functions.
type pgConfig struct {
	embeddingDimension int // 0 = untyped vector
	hnswM              int // 0 = pgvector default (16)
	hnswEFConstruction int // 0 = pgvector default (64)
}

// Option configures a PostgreSQL Store.
type Option func(*pgConfig)

// WithEmbeddingDimension sets the vector column dimension (e.g. 1536, 768).
// When set, CREATE TABLE uses vector(N) instead of untyped vector, enabling
// better index optimization and catching dimension mismatches at insert time.
// Only affects new table creation.
func WithEmbeddingDimension(dim int) Option {
	return func(c *pgConfig) { c.embeddingDimension = dim }
}

// WithHNSWM sets the HNSW m parameter (max connections per node).
// Higher values improve recall at the cost of memory. Default: pgvector's 16.
func WithHNSWM(m int) Option {
	return func(c *pgConfig) { c.hnswM = m }
}

// WithEFConstruction sets the HNSW ef_construction parameter (build-time
// candidate list size). Higher values improve index quality at the cost of
// slower builds. Default: pgvector's 64.
func WithEFConstruction(ef int) Option {
	return func(c *pgConfig) { c.hnswEFConstruction = ef }
}

var _ sift.Store = (*Store)(nil)

// New creates a Store using an existing pgxpool.Pool.
// The caller owns the pool and is responsible for closing it.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	var cfg pgConfig
	for _, o := range opts {
		o(&cfg)
	}
	return &Store{pool: pool, cfg: cfg}
}

// vectorType returns "vector" or "vector(N)" depending on config.
func (s *Store) vectorType() string {
	if s.cfg.embeddingDimension > 0 {
		return fmt.Sprintf("vector(%d)", s.cfg.embeddingDimension)
	}
	return "vector"
}

// hnswWithClause returns the WITH (...) clause for HNSW index creation,
// or an empty string if no tuning params are set.
func (s *Store) hnswWithClause() string {
	var parts []string
	if s.cfg.hnswM > 0 {
		parts = append(parts, fmt.Sprintf("m = %d", s.cfg.hnswM))
	}
	if s.cfg.hnswEFConstruction > 0 {
		parts = append(parts, fmt.Sprintf("ef_construction = %d", s.cfg.hnswEFConstruction))
	}
	if len(parts) == 0 {
		return ""
	}
	return " WITH (" + strings.Join(parts, ", ") + ")"
}

// Init creates the pgvector extension, all required tables, and indexes.
// Safe to call multiple times (all statements are idempotent).
func (s *Store) Init(ctx context.Context) error {
	vtype := s.vectorType()
	hnswWith := s.hnswWithClause()

	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,

		`CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL,
			version TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			created_at BIGINT NOT NULL
		)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS chunks (
			id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL,
			document_title TEXT NOT NULL DEFAULT '',
			workspace_id TEXT NOT NULL,
			sequence_index INTEGER NOT NULL,
			content TEXT NOT NULL,
			token_count INTEGER NOT NULL DEFAULT 0,
			heading_path JSONB,
			degenerate BOOLEAN NOT NULL DEFAULT FALSE,
			embedding %s
		)`, vtype),

		`CREATE INDEX IF NOT EXISTS idx_documents_replace_key
			ON documents(workspace_id, source, version)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_workspace ON chunks(workspace_id)`,

		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_chunks_embedding
			ON chunks USING hnsw (embedding vector_cosine_ops)%s`, hnswWith),
	}

	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: init: %w", err)
		}
	}
	return nil
}

// ReplaceDocument stores a document and its chunks, first deleting any prior
// document with the same (workspace, source, version), all in one
// transaction.
func (s *Store) ReplaceDocument(ctx context.Context, doc sift.Document, chunks []sift.Chunk) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx,
		`DELETE FROM chunks WHERE document_id IN (
			SELECT id FROM documents WHERE workspace_id = $1 AND source = $2 AND version = $3
		)`,
		doc.WorkspaceID, doc.Source, doc.Version)
	if err != nil {
		return fmt.Errorf("postgres: delete prior chunks: %w", err)
	}
	_, err = tx.Exec(ctx,
		`DELETE FROM documents WHERE workspace_id = $1 AND source = $2 AND version = $3`,
		doc.WorkspaceID, doc.Source, doc.Version)
	if err != nil {
		return fmt.Errorf("postgres: delete prior document: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO documents (id, workspace_id, title, source, version, content, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		doc.ID, doc.WorkspaceID, doc.Title, doc.Source, doc.Version, doc.Content, doc.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: insert document: %w", err)
	}

	for _, chunk := range chunks {
		var pathJSON *string
		if len(chunk.HeadingPath) > 0 {
			data, _ := json.Marshal(chunk.HeadingPath)
			v := string(data)
			pathJSON = &v
		}

		if len(chunk.Embedding) > 0 {
			_, err = tx.Exec(ctx,
				`INSERT INTO chunks (id, document_id, document_title, workspace_id, sequence_index, content, token_count, heading_path, degenerate, embedding)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9, $10::vector)`,
				chunk.ID, chunk.DocumentID, chunk.DocumentTitle, chunk.WorkspaceID, chunk.SequenceIndex,
				chunk.Text, chunk.TokenCount, pathJSON, chunk.Degenerate, serializeEmbedding(chunk.Embedding))
		} else {
			_, err = tx.Exec(ctx,
				`INSERT INTO chunks (id, document_id, document_title, workspace_id, sequence_index, content, token_count, heading_path, degenerate)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9)`,
				chunk.ID, chunk.DocumentID, chunk.DocumentTitle, chunk.WorkspaceID, chunk.SequenceIndex,
				chunk.Text, chunk.TokenCount, pathJSON, chunk.Degenerate)
		}
		if err != nil {
			return fmt.Errorf("postgres: insert chunk: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit tx: %w", err)
	}
	return nil
}

// DeleteDocument removes a document and its chunks.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE document_id = $1`, id); err != nil {
		return fmt.Errorf("postgres: delete chunks: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id); err != nil {
		return fmt.Errorf("postgres: delete document: %w", err)
	}
	return tx.Commit(ctx)
}

// ListDocuments returns documents in a workspace, newest first.
func (s *Store) ListDocuments(ctx context.Context, workspaceID string, limit int) ([]sift.Document, error) {
	q := `SELECT id, workspace_id, title, source, version, content, created_at
		FROM documents WHERE workspace_id = $1 ORDER BY created_at DESC`
	args := []any{workspaceID}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list documents: %w", err)
	}
	defer rows.Close()

	var docs []sift.Document
	for rows.Next() {
		var d sift.Document
		if err := rows.Scan(&d.ID, &d.WorkspaceID, &d.Title, &d.Source, &d.Version, &d.Content, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan document: %w", err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// SearchChunks returns the topK most similar embedded chunks in the
// workspace, highest similarity first, using pgvector cosine distance.
func (s *Store) SearchChunks(ctx context.Context, workspaceID string, embedding []float32, topK int) ([]sift.ScoredChunk, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, document_id, document_title, workspace_id, sequence_index, content, token_count, heading_path, degenerate,
		        1 - (embedding <=> $1::vector) AS score
		 FROM chunks
		 WHERE workspace_id = $2 AND embedding IS NOT NULL
		 ORDER BY embedding <=> $1::vector
		 LIMIT $3`,
		serializeEmbedding(embedding), workspaceID, topK)
	if err != nil {
		return nil, fmt.Errorf("postgres: search chunks: %w", err)
	}
	defer rows.Close()

	var results []sift.ScoredChunk
	for rows.Next() {
		var c sift.Chunk
		var pathJSON []byte
		var score float32
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.DocumentTitle, &c.WorkspaceID, &c.SequenceIndex,
			&c.Text, &c.TokenCount, &pathJSON, &c.Degenerate, &score); err != nil {
			return nil, fmt.Errorf("postgres: scan chunk: %w", err)
		}
		if pathJSON != nil {
			_ = json.Unmarshal(pathJSON, &c.HeadingPath)
		}
		results = append(results, sift.ScoredChunk{Chunk: c, Score: score})
	}
	return results, rows.Err()
}

// GetChunksByIDs fetches chunks by ID. Missing IDs are skipped.
func (s *Store) GetChunksByIDs(ctx context.Context, ids []string) ([]sift.Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, document_id, document_title, workspace_id, sequence_index, content, token_count, heading_path, degenerate
		 FROM chunks WHERE id = ANY($1)`,
		ids)
	if err != nil {
		return nil, fmt.Errorf("postgres: get chunks by ids: %w", err)
	}
	defer rows.Close()

	var chunks []sift.Chunk
	for rows.Next() {
		var c sift.Chunk
		var pathJSON []byte
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.DocumentTitle, &c.WorkspaceID, &c.SequenceIndex,
			&c.Text, &c.TokenCount, &pathJSON, &c.Degenerate); err != nil {
			return nil, fmt.Errorf("postgres: scan chunk: %w", err)
		}
		if pathJSON != nil {
			_ = json.Unmarshal(pathJSON, &c.HeadingPath)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// Close is a no-op: the pool is owned by the caller.
func (s *Store) Close() error { return nil }

// serializeEmbedding converts []float32 to pgvector's text format: [1,2,3].
func serializeEmbedding(embedding []float32) string {
	parts := make([]string, len(embedding))
	for i, v := range embedding {
		parts[i] = fmt.Sprintf("%g", v)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

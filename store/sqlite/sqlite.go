// Package sqlite implements sift.Store using pure-Go SQLite with in-process
// brute-force vector search. Zero CGO required.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/quellen/sift"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures a SQLite Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store. When set, the store
// emits debug logs for every operation including timing and row counts.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store implements sift.Store backed by a local SQLite file. Embeddings are
// stored as JSON text and vector search is done in-process using brute-force
// cosine similarity, scanning only the requested workspace.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ sift.Store = (*Store)(nil)

// nopLogger is a logger that discards all output.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// New creates a Store using a local SQLite file at dbPath.
// It opens a single shared connection pool with SetMaxOpenConns(1) so that
// all goroutines serialize through one connection, eliminating SQLITE_BUSY
// errors caused by concurrent writers opening independent connections.
func New(dbPath string, opts ...StoreOption) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: store opened", "path", dbPath)
	return s
}

// Init creates all required tables and indexes. Safe to call multiple times.
func (s *Store) Init(ctx context.Context) error {
	start := time.Now()
	s.logger.Debug("sqlite: init started")

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL,
			title TEXT NOT NULL,
			source TEXT NOT NULL,
			version TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS chunks (
			id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL,
			document_title TEXT NOT NULL DEFAULT '',
			workspace_id TEXT NOT NULL,
			sequence_index INTEGER NOT NULL,
			content TEXT NOT NULL,
			token_count INTEGER NOT NULL DEFAULT 0,
			heading_path TEXT,
			degenerate INTEGER NOT NULL DEFAULT 0,
			embedding TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_replace_key ON documents(workspace_id, source, version)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_workspace ON chunks(workspace_id)`,
	}
	for _, ddl := range stmts {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	s.logger.Info("sqlite: init completed", "duration", time.Since(start))
	return nil
}

// ReplaceDocument stores a document and its chunks, first deleting any prior
// document with the same (workspace, source, version), all in one
// transaction. A reader either sees the full old document or the full new
// one, never a mix.
func (s *Store) ReplaceDocument(ctx context.Context, doc sift.Document, chunks []sift.Chunk) error {
	start := time.Now()
	s.logger.Debug("sqlite: replace document",
		"id", doc.ID, "workspace", doc.WorkspaceID, "source", doc.Source, "version", doc.Version, "chunks", len(chunks))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	// Remove the prior generation of this document, chunks first.
	_, err = tx.ExecContext(ctx,
		`DELETE FROM chunks WHERE document_id IN (
			SELECT id FROM documents WHERE workspace_id = ? AND source = ? AND version = ?
		)`,
		doc.WorkspaceID, doc.Source, doc.Version)
	if err != nil {
		return fmt.Errorf("delete prior chunks: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`DELETE FROM documents WHERE workspace_id = ? AND source = ? AND version = ?`,
		doc.WorkspaceID, doc.Source, doc.Version)
	if err != nil {
		return fmt.Errorf("delete prior document: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO documents (id, workspace_id, title, source, version, content, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.WorkspaceID, doc.Title, doc.Source, doc.Version, doc.Content, doc.CreatedAt)
	if err != nil {
		s.logger.Error("sqlite: insert document failed", "id", doc.ID, "error", err)
		return fmt.Errorf("insert document: %w", err)
	}

	for _, chunk := range chunks {
		var embJSON *string
		if len(chunk.Embedding) > 0 {
			v := serializeEmbedding(chunk.Embedding)
			embJSON = &v
		}
		var pathJSON *string
		if len(chunk.HeadingPath) > 0 {
			data, _ := json.Marshal(chunk.HeadingPath)
			v := string(data)
			pathJSON = &v
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO chunks (id, document_id, document_title, workspace_id, sequence_index, content, token_count, heading_path, degenerate, embedding)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			chunk.ID, chunk.DocumentID, chunk.DocumentTitle, chunk.WorkspaceID, chunk.SequenceIndex,
			chunk.Text, chunk.TokenCount, pathJSON, boolToInt(chunk.Degenerate), embJSON)
		if err != nil {
			s.logger.Error("sqlite: insert chunk failed", "chunk_id", chunk.ID, "doc_id", doc.ID, "error", err)
			return fmt.Errorf("insert chunk: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		s.logger.Error("sqlite: replace document commit failed", "id", doc.ID, "error", err)
		return fmt.Errorf("commit tx: %w", err)
	}
	s.logger.Debug("sqlite: replace document ok", "id", doc.ID, "chunks", len(chunks), "duration", time.Since(start))
	return nil
}

// DeleteDocument removes a document and its chunks.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	start := time.Now()
	s.logger.Debug("sqlite: delete document", "id", id)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, id); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	s.logger.Debug("sqlite: delete document ok", "id", id, "duration", time.Since(start))
	return nil
}

// ListDocuments returns documents in a workspace, newest first.
func (s *Store) ListDocuments(ctx context.Context, workspaceID string, limit int) ([]sift.Document, error) {
	query := `SELECT id, workspace_id, title, source, version, content, created_at
		FROM documents WHERE workspace_id = ? ORDER BY created_at DESC`
	args := []any{workspaceID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []sift.Document
	for rows.Next() {
		var d sift.Document
		if err := rows.Scan(&d.ID, &d.WorkspaceID, &d.Title, &d.Source, &d.Version, &d.Content, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// SearchChunks performs brute-force cosine similarity search over the
// workspace's embedded chunks, returning the topK most similar first.
func (s *Store) SearchChunks(ctx context.Context, workspaceID string, embedding []float32, topK int) ([]sift.ScoredChunk, error) {
	start := time.Now()
	s.logger.Debug("sqlite: search chunks", "workspace", workspaceID, "top_k", topK, "embedding_dim", len(embedding))

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document_id, document_title, workspace_id, sequence_index, content, token_count, heading_path, degenerate, embedding
		 FROM chunks WHERE workspace_id = ? AND embedding IS NOT NULL`,
		workspaceID)
	if err != nil {
		s.logger.Error("sqlite: search chunks failed", "error", err, "duration", time.Since(start))
		return nil, fmt.Errorf("search chunks: %w", err)
	}
	defer rows.Close()

	var results []sift.ScoredChunk
	scanned := 0
	for rows.Next() {
		c, embJSON, err := scanChunk(rows, true)
		if err != nil {
			return nil, err
		}
		scanned++
		stored, err := deserializeEmbedding(embJSON)
		if err != nil {
			continue
		}
		results = append(results, sift.ScoredChunk{Chunk: c, Score: cosineSimilarity(embedding, stored)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > topK {
		results = results[:topK]
	}
	s.logger.Debug("sqlite: search chunks ok", "scanned", scanned, "returned", len(results), "duration", time.Since(start))
	return results, nil
}

// GetChunksByIDs fetches chunks by ID. Missing IDs are skipped.
func (s *Store) GetChunksByIDs(ctx context.Context, ids []string) ([]sift.Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	query := fmt.Sprintf(
		`SELECT id, document_id, document_title, workspace_id, sequence_index, content, token_count, heading_path, degenerate, NULL
		 FROM chunks WHERE id IN (%s)`,
		strings.Join(placeholders, ","))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get chunks by ids: %w", err)
	}
	defer rows.Close()

	var chunks []sift.Chunk
	for rows.Next() {
		c, _, err := scanChunk(rows, false)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	s.logger.Debug("sqlite: closing store")
	err := s.db.Close()
	if err != nil {
		s.logger.Error("sqlite: close failed", "error", err)
	}
	return err
}

// scanChunk scans one chunk row. Column order matches the SELECT lists above;
// the trailing embedding column is returned raw when withEmbedding is set.
func scanChunk(rows *sql.Rows, withEmbedding bool) (sift.Chunk, string, error) {
	var c sift.Chunk
	var pathJSON sql.NullString
	var degenerate int
	var embJSON sql.NullString

	if err := rows.Scan(&c.ID, &c.DocumentID, &c.DocumentTitle, &c.WorkspaceID, &c.SequenceIndex,
		&c.Text, &c.TokenCount, &pathJSON, &degenerate, &embJSON); err != nil {
		return sift.Chunk{}, "", fmt.Errorf("scan chunk: %w", err)
	}
	if pathJSON.Valid {
		_ = json.Unmarshal([]byte(pathJSON.String), &c.HeadingPath)
	}
	c.Degenerate = degenerate != 0
	if withEmbedding && embJSON.Valid {
		return c, embJSON.String, nil
	}
	return c, "", nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return float32(dot / denom)
}

// serializeEmbedding converts []float32 to a JSON array string.
func serializeEmbedding(embedding []float32) string {
	data, _ := json.Marshal(embedding)
	return string(data)
}

// deserializeEmbedding parses a JSON array string back to []float32.
func deserializeEmbedding(s string) ([]float32, error) {
	var v []float32
	err := json.Unmarshal([]byte(s), &v)
	return v, err
}

package sift

import "context"

// Store abstracts workspace-scoped persistence with vector search.
type Store interface {
	// ReplaceDocument stores a document and all of its chunks in a single
	// transaction, first deleting any prior document (and its chunks) with
	// the same (workspace, source, version). Old chunks must never linger
	// and pollute retrieval — deletion and regeneration are atomic.
	ReplaceDocument(ctx context.Context, doc Document, chunks []Chunk) error
	// DeleteDocument removes a document and its chunks.
	DeleteDocument(ctx context.Context, documentID string) error
	// ListDocuments returns documents in a workspace, newest first.
	// limit <= 0 returns all.
	ListDocuments(ctx context.Context, workspaceID string, limit int) ([]Document, error)
	// SearchChunks returns the topK most similar chunks in the workspace,
	// highest similarity first.
	SearchChunks(ctx context.Context, workspaceID string, embedding []float32, topK int) ([]ScoredChunk, error)
	// GetChunksByIDs fetches chunks by ID. Missing IDs are skipped.
	GetChunksByIDs(ctx context.Context, ids []string) ([]Chunk, error)

	// Init creates the schema.
	Init(ctx context.Context) error
	Close() error
}

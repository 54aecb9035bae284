package sift

import (
	"context"
	"log/slog"
)

// Retriever returns the top-K most similar chunks for a query embedding,
// scoped to a workspace, highest similarity first. When the backing service
// is unreachable it fails with ErrUnavailable — returning zero evidence must
// be distinguishable from "service down".
type Retriever interface {
	Retrieve(ctx context.Context, workspaceID string, queryEmbedding []float32, topK int) ([]RetrievalResult, error)
}

// RetrieverOption configures a StoreRetriever.
type RetrieverOption func(*StoreRetriever)

// RetrieverLogger sets the structured logger for the retriever.
func RetrieverLogger(l *slog.Logger) RetrieverOption {
	return func(r *StoreRetriever) { r.logger = l }
}

// StoreRetriever implements Retriever on top of a Store's vector search.
type StoreRetriever struct {
	store  Store
	logger *slog.Logger
}

var _ Retriever = (*StoreRetriever)(nil)

// NewStoreRetriever creates a Retriever backed by the given Store.
func NewStoreRetriever(store Store, opts ...RetrieverOption) *StoreRetriever {
	r := &StoreRetriever{store: store, logger: nopLogger}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Retrieve searches the workspace and returns ranked results. Store failures
// are wrapped in ErrUnavailable and are fatal for the request; retry policy
// belongs to the store adapter, not here.
func (r *StoreRetriever) Retrieve(ctx context.Context, workspaceID string, queryEmbedding []float32, topK int) ([]RetrievalResult, error) {
	scored, err := r.store.SearchChunks(ctx, workspaceID, queryEmbedding, topK)
	if err != nil {
		r.logger.Error("retrieval failed", "workspace", workspaceID, "error", err)
		return nil, &ErrUnavailable{Service: ServiceRetrieval, Err: err}
	}
	if len(scored) > topK {
		scored = scored[:topK]
	}

	results := make([]RetrievalResult, 0, len(scored))
	for i, sc := range scored {
		results = append(results, RetrievalResult{
			ChunkID: sc.ID,
			Score:   sc.Score,
			Rank:    i + 1,
			Chunk:   sc.Chunk,
		})
	}
	r.logger.Debug("retrieved chunks", "workspace", workspaceID, "top_k", topK, "returned", len(results))
	return results, nil
}

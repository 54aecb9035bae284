// Package sift answers natural-language questions against a corpus of
// ingested documents scoped to a workspace, producing a cited answer and
// streaming it incrementally to the caller.
//
// # Quick Start
//
// Wire the pipeline from its building blocks:
//
//	provider := openaicompat.NewProvider(apiKey, model, baseURL)
//	embedding := openaicompat.NewEmbedding(apiKey, embedModel, baseURL)
//	store := sqlite.New("sift.db")
//
//	pipe := sift.NewPipeline(embedding, provider, sift.NewStoreRetriever(store),
//		sift.WithRewriter(sift.NewLLMRewriter(provider)),
//		sift.WithReranker(sift.NewLLMReranker(provider, sift.RerankThreshold(0.3))),
//	)
//
//	ch := make(chan sift.StreamEvent, 64)
//	go func() {
//		for ev := range ch {
//			// sources, tokens, citation warnings, then exactly one terminal event
//		}
//	}()
//	answer, err := pipe.Ask(ctx, sift.Request{WorkspaceID: ws, Query: q}, ch)
//
// # Core Interfaces
//
// The root package defines the contracts that all components implement:
//
//   - [Provider] — text generation backend (chat, token streaming)
//   - [EmbeddingProvider] — text-to-vector embedding
//   - [Store] — workspace-scoped chunk persistence with vector search
//   - [Retriever] — top-K similarity search over a workspace
//   - [Rewriter] — optional query rewriting with guaranteed fallback
//   - [Reranker] — optional second-pass relevance filtering
//
// # Included Implementations
//
// Providers: provider/openaicompat (any OpenAI-compatible API).
// Storage: store/sqlite (local, pure Go), store/postgres (pgx).
// Ingestion: the ingest package extracts, chunks, embeds, and stores
// documents; chunks are replaced atomically per document version.
//
// See cmd/sift for a complete reference application.
package sift

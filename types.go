package sift

// --- Domain types ---

// Document is an ingested source text scoped to a workspace.
// Re-ingesting the same (workspace, source, version) replaces the document
// and all of its chunks atomically.
type Document struct {
	ID          string `json:"id"`
	WorkspaceID string `json:"workspace_id"`
	Title       string `json:"title"`
	Source      string `json:"source"`
	Version     string `json:"version"`
	Content     string `json:"content"`
	CreatedAt   int64  `json:"created_at"`
}

// Chunk is a bounded text segment derived from a document — the unit of
// retrieval. Chunks are immutable once created and are produced only by the
// ingest package. SequenceIndex is strictly increasing within a document.
type Chunk struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
	// DocumentTitle is denormalized from the parent document so retrieval
	// hits can be cited by title without a second lookup.
	DocumentTitle string    `json:"document_title,omitempty"`
	WorkspaceID   string    `json:"workspace_id"`
	SequenceIndex int       `json:"sequence_index"`
	Text          string    `json:"text"`
	TokenCount    int       `json:"token_count"`
	Embedding     []float32 `json:"-"`
	// HeadingPath is the heading lineage from the document root down to the
	// section this chunk was cut from. Empty for semantic chunks and for
	// documents without headings.
	HeadingPath []string `json:"heading_path,omitempty"`
	// Degenerate marks a chunk that was force-split by raw length because a
	// single sentence exceeded the token budget.
	Degenerate bool `json:"degenerate,omitempty"`
}

// ScoredChunk pairs a chunk with a similarity score from a Store search.
type ScoredChunk struct {
	Chunk
	Score float32 `json:"score"`
}

// RetrievalResult is one ranked hit from a workspace retrieval.
// Rank is 1-based, highest similarity first. Request-scoped, never persisted.
type RetrievalResult struct {
	ChunkID string  `json:"chunk_id"`
	Score   float32 `json:"score"`
	Rank    int     `json:"rank"`
	Chunk   Chunk   `json:"-"`
}

// RewriteResult is the outcome of the optional query-rewrite stage.
// Used is false whenever rewriting is disabled, times out, or errors —
// the original query is always the safe fallback.
type RewriteResult struct {
	Original  string `json:"original_query"`
	Rewritten string `json:"rewritten_query"`
	Used      bool   `json:"used"`
	Reason    string `json:"reason,omitempty"`
}

// Query returns the query the pipeline should embed: the rewritten form when
// it was used, the original otherwise.
func (r RewriteResult) Query() string {
	if r.Used {
		return r.Rewritten
	}
	return r.Original
}

// RerankResult is one retained candidate after second-pass relevance scoring.
// Candidates below the configured relevance threshold are dropped, never
// silently kept.
type RerankResult struct {
	ChunkID        string  `json:"chunk_id"`
	OriginalRank   int     `json:"original_rank"`
	NewRank        int     `json:"new_rank"`
	RelevanceScore float32 `json:"relevance_score"`
	Chunk          Chunk   `json:"-"`
}

// Source is the citation metadata behind one [S#] marker. Index is 1-based
// and assigned in retrieval/rerank order.
type Source struct {
	Index      int    `json:"index"`
	ChunkID    string `json:"chunk_id"`
	DocumentID string `json:"document_id"`
	Title      string `json:"title,omitempty"`
	Heading    string `json:"heading,omitempty"`
}

// --- Pipeline request/response ---

// Request is one question against a workspace.
type Request struct {
	WorkspaceID    string
	ConversationID string
	Query          string
	// History carries prior conversation turns for the rewriter.
	History []Message
	// TemplateVersion selects the answer template; empty means the composer default.
	TemplateVersion string
}

// Answer is the final outcome of a pipeline run.
type Answer struct {
	Text           string
	Sources        []Source
	Rewrite        RewriteResult
	ConversationID string
	Usage          Usage
	// InsufficientEvidence is set when no chunks survived retrieval/rerank
	// and the answer is the canonical "insufficient evidence" response.
	// This is a designed terminal state, not an error.
	InsufficientEvidence bool
}

// --- LLM protocol types ---

// Message is one turn in a chat exchange with a Provider.
type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

type ChatRequest struct {
	Messages []Message `json:"messages"`
}

type ChatResponse struct {
	Content string `json:"content"`
	Usage   Usage  `json:"usage"`
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// --- Message constructors ---

func UserMessage(text string) Message {
	return Message{Role: "user", Content: text}
}

func SystemMessage(text string) Message {
	return Message{Role: "system", Content: text}
}

func AssistantMessage(text string) Message {
	return Message{Role: "assistant", Content: text}
}

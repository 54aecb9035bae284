package ingest

import "context"

// Piece is one chunk-to-be produced by a Chunker: bounded text plus the
// structural metadata the Ingestor copies onto the stored chunk.
type Piece struct {
	Text string
	// HeadingPath is the heading lineage from the document root down to the
	// section this piece was cut from. Empty for non-structural chunkers and
	// for content before the first heading.
	HeadingPath []string
	// Degenerate marks a piece that was force-split by raw length because a
	// single sentence exceeded the budget.
	Degenerate bool
}

// Chunker splits text into pieces that fit the configured token budget.
type Chunker interface {
	Chunk(ctx context.Context, text string) ([]Piece, error)
}

// EmbedFunc embeds texts into vectors. Matches the EmbeddingProvider.Embed
// method signature so provider.Embed can be passed directly.
type EmbedFunc func(ctx context.Context, texts []string) ([][]float32, error)

// ChunkerOption configures a chunker implementation.
type ChunkerOption func(*chunkerConfig)

type chunkerConfig struct {
	maxTokens     int
	overlapTokens int
	boundary      float32
}

func defaultChunkerConfig() chunkerConfig {
	return chunkerConfig{maxTokens: 512, overlapTokens: 50, boundary: 0.25}
}

// WithMaxTokens sets the maximum tokens per piece (default 512, approximated
// as tokens*4 bytes).
func WithMaxTokens(n int) ChunkerOption {
	return func(c *chunkerConfig) { c.maxTokens = n }
}

// WithOverlapTokens sets the overlap between consecutive pieces in tokens
// (default 50).
func WithOverlapTokens(n int) ChunkerOption {
	return func(c *chunkerConfig) { c.overlapTokens = n }
}

// WithBoundaryThreshold sets the cosine-distance drop between consecutive
// sentences that the SemanticChunker treats as a topic boundary (default
// 0.25). Higher = fewer, larger pieces.
func WithBoundaryThreshold(t float32) ChunkerOption {
	return func(c *chunkerConfig) { c.boundary = t }
}

// RecursiveChunker splits text by paragraphs, then sentences, then words.
// Sentence detection skips common abbreviations (Mr., Dr., e.g., i.e.),
// decimal numbers, and handles CJK sentence-ending punctuation.
type RecursiveChunker struct {
	maxChars     int
	overlapChars int
}

var _ Chunker = (*RecursiveChunker)(nil)

// NewRecursiveChunker creates a RecursiveChunker with the given options.
func NewRecursiveChunker(opts ...ChunkerOption) *RecursiveChunker {
	cfg := defaultChunkerConfig()
	for _, o := range opts {
		o(&cfg)
	}
	return &RecursiveChunker{
		maxChars:     cfg.maxTokens * 4,
		overlapChars: cfg.overlapTokens * 4,
	}
}

// Chunk splits text into overlapping pieces within the budget.
func (rc *RecursiveChunker) Chunk(_ context.Context, text string) ([]Piece, error) {
	return segmentsToPieces(splitBudget(text, rc.maxChars, rc.overlapChars), nil), nil
}

// segmentsToPieces converts internal segments to pieces, attaching the given
// heading path to each. The path slice is shared, never mutated downstream.
func segmentsToPieces(segs []segment, headingPath []string) []Piece {
	if len(segs) == 0 {
		return nil
	}
	pieces := make([]Piece, 0, len(segs))
	for _, s := range segs {
		pieces = append(pieces, Piece{
			Text:        s.text,
			HeadingPath: headingPath,
			Degenerate:  s.degenerate,
		})
	}
	return pieces
}

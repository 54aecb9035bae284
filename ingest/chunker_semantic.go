package ingest

import (
	"context"
	"math"
	"strings"
)

// SemanticChunker splits text at topic boundaries detected by embedding
// similarity between consecutive sentences: where the cosine distance to the
// next sentence exceeds the boundary threshold, a new piece begins. When the
// embedding service fails, it degrades to recursive splitting rather than
// failing the ingest.
type SemanticChunker struct {
	embed        EmbedFunc
	maxChars     int
	overlapChars int
	boundary     float32
	fallback     *RecursiveChunker
}

var _ Chunker = (*SemanticChunker)(nil)

// NewSemanticChunker creates a SemanticChunker. The embed function is called
// once per Chunk call to embed all sentences; pass provider.Embed directly.
func NewSemanticChunker(embed EmbedFunc, opts ...ChunkerOption) *SemanticChunker {
	cfg := defaultChunkerConfig()
	for _, o := range opts {
		o(&cfg)
	}
	return &SemanticChunker{
		embed:        embed,
		maxChars:     cfg.maxTokens * 4,
		overlapChars: cfg.overlapTokens * 4,
		boundary:     cfg.boundary,
		fallback:     NewRecursiveChunker(opts...),
	}
}

// Chunk splits text at semantic boundaries. It embeds all sentences, computes
// consecutive cosine distances, and cuts where the distance exceeds the
// configured threshold. Groups are then packed into the byte budget.
func (sc *SemanticChunker) Chunk(ctx context.Context, text string) ([]Piece, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	if len(text) <= sc.maxChars {
		return []Piece{{Text: text}}, nil
	}

	sentences := splitSentences(text)
	if len(sentences) <= 1 {
		return segmentsToPieces(splitBudget(text, sc.maxChars, sc.overlapChars), nil), nil
	}

	embeddings, err := sc.embed(ctx, sentences)
	if err != nil || len(embeddings) != len(sentences) {
		// Degrade gracefully: fall back to recursive chunking.
		return sc.fallback.Chunk(ctx, text)
	}

	// Group sentences, cutting where the topic shifts.
	var groups []string
	var current strings.Builder
	for i, s := range sentences {
		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(s)

		if i < len(sentences)-1 && cosineDistance(embeddings[i], embeddings[i+1]) > sc.boundary {
			groups = append(groups, strings.TrimSpace(current.String()))
			current.Reset()
		}
	}
	if current.Len() > 0 {
		groups = append(groups, strings.TrimSpace(current.String()))
	}

	return sc.packGroups(groups), nil
}

// packGroups merges small groups up to the budget and splits oversized ones.
// Semantic boundaries are respected: groups merge only with their neighbors.
func (sc *SemanticChunker) packGroups(groups []string) []Piece {
	var segs []segment
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			segs = append(segs, segment{text: current.String()})
			current.Reset()
		}
	}

	for _, g := range groups {
		if len(g) > sc.maxChars {
			flush()
			segs = append(segs, splitBudget(g, sc.maxChars, sc.overlapChars)...)
			continue
		}

		needed := len(g)
		if current.Len() > 0 {
			needed = current.Len() + 1 + len(g)
		}
		if needed > sc.maxChars {
			flush()
		} else if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(g)
	}
	flush()

	return segmentsToPieces(segs, nil)
}

// splitSentences splits text into sentences using the shared boundary
// detection. Falls back to splitting on ". " when no boundaries are found.
func splitSentences(text string) []string {
	boundaries := findSentenceBoundaries(text)
	if len(boundaries) == 0 {
		parts := strings.Split(text, ". ")
		var out []string
		for i, p := range parts {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			if i < len(parts)-1 || strings.HasSuffix(text, ". ") {
				p += "."
			}
			out = append(out, p)
		}
		if len(out) == 0 {
			return []string{text}
		}
		return out
	}

	var sentences []string
	start := 0
	for _, b := range boundaries {
		if s := strings.TrimSpace(text[start:b]); s != "" {
			sentences = append(sentences, s)
		}
		start = b
	}
	if start < len(text) {
		if s := strings.TrimSpace(text[start:]); s != "" {
			sentences = append(sentences, s)
		}
	}
	return sentences
}

// cosineDistance computes 1 - cosine similarity between two vectors.
func cosineDistance(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 1
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 1
	}
	return 1 - float32(dot/denom)
}

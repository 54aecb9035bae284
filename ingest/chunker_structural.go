package ingest

import (
	"context"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	gmtext "github.com/yuin/goldmark/text"
)

// StructuralChunker splits markdown at heading boundaries and records the
// heading lineage on every piece. Sections that exceed the budget are
// subdivided recursively; sections smaller than the budget stay whole, so a
// piece never straddles two sections.
type StructuralChunker struct {
	maxChars     int
	overlapChars int
	fallback     *RecursiveChunker
}

var _ Chunker = (*StructuralChunker)(nil)

// NewStructuralChunker creates a StructuralChunker with the given options.
func NewStructuralChunker(opts ...ChunkerOption) *StructuralChunker {
	cfg := defaultChunkerConfig()
	for _, o := range opts {
		o(&cfg)
	}
	return &StructuralChunker{
		maxChars:     cfg.maxTokens * 4,
		overlapChars: cfg.overlapTokens * 4,
		fallback:     NewRecursiveChunker(opts...),
	}
}

type mdHeading struct {
	offset int // byte offset of the start of the heading line
	level  int
	title  string
}

// Chunk splits markdown text into pieces respecting heading boundaries.
// Documents without headings fall back to recursive splitting with an empty
// heading path.
func (sc *StructuralChunker) Chunk(ctx context.Context, text string) ([]Piece, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}

	src := []byte(text)
	heads := parseHeadings(src)
	if len(heads) == 0 {
		return sc.fallback.Chunk(ctx, text)
	}

	var pieces []Piece

	// Content before the first heading carries no heading path.
	if heads[0].offset > 0 {
		pre := strings.TrimSpace(text[:heads[0].offset])
		if pre != "" {
			pieces = append(pieces, segmentsToPieces(splitBudget(pre, sc.maxChars, sc.overlapChars), nil)...)
		}
	}

	// trail holds the open headings, one per level, forming the path.
	var trail []mdHeading
	for i, h := range heads {
		end := len(text)
		if i+1 < len(heads) {
			end = heads[i+1].offset
		}

		for len(trail) > 0 && trail[len(trail)-1].level >= h.level {
			trail = trail[:len(trail)-1]
		}
		trail = append(trail, h)

		path := make([]string, len(trail))
		for j, t := range trail {
			path[j] = t.title
		}

		section := strings.TrimSpace(text[h.offset:end])
		if section == "" {
			continue
		}
		pieces = append(pieces, segmentsToPieces(splitBudget(section, sc.maxChars, sc.overlapChars), path)...)
	}

	return pieces, nil
}

// parseHeadings extracts ATX/setext headings from the markdown AST with
// their byte offsets. Only top-level headings count; a heading inside a
// blockquote or list does not open a section.
func parseHeadings(src []byte) []mdHeading {
	root := goldmark.New().Parser().Parse(gmtext.NewReader(src))

	var heads []mdHeading
	for n := root.FirstChild(); n != nil; n = n.NextSibling() {
		h, ok := n.(*ast.Heading)
		if !ok || h.Lines().Len() == 0 {
			continue
		}
		seg := h.Lines().At(0)

		// Back up from the heading text to the start of its line so the
		// section includes the marker.
		start := seg.Start
		for start > 0 && src[start-1] != '\n' {
			start--
		}

		heads = append(heads, mdHeading{
			offset: start,
			level:  h.Level,
			title:  strings.TrimSpace(string(src[seg.Start:seg.Stop])),
		})
	}
	return heads
}

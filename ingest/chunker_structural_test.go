package ingest

import (
	"context"
	"strings"
	"testing"
)

const structuralDoc = `# Guide

Intro paragraph.

## Install

Install steps here.

## Usage

Usage details here.

### Advanced

Advanced notes.
`

func TestStructuralChunkerHeadingPaths(t *testing.T) {
	sc := NewStructuralChunker()
	pieces, err := sc.Chunk(context.Background(), structuralDoc)
	if err != nil {
		t.Fatalf("Chunk: %v", err)
	}
	if len(pieces) != 4 {
		t.Fatalf("expected 4 pieces, got %d", len(pieces))
	}

	wantPaths := [][]string{
		{"Guide"},
		{"Guide", "Install"},
		{"Guide", "Usage"},
		{"Guide", "Usage", "Advanced"},
	}
	for i, want := range wantPaths {
		got := pieces[i].HeadingPath
		if len(got) != len(want) {
			t.Fatalf("piece %d: path %v, want %v", i, got, want)
		}
		for j := range want {
			if got[j] != want[j] {
				t.Errorf("piece %d: path %v, want %v", i, got, want)
				break
			}
		}
	}

	if !strings.HasPrefix(pieces[1].Text, "## Install") {
		t.Errorf("section should keep its heading marker: %q", pieces[1].Text)
	}
	if !strings.Contains(pieces[3].Text, "Advanced notes.") {
		t.Errorf("section body missing: %q", pieces[3].Text)
	}
}

func TestStructuralChunkerSiblingHeadingReplacesPath(t *testing.T) {
	doc := "# A\n\ntext a\n\n## B\n\ntext b\n\n## C\n\ntext c\n"
	sc := NewStructuralChunker()
	pieces, err := sc.Chunk(context.Background(), doc)
	if err != nil {
		t.Fatalf("Chunk: %v", err)
	}
	if len(pieces) != 3 {
		t.Fatalf("expected 3 pieces, got %d", len(pieces))
	}
	last := pieces[2].HeadingPath
	if len(last) != 2 || last[0] != "A" || last[1] != "C" {
		t.Errorf("sibling heading should replace its level in the path, got %v", last)
	}
}

func TestStructuralChunkerPreHeadingContent(t *testing.T) {
	doc := "Preamble before any heading.\n\n# Title\n\nBody text.\n"
	sc := NewStructuralChunker()
	pieces, err := sc.Chunk(context.Background(), doc)
	if err != nil {
		t.Fatalf("Chunk: %v", err)
	}
	if len(pieces) != 2 {
		t.Fatalf("expected 2 pieces, got %d", len(pieces))
	}
	if pieces[0].Text != "Preamble before any heading." {
		t.Errorf("unexpected preamble piece: %q", pieces[0].Text)
	}
	if len(pieces[0].HeadingPath) != 0 {
		t.Errorf("preamble should carry no heading path, got %v", pieces[0].HeadingPath)
	}
}

func TestStructuralChunkerNoHeadingsFallsBack(t *testing.T) {
	sc := NewStructuralChunker()
	pieces, err := sc.Chunk(context.Background(), "Just a plain paragraph with no headings.")
	if err != nil {
		t.Fatalf("Chunk: %v", err)
	}
	if len(pieces) != 1 {
		t.Fatalf("expected 1 piece, got %d", len(pieces))
	}
	if len(pieces[0].HeadingPath) != 0 {
		t.Errorf("expected empty heading path, got %v", pieces[0].HeadingPath)
	}
}

func TestStructuralChunkerOversizedSectionSubdivides(t *testing.T) {
	var body strings.Builder
	for i := 0; i < 40; i++ {
		body.WriteString("A sentence inside a very long section. ")
	}
	doc := "# Long\n\n" + body.String()

	sc := NewStructuralChunker(WithMaxTokens(20), WithOverlapTokens(0))
	pieces, err := sc.Chunk(context.Background(), doc)
	if err != nil {
		t.Fatalf("Chunk: %v", err)
	}
	if len(pieces) < 2 {
		t.Fatalf("expected the section to be subdivided, got %d pieces", len(pieces))
	}
	for i, p := range pieces {
		if len(p.Text) > 80 {
			t.Errorf("piece %d exceeds budget: %d bytes", i, len(p.Text))
		}
		if len(p.HeadingPath) != 1 || p.HeadingPath[0] != "Long" {
			t.Errorf("piece %d: path %v, want [Long]", i, p.HeadingPath)
		}
	}
}

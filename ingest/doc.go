// Package ingest turns raw documents into embedded, workspace-scoped chunks.
//
// The pipeline is extract → chunk → embed → store. Extractors convert source
// formats (markdown, HTML, PDF, CSV, JSON) to text, chunkers split the text
// into retrieval-sized pieces, and the Ingestor embeds the pieces in batches
// and replaces the stored document atomically.
//
// Two chunking families are provided. StructuralChunker cuts markdown at
// heading boundaries and records the heading lineage on each piece.
// SemanticChunker embeds sentences and cuts where the meaning shifts.
// RecursiveChunker is the shared fallback: paragraphs, then sentences, then
// words, with configurable overlap.
package ingest

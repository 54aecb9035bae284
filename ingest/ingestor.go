package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	sift "github.com/quellen/sift"
)

// Item identifies what is being ingested. The (WorkspaceID, Source, Version)
// triple is the replacement key: re-ingesting the same triple atomically
// replaces the prior document and all of its chunks.
type Item struct {
	WorkspaceID string
	Source      string
	Title       string
	Version     string
}

// Result holds the outcome of an ingest operation.
type Result struct {
	DocumentID string
	Document   sift.Document
	ChunkCount int
	// Degenerate counts chunks that had to be force-split by raw length.
	Degenerate int
}

// Ingestor provides end-to-end ingestion: extract → chunk → embed → store.
type Ingestor struct {
	store      sift.Store
	embedding  sift.EmbeddingProvider
	chunker    Chunker // explicit override; nil = auto-select by content type
	extractors map[ContentType]Extractor
	batchSize  int
	logger     *slog.Logger
}

// Option configures an Ingestor.
type Option func(*Ingestor)

// WithChunker forces a single chunker for all content types, overriding the
// per-type auto-selection.
func WithChunker(c Chunker) Option {
	return func(ing *Ingestor) { ing.chunker = c }
}

// WithExtractor registers an Extractor for a given ContentType.
func WithExtractor(ct ContentType, e Extractor) Option {
	return func(ing *Ingestor) { ing.extractors[ct] = e }
}

// WithBatchSize sets the number of chunks per Embed call (default 64).
func WithBatchSize(n int) Option {
	return func(ing *Ingestor) { ing.batchSize = n }
}

// WithLogger sets the structured logger for the ingestor.
func WithLogger(l *slog.Logger) Option {
	return func(ing *Ingestor) { ing.logger = l }
}

// NewIngestor creates an Ingestor with extractors registered for plain text,
// markdown, HTML, CSV, JSON, and PDF. Markdown content is chunked
// structurally; everything else uses recursive splitting unless WithChunker
// overrides it.
func NewIngestor(store sift.Store, emb sift.EmbeddingProvider, opts ...Option) *Ingestor {
	ing := &Ingestor{
		store:     store,
		embedding: emb,
		extractors: map[ContentType]Extractor{
			TypePlainText: PlainTextExtractor{},
			TypeMarkdown:  MarkdownExtractor{},
			TypeHTML:      NewHTMLExtractor(),
			TypeCSV:       CSVExtractor{},
			TypeJSON:      JSONExtractor{},
			TypePDF:       NewPDFExtractor(),
		},
		batchSize: 64,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, o := range opts {
		o(ing)
	}
	return ing
}

// IngestText ingests text content, chunking it structurally when it contains
// markdown headings.
func (ing *Ingestor) IngestText(ctx context.Context, item Item, text string) (Result, error) {
	return ing.ingest(ctx, item, normalizeNewlines(text), TypeMarkdown)
}

// IngestFile ingests file content, detecting the content type from the
// filename extension. When Item.Source or Item.Title are empty they default
// to the filename.
func (ing *Ingestor) IngestFile(ctx context.Context, item Item, content []byte, filename string) (Result, error) {
	ext := strings.TrimPrefix(filepath.Ext(filename), ".")
	ct := ContentTypeFromExtension(ext)

	extractor, ok := ing.extractors[ct]
	if !ok {
		extractor = PlainTextExtractor{}
	}
	text, err := extractor.Extract(content)
	if err != nil {
		return Result{}, fmt.Errorf("extract %s: %w", ct, err)
	}

	if item.Source == "" {
		item.Source = filename
	}
	if item.Title == "" {
		item.Title = filepath.Base(filename)
	}
	return ing.ingest(ctx, item, text, ct)
}

// IngestReader reads all content from r and ingests it.
func (ing *Ingestor) IngestReader(ctx context.Context, item Item, r io.Reader, filename string) (Result, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Result{}, fmt.Errorf("read: %w", err)
	}
	return ing.IngestFile(ctx, item, data, filename)
}

func (ing *Ingestor) ingest(ctx context.Context, item Item, text string, ct ContentType) (Result, error) {
	if item.WorkspaceID == "" {
		return Result{}, fmt.Errorf("ingest: workspace id is required")
	}
	if item.Source == "" {
		return Result{}, fmt.Errorf("ingest: source is required")
	}

	doc := sift.Document{
		ID:          sift.NewID(),
		WorkspaceID: item.WorkspaceID,
		Title:       item.Title,
		Source:      item.Source,
		Version:     item.Version,
		Content:     text,
		CreatedAt:   sift.NowUnix(),
	}

	pieces, err := ing.selectChunker(ct).Chunk(ctx, text)
	if err != nil {
		return Result{}, fmt.Errorf("chunk: %w", err)
	}

	chunks := make([]sift.Chunk, len(pieces))
	degenerate := 0
	for i, p := range pieces {
		if p.Degenerate {
			degenerate++
		}
		chunks[i] = sift.Chunk{
			ID:            sift.NewID(),
			DocumentID:    doc.ID,
			DocumentTitle: doc.Title,
			WorkspaceID:   item.WorkspaceID,
			SequenceIndex: i,
			Text:          p.Text,
			TokenCount:    EstimateTokens(p.Text),
			HeadingPath:   p.HeadingPath,
			Degenerate:    p.Degenerate,
		}
	}

	if err := ing.batchEmbed(ctx, chunks); err != nil {
		return Result{}, err
	}

	if err := ing.store.ReplaceDocument(ctx, doc, chunks); err != nil {
		return Result{}, fmt.Errorf("store: %w", err)
	}

	ing.logger.Info("document ingested",
		"workspace", item.WorkspaceID,
		"source", item.Source,
		"version", item.Version,
		"chunks", len(chunks),
		"degenerate", degenerate)

	return Result{
		DocumentID: doc.ID,
		Document:   doc,
		ChunkCount: len(chunks),
		Degenerate: degenerate,
	}, nil
}

// selectChunker returns the chunker for a content type. An explicit chunker
// set via WithChunker always wins; markdown auto-selects the structural
// chunker.
func (ing *Ingestor) selectChunker(ct ContentType) Chunker {
	if ing.chunker != nil {
		return ing.chunker
	}
	if ct == TypeMarkdown {
		return NewStructuralChunker()
	}
	return NewRecursiveChunker()
}

// batchEmbed embeds chunks in batches of ing.batchSize.
func (ing *Ingestor) batchEmbed(ctx context.Context, chunks []sift.Chunk) error {
	for i := 0; i < len(chunks); i += ing.batchSize {
		end := min(i+ing.batchSize, len(chunks))

		batch := chunks[i:end]
		texts := make([]string, len(batch))
		for j, c := range batch {
			texts[j] = c.Text
		}

		embeddings, err := ing.embedding.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed batch %d-%d: %w", i, end, err)
		}
		for j := range batch {
			if j < len(embeddings) {
				chunks[i+j].Embedding = embeddings[j]
			}
		}
	}
	return nil
}

// Command sift ingests documents into a workspace and answers questions
// against them.
//
// Usage:
//
//	sift ingest -workspace ws1 doc1.md doc2.pdf
//	sift ask -workspace ws1 "how do I configure retries?"
//	sift list -workspace ws1
//
// Configuration comes from sift.toml (or SIFT_CONFIG) plus SIFT_* env vars.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	sift "github.com/quellen/sift"
	"github.com/quellen/sift/history"
	"github.com/quellen/sift/ingest"
	"github.com/quellen/sift/internal/config"
	"github.com/quellen/sift/observer"
	"github.com/quellen/sift/provider/openaicompat"
	"github.com/quellen/sift/store/postgres"
	"github.com/quellen/sift/store/sqlite"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Load(os.Getenv("SIFT_CONFIG"))

	var err error
	switch os.Args[1] {
	case "ingest":
		err = runIngest(ctx, cfg, os.Args[2:])
	case "ask":
		err = runAsk(ctx, cfg, os.Args[2:])
	case "list":
		err = runList(ctx, cfg, os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatal(err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: sift <ingest|ask|list> [flags] args...")
}

// openStore picks the store backend from config. The returned cleanup closes
// whatever the store does not own.
func openStore(ctx context.Context, cfg config.Config) (sift.Store, func(), error) {
	if cfg.Database.Driver == "postgres" {
		pool, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		st := postgres.New(pool, postgres.WithEmbeddingDimension(cfg.Embedding.Dimensions))
		return st, pool.Close, nil
	}
	st := sqlite.New(cfg.Database.Path)
	return st, func() { st.Close() }, nil
}

func runIngest(ctx context.Context, cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	workspace := fs.String("workspace", "default", "workspace id")
	version := fs.String("version", "", "document version tag")
	fs.Parse(args)
	if fs.NArg() == 0 {
		return fmt.Errorf("ingest: no files given")
	}

	store, cleanup, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()
	if err := store.Init(ctx); err != nil {
		return err
	}

	embedding := buildEmbedding(ctx, cfg)

	ing := ingest.NewIngestor(store, embedding,
		ingest.WithBatchSize(cfg.Ingest.BatchSize))

	for _, path := range fs.Args() {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		item := ingest.Item{WorkspaceID: *workspace, Version: *version}
		res, err := ing.IngestFile(ctx, item, data, path)
		if err != nil {
			return fmt.Errorf("ingest %s: %w", path, err)
		}
		fmt.Printf("%s: %d chunks\n", path, res.ChunkCount)
	}
	return nil
}

func runList(ctx context.Context, cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	workspace := fs.String("workspace", "default", "workspace id")
	limit := fs.Int("limit", 0, "max documents to list (0 = all)")
	fs.Parse(args)

	store, cleanup, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()
	if err := store.Init(ctx); err != nil {
		return err
	}

	docs, err := store.ListDocuments(ctx, *workspace, *limit)
	if err != nil {
		return err
	}
	for _, doc := range docs {
		created := time.Unix(doc.CreatedAt, 0).Format("2006-01-02 15:04")
		version := doc.Version
		if version == "" {
			version = "-"
		}
		fmt.Printf("%s  %-10s  %s  %q (%s)\n", doc.ID, version, created, doc.Title, doc.Source)
	}
	return nil
}

func runAsk(ctx context.Context, cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	workspace := fs.String("workspace", "default", "workspace id")
	conversation := fs.String("conversation", "", "conversation id for follow-up questions")
	fs.Parse(args)
	if fs.NArg() == 0 {
		return fmt.Errorf("ask: no question given")
	}
	query := fs.Arg(0)

	store, cleanup, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()
	if err := store.Init(ctx); err != nil {
		return err
	}

	var inst *observer.Instruments
	if cfg.Observer.Enabled {
		pricing := make(map[string]observer.ModelPricing, len(cfg.Observer.Pricing))
		for model, p := range cfg.Observer.Pricing {
			pricing[model] = observer.ModelPricing{InputPerMillion: p.Input, OutputPerMillion: p.Output}
		}
		instruments, shutdown, err := observer.Init(ctx, pricing)
		if err != nil {
			return fmt.Errorf("init observability: %w", err)
		}
		defer func() {
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(shutCtx)
		}()
		inst = instruments
	}

	embedding := buildEmbedding(ctx, cfg)
	provider := sift.WithGenerationRetry(
		openaicompat.NewProvider(cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.BaseURL))
	if cfg.LLM.RPM > 0 || cfg.LLM.TPM > 0 {
		provider = sift.WithRateLimit(provider, sift.RPM(cfg.LLM.RPM), sift.TPM(cfg.LLM.TPM))
	}
	if inst != nil {
		embedding = observer.WrapEmbedding(embedding, cfg.Embedding.Model, inst)
		provider = observer.WrapProvider(provider, cfg.LLM.Model, inst)
	}

	opts := []sift.PipelineOption{
		sift.WithTopK(cfg.Pipeline.TopK),
	}
	if cfg.Rewrite.Enabled {
		rewriteLLM := openaicompat.NewProvider(cfg.Rewrite.APIKey, cfg.Rewrite.Model, cfg.Rewrite.BaseURL)
		opts = append(opts, sift.WithRewriter(sift.NewLLMRewriter(rewriteLLM,
			sift.RewriteTimeout(time.Duration(cfg.Rewrite.TimeoutMS)*time.Millisecond))))
	}
	if cfg.Pipeline.RerankThreshold > 0 {
		opts = append(opts, sift.WithReranker(sift.NewLLMReranker(provider,
			sift.RerankThreshold(float32(cfg.Pipeline.RerankThreshold)))))
	}
	if cfg.Pipeline.TemplateVersion != "" {
		opts = append(opts, sift.WithComposer(
			sift.NewComposer(sift.DefaultTemplateVersion(cfg.Pipeline.TemplateVersion))))
	}
	if cfg.Pipeline.GenerationTimeoutMS > 0 {
		opts = append(opts, sift.WithGenerationTimeout(
			time.Duration(cfg.Pipeline.GenerationTimeoutMS)*time.Millisecond))
	}
	if inst != nil {
		opts = append(opts, sift.WithPipelineTracer(observer.NewTracer()))
	}

	pipe := sift.NewPipeline(embedding, provider, sift.NewStoreRetriever(store), opts...)

	var hist []sift.Message
	var transcript *history.Store
	if *conversation != "" && cfg.Database.Driver != "postgres" {
		transcript = history.New(cfg.Database.Path)
		defer transcript.Close()
		if err := transcript.Init(ctx); err != nil {
			return err
		}
		hist, err = transcript.Recent(ctx, *conversation, 20)
		if err != nil {
			return err
		}
	}

	events := make(chan sift.StreamEvent, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range events {
			switch ev.Type {
			case sift.EventSources:
				for _, src := range ev.Sources {
					fmt.Printf("[S%d] %s\n", src.Index, src.Title)
				}
				fmt.Println()
			case sift.EventToken:
				fmt.Print(ev.Token)
			case sift.EventCitationWarning:
				fmt.Fprintf(os.Stderr, "\nwarning: %s\n", ev.Warning)
			case sift.EventDone:
				fmt.Println()
			case sift.EventError:
				fmt.Fprintf(os.Stderr, "\nerror: %v\n", ev.Err)
			case sift.EventCancelled:
				fmt.Fprintln(os.Stderr, "\ncancelled")
			}
		}
	}()

	answer, err := pipe.Ask(ctx, sift.Request{
		WorkspaceID:    *workspace,
		ConversationID: *conversation,
		Query:          query,
		History:        hist,
	}, events)
	<-done
	if err == nil && transcript != nil {
		_ = transcript.Append(ctx, answer.ConversationID, sift.UserMessage(query))
		_ = transcript.Append(ctx, answer.ConversationID, sift.AssistantMessage(answer.Text))
	}
	return err
}

// buildEmbedding wraps the embedding provider with retry middleware.
func buildEmbedding(_ context.Context, cfg config.Config) sift.EmbeddingProvider {
	return sift.WithEmbeddingRetry(openaicompat.NewEmbedding(
		cfg.Embedding.APIKey, cfg.Embedding.Model, cfg.Embedding.BaseURL, cfg.Embedding.Dimensions))
}

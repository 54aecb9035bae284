package sift

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
)

// State identifies where a pipeline run currently is. Transitions are
// strictly forward; ERRORED and CANCELLED are reachable from any active
// state and are terminal alongside DONE.
type State string

const (
	StateInit       State = "INIT"
	StateRewriting  State = "REWRITING"
	StateEmbedding  State = "EMBEDDING"
	StateRetrieving State = "RETRIEVING"
	StateReranking  State = "RERANKING"
	StateComposing  State = "COMPOSING"
	StateGenerating State = "GENERATING"
	StateDone       State = "DONE"
	StateErrored    State = "ERRORED"
	StateCancelled  State = "CANCELLED"
)

// Stable user-facing failure messages. Vendor error detail goes to logs and
// spans only; the stream never leaks it.
const (
	msgEmbeddingDown  = "The answer service is temporarily unavailable. Please try again shortly."
	msgRetrievalDown  = "Document search is temporarily unavailable. Please try again shortly."
	msgGenerationDown = "Answer generation is temporarily unavailable. Please try again shortly."
	msgInternal       = "Something went wrong while answering. Please try again."
)

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithRewriter sets the query rewriter. Default: NopRewriter (no rewriting).
func WithRewriter(r Rewriter) PipelineOption {
	return func(p *Pipeline) { p.rewriter = r }
}

// WithReranker enables second-pass relevance scoring of retrieved candidates.
// When unset, retrieval order is used as-is. A reranker failure is never
// fatal: the pipeline logs it and falls back to the retrieval order.
func WithReranker(r Reranker) PipelineOption {
	return func(p *Pipeline) { p.reranker = r }
}

// WithComposer sets the prompt composer. Default: NewComposer().
func WithComposer(c *Composer) PipelineOption {
	return func(p *Pipeline) { p.composer = c }
}

// WithTopK sets how many chunks retrieval returns (default 8).
func WithTopK(k int) PipelineOption {
	return func(p *Pipeline) { p.topK = k }
}

// WithGenerationTimeout caps the wall-clock time of the generation stage.
// When the budget runs out mid-stream, the stream ends with a cancelled
// event. The zero value (default) disables the cap.
func WithGenerationTimeout(d time.Duration) PipelineOption {
	return func(p *Pipeline) { p.genTimeout = d }
}

// WithPipelineLogger sets the structured logger for the pipeline.
func WithPipelineLogger(l *slog.Logger) PipelineOption {
	return func(p *Pipeline) { p.logger = l }
}

// WithPipelineTracer enables span creation around each pipeline stage.
func WithPipelineTracer(t Tracer) PipelineOption {
	return func(p *Pipeline) { p.tracer = t }
}

// Pipeline orchestrates one question through rewrite, embed, retrieve,
// rerank, compose, and generate, streaming progress to the caller. A Pipeline
// is stateless across requests and safe for concurrent use.
type Pipeline struct {
	embedding  EmbeddingProvider
	provider   Provider
	retriever  Retriever
	rewriter   Rewriter
	reranker   Reranker
	composer   *Composer
	topK       int
	genTimeout time.Duration
	logger     *slog.Logger
	tracer     Tracer
}

// NewPipeline creates a Pipeline from the three mandatory capabilities:
// an embedding provider, a generation provider, and a retriever.
func NewPipeline(embedding EmbeddingProvider, provider Provider, retriever Retriever, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		embedding: embedding,
		provider:  provider,
		retriever: retriever,
		rewriter:  NopRewriter{},
		topK:      8,
		logger:    nopLogger,
	}
	for _, o := range opts {
		o(p)
	}
	if p.composer == nil {
		p.composer = NewComposer()
	}
	return p
}

func (p *Pipeline) span(ctx context.Context, name string, attrs ...SpanAttr) (context.Context, Span) {
	if p.tracer == nil {
		return ctx, nopSpan{}
	}
	return p.tracer.Start(ctx, name, attrs...)
}

// Ask answers one question against a workspace, streaming events into ch.
//
// The stream contract: exactly one sources event arrives before any token
// event, and exactly one terminal event (done, error, or cancelled) closes
// the stream. ch is always closed before Ask returns. The returned Answer is
// populated only on the done path; on error and cancelled paths the error
// return carries the cause.
func (p *Pipeline) Ask(ctx context.Context, req Request, ch chan<- StreamEvent) (Answer, error) {
	defer close(ch)

	state := StateInit
	transition := func(next State) {
		p.logger.Debug("pipeline state", "from", string(state), "to", string(next), "conversation", req.ConversationID)
		state = next
	}

	fail := func(err error) (Answer, error) {
		failedIn := state
		transition(StateErrored)
		p.logger.Error("pipeline failed", "state", string(failedIn), "workspace", req.WorkspaceID, "error", err)
		ch <- StreamEvent{Type: EventError, Err: userSafeMessage(err)}
		return Answer{}, err
	}
	cancelled := func(err error) (Answer, error) {
		transition(StateCancelled)
		p.logger.Info("pipeline cancelled", "workspace", req.WorkspaceID, "reason", err)
		ch <- StreamEvent{Type: EventCancelled}
		return Answer{}, err
	}

	if req.ConversationID == "" {
		req.ConversationID = NewID()
	}

	ctx, rootSpan := p.span(ctx, "pipeline.ask",
		StringAttr("workspace", req.WorkspaceID),
		StringAttr("conversation", req.ConversationID))
	defer rootSpan.End()

	// Rewrite. Infallible by contract: the worst case is the original query.
	transition(StateRewriting)
	rwCtx, rwSpan := p.span(ctx, "pipeline.rewrite")
	rw := p.rewriter.Rewrite(rwCtx, req.Query, req.History)
	rwSpan.SetAttr(BoolAttr("used", rw.Used))
	rwSpan.End()
	if err := ctx.Err(); err != nil {
		return cancelled(err)
	}

	// Embed the retrieval query. The rewrite optimizes retrieval only; the
	// original query is what reaches the prompt.
	transition(StateEmbedding)
	embCtx, embSpan := p.span(ctx, "pipeline.embed")
	vecs, err := p.embedding.Embed(embCtx, []string{rw.Query()})
	if err != nil || len(vecs) == 0 {
		if err == nil {
			err = errors.New("embedding returned no vectors")
		}
		embSpan.Error(err)
		embSpan.End()
		if ctx.Err() != nil {
			return cancelled(ctx.Err())
		}
		return fail(&ErrUnavailable{Service: ServiceEmbedding, Err: err})
	}
	embSpan.End()

	transition(StateRetrieving)
	retCtx, retSpan := p.span(ctx, "pipeline.retrieve", IntAttr("top_k", p.topK))
	results, err := p.retriever.Retrieve(retCtx, req.WorkspaceID, vecs[0], p.topK)
	if err != nil {
		retSpan.Error(err)
		retSpan.End()
		if ctx.Err() != nil {
			return cancelled(ctx.Err())
		}
		return fail(err)
	}
	retSpan.SetAttr(IntAttr("results", len(results)))
	retSpan.End()
	if err := ctx.Err(); err != nil {
		return cancelled(err)
	}

	// Rerank, when configured. Degrades to retrieval order on failure.
	transition(StateReranking)
	if p.reranker != nil && len(results) > 0 {
		rrCtx, rrSpan := p.span(ctx, "pipeline.rerank", IntAttr("candidates", len(results)))
		reranked, err := p.reranker.Rerank(rrCtx, req.Query, results)
		if err != nil {
			rrSpan.Error(err)
			p.logger.Warn("rerank failed, keeping retrieval order", "error", err)
		} else {
			kept := make([]RetrievalResult, 0, len(reranked))
			for _, rr := range reranked {
				kept = append(kept, RetrievalResult{
					ChunkID: rr.ChunkID,
					Score:   rr.RelevanceScore,
					Rank:    rr.NewRank,
					Chunk:   rr.Chunk,
				})
			}
			rrSpan.SetAttr(IntAttr("kept", len(kept)))
			results = kept
		}
		rrSpan.End()
	}
	if err := ctx.Err(); err != nil {
		return cancelled(err)
	}

	transition(StateComposing)
	_, compSpan := p.span(ctx, "pipeline.compose", IntAttr("sources", len(results)))
	env, err := p.composer.Compose(results, req.Query, req.TemplateVersion)
	if err != nil {
		compSpan.Error(err)
		compSpan.End()
		return fail(err)
	}
	compSpan.End()

	// The sources event precedes every token, even when empty.
	ch <- StreamEvent{Type: EventSources, Sources: env.Sources}

	transition(StateGenerating)
	genCtx := ctx
	if p.genTimeout > 0 {
		var cancel context.CancelFunc
		genCtx, cancel = context.WithTimeout(ctx, p.genTimeout)
		defer cancel()
	}
	genCtx, genSpan := p.span(genCtx, "pipeline.generate", BoolAttr("no_evidence", env.NoEvidence))
	defer genSpan.End()

	tokenCh := make(chan string, 64)
	var (
		resp   ChatResponse
		genErr error
	)
	streamDone := make(chan struct{})
	go func() {
		defer close(streamDone)
		resp, genErr = p.provider.ChatStream(genCtx, ChatRequest{Messages: env.Messages()}, tokenCh)
	}()

	var text strings.Builder
	for tok := range tokenCh {
		text.WriteString(tok)
		ch <- StreamEvent{Type: EventToken, Token: tok}
	}
	<-streamDone

	if genErr != nil {
		genSpan.Error(genErr)
		if errors.Is(genErr, context.Canceled) || errors.Is(genErr, context.DeadlineExceeded) || genCtx.Err() != nil {
			return cancelled(genErr)
		}
		return fail(&ErrUnavailable{Service: ServiceGeneration, Err: genErr})
	}
	if err := genCtx.Err(); err != nil {
		return cancelled(err)
	}

	raw := resp.Content
	if raw == "" {
		raw = text.String()
	}

	final, insufficient, warnings := finishAnswer(raw, env)
	for _, w := range warnings {
		p.logger.Warn("unresolvable citation", "warning", w)
		ch <- StreamEvent{Type: EventCitationWarning, Warning: w}
	}

	transition(StateDone)
	answer := Answer{
		Text:                 final,
		Sources:              env.Sources,
		Rewrite:              rw,
		ConversationID:       req.ConversationID,
		Usage:                resp.Usage,
		InsufficientEvidence: insufficient,
	}
	ch <- StreamEvent{Type: EventDone, Answer: final, ConversationID: req.ConversationID}
	p.logger.Info("pipeline done",
		"workspace", req.WorkspaceID,
		"conversation", req.ConversationID,
		"sources", len(env.Sources),
		"insufficient_evidence", insufficient)
	return answer, nil
}

// finishAnswer post-processes the generated text: insufficient-evidence
// answers are stripped of any stray citation markers and carry no Sources
// section; everything else gets citation validation and the mandatory
// trailing Sources section.
func finishAnswer(raw string, env PromptEnvelope) (final string, insufficient bool, warnings []string) {
	trimmed := strings.TrimSpace(raw)
	if env.NoEvidence || trimmed == InsufficientEvidenceReply {
		return StripCitations(trimmed), true, nil
	}

	warnings = ValidateCitations(trimmed, env.Sources)
	if section := SourcesSection(env.Sources, CitationIndices(trimmed)); section != "" {
		final = trimmed + "\n\n" + section
	} else {
		final = trimmed
	}
	return final, false, warnings
}

// userSafeMessage maps an internal error to the stable message the stream is
// allowed to carry.
func userSafeMessage(err error) string {
	var unavailable *ErrUnavailable
	if errors.As(err, &unavailable) {
		switch unavailable.Service {
		case ServiceEmbedding:
			return msgEmbeddingDown
		case ServiceRetrieval:
			return msgRetrievalDown
		case ServiceGeneration:
			return msgGenerationDown
		}
	}
	return msgInternal
}

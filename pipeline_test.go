package sift

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

// checkStreamContract asserts the event ordering rules: exactly one sources
// event before any token, and exactly one terminal event, last.
func checkStreamContract(t *testing.T, events []StreamEvent) {
	t.Helper()
	if len(events) == 0 {
		t.Fatal("no events emitted")
	}

	var sourcesCount, terminalCount int
	sawToken := false
	for i, ev := range events {
		switch ev.Type {
		case EventSources:
			sourcesCount++
			if sawToken {
				t.Errorf("sources event at %d after a token", i)
			}
		case EventToken:
			sawToken = true
			if sourcesCount == 0 {
				t.Errorf("token event at %d before any sources event", i)
			}
		case EventDone, EventError, EventCancelled:
			terminalCount++
			if i != len(events)-1 {
				t.Errorf("terminal event at %d is not last of %d", i, len(events))
			}
		}
	}
	if terminalCount != 1 {
		t.Errorf("expected exactly one terminal event, got %d", terminalCount)
	}
	if last := events[len(events)-1]; last.Type == EventDone || last.Type == EventToken {
		if sourcesCount != 1 {
			t.Errorf("expected exactly one sources event, got %d", sourcesCount)
		}
	}
}

func newTestPipeline(provider Provider, retriever Retriever, opts ...PipelineOption) (*Pipeline, *stubEmbedding) {
	emb := &stubEmbedding{vec: []float32{0.1, 0.2, 0.3}}
	return NewPipeline(emb, provider, retriever, opts...), emb
}

func TestAskHappyPath(t *testing.T) {
	prov := &stubProvider{results: []stubResult{
		{tokens: []string{"Retries ", "back off ", "exponentially [S1]."}},
	}}
	pipe, _ := newTestPipeline(prov, &stubRetriever{results: makeResults(2)})

	answer, err, events := collectAsk(pipe, context.Background(), Request{
		WorkspaceID: "ws1",
		Query:       "how do retries work?",
	})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	checkStreamContract(t, events)

	if events[0].Type != EventSources || len(events[0].Sources) != 2 {
		t.Errorf("first event = %+v", events[0])
	}
	if events[len(events)-1].Type != EventDone {
		t.Errorf("last event = %+v", events[len(events)-1])
	}

	if !strings.HasPrefix(answer.Text, "Retries back off exponentially [S1].") {
		t.Errorf("answer = %q", answer.Text)
	}
	if !strings.Contains(answer.Text, "\n\nSources:\n[S1] Handbook — Guide") {
		t.Errorf("answer missing titled sources section: %q", answer.Text)
	}
	if strings.Contains(answer.Text, "[S2]") {
		t.Errorf("uncited source listed: %q", answer.Text)
	}
	if answer.ConversationID == "" {
		t.Error("conversation id must be assigned")
	}
	if answer.InsufficientEvidence {
		t.Error("unexpected insufficient-evidence flag")
	}
	if len(answer.Sources) != 2 {
		t.Errorf("answer sources = %+v", answer.Sources)
	}
}

func TestAskKeepsConversationID(t *testing.T) {
	prov := &stubProvider{results: []stubResult{{tokens: []string{"ok [S1]."}}}}
	pipe, _ := newTestPipeline(prov, &stubRetriever{results: makeResults(1)})

	answer, err, events := collectAsk(pipe, context.Background(), Request{
		WorkspaceID:    "ws1",
		ConversationID: "conv-42",
		Query:          "q",
	})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if answer.ConversationID != "conv-42" {
		t.Errorf("conversation id = %q", answer.ConversationID)
	}
	if done := events[len(events)-1]; done.ConversationID != "conv-42" {
		t.Errorf("done event conversation id = %q", done.ConversationID)
	}
}

func TestAskNoEvidence(t *testing.T) {
	prov := &stubProvider{results: []stubResult{
		{tokens: []string{InsufficientEvidenceReply}},
	}}
	pipe, _ := newTestPipeline(prov, &stubRetriever{})

	answer, err, events := collectAsk(pipe, context.Background(), Request{
		WorkspaceID: "empty",
		Query:       "anything?",
	})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	checkStreamContract(t, events)

	// The sources event still precedes generation, just empty.
	if events[0].Type != EventSources || len(events[0].Sources) != 0 {
		t.Errorf("first event = %+v", events[0])
	}
	if !answer.InsufficientEvidence {
		t.Error("expected insufficient-evidence flag")
	}
	if answer.Text != InsufficientEvidenceReply {
		t.Errorf("answer = %q", answer.Text)
	}
	if strings.Contains(answer.Text, "Sources:") {
		t.Error("no-evidence answer must not carry a sources section")
	}
}

func TestAskStripsStrayCitationsFromNoEvidenceAnswer(t *testing.T) {
	prov := &stubProvider{results: []stubResult{
		{tokens: []string{"I don't know [S1] anything [S2]."}},
	}}
	pipe, _ := newTestPipeline(prov, &stubRetriever{})

	answer, err, _ := collectAsk(pipe, context.Background(), Request{Query: "q"})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if strings.Contains(answer.Text, "[S") {
		t.Errorf("citation markers must be stripped: %q", answer.Text)
	}
}

func TestAskInsufficientReplyDespiteEvidence(t *testing.T) {
	prov := &stubProvider{results: []stubResult{
		{tokens: []string{InsufficientEvidenceReply}},
	}}
	pipe, _ := newTestPipeline(prov, &stubRetriever{results: makeResults(2)})

	answer, err, _ := collectAsk(pipe, context.Background(), Request{Query: "q"})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if !answer.InsufficientEvidence {
		t.Error("canonical refusal must set the insufficient-evidence flag")
	}
	if strings.Contains(answer.Text, "Sources:") {
		t.Error("refusal must not carry a sources section")
	}
}

func TestAskRerankerFiltersSources(t *testing.T) {
	prov := &stubProvider{results: []stubResult{{tokens: []string{"ok [S1]."}}}}
	// Scores 1.0, 0.8, 0.6, 0.4, 0.2 — threshold keeps the top three.
	pipe, _ := newTestPipeline(prov, &stubRetriever{results: makeResults(5)},
		WithReranker(NewThresholdReranker(0.5)))

	answer, err, events := collectAsk(pipe, context.Background(), Request{Query: "q"})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	checkStreamContract(t, events)
	if len(events[0].Sources) != 3 {
		t.Errorf("expected 3 surviving sources, got %d", len(events[0].Sources))
	}
	if len(answer.Sources) != 3 {
		t.Errorf("answer sources = %d", len(answer.Sources))
	}
	for i, src := range answer.Sources {
		if src.Index != i+1 {
			t.Errorf("source %d index = %d, indices must be reassigned after rerank", i, src.Index)
		}
	}
}

// failReranker always errors.
type failReranker struct{}

func (failReranker) Rerank(context.Context, string, []RetrievalResult) ([]RerankResult, error) {
	return nil, errors.New("scoring blew up")
}

func TestAskRerankerFailureKeepsRetrievalOrder(t *testing.T) {
	prov := &stubProvider{results: []stubResult{{tokens: []string{"ok [S1]."}}}}
	pipe, _ := newTestPipeline(prov, &stubRetriever{results: makeResults(3)},
		WithReranker(failReranker{}))

	answer, err, events := collectAsk(pipe, context.Background(), Request{Query: "q"})
	if err != nil {
		t.Fatalf("rerank failure must not fail the request: %v", err)
	}
	checkStreamContract(t, events)
	if len(answer.Sources) != 3 {
		t.Errorf("expected all retrieval results kept, got %d", len(answer.Sources))
	}
	if answer.Sources[0].ChunkID != "chunk-1" {
		t.Errorf("retrieval order not preserved: %+v", answer.Sources)
	}
}

func TestAskEmbeddingFailure(t *testing.T) {
	prov := &stubProvider{}
	pipe := NewPipeline(
		&stubEmbedding{err: errors.New("dial tcp: refused")},
		prov, &stubRetriever{})

	_, err, events := collectAsk(pipe, context.Background(), Request{Query: "q"})
	var unavail *ErrUnavailable
	if !errors.As(err, &unavail) || unavail.Service != ServiceEmbedding {
		t.Fatalf("expected embedding ErrUnavailable, got %v", err)
	}
	checkStreamContract(t, events)
	last := events[len(events)-1]
	if last.Type != EventError || last.Err != msgEmbeddingDown {
		t.Errorf("terminal event = %+v", last)
	}
	if prov.calls != 0 {
		t.Error("generation must not run after an embedding failure")
	}
}

func TestAskRetrievalFailure(t *testing.T) {
	prov := &stubProvider{}
	pipe, _ := newTestPipeline(prov,
		&stubRetriever{err: &ErrUnavailable{Service: ServiceRetrieval, Err: errors.New("down")}})

	_, err, events := collectAsk(pipe, context.Background(), Request{Query: "q"})
	var unavail *ErrUnavailable
	if !errors.As(err, &unavail) || unavail.Service != ServiceRetrieval {
		t.Fatalf("expected retrieval ErrUnavailable, got %v", err)
	}
	last := events[len(events)-1]
	if last.Type != EventError || last.Err != msgRetrievalDown {
		t.Errorf("terminal event = %+v", last)
	}
}

func TestAskFailureLogsFailingState(t *testing.T) {
	var buf bytes.Buffer
	pipe, _ := newTestPipeline(&stubProvider{},
		&stubRetriever{err: &ErrUnavailable{Service: ServiceRetrieval, Err: errors.New("down")}},
		WithPipelineLogger(slog.New(slog.NewTextHandler(&buf, nil))))

	if _, err, _ := collectAsk(pipe, context.Background(), Request{Query: "q"}); err == nil {
		t.Fatal("expected retrieval failure")
	}

	// The error log names the stage that failed, not the terminal state.
	logged := buf.String()
	if !strings.Contains(logged, "state=RETRIEVING") {
		t.Errorf("failure log missing the failing stage:\n%s", logged)
	}
	if strings.Contains(logged, "state=ERRORED") {
		t.Errorf("failure log reports the terminal state instead of the failing stage:\n%s", logged)
	}
}

func TestAskGenerationFailure(t *testing.T) {
	prov := &stubProvider{results: []stubResult{{err: errors.New("model overloaded")}}}
	pipe, _ := newTestPipeline(prov, &stubRetriever{results: makeResults(1)})

	_, err, events := collectAsk(pipe, context.Background(), Request{Query: "q"})
	var unavail *ErrUnavailable
	if !errors.As(err, &unavail) || unavail.Service != ServiceGeneration {
		t.Fatalf("expected generation ErrUnavailable, got %v", err)
	}
	checkStreamContract(t, events)
	last := events[len(events)-1]
	if last.Type != EventError || last.Err != msgGenerationDown {
		t.Errorf("terminal event = %+v", last)
	}
}

func TestAskCancelledMidGeneration(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	prov := &stubProvider{
		streamFn: func(ctx context.Context, _ ChatRequest, ch chan<- string) (ChatResponse, error) {
			ch <- "partial "
			cancel()
			<-ctx.Done()
			close(ch)
			return ChatResponse{}, ctx.Err()
		},
	}
	pipe, _ := newTestPipeline(prov, &stubRetriever{results: makeResults(1)})

	_, err, events := collectAsk(pipe, ctx, Request{Query: "q"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	checkStreamContract(t, events)
	if events[len(events)-1].Type != EventCancelled {
		t.Errorf("terminal event = %+v", events[len(events)-1])
	}
}

func TestAskGenerationTimeout(t *testing.T) {
	prov := &stubProvider{
		streamFn: func(ctx context.Context, _ ChatRequest, ch chan<- string) (ChatResponse, error) {
			ch <- "never finishes "
			<-ctx.Done()
			close(ch)
			return ChatResponse{}, ctx.Err()
		},
	}
	pipe, _ := newTestPipeline(prov, &stubRetriever{results: makeResults(1)},
		WithGenerationTimeout(20*time.Millisecond))

	_, err, events := collectAsk(pipe, context.Background(), Request{Query: "q"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if events[len(events)-1].Type != EventCancelled {
		t.Errorf("terminal event = %+v", events[len(events)-1])
	}
}

func TestAskCancelledBeforeGeneration(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	prov := &stubProvider{}
	pipe, _ := newTestPipeline(prov, &stubRetriever{results: makeResults(1)})

	_, err, events := collectAsk(pipe, ctx, Request{Query: "q"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if events[len(events)-1].Type != EventCancelled {
		t.Errorf("terminal event = %+v", events[len(events)-1])
	}
}

func TestAskCitationWarnings(t *testing.T) {
	prov := &stubProvider{results: []stubResult{
		{tokens: []string{"definitely true [S9]."}},
	}}
	pipe, _ := newTestPipeline(prov, &stubRetriever{results: makeResults(1)})

	answer, err, events := collectAsk(pipe, context.Background(), Request{Query: "q"})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	checkStreamContract(t, events)

	var warned bool
	for _, ev := range events {
		if ev.Type == EventCitationWarning && strings.Contains(ev.Warning, "[S9]") {
			warned = true
		}
	}
	if !warned {
		t.Error("expected a citation warning event for [S9]")
	}
	// Warnings do not abort the answer.
	if events[len(events)-1].Type != EventDone {
		t.Errorf("terminal event = %+v", events[len(events)-1])
	}
	if answer.Text == "" {
		t.Error("answer must still be produced")
	}
}

// fixedRewriter always rewrites to the same retrieval query.
type fixedRewriter struct{ to string }

func (f fixedRewriter) Rewrite(_ context.Context, original string, _ []Message) RewriteResult {
	return RewriteResult{Original: original, Rewritten: f.to, Used: true, Reason: "rewritten by fixed"}
}

func TestAskRewriteScopedToRetrieval(t *testing.T) {
	prov := &stubProvider{results: []stubResult{{tokens: []string{"ok [S1]."}}}}
	pipe, emb := newTestPipeline(prov, &stubRetriever{results: makeResults(1)},
		WithRewriter(fixedRewriter{to: "retry backoff configuration"}))

	answer, err, _ := collectAsk(pipe, context.Background(), Request{
		Query: "how do I set that up?",
	})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}

	// The rewritten form drives embedding...
	if len(emb.texts) != 1 || emb.texts[0] != "retry backoff configuration" {
		t.Errorf("embedded texts = %v", emb.texts)
	}
	// ...but the prompt carries the user's original words.
	prompt := prov.lastReq.Messages[len(prov.lastReq.Messages)-1].Content
	if !strings.Contains(prompt, "how do I set that up?") {
		t.Error("prompt must carry the original query")
	}
	if strings.Contains(prompt, "retry backoff configuration") {
		t.Error("rewritten query must not reach the prompt")
	}
	if !answer.Rewrite.Used || answer.Rewrite.Rewritten != "retry backoff configuration" {
		t.Errorf("rewrite result = %+v", answer.Rewrite)
	}
}

func TestAskTopKReachesRetriever(t *testing.T) {
	prov := &stubProvider{results: []stubResult{{tokens: []string{"ok."}}}}
	ret := &stubRetriever{results: makeResults(1)}
	pipe, _ := newTestPipeline(prov, ret, WithTopK(3))

	if _, err, _ := collectAsk(pipe, context.Background(), Request{Query: "q"}); err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if ret.gotTopK != 3 {
		t.Errorf("topK = %d", ret.gotTopK)
	}
}

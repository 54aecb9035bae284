package sift

import (
	"context"
	"errors"
	"testing"
	"time"
)

func transientErr(status int) error {
	return &ErrHTTP{Status: status, Body: "slow down"}
}

func TestChatRetriesTransientErrors(t *testing.T) {
	stub := &stubProvider{results: []stubResult{
		{err: transientErr(429)},
		{err: transientErr(503)},
		{resp: ChatResponse{Content: "ok"}},
	}}
	p := WithGenerationRetry(stub, RetryBaseDelay(time.Millisecond))

	resp, err := p.Chat(context.Background(), ChatRequest{Messages: []Message{UserMessage("q")}})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "ok" {
		t.Errorf("content = %q", resp.Content)
	}
	if stub.calls != 3 {
		t.Errorf("expected 3 attempts, got %d", stub.calls)
	}
}

func TestChatDoesNotRetryNonTransient(t *testing.T) {
	stub := &stubProvider{results: []stubResult{
		{err: &ErrHTTP{Status: 400, Body: "bad request"}},
	}}
	p := WithGenerationRetry(stub, RetryBaseDelay(time.Millisecond))

	_, err := p.Chat(context.Background(), ChatRequest{})
	var httpErr *ErrHTTP
	if !errors.As(err, &httpErr) || httpErr.Status != 400 {
		t.Fatalf("expected the 400 to pass through, got %v", err)
	}
	if stub.calls != 1 {
		t.Errorf("non-transient errors must not be retried, got %d calls", stub.calls)
	}
}

func TestChatExhaustsAttempts(t *testing.T) {
	stub := &stubProvider{results: []stubResult{
		{err: transientErr(429)},
	}}
	p := WithGenerationRetry(stub, RetryMaxAttempts(2), RetryBaseDelay(time.Millisecond))

	_, err := p.Chat(context.Background(), ChatRequest{})
	var httpErr *ErrHTTP
	if !errors.As(err, &httpErr) || httpErr.Status != 429 {
		t.Fatalf("expected the last transient error, got %v", err)
	}
	if stub.calls != 2 {
		t.Errorf("expected 2 attempts, got %d", stub.calls)
	}
}

func TestChatHonorsRetryAfter(t *testing.T) {
	stub := &stubProvider{results: []stubResult{
		{err: &ErrHTTP{Status: 429, RetryAfter: 50 * time.Millisecond}},
		{resp: ChatResponse{Content: "ok"}},
	}}
	p := WithGenerationRetry(stub, RetryBaseDelay(time.Millisecond))

	start := time.Now()
	if _, err := p.Chat(context.Background(), ChatRequest{}); err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("retry fired after %v, must wait at least Retry-After", elapsed)
	}
}

func TestChatStreamRetriesBeforeFirstToken(t *testing.T) {
	stub := &stubProvider{results: []stubResult{
		{err: transientErr(503)},
		{tokens: []string{"hel", "lo"}, resp: ChatResponse{Content: "hello"}},
	}}
	p := WithGenerationRetry(stub, RetryBaseDelay(time.Millisecond))

	ch := make(chan string, 16)
	resp, err := p.ChatStream(context.Background(), ChatRequest{}, ch)
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}
	if resp.Content != "hello" {
		t.Errorf("response = %+v", resp)
	}

	var got string
	for tok := range ch {
		got += tok
	}
	if got != "hello" {
		t.Errorf("streamed %q", got)
	}
	if stub.calls != 2 {
		t.Errorf("expected 2 attempts, got %d", stub.calls)
	}
}

func TestChatStreamDoesNotRetryAfterTokens(t *testing.T) {
	attempts := 0
	stub := &stubProvider{
		streamFn: func(_ context.Context, _ ChatRequest, ch chan<- string) (ChatResponse, error) {
			attempts++
			ch <- "partial"
			close(ch)
			return ChatResponse{}, transientErr(429)
		},
	}
	p := WithGenerationRetry(stub, RetryBaseDelay(time.Millisecond))

	ch := make(chan string, 16)
	_, err := p.ChatStream(context.Background(), ChatRequest{}, ch)
	var httpErr *ErrHTTP
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected the stream error to pass through, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("a stream that already sent tokens must not be retried, got %d attempts", attempts)
	}
	// The caller channel must be closed with the partial output delivered.
	var got string
	for tok := range ch {
		got += tok
	}
	if got != "partial" {
		t.Errorf("streamed %q", got)
	}
}

func TestChatStreamClosesChannelOnExhaustion(t *testing.T) {
	stub := &stubProvider{results: []stubResult{{err: transientErr(429)}}}
	p := WithGenerationRetry(stub, RetryMaxAttempts(2), RetryBaseDelay(time.Millisecond))

	ch := make(chan string, 16)
	_, err := p.ChatStream(context.Background(), ChatRequest{}, ch)
	if err == nil {
		t.Fatal("expected error")
	}
	select {
	case _, ok := <-ch:
		if ok {
			t.Error("no tokens expected")
		}
	case <-time.After(time.Second):
		t.Error("channel not closed after exhaustion")
	}
}

func TestEmbedRetriesTransientErrors(t *testing.T) {
	inner := &flakyEmbedding{failures: 2, vec: []float32{0.1, 0.2}}
	e := WithEmbeddingRetry(inner, RetryBaseDelay(time.Millisecond))

	out, err := e.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(out) != 2 {
		t.Errorf("expected 2 vectors, got %d", len(out))
	}
	if inner.calls != 3 {
		t.Errorf("expected 3 attempts, got %d", inner.calls)
	}
}

func TestEmbedDoesNotRetryNonTransient(t *testing.T) {
	inner := &flakyEmbedding{failures: 1, failStatus: 401}
	e := WithEmbeddingRetry(inner, RetryBaseDelay(time.Millisecond))

	if _, err := e.Embed(context.Background(), []string{"a"}); err == nil {
		t.Fatal("expected error")
	}
	if inner.calls != 1 {
		t.Errorf("expected single attempt, got %d", inner.calls)
	}
}

// flakyEmbedding fails the first N calls with an HTTP error, then succeeds.
type flakyEmbedding struct {
	failures   int
	failStatus int
	vec        []float32
	calls      int
}

func (f *flakyEmbedding) Name() string    { return "flaky" }
func (f *flakyEmbedding) Dimensions() int { return len(f.vec) }

func (f *flakyEmbedding) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.calls <= f.failures {
		status := f.failStatus
		if status == 0 {
			status = 503
		}
		return nil, &ErrHTTP{Status: status}
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return out, nil
}

package sift

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// stubResult is one scripted provider response.
type stubResult struct {
	tokens []string
	resp   ChatResponse
	err    error
	delay  time.Duration
}

// stubProvider returns scripted results in order. When the script runs out,
// the last result repeats. streamFn, when set, takes over ChatStream
// entirely (it must close ch).
type stubProvider struct {
	mu       sync.Mutex
	results  []stubResult
	calls    int
	lastReq  ChatRequest
	streamFn func(ctx context.Context, req ChatRequest, ch chan<- string) (ChatResponse, error)
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) next(req ChatRequest) stubResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastReq = req
	idx := s.calls
	s.calls++
	if len(s.results) == 0 {
		return stubResult{}
	}
	if idx >= len(s.results) {
		idx = len(s.results) - 1
	}
	return s.results[idx]
}

func (s *stubProvider) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *stubProvider) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	r := s.next(req)
	if err := s.wait(ctx, r.delay); err != nil {
		return ChatResponse{}, err
	}
	return r.resp, r.err
}

func (s *stubProvider) ChatStream(ctx context.Context, req ChatRequest, ch chan<- string) (ChatResponse, error) {
	if s.streamFn != nil {
		s.mu.Lock()
		s.calls++
		s.lastReq = req
		s.mu.Unlock()
		return s.streamFn(ctx, req, ch)
	}
	r := s.next(req)
	if err := s.wait(ctx, r.delay); err != nil {
		close(ch)
		return ChatResponse{}, err
	}
	if r.err != nil {
		close(ch)
		return ChatResponse{}, r.err
	}
	for _, tok := range r.tokens {
		ch <- tok
	}
	close(ch)
	return r.resp, nil
}

var _ Provider = (*stubProvider)(nil)

// stubEmbedding returns the same vector for every input text.
type stubEmbedding struct {
	vec   []float32
	err   error
	calls int
	texts []string
}

func (s *stubEmbedding) Name() string    { return "stub-embed" }
func (s *stubEmbedding) Dimensions() int { return len(s.vec) }

func (s *stubEmbedding) Embed(_ context.Context, texts []string) ([][]float32, error) {
	s.calls++
	s.texts = append(s.texts, texts...)
	if s.err != nil {
		return nil, s.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = s.vec
	}
	return out, nil
}

var _ EmbeddingProvider = (*stubEmbedding)(nil)

// stubRetriever returns scripted retrieval results.
type stubRetriever struct {
	results  []RetrievalResult
	err      error
	gotTopK  int
	gotQuery []float32
}

func (s *stubRetriever) Retrieve(_ context.Context, _ string, queryEmbedding []float32, topK int) ([]RetrievalResult, error) {
	s.gotTopK = topK
	s.gotQuery = queryEmbedding
	if s.err != nil {
		return nil, s.err
	}
	return s.results, nil
}

var _ Retriever = (*stubRetriever)(nil)

// makeResults builds n retrieval results with descending scores and
// predictable chunk text ("passage 1" .. "passage n").
func makeResults(n int) []RetrievalResult {
	out := make([]RetrievalResult, n)
	for i := range out {
		id := fmt.Sprintf("chunk-%d", i+1)
		out[i] = RetrievalResult{
			ChunkID: id,
			Score:   float32(n-i) / float32(n),
			Rank:    i + 1,
			Chunk: Chunk{
				ID:            id,
				DocumentID:    "doc-1",
				DocumentTitle: "Handbook",
				WorkspaceID:   "ws1",
				Text:          fmt.Sprintf("passage %d", i+1),
				HeadingPath:   []string{"Guide"},
			},
		}
	}
	return out
}

// collectAsk runs Ask with a buffered event channel large enough that the
// pipeline never blocks, then returns the drained events.
func collectAsk(p *Pipeline, ctx context.Context, req Request) (Answer, error, []StreamEvent) {
	ch := make(chan StreamEvent, 256)
	answer, err := p.Ask(ctx, req, ch)
	var events []StreamEvent
	for ev := range ch {
		events = append(events, ev)
	}
	return answer, err, events
}

package sift

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// Reranker re-scores retrieved candidates with a finer relevance signal,
// independent of the initial retrieval score. Output is strictly a
// filter/reorder over the input set: never more candidates than it was
// given, never an invented one. Candidates scoring below the relevance
// threshold are dropped, not silently kept.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []RetrievalResult) ([]RerankResult, error)
}

// rerankByScore sorts candidates by relevance descending with a stable sort
// (ties keep original retrieval order), drops those below threshold, and
// assigns new 1-based ranks. scores must be parallel to candidates.
func rerankByScore(candidates []RetrievalResult, scores []float32, threshold float32) []RerankResult {
	order := make([]int, len(candidates))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})

	var out []RerankResult
	for _, idx := range order {
		if scores[idx] < threshold {
			continue
		}
		c := candidates[idx]
		out = append(out, RerankResult{
			ChunkID:        c.ChunkID,
			OriginalRank:   c.Rank,
			NewRank:        len(out) + 1,
			RelevanceScore: scores[idx],
			Chunk:          c.Chunk,
		})
	}
	return out
}

// --- ThresholdReranker ---

// ThresholdReranker treats the retrieval score as the relevance score and
// applies the threshold filter. It makes no external calls — useful as a
// baseline or when no LLM-based reranker is configured.
type ThresholdReranker struct {
	threshold float32
}

var _ Reranker = (*ThresholdReranker)(nil)

// NewThresholdReranker creates a Reranker that drops candidates whose
// retrieval score falls below threshold.
func NewThresholdReranker(threshold float32) *ThresholdReranker {
	return &ThresholdReranker{threshold: threshold}
}

func (r *ThresholdReranker) Rerank(_ context.Context, _ string, candidates []RetrievalResult) ([]RerankResult, error) {
	scores := make([]float32, len(candidates))
	for i, c := range candidates {
		scores[i] = c.Score
	}
	return rerankByScore(candidates, scores, r.threshold), nil
}

// --- LLMReranker ---

// RerankOption configures an LLMReranker.
type RerankOption func(*LLMReranker)

// RerankThreshold sets the minimum relevance score, in [0,1], a candidate
// needs to survive reranking. Default 0 (no filtering).
func RerankThreshold(t float32) RerankOption {
	return func(r *LLMReranker) { r.threshold = t }
}

// RerankLogger sets the structured logger for the reranker.
func RerankLogger(l *slog.Logger) RerankOption {
	return func(r *LLMReranker) { r.logger = l }
}

// LLMReranker asks an LLM to rate query-passage relevance 0-10 per candidate
// and normalizes to [0,1]. On LLM failure it returns an error; the pipeline
// falls back to the un-reranked retrieval order (graceful degradation lives
// in the orchestrator, not here).
type LLMReranker struct {
	provider  Provider
	threshold float32
	logger    *slog.Logger
}

var _ Reranker = (*LLMReranker)(nil)

// NewLLMReranker creates a Reranker that uses the given provider to score
// relevance.
func NewLLMReranker(provider Provider, opts ...RerankOption) *LLMReranker {
	r := &LLMReranker{provider: provider, logger: nopLogger}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Rerank scores each candidate with the LLM, then filters and reorders.
func (r *LLMReranker) Rerank(ctx context.Context, query string, candidates []RetrievalResult) ([]RerankResult, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	var passages strings.Builder
	for i, c := range candidates {
		fmt.Fprintf(&passages, "Passage %d:\n%s\n\n", i, c.Chunk.Text)
	}

	prompt := fmt.Sprintf(
		"Rate the relevance of each passage to the query on a scale of 0-10.\n\nQuery: %s\n\n%sRespond with JSON only: {\"scores\":[{\"index\":0,\"score\":N}, ...]}",
		query, passages.String(),
	)

	resp, err := r.provider.Chat(ctx, ChatRequest{
		Messages: []Message{UserMessage(prompt)},
	})
	if err != nil {
		return nil, fmt.Errorf("rerank scoring: %w", err)
	}

	var parsed struct {
		Scores []struct {
			Index int     `json:"index"`
			Score float64 `json:"score"`
		} `json:"scores"`
	}
	if err := json.Unmarshal([]byte(resp.Content), &parsed); err != nil {
		return nil, fmt.Errorf("rerank scoring: parse response: %w", err)
	}

	// Unscored candidates get 0 and fall to the threshold filter.
	scores := make([]float32, len(candidates))
	for _, s := range parsed.Scores {
		if s.Index >= 0 && s.Index < len(scores) {
			scores[s.Index] = float32(s.Score / 10.0)
		}
	}

	out := rerankByScore(candidates, scores, r.threshold)
	r.logger.Debug("reranked candidates", "in", len(candidates), "kept", len(out), "threshold", r.threshold)
	return out, nil
}

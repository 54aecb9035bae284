package sift

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Rewriter transforms a conversational query into a retrieval-optimized one.
// Rewriting is an optimization, never a dependency: implementations must not
// fail — on timeout, error, or an open circuit they return Used=false with
// the original query verbatim, and the pipeline proceeds unchanged.
type Rewriter interface {
	Rewrite(ctx context.Context, query string, history []Message) RewriteResult
}

// RewriteOption configures an LLMRewriter.
type RewriteOption func(*LLMRewriter)

// RewriteTimeout sets the per-call budget (default 800ms). Rewriting is
// never allowed to block the primary path beyond this.
func RewriteTimeout(d time.Duration) RewriteOption {
	return func(r *LLMRewriter) { r.timeout = d }
}

// RewriteFailureThreshold sets how many consecutive failures open the
// circuit breaker (default 3).
func RewriteFailureThreshold(n int) RewriteOption {
	return func(r *LLMRewriter) { r.threshold = n }
}

// RewriteCooldown sets how long the breaker stays open before a half-open
// probe is allowed (default 30s).
func RewriteCooldown(d time.Duration) RewriteOption {
	return func(r *LLMRewriter) { r.cooldown = d }
}

// RewriteLogger sets the structured logger for the rewriter.
func RewriteLogger(l *slog.Logger) RewriteOption {
	return func(r *LLMRewriter) { r.logger = l }
}

// LLMRewriter rewrites queries with an LLM under a strict sub-second budget.
// Repeated consecutive failures open a circuit breaker that skips the LLM
// entirely for a cooldown window, then re-probes with a single request.
type LLMRewriter struct {
	provider  Provider
	timeout   time.Duration
	threshold int
	cooldown  time.Duration
	breaker   *breaker
	logger    *slog.Logger
}

var _ Rewriter = (*LLMRewriter)(nil)

// NewLLMRewriter creates a Rewriter backed by the given provider.
func NewLLMRewriter(provider Provider, opts ...RewriteOption) *LLMRewriter {
	r := &LLMRewriter{
		provider:  provider,
		timeout:   800 * time.Millisecond,
		threshold: 3,
		cooldown:  30 * time.Second,
		logger:    nopLogger,
	}
	for _, o := range opts {
		o(r)
	}
	r.breaker = newBreaker(r.threshold, r.cooldown)
	return r
}

const rewriteInstruction = `Rewrite the user's question into a standalone search query optimized for semantic retrieval. Resolve pronouns and references using the conversation. Reply with the rewritten query only, no explanation.`

// Rewrite asks the LLM for a retrieval-optimized query. Any failure —
// timeout, provider error, empty output, open circuit — falls back to the
// original query with Used=false. Failures are logged, never surfaced.
func (r *LLMRewriter) Rewrite(ctx context.Context, query string, history []Message) RewriteResult {
	fallback := func(reason string) RewriteResult {
		return RewriteResult{Original: query, Used: false, Reason: reason}
	}

	if !r.breaker.Allow() {
		r.logger.Debug("rewrite skipped, circuit open")
		return fallback("circuit open")
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	messages := make([]Message, 0, len(history)+2)
	messages = append(messages, SystemMessage(rewriteInstruction))
	messages = append(messages, history...)
	messages = append(messages, UserMessage(query))

	resp, err := r.provider.Chat(ctx, ChatRequest{Messages: messages})
	if err != nil {
		r.breaker.RecordFailure()
		reason := "failed"
		if ctx.Err() == context.DeadlineExceeded {
			reason = "timeout"
		}
		r.logger.Warn("rewrite fell back to original query", "reason", reason, "error", err)
		return fallback(reason)
	}

	rewritten := strings.TrimSpace(resp.Content)
	if rewritten == "" {
		r.breaker.RecordFailure()
		r.logger.Warn("rewrite returned empty output, using original query")
		return fallback("empty rewrite")
	}

	r.breaker.RecordSuccess()
	r.logger.Debug("query rewritten", "original_len", len(query), "rewritten_len", len(rewritten))
	return RewriteResult{
		Original:  query,
		Rewritten: rewritten,
		Used:      true,
		Reason:    fmt.Sprintf("rewritten by %s", r.provider.Name()),
	}
}

// NopRewriter always returns the original query with Used=false. Useful when
// rewriting is disabled by configuration but the pipeline is wired uniformly.
type NopRewriter struct{}

var _ Rewriter = NopRewriter{}

func (NopRewriter) Rewrite(_ context.Context, query string, _ []Message) RewriteResult {
	return RewriteResult{Original: query, Used: false, Reason: "disabled"}
}

package sift

import (
	"fmt"
	"strconv"
	"time"
)

// Service names used in ErrUnavailable. Retrieval, embedding, and generation
// failures are fatal for a request; there is no silent empty-result fallback.
const (
	ServiceEmbedding  = "embedding"
	ServiceRetrieval  = "retrieval"
	ServiceGeneration = "generation"
)

// ErrUnavailable reports that an external capability the pipeline depends on
// could not be reached. The pipeline surfaces it as a terminal error event
// with a stable, user-safe message; Err carries the vendor detail for logs.
type ErrUnavailable struct {
	Service string
	Err     error
}

func (e *ErrUnavailable) Error() string {
	if e.Err == nil {
		return e.Service + " unavailable"
	}
	return fmt.Sprintf("%s unavailable: %v", e.Service, e.Err)
}

func (e *ErrUnavailable) Unwrap() error { return e.Err }

// ErrUnresolvedToken reports a template referencing a substitution token the
// composer does not supply. This is a configuration-level bug: the composer
// fails closed rather than emitting a literal placeholder to the end user.
type ErrUnresolvedToken struct {
	Template string
	Token    string
}

func (e *ErrUnresolvedToken) Error() string {
	return fmt.Sprintf("template %s: unresolved token {{%s}}", e.Template, e.Token)
}

// ErrLLM reports a provider-internal failure (marshal, decode, transport).
type ErrLLM struct {
	Provider string
	Message  string
}

func (e *ErrLLM) Error() string {
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// ErrHTTP reports a non-200 response from a provider API. The retry
// middleware inspects Status and RetryAfter to decide whether to retry.
type ErrHTTP struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// ParseRetryAfter parses an HTTP Retry-After header value in delay-seconds
// form. Returns 0 for empty, malformed, or HTTP-date values.
func ParseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

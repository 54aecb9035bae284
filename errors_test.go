package sift

import (
	"errors"
	"testing"
	"time"
)

func TestErrUnavailableUnwraps(t *testing.T) {
	cause := errors.New("connection refused")
	err := &ErrUnavailable{Service: ServiceRetrieval, Err: cause}

	if !errors.Is(err, cause) {
		t.Error("ErrUnavailable must unwrap to its cause")
	}
	if got := err.Error(); got != "retrieval unavailable: connection refused" {
		t.Errorf("Error() = %q", got)
	}
	if got := (&ErrUnavailable{Service: ServiceEmbedding}).Error(); got != "embedding unavailable" {
		t.Errorf("Error() without cause = %q", got)
	}
}

func TestParseRetryAfter(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{"7", 7 * time.Second},
		{"0", 0},
		{"-3", 0},
		{"soon", 0},
		{"Wed, 21 Oct 2026 07:28:00 GMT", 0},
	}
	for _, tc := range cases {
		if got := ParseRetryAfter(tc.in); got != tc.want {
			t.Errorf("ParseRetryAfter(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestUserSafeMessage(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"embedding", &ErrUnavailable{Service: ServiceEmbedding}, msgEmbeddingDown},
		{"retrieval", &ErrUnavailable{Service: ServiceRetrieval}, msgRetrievalDown},
		{"generation", &ErrUnavailable{Service: ServiceGeneration}, msgGenerationDown},
		{"other", errors.New("nil pointer dereference"), msgInternal},
		{"unresolved token", &ErrUnresolvedToken{Template: "answer.v1", Token: "query"}, msgInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := userSafeMessage(tc.err); got != tc.want {
				t.Errorf("userSafeMessage = %q, want %q", got, tc.want)
			}
		})
	}
}

package openaicompat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	sift "github.com/quellen/sift"
)

func TestEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		var req EmbeddingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Input) != 2 {
			t.Errorf("input = %v", req.Input)
		}
		if req.Dimensions != 3 {
			t.Errorf("dimensions = %d", req.Dimensions)
		}
		// Out of order on purpose: index is authoritative.
		json.NewEncoder(w).Encode(EmbeddingResponse{Data: []EmbeddingData{
			{Index: 1, Embedding: []float32{0, 1, 0}},
			{Index: 0, Embedding: []float32{1, 0, 0}},
		}})
	}))
	defer srv.Close()

	e := NewEmbedding("k", "text-embedding-3-small", srv.URL, 3)
	vecs, err := e.Embed(context.Background(), []string{"first", "second"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vecs) != 2 {
		t.Fatalf("expected 2 vectors, got %d", len(vecs))
	}
	if vecs[0][0] != 1 || vecs[1][1] != 1 {
		t.Errorf("vectors not reordered by index: %v", vecs)
	}
	if e.Dimensions() != 3 {
		t.Errorf("Dimensions() = %d", e.Dimensions())
	}
}

func TestEmbedEmptyInput(t *testing.T) {
	e := NewEmbedding("k", "m", "http://unused", 3)
	vecs, err := e.Embed(context.Background(), nil)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if vecs != nil {
		t.Errorf("expected nil for empty input, got %v", vecs)
	}
}

func TestEmbedCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(EmbeddingResponse{Data: []EmbeddingData{
			{Index: 0, Embedding: []float32{1}},
		}})
	}))
	defer srv.Close()

	e := NewEmbedding("k", "m", srv.URL, 1)
	_, err := e.Embed(context.Background(), []string{"a", "b"})
	var llmErr *sift.ErrLLM
	if !errors.As(err, &llmErr) {
		t.Fatalf("expected *sift.ErrLLM, got %v", err)
	}
}

func TestEmbedHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	e := NewEmbedding("k", "m", srv.URL, 1)
	_, err := e.Embed(context.Background(), []string{"a"})
	var httpErr *sift.ErrHTTP
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected *sift.ErrHTTP, got %v", err)
	}
}

package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	sift "github.com/quellen/sift"
)

// Provider implements sift.Provider for any OpenAI-compatible API.
type Provider struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
	name    string
	opts    []Option
}

var _ sift.Provider = (*Provider)(nil)

// NewProvider creates an OpenAI-compatible chat provider.
//
// baseURL is the API base (e.g. "https://api.openai.com/v1",
// "https://api.groq.com/openai/v1", "http://localhost:11434/v1").
// The /chat/completions path is appended automatically.
func NewProvider(apiKey, model, baseURL string, opts ...ProviderOption) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		model:   model,
		baseURL: baseURL,
		client:  &http.Client{},
		name:    "openai",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the provider name (default "openai", configurable via WithName).
func (p *Provider) Name() string { return p.name }

// buildBody converts a sift request into the wire format with the provider's
// default options applied.
func (p *Provider) buildBody(req sift.ChatRequest) ChatRequest {
	body := ChatRequest{Model: p.model}
	body.Messages = make([]Message, len(req.Messages))
	for i, m := range req.Messages {
		body.Messages[i] = Message{Role: m.Role, Content: m.Content}
	}
	for _, opt := range p.opts {
		opt(&body)
	}
	return body
}

// Chat sends a non-streaming chat request and returns the complete response.
func (p *Provider) Chat(ctx context.Context, req sift.ChatRequest) (sift.ChatResponse, error) {
	resp, err := p.sendHTTP(ctx, p.buildBody(req))
	if err != nil {
		return sift.ChatResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return sift.ChatResponse{}, httpErr(resp)
	}

	var chatResp ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return sift.ChatResponse{}, &sift.ErrLLM{Provider: p.name, Message: fmt.Sprintf("decode response: %v", err)}
	}

	var out sift.ChatResponse
	if len(chatResp.Choices) > 0 && chatResp.Choices[0].Message != nil {
		out.Content = chatResp.Choices[0].Message.Content
	}
	if chatResp.Usage != nil {
		out.Usage = sift.Usage{
			InputTokens:  chatResp.Usage.PromptTokens,
			OutputTokens: chatResp.Usage.CompletionTokens,
		}
	}
	return out, nil
}

// ChatStream streams text deltas into ch, then returns the accumulated
// response. The channel is closed when streaming completes or on error.
func (p *Provider) ChatStream(ctx context.Context, req sift.ChatRequest, ch chan<- string) (sift.ChatResponse, error) {
	body := p.buildBody(req)
	body.Stream = true
	body.StreamOptions = &StreamOptions{IncludeUsage: true}

	resp, err := p.sendHTTP(ctx, body)
	if err != nil {
		close(ch)
		return sift.ChatResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		close(ch)
		return sift.ChatResponse{}, httpErr(resp)
	}

	// StreamSSE closes ch when done.
	return StreamSSE(ctx, resp.Body, ch)
}

// sendHTTP marshals the request body and posts it to the chat completions
// endpoint.
func (p *Provider) sendHTTP(ctx context.Context, body ChatRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &sift.ErrLLM{Provider: p.name, Message: fmt.Sprintf("marshal request: %v", err)}
	}

	url := p.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, &sift.ErrLLM{Provider: p.name, Message: fmt.Sprintf("create request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	return p.client.Do(httpReq)
}

// httpErr reads the response body and returns an ErrHTTP for retry middleware.
// Parses the Retry-After header when present (429/503 responses).
func httpErr(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	return &sift.ErrHTTP{
		Status:     resp.StatusCode,
		Body:       string(body),
		RetryAfter: sift.ParseRetryAfter(resp.Header.Get("Retry-After")),
	}
}

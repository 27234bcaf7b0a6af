package llmprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// AnthropicProvider is the primary/default vendor shape. When a schema is
// supplied to CompleteJSON it uses Anthropic's native tool-use facility
// for structured output rather than the text-then-parse heuristic.
type AnthropicProvider struct {
	apiKey  string
	baseURL string

	mu     sync.Mutex
	client *http.Client
}

func NewAnthropicProvider(cfg Config) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llmprovider: anthropic api key required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	return &AnthropicProvider{apiKey: cfg.APIKey, baseURL: baseURL}, nil
}

func (p *AnthropicProvider) httpClient() *http.Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client == nil {
		p.client = &http.Client{Timeout: 120 * time.Second}
	}
	return p.client
}

type anthropicContentBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

type anthropicResponse struct {
	Content []anthropicContentBlock `json:"content"`
}

func (p *AnthropicProvider) post(ctx context.Context, payload map[string]any) (anthropicResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return anthropicResponse{}, fmt.Errorf("llmprovider: marshal anthropic payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return anthropicResponse{}, err
	}
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")
	req.Header.Set("content-type", "application/json")

	resp, err := p.httpClient().Do(req)
	if err != nil {
		return anthropicResponse{}, err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return anthropicResponse{}, fmt.Errorf("llmprovider: anthropic API error %d: %s", resp.StatusCode, string(raw))
	}

	var ar anthropicResponse
	if err := json.Unmarshal(raw, &ar); err != nil {
		return anthropicResponse{}, fmt.Errorf("llmprovider: decode anthropic response: %w", err)
	}
	return ar, nil
}

func (p *AnthropicProvider) Complete(ctx context.Context, messages []Message, model string, opts CompletionOptions) (string, error) {
	payload := map[string]any{
		"model":       model,
		"messages":    messages,
		"max_tokens":  opts.MaxTokens,
		"temperature": opts.Temperature,
	}
	if opts.System != "" {
		payload["system"] = opts.System
	}

	ar, err := p.post(ctx, payload)
	if err != nil {
		return "", err
	}
	var text string
	for _, b := range ar.Content {
		if b.Type == "text" {
			text += b.Text
		}
	}
	return text, nil
}

func (p *AnthropicProvider) CompleteJSON(ctx context.Context, messages []Message, model string, schema map[string]any, opts CompletionOptions) (map[string]any, error) {
	if schema == nil {
		text, err := p.Complete(ctx, messages, model, opts)
		if err != nil {
			return nil, err
		}
		return ExtractJSON(text), nil
	}

	payload := map[string]any{
		"model":       model,
		"messages":    messages,
		"max_tokens":  opts.MaxTokens,
		"temperature": opts.Temperature,
		"tools": []map[string]any{{
			"name":         "structured_output",
			"description":  "Return structured data matching the schema",
			"input_schema": schema,
		}},
		"tool_choice": map[string]any{"type": "tool", "name": "structured_output"},
	}
	if opts.System != "" {
		payload["system"] = opts.System
	}

	ar, err := p.post(ctx, payload)
	if err != nil {
		return nil, err
	}

	for _, b := range ar.Content {
		if b.Type == "tool_use" && b.Name == "structured_output" {
			var v map[string]any
			if err := json.Unmarshal(b.Input, &v); err == nil {
				return v, nil
			}
		}
	}
	for _, b := range ar.Content {
		if b.Type == "text" {
			return ExtractJSON(b.Text), nil
		}
	}
	return map[string]any{}, nil
}

func (p *AnthropicProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		p.client.CloseIdleConnections()
	}
	return nil
}

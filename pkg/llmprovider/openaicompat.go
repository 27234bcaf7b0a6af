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

// openAICompatProvider implements the OpenAI chat-completions wire shape,
// shared by OpenAIProvider and GroqProvider (Groq is an OpenAI-compatible
// API per the reference implementation's own description).
type openAICompatProvider struct {
	vendor  string
	apiKey  string
	baseURL string
	timeout time.Duration

	mu     sync.Mutex
	client *http.Client
}

func newOpenAICompatProvider(vendor, apiKey, baseURL string, timeout time.Duration) (*openAICompatProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("llmprovider: %s api key required", vendor)
	}
	return &openAICompatProvider{vendor: vendor, apiKey: apiKey, baseURL: baseURL, timeout: timeout}, nil
}

func (p *openAICompatProvider) httpClient() *http.Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client == nil {
		p.client = &http.Client{Timeout: p.timeout}
	}
	return p.client
}

type openAIChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (p *openAICompatProvider) chatMessages(messages []Message, system string) []Message {
	if system == "" {
		return messages
	}
	all := make([]Message, 0, len(messages)+1)
	all = append(all, Message{Role: "system", Content: system})
	all = append(all, messages...)
	return all
}

func (p *openAICompatProvider) post(ctx context.Context, payload map[string]any) (openAIChatResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return openAIChatResponse{}, fmt.Errorf("llmprovider: marshal %s payload: %w", p.vendor, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return openAIChatResponse{}, err
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient().Do(req)
	if err != nil {
		return openAIChatResponse{}, err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return openAIChatResponse{}, fmt.Errorf("llmprovider: %s API error %d: %s", p.vendor, resp.StatusCode, string(raw))
	}

	var cr openAIChatResponse
	if err := json.Unmarshal(raw, &cr); err != nil {
		return openAIChatResponse{}, fmt.Errorf("llmprovider: decode %s response: %w", p.vendor, err)
	}
	return cr, nil
}

func (p *openAICompatProvider) Complete(ctx context.Context, messages []Message, model string, opts CompletionOptions) (string, error) {
	payload := map[string]any{
		"model":       model,
		"messages":    p.chatMessages(messages, opts.System),
		"max_tokens":  opts.MaxTokens,
		"temperature": opts.Temperature,
	}
	cr, err := p.post(ctx, payload)
	if err != nil {
		return "", err
	}
	if len(cr.Choices) == 0 {
		return "", nil
	}
	return cr.Choices[0].Message.Content, nil
}

func (p *openAICompatProvider) CompleteJSON(ctx context.Context, messages []Message, model string, schema map[string]any, opts CompletionOptions) (map[string]any, error) {
	payload := map[string]any{
		"model":           model,
		"messages":        p.chatMessages(messages, opts.System),
		"max_tokens":      opts.MaxTokens,
		"temperature":     opts.Temperature,
		"response_format": map[string]any{"type": "json_object"},
	}
	cr, err := p.post(ctx, payload)
	if err != nil {
		return nil, err
	}
	if len(cr.Choices) == 0 {
		return map[string]any{}, nil
	}
	return ExtractJSON(cr.Choices[0].Message.Content), nil
}

func (p *openAICompatProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		p.client.CloseIdleConnections()
	}
	return nil
}

// OpenAIProvider calls the OpenAI chat-completions API.
type OpenAIProvider struct{ *openAICompatProvider }

func NewOpenAIProvider(cfg Config) (*OpenAIProvider, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	inner, err := newOpenAICompatProvider("openai", cfg.APIKey, baseURL, 120*time.Second)
	if err != nil {
		return nil, err
	}
	return &OpenAIProvider{inner}, nil
}

// GroqProvider calls Groq's OpenAI-compatible chat-completions API.
type GroqProvider struct{ *openAICompatProvider }

func NewGroqProvider(cfg Config) (*GroqProvider, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.groq.com/openai/v1"
	}
	inner, err := newOpenAICompatProvider("groq", cfg.APIKey, baseURL, 60*time.Second)
	if err != nil {
		return nil, err
	}
	return &GroqProvider{inner}, nil
}

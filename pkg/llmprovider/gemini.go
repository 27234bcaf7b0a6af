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

// GeminiProvider calls Google's generateContent API. The API key travels
// as a header (x-goog-api-key), not a URL query parameter. Native JSON
// mode is requested via responseMimeType/responseSchema.
type GeminiProvider struct {
	apiKey  string
	baseURL string

	mu     sync.Mutex
	client *http.Client
}

func NewGeminiProvider(cfg Config) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llmprovider: gemini api key required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	return &GeminiProvider{apiKey: cfg.APIKey, baseURL: baseURL}, nil
}

func (p *GeminiProvider) httpClient() *http.Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client == nil {
		p.client = &http.Client{Timeout: 120 * time.Second}
	}
	return p.client
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

func toGeminiContents(messages []Message) []geminiContent {
	contents := make([]geminiContent, len(messages))
	for i, m := range messages {
		role := "model"
		if m.Role == "user" {
			role = "user"
		}
		contents[i] = geminiContent{Role: role, Parts: []geminiPart{{Text: m.Content}}}
	}
	return contents
}

func (p *GeminiProvider) generate(ctx context.Context, model string, payload map[string]any) (geminiResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return geminiResponse{}, fmt.Errorf("llmprovider: marshal gemini payload: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", p.baseURL, model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return geminiResponse{}, err
	}
	req.Header.Set("x-goog-api-key", p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient().Do(req)
	if err != nil {
		return geminiResponse{}, err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return geminiResponse{}, fmt.Errorf("llmprovider: gemini API error %d: %s", resp.StatusCode, string(raw))
	}

	var gr geminiResponse
	if err := json.Unmarshal(raw, &gr); err != nil {
		return geminiResponse{}, fmt.Errorf("llmprovider: decode gemini response: %w", err)
	}
	return gr, nil
}

func firstGeminiText(gr geminiResponse) string {
	if len(gr.Candidates) == 0 || len(gr.Candidates[0].Content.Parts) == 0 {
		return ""
	}
	return gr.Candidates[0].Content.Parts[0].Text
}

func (p *GeminiProvider) Complete(ctx context.Context, messages []Message, model string, opts CompletionOptions) (string, error) {
	payload := map[string]any{
		"contents": toGeminiContents(messages),
		"generationConfig": map[string]any{
			"temperature":     opts.Temperature,
			"maxOutputTokens": opts.MaxTokens,
		},
	}
	if opts.System != "" {
		payload["systemInstruction"] = map[string]any{"parts": []geminiPart{{Text: opts.System}}}
	}
	gr, err := p.generate(ctx, model, payload)
	if err != nil {
		return "", err
	}
	return firstGeminiText(gr), nil
}

func (p *GeminiProvider) CompleteJSON(ctx context.Context, messages []Message, model string, schema map[string]any, opts CompletionOptions) (map[string]any, error) {
	genConfig := map[string]any{
		"temperature":      opts.Temperature,
		"maxOutputTokens":  opts.MaxTokens,
		"responseMimeType": "application/json",
	}
	if schema != nil {
		genConfig["responseSchema"] = schema
	}
	payload := map[string]any{
		"contents":         toGeminiContents(messages),
		"generationConfig": genConfig,
	}
	if opts.System != "" {
		payload["systemInstruction"] = map[string]any{"parts": []geminiPart{{Text: opts.System}}}
	}
	gr, err := p.generate(ctx, model, payload)
	if err != nil {
		return nil, err
	}
	text := firstGeminiText(gr)
	if text == "" {
		return map[string]any{}, nil
	}
	return ExtractJSON(text), nil
}

func (p *GeminiProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		p.client.CloseIdleConnections()
	}
	return nil
}

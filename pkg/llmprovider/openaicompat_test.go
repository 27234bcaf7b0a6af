package llmprovider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIProvider_Complete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"content": "sure thing"}}},
		})
	}))
	defer server.Close()

	p, err := NewOpenAIProvider(Config{APIKey: "test-key", BaseURL: server.URL})
	require.NoError(t, err)

	text, err := p.Complete(context.Background(), []Message{{Role: "user", Content: "hi"}}, "gpt-4o", DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, "sure thing", text)
}

func TestOpenAIProvider_CompleteJSON_RequestsJSONMode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		_ = json.NewDecoder(r.Body).Decode(&payload)
		assert.Equal(t, "json_object", payload["response_format"].(map[string]any)["type"])
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"content": `{"ok": true}`}}},
		})
	}))
	defer server.Close()

	p, err := NewOpenAIProvider(Config{APIKey: "test-key", BaseURL: server.URL})
	require.NoError(t, err)

	out, err := p.CompleteJSON(context.Background(), []Message{{Role: "user", Content: "go"}}, "gpt-4o", nil, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, true, out["ok"])
}

func TestGroqProvider_Complete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"content": "fast answer"}}},
		})
	}))
	defer server.Close()

	p, err := NewGroqProvider(Config{APIKey: "test-key", BaseURL: server.URL})
	require.NoError(t, err)

	text, err := p.Complete(context.Background(), []Message{{Role: "user", Content: "hi"}}, "llama-3.1", DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, "fast answer", text)
}

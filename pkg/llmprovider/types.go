// Package llmprovider implements the uniform model-provider facade: one
// Complete/CompleteJSON interface over five providers and four wire
// formats (OpenAI and Groq share the chat-completions shape), plus the shared JSON-recovery heuristic used by providers
// without a native structured-output mode.
package llmprovider

import "context"

// Message is one turn in a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionOptions carries the knobs every provider shape accepts.
type CompletionOptions struct {
	System      string
	Temperature float64
	MaxTokens   int
}

// DefaultOptions mirrors the reference provider's per-call defaults.
func DefaultOptions() CompletionOptions {
	return CompletionOptions{Temperature: 0.1, MaxTokens: 2048}
}

// Provider is the uniform interface every vendor shape implements.
type Provider interface {
	Complete(ctx context.Context, messages []Message, model string, opts CompletionOptions) (string, error)
	CompleteJSON(ctx context.Context, messages []Message, model string, schema map[string]any, opts CompletionOptions) (map[string]any, error)
	Close() error
}

// Config is the connection configuration for one provider instance: the
// thin connection info (key, base URL) resolved from environment at
// startup, not a YAML-loaded document.
type Config struct {
	Provider string
	APIKey   string
	BaseURL  string
}

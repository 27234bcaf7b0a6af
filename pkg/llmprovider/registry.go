package llmprovider

import "fmt"

type constructor func(cfg Config) (Provider, error)

var registry = map[string]constructor{
	"anthropic": func(cfg Config) (Provider, error) { return NewAnthropicProvider(cfg) },
	"openai":    func(cfg Config) (Provider, error) { return NewOpenAIProvider(cfg) },
	"groq":      func(cfg Config) (Provider, error) { return NewGroqProvider(cfg) },
	"gemini":    func(cfg Config) (Provider, error) { return NewGeminiProvider(cfg) },
	"grpc":      func(cfg Config) (Provider, error) { return NewGRPCProvider(cfg) },
}

// Get constructs a provider by its registry name.
func Get(name string, cfg Config) (Provider, error) {
	ctor, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("llmprovider: unknown provider %q", name)
	}
	return ctor(cfg)
}

// Register adds or overrides a provider constructor, matching the
// reference module's register_provider escape hatch for custom vendors.
func Register(name string, ctor constructor) {
	registry[name] = ctor
}

var (
	_ Provider = (*AnthropicProvider)(nil)
	_ Provider = (*OpenAIProvider)(nil)
	_ Provider = (*GroqProvider)(nil)
	_ Provider = (*GeminiProvider)(nil)
	_ Provider = (*GRPCProvider)(nil)
)

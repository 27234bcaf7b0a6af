package llmprovider

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
)

// jsonCodecName is the gRPC content-subtype this package registers a
// codec for. The teacher's own gRPC LLM client (pkg/agent/llm_grpc.go)
// talks to a generated protobuf service; that .proto file does not exist
// anywhere in the retrieved pack (see DESIGN.md's dropped-dependency
// note), so this facade exercises grpc-go's pluggable-codec mechanism
// instead of generated protobuf code: a JSON codec registered once at
// package init, selected per-call via CallContentSubtype.
const jsonCodecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)     { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return jsonCodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

const (
	grpcCompleteMethod     = "/zulu.llmprovider.v1.InferenceGateway/Complete"
	grpcCompleteJSONMethod = "/zulu.llmprovider.v1.InferenceGateway/CompleteJSON"
)

type grpcCompleteRequest struct {
	Messages    []Message      `json:"messages"`
	Model       string         `json:"model"`
	System      string         `json:"system,omitempty"`
	Temperature float64        `json:"temperature"`
	MaxTokens   int            `json:"max_tokens"`
	Schema      map[string]any `json:"schema,omitempty"`
}

type grpcCompleteResponse struct {
	Text string         `json:"text"`
	JSON map[string]any `json:"json,omitempty"`
}

// GRPCProvider talks to an internal inference-gateway sidecar over plain
// gRPC, using the JSON codec registered above rather than generated
// protobuf stubs.
type GRPCProvider struct {
	addr string

	mu   sync.Mutex
	conn *grpc.ClientConn
}

func NewGRPCProvider(cfg Config) (*GRPCProvider, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("llmprovider: grpc provider requires a base_url (gateway address)")
	}
	return &GRPCProvider{addr: cfg.BaseURL}, nil
}

func (p *GRPCProvider) connection() (*grpc.ClientConn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		return p.conn, nil
	}
	conn, err := grpc.NewClient(p.addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("llmprovider: dial inference gateway %s: %w", p.addr, err)
	}
	p.conn = conn
	return conn, nil
}

func (p *GRPCProvider) Complete(ctx context.Context, messages []Message, model string, opts CompletionOptions) (string, error) {
	conn, err := p.connection()
	if err != nil {
		return "", err
	}
	req := grpcCompleteRequest{Messages: messages, Model: model, System: opts.System, Temperature: opts.Temperature, MaxTokens: opts.MaxTokens}
	var resp grpcCompleteResponse
	if err := conn.Invoke(ctx, grpcCompleteMethod, &req, &resp, grpc.CallContentSubtype(jsonCodecName)); err != nil {
		return "", fmt.Errorf("llmprovider: grpc Complete call failed: %w", err)
	}
	return resp.Text, nil
}

func (p *GRPCProvider) CompleteJSON(ctx context.Context, messages []Message, model string, schema map[string]any, opts CompletionOptions) (map[string]any, error) {
	conn, err := p.connection()
	if err != nil {
		return nil, err
	}
	req := grpcCompleteRequest{Messages: messages, Model: model, System: opts.System, Temperature: opts.Temperature, MaxTokens: opts.MaxTokens, Schema: schema}
	var resp grpcCompleteResponse
	if err := conn.Invoke(ctx, grpcCompleteJSONMethod, &req, &resp, grpc.CallContentSubtype(jsonCodecName)); err != nil {
		return nil, fmt.Errorf("llmprovider: grpc CompleteJSON call failed: %w", err)
	}
	if resp.JSON != nil {
		return resp.JSON, nil
	}
	return ExtractJSON(resp.Text), nil
}

func (p *GRPCProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

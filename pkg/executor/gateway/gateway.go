// Package gateway implements the remote-gateway executor backend:
// translates each request into a POST against a remote HTTP endpoint,
// propagating a service-token header, and returns the gateway's status
// directly. Health-check uses a separate public endpoint.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/zulu-cp/core/pkg/executor"
)

// Config is the gateway's environment-sourced tunables, resolved once at
// construction (not read lazily per-property as the reference adapter
// does — the static config-struct-at-startup pattern this spec adopts).
type Config struct {
	URL            string
	ServiceToken   string
	PoolSize       int
	RequestTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		URL:            "http://openclaw-sandbox:8090",
		PoolSize:       10,
		RequestTimeout: 10 * time.Second,
	}
}

// wirePayload is the wire-format mirror of executor.Request, matching the
// reference adapter's to_payload().
type wirePayload struct {
	TaskID          string                   `json:"task_id"`
	TaskType        string                   `json:"task_type"`
	Prompt          string                   `json:"prompt"`
	ToolAllowlist   executor.ToolAllowlist   `json:"tool_allowlist"`
	DomainAllowlist []string                 `json:"domain_allowlist"`
	MaxSteps        int                      `json:"max_steps"`
	TimeoutSeconds  int                      `json:"timeout_seconds"`
	OutputSchema    map[string]any           `json:"output_schema,omitempty"`
	Credentials     wireCredentials          `json:"credentials"`
	Context         map[string]any           `json:"context"`
}

type wireCredentials struct {
	LLMAPIKey   string         `json:"llm_api_key"`
	LLMProvider string         `json:"llm_provider"`
	IssuedAt    string         `json:"issued_at"`
	Extra       map[string]any `json:"extra"`
}

type wireResponse struct {
	TaskID         string         `json:"task_id"`
	Status         string         `json:"status"`
	Output         map[string]any `json:"output"`
	Error          string         `json:"error"`
	ErrorCode      string         `json:"error_code"`
	StepsTaken     int            `json:"steps_taken"`
	ElapsedSeconds float64        `json:"elapsed_seconds"`
	CompletedAt    string         `json:"completed_at"`
}

// Gateway is the remote HTTP backend. One lazily-initialised HTTP client
// per Gateway, guarded by a mutex so concurrent first use cannot race;
// pool size and timeouts are fixed at construction per the injected
// configuration-struct design (see SPEC_FULL.md §9).
type Gateway struct {
	executor.Base
	cfg Config

	mu     sync.Mutex
	client *http.Client
}

var _ executor.Executor = (*Gateway)(nil)

// New constructs a Gateway.
func New(cfg Config, onFlush func([]executor.Entry), logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default().With("component", "gateway-executor")
	}
	return &Gateway{
		Base: executor.NewBase(executor.DefaultConfig(), onFlush, logger),
		cfg:  cfg,
	}
}

func (g *Gateway) httpClient() *http.Client {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.client == nil {
		g.client = &http.Client{
			Transport: &http.Transport{MaxIdleConnsPerHost: g.cfg.PoolSize},
			Timeout:   g.cfg.RequestTimeout,
		}
	}
	return g.client
}

// Dispatch runs the shared pipeline and sends the request to the remote
// gateway's /task endpoint.
func (g *Gateway) Dispatch(ctx context.Context, req executor.Request) (executor.Response, error) {
	return g.Base.Dispatch(ctx, req, g.send)
}

func (g *Gateway) send(ctx context.Context, req executor.Request) (executor.Response, error) {
	payload := wirePayload{
		TaskID:          req.TaskID,
		TaskType:        string(req.TaskType),
		Prompt:          req.Prompt,
		ToolAllowlist:   req.ToolAllowlist,
		DomainAllowlist: req.DomainAllowlist,
		MaxSteps:        req.MaxSteps,
		TimeoutSeconds:  req.TimeoutSeconds,
		OutputSchema:    req.OutputSchema,
		Credentials: wireCredentials{
			LLMAPIKey:   req.Credentials.LLMAPIKey,
			LLMProvider: req.Credentials.LLMProvider,
			IssuedAt:    req.Credentials.IssuedAt.Format(time.RFC3339),
			Extra:       req.Credentials.Extra,
		},
		Context: req.Context,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return executor.Response{}, fmt.Errorf("gateway: marshal request: %w", err)
	}

	deadline := time.Duration(req.TimeoutSeconds)*time.Second + 30*time.Second
	callCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, g.cfg.URL+"/task", bytes.NewReader(body))
	if err != nil {
		return executor.Response{}, fmt.Errorf("gateway: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if g.cfg.ServiceToken != "" {
		httpReq.Header.Set("X-Service-Token", g.cfg.ServiceToken)
	}

	resp, err := g.httpClient().Do(httpReq)
	if err != nil {
		if callCtx.Err() != nil {
			return executor.Response{}, &executor.TimeoutError{TaskID: req.TaskID}
		}
		return executor.Response{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return executor.Response{}, fmt.Errorf("gateway: read response: %w", err)
	}

	if resp.StatusCode >= 400 && resp.StatusCode != http.StatusRequestTimeout {
		return executor.Response{}, fmt.Errorf("gateway: HTTP %d: %s", resp.StatusCode, string(raw))
	}

	var wr wireResponse
	if err := json.Unmarshal(raw, &wr); err != nil {
		return executor.Response{}, fmt.Errorf("gateway: decode response: %w", err)
	}

	errorCode := executor.ErrorCode(wr.ErrorCode)
	if errorCode == "" && wr.Error != "" {
		errorCode = executor.CategorizeErrorFallback(wr.Error)
	}

	var completedAt time.Time
	if wr.CompletedAt != "" {
		completedAt, _ = time.Parse(time.RFC3339, wr.CompletedAt)
	}

	return executor.Response{
		TaskID:         orDefault(wr.TaskID, req.TaskID),
		Status:         orDefault(wr.Status, "error"),
		Output:         wr.Output,
		Error:          wr.Error,
		ErrorCode:      errorCode,
		StepsTaken:     wr.StepsTaken,
		ElapsedSeconds: wr.ElapsedSeconds,
		CompletedAt:    completedAt,
	}, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// Ping calls the gateway's public /health endpoint directly, bypassing
// /task — a distinct endpoint from the reference adapter's per-backend
// health surface.
func (g *Gateway) Ping(ctx context.Context) (executor.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, g.cfg.URL+"/health", nil)
	if err != nil {
		return executor.Response{}, err
	}
	resp, err := g.httpClient().Do(httpReq)
	if err != nil {
		return executor.Response{}, &executor.ConnectionError{Attempts: 1, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return executor.Response{TaskID: "health", Status: "error", Error: fmt.Sprintf("gateway unhealthy: HTTP %d", resp.StatusCode)}, nil
	}
	return executor.Response{TaskID: "health", Status: "completed"}, nil
}

// Close releases the pooled HTTP client's idle connections and flushes
// the audit ring.
func (g *Gateway) Close() error {
	g.FlushAuditLog()
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.client != nil {
		g.client.CloseIdleConnections()
	}
	return nil
}

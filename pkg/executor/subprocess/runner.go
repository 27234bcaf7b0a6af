// Package subprocess implements the simple subprocess-runner backend: a
// tiny closed set of task handlers (web_fetch, transform, summarize,
// ping), each enforced under the global max-duration, with the workspace
// cleared between tasks. code_exec is explicitly wired to a rejection —
// this backend never runs arbitrary code.
package subprocess

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/zulu-cp/core/pkg/executor"
)

// Config is the runner's environment-sourced tunables.
type Config struct {
	MaxTaskDuration time.Duration
	Workspace       string
	HTTPClient      *http.Client
}

func DefaultConfig() Config {
	return Config{
		MaxTaskDuration: 300 * time.Second,
		Workspace:       os.TempDir(),
		HTTPClient:      &http.Client{Timeout: 30 * time.Second},
	}
}

type handler func(ctx context.Context, r *Runner, req executor.Request) (map[string]any, error)

// Runner is the subprocess backend. It embeds executor.Base for the
// shared validate/TTL/retry/audit pipeline and adds its own closed
// dispatch table on top.
type Runner struct {
	executor.Base
	cfg      Config
	handlers map[executor.TaskType]handler
	logger   *slog.Logger
}

var _ executor.Executor = (*Runner)(nil)

// New constructs a Runner. onFlush routes the bounded audit ring to the
// control plane's chain.
func New(cfg Config, onFlush func([]executor.Entry), logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default().With("component", "subprocess-runner")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = DefaultConfig().HTTPClient
	}
	r := &Runner{
		Base:   executor.NewBase(executor.DefaultConfig(), onFlush, logger),
		cfg:    cfg,
		logger: logger,
	}
	r.handlers = map[executor.TaskType]handler{
		executor.TaskPing:             handlePing,
		"web_fetch":                   handleWebFetch,
		"transform":                   handleTransform,
		executor.TaskDataExtraction:   handleTransform,
		"summarize":                   handleSummarize,
		"code_exec":                   handleCodeExec,
	}
	return r
}

// Dispatch runs the shared pipeline and routes to the closed handler
// table, bounding each handler call under MaxTaskDuration (never the
// caller's longer request timeout) and wiping the workspace afterward.
func (r *Runner) Dispatch(ctx context.Context, req executor.Request) (executor.Response, error) {
	return r.Base.Dispatch(ctx, req, r.send)
}

func (r *Runner) send(ctx context.Context, req executor.Request) (executor.Response, error) {
	h, ok := r.handlers[req.TaskType]
	if !ok {
		return executor.Response{}, &executor.RejectedError{
			TaskID: req.TaskID, Reason: fmt.Sprintf("unknown task type: %s", req.TaskType), ErrorCode: executor.ErrInvalidTask,
		}
	}

	timeout := r.cfg.MaxTaskDuration
	if requested := time.Duration(req.TimeoutSeconds) * time.Second; requested > 0 && requested < timeout {
		timeout = requested
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	defer r.cleanWorkspace()

	start := time.Now()
	out, err := h(callCtx, r, req)
	elapsed := time.Since(start).Seconds()

	if err != nil {
		if callCtx.Err() != nil {
			return executor.Response{}, &executor.TimeoutError{TaskID: req.TaskID}
		}
		return executor.Response{
			TaskID: req.TaskID, Status: "error", Error: err.Error(),
			ErrorCode: executor.CategorizeErrorFallback(err.Error()), ElapsedSeconds: elapsed,
		}, nil
	}

	if rejected, isRejection := out["status"]; isRejection && rejected == "rejected" {
		reason, _ := out["reason"].(string)
		return executor.Response{TaskID: req.TaskID, Status: "rejected", Error: reason, ErrorCode: executor.ErrToolBlocked}, nil
	}

	return executor.Response{
		TaskID: req.TaskID, Status: "completed", Output: out,
		StepsTaken: 1, ElapsedSeconds: elapsed, CompletedAt: time.Now().UTC(),
	}, nil
}

// Ping executes the lightweight health handler directly.
func (r *Runner) Ping(ctx context.Context) (executor.Response, error) {
	req, err := executor.NewRequest(fmt.Sprintf("ping-%d", time.Now().Unix()), executor.TaskPing, "",
		executor.WithMaxSteps(1), executor.WithTimeoutSeconds(10))
	if err != nil {
		return executor.Response{}, err
	}
	return r.Dispatch(ctx, req)
}

// Close flushes the audit ring; the runner holds no persistent session.
func (r *Runner) Close() error {
	r.FlushAuditLog()
	return nil
}

func (r *Runner) cleanWorkspace() {
	if r.cfg.Workspace == "" {
		return
	}
	if err := os.RemoveAll(r.cfg.Workspace); err != nil {
		r.logger.Warn("workspace cleanup failed", "error", err)
		return
	}
	if err := os.MkdirAll(r.cfg.Workspace, 0o755); err != nil {
		r.logger.Warn("workspace recreate failed", "error", err)
	}
}

func handlePing(ctx context.Context, r *Runner, req executor.Request) (map[string]any, error) {
	return map[string]any{"pong": true, "timestamp": time.Now().UTC().Format(time.RFC3339)}, nil
}

func handleWebFetch(ctx context.Context, r *Runner, req executor.Request) (map[string]any, error) {
	url, _ := req.Context["url"].(string)
	if url == "" {
		return nil, fmt.Errorf("missing 'url' in context")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if header, ok := req.Credentials.Extra["auth_header"].(string); ok && header != "" {
		httpReq.Header.Set("Authorization", header)
	}

	resp, err := r.cfg.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	content := string(body)
	if len(content) > 10_000 {
		content = content[:10_000]
	}
	return map[string]any{
		"url": url, "status_code": resp.StatusCode, "content_length": len(body), "content": content,
	}, nil
}

func handleSummarize(ctx context.Context, r *Runner, req executor.Request) (map[string]any, error) {
	text, _ := req.Context["text"].(string)
	maxLength := 500
	if ml, ok := req.Context["max_length"].(int); ok {
		maxLength = ml
	}
	preview := text
	if len(preview) > 5000 {
		preview = preview[:5000]
	}
	return map[string]any{
		"preprocessed_text": preview,
		"char_count":        len(text),
		"needs_llm":         true,
		"suggested_prompt":  fmt.Sprintf("Summarize in %d chars", maxLength),
	}, nil
}

func handleTransform(ctx context.Context, r *Runner, req executor.Request) (map[string]any, error) {
	data := req.Context["data"]
	transformType, _ := req.Context["transform_type"].(string)

	if transformType == "json_extract" {
		keys, _ := req.Context["keys"].([]string)
		if asMap, ok := data.(map[string]any); ok {
			extracted := make(map[string]any, len(keys))
			for _, k := range keys {
				extracted[k] = asMap[k]
			}
			return map[string]any{"extracted": extracted}, nil
		}
	}
	return map[string]any{"data": data, "transform": "identity"}, nil
}

func handleCodeExec(ctx context.Context, r *Runner, req executor.Request) (map[string]any, error) {
	return map[string]any{
		"status": "rejected",
		"reason": "code_exec requires additional sandboxing — not enabled",
	}, nil
}

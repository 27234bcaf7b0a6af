// Package sandbox implements the constrained in-process executor backend:
// boots, receives one task, executes it against a closed dispatch table
// keyed by task type, enforces per-task step limits and domain/tool
// allow-lists inline (every tool touch checks the allow-list and
// increments the step counter, failing on overrun), and wipes its
// writable workspace after every task. It cannot spawn tasks, mutate the
// received request, persist state, or loop autonomously.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	neturl "net/url"
	"os"
	"path"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/zulu-cp/core/pkg/executor"
)

// Config is the sandbox's environment-sourced tunables.
type Config struct {
	MaxTaskDuration time.Duration
	MaxSteps        int
	Workspace       string
	OutputDir       string
}

func DefaultConfig() Config {
	return Config{
		MaxTaskDuration: 600 * time.Second,
		MaxSteps:        10,
		Workspace:       os.TempDir() + "/sandbox-workspace",
		OutputDir:       os.TempDir() + "/sandbox-output",
	}
}

// Sandbox is the constrained executor backend. It embeds executor.Base
// for the shared validate/TTL/retry/audit pipeline and runs a closed
// dispatch table of its own, browsing the web only through an in-process
// MCP "fetch" tool server reachable over an in-memory transport.
type Sandbox struct {
	executor.Base
	cfg       Config
	logger    *slog.Logger
	mcpClient *mcpsdk.Client
	mcpSess   *mcpsdk.ClientSession
}

var _ executor.Executor = (*Sandbox)(nil)

// New constructs a Sandbox, standing up its own in-process MCP fetch
// server and connecting to it via an in-memory transport pair — the
// sandbox never dials an MCP server over the network.
func New(ctx context.Context, cfg Config, onFlush func([]executor.Entry), logger *slog.Logger) (*Sandbox, error) {
	if logger == nil {
		logger = slog.Default().With("component", "sandbox-executor")
	}

	server := mcpsdk.NewServer(&mcpsdk.Implementation{Name: "sandbox-fetch", Version: "1.0.0"}, nil)
	server.AddTool(&mcpsdk.Tool{
		Name:        "fetch",
		Description: "fetch a URL's text content, truncated to 20000 bytes",
		InputSchema: []byte(`{"type":"object","properties":{"url":{"type":"string"}},"required":["url"]}`),
	}, fetchToolHandler)

	clientTransport, serverTransport := mcpsdk.NewInMemoryTransports()
	go func() { _ = server.Run(context.Background(), serverTransport) }()

	sdkClient := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "sandbox-executor", Version: "1.0.0"}, nil)
	session, err := sdkClient.Connect(ctx, clientTransport, nil)
	if err != nil {
		return nil, fmt.Errorf("sandbox: connect in-process mcp fetch server: %w", err)
	}

	return &Sandbox{
		Base:      executor.NewBase(executor.DefaultConfig(), onFlush, logger),
		cfg:       cfg,
		logger:    logger,
		mcpClient: sdkClient,
		mcpSess:   session,
	}, nil
}

func fetchToolHandler(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var args struct {
		URL string `json:"url"`
	}
	if err := req.BindArguments(&args); err != nil || args.URL == "" {
		return &mcpsdk.CallToolResult{IsError: true, Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "missing url"}}}, nil
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, args.URL, nil)
	if err != nil {
		return &mcpsdk.CallToolResult{IsError: true, Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: err.Error()}}}, nil
	}
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		return &mcpsdk.CallToolResult{IsError: true, Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: err.Error()}}}, nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &mcpsdk.CallToolResult{IsError: true, Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: err.Error()}}}, nil
	}
	text := string(body)
	if len(text) > 20_000 {
		text = text[:20_000]
	}
	return &mcpsdk.CallToolResult{Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: text}}}, nil
}

// run is one constrained execution, scoped to a single task spec — the
// step counter and its closure over the request exist only for the
// lifetime of this call, never persisted across tasks.
type run struct {
	sandbox  *Sandbox
	req      executor.Request
	steps    int
	maxSteps int
}

func (s *Sandbox) newRun(req executor.Request) *run {
	maxSteps := req.MaxSteps
	if s.cfg.MaxSteps > 0 && s.cfg.MaxSteps < maxSteps {
		maxSteps = s.cfg.MaxSteps
	}
	return &run{sandbox: s, req: req, maxSteps: maxSteps}
}

// checkStep increments the step counter and fails the run once it
// exceeds the bound — this, not a handler's own judgment, is what
// enforces the step limit.
func (r *run) checkStep() error {
	r.steps++
	if r.steps > r.maxSteps {
		return fmt.Errorf("step limit exceeded: %d > %d", r.steps, r.maxSteps)
	}
	return nil
}

func (r *run) toolAllowed(tool string) bool {
	a := r.req.ToolAllowlist
	switch tool {
	case "web_browse":
		return a.WebBrowse
	case "web_fetch":
		return a.WebFetch
	case "document_read":
		return a.DocumentRead
	case "document_write":
		return a.DocumentWrite
	case "llm_chat":
		return a.LLMChat
	case "code_analyze":
		return a.CodeAnalyze
	default:
		return false
	}
}

// domainAllowed reports whether url's host matches any configured
// allow-list glob pattern (path.Match syntax, e.g. "*.example.com").
// An empty allow-list denies everything.
func (r *run) domainAllowed(url string) bool {
	if len(r.req.DomainAllowlist) == 0 {
		return false
	}
	u, err := neturl.Parse(url)
	if err != nil {
		return false
	}
	host := u.Hostname()
	for _, d := range r.req.DomainAllowlist {
		if ok, _ := path.Match(d, host); ok {
			return true
		}
	}
	return false
}

func (r *run) fetchURL(ctx context.Context, url string) (string, error) {
	if !r.domainAllowed(url) {
		return "", &executor.RejectedError{TaskID: r.req.TaskID, Reason: fmt.Sprintf("domain not in allowlist: %s", url), ErrorCode: executor.ErrDomainBlocked}
	}
	result, err := r.sandbox.mcpSess.CallTool(ctx, &mcpsdk.CallToolParams{Name: "fetch", Arguments: map[string]any{"url": url}})
	if err != nil {
		return "", err
	}
	if result.IsError {
		return "", fmt.Errorf("fetch tool error for %s", url)
	}
	var text string
	for _, c := range result.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			text += tc.Text
		}
	}
	return text, nil
}

var handlers = map[executor.TaskType]func(ctx context.Context, r *run) (map[string]any, error){
	executor.TaskWebResearch:         handleWebResearch,
	executor.TaskDocumentSynthesis:   handleDocSynthesis,
	executor.TaskComparativeAnalysis: handleComparative,
	executor.TaskCodeReview:          handleCodeReview,
	executor.TaskPing:                handlePing,
}

// Dispatch runs the shared pipeline and then the closed, step/allowlist
// enforcing handler table.
func (s *Sandbox) Dispatch(ctx context.Context, req executor.Request) (executor.Response, error) {
	return s.Base.Dispatch(ctx, req, s.send)
}

func (s *Sandbox) send(ctx context.Context, req executor.Request) (executor.Response, error) {
	h, ok := handlers[req.TaskType]
	if !ok {
		return executor.Response{}, &executor.RejectedError{
			TaskID: req.TaskID, Reason: fmt.Sprintf("unknown task type: %s", req.TaskType), ErrorCode: executor.ErrInvalidTask,
		}
	}

	timeout := time.Duration(req.TimeoutSeconds) * time.Second
	if s.cfg.MaxTaskDuration > 0 && s.cfg.MaxTaskDuration < timeout {
		timeout = s.cfg.MaxTaskDuration
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	defer s.cleanWorkspace()

	r := s.newRun(req)
	start := time.Now()
	out, err := h(callCtx, r)
	elapsed := time.Since(start).Seconds()

	if err != nil {
		if callCtx.Err() != nil {
			return executor.Response{}, &executor.TimeoutError{TaskID: req.TaskID}
		}
		var rejErr *executor.RejectedError
		if errors.As(err, &rejErr) {
			return executor.Response{TaskID: req.TaskID, Status: "rejected", Error: rejErr.Reason, ErrorCode: rejErr.ErrorCode}, nil
		}
		return executor.Response{
			TaskID: req.TaskID, Status: "error", Error: err.Error(),
			ErrorCode: executor.CategorizeErrorFallback(err.Error()), StepsTaken: r.steps, ElapsedSeconds: elapsed,
		}, nil
	}

	return executor.Response{
		TaskID: req.TaskID, Status: "completed", Output: out,
		StepsTaken: r.steps, ElapsedSeconds: elapsed, CompletedAt: time.Now().UTC(),
	}, nil
}

func handleWebResearch(ctx context.Context, r *run) (map[string]any, error) {
	if !r.toolAllowed("web_fetch") {
		return map[string]any{"error": "web_fetch not allowed for this task"}, nil
	}
	if err := r.checkStep(); err != nil {
		return nil, err
	}

	urls, _ := r.req.Context["urls"].([]string)
	if len(urls) > 5 {
		urls = urls[:5]
	}

	var results []map[string]any
	for _, url := range urls {
		if !r.domainAllowed(url) {
			results = append(results, map[string]any{"url": url, "error": "domain not in allowlist"})
			continue
		}
		if err := r.checkStep(); err != nil {
			return nil, err
		}
		content, err := r.fetchURL(ctx, url)
		if err != nil {
			results = append(results, map[string]any{"url": url, "error": err.Error()})
			continue
		}
		results = append(results, map[string]any{"url": url, "content": content})
	}

	return map[string]any{"sources": results, "synthesis": nil}, nil
}

func handleDocSynthesis(ctx context.Context, r *run) (map[string]any, error) {
	if !r.toolAllowed("document_read") {
		return map[string]any{"error": "document_read not allowed for this task"}, nil
	}
	if err := r.checkStep(); err != nil {
		return nil, err
	}

	docs, _ := r.req.Context["documents"].([]map[string]any)
	if len(docs) > 10 {
		docs = docs[:10]
	}
	processed := make([]map[string]any, 0, len(docs))
	for _, d := range docs {
		if err := r.checkStep(); err != nil {
			return nil, err
		}
		content, _ := d["content"].(string)
		if len(content) > 10_000 {
			content = content[:10_000]
		}
		title, _ := d["title"].(string)
		if title == "" {
			title = "untitled"
		}
		processed = append(processed, map[string]any{"title": title, "content": content})
	}

	return map[string]any{"documents": len(processed), "synthesis": nil}, nil
}

func handleComparative(ctx context.Context, r *run) (map[string]any, error) {
	if err := r.checkStep(); err != nil {
		return nil, err
	}
	items := r.req.Context["items"]
	criteria := r.req.Context["criteria"]
	return map[string]any{"items": items, "criteria": criteria, "analysis": nil}, nil
}

func handleCodeReview(ctx context.Context, r *run) (map[string]any, error) {
	if !r.toolAllowed("code_analyze") {
		return map[string]any{"error": "code_analyze not allowed for this task"}, nil
	}
	if err := r.checkStep(); err != nil {
		return nil, err
	}
	snippets, _ := r.req.Context["code"].([]string)
	return map[string]any{"code_snippets": len(snippets), "review": nil}, nil
}

func handlePing(ctx context.Context, r *run) (map[string]any, error) {
	return map[string]any{"pong": true, "timestamp": time.Now().UTC().Format(time.RFC3339), "task_id": r.req.TaskID}, nil
}

// Ping executes the lightweight health handler directly.
func (s *Sandbox) Ping(ctx context.Context) (executor.Response, error) {
	req, err := executor.NewRequest(fmt.Sprintf("ping-%d", time.Now().Unix()), executor.TaskPing, "",
		executor.WithMaxSteps(1), executor.WithTimeoutSeconds(10))
	if err != nil {
		return executor.Response{}, err
	}
	return s.Dispatch(ctx, req)
}

// Close tears down the in-process MCP session and flushes the audit ring.
func (s *Sandbox) Close() error {
	s.FlushAuditLog()
	if s.mcpSess != nil {
		return s.mcpSess.Close()
	}
	return nil
}

func (s *Sandbox) cleanWorkspace() {
	for _, dir := range []string{s.cfg.Workspace, s.cfg.OutputDir} {
		if dir == "" {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			s.logger.Warn("workspace cleanup failed", "dir", dir, "error", err)
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			s.logger.Warn("workspace recreate failed", "dir", dir, "error", err)
		}
	}
}

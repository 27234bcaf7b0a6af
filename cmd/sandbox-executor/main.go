// sandbox-executor is the constrained in-process executor backend, served
// over HTTP: one POST /task endpoint and one GET /health endpoint.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"

	"github.com/gin-gonic/gin"

	"github.com/zulu-cp/core/pkg/audit"
	"github.com/zulu-cp/core/pkg/executor"
	"github.com/zulu-cp/core/pkg/executor/sandbox"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("Warning: Could not load %s file: %v", envPath, err)
	}

	httpPort := getEnv("HTTP_PORT", "8092")
	gin.SetMode(getEnv("GIN_MODE", "debug"))

	var chain *audit.Chain
	if path := getEnv("AUDIT_LOG_PATH", ""); path != "" {
		var err error
		chain, err = audit.Open(path)
		if err != nil {
			log.Fatalf("Failed to open audit chain: %v", err)
		}
	}

	sb, err := sandbox.New(context.Background(), sandbox.DefaultConfig(), forwardToChain(chain), slog.Default().With("component", "sandbox"))
	if err != nil {
		log.Fatalf("Failed to construct sandbox: %v", err)
	}

	router := gin.Default()
	router.GET("/health", healthHandler("sandbox-executor"))
	router.POST("/task", taskHandler(sb))

	log.Printf("sandbox-executor listening on :%s", httpPort)
	if err := router.Run(":" + httpPort); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

func healthHandler(service string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"service":   service,
			"timestamp": time.Now().UTC(),
		})
	}
}

// wireRequest mirrors the gateway backend's wirePayload, the task-request
// JSON shape shared by every executor backend's /task endpoint.
type wireRequest struct {
	TaskID          string                 `json:"task_id" binding:"required"`
	TaskType        string                 `json:"task_type" binding:"required"`
	Prompt          string                 `json:"prompt"`
	ToolAllowlist   executor.ToolAllowlist `json:"tool_allowlist"`
	DomainAllowlist []string               `json:"domain_allowlist"`
	MaxSteps        int                    `json:"max_steps"`
	TimeoutSeconds  int                    `json:"timeout_seconds"`
	OutputSchema    map[string]any         `json:"output_schema,omitempty"`
	Credentials     wireCredentials        `json:"credentials"`
	Context         map[string]any         `json:"context"`
}

type wireCredentials struct {
	LLMAPIKey   string         `json:"llm_api_key"`
	LLMProvider string         `json:"llm_provider"`
	IssuedAt    time.Time      `json:"issued_at"`
	Extra       map[string]any `json:"extra"`
}

func taskHandler(backend executor.Executor) gin.HandlerFunc {
	return func(c *gin.Context) {
		var wr wireRequest
		if err := c.ShouldBindJSON(&wr); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		opts := []executor.RequestOption{
			executor.WithToolAllowlist(wr.ToolAllowlist),
			executor.WithDomainAllowlist(wr.DomainAllowlist),
			executor.WithContext(wr.Context),
			executor.WithOutputSchema(wr.OutputSchema),
			executor.WithCredentials(executor.ScopedCredentials{
				LLMAPIKey:   wr.Credentials.LLMAPIKey,
				LLMProvider: wr.Credentials.LLMProvider,
				IssuedAt:    wr.Credentials.IssuedAt,
				Extra:       wr.Credentials.Extra,
			}),
		}
		if wr.MaxSteps > 0 {
			opts = append(opts, executor.WithMaxSteps(wr.MaxSteps))
		}
		if wr.TimeoutSeconds > 0 {
			opts = append(opts, executor.WithTimeoutSeconds(wr.TimeoutSeconds))
		}

		req, err := executor.NewRequest(wr.TaskID, executor.TaskType(wr.TaskType), wr.Prompt, opts...)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		resp, dispatchErr := backend.Dispatch(c.Request.Context(), req)
		if dispatchErr != nil {
			writeDispatchError(c, dispatchErr)
			return
		}
		c.JSON(http.StatusOK, toWireResponse(resp))
	}
}

// wireResponse mirrors the gateway backend's wireResponse, the
// task-response JSON shape shared by every executor backend's /task
// endpoint.
type wireResponse struct {
	TaskID         string         `json:"task_id"`
	Status         string         `json:"status"`
	Output         map[string]any `json:"output"`
	Error          string         `json:"error"`
	ErrorCode      string         `json:"error_code"`
	StepsTaken     int            `json:"steps_taken"`
	ElapsedSeconds float64        `json:"elapsed_seconds"`
	CompletedAt    time.Time      `json:"completed_at"`
}

func toWireResponse(r executor.Response) wireResponse {
	return wireResponse{
		TaskID:         r.TaskID,
		Status:         r.Status,
		Output:         r.Output,
		Error:          r.Error,
		ErrorCode:      string(r.ErrorCode),
		StepsTaken:     r.StepsTaken,
		ElapsedSeconds: r.ElapsedSeconds,
		CompletedAt:    r.CompletedAt,
	}
}

// writeDispatchError maps the dispatch error taxonomy onto the status
// codes SPEC_FULL.md's executor HTTP surface names: 408 timeout, 400
// validation/rejected/credential-expired, 500 everything else.
func writeDispatchError(c *gin.Context, err error) {
	var valErr *executor.ValidationError
	var timeoutErr *executor.TimeoutError
	var rejErr *executor.RejectedError
	var credErr *executor.CredentialExpiredError

	switch {
	case errors.As(err, &timeoutErr):
		c.JSON(http.StatusRequestTimeout, gin.H{"error": err.Error()})
	case errors.As(err, &valErr), errors.As(err, &rejErr), errors.As(err, &credErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func forwardToChain(chain *audit.Chain) func([]executor.Entry) {
	if chain == nil {
		return nil
	}
	return func(entries []executor.Entry) {
		for _, e := range entries {
			kind, ok := mapEvent(e.Event)
			if !ok {
				continue
			}
			detail := audit.Detail{"task_id": e.TaskID}
			for k, v := range e.Detail {
				detail[k] = v
			}
			chain.Append(kind, detail)
		}
	}
}

func mapEvent(event string) (audit.EventKind, bool) {
	switch event {
	case "dispatch_start":
		return audit.EventDispatchStart, true
	case "dispatch_complete":
		return audit.EventDispatchComplete, true
	case "task_rejected":
		return audit.EventTaskRejected, true
	default:
		return "", false
	}
}

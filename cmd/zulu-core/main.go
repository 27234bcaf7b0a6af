// zulu-core is the control-plane process: it loads configuration, wires
// the audit chain, policy engine, attestation authority, executor
// backend, watchdog, planner, and run-history store together, and serves
// a minimal gin HTTP surface (health check, run-history queries, and the
// request-intake endpoint the chat gateway calls into).
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/gin-gonic/gin"

	"github.com/zulu-cp/core/pkg/attestation"
	"github.com/zulu-cp/core/pkg/audit"
	"github.com/zulu-cp/core/pkg/config"
	"github.com/zulu-cp/core/pkg/executor"
	"github.com/zulu-cp/core/pkg/executor/gateway"
	"github.com/zulu-cp/core/pkg/executor/sandbox"
	"github.com/zulu-cp/core/pkg/executor/subprocess"
	"github.com/zulu-cp/core/pkg/llmprovider"
	"github.com/zulu-cp/core/pkg/planner"
	"github.com/zulu-cp/core/pkg/policy"
	"github.com/zulu-cp/core/pkg/store"
	"github.com/zulu-cp/core/pkg/watchdog"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("Warning: Could not load %s file: %v", envPath, err)
		log.Printf("Continuing with existing environment variables...")
	} else {
		log.Printf("Loaded environment from %s", envPath)
	}

	httpPort := getEnv("HTTP_PORT", "8090")
	ginMode := getEnv("GIN_MODE", "debug")
	gin.SetMode(ginMode)

	log.Printf("Starting zulu-core")
	log.Printf("HTTP Port: %s", httpPort)
	log.Printf("Config Directory: %s", *configDir)

	ctx := context.Background()

	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		log.Fatalf("Failed to initialize configuration: %v", err)
	}

	chain, err := audit.Open(getEnv("AUDIT_LOG_PATH", "data/audit.jsonl"))
	if err != nil {
		log.Fatalf("Failed to open audit chain: %v", err)
	}

	policyEngine := policy.New(getEnv("POLICY_PATH", ""))

	attestAuthority := attestation.New(parseExecutorSecrets(getEnv("EXECUTOR_ATTESTATION_SECRETS", "")), 5*time.Minute)

	runStore, err := store.Open(cfg.StoreLogPath, store.WithMaxCached(cfg.StoreMaxCached))
	if err != nil {
		log.Fatalf("Failed to open run history store: %v", err)
	}

	backend := buildExecutorBackend(cfg, chain)

	var wd *watchdog.Watchdog
	docker, err := watchdog.NewDockerDriver()
	if err != nil {
		log.Printf("Warning: docker driver unavailable, watchdog disabled: %v", err)
	} else {
		wd = watchdog.New(cfg.Watchdog, docker, policyEngine, chain, slog.Default().With("component", "watchdog"))
		wd.Start(ctx)
		defer wd.Stop()
	}

	provider, fallback, err := buildProviders()
	if err != nil {
		log.Fatalf("Failed to construct model providers: %v", err)
	}

	creds, err := executor.NewScopedCredentials(os.Getenv("LLM_API_KEY"), getEnv("LLM_PROVIDER", "anthropic"), nil)
	if err != nil {
		log.Fatalf("Failed to construct scoped credentials: %v", err)
	}

	plnr := planner.New(provider, cfg.PlannerModels, creds, backend, fallback, cfg.Planner, runStore, slog.Default().With("component", "planner"))
	defer plnr.Close()

	router := gin.Default()

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "zulu-core",
			"time":    time.Now().UTC(),
		})
	})

	router.GET("/runs", func(c *gin.Context) {
		n := 50
		outcome := planner.RunOutcome(c.Query("status"))
		c.JSON(http.StatusOK, gin.H{"runs": runStore.Recent(n, outcome)})
	})

	router.GET("/runs/:id", func(c *gin.Context) {
		rec, ok := runStore.ByRequestID(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
			return
		}
		c.JSON(http.StatusOK, rec)
	})

	// Attestation handshake (SPEC_FULL.md §4.C): the nonce request and the
	// signed response. A successful verify marks the executor attested on
	// the watchdog, which otherwise treats it as attestation-missing for
	// any container the policy document requires it for.
	router.POST("/attestation/nonce", func(c *gin.Context) {
		var body struct {
			WorkerID string `json:"worker_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		nonce, ok := attestAuthority.IssueNonce(body.WorkerID)
		if !ok {
			c.JSON(http.StatusForbidden, gin.H{"error": "unknown executor"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"nonce": nonce})
	})

	router.POST("/attestation/verify", func(c *gin.Context) {
		var body struct {
			WorkerID  string `json:"worker_id" binding:"required"`
			Nonce     string `json:"nonce" binding:"required"`
			Signature string `json:"signature" binding:"required"`
			Timestamp string `json:"timestamp"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		valid, reason := attestAuthority.Verify(body.WorkerID, body.Nonce, body.Signature)
		if wd != nil {
			wd.MarkAttested(body.WorkerID, valid)
		}
		c.JSON(http.StatusOK, gin.H{"valid": valid, "reason": reason})
	})

	// Request intake: the interface boundary the out-of-scope chat gateway
	// calls into. It never touches the run-history store directly — that
	// only happens inside planner.PlanAndExecute.
	router.POST("/requests", func(c *gin.Context) {
		var body struct {
			Input string `json:"input" binding:"required"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		plan, result := plnr.PlanAndExecute(c.Request.Context(), body.Input)
		c.JSON(http.StatusOK, gin.H{"plan": plan, "result": result})
	})

	log.Printf("HTTP server listening on :%s", httpPort)
	if err := router.Run(":" + httpPort); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// buildExecutorBackend selects one of the three executor backends by
// cfg.ExecutorBackend, wiring its bounded audit ring into the shared hash
// chain via forwardToChain.
func buildExecutorBackend(cfg *config.Config, chain *audit.Chain) executor.Executor {
	onFlush := forwardToChain(chain)
	logger := slog.Default()

	switch cfg.ExecutorBackend {
	case "sandbox":
		sb, err := sandbox.New(context.Background(), sandbox.DefaultConfig(), onFlush, logger.With("component", "sandbox"))
		if err != nil {
			log.Fatalf("Failed to construct sandbox backend: %v", err)
		}
		return sb
	case "gateway":
		return gateway.New(gateway.DefaultConfig(), onFlush, logger.With("component", "gateway"))
	default:
		return subprocess.New(subprocess.DefaultConfig(), onFlush, logger.With("component", "subprocess-runner"))
	}
}

// executorEventToAuditKind maps a backend's ring entry event name to the
// shared chain's event vocabulary. Transient, non-terminal entries
// (retries, timeouts, credential expiry) are not forwarded to the
// tamper-evident chain — they are already visible in the backend's own
// bounded ring and its warning logs, and forwarding every retry attempt
// would make the chain noisy without adding audit value.
func executorEventToAuditKind(event string) (audit.EventKind, bool) {
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

// forwardToChain returns an onFlush callback that appends each mappable
// executor.Entry to the control plane's hash chain.
func forwardToChain(chain *audit.Chain) func([]executor.Entry) {
	return func(entries []executor.Entry) {
		for _, e := range entries {
			kind, ok := executorEventToAuditKind(e.Event)
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

// parseExecutorSecrets parses a comma-separated "name=secret" list (the
// EXECUTOR_ATTESTATION_SECRETS env var) into the map attestation.New
// expects.
func parseExecutorSecrets(raw string) map[string]string {
	out := make(map[string]string)
	if raw == "" {
		return out
	}
	for _, pair := range strings.Split(raw, ",") {
		name, secret, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		out[strings.TrimSpace(name)] = strings.TrimSpace(secret)
	}
	return out
}

// buildProviders constructs the planner's primary and fallback model
// providers from environment variables. LLM_PROVIDER/LLM_API_KEY select
// the primary; LLM_FALLBACK_PROVIDER/LLM_FALLBACK_API_KEY are optional and
// left nil if unset, matching the planner's own nil-fallback contract.
func buildProviders() (llmprovider.Provider, llmprovider.Provider, error) {
	primaryName := getEnv("LLM_PROVIDER", "anthropic")
	provider, err := llmprovider.Get(primaryName, llmprovider.Config{
		Provider: primaryName,
		APIKey:   os.Getenv("LLM_API_KEY"),
		BaseURL:  os.Getenv("LLM_BASE_URL"),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("construct primary provider %q: %w", primaryName, err)
	}

	fallbackName := os.Getenv("LLM_FALLBACK_PROVIDER")
	if fallbackName == "" {
		return provider, nil, nil
	}
	fallback, err := llmprovider.Get(fallbackName, llmprovider.Config{
		Provider: fallbackName,
		APIKey:   os.Getenv("LLM_FALLBACK_API_KEY"),
		BaseURL:  os.Getenv("LLM_FALLBACK_BASE_URL"),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("construct fallback provider %q: %w", fallbackName, err)
	}
	return provider, fallback, nil
}

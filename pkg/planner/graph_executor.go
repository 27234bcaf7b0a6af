package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/zulu-cp/core/pkg/executor"
	"github.com/zulu-cp/core/pkg/llmprovider"
	"github.com/zulu-cp/core/pkg/planner/extractor"
)

// connectionFailureMarkers are substring matches against a backend error
// message that identify a transport-class failure worth falling back to
// a direct-LLM completion, rather than a terminal task failure.
var connectionFailureMarkers = []string{"Cannot connect", "getaddrinfo", "Connection refused"}

func isConnectionFailure(msg string) bool {
	for _, marker := range connectionFailureMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// GraphExecutor drives a TaskGraph to completion, dispatching ready tasks
// through an executor.Executor and falling back to a direct llmprovider
// completion when the backend is unreachable.
type GraphExecutor struct {
	backend       executor.Executor
	credentials   executor.ScopedCredentials
	summarizer    extractor.Summarizer
	fallback      llmprovider.Provider
	fallbackModel string
	cfg           Config
	logger        *slog.Logger
}

// NewGraphExecutor constructs a graph executor. fallback/fallbackModel are
// used only when the backend reports a connection-class failure.
func NewGraphExecutor(backend executor.Executor, credentials executor.ScopedCredentials, summarizer extractor.Summarizer, fallback llmprovider.Provider, fallbackModel string, cfg Config, logger *slog.Logger) *GraphExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &GraphExecutor{
		backend:       backend,
		credentials:   credentials,
		summarizer:    summarizer,
		fallback:      fallback,
		fallbackModel: fallbackModel,
		cfg:           cfg,
		logger:        logger,
	}
}

// Execute drives graph to completion, respecting dependencies and running
// independent ready tasks concurrently.
func (e *GraphExecutor) Execute(ctx context.Context, graph *TaskGraph) ExecutionResult {
	start := time.Now()
	results := make(map[string]map[string]any)
	errs := make(map[string]string)
	var mu sync.Mutex

	for !graph.IsComplete() {
		ready := graph.GetReadyTasks()

		if len(ready) == 0 {
			for _, t := range graph.Tasks {
				if t.Status == StatusPending {
					t.Status = StatusFailed
					t.Error = "Blocked: dependency failed or missing"
					mu.Lock()
					errs[t.TaskID] = t.Error
					mu.Unlock()
				}
			}
			break
		}

		if len(ready) == 1 {
			e.executeSingle(ctx, ready[0], graph.RequestID, results, errs, &mu)
		} else {
			e.logger.Info("executing tasks in parallel", "count", len(ready))
			var wg sync.WaitGroup
			for _, t := range ready {
				wg.Add(1)
				go func(t *PlannedTask) {
					defer wg.Done()
					e.executeSingle(ctx, t, graph.RequestID, results, errs, &mu)
				}(t)
			}
			wg.Wait()
		}
	}

	finished := time.Now()
	elapsed := finished.Sub(start).Seconds()

	var completed, failed int
	for _, t := range graph.Tasks {
		switch t.Status {
		case StatusCompleted:
			completed++
		case StatusFailed:
			failed++
		}
	}

	summary := e.generateSummary(graph, results, errs)

	return ExecutionResult{
		RequestID:      graph.RequestID,
		Success:        failed == 0 && completed > 0,
		TasksCompleted: completed,
		TasksFailed:    failed,
		Results:        results,
		Errors:         errs,
		Summary:        summary,
		ElapsedSeconds: elapsed,
		StartedAt:      start,
		FinishedAt:     finished,
		TaskGraph:      graph,
	}
}

func (e *GraphExecutor) executeSingle(ctx context.Context, task *PlannedTask, requestID string, results map[string]map[string]any, errs map[string]string, mu *sync.Mutex) {
	task.Status = StatusRunning
	e.logger.Info("executing task", "task_id", task.TaskID, "task_type", task.TaskType)

	mu.Lock()
	depSnapshot := make(map[string]map[string]any, len(task.DependsOn))
	for _, depID := range task.DependsOn {
		if r, ok := results[depID]; ok {
			depSnapshot[depID] = r
		}
	}
	mu.Unlock()
	depContext := e.buildDependencyContext(ctx, task, depSnapshot)

	prompt := task.Prompt
	if depContext != "" {
		prompt = fmt.Sprintf("%s\n\n--- Context from previous tasks ---\n%s", task.Prompt, depContext)
	}

	freshCreds := e.credentials.Refresh()

	req, err := executor.NewRequest(fmt.Sprintf("%s-%s", requestID, task.TaskID), task.TaskType, prompt,
		executor.WithToolAllowlist(task.ToolAllowlist),
		executor.WithDomainAllowlist(task.DomainAllowlist),
		executor.WithTimeoutSeconds(task.TimeoutSeconds),
		executor.WithCredentials(freshCreds),
		executor.WithContext(map[string]any{"dependency_results": depContext}),
	)
	if err != nil {
		e.failTask(task, err.Error(), errs, mu)
		return
	}

	resp, err := e.backend.Dispatch(ctx, req)
	if err != nil {
		if isConnectionFailure(err.Error()) {
			e.logger.Warn("backend unavailable, falling back to direct LLM", "task_id", task.TaskID)
			e.executeViaLLM(ctx, task, prompt, results, errs, mu)
			return
		}
		e.failTask(task, err.Error(), errs, mu)
		return
	}

	if !resp.Succeeded() {
		if isConnectionFailure(resp.Error) {
			e.logger.Warn("backend unavailable, falling back to direct LLM", "task_id", task.TaskID)
			e.executeViaLLM(ctx, task, prompt, results, errs, mu)
			return
		}
		e.failTask(task, resp.Error, errs, mu)
		return
	}

	task.Status = StatusCompleted
	task.Result = resp.Output
	mu.Lock()
	results[task.TaskID] = resp.Output
	mu.Unlock()
	e.logger.Info("task completed", "task_id", task.TaskID)
}

func (e *GraphExecutor) executeViaLLM(ctx context.Context, task *PlannedTask, prompt string, results map[string]map[string]any, errs map[string]string, mu *sync.Mutex) {
	if e.fallback == nil {
		e.failTask(task, "backend unavailable and no direct-LLM fallback configured", errs, mu)
		return
	}

	llmPrompt := fmt.Sprintf(`You are a research assistant. Complete this task thoroughly.

TASK TYPE: %s

REQUEST:
%s

Provide a comprehensive, well-structured response. Include specific details, facts, and actionable information.`, task.TaskType, prompt)

	response, err := e.fallback.Complete(ctx, []llmprovider.Message{{Role: "user", Content: llmPrompt}}, e.fallbackModel, llmprovider.CompletionOptions{
		Temperature: 0.3,
		MaxTokens:   4096,
	})
	if err != nil {
		e.failTask(task, fmt.Sprintf("LLM fallback failed: %s", err.Error()), errs, mu)
		return
	}

	task.Status = StatusCompleted
	task.Result = map[string]any{"summary": response, "source": "direct_llm"}
	mu.Lock()
	results[task.TaskID] = task.Result
	mu.Unlock()
	e.logger.Info("task completed via direct LLM fallback", "task_id", task.TaskID)
}

func (e *GraphExecutor) failTask(task *PlannedTask, reason string, errs map[string]string, mu *sync.Mutex) {
	task.Status = StatusFailed
	task.Error = reason
	mu.Lock()
	errs[task.TaskID] = reason
	mu.Unlock()
	e.logger.Error("task failed", "task_id", task.TaskID, "error", reason)
}

// buildDependencyContext extracts a summary from each completed upstream
// result in parallel, then concatenates them under headed sections.
// depResults has already been filtered to the upstreams that completed.
func (e *GraphExecutor) buildDependencyContext(ctx context.Context, task *PlannedTask, depResults map[string]map[string]any) string {
	if len(depResults) == 0 {
		return ""
	}

	type depResult struct {
		id     string
		result map[string]any
	}
	var deps []depResult
	for _, depID := range task.DependsOn {
		if r, ok := depResults[depID]; ok {
			deps = append(deps, depResult{id: depID, result: r})
		}
	}
	if len(deps) == 0 {
		return ""
	}

	parts := make([]string, len(deps))
	var wg sync.WaitGroup
	for i, d := range deps {
		wg.Add(1)
		go func(i int, d depResult) {
			defer wg.Done()
			extracted, err := e.summarizer.Summarize(ctx, d.result, extractor.DependentTask{
				TaskType: string(task.TaskType),
				Prompt:   task.Prompt,
			})
			if err != nil {
				e.logger.Error("dependency context extraction failed", "dep", d.id, "error", err)
			}
			parts[i] = fmt.Sprintf("[%s]:\n%s", d.id, extracted)
		}(i, d)
	}
	wg.Wait()

	return strings.Join(parts, "\n\n")
}

// generateSummary builds the human-readable result paragraph: a warning
// line when any tasks errored, a success line with a per-task excerpt for
// each completed task.
func (e *GraphExecutor) generateSummary(graph *TaskGraph, results map[string]map[string]any, errs map[string]string) string {
	var lines []string

	if len(errs) > 0 {
		lines = append(lines, fmt.Sprintf("%d task(s) encountered issues.", len(errs)))
	}

	if len(results) > 0 {
		lines = append(lines, fmt.Sprintf("%d task(s) completed successfully.", len(results)))

		for _, task := range graph.Tasks {
			result, ok := results[task.TaskID]
			if !ok {
				continue
			}
			summary := resultExcerpt(result)
			lines = append(lines, fmt.Sprintf("\n**%s**: %s", task.TaskType, summary))
		}
	}

	if len(lines) == 0 {
		return "No results."
	}
	return strings.Join(lines, "\n")
}

func resultExcerpt(result map[string]any) string {
	if summary, ok := result["summary"].(string); ok && summary != "" {
		return summary
	}
	if output, ok := result["output"].(string); ok && output != "" {
		return output
	}
	b, err := json.Marshal(result)
	if err != nil {
		return ""
	}
	return truncate(string(b), 300)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

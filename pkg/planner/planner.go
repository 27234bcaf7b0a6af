package planner

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zulu-cp/core/pkg/executor"
	"github.com/zulu-cp/core/pkg/llmprovider"
	"github.com/zulu-cp/core/pkg/planner/extractor"
)

// RunHistoryStore records completed executions for later query. Planner
// treats append failures as non-fatal: a graph's own completion is never
// blocked or failed by a store write error.
type RunHistoryStore interface {
	Append(record RunRecord) error
}

// RunOutcome classifies the terminal state of one run-history record.
type RunOutcome string

const (
	OutcomeCompleted     RunOutcome = "completed"
	OutcomePartial       RunOutcome = "partial"
	OutcomeClarification RunOutcome = "clarification"
	OutcomeChitchat      RunOutcome = "chitchat"
)

// RunRecord is the immutable run-history entry appended once a graph
// finishes. It is a read model, never a queue: nothing ever mutates or
// re-reads it to resume work.
type RunRecord struct {
	RequestID      string            `json:"request_id"`
	OriginalInput  string            `json:"original_input"`
	IntentType     IntentType        `json:"intent_type,omitempty"`
	Outcome        RunOutcome        `json:"outcome"`
	TaskStatuses   map[string]string `json:"task_statuses,omitempty"`
	TasksCompleted int               `json:"tasks_completed"`
	TasksFailed    int               `json:"tasks_failed"`
	Summary        string            `json:"summary,omitempty"`
	StartedAt      time.Time         `json:"started_at"`
	FinishedAt     time.Time         `json:"finished_at"`
}

// Planner is the main entry point for planning and executing natural
// language requests: intent parsing, decomposition, ambiguity handling,
// and graph execution.
type Planner struct {
	provider        llmprovider.Provider
	intentParser    *IntentParser
	decomposer      *TaskDecomposer
	summarizer      extractor.Summarizer
	execCredentials executor.ScopedCredentials
	backend         executor.Executor
	fallback        llmprovider.Provider
	modelConfig     ModelConfig
	cfg             Config
	store           RunHistoryStore
	logger          *slog.Logger
}

// New constructs a planner. provider is used for intent parsing,
// decomposition, and dependency-context extraction; backend is the
// executor dispatched to for task execution, with fallback used only on
// connection-class failure. store may be nil — a run history is entirely
// optional.
func New(provider llmprovider.Provider, modelConfig ModelConfig, execCredentials executor.ScopedCredentials, backend executor.Executor, fallback llmprovider.Provider, cfg Config, store RunHistoryStore, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}

	var summarizer extractor.Summarizer
	switch cfg.SummarizerMode {
	case SummarizerHierarchical:
		summarizer = extractor.NewHierarchicalSummarizer(provider, modelConfig.ExtractionModel, cfg.HierarchicalChunkLen, cfg.MaxRetriesPerTask, logger)
	default:
		summarizer = extractor.NewOnePassSummarizer(provider, modelConfig.ExtractionModel, logger)
	}

	return &Planner{
		provider:        provider,
		intentParser:    NewIntentParser(provider, modelConfig.IntentModel, logger),
		decomposer:      NewTaskDecomposer(provider, modelConfig.PlanningModel, cfg, logger),
		summarizer:      summarizer,
		execCredentials: execCredentials,
		backend:         backend,
		fallback:        fallback,
		modelConfig:     modelConfig,
		cfg:             cfg,
		store:           store,
		logger:          logger,
	}
}

// Plan parses userInput into either a clarification request, a chitchat
// response, or a ready-to-execute task graph.
func (p *Planner) Plan(ctx context.Context, userInput string) Result {
	p.logger.Info("planning", "input", truncate(userInput, 100))

	intent := p.intentParser.Parse(ctx, userInput)
	p.logger.Info("parsed intent", "intent_type", intent.IntentType, "confidence", intent.Confidence, "needs_clarification", intent.NeedsClarification)

	if intent.IntentType == IntentChitchat {
		return Result{
			Success:          true,
			IsChitchat:       true,
			ChitchatResponse: chitchatResponse(intent),
		}
	}

	if intent.NeedsClarification || intent.Confidence < p.cfg.AmbiguityThreshold {
		question := intent.ClarificationQuestion
		if question == "" {
			question = "Could you tell me more about what you'd like me to help with?"
		}
		return Result{
			Success:               true,
			NeedsClarification:    true,
			ClarificationQuestion: question,
		}
	}

	tasks := p.decomposer.Decompose(ctx, intent)
	if len(tasks) == 0 {
		return Result{
			Success: false,
			Error:   "Could not decompose request into actionable tasks.",
		}
	}

	graph := &TaskGraph{
		RequestID:     fmt.Sprintf("req-%s", uuid.New().String()[:8]),
		Tasks:         tasks,
		OriginalInput: userInput,
		ParsedIntent:  intent,
	}

	p.logger.Info("created task graph", "request_id", graph.RequestID, "tasks", len(tasks))

	return Result{Success: true, TaskGraph: graph}
}

// Execute drives a planned graph to completion and records a run-history
// entry as a side effect.
func (p *Planner) Execute(ctx context.Context, graph *TaskGraph) ExecutionResult {
	ge := NewGraphExecutor(p.backend, p.execCredentials, p.summarizer, p.fallback, p.modelConfig.ExtractionModel, p.cfg, p.logger)
	result := ge.Execute(ctx, graph)

	if p.store != nil {
		statuses := make(map[string]string, len(graph.Tasks))
		for _, t := range graph.Tasks {
			statuses[t.TaskID] = t.Status
		}

		outcome := OutcomePartial
		if result.Success {
			outcome = OutcomeCompleted
		}

		record := RunRecord{
			RequestID:      result.RequestID,
			OriginalInput:  graph.OriginalInput,
			IntentType:     graph.ParsedIntent.IntentType,
			Outcome:        outcome,
			TaskStatuses:   statuses,
			TasksCompleted: result.TasksCompleted,
			TasksFailed:    result.TasksFailed,
			Summary:        result.Summary,
			StartedAt:      result.StartedAt,
			FinishedAt:     result.FinishedAt,
		}
		if err := p.store.Append(record); err != nil {
			p.logger.Error("run history append failed", "request_id", result.RequestID, "error", err)
		}
	}

	return result
}

// PlanAndExecute is a convenience that plans and, if a graph resulted,
// executes it immediately.
func (p *Planner) PlanAndExecute(ctx context.Context, userInput string) (Result, *ExecutionResult) {
	plan := p.Plan(ctx, userInput)
	if plan.NeedsClarification || plan.IsChitchat {
		p.recordShortCircuit(userInput, plan)
		return plan, nil
	}
	if !plan.Success {
		return plan, nil
	}
	result := p.Execute(ctx, plan.TaskGraph)
	return plan, &result
}

// recordShortCircuit appends a run-history record for a request that never
// reached graph execution (chitchat or a clarification question), so the
// run-history query surface reflects every request, not only dispatched
// ones.
func (p *Planner) recordShortCircuit(userInput string, plan Result) {
	if p.store == nil {
		return
	}

	outcome := OutcomeClarification
	if plan.IsChitchat {
		outcome = OutcomeChitchat
	}

	now := time.Now()
	record := RunRecord{
		RequestID:     fmt.Sprintf("req-%s", uuid.New().String()[:8]),
		OriginalInput: userInput,
		Outcome:       outcome,
		StartedAt:     now,
		FinishedAt:    now,
	}
	if err := p.store.Append(record); err != nil {
		p.logger.Error("run history append failed", "request_id", record.RequestID, "error", err)
	}
}

var chitchatGreetings = []string{"hey", "hi", "hello", "how are you", "what's up", "good morning", "good evening"}

func chitchatResponse(intent ParsedIntent) string {
	lower := strings.ToLower(intent.RawInput)
	for _, g := range chitchatGreetings {
		if strings.Contains(lower, g) {
			return "Hey! I'm Zulu, your AI research assistant. What can I help you with today?"
		}
	}
	return "I'm here to help with research, analysis, and document drafting. What would you like me to work on?"
}

// Close releases the provider-facing resources the planner opened.
func (p *Planner) Close() error {
	var errs []string
	if p.provider != nil {
		if err := p.provider.Close(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if p.fallback != nil && p.fallback != p.provider {
		if err := p.fallback.Close(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("planner: close: %s", strings.Join(errs, "; "))
	}
	return nil
}

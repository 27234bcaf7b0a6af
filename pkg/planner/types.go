// Package planner turns natural language requests into task graphs and
// drives them to completion: intent parsing, decomposition, dependency
// context extraction, and parallel graph execution.
package planner

import (
	"time"

	"github.com/zulu-cp/core/pkg/executor"
)

// Config is the planner's behavior configuration.
type Config struct {
	AmbiguityThreshold   float64
	MaxTasksPerRequest   int
	DefaultTimeoutSec    int
	MaxRetriesPerTask    int
	SummarizerMode       SummarizerMode
	HierarchicalChunkLen int
}

// DefaultConfig returns the reference planner's documented defaults.
//
// The reference module's from_env fallback for ambiguity_threshold reads
// "0.6", inconsistent with its own dataclass default of 0.4 — the
// dataclass default is the one actually documented as the intended
// behavior, so this follows 0.4.
func DefaultConfig() Config {
	return Config{
		AmbiguityThreshold:   0.4,
		MaxTasksPerRequest:   5,
		DefaultTimeoutSec:    300,
		MaxRetriesPerTask:    2,
		SummarizerMode:       SummarizerOnePass,
		HierarchicalChunkLen: 4000,
	}
}

// SummarizerMode selects the dependency-context extractor strategy.
type SummarizerMode string

const (
	SummarizerOnePass      SummarizerMode = "one_pass"
	SummarizerHierarchical SummarizerMode = "hierarchical"
)

// IntentType is the closed set of high-level intent categories.
type IntentType string

const (
	IntentResearch   IntentType = "research"
	IntentSynthesize IntentType = "synthesize"
	IntentAnalyze    IntentType = "analyze"
	IntentDraft      IntentType = "draft"
	IntentReview     IntentType = "review"
	IntentExtract    IntentType = "extract"
	IntentClarify    IntentType = "clarify"
	IntentChitchat   IntentType = "chitchat"
	IntentUnknown    IntentType = "unknown"
)

// ParsedIntent is the structured result of intent parsing.
type ParsedIntent struct {
	IntentType            IntentType
	Confidence            float64
	Subject               string
	Deliverable           string
	Constraints           []string
	RawInput              string
	NeedsClarification    bool
	ClarificationQuestion string
}

// PlannedTask is a single node in the execution plan.
type PlannedTask struct {
	TaskID          string
	TaskType        executor.TaskType
	Prompt          string
	DependsOn       []string
	ToolAllowlist   executor.ToolAllowlist
	DomainAllowlist []string
	TimeoutSeconds  int

	Status string // pending, running, completed, failed
	Result map[string]any
	Error  string
}

const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// TaskGraph is a DAG of planned tasks plus the request that produced it.
type TaskGraph struct {
	RequestID     string
	Tasks         []*PlannedTask
	OriginalInput string
	ParsedIntent  ParsedIntent
	CreatedAt     time.Time
}

// GetReadyTasks returns pending tasks whose dependencies are all completed.
func (g *TaskGraph) GetReadyTasks() []*PlannedTask {
	completed := make(map[string]bool)
	for _, t := range g.Tasks {
		if t.Status == StatusCompleted {
			completed[t.TaskID] = true
		}
	}
	var ready []*PlannedTask
	for _, t := range g.Tasks {
		if t.Status != StatusPending {
			continue
		}
		allMet := true
		for _, dep := range t.DependsOn {
			if !completed[dep] {
				allMet = false
				break
			}
		}
		if allMet {
			ready = append(ready, t)
		}
	}
	return ready
}

// IsComplete reports whether every task has reached a terminal status.
func (g *TaskGraph) IsComplete() bool {
	for _, t := range g.Tasks {
		if t.Status != StatusCompleted && t.Status != StatusFailed {
			return false
		}
	}
	return true
}

// GetFinalResults aggregates results from all completed tasks.
func (g *TaskGraph) GetFinalResults() map[string]map[string]any {
	out := make(map[string]map[string]any)
	for _, t := range g.Tasks {
		if t.Status == StatusCompleted && t.Result != nil {
			out[t.TaskID] = t.Result
		}
	}
	return out
}

// Result is the outcome of a planning operation.
type Result struct {
	Success               bool
	TaskGraph             *TaskGraph
	NeedsClarification    bool
	ClarificationQuestion string
	Error                 string
	IsChitchat            bool
	ChitchatResponse      string
}

// ExecutionResult is the outcome of executing a task graph.
type ExecutionResult struct {
	RequestID      string
	Success        bool
	TasksCompleted int
	TasksFailed    int
	Results        map[string]map[string]any
	Errors         map[string]string
	Summary        string
	ElapsedSeconds float64
	StartedAt      time.Time
	FinishedAt     time.Time
	TaskGraph      *TaskGraph
}

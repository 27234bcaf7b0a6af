package planner

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/zulu-cp/core/pkg/executor"
	"github.com/zulu-cp/core/pkg/llmprovider"
)

const decompositionSystemPrompt = `You are Zulu's task decomposer. Given a parsed intent, create a plan of concrete tasks.

Available task types:
- web_research: Search the web and gather information
- document_synthesis: Create a document from provided information
- comparative_analysis: Compare multiple items against criteria
- report_drafting: Write a report or document
- code_review: Review code for issues
- data_extraction: Extract structured data from sources

Rules:
1. Break complex requests into 1-5 simple tasks
2. Each task should have a single clear objective
3. Tasks can depend on other tasks (use their output)
4. Be specific in prompts — vague prompts produce vague results
5. First task index is 0

Respond with JSON array:
[
    {
        "task_type": "web_research",
        "prompt": "specific prompt for this task",
        "depends_on": [],
        "tools_needed": ["web_browse", "web_fetch"],
        "domains": [],
        "timeout_seconds": 300
    }
]

Tools available: web_browse, web_fetch, document_read, document_write, llm_chat, code_analyze

Example:

Intent: research competitors in EV charging, draft one-pager
[
    {
        "task_type": "web_research",
        "prompt": "Research the top 5 companies in the EV charging market. For each, identify: company name, founding year, business model, key differentiators, funding raised, and market position.",
        "depends_on": [],
        "tools_needed": ["web_browse", "web_fetch", "llm_chat"],
        "domains": [],
        "timeout_seconds": 300
    },
    {
        "task_type": "document_synthesis",
        "prompt": "Using the competitor research provided, create a one-page executive summary covering: market overview, key players, competitive landscape, and strategic implications. Format as a professional one-pager.",
        "depends_on": [0],
        "tools_needed": ["llm_chat"],
        "domains": [],
        "timeout_seconds": 180
    }
]

Respond ONLY with JSON array.`

var decompositionSchema = map[string]any{
	"type": "array",
	"items": map[string]any{
		"type": "object",
		"properties": map[string]any{
			"task_type": map[string]any{
				"type": "string",
				"enum": []string{"web_research", "document_synthesis", "comparative_analysis", "report_drafting", "code_review", "data_extraction"},
			},
			"prompt":          map[string]any{"type": "string"},
			"depends_on":      map[string]any{"type": "array", "items": map[string]any{"type": "integer"}},
			"tools_needed":    map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"domains":         map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"timeout_seconds": map[string]any{"type": "integer"},
		},
		"required": []string{"task_type", "prompt"},
	},
}

var validTaskTypes = map[string]executor.TaskType{
	"web_research":         executor.TaskWebResearch,
	"document_synthesis":   executor.TaskDocumentSynthesis,
	"comparative_analysis": executor.TaskComparativeAnalysis,
	"report_drafting":      executor.TaskReportDrafting,
	"code_review":          executor.TaskCodeReview,
	"data_extraction":      executor.TaskDataExtraction,
}

// fallbackTaskTypeForIntent maps an intent type to the task type used when
// decomposition fails and a single fallback task is substituted.
var fallbackTaskTypeForIntent = map[IntentType]executor.TaskType{
	IntentResearch:   executor.TaskWebResearch,
	IntentSynthesize: executor.TaskDocumentSynthesis,
	IntentAnalyze:    executor.TaskComparativeAnalysis,
	IntentDraft:      executor.TaskReportDrafting,
	IntentReview:     executor.TaskCodeReview,
	IntentExtract:    executor.TaskDataExtraction,
}

// TaskDecomposer converts a parsed intent into an ordered, validated list
// of planned tasks.
type TaskDecomposer struct {
	provider llmprovider.Provider
	model    string
	cfg      Config
	logger   *slog.Logger
}

// NewTaskDecomposer constructs a decomposer bound to one provider/model pair.
func NewTaskDecomposer(provider llmprovider.Provider, model string, cfg Config, logger *slog.Logger) *TaskDecomposer {
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskDecomposer{provider: provider, model: model, cfg: cfg, logger: logger}
}

// Decompose turns intent into a task list. Chitchat and clarification
// intents never reach this point (the caller short-circuits them), but an
// empty list is still returned defensively.
func (d *TaskDecomposer) Decompose(ctx context.Context, intent ParsedIntent) []*PlannedTask {
	if intent.IntentType == IntentChitchat || intent.NeedsClarification {
		return nil
	}

	input := d.buildDecompositionPrompt(intent)

	raw, err := d.provider.CompleteJSON(ctx, []llmprovider.Message{{Role: "user", Content: input}}, d.model, decompositionSchema, llmprovider.CompletionOptions{
		System:      decompositionSystemPrompt,
		Temperature: 0.2,
		MaxTokens:   2048,
	})
	if err != nil {
		d.logger.Error("task decomposition failed", "error", err)
		return []*PlannedTask{d.fallbackTask(intent)}
	}

	items, ok := raw["items"]
	var rawList []any
	if ok {
		rawList, _ = items.([]any)
	} else if list, ok := asAnyList(raw); ok {
		rawList = list
	}

	if rawList == nil {
		d.logger.Warn("decomposition returned non-list result")
		return []*PlannedTask{d.fallbackTask(intent)}
	}

	max := d.cfg.MaxTasksPerRequest
	if max <= 0 {
		max = 5
	}
	if len(rawList) > max {
		rawList = rawList[:max]
	}

	var tasks []*PlannedTask
	for i, item := range rawList {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		taskID := fmt.Sprintf("task-%d", i)

		var dependsOn []string
		if raw, ok := obj["depends_on"].([]any); ok {
			for _, v := range raw {
				if idx, ok := v.(float64); ok {
					dependsOn = append(dependsOn, fmt.Sprintf("task-%d", int(idx)))
				}
			}
		}

		tools := map[string]bool{"llm_chat": true}
		if raw, ok := obj["tools_needed"].([]any); ok {
			tools = map[string]bool{}
			for _, v := range raw {
				if s, ok := v.(string); ok {
					tools[s] = true
				}
			}
		}

		taskTypeStr, _ := obj["task_type"].(string)
		taskType, ok := validTaskTypes[taskTypeStr]
		if !ok {
			taskType = executor.TaskWebResearch
		}

		var domains []string
		if raw, ok := obj["domains"].([]any); ok {
			for _, v := range raw {
				if s, ok := v.(string); ok {
					domains = append(domains, s)
				}
			}
		}

		timeout := d.cfg.DefaultTimeoutSec
		if t, ok := obj["timeout_seconds"].(float64); ok && t > 0 {
			timeout = int(t)
		}

		prompt, _ := obj["prompt"].(string)

		tasks = append(tasks, &PlannedTask{
			TaskID:   taskID,
			TaskType: taskType,
			Prompt:   prompt,
			DependsOn: dependsOn,
			ToolAllowlist: executor.ToolAllowlist{
				WebBrowse:     tools["web_browse"],
				WebFetch:      tools["web_fetch"],
				DocumentRead:  tools["document_read"],
				DocumentWrite: tools["document_write"],
				LLMChat:       tools["llm_chat"],
				CodeAnalyze:   tools["code_analyze"],
			},
			DomainAllowlist: domains,
			TimeoutSeconds:  timeout,
			Status:          StatusPending,
		})
	}

	if len(tasks) == 0 {
		return []*PlannedTask{d.fallbackTask(intent)}
	}

	if err := validateGraph(tasks); err != nil {
		d.logger.Warn("invalid task graph, using fallback", "error", err)
		return []*PlannedTask{d.fallbackTask(intent)}
	}

	return tasks
}

// validateGraph checks for orphaned dependencies and cycles via DFS
// colouring. Returns nil if the graph is valid.
func validateGraph(tasks []*PlannedTask) error {
	ids := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		ids[t.TaskID] = true
	}
	for _, t := range tasks {
		for _, dep := range t.DependsOn {
			if !ids[dep] {
				return fmt.Errorf("task %s depends on non-existent task %s", t.TaskID, dep)
			}
		}
	}

	byID := make(map[string]*PlannedTask, len(tasks))
	for _, t := range tasks {
		byID[t.TaskID] = t
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(tasks))

	var hasCycle func(id string) bool
	hasCycle = func(id string) bool {
		color[id] = gray
		if t, ok := byID[id]; ok {
			for _, dep := range t.DependsOn {
				switch color[dep] {
				case white:
					if hasCycle(dep) {
						return true
					}
				case gray:
					return true
				}
			}
		}
		color[id] = black
		return false
	}

	for _, t := range tasks {
		if color[t.TaskID] == white {
			if hasCycle(t.TaskID) {
				return fmt.Errorf("circular dependency detected in task graph")
			}
		}
	}
	return nil
}

func (d *TaskDecomposer) buildDecompositionPrompt(intent ParsedIntent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Intent type: %s\n", intent.IntentType)
	fmt.Fprintf(&b, "Subject: %s\n", intent.Subject)
	deliverable := intent.Deliverable
	if deliverable == "" {
		deliverable = "not specified"
	}
	fmt.Fprintf(&b, "Deliverable: %s\n", deliverable)
	if len(intent.Constraints) > 0 {
		fmt.Fprintf(&b, "Constraints: %s\n", strings.Join(intent.Constraints, ", "))
	}
	fmt.Fprintf(&b, "Original request: %s", intent.RawInput)
	return b.String()
}

func (d *TaskDecomposer) fallbackTask(intent ParsedIntent) *PlannedTask {
	taskType, ok := fallbackTaskTypeForIntent[intent.IntentType]
	if !ok {
		taskType = executor.TaskWebResearch
	}
	return &PlannedTask{
		TaskID:   "task-0",
		TaskType: taskType,
		Prompt:   intent.RawInput,
		ToolAllowlist: executor.ToolAllowlist{
			WebBrowse: true,
			WebFetch:  true,
			LLMChat:   true,
		},
		TimeoutSeconds: d.cfg.DefaultTimeoutSec,
		Status:         StatusPending,
	}
}

// asAnyList accepts a CompleteJSON result that has exactly one key whose
// value is a list, returning that list. Decompose calls it only when the
// result has no "items" key, so it covers a provider that wraps the task
// array under some other single key.
func asAnyList(m map[string]any) ([]any, bool) {
	if len(m) != 1 {
		return nil, false
	}
	for _, v := range m {
		if list, ok := v.([]any); ok {
			return list, true
		}
	}
	return nil, false
}

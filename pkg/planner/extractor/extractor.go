// Package extractor builds dependency context for a planned task from the
// completed results of its upstream tasks. It is kept separate from
// pkg/planner itself (a narrow DependentTask value type stands in for the
// full task type) to avoid a cyclic import between the executor and the
// summarization strategy, one with the other.
package extractor

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/zulu-cp/core/pkg/llmprovider"
)

// DependentTask is the minimal view of a downstream task a summarizer
// needs: what kind of task it is and what it asked for.
type DependentTask struct {
	TaskType string
	Prompt   string
}

// Summarizer condenses one upstream task's result into a form useful to
// a dependent task's prompt.
type Summarizer interface {
	Summarize(ctx context.Context, result map[string]any, dependent DependentTask) (string, error)
}

const extractionSystemPrompt = `You are extracting key information from task results to pass to dependent tasks.

Given a task result, extract the most relevant information in a clear, structured format.
Focus on facts, data points, and conclusions that would be useful for follow-up tasks.

Respond with a concise summary (max 2000 chars) that captures the essential information.`

// resultToString renders a result map the same way the reference
// extractor does: pretty JSON for dict-shaped results.
func resultToString(result map[string]any) string {
	b, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return ""
	}
	return string(b)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

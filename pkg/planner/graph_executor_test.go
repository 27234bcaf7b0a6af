package planner

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zulu-cp/core/pkg/executor"
	"github.com/zulu-cp/core/pkg/planner/extractor"
)

func newTestCredentials(t *testing.T) executor.ScopedCredentials {
	t.Helper()
	creds, err := executor.NewScopedCredentials("key", "anthropic", nil)
	require.NoError(t, err)
	return creds
}

func TestGraphExecutor_SingleTaskDispatchesDirectly(t *testing.T) {
	backend := newFakeBackend()
	backend.responses["req-1-task-0"] = executor.Response{TaskID: "req-1-task-0", Status: "completed", Output: map[string]any{"output": "done"}}

	ge := NewGraphExecutor(backend, newTestCredentials(t), extractor.NewOnePassSummarizer(&fakeProvider{}, "m", nil), nil, "m", DefaultConfig(), nil)

	graph := &TaskGraph{
		RequestID: "req-1",
		Tasks:     []*PlannedTask{{TaskID: "task-0", TaskType: executor.TaskWebResearch, Prompt: "research", Status: StatusPending}},
	}

	result := ge.Execute(context.Background(), graph)
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.TasksCompleted)
	assert.Equal(t, StatusCompleted, graph.Tasks[0].Status)
}

func TestGraphExecutor_DependentTaskRunsAfterUpstream(t *testing.T) {
	backend := newFakeBackend()
	backend.responses["req-1-task-0"] = executor.Response{Status: "completed", Output: map[string]any{"output": "research results"}}
	backend.responses["req-1-task-1"] = executor.Response{Status: "completed", Output: map[string]any{"output": "final doc"}}

	ge := NewGraphExecutor(backend, newTestCredentials(t), extractor.NewOnePassSummarizer(&fakeProvider{}, "m", nil), nil, "m", DefaultConfig(), nil)

	graph := &TaskGraph{
		RequestID: "req-1",
		Tasks: []*PlannedTask{
			{TaskID: "task-0", TaskType: executor.TaskWebResearch, Prompt: "research", Status: StatusPending},
			{TaskID: "task-1", TaskType: executor.TaskDocumentSynthesis, Prompt: "write", DependsOn: []string{"task-0"}, Status: StatusPending},
		},
	}

	result := ge.Execute(context.Background(), graph)
	assert.True(t, result.Success)
	assert.Equal(t, 2, result.TasksCompleted)
	assert.Equal(t, []string{"req-1-task-0", "req-1-task-1"}, backend.dispatched)
}

func TestGraphExecutor_NoReadyTasksMarksRemainingAsBlocked(t *testing.T) {
	backend := newFakeBackend()
	backend.errs["req-1-task-0"] = errors.New("permanent failure")

	ge := NewGraphExecutor(backend, newTestCredentials(t), extractor.NewOnePassSummarizer(&fakeProvider{}, "m", nil), nil, "m", DefaultConfig(), nil)

	graph := &TaskGraph{
		RequestID: "req-1",
		Tasks: []*PlannedTask{
			{TaskID: "task-0", TaskType: executor.TaskWebResearch, Prompt: "research", Status: StatusPending},
			{TaskID: "task-1", TaskType: executor.TaskDocumentSynthesis, Prompt: "write", DependsOn: []string{"task-0"}, Status: StatusPending},
		},
	}

	result := ge.Execute(context.Background(), graph)
	assert.False(t, result.Success)
	assert.Equal(t, 0, result.TasksCompleted)
	assert.Equal(t, 2, result.TasksFailed)
	assert.Equal(t, "Blocked: dependency failed or missing", graph.Tasks[1].Error)
}

func TestGraphExecutor_ConnectionFailureFallsBackToDirectLLM(t *testing.T) {
	backend := newFakeBackend()
	backend.errs["req-1-task-0"] = errors.New("Cannot connect to host localhost:9000")

	fallback := &fakeProvider{completeResults: []string{"direct llm answer"}}

	ge := NewGraphExecutor(backend, newTestCredentials(t), extractor.NewOnePassSummarizer(&fakeProvider{}, "m", nil), fallback, "m", DefaultConfig(), nil)

	graph := &TaskGraph{
		RequestID: "req-1",
		Tasks:     []*PlannedTask{{TaskID: "task-0", TaskType: executor.TaskWebResearch, Prompt: "research", Status: StatusPending}},
	}

	result := ge.Execute(context.Background(), graph)
	assert.True(t, result.Success)
	assert.Equal(t, "direct_llm", graph.Tasks[0].Result["source"])
	assert.Equal(t, "direct llm answer", graph.Tasks[0].Result["summary"])
}

func TestGraphExecutor_NonConnectionErrorFailsTask(t *testing.T) {
	backend := newFakeBackend()
	backend.errs["req-1-task-0"] = errors.New("executor: validation failed: bad prompt")

	ge := NewGraphExecutor(backend, newTestCredentials(t), extractor.NewOnePassSummarizer(&fakeProvider{}, "m", nil), nil, "m", DefaultConfig(), nil)

	graph := &TaskGraph{
		RequestID: "req-1",
		Tasks:     []*PlannedTask{{TaskID: "task-0", TaskType: executor.TaskWebResearch, Prompt: "research", Status: StatusPending}},
	}

	result := ge.Execute(context.Background(), graph)
	assert.False(t, result.Success)
	assert.Equal(t, StatusFailed, graph.Tasks[0].Status)
}

func TestGraphExecutor_SummaryIncludesCompletedTaskExcerpt(t *testing.T) {
	backend := newFakeBackend()
	backend.responses["req-1-task-0"] = executor.Response{Status: "completed", Output: map[string]any{"summary": "key finding"}}

	ge := NewGraphExecutor(backend, newTestCredentials(t), extractor.NewOnePassSummarizer(&fakeProvider{}, "m", nil), nil, "m", DefaultConfig(), nil)

	graph := &TaskGraph{
		RequestID: "req-1",
		Tasks:     []*PlannedTask{{TaskID: "task-0", TaskType: executor.TaskWebResearch, Prompt: "research", Status: StatusPending}},
	}

	result := ge.Execute(context.Background(), graph)
	assert.Contains(t, result.Summary, "key finding")
}

func TestIsConnectionFailure(t *testing.T) {
	assert.True(t, isConnectionFailure("Cannot connect to remote host"))
	assert.True(t, isConnectionFailure("socket.gaierror: [Errno -2] getaddrinfo failed"))
	assert.True(t, isConnectionFailure("Connection refused"))
	assert.False(t, isConnectionFailure("validation failed"))
}

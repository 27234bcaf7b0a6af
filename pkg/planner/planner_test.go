package planner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zulu-cp/core/pkg/executor"
)

type fakeStore struct {
	records []RunRecord
}

func (s *fakeStore) Append(r RunRecord) error {
	s.records = append(s.records, r)
	return nil
}

func TestPlanner_ChitchatShortCircuitsDecomposition(t *testing.T) {
	provider := &fakeProvider{completeJSONResults: []map[string]any{{
		"intent_type":         "chitchat",
		"confidence":          0.95,
		"subject":             "greeting",
		"needs_clarification": false,
	}}}

	creds, err := executor.NewScopedCredentials("key", "anthropic", nil)
	require.NoError(t, err)

	p := New(provider, DefaultModelConfig(), creds, newFakeBackend(), nil, DefaultConfig(), nil, nil)
	result := p.Plan(context.Background(), "Hey, how's it going?")

	assert.True(t, result.IsChitchat)
	assert.Nil(t, result.TaskGraph)
	assert.Equal(t, 1, provider.completeJSONCalls)
}

func TestPlanner_LowConfidenceReturnsClarification(t *testing.T) {
	provider := &fakeProvider{completeJSONResults: []map[string]any{{
		"intent_type":         "research",
		"confidence":          0.2,
		"subject":             "x",
		"needs_clarification": false,
	}}}

	creds, err := executor.NewScopedCredentials("key", "anthropic", nil)
	require.NoError(t, err)

	p := New(provider, DefaultModelConfig(), creds, newFakeBackend(), nil, DefaultConfig(), nil, nil)
	result := p.Plan(context.Background(), "do something vague")

	assert.True(t, result.NeedsClarification)
	assert.Nil(t, result.TaskGraph)
}

func TestPlanner_PlanAndExecuteFullFlow(t *testing.T) {
	provider := &fakeProvider{completeJSONResults: []map[string]any{
		{
			"intent_type":         "research",
			"confidence":          0.9,
			"subject":             "EV competitors",
			"needs_clarification": false,
		},
		{
			"items": []any{
				map[string]any{"task_type": "web_research", "prompt": "research"},
			},
		},
	}}

	creds, err := executor.NewScopedCredentials("key", "anthropic", nil)
	require.NoError(t, err)

	backend := newFakeBackend()
	store := &fakeStore{}

	p := New(provider, DefaultModelConfig(), creds, backend, nil, DefaultConfig(), store, nil)
	plan, execResult := p.PlanAndExecute(context.Background(), "Research my competitors")

	require.NotNil(t, execResult)
	assert.True(t, plan.Success)
	assert.True(t, execResult.Success)
	assert.Len(t, store.records, 1)
	assert.Equal(t, execResult.RequestID, store.records[0].RequestID)
}

func TestPlanner_StoreFailureDoesNotFailExecution(t *testing.T) {
	provider := &fakeProvider{completeJSONResults: []map[string]any{
		{
			"intent_type":         "research",
			"confidence":          0.9,
			"subject":             "x",
			"needs_clarification": false,
		},
		{
			"items": []any{
				map[string]any{"task_type": "web_research", "prompt": "research"},
			},
		},
	}}

	creds, err := executor.NewScopedCredentials("key", "anthropic", nil)
	require.NoError(t, err)

	p := New(provider, DefaultModelConfig(), creds, newFakeBackend(), nil, DefaultConfig(), &failingStore{}, nil)
	_, execResult := p.PlanAndExecute(context.Background(), "research something")

	require.NotNil(t, execResult)
	assert.True(t, execResult.Success)
}

type failingStore struct{}

func (failingStore) Append(RunRecord) error { return assert.AnError }

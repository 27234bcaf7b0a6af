package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zulu-cp/core/pkg/planner"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "runs.jsonl")
	s, err := Open(path)
	require.NoError(t, err)
	return s, path
}

func TestAppend_ThenByRequestID(t *testing.T) {
	s, _ := newTestStore(t)

	rec := planner.RunRecord{
		RequestID:      "req-1",
		OriginalInput:  "research EV competitors",
		Outcome:        planner.OutcomeCompleted,
		TasksCompleted: 2,
		StartedAt:      time.Now(),
		FinishedAt:     time.Now(),
	}
	require.NoError(t, s.Append(rec))

	got, ok := s.ByRequestID("req-1")
	require.True(t, ok)
	assert.Equal(t, "research EV competitors", got.OriginalInput)
}

func TestRecent_ReturnsNewestFirst(t *testing.T) {
	s, _ := newTestStore(t)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Append(planner.RunRecord{
			RequestID: "req-" + string(rune('a'+i)),
			Outcome:   planner.OutcomeCompleted,
		}))
	}

	recent := s.Recent(2, "")
	require.Len(t, recent, 2)
	assert.Equal(t, "req-c", recent[0].RequestID)
	assert.Equal(t, "req-b", recent[1].RequestID)
}

func TestRecent_FiltersByOutcome(t *testing.T) {
	s, _ := newTestStore(t)

	require.NoError(t, s.Append(planner.RunRecord{RequestID: "req-1", Outcome: planner.OutcomeCompleted}))
	require.NoError(t, s.Append(planner.RunRecord{RequestID: "req-2", Outcome: planner.OutcomeChitchat}))
	require.NoError(t, s.Append(planner.RunRecord{RequestID: "req-3", Outcome: planner.OutcomeCompleted}))

	completed := s.Recent(0, planner.OutcomeCompleted)
	require.Len(t, completed, 2)
	for _, r := range completed {
		assert.Equal(t, planner.OutcomeCompleted, r.Outcome)
	}
}

func TestByRequestID_MissingReturnsFalse(t *testing.T) {
	s, _ := newTestStore(t)
	_, ok := s.ByRequestID("nonexistent")
	assert.False(t, ok)
}

func TestOpen_ReloadsExistingRecords(t *testing.T) {
	s1, path := newTestStore(t)
	require.NoError(t, s1.Append(planner.RunRecord{RequestID: "req-1", Outcome: planner.OutcomeCompleted}))
	require.NoError(t, s1.Append(planner.RunRecord{RequestID: "req-2", Outcome: planner.OutcomePartial}))

	s2, err := Open(path)
	require.NoError(t, err)

	got, ok := s2.ByRequestID("req-2")
	require.True(t, ok)
	assert.Equal(t, planner.OutcomePartial, got.Outcome)
	assert.Len(t, s2.Recent(0, ""), 2)
}

func TestAppend_SameRequestIDOverwritesCacheEntry(t *testing.T) {
	s, _ := newTestStore(t)

	require.NoError(t, s.Append(planner.RunRecord{RequestID: "req-1", Outcome: planner.OutcomePartial}))
	require.NoError(t, s.Append(planner.RunRecord{RequestID: "req-1", Outcome: planner.OutcomeCompleted}))

	got, ok := s.ByRequestID("req-1")
	require.True(t, ok)
	assert.Equal(t, planner.OutcomeCompleted, got.Outcome)
	assert.Len(t, s.Recent(0, ""), 1)
}

func TestWithMaxCached_EvictsOldestRecords(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "runs.jsonl")
	s, err := Open(path, WithMaxCached(2))
	require.NoError(t, err)

	require.NoError(t, s.Append(planner.RunRecord{RequestID: "req-1"}))
	require.NoError(t, s.Append(planner.RunRecord{RequestID: "req-2"}))
	require.NoError(t, s.Append(planner.RunRecord{RequestID: "req-3"}))

	_, ok := s.ByRequestID("req-1")
	assert.False(t, ok)

	got, ok := s.ByRequestID("req-3")
	assert.True(t, ok)
	assert.Equal(t, "req-3", got.RequestID)
	assert.Len(t, s.Recent(0, ""), 2)
}

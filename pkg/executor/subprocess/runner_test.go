package subprocess

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zulu-cp/core/pkg/executor"
)

func newTestRunner(t *testing.T) *Runner {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Workspace = t.TempDir()
	return New(cfg, nil, nil)
}

func TestDispatch_Ping(t *testing.T) {
	r := newTestRunner(t)
	resp, err := r.Ping(context.Background())
	require.NoError(t, err)
	assert.True(t, resp.Succeeded())
	assert.Equal(t, true, resp.Output["pong"])
}

func TestDispatch_CodeExecIsRejected(t *testing.T) {
	r := newTestRunner(t)
	req, err := executor.NewRequest("task-1", "code_exec", "irrelevant")
	require.NoError(t, err)

	_, err = r.Dispatch(context.Background(), req)
	require.Error(t, err)
	var rejErr *executor.RejectedError
	require.ErrorAs(t, err, &rejErr)
}

func TestDispatch_UnknownTaskTypeRejected(t *testing.T) {
	r := newTestRunner(t)
	req, err := executor.NewRequest("task-1", "report_drafting", "draft something")
	require.NoError(t, err)

	_, err = r.Dispatch(context.Background(), req)
	require.Error(t, err)
	var rejErr *executor.RejectedError
	require.ErrorAs(t, err, &rejErr)
	assert.Equal(t, executor.ErrInvalidTask, rejErr.ErrorCode)
}

func TestDispatch_WebFetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello world"))
	}))
	defer server.Close()

	r := newTestRunner(t)
	req, err := executor.NewRequest("task-1", "web_fetch", "x", executor.WithContext(map[string]any{"url": server.URL}))
	require.NoError(t, err)

	resp, err := r.Dispatch(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, resp.Succeeded())
	assert.Equal(t, "hello world", resp.Output["content"])
}

func TestDispatch_TransformIdentity(t *testing.T) {
	r := newTestRunner(t)
	req, err := executor.NewRequest("task-1", "transform", "x", executor.WithContext(map[string]any{"data": map[string]any{"a": 1}}))
	require.NoError(t, err)

	resp, err := r.Dispatch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "identity", resp.Output["transform"])
}

func TestAuditLog_RecordsDispatchLifecycle(t *testing.T) {
	r := newTestRunner(t)
	_, err := r.Ping(context.Background())
	require.NoError(t, err)

	entries := r.AuditLog()
	require.NotEmpty(t, entries)
	assert.Equal(t, "dispatch_start", entries[0].Event)
}

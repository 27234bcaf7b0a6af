package sandbox

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zulu-cp/core/pkg/executor"
)

func newTestSandbox(t *testing.T) *Sandbox {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Workspace = t.TempDir() + "/ws"
	cfg.OutputDir = t.TempDir() + "/out"
	s, err := New(context.Background(), cfg, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestDispatch_Ping(t *testing.T) {
	s := newTestSandbox(t)
	resp, err := s.Ping(context.Background())
	require.NoError(t, err)
	assert.True(t, resp.Succeeded())
}

func TestDispatch_WebResearch_DomainOutsideAllowlistRecorded(t *testing.T) {
	s := newTestSandbox(t)
	req, err := executor.NewRequest("task-1", executor.TaskWebResearch, "research this",
		executor.WithToolAllowlist(executor.ToolAllowlist{WebFetch: true}),
		executor.WithDomainAllowlist([]string{"allowed.example.com"}),
		executor.WithContext(map[string]any{"urls": []string{"https://blocked.example.com/page"}}),
	)
	require.NoError(t, err)

	resp, err := s.Dispatch(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, resp.Succeeded())
	sources, _ := resp.Output["sources"].([]map[string]any)
	require.Len(t, sources, 1)
	assert.Contains(t, sources[0]["error"], "domain not in allowlist")
}

func TestDispatch_WebResearch_FetchesAllowedDomain(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("sandboxed content"))
	}))
	defer upstream.Close()

	s := newTestSandbox(t)
	req, err := executor.NewRequest("task-1", executor.TaskWebResearch, "research this",
		executor.WithToolAllowlist(executor.ToolAllowlist{WebFetch: true}),
		executor.WithDomainAllowlist([]string{"127.0.0.1"}),
		executor.WithContext(map[string]any{"urls": []string{upstream.URL}}),
	)
	require.NoError(t, err)

	resp, err := s.Dispatch(context.Background(), req)
	require.NoError(t, err)
	require.True(t, resp.Succeeded())
	sources, _ := resp.Output["sources"].([]map[string]any)
	require.Len(t, sources, 1)
	assert.Equal(t, "sandboxed content", sources[0]["content"])
}

func TestDispatch_ToolNotAllowed(t *testing.T) {
	s := newTestSandbox(t)
	req, err := executor.NewRequest("task-1", executor.TaskWebResearch, "research this")
	require.NoError(t, err)

	resp, err := s.Dispatch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "web_fetch not allowed for this task", resp.Output["error"])
}

func TestDispatch_StepLimitExceeded(t *testing.T) {
	s := newTestSandbox(t)
	urls := make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		urls = append(urls, "https://allowed.example.com/p")
	}
	req, err := executor.NewRequest("task-1", executor.TaskWebResearch, "research this",
		executor.WithToolAllowlist(executor.ToolAllowlist{WebFetch: true}),
		executor.WithDomainAllowlist([]string{"allowed.example.com"}),
		executor.WithMaxSteps(2),
		executor.WithContext(map[string]any{"urls": urls}),
	)
	require.NoError(t, err)

	resp, err := s.Dispatch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "error", resp.Status)
	assert.Contains(t, resp.Error, "step limit exceeded")
}

func TestDispatch_UnknownTaskTypeRejected(t *testing.T) {
	s := newTestSandbox(t)
	req, err := executor.NewRequest("task-1", "report_drafting", "draft something")
	require.NoError(t, err)

	_, err = s.Dispatch(context.Background(), req)
	require.Error(t, err)
	var rejErr *executor.RejectedError
	require.ErrorAs(t, err, &rejErr)
}

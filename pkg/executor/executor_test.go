package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequest_RejectsBadTaskID(t *testing.T) {
	_, err := NewRequest("has space", TaskWebResearch, "do research")
	require.Error(t, err)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
}

func TestNewRequest_EmptyPromptOnlyValidForPing(t *testing.T) {
	_, err := NewRequest("task-1", TaskWebResearch, "")
	require.Error(t, err)

	req, err := NewRequest("ping-1", TaskPing, "")
	require.NoError(t, err)
	assert.Equal(t, TaskPing, req.TaskType)
}

func TestNewRequest_PromptLengthBoundary(t *testing.T) {
	ok := make([]byte, 100_000)
	_, err := NewRequest("task-1", TaskWebResearch, string(ok))
	require.NoError(t, err)

	tooLong := make([]byte, 100_001)
	_, err = NewRequest("task-1", TaskWebResearch, string(tooLong))
	require.Error(t, err)
}

func TestNewRequest_StepAndTimeoutBounds(t *testing.T) {
	_, err := NewRequest("task-1", TaskWebResearch, "x", WithMaxSteps(0))
	require.Error(t, err)
	_, err = NewRequest("task-1", TaskWebResearch, "x", WithMaxSteps(51))
	require.Error(t, err)
	_, err = NewRequest("task-1", TaskWebResearch, "x", WithTimeoutSeconds(4))
	require.Error(t, err)
	_, err = NewRequest("task-1", TaskWebResearch, "x", WithTimeoutSeconds(3601))
	require.Error(t, err)
}

func TestNewScopedCredentials_RejectsReservedExtraKey(t *testing.T) {
	_, err := NewScopedCredentials("key", "anthropic", map[string]any{"issued_at": "now"})
	require.Error(t, err)
}

func TestScopedCredentials_Expiry(t *testing.T) {
	creds, err := NewScopedCredentials("key", "anthropic", nil)
	require.NoError(t, err)
	assert.False(t, creds.IsExpired(time.Hour))

	creds.IssuedAt = time.Now().Add(-2 * time.Hour)
	assert.True(t, creds.IsExpired(time.Hour))
}

func TestBase_Dispatch_CredentialExpiredNeverCallsSend(t *testing.T) {
	b := NewBase(DefaultConfig(), nil, nil)
	req, err := NewRequest("task-1", TaskWebResearch, "research this")
	require.NoError(t, err)
	req.Credentials.IssuedAt = time.Now().Add(-2 * time.Hour)

	called := false
	_, err = b.Dispatch(context.Background(), req, func(ctx context.Context, r Request) (Response, error) {
		called = true
		return Response{}, nil
	})
	require.Error(t, err)
	var expErr *CredentialExpiredError
	require.True(t, errors.As(err, &expErr))
	assert.False(t, called, "send must never be invoked for expired credentials")
}

func TestBase_Dispatch_RetriesThenSucceeds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RetryBackoffBase = time.Millisecond
	b := NewBase(cfg, nil, nil)
	req, err := NewRequest("task-1", TaskWebResearch, "research this")
	require.NoError(t, err)

	attempts := 0
	resp, err := b.Dispatch(context.Background(), req, func(ctx context.Context, r Request) (Response, error) {
		attempts++
		if attempts < 2 {
			return Response{}, &ConnectionError{Err: errors.New("dial tcp: connection refused")}
		}
		return Response{TaskID: r.TaskID, Status: "completed"}, nil
	})
	require.NoError(t, err)
	assert.True(t, resp.Succeeded())
	assert.Equal(t, 2, attempts)
}

func TestBase_Dispatch_RejectionIsNotRetried(t *testing.T) {
	b := NewBase(DefaultConfig(), nil, nil)
	req, err := NewRequest("task-1", TaskWebResearch, "research this")
	require.NoError(t, err)

	attempts := 0
	_, err = b.Dispatch(context.Background(), req, func(ctx context.Context, r Request) (Response, error) {
		attempts++
		return Response{TaskID: r.TaskID, Status: "rejected", Error: "domain not in allowlist", ErrorCode: ErrDomainBlocked}, nil
	})
	require.Error(t, err)
	var rejErr *RejectedError
	require.True(t, errors.As(err, &rejErr))
	assert.Equal(t, 1, attempts, "rejections are surfaced immediately, never retried")
}

func TestBase_Dispatch_ExhaustsRetriesOnConnectionError(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRetries = 2
	cfg.RetryBackoffBase = time.Millisecond
	b := NewBase(cfg, nil, nil)
	req, err := NewRequest("task-1", TaskWebResearch, "research this")
	require.NoError(t, err)

	attempts := 0
	_, err = b.Dispatch(context.Background(), req, func(ctx context.Context, r Request) (Response, error) {
		attempts++
		return Response{}, &ConnectionError{Err: errors.New("connection reset")}
	})
	require.Error(t, err)
	var connErr *ConnectionError
	require.True(t, errors.As(err, &connErr))
	assert.Equal(t, 2, attempts)
}

func TestAuditRing_OverflowCounterAndFlushCallback(t *testing.T) {
	var flushed []Entry
	ring := NewAuditRing(2, func(e []Entry) { flushed = e }, nil)
	ring.Append("a", "task-1", nil)
	ring.Append("b", "task-1", nil)
	ring.Append("c", "task-1", nil) // evicts "a"

	assert.Equal(t, 2, ring.Len())
	entries := ring.Flush()
	assert.Len(t, entries, 2)
	assert.Equal(t, "b", entries[0].Event)
	assert.Equal(t, flushed, entries)
	assert.Equal(t, 0, ring.Len())
}

func TestCategorizeErrorFallback(t *testing.T) {
	assert.Equal(t, ErrTimeout, CategorizeErrorFallback("request Timeout exceeded"))
	assert.Equal(t, ErrAuthFailed, CategorizeErrorFallback("invalid api key"))
	assert.Equal(t, ErrDomainBlocked, CategorizeErrorFallback("domain not in allowlist"))
	assert.Equal(t, ErrUnknown, CategorizeErrorFallback("something weird happened"))
}

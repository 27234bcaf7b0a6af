package planner

import (
	"context"
	"sync"

	"github.com/zulu-cp/core/pkg/executor"
)

// fakeBackend is a minimal executor.Executor test double: dispatch
// outcomes are scripted per task id, with a default applied when a task
// id has no script entry.
type fakeBackend struct {
	mu sync.Mutex

	responses  map[string]executor.Response
	errs       map[string]error
	dispatched []string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{responses: map[string]executor.Response{}, errs: map[string]error{}}
}

func (b *fakeBackend) Dispatch(ctx context.Context, req executor.Request) (executor.Response, error) {
	b.mu.Lock()
	b.dispatched = append(b.dispatched, req.TaskID)
	b.mu.Unlock()

	if err, ok := b.errs[req.TaskID]; ok {
		return executor.Response{}, err
	}
	if resp, ok := b.responses[req.TaskID]; ok {
		return resp, nil
	}
	return executor.Response{TaskID: req.TaskID, Status: "completed", Output: map[string]any{"output": "ok"}}, nil
}

func (b *fakeBackend) Ping(ctx context.Context) (executor.Response, error) {
	return executor.Response{Status: "completed"}, nil
}

func (b *fakeBackend) Close() error { return nil }

func (b *fakeBackend) AuditLog() []executor.Entry { return nil }

func (b *fakeBackend) FlushAuditLog() []executor.Entry { return nil }

var _ executor.Executor = (*fakeBackend)(nil)

package executor

import "context"

// Executor is the common contract spoken to any backend implementation:
// constrained sandbox, remote gateway, or subprocess runner. The planner's
// routing table holds executors behind this interface and calls Dispatch
// uniformly regardless of which backend is underneath.
type Executor interface {
	Dispatch(ctx context.Context, req Request) (Response, error)
	Ping(ctx context.Context) (Response, error)
	Close() error
	AuditLog() []Entry
	FlushAuditLog() []Entry
}

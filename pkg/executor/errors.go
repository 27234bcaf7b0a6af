package executor

import (
	"fmt"
	"strings"
)

// ValidationError reports one or more request-shape faults discovered
// before any network call was attempted.
type ValidationError struct {
	Reasons []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("executor: validation failed: %s", strings.Join(e.Reasons, "; "))
}

// CredentialExpiredError means the scoped credentials exceeded their TTL;
// the dispatch never reached the network.
type CredentialExpiredError struct {
	TaskID string
}

func (e *CredentialExpiredError) Error() string {
	return fmt.Sprintf("executor: credentials for task %s have expired", e.TaskID)
}

// ConnectionError wraps a transport-level failure after retry exhaustion.
type ConnectionError struct {
	Attempts int
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("executor: failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// TimeoutError means the task did not complete before its per-request
// deadline.
type TimeoutError struct {
	TaskID string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("executor: task %s timed out", e.TaskID)
}

// RejectedError means the backend completed a round trip and declined the
// task — not a transport failure, and therefore never retried.
type RejectedError struct {
	TaskID    string
	Reason    string
	ErrorCode ErrorCode
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("executor: task %s rejected: %s", e.TaskID, e.Reason)
}

package executor

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"
)

// Config holds the tunables every backend reads at construction — lazily
// resolved from environment/config loading rather than captured at import
// time, per the reference adapter's lazy-config convention.
type Config struct {
	MaxRetries        int
	RetryBackoffBase  time.Duration
	ConnectionTimeout time.Duration
	CredentialMaxAge  time.Duration
	AuditRingSize     int
}

// DefaultConfig returns the reference adapter's documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries:        3,
		RetryBackoffBase:  time.Second,
		ConnectionTimeout: 10 * time.Second,
		CredentialMaxAge:  time.Hour,
		AuditRingSize:     1000,
	}
}

// Sender performs one network attempt for a validated, TTL-checked
// request. It should return a RejectedError/TimeoutError/ConnectionError
// (or a wrapped transport error) on failure; Base.Dispatch classifies the
// result and decides whether to retry.
type Sender func(ctx context.Context, req Request) (Response, error)

// Base implements the pre-dispatch pipeline common to every backend:
// validate, TTL-check credentials, audit dispatch-start, retry with
// exponential backoff, audit dispatch-complete/error. Backend
// implementations embed Base and supply a Sender.
type Base struct {
	cfg    Config
	ring   *AuditRing
	logger *slog.Logger
}

// NewBase constructs the shared pipeline state. onFlush is passed through
// to the bounded audit ring (typically the control plane's audit.Chain).
func NewBase(cfg Config, onFlush func([]Entry), logger *slog.Logger) Base {
	if logger == nil {
		logger = slog.Default()
	}
	return Base{cfg: cfg, ring: NewAuditRing(cfg.AuditRingSize, onFlush, logger), logger: logger}
}

// AuditLog returns the current bounded ring contents.
func (b *Base) AuditLog() []Entry { return b.ring.GetAll() }

// FlushAuditLog drains the ring, invoking its flush callback.
func (b *Base) FlushAuditLog() []Entry { return b.ring.Flush() }

// Dispatch runs the full pre-dispatch pipeline around send, which performs
// the single network attempt for one backend.
func (b *Base) Dispatch(ctx context.Context, req Request, send Sender) (Response, error) {
	if err := req.Validate(); err != nil {
		return Response{}, err
	}

	if req.Credentials.IsExpired(b.cfg.CredentialMaxAge) {
		b.ring.Append("credential_expired", req.TaskID, nil)
		return Response{}, &CredentialExpiredError{TaskID: req.TaskID}
	}

	b.ring.Append("dispatch_start", req.TaskID, map[string]any{"task_type": string(req.TaskType)})

	var lastErr error
	maxRetries := b.cfg.MaxRetries
	if maxRetries < 1 {
		maxRetries = 1
	}

	for attempt := 1; attempt <= maxRetries; attempt++ {
		resp, err := send(ctx, req)
		if err == nil {
			if resp.WasRejected() {
				b.ring.Append("task_rejected", req.TaskID, map[string]any{"reason": resp.Error, "error_code": string(resp.ErrorCode)})
				return Response{}, &RejectedError{TaskID: req.TaskID, Reason: resp.Error, ErrorCode: resp.ErrorCode}
			}
			b.ring.Append("dispatch_complete", req.TaskID, map[string]any{
				"status": resp.Status, "steps": resp.StepsTaken, "elapsed": resp.ElapsedSeconds,
			})
			return resp, nil
		}

		var timeoutErr *TimeoutError
		if errors.As(err, &timeoutErr) {
			b.ring.Append("dispatch_timeout", req.TaskID, nil)
			return Response{}, err
		}

		var rejErr *RejectedError
		if errors.As(err, &rejErr) {
			b.ring.Append("task_rejected", req.TaskID, map[string]any{"reason": rejErr.Reason, "error_code": string(rejErr.ErrorCode)})
			return Response{}, err
		}

		lastErr = err
		b.ring.Append("dispatch_retry", req.TaskID, map[string]any{"attempt": attempt, "error": err.Error()})

		if attempt < maxRetries && isRetryable(err) {
			backoff := time.Duration(float64(b.cfg.RetryBackoffBase) * math.Pow(2, float64(attempt-1)))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return Response{}, ctx.Err()
			}
			continue
		}
		break
	}

	return Response{}, &ConnectionError{Attempts: maxRetries, Err: lastErr}
}

// isRetryable reports whether a send error is a transport-class failure
// worth retrying. Only context cancellation short-circuits the retry loop;
// everything else reaching here (the caller already peeled off Timeout
// and Rejected) is treated as connection-class, matching the reference
// adapter's broad aiohttp.ClientError catch.
func isRetryable(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// Package attestation implements the worker-attestation handshake: a
// single-use, time-limited nonce challenge and a constant-time-verified
// signature response, used to prove an executor knows its shared secret
// before the watchdog or planner will trust it.
package attestation

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zeebo/blake3"
)

// HashAlgo selects the signature primitive.
type HashAlgo string

const (
	HashAlgoBlake3 HashAlgo = "blake3"
	HashAlgoSHA256 HashAlgo = "sha256"
)

func computeSignature(algo HashAlgo, nonce, secret string) string {
	payload := []byte(nonce + secret)
	if algo == HashAlgoSHA256 {
		sum := sha256.Sum256(payload)
		return hex.EncodeToString(sum[:])
	}
	sum := blake3.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// issuedNonce is a nonce bound to a specific executor.
type issuedNonce struct {
	executorName string
	issuedAt     time.Time
	expiresAt    time.Time
	used         bool
}

// LogEntry is one attestation-authority audit line, independent of the
// control plane's main audit chain (the authority keeps its own small
// in-memory log, drained via Flush, matching the source's
// get_log/flush_log pair).
type LogEntry struct {
	TS           time.Time
	Event        string
	ExecutorName string
	Reason       string
	Detail       map[string]any
}

// Authority holds the process-wide {executor name -> secret} map (injected
// at startup, never persisted) and the live nonce table. It is the only
// component that knows executor secrets.
type Authority struct {
	mu sync.Mutex

	knownExecutors map[string]string
	nonceTTL       time.Duration
	algo           HashAlgo

	issued map[string]*issuedNonce
	log    []LogEntry

	logger *slog.Logger
}

// New constructs an Authority. nonceTTL defaults to 60 seconds if zero.
func New(knownExecutors map[string]string, nonceTTL time.Duration, opts ...Option) *Authority {
	if nonceTTL <= 0 {
		nonceTTL = 60 * time.Second
	}
	a := &Authority{
		knownExecutors: knownExecutors,
		nonceTTL:       nonceTTL,
		algo:           HashAlgoBlake3,
		issued:         make(map[string]*issuedNonce),
		logger:         slog.Default().With("component", "attestation"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Option configures an Authority at construction.
type Option func(*Authority)

// WithHashAlgo overrides the default BLAKE3 signature primitive.
func WithHashAlgo(algo HashAlgo) Option {
	return func(a *Authority) { a.algo = algo }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Authority) { a.logger = l }
}

// IssueNonce generates a 256-bit random nonce for a recognised executor.
// Returns ("", false) if executorName is not in the known-executors map.
func (a *Authority) IssueNonce(executorName string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.cleanupExpiredLocked()

	if _, ok := a.knownExecutors[executorName]; !ok {
		a.logger.Warn("nonce requested by unknown executor", "executor", executorName)
		a.logEvent("NONCE_DENIED", executorName, "unknown_executor", nil)
		return "", false
	}

	nonce := randomHex(32)
	now := time.Now()
	a.issued[nonce] = &issuedNonce{
		executorName: executorName,
		issuedAt:     now,
		expiresAt:    now.Add(a.nonceTTL),
	}
	a.logEvent("NONCE_ISSUED", executorName, "", map[string]any{"nonce_prefix": truncate(nonce, 16)})
	return nonce, true
}

// Verify checks an executor's attestation response. Checks run in order:
// nonce exists, nonce is bound to this executor, nonce has not expired,
// nonce has not been used, signature matches. Returns (false, reason) on
// any failure; all failure modes are logged with the specific reason.
func (a *Authority) Verify(executorName, nonce, signature string) (bool, string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	issued, ok := a.issued[nonce]
	if !ok {
		reason := "nonce_not_found"
		a.logEvent("ATTESTATION_FAILED", executorName, reason, nil)
		return false, reason
	}

	if issued.executorName != executorName {
		reason := "nonce_worker_mismatch"
		a.logEvent("ATTESTATION_FAILED", executorName, reason, nil)
		return false, reason
	}

	if !time.Now().Before(issued.expiresAt) {
		reason := "nonce_expired"
		a.logEvent("ATTESTATION_FAILED", executorName, reason, nil)
		delete(a.issued, nonce)
		return false, reason
	}

	if issued.used {
		reason := "nonce_already_used"
		a.logEvent("ATTESTATION_FAILED", executorName, reason, nil)
		return false, reason
	}

	secret := a.knownExecutors[executorName]
	expected := computeSignature(a.algo, nonce, secret)
	if subtle.ConstantTimeCompare([]byte(signature), []byte(expected)) != 1 {
		reason := "signature_mismatch"
		a.logEvent("ATTESTATION_FAILED", executorName, reason, nil)
		return false, reason
	}

	issued.used = true
	a.logEvent("ATTESTATION_OK", executorName, "", nil)
	a.cleanupExpiredLocked()

	return true, "ok"
}

// RevokeExecutor discards every nonce bound to the given executor, used
// before or during a forced kill.
func (a *Authority) RevokeExecutor(executorName string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	revoked := 0
	for nonce, issued := range a.issued {
		if issued.executorName == executorName {
			delete(a.issued, nonce)
			revoked++
		}
	}
	if revoked > 0 {
		a.logEvent("WORKER_REVOKED", executorName, "", map[string]any{"nonces_revoked": revoked})
	}
}

func (a *Authority) cleanupExpiredLocked() {
	now := time.Now()
	for nonce, issued := range a.issued {
		if now.After(issued.expiresAt) {
			delete(a.issued, nonce)
		}
	}
}

func (a *Authority) logEvent(event, executorName, reason string, detail map[string]any) {
	entry := LogEntry{TS: time.Now().UTC(), Event: event, ExecutorName: executorName, Reason: reason, Detail: detail}
	a.log = append(a.log, entry)
	a.logger.Info("attest", "event", event, "executor", executorName, "reason", reason)
}

// Log returns a copy of the authority's own event log.
func (a *Authority) Log() []LogEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]LogEntry, len(a.log))
	copy(out, a.log)
	return out
}

// FlushLog drains and returns the authority's own event log.
func (a *Authority) FlushLog() []LogEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := a.log
	a.log = nil
	return out
}

func randomHex(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand.Read failing means the OS CSPRNG is unavailable — there
		// is no safe fallback, so panic rather than issue a weak nonce.
		panic(fmt.Sprintf("attestation: failed to read random bytes: %v", err))
	}
	return hex.EncodeToString(buf)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// Attester runs inside the executor and signs nonces to prove identity to
// the Authority.
type Attester struct {
	ExecutorName string
	secret       string
	algo         HashAlgo
}

// NewAttester constructs an Attester for a given executor identity.
func NewAttester(executorName, secret string, algo HashAlgo) *Attester {
	if algo == "" {
		algo = HashAlgoBlake3
	}
	return &Attester{ExecutorName: executorName, secret: secret, algo: algo}
}

// SignNonce signs a nonce with this executor's secret.
func (w *Attester) SignNonce(nonce string) string {
	return computeSignature(w.algo, nonce, w.secret)
}

// Attestation is the complete handshake payload sent over HTTP.
type Attestation struct {
	ExecutorName string    `json:"worker_id"`
	Nonce        string    `json:"nonce"`
	Signature    string    `json:"signature"`
	Timestamp    time.Time `json:"timestamp"`
}

// BuildAttestation signs nonce and assembles the full handshake payload.
func (w *Attester) BuildAttestation(nonce string) Attestation {
	return Attestation{
		ExecutorName: w.ExecutorName,
		Nonce:        nonce,
		Signature:    w.SignNonce(nonce),
		Timestamp:    time.Now().UTC(),
	}
}

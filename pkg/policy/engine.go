package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"dario.cat/mergo"
	"github.com/go-playground/validator/v10"
	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

// HashAlgo selects the fingerprinting primitive, matching the audit chain's
// own BLAKE3-primary/SHA-256-fallback convention.
type HashAlgo string

const (
	HashAlgoBlake3 HashAlgo = "blake3"
	HashAlgoSHA256 HashAlgo = "sha256"
)

func fingerprintBytes(algo HashAlgo, data []byte) string {
	if algo == HashAlgoSHA256 {
		sum := sha256.Sum256(data)
		return hex.EncodeToString(sum[:])
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Engine loads and enforces the policy document, hot-reloading it from a
// YAML file on disk.
type Engine struct {
	mu sync.RWMutex

	path      string
	algo      HashAlgo
	doc       Document
	hash      string
	loadCount int

	validate *validator.Validate
	log      *slog.Logger
}

// New constructs an Engine. If path is empty or the file does not yet
// exist, the built-in default document is used until the first successful
// Reload.
func New(path string, opts ...Option) *Engine {
	e := &Engine{
		path:     path,
		algo:     HashAlgoBlake3,
		validate: validator.New(),
		log:      slog.Default().With("component", "policy"),
	}
	for _, opt := range opts {
		opt(e)
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, reloadErr := e.Reload(); reloadErr != nil {
				e.log.Error("initial policy load failed, using defaults", "error", reloadErr)
				e.setDefault()
			}
			return e
		}
	}

	e.log.Info("no policy file found, using defaults")
	e.setDefault()
	return e
}

// Option configures an Engine at construction.
type Option func(*Engine)

// WithHashAlgo overrides the default BLAKE3 fingerprinting.
func WithHashAlgo(algo HashAlgo) Option {
	return func(e *Engine) { e.algo = algo }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

func (e *Engine) setDefault() {
	doc := DefaultDocument()
	raw, _ := json.Marshal(doc)
	e.mu.Lock()
	e.doc = doc
	e.hash = fingerprintBytes(e.algo, raw)
	e.mu.Unlock()
}

// Reload re-reads the policy file, hashes the raw bytes, and compares
// against the cached fingerprint. Returns true if the document changed.
// Unchanged bytes are a strict no-op: the document reference, load counter,
// and fingerprint are all left untouched.
func (e *Engine) Reload() (bool, error) {
	if e.path == "" {
		return false, nil
	}
	raw, err := os.ReadFile(e.path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read policy file: %w", err)
	}

	newHash := fingerprintBytes(e.algo, raw)

	e.mu.RLock()
	unchanged := newHash == e.hash
	e.mu.RUnlock()
	if unchanged {
		return false, nil
	}

	var loaded Document
	if err := yaml.Unmarshal(raw, &loaded); err != nil {
		return false, fmt.Errorf("parse policy yaml: %w", err)
	}

	merged := DefaultDocument()
	if err := mergo.Merge(&merged, loaded, mergo.WithOverride); err != nil {
		return false, fmt.Errorf("merge policy document: %w", err)
	}

	for name, rule := range merged.Workers {
		if err := e.validate.Struct(rule); err != nil {
			return false, fmt.Errorf("validate worker %q policy: %w", name, err)
		}
	}

	e.mu.Lock()
	e.doc = merged
	e.hash = newHash
	e.loadCount++
	count := e.loadCount
	e.mu.Unlock()

	e.log.Info("policy reloaded", "load_count", count, "fingerprint", newHash[:min(16, len(newHash))])
	return true, nil
}

// GetWorkerPolicy returns the rule subdocument for a named executor, and
// whether one was found.
func (e *Engine) GetWorkerPolicy(container string) (Rule, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.doc.Workers[container]
	return r, ok
}

// Check evaluates a container's sampled stats against its rule subdocument
// and returns an ordered list of violations (empty = compliant).
func (e *Engine) Check(container string, stats Stats, runtimeSeconds float64) []Violation {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var violations []Violation

	rule, ok := e.doc.Workers[container]
	if !ok {
		if e.doc.Global.KillUnknownWorkers {
			violations = append(violations, Violation{
				Container: container,
				Rule:      "unknown_worker",
				Reason:    fmt.Sprintf("worker %q not in policy", container),
				Severity:  SeverityKill,
				Details:   map[string]any{},
			})
		}
		return violations
	}

	if runtimeSeconds > float64(rule.MaxRuntimeSec) {
		violations = append(violations, Violation{
			Container: container,
			Rule:      "max_runtime_sec",
			Reason:    fmt.Sprintf("runtime %.0fs exceeds policy limit %ds", runtimeSeconds, rule.MaxRuntimeSec),
			Severity:  SeverityKill,
			Details:   map[string]any{"runtime": runtimeSeconds, "limit": rule.MaxRuntimeSec},
		})
	}

	if stats.CPUPercent > rule.MaxCPUPct {
		violations = append(violations, Violation{
			Container: container,
			Rule:      "max_cpu_pct",
			Reason:    fmt.Sprintf("CPU %.1f%% exceeds policy limit %.1f%%", stats.CPUPercent, rule.MaxCPUPct),
			Severity:  SeverityWarn, // watchdog escalates sustained CPU to kill
			Details:   map[string]any{"cpu_percent": stats.CPUPercent, "limit": rule.MaxCPUPct},
		})
	}

	if stats.MemoryMB > rule.MaxMemoryMB {
		violations = append(violations, Violation{
			Container: container,
			Rule:      "max_memory_mb",
			Reason:    fmt.Sprintf("memory %.0fMB exceeds policy limit %.0fMB", stats.MemoryMB, rule.MaxMemoryMB),
			Severity:  SeverityKill,
			Details:   map[string]any{"memory_mb": stats.MemoryMB, "limit": rule.MaxMemoryMB},
		})
	}

	if rule.DenyOutbound && stats.NetworkTxBytes > 0 {
		violations = append(violations, Violation{
			Container: container,
			Rule:      "deny_outbound",
			Reason:    fmt.Sprintf("outbound network detected (%d bytes)", stats.NetworkTxBytes),
			Severity:  SeverityKill,
			Details:   map[string]any{"network_tx_bytes": stats.NetworkTxBytes},
		})
	}

	return violations
}

// ShouldKill reports whether any kill-severity violation should trigger
// destructive action, per the global kill_on_violation flag.
func (e *Engine) ShouldKill(violations []Violation) bool {
	e.mu.RLock()
	killOnViolation := e.doc.Global.KillOnViolation
	e.mu.RUnlock()

	if !killOnViolation {
		return false
	}
	for _, v := range violations {
		if v.Severity == SeverityKill {
			return true
		}
	}
	return false
}

// RequiresAttestation reports whether a worker must complete the
// attestation handshake before dispatch. Unknown workers default to
// requiring attestation (fail closed).
func (e *Engine) RequiresAttestation(container string) bool {
	rule, ok := e.GetWorkerPolicy(container)
	if !ok {
		return true
	}
	return rule.RequireAttestation
}

// Fingerprint returns the current policy hash.
func (e *Engine) Fingerprint() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.hash
}

// LoadCount returns the number of successful reloads since construction.
func (e *Engine) LoadCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.loadCount
}

// ReloadInterval returns the configured reload interval in seconds.
func (e *Engine) ReloadInterval() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.doc.Global.PolicyReloadInterval <= 0 {
		return 60
	}
	return e.doc.Global.PolicyReloadInterval
}

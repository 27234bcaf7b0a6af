// Package watchdog implements the container watchdog: one polling loop
// per process that samples each monitored executor's resource usage,
// checks it against the policy engine, and kills containers that violate
// their ceilings.
package watchdog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/zulu-cp/core/pkg/audit"
	"github.com/zulu-cp/core/pkg/policy"
)

// KillAction is the host-level operation a violation triggers.
type KillAction string

const (
	KillRestart KillAction = "restart"
	KillStop    KillAction = "stop"
)

const killGrace = 5 * time.Second

// defaultHighCPUThresholdChecks is the number of consecutive over-ceiling
// CPU samples required before a sustained-CPU kill fires.
const defaultHighCPUThresholdChecks = 3

// Config is the watchdog's startup configuration.
type Config struct {
	Containers []string

	DefaultMaxRuntimeSec int
	DefaultMaxCPUPct     float64
	DefaultMaxMemoryMB   float64

	PollInterval           time.Duration
	PolicyReloadInterval   time.Duration
	HighCPUThresholdChecks int
	KillAction             KillAction
}

func DefaultConfig() Config {
	return Config{
		PollInterval:           10 * time.Second,
		PolicyReloadInterval:   60 * time.Second,
		HighCPUThresholdChecks: defaultHighCPUThresholdChecks,
		KillAction:             KillRestart,
	}
}

// containerState is the watchdog's per-container mutable tracking: the
// sustained-high-cpu counter and first-seen time for runtime computation.
type containerState struct {
	highCPUStreak int
	startedAt     time.Time
	attested      bool
}

// Watchdog runs the periodic sampling/policy/kill loop described in
// SPEC_FULL.md §4.F, grounded on the reference monitor's ContainerWatchdog.
type Watchdog struct {
	cfg    Config
	driver ContainerDriver
	engine *policy.Engine
	chain  *audit.Chain
	logger *slog.Logger

	mu        sync.Mutex
	state     map[string]*containerState
	tickCount int

	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a Watchdog. cfg.Containers must be set by the caller;
// DefaultConfig supplies the poll and reload intervals, a CPU streak
// threshold of 3 and the restart kill action, but no default ceilings.
// New itself falls back to a 10s poll interval and a threshold of 3 when
// those fields are non-positive, and an empty KillAction restarts.
func New(cfg Config, driver ContainerDriver, engine *policy.Engine, chain *audit.Chain, logger *slog.Logger) *Watchdog {
	if cfg.HighCPUThresholdChecks <= 0 {
		cfg.HighCPUThresholdChecks = defaultHighCPUThresholdChecks
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default().With("component", "watchdog")
	}
	state := make(map[string]*containerState, len(cfg.Containers))
	for _, c := range cfg.Containers {
		state[c] = &containerState{}
	}
	return &Watchdog{
		cfg:    cfg,
		driver: driver,
		engine: engine,
		chain:  chain,
		logger: logger,
		state:  state,
	}
}

// MarkAttested records the outcome of an executor's attestation handshake
// (driven elsewhere, via pkg/attestation). A container that never attests
// when the policy requires it is treated as a kill-severity violation on
// the next tick.
func (w *Watchdog) MarkAttested(container string, ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	st, found := w.state[container]
	if !found {
		st = &containerState{}
		w.state[container] = st
	}
	st.attested = ok
}

// Start launches the background polling loop.
func (w *Watchdog) Start(ctx context.Context) {
	if w.cancel != nil {
		return
	}
	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})

	w.chain.Append(audit.EventWatchdogStarted, audit.Detail{"containers": w.cfg.Containers})
	go w.run(ctx)

	w.logger.Info("watchdog started", "containers", w.cfg.Containers, "poll_interval", w.cfg.PollInterval)
}

// Stop signals the loop to exit and waits for it to finish.
func (w *Watchdog) Stop() {
	if w.cancel == nil {
		return
	}
	w.cancel()
	<-w.done
	w.logger.Info("watchdog stopped")
}

func (w *Watchdog) run(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

// reloadEvery is how many ticks must pass between policy-reload attempts,
// derived from the configured reload interval expressed as a multiple of
// the poll interval.
func (w *Watchdog) reloadEvery() int {
	if w.cfg.PollInterval <= 0 {
		return 1
	}
	n := int(w.cfg.PolicyReloadInterval / w.cfg.PollInterval)
	if n <= 0 {
		n = 1
	}
	return n
}

func (w *Watchdog) tick(ctx context.Context) {
	w.mu.Lock()
	w.tickCount++
	due := w.tickCount%w.reloadEvery() == 0
	w.mu.Unlock()

	if due {
		w.reloadPolicy()
	}

	for _, name := range w.cfg.Containers {
		w.checkContainer(ctx, name)
	}
}

func (w *Watchdog) reloadPolicy() {
	changed, err := w.engine.Reload()
	if err != nil {
		w.logger.Error("policy reload failed", "error", err)
		return
	}
	if changed {
		w.chain.Append(audit.EventPolicyLoaded, audit.Detail{"fingerprint": w.engine.Fingerprint()})
		w.logger.Info("policy reloaded", "fingerprint", w.engine.Fingerprint())
	}
}

func (w *Watchdog) checkContainer(ctx context.Context, name string) {
	running, found, err := w.driver.Inspect(ctx, name)
	if err != nil {
		w.logger.Error("inspect failed", "container", name, "error", err)
		return
	}
	if !found {
		w.chain.Append(audit.EventContainerNotFound, audit.Detail{"container": name})
		return
	}
	if !running {
		w.logger.Debug("container not running, skipping", "container", name)
		return
	}

	st := w.containerState(name)
	if st.startedAt.IsZero() {
		st.startedAt = time.Now()
	}
	runtimeSeconds := time.Since(st.startedAt).Seconds()

	snap, err := w.driver.Stats(ctx, name)
	if err != nil {
		w.logger.Error("stats sampling failed", "container", name, "error", err)
		return
	}

	stats := policy.Stats{CPUPercent: snap.CPUPercent, MemoryMB: snap.MemoryMB, NetworkTxBytes: snap.NetTxBytes}

	violations := w.engine.Check(name, stats, runtimeSeconds)
	if w.attestationMissing(name) {
		violations = append(violations, policy.Violation{
			Container: name,
			Rule:      "require_attestation",
			Reason:    "executor has not completed attestation",
			Severity:  policy.SeverityKill,
			Details:   map[string]any{},
		})
	}

	for _, v := range violations {
		w.chain.Append(audit.EventPolicyViolation, audit.Detail{
			"container": v.Container, "rule": v.Rule, "reason": v.Reason,
			"severity": string(v.Severity), "details": v.Details,
		})
	}
	if w.engine.ShouldKill(violations) {
		w.kill(ctx, name, "policy violation")
		return
	}

	// A container with no policy entry falls back to the configured default
	// runtime ceiling.
	if _, hasRule := w.engine.GetWorkerPolicy(name); !hasRule && w.cfg.DefaultMaxRuntimeSec > 0 && runtimeSeconds > float64(w.cfg.DefaultMaxRuntimeSec) {
		w.chain.Append(audit.EventPolicyViolation, audit.Detail{
			"container": name, "rule": "builtin_max_runtime_sec",
			"runtime": runtimeSeconds, "limit": w.cfg.DefaultMaxRuntimeSec,
		})
		w.kill(ctx, name, "runtime ceiling exceeded")
		return
	}

	w.applyBuiltinRules(ctx, name, st, stats)
}

func (w *Watchdog) attestationMissing(name string) bool {
	if !w.engine.RequiresAttestation(name) {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	st, ok := w.state[name]
	return !ok || !st.attested
}

// applyBuiltinRules enforces the watchdog's own ceilings (policy-supplied
// or default), independent of policy.Engine.Check: memory over ceiling
// kills immediately; CPU over ceiling increments a sustained counter that
// kills once it reaches HighCPUThresholdChecks, and resets on any
// compliant sample.
func (w *Watchdog) applyBuiltinRules(ctx context.Context, name string, st *containerState, stats policy.Stats) {
	maxMem := w.cfg.DefaultMaxMemoryMB
	maxCPU := w.cfg.DefaultMaxCPUPct
	if rule, ok := w.engine.GetWorkerPolicy(name); ok {
		if rule.MaxMemoryMB > 0 {
			maxMem = rule.MaxMemoryMB
		}
		if rule.MaxCPUPct > 0 {
			maxCPU = rule.MaxCPUPct
		}
	}

	if maxMem > 0 && stats.MemoryMB > maxMem {
		w.chain.Append(audit.EventPolicyViolation, audit.Detail{
			"container": name, "rule": "builtin_max_memory_mb",
			"memory_mb": stats.MemoryMB, "limit": maxMem,
		})
		w.kill(ctx, name, "memory ceiling exceeded")
		return
	}

	if maxCPU <= 0 || stats.CPUPercent <= maxCPU {
		w.mu.Lock()
		st.highCPUStreak = 0
		w.mu.Unlock()
		return
	}

	w.mu.Lock()
	st.highCPUStreak++
	streak := st.highCPUStreak
	w.mu.Unlock()

	if streak >= w.cfg.HighCPUThresholdChecks {
		w.chain.Append(audit.EventPolicyViolation, audit.Detail{
			"container": name, "rule": "builtin_sustained_cpu",
			"cpu_percent": stats.CPUPercent, "limit": maxCPU, "streak": streak,
		})
		w.kill(ctx, name, "sustained CPU ceiling exceeded")
	}
}

func (w *Watchdog) containerState(name string) *containerState {
	w.mu.Lock()
	defer w.mu.Unlock()
	st, ok := w.state[name]
	if !ok {
		st = &containerState{}
		w.state[name] = st
	}
	return st
}

// kill issues the configured host-level action and resets the container's
// tracked state. A kill failure is audited and logged but never stops the
// watchdog loop.
func (w *Watchdog) kill(ctx context.Context, name, reason string) {
	w.chain.Append(audit.EventKillTriggered, audit.Detail{"container": name, "reason": reason, "action": string(w.cfg.KillAction)})

	var err error
	switch w.cfg.KillAction {
	case KillStop:
		err = w.driver.Stop(ctx, name, killGrace)
	default:
		err = w.driver.Restart(ctx, name, killGrace)
	}

	if err != nil {
		w.chain.Append(audit.EventKillFailed, audit.Detail{"container": name, "error": err.Error()})
		w.logger.Error("kill action failed", "container", name, "action", w.cfg.KillAction, "error", err)
		return
	}

	w.chain.Append(audit.EventKillCompleted, audit.Detail{"container": name, "action": string(w.cfg.KillAction)})
	w.logger.Warn("container killed", "container", name, "action", w.cfg.KillAction, "reason", reason)

	w.mu.Lock()
	w.state[name] = &containerState{startedAt: time.Now()}
	w.mu.Unlock()
}

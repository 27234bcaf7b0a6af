package config

import (
	"time"

	"github.com/zulu-cp/core/pkg/executor"
	"github.com/zulu-cp/core/pkg/planner"
	"github.com/zulu-cp/core/pkg/watchdog"
)

// PlannerYAMLConfig configures the intent parser, task decomposer, and
// dependency-context extraction — the planner's tunables from zulu.yaml.
type PlannerYAMLConfig struct {
	AmbiguityThreshold   *float64         `yaml:"ambiguity_threshold,omitempty" validate:"omitempty,min=0,max=1"`
	MaxTasksPerRequest   int              `yaml:"max_tasks_per_request,omitempty" validate:"omitempty,min=1"`
	DefaultTimeoutSec    int              `yaml:"default_timeout_seconds,omitempty" validate:"omitempty,min=1"`
	MaxRetriesPerTask    int              `yaml:"max_retries_per_task,omitempty" validate:"omitempty,min=0"`
	SummarizerMode       string           `yaml:"summarizer_mode,omitempty" validate:"omitempty,oneof=one_pass hierarchical"`
	HierarchicalChunkLen int              `yaml:"hierarchical_chunk_len,omitempty" validate:"omitempty,min=1"`
	Models               *ModelYAMLConfig `yaml:"models,omitempty"`
}

// ModelYAMLConfig assigns a model name per planner role, mirroring
// planner.ModelConfig's per-role routing.
type ModelYAMLConfig struct {
	IntentModel     string `yaml:"intent_model,omitempty"`
	PlanningModel   string `yaml:"planning_model,omitempty"`
	ExtractionModel string `yaml:"extraction_model,omitempty"`
}

// ExecutorYAMLConfig configures the task-dispatch backend shared by every
// executor implementation (subprocess, sandbox, gateway).
type ExecutorYAMLConfig struct {
	Backend                 string `yaml:"backend,omitempty" validate:"omitempty,oneof=subprocess sandbox gateway"`
	MaxRetries              int    `yaml:"max_retries,omitempty" validate:"omitempty,min=0"`
	RetryBackoffSeconds     int    `yaml:"retry_backoff_seconds,omitempty" validate:"omitempty,min=0"`
	ConnectionTimeoutSec    int    `yaml:"connection_timeout_seconds,omitempty" validate:"omitempty,min=1"`
	CredentialMaxAgeSeconds int    `yaml:"credential_max_age_seconds,omitempty" validate:"omitempty,min=1"`
	AuditRingSize           int    `yaml:"audit_ring_size,omitempty" validate:"omitempty,min=1"`
}

// WatchdogYAMLConfig configures the container watchdog's polling loop and
// default resource ceilings.
type WatchdogYAMLConfig struct {
	Containers             []string `yaml:"containers,omitempty"`
	DefaultMaxRuntimeSec   int      `yaml:"default_max_runtime_seconds,omitempty" validate:"omitempty,min=1"`
	DefaultMaxCPUPct       float64  `yaml:"default_max_cpu_pct,omitempty" validate:"omitempty,min=0"`
	DefaultMaxMemoryMB     float64  `yaml:"default_max_memory_mb,omitempty" validate:"omitempty,min=0"`
	PollIntervalSeconds    int      `yaml:"poll_interval_seconds,omitempty" validate:"omitempty,min=1"`
	PolicyReloadSeconds    int      `yaml:"policy_reload_seconds,omitempty" validate:"omitempty,min=1"`
	HighCPUThresholdChecks int      `yaml:"high_cpu_threshold_checks,omitempty" validate:"omitempty,min=1"`
	KillAction             string   `yaml:"kill_action,omitempty" validate:"omitempty,oneof=restart stop"`
}

// StoreYAMLConfig configures the run-history store's on-disk location and
// in-memory cache size.
type StoreYAMLConfig struct {
	LogPath   string `yaml:"log_path,omitempty"`
	MaxCached int    `yaml:"max_cached,omitempty" validate:"omitempty,min=1"`
}

// ToPlannerConfig resolves a planner.Config from YAML overrides, starting
// from planner.DefaultConfig() and applying only the fields the operator
// actually set.
func (p *PlannerYAMLConfig) ToPlannerConfig() planner.Config {
	cfg := planner.DefaultConfig()
	if p == nil {
		return cfg
	}
	if p.AmbiguityThreshold != nil {
		cfg.AmbiguityThreshold = *p.AmbiguityThreshold
	}
	if p.MaxTasksPerRequest > 0 {
		cfg.MaxTasksPerRequest = p.MaxTasksPerRequest
	}
	if p.DefaultTimeoutSec > 0 {
		cfg.DefaultTimeoutSec = p.DefaultTimeoutSec
	}
	if p.MaxRetriesPerTask > 0 {
		cfg.MaxRetriesPerTask = p.MaxRetriesPerTask
	}
	if p.SummarizerMode == "hierarchical" {
		cfg.SummarizerMode = planner.SummarizerHierarchical
	}
	if p.HierarchicalChunkLen > 0 {
		cfg.HierarchicalChunkLen = p.HierarchicalChunkLen
	}
	return cfg
}

// ToModelConfig resolves a planner.ModelConfig from YAML overrides,
// starting from planner.DefaultModelConfig().
func (p *PlannerYAMLConfig) ToModelConfig() planner.ModelConfig {
	cfg := planner.DefaultModelConfig()
	if p == nil || p.Models == nil {
		return cfg
	}
	if p.Models.IntentModel != "" {
		cfg.IntentModel = p.Models.IntentModel
	}
	if p.Models.PlanningModel != "" {
		cfg.PlanningModel = p.Models.PlanningModel
	}
	if p.Models.ExtractionModel != "" {
		cfg.ExtractionModel = p.Models.ExtractionModel
	}
	return cfg
}

// ToExecutorConfig resolves an executor.Config from YAML overrides,
// starting from executor.DefaultConfig().
func (e *ExecutorYAMLConfig) ToExecutorConfig() executor.Config {
	cfg := executor.DefaultConfig()
	if e == nil {
		return cfg
	}
	if e.MaxRetries > 0 {
		cfg.MaxRetries = e.MaxRetries
	}
	if e.RetryBackoffSeconds > 0 {
		cfg.RetryBackoffBase = time.Duration(e.RetryBackoffSeconds) * time.Second
	}
	if e.ConnectionTimeoutSec > 0 {
		cfg.ConnectionTimeout = time.Duration(e.ConnectionTimeoutSec) * time.Second
	}
	if e.CredentialMaxAgeSeconds > 0 {
		cfg.CredentialMaxAge = time.Duration(e.CredentialMaxAgeSeconds) * time.Second
	}
	if e.AuditRingSize > 0 {
		cfg.AuditRingSize = e.AuditRingSize
	}
	return cfg
}

// ToWatchdogConfig resolves a watchdog.Config from YAML overrides, starting
// from watchdog.DefaultConfig().
func (w *WatchdogYAMLConfig) ToWatchdogConfig() watchdog.Config {
	cfg := watchdog.DefaultConfig()
	if w == nil {
		return cfg
	}
	cfg.Containers = w.Containers
	if w.DefaultMaxRuntimeSec > 0 {
		cfg.DefaultMaxRuntimeSec = w.DefaultMaxRuntimeSec
	}
	if w.DefaultMaxCPUPct > 0 {
		cfg.DefaultMaxCPUPct = w.DefaultMaxCPUPct
	}
	if w.DefaultMaxMemoryMB > 0 {
		cfg.DefaultMaxMemoryMB = w.DefaultMaxMemoryMB
	}
	if w.PollIntervalSeconds > 0 {
		cfg.PollInterval = time.Duration(w.PollIntervalSeconds) * time.Second
	}
	if w.PolicyReloadSeconds > 0 {
		cfg.PolicyReloadInterval = time.Duration(w.PolicyReloadSeconds) * time.Second
	}
	if w.HighCPUThresholdChecks > 0 {
		cfg.HighCPUThresholdChecks = w.HighCPUThresholdChecks
	}
	if w.KillAction == "stop" {
		cfg.KillAction = watchdog.KillStop
	}
	return cfg
}

// defaultRunHistoryLogPath is used when StoreYAMLConfig.LogPath is unset.
const defaultRunHistoryLogPath = "data/runs.jsonl"

// ResolveLogPath returns the configured run-history log path, or the
// default if unset.
func (s *StoreYAMLConfig) ResolveLogPath() string {
	if s != nil && s.LogPath != "" {
		return s.LogPath
	}
	return defaultRunHistoryLogPath
}

// ResolveMaxCached returns the configured in-memory cache size, or 0 (the
// store's own default) if unset.
func (s *StoreYAMLConfig) ResolveMaxCached() int {
	if s == nil {
		return 0
	}
	return s.MaxCached
}

// Package policy implements the hot-reloadable, per-executor rule engine
// the watchdog consults on every tick.
package policy

// Severity is how seriously a violation should be treated.
type Severity string

const (
	SeverityKill Severity = "kill"
	SeverityWarn Severity = "warn"
)

// Rule is one executor's rule subdocument.
type Rule struct {
	MaxRuntimeSec      int      `yaml:"max_runtime_sec" validate:"gte=0"`
	MaxCPUPct          float64  `yaml:"max_cpu_pct" validate:"gte=0"`
	MaxMemoryMB        float64  `yaml:"max_memory_mb" validate:"gte=0"`
	RequireAttestation bool     `yaml:"require_attestation"`
	AllowFilesystem    []string `yaml:"allow_filesystem"`
	DenyOutbound       bool     `yaml:"deny_outbound"`
}

// Global holds the document's top-level enforcement flags.
type Global struct {
	MaxConcurrentTasks   int  `yaml:"max_concurrent_tasks"`
	KillOnViolation      bool `yaml:"kill_on_violation"`
	KillUnknownWorkers   bool `yaml:"kill_unknown_workers"`
	AuditAllChecks       bool `yaml:"audit_all_checks"`
	PolicyReloadInterval int  `yaml:"policy_reload_interval"`
}

// Document is the whole policy YAML document.
type Document struct {
	Version string          `yaml:"version"`
	Workers map[string]Rule `yaml:"workers"`
	Global  Global          `yaml:"global"`
}

// Stats is one sampled snapshot of a container's resource usage, as fed to
// Check by the watchdog.
type Stats struct {
	CPUPercent      float64
	MemoryMB        float64
	NetworkTxBytes  int64
}

// Violation is one rule failure detected by Check.
type Violation struct {
	Container string
	Rule      string
	Reason    string
	Severity  Severity
	Details   map[string]any
}

// DefaultDocument mirrors the source's DEFAULT_POLICY, used when no policy
// file is present at startup.
func DefaultDocument() Document {
	return Document{
		Version: "1.0",
		Workers: map[string]Rule{
			"clawd-runner": {
				MaxRuntimeSec:      300,
				MaxCPUPct:          90,
				MaxMemoryMB:        1024,
				RequireAttestation: true,
				AllowFilesystem:    []string{"/tmp", "/app/workspace"},
				DenyOutbound:       false,
			},
			"openclaw-sandbox": {
				MaxRuntimeSec:      300,
				MaxCPUPct:          90,
				MaxMemoryMB:        2048,
				RequireAttestation: true,
				AllowFilesystem:    []string{"/tmp", "/app/workspace", "/app/output"},
				DenyOutbound:       false,
			},
		},
		Global: Global{
			MaxConcurrentTasks:   5,
			KillOnViolation:      true,
			KillUnknownWorkers:   false,
			AuditAllChecks:       false,
			PolicyReloadInterval: 60,
		},
	}
}

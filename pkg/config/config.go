package config

import (
	"github.com/zulu-cp/core/pkg/executor"
	"github.com/zulu-cp/core/pkg/planner"
	"github.com/zulu-cp/core/pkg/watchdog"
)

// Config is the resolved control-plane configuration returned by
// Initialize(): the planner, executor, and watchdog tunables plus the
// run-history store's on-disk settings, each resolved from zulu.yaml
// overrides applied on top of its owning package's own defaults.
type Config struct {
	configDir string // Configuration directory path (for reference)

	// Task-planner control plane settings, resolved from the planner/
	// executor/watchdog/store YAML sections plus their package defaults.
	Planner         planner.Config
	PlannerModels   planner.ModelConfig
	Executor        executor.Config
	ExecutorBackend string
	Watchdog        watchdog.Config
	StoreLogPath    string
	StoreMaxCached  int
}

// Initialize is defined in loader.go

// ConfigDir returns the configuration directory path
func (c *Config) ConfigDir() string {
	return c.configDir
}

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAllAcceptsNilSections(t *testing.T) {
	v := NewValidator()
	err := v.ValidateAll(&ZuluYAMLConfig{})
	require.NoError(t, err)
}

func TestValidateAllAcceptsValidSections(t *testing.T) {
	threshold := 0.5
	v := NewValidator()
	err := v.ValidateAll(&ZuluYAMLConfig{
		Planner:  &PlannerYAMLConfig{AmbiguityThreshold: &threshold, SummarizerMode: "hierarchical"},
		Executor: &ExecutorYAMLConfig{Backend: "sandbox", MaxRetries: 3},
		Watchdog: &WatchdogYAMLConfig{KillAction: "stop", DefaultMaxRuntimeSec: 60},
		Store:    &StoreYAMLConfig{MaxCached: 100},
	})
	require.NoError(t, err)
}

func TestValidateAllRejectsOutOfRangePlannerThreshold(t *testing.T) {
	threshold := 5.0
	v := NewValidator()
	err := v.ValidateAll(&ZuluYAMLConfig{Planner: &PlannerYAMLConfig{AmbiguityThreshold: &threshold}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "planner section")
}

func TestValidateAllRejectsUnknownExecutorBackend(t *testing.T) {
	v := NewValidator()
	err := v.ValidateAll(&ZuluYAMLConfig{Executor: &ExecutorYAMLConfig{Backend: "bogus"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "executor section")
}

func TestValidateAllRejectsUnknownWatchdogKillAction(t *testing.T) {
	v := NewValidator()
	err := v.ValidateAll(&ZuluYAMLConfig{Watchdog: &WatchdogYAMLConfig{KillAction: "terminate"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "watchdog section")
}

func TestValidateAllRejectsNegativeStoreMaxCached(t *testing.T) {
	v := NewValidator()
	err := v.ValidateAll(&ZuluYAMLConfig{Store: &StoreYAMLConfig{MaxCached: -1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store section")
}

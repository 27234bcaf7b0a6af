package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/zulu-cp/core/pkg/planner"
	"github.com/zulu-cp/core/pkg/watchdog"
)

func TestPlannerYAMLConfig_NilUsesDefaults(t *testing.T) {
	var p *PlannerYAMLConfig
	assert.Equal(t, planner.DefaultConfig(), p.ToPlannerConfig())
	assert.Equal(t, planner.DefaultModelConfig(), p.ToModelConfig())
}

func TestPlannerYAMLConfig_OverridesOnlySetFields(t *testing.T) {
	threshold := 0.5
	p := &PlannerYAMLConfig{
		AmbiguityThreshold: &threshold,
		MaxTasksPerRequest: 3,
		SummarizerMode:     "hierarchical",
		Models:             &ModelYAMLConfig{IntentModel: "custom-intent-model"},
	}

	cfg := p.ToPlannerConfig()
	assert.Equal(t, 0.5, cfg.AmbiguityThreshold)
	assert.Equal(t, 3, cfg.MaxTasksPerRequest)
	assert.Equal(t, planner.SummarizerHierarchical, cfg.SummarizerMode)
	assert.Equal(t, planner.DefaultConfig().DefaultTimeoutSec, cfg.DefaultTimeoutSec)

	models := p.ToModelConfig()
	assert.Equal(t, "custom-intent-model", models.IntentModel)
	assert.Equal(t, planner.DefaultModelConfig().PlanningModel, models.PlanningModel)
}

func TestExecutorYAMLConfig_OverridesOnlySetFields(t *testing.T) {
	e := &ExecutorYAMLConfig{MaxRetries: 5, ConnectionTimeoutSec: 30}
	cfg := e.ToExecutorConfig()
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, 30*time.Second, cfg.ConnectionTimeout)
	assert.Equal(t, 1000, cfg.AuditRingSize) // unset field keeps DefaultConfig()'s value
}

func TestWatchdogYAMLConfig_OverridesOnlySetFields(t *testing.T) {
	w := &WatchdogYAMLConfig{KillAction: "stop", Containers: []string{"c1"}}
	cfg := w.ToWatchdogConfig()
	assert.Equal(t, watchdog.KillStop, cfg.KillAction)
	assert.Equal(t, []string{"c1"}, cfg.Containers)
	assert.Equal(t, watchdog.DefaultConfig().PollInterval, cfg.PollInterval)
}

func TestStoreYAMLConfig_ResolvesDefaults(t *testing.T) {
	var s *StoreYAMLConfig
	assert.Equal(t, defaultRunHistoryLogPath, s.ResolveLogPath())
	assert.Equal(t, 0, s.ResolveMaxCached())

	s = &StoreYAMLConfig{LogPath: "/tmp/runs.jsonl", MaxCached: 500}
	assert.Equal(t, "/tmp/runs.jsonl", s.ResolveLogPath())
	assert.Equal(t, 500, s.ResolveMaxCached())
}

package watchdog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zulu-cp/core/pkg/audit"
	"github.com/zulu-cp/core/pkg/policy"
)

func newTestChain(t *testing.T) *audit.Chain {
	t.Helper()
	chain, err := audit.Open(filepath.Join(t.TempDir(), "audit.jsonl"))
	require.NoError(t, err)
	return chain
}

func TestCheckContainer_NotFoundAudited(t *testing.T) {
	driver := newFakeDriver()
	driver.notFound["clawd-runner"] = true
	chain := newTestChain(t)
	engine := policy.New("")

	w := New(DefaultConfig(), driver, engine, chain, nil)
	w.checkContainer(context.Background(), "clawd-runner")

	assert.Equal(t, 0, driver.restarts["clawd-runner"])
}

func TestCheckContainer_MemoryOverCeilingKillsImmediately(t *testing.T) {
	driver := newFakeDriver()
	driver.running["clawd-runner"] = true
	driver.stats["clawd-runner"] = []Snapshot{{MemoryMB: 5000, CPUPercent: 10}}
	chain := newTestChain(t)
	engine := policy.New("") // default document's clawd-runner ceiling is 1024MB

	cfg := DefaultConfig()
	cfg.Containers = []string{"clawd-runner"}
	cfg.KillAction = KillRestart
	w := New(cfg, driver, engine, chain, nil)
	w.MarkAttested("clawd-runner", true)

	w.checkContainer(context.Background(), "clawd-runner")

	assert.Equal(t, 1, driver.restarts["clawd-runner"])
}

func TestCheckContainer_SustainedCPURequiresThreeSamples(t *testing.T) {
	driver := newFakeDriver()
	driver.running["openclaw-sandbox"] = true
	driver.stats["openclaw-sandbox"] = []Snapshot{
		{MemoryMB: 10, CPUPercent: 99},
		{MemoryMB: 10, CPUPercent: 99},
		{MemoryMB: 10, CPUPercent: 99},
	}
	chain := newTestChain(t)
	engine := policy.New("")

	cfg := DefaultConfig()
	cfg.Containers = []string{"openclaw-sandbox"}
	cfg.HighCPUThresholdChecks = 3
	w := New(cfg, driver, engine, chain, nil)
	w.MarkAttested("openclaw-sandbox", true)

	w.checkContainer(context.Background(), "openclaw-sandbox")
	assert.Equal(t, 0, driver.restarts["openclaw-sandbox"])
	w.checkContainer(context.Background(), "openclaw-sandbox")
	assert.Equal(t, 0, driver.restarts["openclaw-sandbox"])
	w.checkContainer(context.Background(), "openclaw-sandbox")
	assert.Equal(t, 1, driver.restarts["openclaw-sandbox"])
}

func TestCheckContainer_CompliantSampleResetsStreak(t *testing.T) {
	driver := newFakeDriver()
	driver.running["openclaw-sandbox"] = true
	driver.stats["openclaw-sandbox"] = []Snapshot{
		{MemoryMB: 10, CPUPercent: 99},
		{MemoryMB: 10, CPUPercent: 10},
		{MemoryMB: 10, CPUPercent: 99},
		{MemoryMB: 10, CPUPercent: 99},
	}
	chain := newTestChain(t)
	engine := policy.New("")

	cfg := DefaultConfig()
	cfg.Containers = []string{"openclaw-sandbox"}
	cfg.HighCPUThresholdChecks = 3
	w := New(cfg, driver, engine, chain, nil)
	w.MarkAttested("openclaw-sandbox", true)

	for i := 0; i < 4; i++ {
		w.checkContainer(context.Background(), "openclaw-sandbox")
	}
	assert.Equal(t, 0, driver.restarts["openclaw-sandbox"])
}

func TestCheckContainer_KillFailureDoesNotStopLoop(t *testing.T) {
	driver := newFakeDriver()
	driver.running["clawd-runner"] = true
	driver.failKills = map[string]bool{"clawd-runner": true}
	driver.stats["clawd-runner"] = []Snapshot{{MemoryMB: 5000, CPUPercent: 10}}
	chain := newTestChain(t)
	engine := policy.New("")

	cfg := DefaultConfig()
	cfg.Containers = []string{"clawd-runner"}
	w := New(cfg, driver, engine, chain, nil)

	assert.NotPanics(t, func() {
		w.checkContainer(context.Background(), "clawd-runner")
	})
	assert.Equal(t, 1, driver.restarts["clawd-runner"])
}

func TestCheckContainer_MissingAttestationIsKillSeverity(t *testing.T) {
	driver := newFakeDriver()
	driver.running["clawd-runner"] = true
	driver.stats["clawd-runner"] = []Snapshot{{MemoryMB: 10, CPUPercent: 10}}
	chain := newTestChain(t)
	engine := policy.New("") // default document requires attestation for clawd-runner

	cfg := DefaultConfig()
	cfg.Containers = []string{"clawd-runner"}
	w := New(cfg, driver, engine, chain, nil)
	w.MarkAttested("clawd-runner", false)

	w.checkContainer(context.Background(), "clawd-runner")
	assert.Equal(t, 1, driver.restarts["clawd-runner"])
}

func TestCheckContainer_SuccessfulAttestationAvoidsKill(t *testing.T) {
	driver := newFakeDriver()
	driver.running["clawd-runner"] = true
	driver.stats["clawd-runner"] = []Snapshot{{MemoryMB: 10, CPUPercent: 10}}
	chain := newTestChain(t)
	engine := policy.New("")

	cfg := DefaultConfig()
	cfg.Containers = []string{"clawd-runner"}
	w := New(cfg, driver, engine, chain, nil)
	w.MarkAttested("clawd-runner", true)

	w.checkContainer(context.Background(), "clawd-runner")
	assert.Equal(t, 0, driver.restarts["clawd-runner"])
}

func TestStartStop(t *testing.T) {
	driver := newFakeDriver()
	chain := newTestChain(t)
	engine := policy.New("")

	cfg := DefaultConfig()
	cfg.Containers = []string{"clawd-runner"}
	cfg.PollInterval = 10 * time.Millisecond
	w := New(cfg, driver, engine, chain, nil)

	w.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	w.Stop()
}

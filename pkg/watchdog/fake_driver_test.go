package watchdog

import (
	"context"
	"errors"
	"sync"
	"time"
)

var errKillFailed = errors.New("simulated kill failure")

// fakeDriver is an in-memory ContainerDriver for tests: no real Docker
// daemon involved, every call records its invocation count.
type fakeDriver struct {
	mu sync.Mutex

	running   map[string]bool
	notFound  map[string]bool
	stats     map[string][]Snapshot // successive samples, consumed in order
	statsIdx  map[string]int
	restarts  map[string]int
	stops     map[string]int
	failKills map[string]bool
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		running:  make(map[string]bool),
		notFound: make(map[string]bool),
		stats:    make(map[string][]Snapshot),
		statsIdx: make(map[string]int),
		restarts: make(map[string]int),
		stops:    make(map[string]int),
	}
}

func (f *fakeDriver) Inspect(_ context.Context, name string) (bool, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.notFound[name] {
		return false, false, nil
	}
	return f.running[name], true, nil
}

func (f *fakeDriver) Stats(_ context.Context, name string) (Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	samples := f.stats[name]
	if len(samples) == 0 {
		return Snapshot{Running: true}, nil
	}
	idx := f.statsIdx[name]
	if idx >= len(samples) {
		idx = len(samples) - 1
	}
	f.statsIdx[name] = idx + 1
	return samples[idx], nil
}

func (f *fakeDriver) Restart(_ context.Context, name string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restarts[name]++
	if f.failKills[name] {
		return errKillFailed
	}
	return nil
}

func (f *fakeDriver) Stop(_ context.Context, name string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops[name]++
	if f.failKills[name] {
		return errKillFailed
	}
	return nil
}

package watchdog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

// Snapshot is one sampled reading of a container's resource usage plus
// its running state.
type Snapshot struct {
	Running     bool
	MemoryMB    float64
	CPUPercent  float64
	NetTxBytes  int64
}

// ContainerDriver is the narrow surface the watchdog needs from a
// container runtime: inspect, stats, restart, stop. Abstracted behind an
// interface so the poll loop can be tested without a real Docker daemon,
// and so a future runtime swap (podman, containerd) only touches this
// file.
type ContainerDriver interface {
	Inspect(ctx context.Context, name string) (running bool, found bool, err error)
	Stats(ctx context.Context, name string) (Snapshot, error)
	Restart(ctx context.Context, name string, grace time.Duration) error
	Stop(ctx context.Context, name string, grace time.Duration) error
}

// DockerDriver implements ContainerDriver against a real Docker daemon
// over the (typically read-mostly) Unix socket, using two successive
// stats snapshots to derive a CPU-percent delta exactly as the reference
// monitor does.
type DockerDriver struct {
	cli *client.Client
}

// NewDockerDriver connects using the standard DOCKER_HOST/DOCKER_* env
// vars, matching `docker.from_env()` in the reference monitor.
func NewDockerDriver() (*DockerDriver, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("watchdog: connect docker daemon: %w", err)
	}
	return &DockerDriver{cli: cli}, nil
}

func (d *DockerDriver) Inspect(ctx context.Context, name string) (running bool, found bool, err error) {
	info, err := d.cli.ContainerInspect(ctx, name)
	if err != nil {
		if client.IsErrNotFound(err) {
			return false, false, nil
		}
		return false, false, err
	}
	if info.State == nil {
		return false, true, nil
	}
	return info.State.Running, true, nil
}

// Stats takes two back-to-back stats snapshots (as the Docker stats API
// itself exposes both the current and previous CPU counters in one
// response) and derives CPU percent from the jiffy delta over the core
// count, exactly as the reference monitor's get_container_stats does.
func (d *DockerDriver) Stats(ctx context.Context, name string) (Snapshot, error) {
	reader, err := d.cli.ContainerStats(ctx, name, false)
	if err != nil {
		return Snapshot{}, err
	}
	defer reader.Body.Close()

	var stats container.StatsResponse
	if err := json.NewDecoder(reader.Body).Decode(&stats); err != nil {
		return Snapshot{}, fmt.Errorf("watchdog: decode stats for %s: %w", name, err)
	}

	memMB := float64(stats.MemoryStats.Usage) / (1024 * 1024)

	cpuDelta := float64(stats.CPUStats.CPUUsage.TotalUsage) - float64(stats.PreCPUStats.CPUUsage.TotalUsage)
	systemDelta := float64(stats.CPUStats.SystemUsage) - float64(stats.PreCPUStats.SystemUsage)
	numCPUs := stats.CPUStats.OnlineCPUs
	if numCPUs == 0 {
		numCPUs = uint32(len(stats.CPUStats.CPUUsage.PercpuUsage))
	}
	if numCPUs == 0 {
		numCPUs = 1
	}

	var cpuPercent float64
	if systemDelta > 0 {
		cpuPercent = (cpuDelta / systemDelta) * float64(numCPUs) * 100.0
	}

	var netTx int64
	for _, n := range stats.Networks {
		netTx += int64(n.TxBytes)
	}

	return Snapshot{Running: true, MemoryMB: memMB, CPUPercent: cpuPercent, NetTxBytes: netTx}, nil
}

func (d *DockerDriver) Restart(ctx context.Context, name string, grace time.Duration) error {
	secs := int(grace.Seconds())
	return d.cli.ContainerRestart(ctx, name, container.StopOptions{Timeout: &secs})
}

func (d *DockerDriver) Stop(ctx context.Context, name string, grace time.Duration) error {
	secs := int(grace.Seconds())
	return d.cli.ContainerStop(ctx, name, container.StopOptions{Timeout: &secs})
}

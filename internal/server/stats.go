package server

import (
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// ProcessStats is a resource usage sample of the game server process.
type ProcessStats struct {
	PID        int           `json:"pid"`
	CPUPercent float64       `json:"cpu_percent"`
	MemoryMB   float64       `json:"memory_mb"`
	NumThreads int32         `json:"num_threads"`
	Uptime     time.Duration `json:"uptime"`
}

// CollectStats samples the process with the given pid.
func CollectStats(pid int) (ProcessStats, error) {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return ProcessStats{}, fmt.Errorf("process %d not available: %w", pid, err)
	}

	stats := ProcessStats{PID: pid}

	cpu, err := proc.CPUPercent()
	if err != nil {
		return ProcessStats{}, fmt.Errorf("failed to read cpu usage: %w", err)
	}
	stats.CPUPercent = cpu

	memInfo, err := proc.MemoryInfo()
	if err != nil {
		return ProcessStats{}, fmt.Errorf("failed to read memory usage: %w", err)
	}
	stats.MemoryMB = float64(memInfo.RSS) / (1024 * 1024)

	if threads, err := proc.NumThreads(); err == nil {
		stats.NumThreads = threads
	}

	return stats, nil
}

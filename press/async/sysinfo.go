package async

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/mem"
)

// SystemMetrics tracks resource usage for worker pool monitoring
type SystemMetrics struct {
	WorkersTotal  int     `json:"workers_total"`
	MemoryUsedGB  float64 `json:"memory_used_gb"`
	MemoryTotalGB float64 `json:"memory_total_gb"`
	MemoryPercent float64 `json:"memory_percent"`
}

// memoryPerWorkerGB is the working-set assumption for one concurrent report
// render (headless renderer plus data buffers).
const memoryPerWorkerGB = 1.0

// systemMemoryBufferGB is reserved for the OS and co-resident processes.
const systemMemoryBufferGB = 2.0

// safeWorkerCount recommends a worker count for the available memory.
func safeWorkerCount(availableGB float64) int {
	if availableGB < systemMemoryBufferGB {
		return 1 // Always allow at least 1 worker
	}

	recommended := int((availableGB - systemMemoryBufferGB) / memoryPerWorkerGB)
	if recommended < 1 {
		return 1
	}
	if recommended > 32 {
		return 32
	}
	return recommended
}

// checkMemoryPressure validates a worker count against available memory.
// Returns a warning message if the count may be too high, empty string if OK
// or if memory stats are unavailable.
func checkMemoryPressure(workers int) string {
	v, err := mem.VirtualMemory()
	if err != nil {
		return "" // Can't check, assume OK
	}

	availableGB := float64(v.Available) / 1024 / 1024 / 1024
	totalGB := float64(v.Total) / 1024 / 1024 / 1024
	recommended := safeWorkerCount(availableGB)

	if workers > recommended {
		return fmt.Sprintf(
			"Worker count (%d) exceeds recommended (%d) for available memory (%.1f/%.1fGB)",
			workers, recommended, totalGB-availableGB, totalGB)
	}

	return ""
}

// GetSystemMetrics returns current memory usage alongside the pool's
// configured worker count.
func (wp *WorkerPool) GetSystemMetrics() SystemMetrics {
	metrics := SystemMetrics{WorkersTotal: wp.cfg.NumWorkers}

	v, err := mem.VirtualMemory()
	if err != nil || v.Total == 0 {
		return metrics
	}

	metrics.MemoryTotalGB = float64(v.Total) / 1024 / 1024 / 1024
	metrics.MemoryUsedGB = float64(v.Total-v.Available) / 1024 / 1024 / 1024
	metrics.MemoryPercent = metrics.MemoryUsedGB / metrics.MemoryTotalGB * 100
	return metrics
}

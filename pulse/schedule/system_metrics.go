package schedule

import (
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/teranos/cadence/errors"
)

// SystemMetrics tracks resource usage for worker slot monitoring
type SystemMetrics struct {
	WorkersActive int     `json:"workers_active" yaml:"workers_active"`   // Executions currently holding a worker slot
	WorkersTotal  int     `json:"workers_total" yaml:"workers_total"`     // Configured worker slots
	MemoryUsedGB  float64 `json:"memory_used_gb" yaml:"memory_used_gb"`   // Current memory usage in GB
	MemoryTotalGB float64 `json:"memory_total_gb" yaml:"memory_total_gb"` // Total system memory in GB
	MemoryPercent float64 `json:"memory_percent" yaml:"memory_percent"`   // Memory utilization percentage
}

// getMemoryStats returns total and available memory in bytes
func getMemoryStats() (total uint64, available uint64, err error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return 0, 0, errors.Wrap(err, "failed to get memory stats")
	}
	return v.Total, v.Available, nil
}

// ReadSystemMetrics samples host memory; worker counts are left zero.
// Memory fields stay zero when the platform cannot report them.
func ReadSystemMetrics() SystemMetrics {
	var m SystemMetrics

	total, available, err := getMemoryStats()
	if err == nil && total > 0 {
		m.MemoryTotalGB = float64(total) / 1024 / 1024 / 1024
		m.MemoryUsedGB = float64(total-available) / 1024 / 1024 / 1024
		m.MemoryPercent = (m.MemoryUsedGB / m.MemoryTotalGB) * 100
	}
	return m
}

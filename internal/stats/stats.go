// ABOUTME: Process statistics for the TUI debug panel
// ABOUTME: Samples Go runtime counters and OS-level process usage
package stats

import (
	"fmt"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/process"
)

// Snapshot is one sample of process health.
type Snapshot struct {
	Goroutines int
	HeapAlloc  uint64
	HeapSys    uint64
	RSS        uint64
	CPUPercent float64
}

// Collector samples the current process. Not safe for concurrent use;
// call it from a single stats loop.
type Collector struct {
	proc *process.Process
}

func NewCollector() (*Collector, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("open process handle: %w", err)
	}
	return &Collector{proc: proc}, nil
}

// Collect takes one snapshot. OS-level counters that fail to read are
// left at zero rather than failing the whole sample.
func (c *Collector) Collect() Snapshot {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	snap := Snapshot{
		Goroutines: runtime.NumGoroutine(),
		HeapAlloc:  m.Alloc,
		HeapSys:    m.Sys,
	}

	if mem, err := c.proc.MemoryInfo(); err == nil && mem != nil {
		snap.RSS = mem.RSS
	}
	if cpu, err := c.proc.CPUPercent(); err == nil {
		snap.CPUPercent = cpu
	}

	return snap
}

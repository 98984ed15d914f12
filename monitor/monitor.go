// Package monitor measures the proportional memory of a process tree.
//
// Browser engines fork renderer, GPU and network processes that share large
// mappings, so the footprint of a driver is the sum of the proportional set
// size (PSS) of its root process and every descendant.
package monitor

import (
	"log/slog"

	"github.com/prometheus/procfs"
)

// Monitor reads the process table through procfs. It holds no state besides
// the filesystem handle and is safe for concurrent use.
type Monitor struct {
	fs     procfs.FS
	err    error
	logger *slog.Logger
}

// New returns a monitor over /proc.
func New() *Monitor {
	return NewWithFS(procfs.DefaultMountPoint)
}

// NewWithFS returns a monitor over a proc filesystem mounted at mountPoint.
// An unusable mount point yields a monitor that always reports 0.
func NewWithFS(mountPoint string) *Monitor {
	fs, err := procfs.NewFS(mountPoint)
	return &Monitor{fs: fs, err: err, logger: slog.Default()}
}

// WithLogger sets the logger used for debug output.
func (m *Monitor) WithLogger(logger *slog.Logger) *Monitor {
	if logger != nil {
		m.logger = logger
	}
	return m
}

// MemoryUsageKB returns the summed PSS, in kilobytes, of pid and all of its
// descendants. A missing process, an unsupported platform or a process that
// exits during the scan contributes 0.
func (m *Monitor) MemoryUsageKB(pid int) int64 {
	if pid <= 0 || m.err != nil {
		return 0
	}
	var total uint64
	for _, p := range append([]int{pid}, m.Descendants(pid)...) {
		total += m.pss(p)
	}
	return int64(total / 1024)
}

func (m *Monitor) pss(pid int) uint64 {
	proc, err := m.fs.Proc(pid)
	if err != nil {
		return 0
	}
	rollup, err := proc.ProcSMapsRollup()
	if err != nil {
		m.logger.Debug("monitor: pss unavailable", slog.Int("pid", pid), slog.Any("error", err))
		return 0
	}
	return rollup.Pss
}

// Descendants returns every transitive child of pid, excluding pid itself.
func (m *Monitor) Descendants(pid int) []int {
	if m.err != nil {
		return nil
	}
	procs, err := m.fs.AllProcs()
	if err != nil {
		return nil
	}

	children := make(map[int][]int, len(procs))
	for _, p := range procs {
		stat, err := p.Stat()
		if err != nil {
			continue
		}
		children[stat.PPID] = append(children[stat.PPID], p.PID)
	}

	var out []int
	seen := map[int]bool{pid: true}
	queue := []int{pid}
	for len(queue) > 0 {
		parent := queue[0]
		queue = queue[1:]
		for _, child := range children[parent] {
			if seen[child] {
				continue
			}
			seen[child] = true
			out = append(out, child)
			queue = append(queue, child)
		}
	}
	return out
}

package monitor

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
)

// writeProc creates a fake /proc/<pid> entry. A negative pssKB omits the
// smaps files, as happens when a process exits mid-scan.
func writeProc(t *testing.T, root string, pid, ppid int, pssKB int) {
	t.Helper()
	dir := filepath.Join(root, fmt.Sprint(pid))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	stat := fmt.Sprintf("%d (proc-%d) S %d %s\n", pid, pid, ppid, strings.TrimSpace(strings.Repeat("0 ", 38)))
	if err := os.WriteFile(filepath.Join(dir, "stat"), []byte(stat), 0o644); err != nil {
		t.Fatalf("write stat: %v", err)
	}
	if pssKB < 0 {
		return
	}
	rollup := fmt.Sprintf("00400000-7fff0000 ---p 00000000 00:00 0 [rollup]\nRss:  %d kB\nPss:  %d kB\n", pssKB*2, pssKB)
	if err := os.WriteFile(filepath.Join(dir, "smaps_rollup"), []byte(rollup), 0o644); err != nil {
		t.Fatalf("write smaps_rollup: %v", err)
	}
}

func fixtureTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeProc(t, root, 1, 0, 10)
	writeProc(t, root, 100, 1, 1000)  // driver
	writeProc(t, root, 101, 100, 500) // browser
	writeProc(t, root, 102, 101, 250) // renderer
	writeProc(t, root, 103, 101, 125) // gpu
	writeProc(t, root, 104, 103, -1)  // exited during scan
	writeProc(t, root, 200, 1, 9999)  // unrelated
	return root
}

func TestDescendants(t *testing.T) {
	m := NewWithFS(fixtureTree(t))
	got := m.Descendants(100)
	sort.Ints(got)
	want := []int{101, 102, 103, 104}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("descendants = %v, want %v", got, want)
	}
	if leaf := m.Descendants(102); len(leaf) != 0 {
		t.Fatalf("leaf descendants = %v", leaf)
	}
}

func TestMemoryUsageKB(t *testing.T) {
	m := NewWithFS(fixtureTree(t))

	tests := []struct {
		name string
		pid  int
		want int64
	}{
		{name: "whole tree", pid: 100, want: 1000 + 500 + 250 + 125},
		{name: "subtree", pid: 101, want: 500 + 250 + 125},
		{name: "single", pid: 200, want: 9999},
		{name: "missing pid", pid: 4242, want: 0},
		{name: "zero pid", pid: 0, want: 0},
		{name: "exited process", pid: 104, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := m.MemoryUsageKB(tt.pid); got != tt.want {
				t.Fatalf("MemoryUsageKB(%d) = %d, want %d", tt.pid, got, tt.want)
			}
		})
	}
}

func TestUnusableMountReportsZero(t *testing.T) {
	m := NewWithFS(filepath.Join(t.TempDir(), "missing"))
	if got := m.MemoryUsageKB(1); got != 0 {
		t.Fatalf("MemoryUsageKB = %d, want 0", got)
	}
	if got := m.Descendants(1); got != nil {
		t.Fatalf("Descendants = %v, want nil", got)
	}
}

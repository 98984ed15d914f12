package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/aluiziolira/go-scrape-session/monitor"
)

func newMemoryCmd() *cobra.Command {
	var proc string
	cmd := &cobra.Command{
		Use:   "memory <pid>",
		Short: "Print the proportional memory of a process tree",
		Long: `memory sums the proportional set size of a process and all of its
descendants, the figure sessions compare against recycle.max_memory_kb.
It reports 0 on platforms without a proc filesystem.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := strconv.Atoi(args[0])
			if err != nil || pid <= 0 {
				return fmt.Errorf("invalid pid %q", args[0])
			}
			m := monitor.NewWithFS(proc)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "pid:          %d\n", pid)
			fmt.Fprintf(out, "descendants:  %v\n", m.Descendants(pid))
			fmt.Fprintf(out, "pss_kb:       %d\n", m.MemoryUsageKB(pid))
			return nil
		},
	}
	cmd.Flags().StringVar(&proc, "proc", "/proc", "Mount point of the proc filesystem")
	return cmd
}

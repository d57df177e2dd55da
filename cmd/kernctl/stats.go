package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/joshuapare/kernkit/internal/format"
	"github.com/joshuapare/kernkit/kernel"
	"github.com/joshuapare/kernkit/mem/buddy"
)

func init() {
	rootCmd.AddCommand(newStatsCmd())
}

func newStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show allocator statistics",
		Long: `The stats command boots the core and shows the free-block layout of
every region, the heap size classes and the CPU counters.

Example:
  kernctl stats
  kernctl stats --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats()
		},
	}
	return cmd
}

func runStats() error {
	return withKernel(func(k *kernel.Kernel) error {
		st := k.Stats()
		if jsonOut {
			return printJSON(st)
		}
		printStats(st)
		return nil
	})
}

func printStats(st kernel.Stats) {
	printInfo("\nKernel Statistics\n")
	printInfo("%s\n\n", strings.Repeat("═", 40))

	printInfo("Frames:\n")
	printInfo("  Usable: %d (%s)\n", st.Frames.Size, formatBytes(st.Frames.Size<<format.PageShift))
	printInfo("  Free: %d\n", st.Frames.Free)
	for i, r := range st.Frames.Regions {
		printInfo("  Region #%d (frames %d-%d):\n", i, r.Start, r.Start+r.Size)
		for level := range buddy.MaxLevel {
			if n := r.FreeBlocks[level]; n > 0 {
				printInfo("    Level %2d: %d block(s) of %d frames\n", level, n, 1<<level)
			}
		}
	}

	printInfo("\nHeap:\n")
	for _, c := range st.Heap {
		printInfo("  %4d bytes: %d/%d free (slab frame %d)\n", c.Size, c.Free, c.Capacity, c.Frame)
	}

	printInfo("\nCPU:\n")
	printInfo("  Switches: %d\n", st.CPU.Switches)
	printInfo("  Root loads: %d\n", st.CPU.RootLoads)
	printInfo("  Interrupts: %d delivered, %d deferred\n", st.CPU.Interrupts, st.CPU.Deferred)
	printInfo("  Dirty frames: %d\n", st.Dirty)
}

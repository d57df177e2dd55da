package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joshuapare/kernkit/internal/format"
	"github.com/joshuapare/kernkit/kernel"
)

var bootShowMap bool

func init() {
	cmd := newBootCmd()
	cmd.Flags().BoolVar(&bootShowMap, "show-map", false, "Print the memory map as YAML")
	rootCmd.AddCommand(cmd)
}

func newBootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "boot",
		Short: "Boot the core and print a summary",
		Long: `The boot command brings up physical memory, the frame allocator, the
kernel page table, the heap and the boot task, prints what it built and shuts
down again.

Example:
  kernctl boot
  kernctl boot --memory 33554432 --show-map
  kernctl boot --memmap machine.yaml --image mem.img`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBoot()
		},
	}
	return cmd
}

// BootSummary is the JSON form of the boot report.
type BootSummary struct {
	Memory    uint64                `json:"memory_bytes"`
	Offset    uint64                `json:"direct_map_offset"`
	Root      uint64                `json:"page_table_root"`
	MemoryMap []kernel.MemoryRegion `json:"memory_map"`
	Regions   int                   `json:"regions"`
	Usable    uint64                `json:"usable_frames"`
	Free      uint64                `json:"free_frames"`
}

func runBoot() error {
	return withKernel(func(k *kernel.Kernel) error {
		cfg := k.Config()
		st := k.Stats()
		summary := BootSummary{
			Memory:    st.Memory,
			Offset:    k.Mem.Offset(),
			Root:      st.Root,
			MemoryMap: cfg.MemoryMap.Regions,
			Regions:   len(st.Frames.Regions),
			Usable:    st.Frames.Size,
			Free:      st.Frames.Free,
		}
		if jsonOut {
			return printJSON(summary)
		}

		printInfo("\nBoot Summary\n")
		printInfo("%s\n\n", strings.Repeat("═", 40))
		printInfo("  Memory: %s (%d frames)\n", formatBytes(summary.Memory), summary.Memory>>format.PageShift)
		printInfo("  Direct map: 0x%016x\n", summary.Offset)
		printInfo("  Page table root: 0x%x\n\n", summary.Root)

		printInfo("Memory Map:\n")
		for _, r := range summary.MemoryMap {
			printInfo("  [0x%010x-0x%010x) %-8s %s\n", r.Base, r.Base+r.Length, r.Type, formatBytes(r.Length))
		}
		printInfo("\nRegions:\n")
		for i, r := range st.Frames.Regions {
			printInfo("  #%d base=%d start=%d metadata=%d usable=%d free=%d\n",
				i, r.Base, r.Start, r.Metadata, r.Size, r.Free)
		}
		printInfo("\n  Free frames: %d of %d\n", summary.Free, summary.Usable)

		if bootShowMap {
			out, err := cfg.MemoryMap.Marshal()
			if err != nil {
				return fmt.Errorf("failed to encode memory map: %w", err)
			}
			printInfo("\n%s", out)
		}
		return nil
	})
}

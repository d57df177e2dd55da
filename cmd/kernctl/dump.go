package main

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/spf13/cobra"
	"golang.org/x/text/encoding/charmap"

	"github.com/joshuapare/kernkit/internal/format"
	"github.com/joshuapare/kernkit/kernel"
)

var (
	dumpLength uint64
	dumpOffset uint64
)

func init() {
	cmd := newDumpCmd()
	cmd.Flags().Uint64Var(&dumpLength, "length", 256, "Bytes to dump")
	cmd.Flags().Uint64Var(&dumpOffset, "offset", 0, "Start offset within the frame")
	rootCmd.AddCommand(cmd)
}

func newDumpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dump <frame>",
		Short: "Hex dump of a physical frame",
		Long: `The dump command boots the core and prints the allocator record and
the contents of one physical frame. Bytes are shown in hex and as code page
437 text. The frame index may be decimal or 0x-prefixed hex.

Example:
  kernctl dump 256
  kernctl dump 0x100 --length 64
  kernctl dump 0x7f0 --image mem.img --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDump(args)
		},
	}
	return cmd
}

// FrameDump is the JSON form of a frame dump.
type FrameDump struct {
	Frame  uint64 `json:"frame"`
	Phys   uint64 `json:"phys"`
	Record string `json:"record,omitempty"`
	Offset uint64 `json:"offset"`
	Data   string `json:"data"`
}

func runDump(args []string) error {
	index, err := strconv.ParseUint(args[0], 0, 64)
	if err != nil {
		return fmt.Errorf("invalid frame %q: %w", args[0], err)
	}
	if dumpOffset >= format.PageSize {
		return fmt.Errorf("offset %d is past the end of the frame", dumpOffset)
	}
	n := min(dumpLength, format.PageSize-dumpOffset)

	return withKernel(func(k *kernel.Kernel) error {
		phys := format.FrameAddr(index)
		data, err := k.Mem.SlicePhys(phys+dumpOffset, n)
		if err != nil {
			return fmt.Errorf("frame %d: %w", index, err)
		}
		d := FrameDump{Frame: index, Phys: phys, Offset: dumpOffset, Data: hex.EncodeToString(data)}
		if rec, ok := k.Frames.Record(index); ok {
			d.Record = rec.String()
		}
		if jsonOut {
			return printJSON(d)
		}

		printInfo("Frame %d at 0x%x\n", index, phys)
		if d.Record != "" {
			printInfo("  %s\n", d.Record)
		} else {
			printInfo("  (not managed by the frame allocator)\n")
		}
		printInfo("\n")
		for off := uint64(0); off < uint64(len(data)); off += 16 {
			line := data[off:min(off+16, uint64(len(data)))]
			printInfo("%08x  %-47s  |%s|\n", phys+dumpOffset+off, hexColumns(line), renderCP437(line))
		}
		return nil
	})
}

func hexColumns(b []byte) string {
	parts := make([]string, len(b))
	for i, c := range b {
		parts[i] = fmt.Sprintf("%02x", c)
	}
	return strings.Join(parts, " ")
}

// renderCP437 decodes b as code page 437, the text a VGA console would show
// for it. Control characters become '.'.
func renderCP437(b []byte) string {
	decoded, err := charmap.CodePage437.NewDecoder().Bytes(b)
	if err != nil {
		return strings.Repeat(".", len(b))
	}
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return '.'
		}
		return r
	}, string(decoded))
}

// Package kernel owns the process-wide kernel state: physical memory, the
// frame and heap allocators, the CPU and the task table. Boot brings them up
// in order from a memory map and Shutdown tears them down once no task is
// suspended mid-run.
package kernel

import (
	"github.com/joshuapare/kernkit/internal/format"
	"github.com/joshuapare/kernkit/mem/dirty"
	"github.com/joshuapare/kernkit/mem/heap"
)

// Config configures Boot.
type Config struct {
	// MemorySize is the size of physical memory in bytes.
	// Default: 8 MiB
	MemorySize uint64

	// Offset is the physical-to-virtual offset of the direct map. Must be
	// frame aligned.
	// Default: 0 (physmem.DefaultOffset)
	Offset uint64

	// Image backs physical memory with a file when set. Dirty frames are
	// flushed to it on Shutdown.
	// Default: "" (anonymous memory)
	Image string

	// MemoryMap describes physical memory. An empty map selects
	// DefaultMemoryMap(MemorySize).
	MemoryMap MemoryMap

	// FramesPerClass is the number of frames reserved for each heap size
	// class. Must be a power of two.
	// Default: heap.DefaultFramesPerClass
	FramesPerClass uint64

	// FlushMode controls durability of the Shutdown flush.
	// Default: dirty.FlushFull
	FlushMode dirty.FlushMode

	// EnableInterrupts sets IF once the boot flow is adopted.
	// Default: false
	EnableInterrupts bool
}

// DefaultMemorySize is the physical memory size DefaultConfig selects.
const DefaultMemorySize = 8 << 20

// DefaultConfig returns the configuration kernctl boots with.
func DefaultConfig() Config {
	return Config{
		MemorySize:     DefaultMemorySize,
		FramesPerClass: heap.DefaultFramesPerClass,
		FlushMode:      dirty.FlushFull,
	}
}

// withDefaults fills zero fields.
func (c Config) withDefaults() Config {
	if c.MemorySize == 0 {
		c.MemorySize = DefaultMemorySize
	}
	c.MemorySize = format.AlignPage(c.MemorySize)
	if c.FramesPerClass == 0 {
		c.FramesPerClass = heap.DefaultFramesPerClass
	}
	if len(c.MemoryMap.Regions) == 0 {
		c.MemoryMap = DefaultMemoryMap(c.MemorySize)
	}
	return c
}

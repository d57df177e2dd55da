// Package heap implements the kernel's size-classed allocator.
//
// Eight classes serve requests from 32 to 4096 bytes. At construction each
// class takes one block of frames from the buddy allocator and cuts it into
// equal slots; free slots are kept on an intrusive list whose nodes live in
// the slots themselves. Capacity is fixed: an empty class fails further
// requests instead of asking the frame allocator for more.
//
// Addresses handed out are direct-map virtual addresses.
package heap

import (
	"fmt"

	"github.com/joshuapare/kernkit/internal/format"
	"github.com/joshuapare/kernkit/internal/ilist"
	"github.com/joshuapare/kernkit/internal/logger"
	"github.com/joshuapare/kernkit/mem/buddy"
	"github.com/joshuapare/kernkit/mem/frame"
)

// NumClasses is the number of size classes.
const NumClasses = 8

// DefaultFramesPerClass is the number of frames reserved for each class.
const DefaultFramesPerClass = 4

// ClassSizes lists the slot size of each class, smallest first.
var ClassSizes = [NumClasses]uint64{32, 64, 128, 256, 512, 1024, 2048, 4096}

// Layout describes an allocation request.
type Layout struct {
	Size  uint64
	Align uint64 // power of two; 0 means no requirement
}

// Memory is the physical memory backing the slabs.
type Memory interface {
	Bytes() []byte
	PhysToVirt(phys uint64) uint64
	VirtToPhys(virt uint64) (uint64, error)
}

type slab struct {
	rec  frame.Record
	phys uint64
	size uint64
}

type sizeClass struct {
	size     uint64
	free     ilist.List
	slab     slab
	capacity int
}

// Allocator is the size-classed heap.
type Allocator struct {
	mem     Memory
	arena   []byte
	frames  *buddy.Allocator
	classes [NumClasses]sizeClass
}

// New reserves framesPerClass frames for every class from frames and threads
// each class's slots onto its free list.
func New(mem Memory, frames *buddy.Allocator, framesPerClass uint64) (*Allocator, error) {
	if !format.IsPowerOfTwo(framesPerClass) {
		return nil, fmt.Errorf("%w: %d", ErrBadSlabSize, framesPerClass)
	}
	a := &Allocator{mem: mem, arena: mem.Bytes(), frames: frames}

	for i, size := range ClassSizes {
		rec, ok := frames.AllocFrames(framesPerClass)
		if !ok {
			a.release(i)
			return nil, fmt.Errorf("%w: class %d needs %d frames", ErrNoFrames, size, framesPerClass)
		}
		c := &a.classes[i]
		c.size = size
		c.slab = slab{rec: rec, phys: rec.PhysAddr(), size: framesPerClass << format.PageShift}
		c.capacity = int(c.slab.size / size)

		// Pushed high to low so the lowest slot is handed out first.
		for j := c.capacity - 1; j >= 0; j-- {
			phys := c.slab.phys + uint64(j)*size
			c.free.Push(a.arena, phys, mem.PhysToVirt(phys))
		}
	}
	logger.Debug("heap: ready", "frames_per_class", framesPerClass)
	return a, nil
}

// release hands the slabs of the first n classes back to the frame allocator.
func (a *Allocator) release(n int) {
	for i := range n {
		if err := a.frames.DeallocFrame(a.classes[i].slab.rec); err != nil {
			logger.Warn("heap: slab release failed", "class", ClassSizes[i], "err", err)
		}
		a.classes[i] = sizeClass{}
	}
}

// Close returns every slab to the frame allocator. Outstanding allocations
// become invalid.
func (a *Allocator) Close() {
	a.release(NumClasses)
}

// FrameAllocator returns the frame allocator backing the heap.
func (a *Allocator) FrameAllocator() *buddy.Allocator { return a.frames }

// ClassFor returns the index of the smallest class that satisfies l.
func ClassFor(l Layout) (int, bool) {
	if l.Align != 0 && !format.IsPowerOfTwo(l.Align) {
		return 0, false
	}
	need := max(l.Size, l.Align, 1)
	for i, size := range ClassSizes {
		if need <= size {
			return i, true
		}
	}
	return 0, false
}

// Malloc returns the address of a free slot of the smallest class fitting l,
// or 0 when l is too large or that class is exhausted.
func (a *Allocator) Malloc(l Layout) uint64 {
	i, ok := ClassFor(l)
	if !ok {
		return 0
	}
	c := &a.classes[i]
	off, virt, ok := c.free.Pop(a.arena)
	if !ok {
		logger.Debug("heap: class exhausted", "class", c.size, "request", l.Size)
		return 0
	}
	clear(a.arena[off : off+ilist.NodeSize])
	return virt
}

// Free returns the slot at addr to the class l selects. l must be the layout
// the slot was allocated with.
func (a *Allocator) Free(addr uint64, l Layout) error {
	i, ok := ClassFor(l)
	if !ok {
		return fmt.Errorf("%w: layout %+v", ErrBadFree, l)
	}
	c := &a.classes[i]
	phys, err := a.mem.VirtToPhys(addr)
	if err != nil {
		return fmt.Errorf("%w: %#x: %w", ErrBadFree, addr, err)
	}
	if phys < c.slab.phys || phys-c.slab.phys >= c.slab.size || (phys-c.slab.phys)%c.size != 0 {
		return fmt.Errorf("%w: %#x for class %d", ErrBadFree, addr, c.size)
	}
	if c.free.Contains(a.arena, addr) {
		return fmt.Errorf("%w: %#x", ErrDoubleFree, addr)
	}
	c.free.Push(a.arena, phys, addr)
	return nil
}

// ClassStats describes one size class.
type ClassStats struct {
	Size     uint64 `json:"size"`
	Capacity int    `json:"capacity"`
	Free     int    `json:"free"`
	Frame    uint64 `json:"slab_frame"`
}

// Stats returns a snapshot of every class.
func (a *Allocator) Stats() [NumClasses]ClassStats {
	var out [NumClasses]ClassStats
	for i := range a.classes {
		c := &a.classes[i]
		out[i] = ClassStats{
			Size:     c.size,
			Capacity: c.capacity,
			Free:     c.free.Len(),
			Frame:    format.FrameIndex(c.slab.phys),
		}
	}
	return out
}

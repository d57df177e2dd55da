// Package paging builds top-level page tables for new address spaces.
//
// Installing mappings is the job of the page-table mapper; this package only
// needs frames for table roots and copies the kernel's top-level entries so a
// new task starts with the kernel mapped and nothing else.
package paging

import (
	"errors"
	"fmt"

	"github.com/joshuapare/kernkit/internal/format"
	"github.com/joshuapare/kernkit/mem/frame"
)

var (
	// ErrNoFrames indicates the frame source is exhausted.
	ErrNoFrames = errors.New("paging: no frame for page table")

	// ErrBadRoot indicates a root that is not a frame-aligned physical address.
	ErrBadRoot = errors.New("paging: bad page-table root")
)

// FrameSource hands out single 4 KiB frames. *buddy.Allocator implements it.
type FrameSource interface {
	AllocateFrame() (frame.Record, bool)
}

// Memory gives access to page-table frames by physical address.
type Memory interface {
	SlicePhys(phys, n uint64) ([]byte, error)
}

// Entry is a page-table entry.
type Entry uint64

const (
	Present  Entry = 1 << 0
	Writable Entry = 1 << 1
	User     Entry = 1 << 2

	addrMask Entry = 0x000f_ffff_ffff_f000
)

// NewEntry returns an entry pointing at the frame at phys.
func NewEntry(phys uint64, flags Entry) Entry {
	return Entry(phys)&addrMask | flags&^addrMask
}

// Present reports whether the entry maps anything.
func (e Entry) Present() bool { return e&Present != 0 }

// Addr returns the physical address the entry points at.
func (e Entry) Addr() uint64 { return uint64(e & addrMask) }

// TopIndex returns the top-level table slot covering virt.
func TopIndex(virt uint64) int {
	return int(virt>>39) & (format.PageTableEntries - 1)
}

func table(mem Memory, root uint64) ([]byte, error) {
	if !format.IsPageAligned(root) {
		return nil, fmt.Errorf("%w: %#x", ErrBadRoot, root)
	}
	b, err := mem.SlicePhys(root, format.PageSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadRoot, err)
	}
	return b, nil
}

// ReadEntry returns slot i of the table at root.
func ReadEntry(mem Memory, root uint64, i int) (Entry, error) {
	b, err := table(mem, root)
	if err != nil {
		return 0, err
	}
	return Entry(format.ReadWord(b, i*format.WordSize)), nil
}

// WriteEntry stores e in slot i of the table at root.
func WriteEntry(mem Memory, root uint64, i int, e Entry) error {
	b, err := table(mem, root)
	if err != nil {
		return err
	}
	format.PutWord(b, i*format.WordSize, uint64(e))
	return nil
}

// NewRoot allocates an empty table and returns its physical address.
func NewRoot(mem Memory, src FrameSource) (uint64, frame.Record, error) {
	rec, ok := src.AllocateFrame()
	if !ok {
		return 0, frame.Record{}, ErrNoFrames
	}
	b, err := table(mem, rec.PhysAddr())
	if err != nil {
		return 0, frame.Record{}, err
	}
	clear(b)
	return rec.PhysAddr(), rec, nil
}

// CloneKernelRoot allocates a new root holding a copy of every present
// top-level entry of active.
func CloneKernelRoot(mem Memory, src FrameSource, active uint64) (uint64, frame.Record, error) {
	from, err := table(mem, active)
	if err != nil {
		return 0, frame.Record{}, err
	}
	root, rec, err := NewRoot(mem, src)
	if err != nil {
		return 0, frame.Record{}, err
	}
	to, _ := table(mem, root)
	for i := range format.PageTableEntries {
		off := i * format.WordSize
		if e := Entry(format.ReadWord(from, off)); e.Present() {
			format.PutWord(to, off, uint64(e))
		}
	}
	return root, rec, nil
}

// MapKernelHalf points the top-level slot covering virt at a fresh, empty
// lower-level table unless it is already present.
func MapKernelHalf(mem Memory, src FrameSource, root, virt uint64) error {
	i := TopIndex(virt)
	e, err := ReadEntry(mem, root, i)
	if err != nil {
		return err
	}
	if e.Present() {
		return nil
	}
	next, _, err := NewRoot(mem, src)
	if err != nil {
		return err
	}
	return WriteEntry(mem, root, i, NewEntry(next, Present|Writable))
}

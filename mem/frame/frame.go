// Package frame defines the per-frame metadata record kept by the buddy
// allocator.
//
// A Record is a zero-copy view over 32 bytes of physical memory:
//
//	0x00  flags          u32
//	0x04  ref count      u16
//	0x08  level          u32  buddy order of the block this frame heads
//	0x10  global index   u64  frame number across all of physical memory
//	0x18  direct access  u64  virtual address of the frame's bytes
//
// Records live in the leading metadata frames of their region, so every
// accessor reads and writes the arena directly.
package frame

import (
	"fmt"

	"github.com/joshuapare/kernkit/internal/format"
)

// RecordSize is the size of one record in bytes.
const RecordSize = 32

const (
	flagsOffset    = 0x00
	refCountOffset = 0x04
	levelOffset    = 0x08
	indexOffset    = 0x10
	directOffset   = 0x18
)

// Flags is the frame state bit set.
type Flags uint32

const (
	// Free marks a frame not handed out by the allocator.
	Free Flags = 0x1
	// Dirty marks a frame whose contents have been handed to a consumer.
	Dirty Flags = 0x2
	// Taken pins a frame; the allocator never coalesces or releases it.
	Taken Flags = 0x4
	// Head marks the first frame of an allocated block.
	Head Flags = 0x8
)

func (f Flags) String() string {
	if f == 0 {
		return "-"
	}
	s := ""
	for _, b := range []struct {
		f    Flags
		name string
	}{{Free, "FREE"}, {Dirty, "DIRTY"}, {Taken, "TAKEN"}, {Head, "HEAD"}} {
		if f&b.f != 0 {
			if s != "" {
				s += "|"
			}
			s += b.name
		}
	}
	if rest := f &^ (Free | Dirty | Taken | Head); rest != 0 {
		if s != "" {
			s += "|"
		}
		s += fmt.Sprintf("%#x", uint32(rest))
	}
	return s
}

// Record is a view of one frame's metadata. The zero Record is invalid.
type Record struct {
	raw []byte
}

// View returns the record stored at b[0:RecordSize].
func View(b []byte) (Record, error) {
	if len(b) < RecordSize {
		return Record{}, fmt.Errorf("frame: record needs %d bytes, have %d: %w",
			RecordSize, len(b), format.ErrTruncated)
	}
	return Record{raw: b[:RecordSize:RecordSize]}, nil
}

// Valid reports whether r refers to a record.
func (r Record) Valid() bool { return r.raw != nil }

// Init overwrites the record with a fresh state: the given flags, no
// references, level 0.
func (r Record) Init(flags Flags, direct, index uint64) {
	clear(r.raw)
	format.PutU32(r.raw, flagsOffset, uint32(flags))
	format.PutWord(r.raw, indexOffset, index)
	format.PutWord(r.raw, directOffset, direct)
}

func (r Record) Flags() Flags { return Flags(format.ReadU32(r.raw, flagsOffset)) }

func (r Record) SetFlags(f Flags) { format.PutU32(r.raw, flagsOffset, uint32(f)) }

// AddFlags sets the bits in f.
func (r Record) AddFlags(f Flags) { r.SetFlags(r.Flags() | f) }

// ClearFlags clears the bits in f.
func (r Record) ClearFlags(f Flags) { r.SetFlags(r.Flags() &^ f) }

// Has reports whether all bits in f are set.
func (r Record) Has(f Flags) bool { return r.Flags()&f == f }

func (r Record) RefCount() uint16 { return format.ReadU16(r.raw, refCountOffset) }

// Get takes a reference on the frame.
func (r Record) Get() {
	format.PutU16(r.raw, refCountOffset, r.RefCount()+1)
}

// Put drops a reference and returns the remaining count. Dropping a
// reference the frame does not hold is a no-op.
func (r Record) Put() uint16 {
	n := r.RefCount()
	if n == 0 {
		return 0
	}
	n--
	format.PutU16(r.raw, refCountOffset, n)
	return n
}

func (r Record) Level() uint32 { return format.ReadU32(r.raw, levelOffset) }

func (r Record) SetLevel(level uint32) { format.PutU32(r.raw, levelOffset, level) }

// GlobalIndex returns the frame number across all of physical memory.
func (r Record) GlobalIndex() uint64 { return format.ReadWord(r.raw, indexOffset) }

// DirectAccess returns the virtual address of the frame's bytes.
func (r Record) DirectAccess() uint64 { return format.ReadWord(r.raw, directOffset) }

// PhysAddr returns the physical address of the frame.
func (r Record) PhysAddr() uint64 { return format.FrameAddr(r.GlobalIndex()) }

// Same reports whether r and o describe the same frame.
func (r Record) Same(o Record) bool {
	return r.Valid() && o.Valid() && r.GlobalIndex() == o.GlobalIndex()
}

func (r Record) String() string {
	if !r.Valid() {
		return "frame(nil)"
	}
	return fmt.Sprintf("frame(%d level=%d refs=%d %s)",
		r.GlobalIndex(), r.Level(), r.RefCount(), r.Flags())
}

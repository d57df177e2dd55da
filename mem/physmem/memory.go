package physmem

import (
	"fmt"

	"github.com/joshuapare/kernkit/internal/buf"
	"github.com/joshuapare/kernkit/internal/format"
	"github.com/joshuapare/kernkit/internal/mmfile"
)

// DefaultOffset is the base of the direct map on x86-64 higher-half kernels.
const DefaultOffset = 0xffff_8000_0000_0000

// Options configures physical memory.
type Options struct {
	Size   uint64 // Arena size in bytes, rounded up to whole frames
	Offset uint64 // Physical-to-virtual offset. 0 selects DefaultOffset
	Image  string // Optional memory-image file backing the arena
}

// Memory is the machine's physical memory, backed by a host mapping.
type Memory struct {
	m      *mmfile.Mapping
	data   []byte
	size   uint64
	offset uint64
}

// Open maps physical memory of opts.Size bytes.
func Open(opts Options) (*Memory, error) {
	size := format.AlignPage(opts.Size)
	if size == 0 {
		return nil, fmt.Errorf("physmem: size must be positive")
	}
	if size > uint64(int(^uint(0)>>1)) {
		return nil, fmt.Errorf("physmem: size %d too large to map", size)
	}
	offset := opts.Offset
	if offset == 0 {
		offset = DefaultOffset
	}
	if !format.IsPageAligned(offset) {
		return nil, fmt.Errorf("%w: %#x", ErrMisalignedOffset, offset)
	}
	if _, ok := buf.AddOverflowSafe(offset, size); !ok {
		return nil, fmt.Errorf("physmem: direct map at %#x cannot hold %d bytes", offset, size)
	}

	var (
		m   *mmfile.Mapping
		err error
	)
	if opts.Image != "" {
		m, err = mmfile.File(opts.Image, int(size))
	} else {
		m, err = mmfile.Anonymous(int(size))
	}
	if err != nil {
		return nil, err
	}

	return &Memory{
		m:      m,
		data:   m.Bytes(),
		size:   size,
		offset: offset,
	}, nil
}

// Bytes returns the whole arena, indexed by physical address.
func (m *Memory) Bytes() []byte { return m.data }

// Size returns the arena size in bytes.
func (m *Memory) Size() uint64 { return m.size }

// Frames returns the number of whole frames in the arena.
func (m *Memory) Frames() uint64 { return m.size >> format.PageShift }

// Offset returns the physical-to-virtual offset of the direct map.
func (m *Memory) Offset() uint64 { return m.offset }

// FD returns the descriptor of the memory image, or -1 when anonymous.
func (m *Memory) FD() int {
	if m == nil || m.m == nil {
		return -1
	}
	return m.m.FD()
}

// PhysToVirt returns the direct-map address of phys.
func (m *Memory) PhysToVirt(phys uint64) uint64 {
	return phys + m.offset
}

// VirtToPhys translates a direct-map address back to its physical address.
func (m *Memory) VirtToPhys(virt uint64) (uint64, error) {
	if virt < m.offset || virt-m.offset >= m.size {
		return 0, fmt.Errorf("%w: virt %#x", ErrOutOfRange, virt)
	}
	return virt - m.offset, nil
}

// Contains reports whether [phys, phys+n) lies inside the arena. Closed
// memory contains nothing.
func (m *Memory) Contains(phys, n uint64) bool {
	return buf.Has(m.data, phys, n)
}

// SlicePhys returns the n bytes starting at physical address phys.
func (m *Memory) SlicePhys(phys, n uint64) ([]byte, error) {
	if m.data == nil {
		return nil, ErrClosed
	}
	b, ok := buf.Slice(m.data, phys, n)
	if !ok {
		return nil, fmt.Errorf("%w: phys %#x len %d", ErrOutOfRange, phys, n)
	}
	return b, nil
}

// Slice returns the n bytes starting at direct-map address virt.
func (m *Memory) Slice(virt, n uint64) ([]byte, error) {
	phys, err := m.VirtToPhys(virt)
	if err != nil {
		return nil, err
	}
	return m.SlicePhys(phys, n)
}

// ReadWord reads the machine word at direct-map address virt.
func (m *Memory) ReadWord(virt uint64) (uint64, error) {
	if !format.IsWordAligned(virt) {
		return 0, fmt.Errorf("%w: %#x", ErrMisaligned, virt)
	}
	b, err := m.Slice(virt, format.WordSize)
	if err != nil {
		return 0, err
	}
	return format.ReadWord(b, 0), nil
}

// WriteWord writes v at direct-map address virt.
func (m *Memory) WriteWord(virt, v uint64) error {
	if !format.IsWordAligned(virt) {
		return fmt.Errorf("%w: %#x", ErrMisaligned, virt)
	}
	b, err := m.Slice(virt, format.WordSize)
	if err != nil {
		return err
	}
	format.PutWord(b, 0, v)
	return nil
}

// Zero clears n bytes at direct-map address virt.
func (m *Memory) Zero(virt, n uint64) error {
	b, err := m.Slice(virt, n)
	if err != nil {
		return err
	}
	clear(b)
	return nil
}

// Close unmaps the arena. Memory must not be used afterwards.
func (m *Memory) Close() error {
	if m == nil || m.m == nil {
		return nil
	}
	err := m.m.Close()
	m.m = nil
	m.data = nil
	return err
}

// Package format holds the machine-level constants and byte codecs shared by
// the memory packages: page geometry, machine words and the little-endian
// encoding used for every structure that lives inside physical memory.
package format

const (
	// PageShift is log2 of the frame size.
	PageShift = 12

	// PageSize is the size of one physical frame (4 KiB).
	PageSize = 1 << PageShift

	// PageMask masks the offset-within-page bits of an address.
	PageMask = PageSize - 1

	// WordSize is the size of a machine word on the simulated target (x86-64).
	WordSize = 8

	// WordMask masks the misaligned bits of a word address.
	WordMask = WordSize - 1

	// StackAlignment is the alignment the ABI requires of a stack pointer at a
	// call boundary.
	StackAlignment = 16

	// PageTableEntries is the number of 8-byte entries in one page-table level.
	PageTableEntries = PageSize / WordSize
)

// FrameIndex returns the frame number containing the physical address addr.
func FrameIndex(addr uint64) uint64 {
	return addr >> PageShift
}

// FrameAddr returns the physical address of the first byte of frame index.
func FrameAddr(index uint64) uint64 {
	return index << PageShift
}

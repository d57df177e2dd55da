package physmem

import "errors"

var (
	// ErrOutOfRange indicates an address range outside the arena or the direct map.
	ErrOutOfRange = errors.New("physmem: address out of range")

	// ErrMisaligned indicates a word access at a non word-aligned address.
	ErrMisaligned = errors.New("physmem: misaligned word access")

	// ErrMisalignedOffset indicates a direct-map offset that is not frame aligned.
	ErrMisalignedOffset = errors.New("physmem: direct-map offset not frame aligned")

	// ErrClosed indicates use of memory after Close.
	ErrClosed = errors.New("physmem: memory closed")
)

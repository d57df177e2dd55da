package heap

import "errors"

var (
	// ErrBadFree indicates an address that is not a slot of the layout's class.
	ErrBadFree = errors.New("heap: address is not a slot of this size class")

	// ErrDoubleFree indicates a slot that is already free.
	ErrDoubleFree = errors.New("heap: slot already free")

	// ErrNoFrames indicates the frame allocator could not back a size class.
	ErrNoFrames = errors.New("heap: frame allocator exhausted")

	// ErrBadSlabSize indicates a frames-per-class count that is not a power of two.
	ErrBadSlabSize = errors.New("heap: frames per class must be a power of two")

	// ErrOutOfMemory is the panic value of the default Global halt.
	ErrOutOfMemory = errors.New("heap: out of memory")
)

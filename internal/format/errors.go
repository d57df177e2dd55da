package format

import "errors"

var (
	// ErrTruncated indicates the buffer lacked the bytes required for a structure.
	ErrTruncated = errors.New("format: truncated buffer")
	// ErrMisaligned indicates an address that violates the required alignment.
	ErrMisaligned = errors.New("format: misaligned address")
)

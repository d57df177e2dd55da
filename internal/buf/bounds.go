// Package buf contains overflow-safe range checks for addresses and lengths
// that index into physical memory.
package buf

import (
	"fmt"
	"math"
)

// AddOverflowSafe adds a and b, returning ok = false when the result would overflow uint64.
func AddOverflowSafe(a, b uint64) (uint64, bool) {
	if a > math.MaxUint64-b {
		return 0, false
	}
	return a + b, true
}

// MulOverflowSafe multiplies a and b, returning ok = false when the result would overflow uint64.
// Used for frames * RecordSize when sizing a region's record table.
func MulOverflowSafe(a, b uint64) (uint64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	if a > math.MaxUint64/b {
		return 0, false
	}
	return a * b, true
}

// CheckRange validates that [addr, addr+n) lies within [0, limit). Returns the
// exclusive end address if valid, or an error describing the failure.
//
//	end, err := buf.CheckRange(uint64(len(ram)), phys, length)
//	if err != nil {
//	    return fmt.Errorf("physmem: %w", err)
//	}
func CheckRange(limit, addr, n uint64) (uint64, error) {
	end, ok := AddOverflowSafe(addr, n)
	if !ok {
		return 0, fmt.Errorf("overflow: addr=%#x + len=%d", addr, n)
	}
	if end > limit {
		return 0, fmt.Errorf("bounds: end=%#x > limit=%#x", end, limit)
	}
	return end, nil
}

// Slice returns the sub-slice [off:off+n] if it fits within len(b).
func Slice(b []byte, off, n uint64) ([]byte, bool) {
	end, err := CheckRange(uint64(len(b)), off, n)
	if err != nil {
		return nil, false
	}
	return b[off:end], true
}

// Has reports whether b[off:off+n] is within bounds.
func Has(b []byte, off, n uint64) bool {
	_, ok := Slice(b, off, n)
	return ok
}

package format

// Alignment utilities for frame and word sized structures.

// AlignPage returns n aligned up to the next 4 KiB boundary.
//
// Example:
//
//	AlignPage(1)    = 4096
//	AlignPage(4096) = 4096
//	AlignPage(4097) = 8192
func AlignPage(n uint64) uint64 {
	return (n + PageMask) &^ uint64(PageMask)
}

// TruncPage returns n aligned down to a 4 KiB boundary.
func TruncPage(n uint64) uint64 {
	return n &^ uint64(PageMask)
}

// IsPageAligned reports whether addr sits on a frame boundary.
func IsPageAligned(addr uint64) bool {
	return addr&PageMask == 0
}

// IsWordAligned reports whether addr sits on a word boundary.
func IsWordAligned(addr uint64) bool {
	return addr&WordMask == 0
}

// IsPowerOfTwo reports whether n is a non-zero power of two.
func IsPowerOfTwo(n uint64) bool {
	return n != 0 && n&(n-1) == 0
}

// Log2 returns floor(log2(n)) for n > 0 and 0 for n == 0.
func Log2(n uint64) uint32 {
	var l uint32
	for n > 1 {
		n >>= 1
		l++
	}
	return l
}

// PagesFor returns the number of frames needed to hold n bytes.
func PagesFor(n uint64) uint64 {
	return AlignPage(n) >> PageShift
}

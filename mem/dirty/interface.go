package dirty

// DirtyTracker is the minimal interface for recording modified physical
// memory. Allocators call Add whenever they hand out or rewrite frame bytes;
// they never flush.
type DirtyTracker interface {
	// Add marks a byte range as dirty.
	// off is the physical address, length is the number of bytes.
	Add(off, length int)
}

// Backing is the memory a Tracker flushes. *physmem.Memory satisfies it.
type Backing interface {
	Bytes() []byte
	FD() int
}

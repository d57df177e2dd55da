// Package physmem provides the simulated physical memory of the machine.
//
// # Overview
//
// Physical memory is a single byte arena obtained from the host through
// internal/mmfile. A physical address is a byte offset into the arena, so
// frame N starts at N*4096. Every byte is also reachable through a fixed
// physical-to-virtual offset (the direct map), which is how the allocators
// and the CPU address frames:
//
//	virt = phys + Offset()
//
// No per-page mapping happens at this layer; the direct map covers the whole
// arena uniformly.
//
// # Backing
//
// Memory is anonymous by default. When Options.Image names a file the arena
// is shared over that file so a run can be inspected afterwards; dirty frames
// are flushed with the mem/dirty tracker.
//
// # Thread Safety
//
// Memory is not thread-safe. The machine is single-core and only one flow
// touches memory at a time.
package physmem

package heap

import (
	"fmt"

	"github.com/joshuapare/kernkit/internal/logger"
)

// Global adapts an Allocator to the general allocate/deallocate contract.
// Exhaustion is fatal: a kernel cannot recover from failing to allocate its
// own bookkeeping.
type Global struct {
	a *Allocator

	// Halt is called when an allocation or free cannot be satisfied. It must
	// not return. The default logs and panics.
	Halt func(err error)
}

// NewGlobal wraps a.
func NewGlobal(a *Allocator) *Global {
	return &Global{a: a, Halt: halt}
}

func halt(err error) {
	logger.Error("heap: halting", "err", err)
	panic(err)
}

// Alloc returns a slot fitting l. It never returns 0.
func (g *Global) Alloc(l Layout) uint64 {
	p := g.a.Malloc(l)
	if p == 0 {
		g.Halt(fmt.Errorf("%w: size %d align %d", ErrOutOfMemory, l.Size, l.Align))
	}
	return p
}

// Dealloc frees a slot returned by Alloc with the same layout.
func (g *Global) Dealloc(addr uint64, l Layout) {
	if err := g.a.Free(addr, l); err != nil {
		g.Halt(err)
	}
}

// Allocator returns the wrapped allocator.
func (g *Global) Allocator() *Allocator { return g.a }

package heap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGlobal_AllocAndDealloc(t *testing.T) {
	_, a := newTestHeap(t)
	g := NewGlobal(a)
	assert.Same(t, a, g.Allocator())

	l := Layout{Size: 128, Align: 16}
	p := g.Alloc(l)
	require.NotZero(t, p)
	g.Dealloc(p, l)
	assert.Equal(t, a.Stats()[2].Capacity, a.Stats()[2].Free)
}

func TestGlobal_ExhaustionHalts(t *testing.T) {
	_, a := newTestHeap(t)
	g := NewGlobal(a)

	var halted error
	g.Halt = func(err error) { halted = err }

	assert.Zero(t, g.Alloc(Layout{Size: 1 << 20}))
	require.ErrorIs(t, halted, ErrOutOfMemory)

	halted = nil
	g.Dealloc(0xdead, Layout{Size: 32})
	require.ErrorIs(t, halted, ErrBadFree)
}

func TestGlobal_DefaultHaltPanics(t *testing.T) {
	_, a := newTestHeap(t)
	g := NewGlobal(a)

	assert.Panics(t, func() { g.Alloc(Layout{Size: 8192}) })
}

package heap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/kernkit/internal/format"
	"github.com/joshuapare/kernkit/mem/buddy"
	"github.com/joshuapare/kernkit/mem/physmem"
)

func newTestFrames(t *testing.T, total uint64) (*physmem.Memory, *buddy.Allocator) {
	t.Helper()
	mem, err := physmem.Open(physmem.Options{Size: total * format.PageSize})
	require.NoError(t, err)
	t.Cleanup(func() { _ = mem.Close() })

	r, err := buddy.NewRegion(mem, total, 0, nil)
	require.NoError(t, err)
	fa := buddy.New()
	require.NoError(t, fa.AddRegion(r))
	return mem, fa
}

func newTestHeap(t *testing.T) (*physmem.Memory, *Allocator) {
	t.Helper()
	mem, fa := newTestFrames(t, 1032)
	a, err := New(mem, fa, DefaultFramesPerClass)
	require.NoError(t, err)
	return mem, a
}

func TestClassFor(t *testing.T) {
	tests := []struct {
		layout Layout
		class  int
		ok     bool
	}{
		{Layout{Size: 0}, 0, true},
		{Layout{Size: 1}, 0, true},
		{Layout{Size: 32}, 0, true},
		{Layout{Size: 33}, 1, true},
		{Layout{Size: 100}, 2, true},
		{Layout{Size: 2049}, 7, true},
		{Layout{Size: 4096}, 7, true},
		{Layout{Size: 4097}, 0, false},
		{Layout{Size: 8, Align: 256}, 3, true},
		{Layout{Size: 8, Align: 8192}, 0, false},
		{Layout{Size: 8, Align: 24}, 0, false},
	}
	for _, tt := range tests {
		class, ok := ClassFor(tt.layout)
		assert.Equal(t, tt.ok, ok, "%+v", tt.layout)
		if tt.ok {
			assert.Equal(t, tt.class, class, "%+v", tt.layout)
		}
	}
}

func TestNew_ReservesEveryClass(t *testing.T) {
	_, a := newTestHeap(t)

	stats := a.Stats()
	for i, s := range stats {
		assert.Equal(t, ClassSizes[i], s.Size)
		assert.Equal(t, int(DefaultFramesPerClass*format.PageSize/ClassSizes[i]), s.Capacity)
		assert.Equal(t, s.Capacity, s.Free)
	}
	fs := a.FrameAllocator().Stats()
	assert.Equal(t, uint64(1024-NumClasses*DefaultFramesPerClass), fs.Free)
}

func TestNew_Errors(t *testing.T) {
	mem, fa := newTestFrames(t, 1032)
	_, err := New(mem, fa, 3)
	require.ErrorIs(t, err, ErrBadSlabSize)

	mem, fa = newTestFrames(t, 16)
	_, err = New(mem, fa, 4)
	require.ErrorIs(t, err, ErrNoFrames)
	s := fa.Stats()
	assert.Equal(t, s.Size, s.Free, "partial reservations are released")
	require.NoError(t, fa.Check())
}

func TestMalloc_SmallestFittingClass(t *testing.T) {
	mem, a := newTestHeap(t)

	for i, size := range []uint64{1, 40, 100, 200, 300, 1000, 1500, 4000} {
		before := a.Stats()
		p := a.Malloc(Layout{Size: size})
		require.NotZero(t, p, "size %d", size)

		after := a.Stats()
		assert.Equal(t, before[i].Free-1, after[i].Free, "size %d lands in class %d", size, ClassSizes[i])

		phys, err := mem.VirtToPhys(p)
		require.NoError(t, err)
		assert.Zero(t, phys%ClassSizes[i], "slot aligned to its class")
	}
}

func TestMalloc_LowestSlotFirst(t *testing.T) {
	_, a := newTestHeap(t)
	p1 := a.Malloc(Layout{Size: 32})
	p2 := a.Malloc(Layout{Size: 32})
	assert.Equal(t, p1+32, p2)
}

func TestMalloc_Rejects(t *testing.T) {
	_, a := newTestHeap(t)
	assert.Zero(t, a.Malloc(Layout{Size: 4097}))
	assert.Zero(t, a.Malloc(Layout{Size: 16, Align: 3}))
	assert.Zero(t, a.Malloc(Layout{Size: 16, Align: 8192}))
}

func TestMalloc_FixedCapacity(t *testing.T) {
	_, a := newTestHeap(t)
	frames := a.FrameAllocator().Stats().Free

	for range DefaultFramesPerClass {
		require.NotZero(t, a.Malloc(Layout{Size: 4096}))
	}
	assert.Zero(t, a.Malloc(Layout{Size: 4096}), "class exhausted")
	assert.NotZero(t, a.Malloc(Layout{Size: 2048}), "other classes unaffected")
	assert.Equal(t, frames, a.FrameAllocator().Stats().Free, "no refill from the frame allocator")
}

func TestFree_ThenMallocReusesSlot(t *testing.T) {
	_, a := newTestHeap(t)
	frames := a.FrameAllocator().Stats().Free

	l := Layout{Size: 200}
	p := a.Malloc(l)
	require.NotZero(t, p)
	require.NoError(t, a.Free(p, l))

	q := a.Malloc(Layout{Size: 256})
	assert.Equal(t, p, q, "freed slot is reused first")
	assert.Equal(t, frames, a.FrameAllocator().Stats().Free)
}

func TestFree_Errors(t *testing.T) {
	_, a := newTestHeap(t)

	l := Layout{Size: 32}
	p := a.Malloc(l)
	require.NotZero(t, p)

	require.ErrorIs(t, a.Free(p, Layout{Size: 64}), ErrBadFree, "mismatched layout")
	require.ErrorIs(t, a.Free(p+8, l), ErrBadFree, "inside a slot")
	require.ErrorIs(t, a.Free(12345, l), ErrBadFree, "not a direct-map address")
	require.ErrorIs(t, a.Free(p, Layout{Size: 5000}), ErrBadFree)

	require.NoError(t, a.Free(p, l))
	require.ErrorIs(t, a.Free(p, l), ErrDoubleFree)
	assert.Equal(t, a.Stats()[0].Capacity, a.Stats()[0].Free)
}

func TestMalloc_SlotContentsIsolated(t *testing.T) {
	mem, a := newTestHeap(t)

	p := a.Malloc(Layout{Size: 64})
	q := a.Malloc(Layout{Size: 64})
	require.NotZero(t, p)
	require.NotZero(t, q)

	b, err := mem.Slice(p, 64)
	require.NoError(t, err)
	for _, v := range b[:16] {
		require.Zero(t, v, "list node cleared before hand-out")
	}
	for i := range b {
		b[i] = 0xAA
	}

	require.NoError(t, a.Free(q, Layout{Size: 64}))
	r := a.Malloc(Layout{Size: 64})
	assert.Equal(t, q, r)
	for _, v := range b {
		require.Equal(t, byte(0xAA), v)
	}
}

func TestClose_ReleasesSlabs(t *testing.T) {
	_, a := newTestHeap(t)
	fa := a.FrameAllocator()
	a.Close()
	s := fa.Stats()
	assert.Equal(t, s.Size, s.Free)
	require.NoError(t, fa.Check())
}

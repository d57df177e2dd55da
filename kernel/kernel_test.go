package kernel

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/kernkit/cpu"
	"github.com/joshuapare/kernkit/internal/format"
	"github.com/joshuapare/kernkit/mem/frame"
	"github.com/joshuapare/kernkit/mem/heap"
	"github.com/joshuapare/kernkit/mem/physmem"
	"github.com/joshuapare/kernkit/task"
)

func bootTestKernel(t *testing.T, cfg Config) *Kernel {
	t.Helper()
	k, err := Boot(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = k.Shutdown(context.Background()) })
	return k
}

func TestBoot_Default(t *testing.T) {
	k := bootTestKernel(t, DefaultConfig())

	regions := k.Frames.Regions()
	require.Len(t, regions, 2)
	assert.Equal(t, uint64(1), regions[0].BaseFrameIndex())
	assert.Equal(t, uint64(256), regions[1].BaseFrameIndex())

	assert.NotZero(t, k.Root())
	assert.Equal(t, k.Root(), k.CPU.Root())
	rec, ok := k.Frames.Record(format.FrameIndex(k.Root()))
	require.True(t, ok)
	assert.True(t, rec.Has(frame.Head|frame.Taken), "kernel root is pinned")
	assert.True(t, regions[1].Contains(rec.GlobalIndex()), "later regions serve first")

	kt := k.Tasks.Active()
	assert.Equal(t, uint64(0), kt.ID)
	assert.Equal(t, k.Root(), kt.Context.Root)
	assert.Equal(t, cpu.Ring0, k.CPU.CPL())
	assert.False(t, k.CPU.InterruptsEnabled())

	stacks := k.Heap.Stats()[heap.NumClasses-1]
	assert.Equal(t, stacks.Capacity-1, stacks.Free, "boot stack taken from the heap")
	require.NoError(t, k.Frames.Check())
}

func TestBoot_SpawnAndRun(t *testing.T) {
	k := bootTestKernel(t, DefaultConfig())

	var cpl int
	var root uint64
	tk, err := k.Spawn("init", cpu.Ring3, func() {
		cpl = k.CPU.CPL()
		root = k.CPU.Root()
	})
	require.NoError(t, err)
	require.NoError(t, k.Run(tk))

	assert.Equal(t, cpu.Ring3, cpl)
	assert.NotEqual(t, k.Root(), root)
	assert.Equal(t, task.Exited, tk.State())

	s := k.Stats()
	require.Len(t, s.Tasks, 2)
	assert.Equal(t, "init", s.Tasks[1].Name)
	assert.Equal(t, "exited", s.Tasks[1].State)
	assert.Equal(t, 2, s.CPU.Switches)
	require.NoError(t, k.Frames.Check())
}

func TestBoot_StacksAreFixedCapacity(t *testing.T) {
	k := bootTestKernel(t, DefaultConfig())

	// The 4096-byte class holds the boot stack plus three more.
	for range heap.DefaultFramesPerClass - 1 {
		_, err := k.Spawn("idle", cpu.Ring0, func() {})
		require.NoError(t, err)
	}
	_, err := k.Spawn("one-too-many", cpu.Ring0, func() {})
	require.ErrorIs(t, err, ErrNoStack)
}

func TestBoot_GlobalAllocator(t *testing.T) {
	k := bootTestKernel(t, DefaultConfig())

	l := heap.Layout{Size: 48, Align: 8}
	p := k.Alloc.Alloc(l)
	b, err := k.Mem.Slice(p, 48)
	require.NoError(t, err)
	copy(b, "bookkeeping")
	k.Alloc.Dealloc(p, l)
}

func TestBoot_CustomOffset(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Offset = 0xffff_c000_0000_0000
	k := bootTestKernel(t, cfg)

	tk, err := k.Spawn("worker", cpu.Ring0, func() {})
	require.NoError(t, err)
	require.NoError(t, k.Run(tk))

	p := k.Heap.Malloc(StackLayout)
	require.NotZero(t, p)
	assert.Zero(t, p%StackLayout.Align)
	require.NoError(t, k.Heap.Free(p, StackLayout))
}

func TestBoot_InterruptsEnabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableInterrupts = true
	k := bootTestKernel(t, cfg)

	got := 0
	k.CPU.Handle(32, func(int) { got++ })
	k.CPU.Raise(32)
	assert.Equal(t, 1, got)
}

func TestBoot_Errors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MemoryMap = MemoryMap{Regions: []MemoryRegion{{Base: 0, Length: 8 << 20, Type: Reserved}}}
	_, err := Boot(cfg)
	require.ErrorIs(t, err, ErrNoUsableMemory)

	cfg = DefaultConfig()
	cfg.FramesPerClass = 3
	_, err = Boot(cfg)
	require.ErrorIs(t, err, heap.ErrBadSlabSize)

	cfg = DefaultConfig()
	cfg.Offset = physmem.DefaultOffset + 4
	_, err = Boot(cfg)
	require.ErrorIs(t, err, physmem.ErrMisalignedOffset)

	cfg = DefaultConfig()
	cfg.MemorySize = 64 << 10 // 15 usable frames cannot hold the heap
	_, err = Boot(cfg)
	require.ErrorIs(t, err, heap.ErrNoFrames)
}

func TestBoot_TooManyRegions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MemorySize = 1 << 20
	for i := range uint64(6) {
		cfg.MemoryMap.Regions = append(cfg.MemoryMap.Regions, MemoryRegion{
			Base: i * 0x28000, Length: 0x28000, Type: Usable,
		})
	}
	k := bootTestKernel(t, cfg)
	assert.Len(t, k.Frames.Regions(), 4)
}

func TestShutdown_FlushesImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mem.img")
	cfg := DefaultConfig()
	cfg.MemorySize = 2 << 20
	cfg.Image = path

	k, err := Boot(cfg)
	require.NoError(t, err)

	p := k.Alloc.Alloc(heap.Layout{Size: 16})
	b, err := k.Mem.Slice(p, 16)
	require.NoError(t, err)
	copy(b, "persisted frame!")
	phys, err := k.Mem.VirtToPhys(p)
	require.NoError(t, err)
	assert.Positive(t, k.Stats().Dirty)

	require.NoError(t, k.Shutdown(context.Background()))
	require.NoError(t, k.Shutdown(context.Background()), "second shutdown is a no-op")

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, raw, 2<<20)
	assert.Equal(t, "persisted frame!", string(raw[phys:phys+16]))
}

func TestShutdown_Cancelled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Image = filepath.Join(t.TempDir(), "mem.img")
	k := bootTestKernel(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, k.Shutdown(ctx), context.Canceled)
}

func TestShutdown_RefusesWhileTasksParked(t *testing.T) {
	k := bootTestKernel(t, DefaultConfig())

	resumed := false
	tk, err := k.Spawn("yielder", cpu.Ring0, func() {
		assert.NoError(t, k.Tasks.DispatchTo(k.Tasks.Kernel()))
		resumed = true
	})
	require.NoError(t, err)
	require.NoError(t, k.Run(tk))
	require.Equal(t, task.Runnable, tk.State())

	require.ErrorIs(t, k.Shutdown(context.Background()), ErrTasksParked)

	require.NoError(t, k.Run(tk))
	assert.True(t, resumed)
	assert.Equal(t, task.Exited, tk.State())
	assert.Zero(t, k.CPU.Parked())
	require.NoError(t, k.Shutdown(context.Background()))
}

func TestShutdown_NeverDispatchedTasks(t *testing.T) {
	k := bootTestKernel(t, DefaultConfig())
	_, err := k.Spawn("idle", cpu.Ring3, func() {})
	require.NoError(t, err)
	require.NoError(t, k.Shutdown(context.Background()))
}

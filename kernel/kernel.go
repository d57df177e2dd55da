package kernel

import (
	"context"
	"errors"
	"fmt"

	"github.com/joshuapare/kernkit/cpu"
	"github.com/joshuapare/kernkit/internal/format"
	"github.com/joshuapare/kernkit/internal/logger"
	"github.com/joshuapare/kernkit/mem/buddy"
	"github.com/joshuapare/kernkit/mem/dirty"
	"github.com/joshuapare/kernkit/mem/frame"
	"github.com/joshuapare/kernkit/mem/heap"
	"github.com/joshuapare/kernkit/mem/paging"
	"github.com/joshuapare/kernkit/mem/physmem"
	"github.com/joshuapare/kernkit/task"
)

// StackLayout is the heap layout of a task stack.
var StackLayout = heap.Layout{Size: cpu.StackSize, Align: format.StackAlignment}

// ErrNoStack indicates the heap has no free stack slot.
var ErrNoStack = errors.New("kernel: no free stack")

// ErrNoUsableMemory indicates a memory map without any usable region.
var ErrNoUsableMemory = errors.New("kernel: no usable memory")

// ErrTasksParked indicates a Shutdown while tasks are suspended inside a
// switch. Their flows would be left blocked over unmapped memory.
var ErrTasksParked = errors.New("kernel: tasks still parked")

// Kernel is the process-wide kernel state.
type Kernel struct {
	cfg Config

	Mem    *physmem.Memory
	Dirty  *dirty.Tracker
	Frames *buddy.Allocator
	Heap   *heap.Allocator
	Alloc  *heap.Global
	CPU    *cpu.Sim
	Tasks  *task.Table

	root      uint64
	rootFrame frame.Record
	closed    bool
}

// Boot brings the kernel up: memory, frame allocator, kernel page table,
// heap, CPU and finally the boot flow as task 0.
func Boot(cfg Config) (*Kernel, error) {
	cfg = cfg.withDefaults()
	mem, err := physmem.Open(physmem.Options{
		Size:   cfg.MemorySize,
		Offset: cfg.Offset,
		Image:  cfg.Image,
	})
	if err != nil {
		return nil, fmt.Errorf("kernel: physical memory: %w", err)
	}
	k := &Kernel{cfg: cfg, Mem: mem, Dirty: dirty.NewTracker(mem)}
	if err := k.boot(); err != nil {
		_ = mem.Close()
		return nil, err
	}
	logger.Info("kernel: booted",
		"memory", mem.Size(), "regions", len(k.Frames.Regions()),
		"free_frames", k.Frames.Stats().Free, "root", k.root)
	return k, nil
}

func (k *Kernel) boot() error {
	ranges, err := k.cfg.MemoryMap.Usable(k.Mem.Frames())
	if err != nil {
		return err
	}

	k.Frames = buddy.New()
	for _, fr := range ranges {
		if len(k.Frames.Regions()) == buddy.MaxRegions {
			logger.Warn("kernel: ignoring usable memory past region limit",
				"base_frame", fr.Base, "frames", fr.Frames)
			continue
		}
		r, err := buddy.NewRegion(k.Mem, fr.Frames, fr.Base, k.Dirty)
		if errors.Is(err, buddy.ErrRegionTooSmall) {
			logger.Warn("kernel: skipping tiny region", "base_frame", fr.Base, "frames", fr.Frames)
			continue
		}
		if err != nil {
			return err
		}
		if err := k.Frames.AddRegion(r); err != nil {
			return err
		}
	}
	if len(k.Frames.Regions()) == 0 {
		return ErrNoUsableMemory
	}

	// The kernel root lives for the whole run.
	root, rec, err := paging.NewRoot(k.Mem, k.Frames)
	if err != nil {
		return fmt.Errorf("kernel: page table: %w", err)
	}
	if err := k.Frames.Pin(rec); err != nil {
		return err
	}
	if err := paging.MapKernelHalf(k.Mem, k.Frames, root, k.Mem.Offset()); err != nil {
		return fmt.Errorf("kernel: page table: %w", err)
	}
	k.root, k.rootFrame = root, rec

	k.Heap, err = heap.New(k.Mem, k.Frames, k.cfg.FramesPerClass)
	if err != nil {
		return fmt.Errorf("kernel: heap: %w", err)
	}
	k.Alloc = heap.NewGlobal(k.Heap)

	k.CPU = cpu.NewSim(k.Mem)
	k.CPU.LoadRoot(root)
	stack, err := k.NewStack()
	if err != nil {
		return err
	}
	k.CPU.SetStack(stack.Top())

	k.Tasks = task.NewTable(k.CPU, k.Mem, k.Frames)
	k.Tasks.Adopt(stack)
	if k.cfg.EnableInterrupts {
		k.CPU.EnableInterrupts()
	}
	return nil
}

// Config returns the configuration the kernel booted with, defaults applied.
func (k *Kernel) Config() Config { return k.cfg }

// Root returns the kernel page-table root.
func (k *Kernel) Root() uint64 { return k.root }

// NewStack takes a task stack from the heap. The stack returns itself to the
// heap when released.
func (k *Kernel) NewStack() (cpu.Stack, error) {
	p := k.Heap.Malloc(StackLayout)
	if p == 0 {
		return cpu.Stack{}, ErrNoStack
	}
	return cpu.Stack{
		Base: p,
		Size: cpu.StackSize,
		Release: func() {
			if err := k.Heap.Free(p, StackLayout); err != nil {
				logger.Error("kernel: stack release failed", "addr", p, "err", err)
			}
		},
	}, nil
}

// Spawn creates a task running fn on a fresh stack.
func (k *Kernel) Spawn(name string, ring int, fn cpu.Routine) (*task.Task, error) {
	stack, err := k.NewStack()
	if err != nil {
		return nil, err
	}
	t, err := k.Tasks.Spawn(name, stack, ring, fn)
	if err != nil {
		stack.Release()
		return nil, err
	}
	return t, nil
}

// Run dispatches t and returns once control comes back to the caller.
func (k *Kernel) Run(t *task.Task) error {
	return k.Tasks.DispatchTo(t)
}

// Stats is a snapshot of the kernel.
type Stats struct {
	Memory uint64                           `json:"memory_bytes"`
	Root   uint64                           `json:"page_table_root"`
	Frames buddy.Stats                      `json:"frames"`
	Heap   [heap.NumClasses]heap.ClassStats `json:"heap"`
	CPU    cpu.Stats                        `json:"cpu"`
	Tasks  []TaskInfo                       `json:"tasks"`
	Dirty  int                              `json:"dirty_frames"`
}

// TaskInfo describes one task.
type TaskInfo struct {
	ID    uint64 `json:"id"`
	Name  string `json:"name"`
	Ring  int    `json:"ring"`
	State string `json:"state"`
	Root  uint64 `json:"root"`
	SP    uint64 `json:"sp"`
}

// Stats returns a snapshot of every subsystem.
func (k *Kernel) Stats() Stats {
	s := Stats{
		Memory: k.Mem.Size(),
		Root:   k.root,
		Frames: k.Frames.Stats(),
		Heap:   k.Heap.Stats(),
		CPU:    k.CPU.Stats(),
		Dirty:  len(k.Dirty.Frames()),
	}
	for _, t := range k.Tasks.Tasks() {
		s.Tasks = append(s.Tasks, TaskInfo{
			ID:    t.ID,
			Name:  t.Name,
			Ring:  t.Ring,
			State: t.State().String(),
			Root:  t.Context.Root,
			SP:    t.Context.SP,
		})
	}
	return s
}

// Shutdown flushes dirty frames to the memory image and releases physical
// memory. The kernel must not be used afterwards.
//
// Tasks that switched away mid-run must be dispatched to completion first;
// Shutdown returns ErrTasksParked while any are waiting. Tasks that were
// created but never dispatched do not hold a flow and are simply dropped.
func (k *Kernel) Shutdown(ctx context.Context) error {
	if k.closed {
		return nil
	}
	if n := k.CPU.Parked(); n > 0 {
		return fmt.Errorf("%w: %d", ErrTasksParked, n)
	}
	if err := k.Dirty.Flush(ctx, k.cfg.FlushMode); err != nil {
		return fmt.Errorf("kernel: flush: %w", err)
	}
	k.closed = true
	logger.Info("kernel: shutdown", "free_frames", k.Frames.Stats().Free)
	return k.Mem.Close()
}

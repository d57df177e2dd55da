// Package task creates tasks and moves the CPU between them.
//
// A Table is the process-wide task state: the id counter and the active
// task. The boot flow becomes task 0 through Adopt; every later task gets a
// fresh stack, a page-table root cloned from the active one, and a start
// chain primed by SetContext so its first dispatch runs
//
//	thread_start -> entry -> thread_shutdown
//
// Scheduling policy is the caller's business. The table only dispatches.
package task

import (
	"fmt"
	"slices"

	"github.com/joshuapare/kernkit/cpu"
	"github.com/joshuapare/kernkit/internal/logger"
	"github.com/joshuapare/kernkit/mem/frame"
	"github.com/joshuapare/kernkit/mem/paging"
)

// State is a task's lifecycle stage.
type State int

const (
	Created State = iota
	Runnable
	Running
	Exited
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Runnable:
		return "runnable"
	case Running:
		return "running"
	case Exited:
		return "exited"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Memory is what tasks need of physical memory: words for stacks and
// frames for page tables.
type Memory interface {
	cpu.Memory
	paging.Memory
}

// Frames supplies and reclaims page-table root frames.
type Frames interface {
	paging.FrameSource
	DeallocFrame(rec frame.Record) error
}

// Task is one flow of control with its own stack and address space.
type Task struct {
	ID      uint64
	Ring    int
	Context *cpu.Context
	Name    string

	table     *Table
	state     State
	entry     uint64
	rootFrame frame.Record // invalid for the adopted kernel task
}

// State returns the task's lifecycle stage.
func (t *Task) State() State { return t.state }

// Entry returns the task's entry address, 0 until SetContext.
func (t *Task) Entry() uint64 { return t.entry }

// Table is the process-wide task state.
type Table struct {
	sim    *cpu.Sim
	mem    Memory
	frames Frames

	nextID  uint64
	active  *Task
	kernel  *Task
	tasks   []*Task
	zombies []*Task

	startAddr    uint64
	shutdownAddr uint64
}

// NewTable returns an empty table and installs the task trampolines in
// sim's text segment.
func NewTable(sim *cpu.Sim, mem Memory, frames Frames) *Table {
	t := &Table{sim: sim, mem: mem, frames: frames}
	t.startAddr = sim.Text().Register("thread_start", t.threadStart)
	t.shutdownAddr = sim.Text().Register("thread_shutdown", t.threadShutdown)
	return t
}

// Adopt turns the running boot flow into kernel task 0.
func (t *Table) Adopt(stack cpu.Stack) *Task {
	ctx := &cpu.Context{Stack: stack}
	t.sim.SaveCurrentContext(ctx)

	k := &Task{ID: t.nextID, Ring: t.sim.CPL(), Context: ctx, Name: "kernel", table: t, state: Running}
	t.nextID++
	t.kernel = k
	t.active = k
	t.tasks = append(t.tasks, k)
	logger.Debug("task: adopted boot flow", "id", k.ID, "sp", ctx.SP)
	return k
}

// Active returns the running task.
func (t *Table) Active() *Task { return t.active }

// Kernel returns task 0.
func (t *Table) Kernel() *Task { return t.kernel }

// Tasks returns every task created so far, exited ones included.
func (t *Table) Tasks() []*Task { return t.tasks }

// New creates a task over stack. Its address space starts with the active
// task's kernel mappings and nothing else.
func (t *Table) New(stack cpu.Stack, ring int) (*Task, error) {
	if t.active == nil {
		return nil, ErrNoActiveTask
	}
	if ring != cpu.Ring0 && ring != cpu.Ring3 {
		return nil, fmt.Errorf("%w: %d", ErrBadRing, ring)
	}
	root, rec, err := paging.CloneKernelRoot(t.mem, t.frames, t.sim.Root())
	if err != nil {
		return nil, fmt.Errorf("task: address space: %w", err)
	}

	tk := &Task{
		ID:        t.nextID,
		Ring:      ring,
		Context:   cpu.NewContext(t.mem, stack, root),
		table:     t,
		state:     Created,
		rootFrame: rec,
	}
	t.nextID++
	t.tasks = append(t.tasks, tk)
	logger.Debug("task: created", "id", tk.ID, "ring", ring, "root", root)
	return tk, nil
}

// SetContext primes tk's stack so that its first dispatch runs entry between
// the start and shutdown trampolines.
func (tk *Task) SetContext(entry uint64) error {
	t := tk.table
	if tk.state != Created {
		return fmt.Errorf("%w: task %d is %s", ErrPrimed, tk.ID, tk.state)
	}
	if !t.sim.Text().Has(entry) {
		return fmt.Errorf("%w: %#x", ErrBadEntry, entry)
	}
	for _, addr := range []uint64{t.shutdownAddr, entry, t.startAddr} {
		if err := tk.Context.PushStack(addr); err != nil {
			return fmt.Errorf("task %d: %w", tk.ID, err)
		}
	}
	tk.entry = entry
	if tk.Name == "" {
		tk.Name = t.sim.Text().Name(entry)
	}
	tk.state = Runnable
	return nil
}

// Spawn registers fn as a routine and creates a primed task running it.
func (t *Table) Spawn(name string, stack cpu.Stack, ring int, fn cpu.Routine) (*Task, error) {
	tk, err := t.New(stack, ring)
	if err != nil {
		return nil, err
	}
	tk.Name = name
	if err := tk.SetContext(t.sim.Text().Register(name, fn)); err != nil {
		t.discard(tk)
		return nil, err
	}
	return tk, nil
}

// discard drops a task that never became runnable and frees its root frame.
// Its id is not reused.
func (t *Table) discard(tk *Task) {
	if i := slices.Index(t.tasks, tk); i >= 0 {
		t.tasks = slices.Delete(t.tasks, i, i+1)
	}
	if err := t.frames.DeallocFrame(tk.rootFrame); err != nil {
		logger.Warn("task: root frame release failed", "id", tk.ID, "err", err)
	}
	tk.rootFrame = frame.Record{}
	tk.state = Exited
}

// DispatchTo switches from the active task to next. It returns when some
// later dispatch switches back to the caller.
func (t *Table) DispatchTo(next *Task) error {
	prev := t.active
	switch {
	case prev == nil:
		return ErrNoActiveTask
	case next.state == Exited:
		return fmt.Errorf("%w: task %d", ErrExited, next.ID)
	case next.state == Created:
		return fmt.Errorf("task %d: context not set", next.ID)
	case next == prev:
		return nil
	}

	if prev.state == Running {
		prev.state = Runnable
	}
	next.state = Running
	t.active = next
	t.sim.Switch(prev.Context, next.Context)

	// Resumed: prev is the active task again.
	t.enterRing(prev, cpu.ResumeAddr)
	t.reap()
	return nil
}

// threadStart runs first in every new task.
func (t *Table) threadStart() {
	tk := t.active
	logger.Debug("task: start", "id", tk.ID, "entry", t.sim.Text().Name(tk.entry))
	t.enterRing(tk, tk.entry)
}

// threadShutdown runs when a task's entry returns.
func (t *Table) threadShutdown() {
	tk := t.active
	t.sim.Trap()
	tk.state = Exited
	tk.Context.Release()
	t.zombies = append(t.zombies, tk)
	logger.Debug("task: exit", "id", tk.ID)

	k := t.kernel
	k.state = Running
	t.active = k
	t.sim.Abandon(tk.Context, k.Context)
}

// enterRing moves the CPU to tk's privilege level, continuing at rip.
func (t *Table) enterRing(tk *Task, rip uint64) {
	cpl := t.sim.CPL()
	switch {
	case cpl == tk.Ring:
	case tk.Ring > cpl:
		cs, ss := cpu.Selectors(tk.Ring)
		regs := t.sim.Regs()
		t.sim.PushIRetFrame(ss, regs.RSP, regs.RFlags, cs, rip)
		t.sim.IRet()
	default:
		t.sim.Trap()
	}
}

// reap frees the address spaces of exited tasks. It runs on a task that is
// not using any of them.
func (t *Table) reap() {
	for _, tk := range t.zombies {
		if tk.rootFrame.Valid() {
			if err := t.frames.DeallocFrame(tk.rootFrame); err != nil {
				logger.Warn("task: root frame release failed", "id", tk.ID, "err", err)
			}
			tk.rootFrame = frame.Record{}
		}
	}
	t.zombies = t.zombies[:0]
}

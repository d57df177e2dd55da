package cpu

import (
	"github.com/joshuapare/kernkit/internal/format"
	"github.com/joshuapare/kernkit/internal/logger"
)

// Handler services an interrupt vector.
type Handler func(vector int)

// Stats counts machine events.
type Stats struct {
	Switches   int `json:"switches"`
	RootLoads  int `json:"root_loads"`
	Interrupts int `json:"interrupts"`
	Deferred   int `json:"deferred"`
}

// Sim is the simulated CPU.
type Sim struct {
	mem  Memory
	regs Registers
	text *Text

	parked   map[uint64]chan struct{} // RSP of a parked switch frame -> wake
	inSwitch bool
	pending  []int
	handlers map[int]Handler
	stats    Stats

	// Test hook: called between the steps of a switch (nil in production)
	onStep func(step string)
}

// NewSim returns a CPU in ring 0 with interrupts disabled and no root loaded.
func NewSim(mem Memory) *Sim {
	return &Sim{
		mem: mem,
		regs: Registers{
			RFlags: FlagReserved,
			CS:     KernelCS,
			SS:     KernelSS,
		},
		text:     newText(),
		parked:   make(map[uint64]chan struct{}),
		handlers: make(map[int]Handler),
	}
}

// Text returns the CPU's text segment.
func (s *Sim) Text() *Text { return s.text }

// Regs returns a snapshot of the register file.
func (s *Sim) Regs() Registers { return s.regs }

// CPL returns the current privilege level.
func (s *Sim) CPL() int { return s.regs.CPL() }

// Root returns the loaded page-table root.
func (s *Sim) Root() uint64 { return s.regs.CR3 }

// Stats returns the event counters.
func (s *Sim) Stats() Stats { return s.stats }

// LoadRoot writes CR3.
func (s *Sim) LoadRoot(root uint64) {
	checkRoot(root)
	s.regs.CR3 = root
	s.stats.RootLoads++
}

// SetStack points RSP and RBP at top.
func (s *Sim) SetStack(top uint64) {
	s.regs.RSP = top
	s.regs.RBP = top
}

func checkRoot(root uint64) {
	if root == 0 || !format.IsPageAligned(root) {
		fault(PageFault, root, nil)
	}
}

// Push pushes v onto the live stack.
func (s *Sim) Push(v uint64) {
	sp := s.regs.RSP - format.WordSize
	if err := s.mem.WriteWord(sp, v); err != nil {
		fault(StackFault, sp, err)
	}
	s.regs.RSP = sp
}

// Pop pops a word off the live stack.
func (s *Sim) Pop() uint64 {
	v, err := s.mem.ReadWord(s.regs.RSP)
	if err != nil {
		fault(StackFault, s.regs.RSP, err)
	}
	s.regs.RSP += format.WordSize
	return v
}

// InterruptsEnabled reports whether IF is set.
func (s *Sim) InterruptsEnabled() bool { return s.regs.RFlags&FlagIF != 0 }

// EnableInterrupts sets IF and delivers anything pending.
func (s *Sim) EnableInterrupts() {
	s.regs.RFlags |= FlagIF
	s.deliverPending()
}

// DisableInterrupts clears IF.
func (s *Sim) DisableInterrupts() {
	s.regs.RFlags &^= FlagIF
}

// Handle installs h for vector.
func (s *Sim) Handle(vector int, h Handler) {
	s.handlers[vector] = h
}

// Raise signals vector. It is delivered at once in the current flow when
// interrupts are enabled and no switch is under way, and queued otherwise.
func (s *Sim) Raise(vector int) {
	s.pending = append(s.pending, vector)
	if !s.InterruptsEnabled() || s.inSwitch {
		s.stats.Deferred++
		return
	}
	s.deliverPending()
}

// Pending returns the number of queued interrupts.
func (s *Sim) Pending() int { return len(s.pending) }

func (s *Sim) deliverPending() {
	for len(s.pending) > 0 && s.InterruptsEnabled() && !s.inSwitch {
		vector := s.pending[0]
		s.pending = s.pending[1:]
		s.stats.Interrupts++

		h, ok := s.handlers[vector]
		if !ok {
			logger.Warn("cpu: spurious interrupt", "vector", vector)
			continue
		}
		// Interrupt gates run handlers with IF clear.
		flags := s.regs.RFlags
		s.regs.RFlags &^= FlagIF
		h(vector)
		s.regs.RFlags = flags
	}
}

func (s *Sim) step(name string) {
	if s.onStep != nil {
		s.onStep(name)
	}
}

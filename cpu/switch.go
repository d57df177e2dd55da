package cpu

import (
	"runtime"

	"github.com/joshuapare/kernkit/internal/format"
	"github.com/joshuapare/kernkit/internal/logger"
)

// Switch saves the running flow into prev and continues wherever next's
// stack directs. It returns when a later switch resumes prev.
func (s *Sim) Switch(prev, next *Context) {
	if prev == next {
		return
	}
	target := s.swap(prev, next, true)

	wake := make(chan struct{})
	s.parked[prev.SP] = wake
	s.transfer(target)

	<-wake
	s.finishSwitch()
}

// Abandon is Switch for a flow that never resumes: nothing is pushed on
// prev's stack and the calling goroutine exits. It must only be called from a
// flow the Sim started.
func (s *Sim) Abandon(prev, next *Context) {
	target := s.swap(prev, next, false)
	s.transfer(target)
	runtime.Goexit()
}

// SaveCurrentContext captures the live registers into ctx without switching.
func (s *Sim) SaveCurrentContext(ctx *Context) {
	ctx.Root = s.regs.CR3
	ctx.Flags = s.regs.RFlags
	ctx.RBX = s.regs.RBX
	ctx.R12 = s.regs.R12
	ctx.R13 = s.regs.R13
	ctx.R14 = s.regs.R14
	ctx.R15 = s.regs.R15
	ctx.SP = s.regs.RSP
	ctx.FP = s.regs.RBP
	if ctx.mem == nil {
		ctx.mem = s.mem
	}
}

// swap runs the register exchange and pops the address control continues at.
func (s *Sim) swap(prev, next *Context, push bool) uint64 {
	checkRoot(next.Root)

	flags := s.regs.RFlags
	s.regs.RFlags &^= FlagIF
	s.inSwitch = true
	s.stats.Switches++
	if push {
		s.Push(ResumeAddr)
	}
	s.step("enter")

	prev.Root = s.regs.CR3
	if next.Root != s.regs.CR3 {
		s.regs.CR3 = next.Root
		s.stats.RootLoads++
	}
	s.step("root")

	prev.Flags = flags
	s.regs.RFlags = next.Flags
	s.step("flags")

	prev.RBX, s.regs.RBX = s.regs.RBX, next.RBX
	prev.R12, s.regs.R12 = s.regs.R12, next.R12
	prev.R13, s.regs.R13 = s.regs.R13, next.R13
	prev.R14, s.regs.R14 = s.regs.R14, next.R14
	prev.R15, s.regs.R15 = s.regs.R15, next.R15
	s.step("registers")

	prev.SP, s.regs.RSP = s.regs.RSP, next.SP
	prev.FP, s.regs.RBP = s.regs.RBP, next.FP
	s.step("stack")

	target := s.Pop()
	s.regs.RIP = target
	switch {
	case target == ResumeAddr:
		if _, ok := s.parked[s.regs.RSP-format.WordSize]; !ok {
			fault(GeneralProtection, target, nil)
		}
	case !s.text.Has(target):
		fault(GeneralProtection, target, nil)
	}

	logger.Debug("cpu: switch", "from_sp", prev.SP, "to", s.text.Name(target), "cr3", s.regs.CR3)
	return target
}

// transfer hands the CPU to the flow at target. The caller must not touch the
// Sim afterwards until it is resumed.
func (s *Sim) transfer(target uint64) {
	if target == ResumeAddr {
		key := s.regs.RSP - format.WordSize
		wake := s.parked[key]
		delete(s.parked, key)
		close(wake)
		return
	}
	go s.run(target)
}

func (s *Sim) finishSwitch() {
	s.inSwitch = false
	s.deliverPending()
}

// run executes a fresh flow: the routine at addr, then each address its
// routines return to.
func (s *Sim) run(addr uint64) {
	s.finishSwitch()
	for {
		sym, ok := s.text.lookup(addr)
		if !ok || sym.fn == nil {
			fault(GeneralProtection, addr, nil)
		}
		s.regs.RIP = addr
		sym.fn()

		addr = s.Pop()
		if addr == ResumeAddr {
			// Returned into a parked switch frame: that flow continues.
			s.transfer(addr)
			return
		}
	}
}

// Parked returns the number of flows waiting to be resumed.
func (s *Sim) Parked() int { return len(s.parked) }

// PushIRetFrame pushes an interrupt-return frame onto the live stack.
func (s *Sim) PushIRetFrame(ss, rsp, rflags, cs, rip uint64) {
	s.Push(ss)
	s.Push(rsp)
	s.Push(rflags)
	s.Push(cs)
	s.Push(rip)
}

// IRet pops RIP, CS, RFLAGS, RSP and SS and continues at RIP with the
// privilege level of CS.
func (s *Sim) IRet() {
	rip := s.Pop()
	cs := s.Pop()
	rflags := s.Pop()
	rsp := s.Pop()
	ss := s.Pop()
	if cs&3 != ss&3 {
		fault(GeneralProtection, cs, nil)
	}
	s.regs.RIP = rip
	s.regs.CS = cs
	s.regs.RFlags = rflags | FlagReserved
	s.regs.RSP = rsp
	s.regs.SS = ss
	s.deliverPending()
}

// Trap enters ring 0 through a gate, as a system call would.
func (s *Sim) Trap() {
	s.regs.CS, s.regs.SS = Selectors(Ring0)
}

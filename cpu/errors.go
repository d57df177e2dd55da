package cpu

import (
	"errors"
	"fmt"
)

var (
	// ErrStackOverflow indicates a push below the stack's base.
	ErrStackOverflow = errors.New("cpu: stack overflow")

	// ErrStackUnderflow indicates a pop above the stack's top.
	ErrStackUnderflow = errors.New("cpu: stack underflow")
)

// FaultKind classifies a machine fault.
type FaultKind string

const (
	PageFault         FaultKind = "page fault"
	GeneralProtection FaultKind = "general protection"
	StackFault        FaultKind = "stack fault"
)

// Fault is the panic value of a machine fault. The simulated kernel has no
// fault handlers, so a fault ends the machine.
type Fault struct {
	Kind FaultKind
	Addr uint64
	Err  error
}

func (f *Fault) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("cpu: %s at %#x: %v", f.Kind, f.Addr, f.Err)
	}
	return fmt.Sprintf("cpu: %s at %#x", f.Kind, f.Addr)
}

func (f *Fault) Unwrap() error { return f.Err }

func fault(kind FaultKind, addr uint64, err error) {
	panic(&Fault{Kind: kind, Addr: addr, Err: err})
}

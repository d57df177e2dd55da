package cpu

import (
	"fmt"

	"github.com/joshuapare/kernkit/internal/format"
)

// StackSize is the size of every task stack.
const StackSize = format.PageSize

// Memory is the word-addressed view of memory stacks live in.
type Memory interface {
	ReadWord(virt uint64) (uint64, error)
	WriteWord(virt, v uint64) error
}

// Stack is a task stack owned by a Context. Base is its lowest address.
type Stack struct {
	Base    uint64
	Size    uint64
	Release func() // returns the memory to its allocator; may be nil
}

// Top returns the address one past the highest byte of the stack.
func (s Stack) Top() uint64 { return s.Base + s.Size }

// Context is the saved execution state of one flow of control.
type Context struct {
	Root  uint64 // page-table root
	Flags uint64
	RBX   uint64
	R12   uint64
	R13   uint64
	R14   uint64
	R15   uint64
	SP    uint64
	FP    uint64

	Stack Stack
	mem   Memory
}

// NewContext returns a context over an empty stack. The flow it describes
// starts with interrupts enabled.
func NewContext(mem Memory, stack Stack, root uint64) *Context {
	return &Context{
		Root:  root,
		Flags: FlagReserved | FlagIF,
		SP:    stack.Top(),
		FP:    stack.Top(),
		Stack: stack,
		mem:   mem,
	}
}

// PushStack pushes v onto the context's saved stack. It is only meaningful
// before the context first runs.
func (c *Context) PushStack(v uint64) error {
	if c.SP < c.Stack.Base+format.WordSize {
		return fmt.Errorf("%w: sp %#x base %#x", ErrStackOverflow, c.SP, c.Stack.Base)
	}
	if err := c.mem.WriteWord(c.SP-format.WordSize, v); err != nil {
		return err
	}
	c.SP -= format.WordSize
	return nil
}

// PopStack pops the word at the context's saved stack pointer.
func (c *Context) PopStack() (uint64, error) {
	if c.SP+format.WordSize > c.Stack.Top() {
		return 0, fmt.Errorf("%w: sp %#x top %#x", ErrStackUnderflow, c.SP, c.Stack.Top())
	}
	v, err := c.mem.ReadWord(c.SP)
	if err != nil {
		return 0, err
	}
	c.SP += format.WordSize
	return v, nil
}

// Depth returns the number of words on the saved stack.
func (c *Context) Depth() int {
	return int((c.Stack.Top() - c.SP) / format.WordSize)
}

// Release hands the stack back to its owner. It is safe to call twice.
func (c *Context) Release() {
	if c.Stack.Release != nil {
		c.Stack.Release()
		c.Stack.Release = nil
	}
}

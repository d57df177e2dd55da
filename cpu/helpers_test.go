package cpu

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/kernkit/internal/format"
	"github.com/joshuapare/kernkit/mem/physmem"
)

const (
	rootX uint64 = 0x1000
	rootY uint64 = 0x2000
)

func newTestMemory(t *testing.T) *physmem.Memory {
	t.Helper()
	m, err := physmem.Open(physmem.Options{Size: 16 * format.PageSize})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

// stackAt returns a stack over frame i.
func stackAt(mem *physmem.Memory, i uint64) Stack {
	return Stack{Base: mem.PhysToVirt(format.FrameAddr(i)), Size: StackSize}
}

// bootSim returns a CPU running a boot flow on frame 1 with root X, and the
// boot flow's context.
func bootSim(t *testing.T) (*physmem.Memory, *Sim, *Context) {
	t.Helper()
	mem := newTestMemory(t)
	s := NewSim(mem)
	s.LoadRoot(rootX)
	s.SetStack(stackAt(mem, 1).Top())

	boot := &Context{Stack: stackAt(mem, 1)}
	s.SaveCurrentContext(boot)
	return mem, s, boot
}

// catchFault runs fn and returns the machine fault it raised.
func catchFault(t *testing.T, fn func()) (f *Fault) {
	t.Helper()
	defer func() {
		r := recover()
		require.NotNil(t, r, "expected a fault")
		var ok bool
		f, ok = r.(*Fault)
		require.True(t, ok, "panic value %v is not a fault", r)
	}()
	fn()
	return nil
}

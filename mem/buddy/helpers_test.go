package buddy

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/kernkit/internal/format"
	"github.com/joshuapare/kernkit/mem/physmem"
)

// newTestMemory maps an anonymous arena of the given number of frames.
func newTestMemory(t testing.TB, frames uint64) *physmem.Memory {
	t.Helper()
	m, err := physmem.Open(physmem.Options{Size: frames * format.PageSize})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

// newTestRegion builds a region spanning a fresh arena of total frames.
func newTestRegion(t testing.TB, total uint64) *Region {
	t.Helper()
	r, err := NewRegion(newTestMemory(t, total), total, 0, nil)
	require.NoError(t, err)
	return r
}

// mockDirtyTracker is a spy that records all Add() calls.
type mockDirtyTracker struct {
	calls []dirtyCall
}

type dirtyCall struct {
	off, length int
}

func (m *mockDirtyTracker) Add(off, length int) {
	m.calls = append(m.calls, dirtyCall{off, length})
}

// covers reports whether some call covered [off, off+length).
func (m *mockDirtyTracker) covers(off, length int) bool {
	for _, c := range m.calls {
		if c.off <= off && off+length <= c.off+c.length {
			return true
		}
	}
	return false
}

// layoutOf builds the expected Layout() from order:count pairs.
func layoutOf(pairs map[int]int) [MaxLevel]int {
	var out [MaxLevel]int
	for level, n := range pairs {
		out[level] = n
	}
	return out
}

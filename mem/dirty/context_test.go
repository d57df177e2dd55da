package dirty_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/kernkit/mem/dirty"
	"github.com/joshuapare/kernkit/mem/physmem"
)

// TestFlush_ContextCancellation verifies a cancelled flush keeps its ranges.
func TestFlush_ContextCancellation(t *testing.T) {
	m, err := physmem.Open(physmem.Options{
		Size:  8 * 4096,
		Image: filepath.Join(t.TempDir(), "mem.img"),
	})
	require.NoError(t, err)
	defer m.Close()

	dt := dirty.NewTracker(m)
	dt.Add(0, 4096)
	dt.Add(2*4096, 4096)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = dt.Flush(ctx, dirty.FlushFull)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 2, dt.Len())

	require.NoError(t, dt.Flush(context.Background(), dirty.FlushFull))
	require.Equal(t, 0, dt.Len())
}

// TestFlush_EmptyTracker verifies flushing nothing is a no-op.
func TestFlush_EmptyTracker(t *testing.T) {
	m, err := physmem.Open(physmem.Options{Size: 4096})
	require.NoError(t, err)
	defer m.Close()

	var _ dirty.DirtyTracker = dirty.NewTracker(m)
	require.NoError(t, dirty.NewTracker(m).Flush(context.Background(), dirty.FlushDataOnly))
}

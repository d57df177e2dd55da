package buddy

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/kernkit/mem/frame"
)

// Test_Property_FrameConservation performs random alloc/free and checks that
// free plus allocated frames always equals the region size.
func Test_Property_FrameConservation(t *testing.T) {
	for _, total := range []uint64{2, 67, 1032, 1512, 2064} {
		r := newTestRegion(t, total)
		rng := rand.New(rand.NewSource(int64(total))) // Fixed seed for reproducibility
		var held []frame.Record
		var allocated uint64

		for i := range 500 {
			if rng.Intn(3) > 0 || len(held) == 0 {
				n := uint64(1) << rng.Intn(MaxLevel)
				if rec, ok := r.RequestFrames(n); ok {
					held = append(held, rec)
					allocated += n
				}
			} else {
				j := rng.Intn(len(held))
				rec := held[j]
				held = append(held[:j], held[j+1:]...)
				allocated -= 1 << rec.Level()
				require.NoError(t, r.RetrieveFrame(rec), "step %d", i)
			}

			require.Equal(t, r.Size(), r.FreeFrames()+allocated, "total %d step %d", total, i)
			require.NoError(t, r.Check(), "total %d step %d", total, i)
		}

		for _, rec := range held {
			require.NoError(t, r.RetrieveFrame(rec))
		}
		require.Equal(t, r.Size(), r.FreeFrames())
		require.NoError(t, r.Check())

		fresh := newTestRegion(t, total)
		require.Equal(t, fresh.Layout(), r.Layout(), "total %d: full release coalesces completely", total)
	}
}

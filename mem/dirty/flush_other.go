//go:build !linux && !freebsd && !darwin

package dirty

import "context"

// flushRanges is a no-op where the image is not memory-mapped; internal/mmfile
// writes the whole image back when it is closed.
func (t *Tracker) flushRanges(ctx context.Context, _ []byte) error {
	return ctx.Err()
}

func fdatasync(int) error { return nil }

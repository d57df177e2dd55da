// Package dirty tracks which physical frames have been written since the last
// flush and persists them when memory is backed by an image file.
//
// The tracker maintains a list of dirty byte ranges, coalesces them into
// frame-aligned ranges, and flushes them with msync. Anonymous memory has
// nothing to persist, so a flush only clears the ranges.
//
// # Usage Example
//
//	dt := dirty.NewTracker(mem)
//	region, err := buddy.NewRegion(mem, frames, base, dt)
//	...
//	if err := dt.Flush(ctx, dirty.FlushFull); err != nil {
//	    return err
//	}
//
// # Thread Safety
//
// Tracker is NOT thread-safe. Only one flow should use it at a time.
package dirty

package dirty

import (
	"context"
	"sort"

	"github.com/joshuapare/kernkit/internal/format"
)

// defaultRangeCapacity is the pre-allocated capacity for dirty ranges.
const defaultRangeCapacity = 64

// FlushMode controls durability of a flush.
type FlushMode int

const (
	// FlushDataOnly msyncs dirty frames; the caller syncs the descriptor later.
	FlushDataOnly FlushMode = iota

	// FlushFull msyncs dirty frames and then syncs the image descriptor.
	FlushFull
)

// Range represents a dirty byte range (physical addresses).
type Range struct {
	Off int64 // Physical address of the first byte
	Len int64 // Length in bytes
}

// Tracker accumulates dirty ranges and flushes them efficiently.
type Tracker struct {
	mem      Backing
	ranges   []Range // Dirty ranges, coalesced at flush time
	pageSize int64
}

// NewTracker creates a dirty tracker for mem.
func NewTracker(mem Backing) *Tracker {
	return &Tracker{
		mem:      mem,
		ranges:   make([]Range, 0, defaultRangeCapacity),
		pageSize: format.PageSize,
	}
}

// Add records a dirty range. Zero-length ranges are ignored.
func (t *Tracker) Add(off, length int) {
	if length <= 0 {
		return
	}
	t.ranges = append(t.ranges, Range{
		Off: int64(off),
		Len: int64(length),
	})
}

// Len returns the number of raw (uncoalesced) ranges recorded.
func (t *Tracker) Len() int { return len(t.ranges) }

// Frames returns the sorted indices of every dirty frame.
func (t *Tracker) Frames() []uint64 {
	var out []uint64
	for _, r := range t.coalesce() {
		for off := r.Off; off < r.Off+r.Len; off += t.pageSize {
			out = append(out, uint64(off/t.pageSize))
		}
	}
	return out
}

// Flush persists every dirty frame and clears the ranges.
//
// The context can be used to cancel the flush. If cancelled mid-way, some
// ranges may have been flushed while others have not; the ranges are kept so
// a later Flush retries them.
func (t *Tracker) Flush(ctx context.Context, mode FlushMode) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(t.ranges) == 0 {
		return nil
	}

	fd := t.mem.FD()
	data := t.mem.Bytes()
	if fd < 0 || len(data) == 0 {
		// Anonymous memory: nothing reaches disk.
		t.ranges = t.ranges[:0]
		return nil
	}

	if err := t.flushRanges(ctx, data); err != nil {
		return err
	}

	if mode == FlushFull {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fdatasync(fd); err != nil {
			return err
		}
	}

	t.ranges = t.ranges[:0]
	return nil
}

// Reset clears all tracked ranges.
func (t *Tracker) Reset() {
	t.ranges = t.ranges[:0]
}

// DebugRanges returns a copy of the raw, uncoalesced ranges.
func (t *Tracker) DebugRanges() []Range {
	result := make([]Range, len(t.ranges))
	copy(result, t.ranges)
	return result
}

// DebugCoalescedRanges returns the frame-aligned ranges a flush would write.
func (t *Tracker) DebugCoalescedRanges() []Range {
	return t.coalesce()
}

// coalesce frame-aligns all ranges, sorts them, and merges overlapping or
// adjacent ranges.
func (t *Tracker) coalesce() []Range {
	if len(t.ranges) == 0 {
		return nil
	}

	aligned := make([]Range, len(t.ranges))
	for i, r := range t.ranges {
		start := (r.Off / t.pageSize) * t.pageSize
		end := r.Off + r.Len
		if end%t.pageSize != 0 {
			end = ((end / t.pageSize) + 1) * t.pageSize
		}
		aligned[i] = Range{Off: start, Len: end - start}
	}

	sort.Slice(aligned, func(i, j int) bool {
		return aligned[i].Off < aligned[j].Off
	})

	merged := make([]Range, 0, len(aligned))
	current := aligned[0]
	for _, next := range aligned[1:] {
		if next.Off <= current.Off+current.Len {
			if end := next.Off + next.Len; end > current.Off+current.Len {
				current.Len = end - current.Off
			}
			continue
		}
		merged = append(merged, current)
		current = next
	}
	return append(merged, current)
}

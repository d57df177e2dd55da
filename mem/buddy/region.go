package buddy

import (
	"fmt"
	"os"

	"github.com/bytedance/gopkg/lang/mcache"
	"github.com/bytedance/gopkg/util/xxhash3"

	"github.com/joshuapare/kernkit/internal/buf"
	"github.com/joshuapare/kernkit/internal/format"
	"github.com/joshuapare/kernkit/internal/ilist"
	"github.com/joshuapare/kernkit/internal/logger"
	"github.com/joshuapare/kernkit/mem/dirty"
	"github.com/joshuapare/kernkit/mem/frame"
)

// MaxLevel is the number of buddy orders. The largest block is
// 2^(MaxLevel-1) frames.
const MaxLevel = 11

// Runtime debug flag for allocation logging - controlled by KERNKIT_LOG_ALLOC env var.
var logAlloc = os.Getenv("KERNKIT_LOG_ALLOC") != ""

// Memory is the physical memory a region carves frames from.
type Memory interface {
	// Bytes returns the arena indexed by physical address.
	Bytes() []byte
	// PhysToVirt returns the direct-map address of a physical address.
	PhysToVirt(phys uint64) uint64
}

// Region is a buddy allocator over one contiguous run of physical frames.
type Region struct {
	mem   Memory
	arena []byte
	dt    dirty.DirtyTracker // nil when nothing tracks writes

	baseFrameIndex  uint64 // first frame of the region (metadata included)
	startFrameIndex uint64 // first usable frame
	metaFrames      uint64
	size            uint64 // usable frames
	freeFrameCount  uint64

	freeLists [MaxLevel]ilist.List
}

// metadataFrames returns the smallest m such that the last total-m frames
// can be described by records stored in the first m.
func metadataFrames(total uint64) (uint64, bool) {
	bytes, ok := buf.MulOverflowSafe(total, frame.RecordSize)
	if !ok {
		return 0, false
	}
	per := uint64(format.PageSize + frame.RecordSize)
	return bytes/per + min(bytes%per, 1), true
}

// NewRegion builds a region over frames [baseFrameIndex, baseFrameIndex+frames)
// and places every usable frame on a free list. dt may be nil.
func NewRegion(mem Memory, frames, baseFrameIndex uint64, dt dirty.DirtyTracker) (*Region, error) {
	arena := mem.Bytes()
	limit := uint64(len(arena)) >> format.PageShift
	if baseFrameIndex > limit || frames > limit-baseFrameIndex {
		return nil, fmt.Errorf("%w: frames [%d, %d) limit %d",
			ErrOutOfRange, baseFrameIndex, baseFrameIndex+frames, limit)
	}
	meta, ok := metadataFrames(frames)
	if !ok {
		return nil, fmt.Errorf("%w: %d frames", ErrOutOfRange, frames)
	}
	if meta >= frames {
		return nil, fmt.Errorf("%w: %d frames", ErrRegionTooSmall, frames)
	}

	r := &Region{
		mem:             mem,
		arena:           arena,
		dt:              dt,
		baseFrameIndex:  baseFrameIndex,
		startFrameIndex: baseFrameIndex + meta,
		metaFrames:      meta,
		size:            frames - meta,
	}

	for i := range r.size {
		index := r.startFrameIndex + i
		r.record(i).Init(frame.Free, mem.PhysToVirt(format.FrameAddr(index)), index)
	}
	r.markDirty(format.FrameAddr(baseFrameIndex), r.size*frame.RecordSize)

	// Largest blocks first keeps every block aligned to its own size.
	var local uint64
	for remaining := r.size; remaining > 0; {
		level := min(format.Log2(remaining), MaxLevel-1)
		r.pushFree(local, level)
		local += 1 << level
		remaining -= 1 << level
	}
	r.freeFrameCount = r.size

	if logAlloc {
		logger.Debug("buddy: region ready",
			"base", baseFrameIndex, "start", r.startFrameIndex,
			"usable", r.size, "metadata", meta)
	}
	return r, nil
}

// record returns the record of usable frame local.
func (r *Region) record(local uint64) frame.Record {
	off := format.FrameAddr(r.baseFrameIndex) + local*frame.RecordSize
	rec, _ := frame.View(r.arena[off : off+frame.RecordSize])
	return rec
}

// nodeOffset returns the arena offset of the free-list node in frame local.
func (r *Region) nodeOffset(local uint64) uint64 {
	return format.FrameAddr(r.startFrameIndex + local)
}

func (r *Region) markDirty(phys, n uint64) {
	if r.dt != nil {
		r.dt.Add(int(phys), int(n))
	}
}

// pushFree links the block at local as a free head of order level.
func (r *Region) pushFree(local uint64, level uint32) {
	rec := r.record(local)
	rec.SetLevel(level)
	rec.ClearFlags(frame.Head)
	rec.AddFlags(frame.Free)
	r.freeLists[level].Push(r.arena, r.nodeOffset(local), rec.GlobalIndex())
}

// Size returns the number of usable frames.
func (r *Region) Size() uint64 { return r.size }

// FreeFrames returns the number of frames not handed out.
func (r *Region) FreeFrames() uint64 { return r.freeFrameCount }

// BaseFrameIndex returns the first frame of the region, metadata included.
func (r *Region) BaseFrameIndex() uint64 { return r.baseFrameIndex }

// StartFrameIndex returns the first usable frame.
func (r *Region) StartFrameIndex() uint64 { return r.startFrameIndex }

// MetadataFrames returns the number of frames holding the record table.
func (r *Region) MetadataFrames() uint64 { return r.metaFrames }

// Contains reports whether globalIndex is a usable frame of r.
func (r *Region) Contains(globalIndex uint64) bool {
	return globalIndex >= r.startFrameIndex && globalIndex-r.startFrameIndex < r.size
}

// Record returns the record of a usable frame.
func (r *Region) Record(globalIndex uint64) (frame.Record, bool) {
	if !r.Contains(globalIndex) {
		return frame.Record{}, false
	}
	return r.record(globalIndex - r.startFrameIndex), true
}

// Split makes sure a free block of order target exists, splitting larger
// blocks as needed. It fails only when no block of order target or above is
// free.
func (r *Region) Split(target uint32) bool {
	if target >= MaxLevel {
		return false
	}
	if !r.freeLists[target].Empty() {
		return true
	}
	if target+1 >= MaxLevel || !r.Split(target+1) {
		return false
	}

	_, index, ok := r.freeLists[target+1].Pop(r.arena)
	if !ok {
		return false
	}
	local := index - r.startFrameIndex
	sibling := local + 1<<target

	// The sibling goes in first so the original head is popped next.
	r.pushFree(sibling, target)
	r.pushFree(local, target)

	if logAlloc {
		logger.Debug("buddy: split", "frame", index, "order", target+1,
			"sibling", r.startFrameIndex+sibling)
	}
	return true
}

// RequestFrames allocates a block of n frames. n must be a power of two no
// larger than the region; the head record of the block is returned.
func (r *Region) RequestFrames(n uint64) (frame.Record, bool) {
	if !format.IsPowerOfTwo(n) || n > r.size {
		return frame.Record{}, false
	}
	level := format.Log2(n)
	if level >= MaxLevel {
		return frame.Record{}, false
	}
	if r.freeLists[level].Empty() && !r.Split(level) {
		return frame.Record{}, false
	}

	_, index, ok := r.freeLists[level].Pop(r.arena)
	if !ok {
		return frame.Record{}, false
	}
	rec := r.record(index - r.startFrameIndex)
	rec.ClearFlags(frame.Free)
	rec.AddFlags(frame.Head | frame.Dirty)
	r.freeFrameCount -= n

	r.markDirty(rec.PhysAddr(), n<<format.PageShift)
	if logAlloc {
		logger.Debug("buddy: alloc", "frame", index, "order", level, "free", r.freeFrameCount)
	}
	return rec, true
}

// isFreeBuddyFrame reports whether rec may merge with a block of order level.
func isFreeBuddyFrame(rec frame.Record, level uint32) bool {
	return rec.Level() == level &&
		rec.RefCount() == 0 &&
		!rec.Has(frame.Taken) &&
		!rec.Has(frame.Head)
}

// RetrieveFrame returns the block headed by rec to the region and merges it
// with free buddies as far as possible.
func (r *Region) RetrieveFrame(rec frame.Record) error {
	if !rec.Valid() || !r.Contains(rec.GlobalIndex()) {
		return fmt.Errorf("%w: %s", ErrNotOwned, rec)
	}
	local := rec.GlobalIndex() - r.startFrameIndex
	head := r.record(local)
	switch {
	case !head.Has(frame.Head):
		return fmt.Errorf("%w: %s", ErrNotHead, head)
	case head.RefCount() > 0:
		return fmt.Errorf("%w: %s", ErrStillReferenced, head)
	case head.Has(frame.Taken):
		return fmt.Errorf("%w: %s", ErrTaken, head)
	}

	level := head.Level()
	r.freeFrameCount += 1 << level
	head.ClearFlags(frame.Head | frame.Dirty)
	r.markDirty(format.FrameAddr(r.baseFrameIndex)+local*frame.RecordSize, frame.RecordSize)

	for level < MaxLevel-1 {
		buddy := local ^ (1 << level)
		if buddy >= r.size || buddy+1<<level > r.size {
			break
		}
		if !isFreeBuddyFrame(r.record(buddy), level) {
			break
		}
		if _, ok := r.freeLists[level].Remove(r.arena, r.startFrameIndex+buddy); !ok {
			break
		}
		if logAlloc {
			logger.Debug("buddy: merge", "frame", r.startFrameIndex+local,
				"buddy", r.startFrameIndex+buddy, "order", level)
		}
		local = min(local, buddy)
		level++
	}

	r.pushFree(local, level)
	if logAlloc {
		logger.Debug("buddy: free", "frame", r.startFrameIndex+local, "order", level,
			"free", r.freeFrameCount)
	}
	return nil
}

// Pin marks an allocated block as taken: it can neither be retrieved nor
// merged with until Unpin.
func (r *Region) Pin(rec frame.Record) error {
	head, err := r.allocatedHead(rec)
	if err != nil {
		return err
	}
	head.AddFlags(frame.Taken)
	return nil
}

// Unpin clears a pin set by Pin.
func (r *Region) Unpin(rec frame.Record) error {
	head, err := r.allocatedHead(rec)
	if err != nil {
		return err
	}
	head.ClearFlags(frame.Taken)
	return nil
}

func (r *Region) allocatedHead(rec frame.Record) (frame.Record, error) {
	if !rec.Valid() || !r.Contains(rec.GlobalIndex()) {
		return frame.Record{}, fmt.Errorf("%w: %s", ErrNotOwned, rec)
	}
	head := r.record(rec.GlobalIndex() - r.startFrameIndex)
	if !head.Has(frame.Head) {
		return frame.Record{}, fmt.Errorf("%w: %s", ErrNotHead, head)
	}
	return head, nil
}

// Layout returns the number of free blocks of each order.
func (r *Region) Layout() [MaxLevel]int {
	var out [MaxLevel]int
	for level := range r.freeLists {
		out[level] = r.freeLists[level].Len()
	}
	return out
}

// FreeBlocks returns the global index of every free block head of order
// level, in list order.
func (r *Region) FreeBlocks(level uint32) []uint64 {
	if level >= MaxLevel {
		return nil
	}
	out := make([]uint64, 0, r.freeLists[level].Len())
	r.freeLists[level].Walk(r.arena, func(_, index uint64) bool {
		out = append(out, index)
		return true
	})
	return out
}

// Fingerprint hashes the ordered contents of every free list. Two states with
// the same fingerprint have the same free-list layout.
func (r *Region) Fingerprint() uint64 {
	n := 0
	for level := range r.freeLists {
		n += 1 + r.freeLists[level].Len()
	}
	scratch := mcache.Malloc(n * format.WordSize)
	defer mcache.Free(scratch)

	pos := 0
	for level := range r.freeLists {
		// Level separators keep [a][b] distinct from [a b][].
		format.PutWord(scratch, pos, ^uint64(level))
		pos += format.WordSize
		r.freeLists[level].Walk(r.arena, func(_, index uint64) bool {
			format.PutWord(scratch, pos, index)
			pos += format.WordSize
			return true
		})
	}
	return xxhash3.Hash(scratch[:pos])
}

// Check verifies that every usable frame belongs to exactly one free or
// allocated block and that the free count matches the free lists.
func (r *Region) Check() error {
	if need := format.PagesFor(r.size * frame.RecordSize); need > r.metaFrames {
		return fmt.Errorf("%w: %d usable frames need %d metadata frames, have %d",
			ErrCorrupt, r.size, need, r.metaFrames)
	}
	freeHeads := make(map[uint64]uint32)
	var listed uint64
	for level := range r.freeLists {
		var err error
		r.freeLists[level].Walk(r.arena, func(_, index uint64) bool {
			if !r.Contains(index) {
				err = fmt.Errorf("%w: frame %d on order %d list outside region", ErrCorrupt, index, level)
				return false
			}
			if _, dup := freeHeads[index]; dup {
				err = fmt.Errorf("%w: frame %d listed twice", ErrCorrupt, index)
				return false
			}
			rec := r.record(index - r.startFrameIndex)
			if rec.Level() != uint32(level) || rec.Has(frame.Head) {
				err = fmt.Errorf("%w: order %d list holds %s", ErrCorrupt, level, rec)
				return false
			}
			freeHeads[index] = uint32(level)
			listed += 1 << level
			return true
		})
		if err != nil {
			return err
		}
	}
	if listed != r.freeFrameCount {
		return fmt.Errorf("%w: lists hold %d frames, free count %d", ErrCorrupt, listed, r.freeFrameCount)
	}

	var local, allocated uint64
	for local < r.size {
		index := r.startFrameIndex + local
		if level, ok := freeHeads[index]; ok {
			local += 1 << level
			continue
		}
		rec := r.record(local)
		if !rec.Has(frame.Head) {
			return fmt.Errorf("%w: frame %d belongs to no block", ErrCorrupt, index)
		}
		allocated += 1 << rec.Level()
		local += 1 << rec.Level()
	}
	if local != r.size || allocated+listed != r.size {
		return fmt.Errorf("%w: %d free + %d allocated frames, region has %d",
			ErrCorrupt, listed, allocated, r.size)
	}
	return nil
}

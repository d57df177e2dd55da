package buddy

import (
	"fmt"

	"github.com/joshuapare/kernkit/internal/logger"
	"github.com/joshuapare/kernkit/mem/frame"
)

// MaxRegions bounds the number of regions an Allocator manages.
const MaxRegions = 4

// Allocator hands out frames from a fixed set of regions.
type Allocator struct {
	regions [MaxRegions]*Region
	n       int
}

// New returns an allocator without regions.
func New() *Allocator {
	return &Allocator{}
}

// AddRegion registers r. Regions must not overlap.
func (a *Allocator) AddRegion(r *Region) error {
	if a.n == MaxRegions {
		return fmt.Errorf("%w: limit %d", ErrTooManyRegions, MaxRegions)
	}
	lo, hi := r.baseFrameIndex, r.startFrameIndex+r.size
	for _, o := range a.Regions() {
		if lo < o.startFrameIndex+o.size && o.baseFrameIndex < hi {
			return fmt.Errorf("%w: [%d, %d) and [%d, %d)", ErrOverlap,
				lo, hi, o.baseFrameIndex, o.startFrameIndex+o.size)
		}
	}
	a.regions[a.n] = r
	a.n++
	logger.Debug("buddy: region added", "base", r.baseFrameIndex, "usable", r.size)
	return nil
}

// Regions returns the registered regions in registration order.
func (a *Allocator) Regions() []*Region {
	return a.regions[:a.n]
}

// AllocFrames allocates n contiguous frames. Later regions are tried first.
func (a *Allocator) AllocFrames(n uint64) (frame.Record, bool) {
	for i := a.n - 1; i >= 0; i-- {
		if rec, ok := a.regions[i].RequestFrames(n); ok {
			return rec, true
		}
	}
	return frame.Record{}, false
}

// AllocateFrame allocates a single 4 KiB frame.
func (a *Allocator) AllocateFrame() (frame.Record, bool) {
	return a.AllocFrames(1)
}

// Owner returns the region whose usable range contains globalIndex.
func (a *Allocator) Owner(globalIndex uint64) (*Region, bool) {
	for _, r := range a.Regions() {
		if r.Contains(globalIndex) {
			return r, true
		}
	}
	return nil, false
}

// DeallocFrame returns the block headed by rec to its owning region.
func (a *Allocator) DeallocFrame(rec frame.Record) error {
	if !rec.Valid() {
		return fmt.Errorf("%w: %s", ErrNotOwned, rec)
	}
	r, ok := a.Owner(rec.GlobalIndex())
	if !ok {
		return fmt.Errorf("%w: frame %d", ErrNotOwned, rec.GlobalIndex())
	}
	return r.RetrieveFrame(rec)
}

// Record returns the record of any usable frame.
func (a *Allocator) Record(globalIndex uint64) (frame.Record, bool) {
	r, ok := a.Owner(globalIndex)
	if !ok {
		return frame.Record{}, false
	}
	return r.Record(globalIndex)
}

// Pin marks an allocated block as taken in its owning region.
func (a *Allocator) Pin(rec frame.Record) error {
	if !rec.Valid() {
		return fmt.Errorf("%w: %s", ErrNotOwned, rec)
	}
	r, ok := a.Owner(rec.GlobalIndex())
	if !ok {
		return fmt.Errorf("%w: frame %d", ErrNotOwned, rec.GlobalIndex())
	}
	return r.Pin(rec)
}

// RegionStats summarises one region.
type RegionStats struct {
	Base       uint64        `json:"base_frame"`
	Start      uint64        `json:"start_frame"`
	Metadata   uint64        `json:"metadata_frames"`
	Size       uint64        `json:"usable_frames"`
	Free       uint64        `json:"free_frames"`
	FreeBlocks [MaxLevel]int `json:"free_blocks"`
}

// Stats summarises the allocator.
type Stats struct {
	Regions []RegionStats `json:"regions"`
	Size    uint64        `json:"usable_frames"`
	Free    uint64        `json:"free_frames"`
}

// Stats returns a snapshot of every region.
func (a *Allocator) Stats() Stats {
	var s Stats
	for _, r := range a.Regions() {
		s.Regions = append(s.Regions, RegionStats{
			Base:       r.baseFrameIndex,
			Start:      r.startFrameIndex,
			Metadata:   r.metaFrames,
			Size:       r.size,
			Free:       r.freeFrameCount,
			FreeBlocks: r.Layout(),
		})
		s.Size += r.size
		s.Free += r.freeFrameCount
	}
	return s
}

// Check runs Region.Check on every region.
func (a *Allocator) Check() error {
	for i, r := range a.Regions() {
		if err := r.Check(); err != nil {
			return fmt.Errorf("region %d: %w", i, err)
		}
	}
	return nil
}

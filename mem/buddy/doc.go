// Package buddy implements the physical frame allocator.
//
// # Overview
//
// Physical memory is handed to the allocator as up to MaxRegions disjoint
// regions. Each Region runs a binary buddy system over its frames: blocks are
// powers of two in size (order 0 is one 4 KiB frame, order MaxLevel-1 is
// 1024 frames), split in half on demand and merged with their buddy on
// release.
//
// # Region Layout
//
// A region reserves its leading frames for the frame.Record table that
// describes the remaining, usable frames:
//
//	base                     start                                  end
//	| records (32 B / frame) | usable frames ......................... |
//
// The reservation is the smallest number of frames that can hold one record
// per usable frame, so a region of 1032 frames provides 1024 usable frames.
//
// # Free Lists
//
// Each order has an intrusive free list (internal/ilist). A free block's list
// node lives in the first bytes of the block's head frame and holds the
// frame's global index. Only block heads are linked; the other frames of a
// free block are not tracked.
//
// # Buddies
//
// Usable frames are numbered from 0 at the region's start frame. The buddy of
// the block at local index i and order k is the block at i XOR 2^k. Two blocks
// merge only when the buddy is a free head of the same order with no
// references that is neither pinned nor allocated.
//
// # Usage Example
//
//	fa := buddy.New()
//	r, err := buddy.NewRegion(mem, frames, baseFrame, dt)
//	if err != nil {
//	    return err
//	}
//	if err := fa.AddRegion(r); err != nil {
//	    return err
//	}
//
//	rec, ok := fa.AllocFrames(4)
//	if !ok {
//	    // exhausted
//	}
//	...
//	err = fa.DeallocFrame(rec)
//
// # Debugging
//
// Setting KERNKIT_LOG_ALLOC in the environment logs every split, allocation
// and merge at debug level through internal/logger.
//
// # Thread Safety
//
// Regions and Allocators are not thread-safe. The kernel runs them on a single
// hardware thread with interrupts disabled.
package buddy

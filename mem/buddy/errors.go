package buddy

import "errors"

var (
	// ErrRegionTooSmall indicates a region cannot hold its metadata and at
	// least one usable frame.
	ErrRegionTooSmall = errors.New("buddy: region too small")

	// ErrOutOfRange indicates a region extends past physical memory.
	ErrOutOfRange = errors.New("buddy: region outside physical memory")

	// ErrNotOwned indicates a frame outside every usable range.
	ErrNotOwned = errors.New("buddy: frame not owned by region")

	// ErrNotHead indicates a frame that is not the head of an allocated block.
	ErrNotHead = errors.New("buddy: frame is not an allocated block head")

	// ErrStillReferenced indicates a block whose head still holds references.
	ErrStillReferenced = errors.New("buddy: frame still referenced")

	// ErrTaken indicates a pinned block.
	ErrTaken = errors.New("buddy: frame is taken")

	// ErrTooManyRegions indicates the allocator already holds MaxRegions.
	ErrTooManyRegions = errors.New("buddy: too many regions")

	// ErrOverlap indicates a region overlapping one already registered.
	ErrOverlap = errors.New("buddy: regions overlap")

	// ErrCorrupt indicates a failed consistency check.
	ErrCorrupt = errors.New("buddy: free lists inconsistent")
)

package kernel

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/joshuapare/kernkit/internal/buf"
	"github.com/joshuapare/kernkit/internal/format"
)

// RegionType classifies a memory-map entry.
type RegionType string

const (
	Usable   RegionType = "usable"
	Reserved RegionType = "reserved"
)

// MemoryRegion is one entry of the boot memory map, in bytes.
type MemoryRegion struct {
	Base   uint64     `yaml:"base" json:"base"`
	Length uint64     `yaml:"length" json:"length"`
	Type   RegionType `yaml:"type" json:"type"`
}

// MemoryMap is the boot memory map handed over by the firmware.
type MemoryMap struct {
	Regions []MemoryRegion `yaml:"regions" json:"regions"`
}

// FrameRange is a usable run of whole frames.
type FrameRange struct {
	Base   uint64 // first frame index
	Frames uint64
}

// ErrMemoryMap indicates an invalid memory map.
var ErrMemoryMap = errors.New("kernel: invalid memory map")

// Low-memory layout of a PC: the real-mode IVT in frame 0 and the
// EBDA/video/BIOS hole below 1 MiB.
const (
	lowMemoryEnd   = 0x9f000
	highMemoryBase = 0x100000
)

// DefaultMemoryMap returns a PC-style map for size bytes of memory: two
// usable regions, conventional memory and everything above 1 MiB.
func DefaultMemoryMap(size uint64) MemoryMap {
	m := MemoryMap{Regions: []MemoryRegion{
		{Base: 0, Length: format.PageSize, Type: Reserved},
	}}
	lowEnd := min(size, lowMemoryEnd)
	if lowEnd > format.PageSize {
		m.Regions = append(m.Regions, MemoryRegion{Base: format.PageSize, Length: lowEnd - format.PageSize, Type: Usable})
	}
	if size > lowMemoryEnd {
		m.Regions = append(m.Regions, MemoryRegion{Base: lowMemoryEnd, Length: min(size, highMemoryBase) - lowMemoryEnd, Type: Reserved})
	}
	if size > highMemoryBase {
		m.Regions = append(m.Regions, MemoryRegion{Base: highMemoryBase, Length: size - highMemoryBase, Type: Usable})
	}
	return m
}

// ParseMemoryMap decodes a YAML memory map.
func ParseMemoryMap(data []byte) (MemoryMap, error) {
	var m MemoryMap
	if err := yaml.Unmarshal(data, &m); err != nil {
		return MemoryMap{}, fmt.Errorf("%w: %w", ErrMemoryMap, err)
	}
	for i, r := range m.Regions {
		if r.Type != Usable && r.Type != Reserved {
			return MemoryMap{}, fmt.Errorf("%w: region %d: unknown type %q", ErrMemoryMap, i, r.Type)
		}
		if _, ok := buf.AddOverflowSafe(r.Base, r.Length); !ok {
			return MemoryMap{}, fmt.Errorf("%w: region %d overflows", ErrMemoryMap, i)
		}
	}
	return m, nil
}

// LoadMemoryMap reads a YAML memory map from path.
func LoadMemoryMap(path string) (MemoryMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return MemoryMap{}, err
	}
	return ParseMemoryMap(data)
}

// Marshal encodes the map as YAML.
func (m MemoryMap) Marshal() ([]byte, error) {
	return yaml.Marshal(m)
}

// Usable returns the whole frames of every usable region below limit frames,
// sorted by address. Overlapping usable regions are an error.
func (m MemoryMap) Usable(limit uint64) ([]FrameRange, error) {
	var out []FrameRange
	for _, r := range m.Regions {
		if r.Type != Usable {
			continue
		}
		end, ok := buf.AddOverflowSafe(r.Base, r.Length)
		if !ok {
			return nil, fmt.Errorf("%w: region at %#x overflows", ErrMemoryMap, r.Base)
		}
		first := format.FrameIndex(format.AlignPage(r.Base))
		last := min(format.FrameIndex(format.TruncPage(end)), limit)
		if last <= first {
			continue
		}
		out = append(out, FrameRange{Base: first, Frames: last - first})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Base < out[j].Base })
	for i := 1; i < len(out); i++ {
		if out[i].Base < out[i-1].Base+out[i-1].Frames {
			return nil, fmt.Errorf("%w: usable frames %d and %d overlap", ErrMemoryMap, out[i-1].Base, out[i].Base)
		}
	}
	return out, nil
}

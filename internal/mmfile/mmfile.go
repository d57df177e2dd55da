// Package mmfile provides platform-specific helpers for mapping the byte
// arena that backs simulated physical memory.
package mmfile

import (
	"errors"
	"os"
)

// ErrClosed is returned when a mapping is used after Close.
var ErrClosed = errors.New("mmfile: mapping closed")

// Mapping is a read-write byte region obtained from the host, either anonymous
// or shared over a memory-image file.
type Mapping struct {
	data  []byte
	f     *os.File
	unmap func([]byte) error
}

// Bytes returns the mapped region.
func (m *Mapping) Bytes() []byte { return m.data }

// FD returns the descriptor of the backing file, or -1 for anonymous mappings.
func (m *Mapping) FD() int {
	if m == nil || m.f == nil {
		return -1
	}
	return int(m.f.Fd())
}

// Close releases the mapping and the backing file. Calling Close twice is a no-op.
func (m *Mapping) Close() error {
	if m == nil {
		return nil
	}
	var err error
	if m.data != nil && m.unmap != nil {
		err = m.unmap(m.data)
	}
	m.data = nil
	if m.f != nil {
		if cerr := m.f.Close(); err == nil {
			err = cerr
		}
		m.f = nil
	}
	return err
}

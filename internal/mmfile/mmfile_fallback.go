//go:build !unix

package mmfile

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/bytedance/gopkg/lang/dirtmake"
)

// Anonymous allocates size bytes from the Go heap when mmap is not available.
// Like real RAM the contents are not zeroed; users initialise what they touch.
func Anonymous(size int) (*Mapping, error) {
	if size <= 0 {
		return nil, fmt.Errorf("mmfile: invalid mapping size %d", size)
	}
	return &Mapping{data: dirtmake.Bytes(size, size)}, nil
}

// File reads the memory image at path into memory and writes it back on Close.
func File(path string, size int) (*Mapping, error) {
	if size <= 0 {
		return nil, fmt.Errorf("mmfile: invalid mapping size %d", size)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, err
	}
	data := make([]byte, size)
	if _, err := f.ReadAt(data, 0); err != nil && !errors.Is(err, io.EOF) {
		_ = f.Close()
		return nil, err
	}
	m := &Mapping{data: data, f: f}
	m.unmap = func(b []byte) error {
		_, err := m.f.WriteAt(b, 0)
		return err
	}
	return m, nil
}

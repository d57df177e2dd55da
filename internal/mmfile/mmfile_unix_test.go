//go:build unix

package mmfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAnonymousIsZeroedAndWritable(t *testing.T) {
	m, err := Anonymous(2 * 4096)
	require.NoError(t, err)
	defer func() { require.NoError(t, m.Close()) }()

	data := m.Bytes()
	require.Len(t, data, 2*4096)
	require.Equal(t, -1, m.FD())
	for i := 0; i < len(data); i += 512 {
		require.Zero(t, data[i])
	}
	data[4095] = 0x5a
	require.Equal(t, byte(0x5a), m.Bytes()[4095])
}

func TestFileMappingPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ram.img")

	m, err := File(path, 4096)
	require.NoError(t, err)
	require.NotEqual(t, -1, m.FD())
	copy(m.Bytes()[100:], []byte{0xde, 0xad, 0xbe, 0xef})
	require.NoError(t, m.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, raw, 4096)
	require.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, raw[100:104])
}

func TestCloseTwice(t *testing.T) {
	m, err := Anonymous(4096)
	require.NoError(t, err)
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	require.Nil(t, m.Bytes())
}

func TestInvalidSize(t *testing.T) {
	_, err := Anonymous(0)
	require.Error(t, err)
	_, err = File(filepath.Join(t.TempDir(), "x"), -1)
	require.Error(t, err)
}

package fat

import (
	"errors"
	"testing"

	"github.com/rstms/nextfs"
	"github.com/stretchr/testify/require"
)

func record(name string, attr nextfs.DirectoryAttr, cluster, size uint32) []byte {
	raw := make([]byte, DirEntrySize)
	copy(raw[0:11], name)
	raw[11] = byte(attr)
	raw[20], raw[21] = byte(cluster>>16), byte(cluster>>24)
	raw[26], raw[27] = byte(cluster), byte(cluster>>8)
	raw[28], raw[29], raw[30], raw[31] = byte(size), byte(size>>8), byte(size>>16), byte(size>>24)
	return raw
}

func TestDecodeDirectoryClusterEntry(t *testing.T) {
	e := DecodeDirectoryClusterEntry(record("README  TXT", nextfs.AttrArchive, 0x00123456, 1234))
	require.Equal(t, "readme.txt", e.Name())
	require.Equal(t, uint32(0x00123456), e.Cluster())
	require.Equal(t, uint32(1234), e.FileSize())
	require.False(t, e.IsDir())

	e = DecodeDirectoryClusterEntry(record("SYSTEM     ", nextfs.AttrDirectory, 9, 0))
	require.Equal(t, "system", e.Name())
	require.True(t, e.IsDir())

	e = DecodeDirectoryClusterEntry(record("\x05BC     TXT", 0, 0, 0))
	require.Equal(t, "σbc.txt", e.Name())

	e = DecodeDirectoryClusterEntry(record("VOLUME     ", nextfs.AttrVolumeId, 0, 0))
	require.True(t, e.IsVolumeId())
	e = DecodeDirectoryClusterEntry(record("ABCDEFGHIJK", nextfs.AttrLongName, 0, 0))
	require.True(t, e.IsLong())
	require.False(t, e.IsVolumeId())
}

func TestEncodeMatchesDecode(t *testing.T) {
	raw := record("KERNEL  BIN", nextfs.AttrReadOnly|nextfs.AttrSystem, 0x0ABCDEF1, 99)
	out := make([]byte, DirEntrySize)
	DecodeDirectoryClusterEntry(raw).Encode(out)
	require.Equal(t, raw, out)
}

func TestClassify(t *testing.T) {
	require.Equal(t, recordEnd, classify(make([]byte, DirEntrySize)))
	require.Equal(t, recordSkip, classify(record("\xE5ELETED TXT", 0, 0, 0)))
	require.Equal(t, recordSkip, classify(record("LONGNAMEXXX", nextfs.AttrLongName, 0, 0)))
	require.Equal(t, recordSkip, classify(record("LABEL      ", nextfs.AttrVolumeId, 0, 0)))
	require.Equal(t, recordLive, classify(record("FILE    TXT", nextfs.AttrArchive, 0, 0)))
}

func TestShortName(t *testing.T) {
	base, ext, err := shortName("notes.md")
	require.Nil(t, err)
	require.Equal(t, "NOTES   ", string(base[:]))
	require.Equal(t, "MD ", string(ext[:]))

	base, ext, err = shortName("Makefile")
	require.Nil(t, err)
	require.Equal(t, "MAKEFILE", string(base[:]))
	require.Equal(t, "   ", string(ext[:]))

	for _, bad := range []string{"", ".hidden", "toolongname.c", "x.json", "a+b", "what?", "日本"} {
		_, _, err := shortName(bad)
		require.True(t, errors.Is(err, nextfs.ErrInvalidPath), bad)
	}
}

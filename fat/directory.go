package fat

import (
	"bytes"
	"encoding/binary"
	"strings"

	"github.com/rstms/nextfs"
	"golang.org/x/text/encoding/charmap"
)

const (
	DirEntrySize = 32

	markerEnd     = 0x00
	markerDeleted = 0xE5
	markerKanji   = 0x05
)

// DirectoryClusterEntry is one 32-byte short directory record.
type DirectoryClusterEntry struct {
	name        [8]byte
	ext         [3]byte
	attr        nextfs.DirectoryAttr
	ntRes       uint8
	createTenth uint8
	createTime  uint16
	createDate  uint16
	accessDate  uint16
	writeTime   uint16
	writeDate   uint16
	cluster     uint32
	fileSize    uint32
}

// DecodeDirectoryClusterEntry parses a 32-byte record.
func DecodeDirectoryClusterEntry(record []byte) *DirectoryClusterEntry {
	le := binary.LittleEndian
	e := DirectoryClusterEntry{
		attr:        nextfs.DirectoryAttr(record[11]),
		ntRes:       record[12],
		createTenth: record[13],
		createTime:  le.Uint16(record[14:]),
		createDate:  le.Uint16(record[16:]),
		accessDate:  le.Uint16(record[18:]),
		writeTime:   le.Uint16(record[22:]),
		writeDate:   le.Uint16(record[24:]),
		cluster:     uint32(le.Uint16(record[20:]))<<16 | uint32(le.Uint16(record[26:])),
		fileSize:    le.Uint32(record[28:]),
	}
	copy(e.name[:], record[0:8])
	copy(e.ext[:], record[8:11])
	return &e
}

// Encode writes the record into the first 32 bytes of dst.
func (e *DirectoryClusterEntry) Encode(dst []byte) {
	le := binary.LittleEndian
	copy(dst[0:8], e.name[:])
	copy(dst[8:11], e.ext[:])
	dst[11] = byte(e.attr)
	dst[12] = e.ntRes
	dst[13] = e.createTenth
	le.PutUint16(dst[14:], e.createTime)
	le.PutUint16(dst[16:], e.createDate)
	le.PutUint16(dst[18:], e.accessDate)
	le.PutUint16(dst[20:], uint16(e.cluster>>16))
	le.PutUint16(dst[22:], e.writeTime)
	le.PutUint16(dst[24:], e.writeDate)
	le.PutUint16(dst[26:], uint16(e.cluster))
	le.PutUint32(dst[28:], e.fileSize)
}

func (e *DirectoryClusterEntry) Attr() nextfs.DirectoryAttr {
	return e.attr
}

func (e *DirectoryClusterEntry) Cluster() uint32 {
	return e.cluster
}

func (e *DirectoryClusterEntry) FileSize() uint32 {
	return e.fileSize
}

func (e *DirectoryClusterEntry) IsDir() bool {
	return e.attr.Has(nextfs.AttrDirectory)
}

func (e *DirectoryClusterEntry) IsLong() bool {
	return e.attr.IsLongName()
}

func (e *DirectoryClusterEntry) IsVolumeId() bool {
	return !e.IsLong() && e.attr.Has(nextfs.AttrVolumeId)
}

// Name returns the lower-cased, dot-joined 8.3 name.
func (e *DirectoryClusterEntry) Name() string {
	raw := e.name
	if raw[0] == markerKanji {
		raw[0] = markerDeleted
	}
	name := decodeOEM(bytes.TrimRight(raw[:], " "))
	ext := decodeOEM(bytes.TrimRight(e.ext[:], " "))
	if ext != "" {
		name = name + "." + ext
	}
	return strings.ToLower(name)
}

func decodeOEM(b []byte) string {
	out, err := charmap.CodePage437.NewDecoder().Bytes(b)
	if err != nil {
		return string(b)
	}
	return string(out)
}

// recordState classifies a raw record by its first byte and attribute.
type recordState int

const (
	recordLive recordState = iota
	recordEnd
	recordSkip
)

func classify(record []byte) recordState {
	switch record[0] {
	case markerEnd:
		return recordEnd
	case markerDeleted:
		return recordSkip
	}
	attr := nextfs.DirectoryAttr(record[11])
	if attr.IsLongName() {
		return recordSkip
	}
	if attr.Has(nextfs.AttrVolumeId) {
		return recordSkip
	}
	return recordLive
}

// shortName converts name into the padded 8.3 name and extension fields.
// Names that need a long-name record are rejected.
func shortName(name string) ([8]byte, [3]byte, error) {
	var base [8]byte
	var ext [3]byte
	for i := range base {
		base[i] = ' '
	}
	for i := range ext {
		ext[i] = ' '
	}
	if name == "." || name == ".." {
		copy(base[:], name)
		return base, ext, nil
	}
	upper := strings.ToUpper(name)
	stem, suffix := upper, ""
	if dot := strings.LastIndexByte(upper, '.'); dot >= 0 {
		stem, suffix = upper[:dot], upper[dot+1:]
	}
	encoder := charmap.CodePage437.NewEncoder()
	stemBytes, err := encoder.Bytes([]byte(stem))
	if err != nil {
		return base, ext, Fatal(&nextfs.PathError{Op: "shortname", Path: name, Err: nextfs.ErrInvalidPath})
	}
	suffixBytes, err := encoder.Bytes([]byte(suffix))
	if err != nil {
		return base, ext, Fatal(&nextfs.PathError{Op: "shortname", Path: name, Err: nextfs.ErrInvalidPath})
	}
	if len(stemBytes) == 0 || len(stemBytes) > 8 || len(suffixBytes) > 3 {
		return base, ext, Fatal(&nextfs.PathError{Op: "shortname", Path: name, Err: nextfs.ErrInvalidPath})
	}
	for _, b := range append(append([]byte{}, stemBytes...), suffixBytes...) {
		if b < 0x20 || strings.IndexByte(`"*+,./:;<=>?[\]|`, b) >= 0 {
			return base, ext, Fatal(&nextfs.PathError{Op: "shortname", Path: name, Err: nextfs.ErrInvalidPath})
		}
	}
	copy(base[:], stemBytes)
	copy(ext[:], suffixBytes)
	if base[0] == markerDeleted {
		base[0] = markerKanji
	}
	return base, ext, nil
}

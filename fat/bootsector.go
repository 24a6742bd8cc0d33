package fat

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/rstms/nextfs"
)

// Boot sector field offsets of a FAT32 BPB.
const (
	offOEMName     = 3
	offBytesPerSec = 11
	offSecPerClus  = 13
	offRsvdSecCnt  = 14
	offNumFATs     = 16
	offRootEntCnt  = 17
	offTotSec16    = 19
	offMedia       = 21
	offFATSz16     = 22
	offSecPerTrk   = 24
	offNumHeads    = 26
	offHiddSec     = 28
	offTotSec32    = 32
	offFATSz32     = 36
	offExtFlags    = 40
	offFSVer       = 42
	offRootClus    = 44
	offFSInfo      = 48
	offBkBootSec   = 50
	offDrvNum      = 64
	offBootSig     = 66
	offVolID       = 67
	offVolLab      = 71
	offFilSysType  = 82
	offSignature   = 510
)

// BootSector is the decoded boot parameter block of a FAT32 volume.
type BootSector struct {
	JmpBoot           [3]byte
	OEMName           [8]byte
	BytesPerSector    uint16
	SectorsPerCluster uint8
	ReservedSectors   uint16
	NumFATs           uint8
	RootEntryCount    uint16
	TotalSectors16    uint16
	Media             uint8
	FATSize16         uint16
	SectorsPerTrack   uint16
	NumHeads          uint16
	HiddenSectors     uint32
	TotalSectors32    uint32
	FATSize32         uint32
	ExtFlags          uint16
	FSVersion         uint16
	RootCluster       uint32
	FSInfoSector      uint16
	BackupBootSector  uint16
	DriveNumber       uint8
	BootSignature     uint8
	VolumeID          uint32
	VolumeLabel       [11]byte
	FileSystemType    [8]byte
}

// DecodeBootSector parses the first sector of a volume. It does not
// validate the result.
func DecodeBootSector(sector []byte) (*BootSector, error) {
	if len(sector) < nextfs.SectorSize {
		return nil, Fatal(nextfs.ErrInvalidVolume)
	}
	le := binary.LittleEndian
	bs := BootSector{
		BytesPerSector:    le.Uint16(sector[offBytesPerSec:]),
		SectorsPerCluster: sector[offSecPerClus],
		ReservedSectors:   le.Uint16(sector[offRsvdSecCnt:]),
		NumFATs:           sector[offNumFATs],
		RootEntryCount:    le.Uint16(sector[offRootEntCnt:]),
		TotalSectors16:    le.Uint16(sector[offTotSec16:]),
		Media:             sector[offMedia],
		FATSize16:         le.Uint16(sector[offFATSz16:]),
		SectorsPerTrack:   le.Uint16(sector[offSecPerTrk:]),
		NumHeads:          le.Uint16(sector[offNumHeads:]),
		HiddenSectors:     le.Uint32(sector[offHiddSec:]),
		TotalSectors32:    le.Uint32(sector[offTotSec32:]),
		FATSize32:         le.Uint32(sector[offFATSz32:]),
		ExtFlags:          le.Uint16(sector[offExtFlags:]),
		FSVersion:         le.Uint16(sector[offFSVer:]),
		RootCluster:       le.Uint32(sector[offRootClus:]),
		FSInfoSector:      le.Uint16(sector[offFSInfo:]),
		BackupBootSector:  le.Uint16(sector[offBkBootSec:]),
		DriveNumber:       sector[offDrvNum],
		BootSignature:     sector[offBootSig],
		VolumeID:          le.Uint32(sector[offVolID:]),
	}
	copy(bs.JmpBoot[:], sector[0:3])
	copy(bs.OEMName[:], sector[offOEMName:])
	copy(bs.VolumeLabel[:], sector[offVolLab:])
	copy(bs.FileSystemType[:], sector[offFilSysType:])
	return &bs, nil
}

// Encode renders the boot sector into a fresh 512-byte sector, including
// the 0x55AA trailer.
func (bs *BootSector) Encode() []byte {
	sector := make([]byte, nextfs.SectorSize)
	le := binary.LittleEndian
	copy(sector[0:3], bs.JmpBoot[:])
	copy(sector[offOEMName:offOEMName+8], bs.OEMName[:])
	le.PutUint16(sector[offBytesPerSec:], bs.BytesPerSector)
	sector[offSecPerClus] = bs.SectorsPerCluster
	le.PutUint16(sector[offRsvdSecCnt:], bs.ReservedSectors)
	sector[offNumFATs] = bs.NumFATs
	le.PutUint16(sector[offRootEntCnt:], bs.RootEntryCount)
	le.PutUint16(sector[offTotSec16:], bs.TotalSectors16)
	sector[offMedia] = bs.Media
	le.PutUint16(sector[offFATSz16:], bs.FATSize16)
	le.PutUint16(sector[offSecPerTrk:], bs.SectorsPerTrack)
	le.PutUint16(sector[offNumHeads:], bs.NumHeads)
	le.PutUint32(sector[offHiddSec:], bs.HiddenSectors)
	le.PutUint32(sector[offTotSec32:], bs.TotalSectors32)
	le.PutUint32(sector[offFATSz32:], bs.FATSize32)
	le.PutUint16(sector[offExtFlags:], bs.ExtFlags)
	le.PutUint16(sector[offFSVer:], bs.FSVersion)
	le.PutUint32(sector[offRootClus:], bs.RootCluster)
	le.PutUint16(sector[offFSInfo:], bs.FSInfoSector)
	le.PutUint16(sector[offBkBootSec:], bs.BackupBootSector)
	sector[offDrvNum] = bs.DriveNumber
	sector[offBootSig] = bs.BootSignature
	le.PutUint32(sector[offVolID:], bs.VolumeID)
	copy(sector[offVolLab:offVolLab+11], bs.VolumeLabel[:])
	copy(sector[offFilSysType:offFilSysType+8], bs.FileSystemType[:])
	sector[offSignature] = 0x55
	sector[offSignature+1] = 0xAA
	return sector
}

// Validate checks the fields a FAT32 mount depends on.
func (bs *BootSector) Validate() error {
	switch {
	case bs.BytesPerSector != nextfs.SectorSize:
		return Fatal(fmt.Errorf("%w: bytes per sector %d", nextfs.ErrInvalidVolume, bs.BytesPerSector))
	case bs.SectorsPerCluster == 0:
		return Fatal(fmt.Errorf("%w: zero sectors per cluster", nextfs.ErrInvalidVolume))
	case bs.NumFATs == 0:
		return Fatal(fmt.Errorf("%w: zero FAT count", nextfs.ErrInvalidVolume))
	case bs.FATSize32 == 0:
		return Fatal(fmt.Errorf("%w: zero FAT size", nextfs.ErrInvalidVolume))
	case bs.RootEntryCount != 0:
		return Fatal(fmt.Errorf("%w: root entry count %d, not FAT32", nextfs.ErrInvalidVolume, bs.RootEntryCount))
	case bs.BootSignature != 0x28 && bs.BootSignature != 0x29:
		return Fatal(fmt.Errorf("%w: boot signature 0x%02x", nextfs.ErrInvalidVolume, bs.BootSignature))
	}
	return nil
}

func (bs *BootSector) TotalSectors() uint32 {
	if bs.TotalSectors16 != 0 {
		return uint32(bs.TotalSectors16)
	}
	return bs.TotalSectors32
}

func trimField(b []byte) string {
	return string(bytes.TrimRight(b, " \x00"))
}

// Geometry holds the layout derived from a validated boot sector.
type Geometry struct {
	FATStart          uint32
	DataStart         uint32
	SectorsPerCluster uint32
	RootCluster       uint32
	ClusterCount      uint32
	ClusterSize       int
	FATSize           uint32
	NumFATs           uint32
}

// ComputeGeometry derives the volume layout. The data region must lie
// inside the volume and the root cluster must be a data cluster.
func (bs *BootSector) ComputeGeometry() (Geometry, error) {
	g := Geometry{
		FATStart:          uint32(bs.ReservedSectors),
		SectorsPerCluster: uint32(bs.SectorsPerCluster),
		RootCluster:       bs.RootCluster,
		ClusterSize:       int(bs.SectorsPerCluster) * nextfs.SectorSize,
		FATSize:           bs.FATSize32,
		NumFATs:           uint32(bs.NumFATs),
	}
	data := uint64(g.FATStart) + uint64(g.NumFATs)*uint64(g.FATSize)
	total := uint64(bs.TotalSectors())
	if data >= total {
		return g, Fatal(fmt.Errorf("%w: data region starts at %d beyond %d sectors", nextfs.ErrInvalidVolume, data, total))
	}
	g.DataStart = uint32(data)

	clusters := (total - data) / uint64(g.SectorsPerCluster)
	entries := uint64(g.FATSize)*nextfs.SectorSize/4 - 2
	if clusters > entries {
		clusters = entries
	}
	if clusters > maxCluster {
		clusters = maxCluster
	}
	g.ClusterCount = uint32(clusters)

	if !g.ValidCluster(g.RootCluster) {
		return g, Fatal(fmt.Errorf("%w: root cluster %d", nextfs.ErrInvalidVolume, g.RootCluster))
	}
	return g, nil
}

// ValidCluster reports whether c addresses a data cluster of the volume.
// Clusters 0 and 1 are reserved by the format.
func (g Geometry) ValidCluster(c uint32) bool {
	return c >= firstCluster && uint64(c) < uint64(g.ClusterCount)+firstCluster
}

// ClusterToLBA maps a data cluster to its first sector. Callers must not
// pass the reserved clusters 0 and 1.
func (g Geometry) ClusterToLBA(c uint32) uint32 {
	return g.DataStart + (c-firstCluster)*g.SectorsPerCluster
}

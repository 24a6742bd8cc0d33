package fat

import (
	"fmt"
	"strings"
	"time"

	"github.com/rstms/nextfs"
	log "github.com/sirupsen/logrus"
)

const (
	defaultReservedSectors = 32
	defaultNumFATs         = 2
	defaultRootCluster     = 2
	fsInfoSector           = 1
	backupBootSector       = 6
	mediaFixed             = 0xF8
)

// SuperFloppyConfig describes a volume written by FormatSuperFloppy: a FAT32
// filesystem spanning the whole device with no partition table.
type SuperFloppyConfig struct {
	Sectors           uint32
	SectorsPerCluster uint8
	Label             string
	OEMName           string
	VolumeID          uint32
}

func pad(s string, n int) []byte {
	b := []byte(strings.ToUpper(s))
	if len(b) > n {
		b = b[:n]
	}
	for len(b) < n {
		b = append(b, ' ')
	}
	return b
}

func fatSize(total uint32, reserved uint32, fats uint32, spc uint32) uint32 {
	size := uint32(1)
	for {
		data := int64(total) - int64(reserved) - int64(fats*size)
		if data <= 0 {
			return size
		}
		clusters := uint32(data) / spc
		need := ((clusters+2)*4 + nextfs.SectorSize - 1) / nextfs.SectorSize
		if need <= size {
			return size
		}
		size = need
	}
}

// FormatSuperFloppy writes an empty FAT32 volume onto device.
func FormatSuperFloppy(device nextfs.BlockDevice, config *SuperFloppyConfig) error {
	if device == nil {
		return Fatal(nextfs.ErrDeviceUnavailable)
	}
	spc := config.SectorsPerCluster
	if spc == 0 {
		spc = 1
		if config.Sectors >= 1<<19 {
			spc = 8
		}
	}
	if spc&(spc-1) != 0 {
		return Fatalf("sectors per cluster %d is not a power of two", spc)
	}
	fats := uint32(defaultNumFATs)
	size := fatSize(config.Sectors, defaultReservedSectors, fats, uint32(spc))
	if uint64(config.Sectors) < uint64(defaultReservedSectors)+uint64(fats*size)+uint64(spc)*2 {
		return Fatal(fmt.Errorf("%w: %d sectors is too small for FAT32", nextfs.ErrNoSpace, config.Sectors))
	}
	oem := config.OEMName
	if oem == "" {
		oem = "NEXTOS"
	}
	label := config.Label
	if label == "" {
		label = "NO NAME"
	}

	bs := BootSector{
		JmpBoot:           [3]byte{0xEB, 0x58, 0x90},
		BytesPerSector:    nextfs.SectorSize,
		SectorsPerCluster: spc,
		ReservedSectors:   defaultReservedSectors,
		NumFATs:           uint8(fats),
		Media:             mediaFixed,
		SectorsPerTrack:   32,
		NumHeads:          64,
		TotalSectors32:    config.Sectors,
		FATSize32:         size,
		RootCluster:       defaultRootCluster,
		FSInfoSector:      fsInfoSector,
		BackupBootSector:  backupBootSector,
		DriveNumber:       0x80,
		BootSignature:     0x29,
		VolumeID:          config.VolumeID,
	}
	copy(bs.OEMName[:], pad(oem, 8))
	copy(bs.VolumeLabel[:], pad(label, 11))
	copy(bs.FileSystemType[:], pad("FAT32", 8))

	boot := bs.Encode()
	info := encodeFSInfo()
	for _, base := range []uint32{0, backupBootSector} {
		if err := device.WriteBlocks(base, boot); err != nil {
			return Fatal(joinIO(err))
		}
		if err := device.WriteBlocks(base+fsInfoSector, info); err != nil {
			return Fatal(joinIO(err))
		}
	}

	zero := make([]byte, nextfs.SectorSize)
	fatEnd := uint32(defaultReservedSectors) + fats*size
	for lba := uint32(defaultReservedSectors); lba < fatEnd+uint32(spc); lba++ {
		if err := device.WriteBlocks(lba, zero); err != nil {
			return Fatal(joinIO(err))
		}
	}

	f, err := Mount(device)
	if err != nil {
		return Fatal(err)
	}
	defer f.Unmount()
	if err := f.fat.SetEntry(0, 0x0FFFFF00|mediaFixed); err != nil {
		return Fatal(err)
	}
	if err := f.fat.SetEntry(1, eocMarker); err != nil {
		return Fatal(err)
	}
	if err := f.fat.SetEntry(bs.RootCluster, eocMarker); err != nil {
		return Fatal(err)
	}
	if config.Label != "" {
		if err := NewBuilder(f).addLabel(config.Label); err != nil {
			return Fatal(err)
		}
	}
	log.Debugf("fat32: formatted %d sectors spc=%d fat_size=%d", config.Sectors, spc, size)
	return nil
}

func encodeFSInfo() []byte {
	sector := make([]byte, nextfs.SectorSize)
	put := func(off int, v uint32) {
		sector[off] = byte(v)
		sector[off+1] = byte(v >> 8)
		sector[off+2] = byte(v >> 16)
		sector[off+3] = byte(v >> 24)
	}
	put(0, 0x41615252)
	put(484, 0x61417272)
	put(488, 0xFFFFFFFF)
	put(492, 0xFFFFFFFF)
	put(508, 0xAA550000)
	return sector
}

// Builder populates a mounted volume offline, allocating clusters in
// ascending order. It exists for image tooling; the VFS never mutates
// on-disk directories.
type Builder struct {
	fs   *FileSystem
	hint uint32
	Now  func() time.Time
}

func NewBuilder(f *FileSystem) *Builder {
	return &Builder{
		fs:   f,
		hint: firstCluster,
		Now:  time.Now,
	}
}

func splitPath(p string) []string {
	var parts []string
	for _, part := range strings.Split(p, "/") {
		if part != "" {
			parts = append(parts, part)
		}
	}
	return parts
}

func dosStamp(t time.Time) (uint16, uint16) {
	if t.Year() < 1980 {
		return 0x21, 0
	}
	date := uint16(t.Year()-1980)<<9 | uint16(t.Month())<<5 | uint16(t.Day())
	clock := uint16(t.Hour())<<11 | uint16(t.Minute())<<5 | uint16(t.Second()/2)
	return date, clock
}

// find scans the directory chain at start for name, comparing the
// decoded short names case-insensitively.
func (b *Builder) find(start uint32, name string) (*DirectoryClusterEntry, error) {
	found, _, _, err := b.locate(start, name)
	if err != nil {
		return nil, Fatal(err)
	}
	return found, nil
}

// locate is find that also returns the cluster and byte offset of the
// matching record.
func (b *Builder) locate(start uint32, name string) (*DirectoryClusterEntry, uint32, int, error) {
	f := b.fs
	var found *DirectoryClusterEntry
	var where uint32
	var offset int
	err := f.fat.Walk(start, func(cluster uint32) (bool, error) {
		if err := f.readCluster(cluster); err != nil {
			return false, Fatal(err)
		}
		for off := 0; off+DirEntrySize <= len(f.scratch); off += DirEntrySize {
			record := f.scratch[off : off+DirEntrySize]
			switch classify(record) {
			case recordEnd:
				return false, nil
			case recordSkip:
				continue
			}
			e := DecodeDirectoryClusterEntry(record)
			if strings.EqualFold(e.Name(), name) {
				found = e
				where = cluster
				offset = off
				return false, nil
			}
		}
		return true, nil
	})
	if err != nil {
		return nil, 0, 0, Fatal(err)
	}
	return found, where, offset, nil
}

func (b *Builder) resolveDir(parts []string) (uint32, error) {
	cur := b.fs.geo.RootCluster
	for i, part := range parts {
		e, err := b.find(cur, part)
		if err != nil {
			return 0, Fatal(err)
		}
		p := "/" + strings.Join(parts[:i+1], "/")
		if e == nil {
			return 0, Fatal(&nextfs.PathError{Op: "resolve", Path: p, Err: nextfs.ErrNotFound})
		}
		if !e.IsDir() {
			return 0, Fatal(&nextfs.PathError{Op: "resolve", Path: p, Err: nextfs.ErrNotDirectory})
		}
		cur = e.Cluster()
		if cur == 0 {
			cur = b.fs.geo.RootCluster
		}
	}
	return cur, nil
}

func (b *Builder) alloc(count int) (uint32, error) {
	start, err := b.fs.fat.AllocChain(b.hint, count)
	if err != nil {
		return 0, Fatal(err)
	}
	if count > 0 {
		b.hint = start + 1
	}
	return start, nil
}

// addEntry stores e in the first free record of the directory at start,
// growing the directory by one cluster when it is full.
func (b *Builder) addEntry(start uint32, e *DirectoryClusterEntry) error {
	f := b.fs
	placed := false
	var last uint32
	err := f.fat.Walk(start, func(cluster uint32) (bool, error) {
		last = cluster
		if err := f.readCluster(cluster); err != nil {
			return false, Fatal(err)
		}
		for off := 0; off+DirEntrySize <= len(f.scratch); off += DirEntrySize {
			first := f.scratch[off]
			if first == markerEnd || first == markerDeleted {
				e.Encode(f.scratch[off:])
				placed = true
				return false, f.writeCluster(cluster)
			}
		}
		return true, nil
	})
	if err != nil {
		return Fatal(err)
	}
	if placed {
		return nil
	}
	next, err := b.alloc(1)
	if err != nil {
		return Fatal(err)
	}
	if err := f.fat.SetEntry(last, next); err != nil {
		return Fatal(err)
	}
	clear(f.scratch)
	e.Encode(f.scratch)
	return f.writeCluster(next)
}

func (b *Builder) newEntry(name string, attr nextfs.DirectoryAttr, cluster, size uint32) (*DirectoryClusterEntry, error) {
	base, ext, err := shortName(name)
	if err != nil {
		return nil, Fatal(err)
	}
	date, clock := dosStamp(b.Now())
	e := DirectoryClusterEntry{
		name:       base,
		ext:        ext,
		attr:       attr,
		createTime: clock,
		createDate: date,
		accessDate: date,
		writeTime:  clock,
		writeDate:  date,
		cluster:    cluster,
		fileSize:   size,
	}
	return &e, nil
}

func (b *Builder) prepare(p string) (uint32, string, error) {
	parts := splitPath(p)
	if len(parts) == 0 {
		return 0, "", Fatal(&nextfs.PathError{Op: "create", Path: p, Err: nextfs.ErrInvalidPath})
	}
	parent, err := b.resolveDir(parts[:len(parts)-1])
	if err != nil {
		return 0, "", Fatal(err)
	}
	name := parts[len(parts)-1]
	if _, _, err := shortName(name); err != nil {
		return 0, "", Fatal(err)
	}
	existing, err := b.find(parent, name)
	if err != nil {
		return 0, "", Fatal(err)
	}
	if existing != nil {
		return 0, "", Fatal(&nextfs.PathError{Op: "create", Path: p, Err: nextfs.ErrExists})
	}
	return parent, name, nil
}

// Mkdir creates an empty directory holding the dot and dot-dot records.
func (b *Builder) Mkdir(p string) error {
	f := b.fs
	f.mu.Lock()
	defer f.mu.Unlock()
	parent, name, err := b.prepare(p)
	if err != nil {
		return Fatal(err)
	}
	cluster, err := b.alloc(1)
	if err != nil {
		return Fatal(err)
	}
	dotdot := parent
	if parent == f.geo.RootCluster {
		dotdot = 0
	}
	dot, err := b.newEntry(".", nextfs.AttrDirectory, cluster, 0)
	if err != nil {
		return Fatal(err)
	}
	up, err := b.newEntry("..", nextfs.AttrDirectory, dotdot, 0)
	if err != nil {
		return Fatal(err)
	}
	clear(f.scratch)
	dot.Encode(f.scratch[0:])
	up.Encode(f.scratch[DirEntrySize:])
	if err := f.writeCluster(cluster); err != nil {
		return Fatal(err)
	}
	entry, err := b.newEntry(name, nextfs.AttrDirectory, cluster, 0)
	if err != nil {
		return Fatal(err)
	}
	if err := b.addEntry(parent, entry); err != nil {
		return Fatal(err)
	}
	log.Debugf("fat32: mkdir %s cluster=%d", p, cluster)
	return nil
}

// WriteFile creates a file holding data in a freshly allocated chain.
func (b *Builder) WriteFile(p string, data []byte) error {
	f := b.fs
	f.mu.Lock()
	defer f.mu.Unlock()
	parent, name, err := b.prepare(p)
	if err != nil {
		return Fatal(err)
	}
	csize := f.geo.ClusterSize
	count := (len(data) + csize - 1) / csize
	start, err := b.alloc(count)
	if err != nil {
		return Fatal(err)
	}
	if count > 0 {
		rest := data
		err = f.fat.Walk(start, func(cluster uint32) (bool, error) {
			clear(f.scratch)
			n := copy(f.scratch, rest)
			rest = rest[n:]
			if err := f.writeCluster(cluster); err != nil {
				return false, Fatal(err)
			}
			return len(rest) > 0, nil
		})
		if err != nil {
			return Fatal(err)
		}
	}
	entry, err := b.newEntry(name, nextfs.AttrArchive, start, uint32(len(data)))
	if err != nil {
		return Fatal(err)
	}
	if err := b.addEntry(parent, entry); err != nil {
		return Fatal(err)
	}
	log.Debugf("fat32: wrote %s size=%d cluster=%d", p, len(data), start)
	return nil
}

// SetAttr sets or clears the read-only, hidden, system or archive bits of
// the entry at p.
func (b *Builder) SetAttr(p string, attr nextfs.DirectoryAttr, state bool) error {
	const settable = nextfs.AttrReadOnly | nextfs.AttrHidden | nextfs.AttrSystem | nextfs.AttrArchive
	if attr == 0 || attr&^settable != 0 {
		return Fatal(&nextfs.PathError{Op: "setattr", Path: p, Err: nextfs.ErrUnsupported})
	}
	f := b.fs
	f.mu.Lock()
	defer f.mu.Unlock()
	parts := splitPath(p)
	if len(parts) == 0 {
		return Fatal(&nextfs.PathError{Op: "setattr", Path: p, Err: nextfs.ErrInvalidPath})
	}
	parent, err := b.resolveDir(parts[:len(parts)-1])
	if err != nil {
		return Fatal(err)
	}
	e, cluster, off, err := b.locate(parent, parts[len(parts)-1])
	if err != nil {
		return Fatal(err)
	}
	if e == nil {
		return Fatal(&nextfs.PathError{Op: "setattr", Path: p, Err: nextfs.ErrNotFound})
	}
	if state {
		e.attr |= attr
	} else {
		e.attr &^= attr
	}
	if err := f.readCluster(cluster); err != nil {
		return Fatal(err)
	}
	e.Encode(f.scratch[off : off+DirEntrySize])
	if err := f.writeCluster(cluster); err != nil {
		return Fatal(err)
	}
	log.Debugf("fat32: setattr %s attr=0x%02x", p, uint8(e.attr))
	return nil
}

func (b *Builder) addLabel(label string) error {
	f := b.fs
	f.mu.Lock()
	defer f.mu.Unlock()
	raw := pad(label, 11)
	e := DirectoryClusterEntry{attr: nextfs.AttrVolumeId}
	copy(e.name[:], raw[:8])
	copy(e.ext[:], raw[8:])
	e.writeDate, e.writeTime = dosStamp(b.Now())
	return b.addEntry(f.geo.RootCluster, &e)
}

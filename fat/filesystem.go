package fat

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/rstms/nextfs"
	log "github.com/sirupsen/logrus"
)

// Cluster is the node payload of the FAT32 backend: the first cluster of
// the node's chain. A directory payload of zero denotes the root.
type Cluster struct {
	nextfs.NodeDataBase
	Start uint32
	Attr  nextfs.DirectoryAttr
}

// FileSystem is a mounted FAT32 volume. Each mount owns its FAT sector
// buffer and one cluster-sized scratch buffer; every entry point holds the
// mount lock while it uses them.
type FileSystem struct {
	mu      sync.Mutex
	bs      *BootSector
	geo     Geometry
	device  nextfs.BlockDevice
	alloc   nextfs.Allocator
	fat     *FAT
	fatBuf  []byte
	scratch []byte
}

// ensure FileSystem implements nextfs.Volume
var _ nextfs.Volume = (*FileSystem)(nil)

type Option func(*FileSystem)

// WithAllocator sets the allocator for the mount buffers.
func WithAllocator(alloc nextfs.Allocator) Option {
	return func(f *FileSystem) {
		f.alloc = alloc
	}
}

// Mount validates the boot sector of device and returns the mounted
// volume. Only sector 0 is read before validation passes.
func Mount(device nextfs.BlockDevice, options ...Option) (*FileSystem, error) {
	if device == nil {
		return nil, Fatal(&nextfs.PathError{Op: "mount", Path: "fat32", Err: nextfs.ErrDeviceUnavailable})
	}
	f := FileSystem{
		device: device,
		alloc:  nextfs.DefaultHeap,
	}
	for _, option := range options {
		option(&f)
	}

	sector := make([]byte, nextfs.SectorSize)
	if err := device.ReadBlocks(0, sector); err != nil {
		return nil, Fatal(&nextfs.PathError{Op: "mount", Path: "fat32", Err: joinIO(err)})
	}
	bs, err := DecodeBootSector(sector)
	if err != nil {
		return nil, Fatal(err)
	}
	if err := bs.Validate(); err != nil {
		return nil, Fatal(err)
	}
	geo, err := bs.ComputeGeometry()
	if err != nil {
		return nil, Fatal(err)
	}

	f.fatBuf, err = f.alloc.Alloc(nextfs.SectorSize)
	if err != nil {
		return nil, Fatal(err)
	}
	f.scratch, err = f.alloc.Alloc(geo.ClusterSize)
	if err != nil {
		f.alloc.Free(f.fatBuf)
		return nil, Fatal(err)
	}
	f.bs = bs
	f.geo = geo
	f.fat = newFAT(device, geo, f.fatBuf)

	log.Debugf("fat32: mounted fat_start=%d data_start=%d spc=%d root=%d clusters=%d",
		geo.FATStart, geo.DataStart, geo.SectorsPerCluster, geo.RootCluster, geo.ClusterCount)
	return &f, nil
}

// joinIO tags a device failure as ErrIO unless it already carries a kind.
func joinIO(err error) error {
	if errors.Is(err, nextfs.ErrIO) || errors.Is(err, nextfs.ErrDeviceUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", nextfs.ErrIO, err)
}

// Unmount releases the mount buffers. The FileSystem is unusable after.
func (f *FileSystem) Unmount() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.scratch != nil {
		f.alloc.Free(f.scratch)
		f.scratch = nil
	}
	if f.fatBuf != nil {
		f.alloc.Free(f.fatBuf)
		f.fatBuf = nil
	}
}

func (f *FileSystem) Geometry() Geometry {
	return f.geo
}

func (f *FileSystem) BootSector() BootSector {
	return *f.bs
}

// FAT exposes the allocation table of the mount.
func (f *FileSystem) FAT() *FAT {
	return f.fat
}

func (f *FileSystem) Root() nextfs.Node {
	return nextfs.NewNode("/", nextfs.TypeDirectory, 0, f.geo.RootCluster, Cluster{Attr: nextfs.AttrDirectory}, f)
}

func (f *FileSystem) OEMName() (string, error) {
	return trimField(f.bs.OEMName[:]), nil
}

func (f *FileSystem) VolumeLabel() (string, error) {
	return trimField(f.bs.VolumeLabel[:]), nil
}

func (f *FileSystem) Info() (map[string]any, error) {
	oem, err := f.OEMName()
	if err != nil {
		return nil, Fatal(err)
	}
	label, err := f.VolumeLabel()
	if err != nil {
		return nil, Fatal(err)
	}
	info := map[string]any{
		"type":                "FAT32",
		"oem":                 oem,
		"label":               label,
		"volume_id":           f.bs.VolumeID,
		"bytes_per_sector":    f.bs.BytesPerSector,
		"sectors_per_cluster": f.geo.SectorsPerCluster,
		"fat_count":           f.geo.NumFATs,
		"fat_start":           f.geo.FATStart,
		"fat_size":            f.geo.FATSize,
		"data_start":          f.geo.DataStart,
		"root_cluster":        f.geo.RootCluster,
		"clusters":            f.geo.ClusterCount,
		"total_sectors":       f.bs.TotalSectors(),
	}
	return info, nil
}

func (f *FileSystem) payload(op string, node nextfs.Node) (Cluster, error) {
	data, ok := node.Data.(Cluster)
	if !ok || node.Backend() != nextfs.Backend(f) {
		return Cluster{}, Fatal(&nextfs.PathError{Op: op, Path: node.Name, Err: nextfs.ErrWrongBackend})
	}
	if f.scratch == nil {
		return Cluster{}, Fatal(&nextfs.PathError{Op: op, Path: node.Name, Err: nextfs.ErrDeviceUnavailable})
	}
	return data, nil
}

// ClusterToLBA maps a data cluster to its first sector.
func (f *FileSystem) ClusterToLBA(cluster uint32) uint32 {
	return f.geo.ClusterToLBA(cluster)
}

func (f *FileSystem) readCluster(cluster uint32) error {
	if err := f.device.ReadBlocks(f.geo.ClusterToLBA(cluster), f.scratch); err != nil {
		return Fatal(joinIO(err))
	}
	return nil
}

func (f *FileSystem) writeCluster(cluster uint32) error {
	if err := f.device.WriteBlocks(f.geo.ClusterToLBA(cluster), f.scratch); err != nil {
		return Fatal(joinIO(err))
	}
	return nil
}

// overlap returns the part of [pos, pos+size) that falls in [lo, hi) as
// offsets relative to pos and into the caller's buffer.
func overlap(pos, size, lo, hi int64) (int64, int64, int64, bool) {
	start := max(pos, lo)
	end := min(pos+size, hi)
	if start >= end {
		return 0, 0, 0, false
	}
	return start - pos, end - pos, start - lo, true
}

// Read copies file data from the node's chain, limited by the node's
// recorded size. The count is short when the chain or the file ends first.
func (f *FileSystem) Read(node nextfs.Node, offset int64, buf []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, err := f.payload("read", node)
	if err != nil {
		return 0, Fatal(err)
	}
	if node.IsDir() {
		return 0, Fatal(&nextfs.PathError{Op: "read", Path: node.Name, Err: nextfs.ErrIsDirectory})
	}
	if offset < 0 {
		return 0, Fatal(&nextfs.PathError{Op: "read", Path: node.Name, Err: nextfs.ErrInvalidPath})
	}
	lo := offset
	hi := min(offset+int64(len(buf)), int64(node.Size))
	if lo >= hi || data.Start == 0 {
		return 0, nil
	}

	csize := int64(f.geo.ClusterSize)
	var pos int64
	var copied int
	err = f.fat.Walk(data.Start, func(cluster uint32) (bool, error) {
		if from, to, dst, ok := overlap(pos, csize, lo, hi); ok {
			if err := f.readCluster(cluster); err != nil {
				return false, Fatal(err)
			}
			copied += copy(buf[dst:], f.scratch[from:to])
		}
		pos += csize
		return pos < hi, nil
	})
	if err != nil {
		return copied, Fatal(err)
	}
	return copied, nil
}

// Write patches data into the clusters the node's chain already owns, one
// read-modify-write per touched cluster. The chain is never extended and the
// recorded size is not changed; a write running past the last cluster stops
// there and returns a short count.
func (f *FileSystem) Write(node nextfs.Node, offset int64, data []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	payload, err := f.payload("write", node)
	if err != nil {
		return 0, Fatal(err)
	}
	if node.IsDir() {
		return 0, Fatal(&nextfs.PathError{Op: "write", Path: node.Name, Err: nextfs.ErrIsDirectory})
	}
	if offset < 0 {
		return 0, Fatal(&nextfs.PathError{Op: "write", Path: node.Name, Err: nextfs.ErrInvalidPath})
	}
	if len(data) == 0 || payload.Start == 0 {
		return 0, nil
	}

	lo := offset
	hi := offset + int64(len(data))
	csize := int64(f.geo.ClusterSize)
	var pos int64
	var written int
	err = f.fat.Walk(payload.Start, func(cluster uint32) (bool, error) {
		if from, to, src, ok := overlap(pos, csize, lo, hi); ok {
			if err := f.readCluster(cluster); err != nil {
				return false, Fatal(err)
			}
			n := copy(f.scratch[from:to], data[src:])
			if err := f.writeCluster(cluster); err != nil {
				return false, Fatal(err)
			}
			written += n
		}
		pos += csize
		return pos < hi, nil
	})
	if err != nil {
		return written, Fatal(err)
	}
	return written, nil
}

// ReadDir returns the index-th live entry of dir, skipping deleted,
// long-name and volume-id records. It returns io.EOF at the terminator
// record or the end of the directory chain.
func (f *FileSystem) ReadDir(dir nextfs.Node, index int) (nextfs.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, err := f.payload("readdir", dir)
	if err != nil {
		return nextfs.Node{}, Fatal(err)
	}
	if !dir.IsDir() {
		return nextfs.Node{}, Fatal(&nextfs.PathError{Op: "readdir", Path: dir.Name, Err: nextfs.ErrNotDirectory})
	}
	if index < 0 {
		return nextfs.Node{}, io.EOF
	}
	start := data.Start
	if start == 0 {
		start = f.geo.RootCluster
	}

	var found *DirectoryClusterEntry
	done := false
	live := 0
	err = f.fat.Walk(start, func(cluster uint32) (bool, error) {
		if err := f.readCluster(cluster); err != nil {
			return false, Fatal(err)
		}
		for off := 0; off+DirEntrySize <= len(f.scratch); off += DirEntrySize {
			record := f.scratch[off : off+DirEntrySize]
			switch classify(record) {
			case recordEnd:
				done = true
				return false, nil
			case recordSkip:
				continue
			}
			if live == index {
				found = DecodeDirectoryClusterEntry(record)
				return false, nil
			}
			live++
		}
		return true, nil
	})
	if err != nil {
		return nextfs.Node{}, Fatal(err)
	}
	if found == nil || done {
		return nextfs.Node{}, io.EOF
	}
	return f.entryNode(found), nil
}

func (f *FileSystem) entryNode(e *DirectoryClusterEntry) nextfs.Node {
	typ := nextfs.TypeFile
	size := e.FileSize()
	if e.IsDir() {
		typ = nextfs.TypeDirectory
		size = 0
	}
	payload := Cluster{Start: e.Cluster(), Attr: e.Attr()}
	return nextfs.NewNode(e.Name(), typ, size, e.Cluster(), payload, f)
}

package fat

import (
	"encoding/binary"
	"fmt"

	"github.com/rstms/nextfs"
)

const (
	firstCluster = 2
	entryMask    = 0x0FFFFFFF
	badCluster   = 0x0FFFFFF7
	endOfChain   = 0x0FFFFFF8
	eocMarker    = 0x0FFFFFFF
	maxCluster   = 0x0FFFFFF5
	freeCluster  = 0
)

// IsEndOfChain reports whether a FAT entry terminates a cluster chain.
func IsEndOfChain(entry uint32) bool {
	return entry&entryMask >= endOfChain
}

// FAT reads and updates the file allocation table of a mounted volume one
// sector at a time. Every update is mirrored to all FAT copies.
type FAT struct {
	device nextfs.BlockDevice
	geo    Geometry
	buf    []byte
	cached uint32
	valid  bool
}

func newFAT(device nextfs.BlockDevice, geo Geometry, buf []byte) *FAT {
	return &FAT{
		device: device,
		geo:    geo,
		buf:    buf,
	}
}

func (f *FAT) locate(cluster uint32) (uint32, int) {
	off := uint64(cluster) * 4
	return f.geo.FATStart + uint32(off/nextfs.SectorSize), int(off % nextfs.SectorSize)
}

func (f *FAT) load(lba uint32) error {
	if f.valid && f.cached == lba {
		return nil
	}
	f.valid = false
	if err := f.device.ReadBlocks(lba, f.buf); err != nil {
		return Fatal(err)
	}
	f.cached = lba
	f.valid = true
	return nil
}

// Entry returns the low 28 bits of the FAT entry for cluster.
func (f *FAT) Entry(cluster uint32) (uint32, error) {
	if uint64(cluster) >= uint64(f.geo.ClusterCount)+firstCluster {
		return 0, Fatal(fmt.Errorf("%w: cluster %d outside FAT", nextfs.ErrCorrupt, cluster))
	}
	lba, off := f.locate(cluster)
	if err := f.load(lba); err != nil {
		return 0, Fatal(err)
	}
	return binary.LittleEndian.Uint32(f.buf[off:]) & entryMask, nil
}

// SetEntry stores value for cluster in every FAT copy, keeping the upper
// four reserved bits of the existing entry.
func (f *FAT) SetEntry(cluster, value uint32) error {
	if uint64(cluster) >= uint64(f.geo.ClusterCount)+firstCluster {
		return Fatal(fmt.Errorf("%w: cluster %d outside FAT", nextfs.ErrCorrupt, cluster))
	}
	lba, off := f.locate(cluster)
	for copyIndex := uint32(0); copyIndex < f.geo.NumFATs; copyIndex++ {
		target := lba + copyIndex*f.geo.FATSize
		if err := f.load(target); err != nil {
			return Fatal(err)
		}
		old := binary.LittleEndian.Uint32(f.buf[off:])
		binary.LittleEndian.PutUint32(f.buf[off:], old&^entryMask|value&entryMask)
		if err := f.device.WriteBlocks(target, f.buf); err != nil {
			f.valid = false
			return Fatal(err)
		}
	}
	return nil
}

// Walk visits the chain starting at start in order until visit returns
// false or the chain ends. The walk is budgeted by the volume cluster count
// so a looping chain fails with ErrCorrupt instead of running forever.
func (f *FAT) Walk(start uint32, visit func(cluster uint32) (bool, error)) error {
	cluster := start
	for steps := uint32(0); ; steps++ {
		if steps >= f.geo.ClusterCount {
			return Fatal(fmt.Errorf("%w: chain from cluster %d exceeds %d clusters", nextfs.ErrCorrupt, start, f.geo.ClusterCount))
		}
		if !f.geo.ValidCluster(cluster) {
			return Fatal(fmt.Errorf("%w: chain from cluster %d links to %d", nextfs.ErrCorrupt, start, cluster))
		}
		more, err := visit(cluster)
		if err != nil {
			return Fatal(err)
		}
		if !more {
			return nil
		}
		next, err := f.Entry(cluster)
		if err != nil {
			return Fatal(err)
		}
		if IsEndOfChain(next) {
			return nil
		}
		if next == badCluster || next == freeCluster {
			return Fatal(fmt.Errorf("%w: chain from cluster %d hits entry 0x%08x", nextfs.ErrCorrupt, start, next))
		}
		cluster = next
	}
}

// Chain returns every cluster of the chain starting at start.
func (f *FAT) Chain(start uint32) ([]uint32, error) {
	var chain []uint32
	err := f.Walk(start, func(cluster uint32) (bool, error) {
		chain = append(chain, cluster)
		return true, nil
	})
	if err != nil {
		return nil, Fatal(err)
	}
	return chain, nil
}

// AllocChain claims count free clusters at or after hint, links them into
// a terminated chain, and returns the first cluster.
func (f *FAT) AllocChain(hint uint32, count int) (uint32, error) {
	if count <= 0 {
		return 0, nil
	}
	if hint < firstCluster {
		hint = firstCluster
	}
	clusters := make([]uint32, 0, count)
	limit := uint64(f.geo.ClusterCount) + firstCluster
	for c := uint64(hint); c < limit && len(clusters) < count; c++ {
		entry, err := f.Entry(uint32(c))
		if err != nil {
			return 0, Fatal(err)
		}
		if entry == freeCluster {
			clusters = append(clusters, uint32(c))
		}
	}
	if len(clusters) < count {
		return 0, Fatal(fmt.Errorf("%w: need %d free clusters, found %d", nextfs.ErrNoSpace, count, len(clusters)))
	}
	for i, c := range clusters {
		next := uint32(eocMarker)
		if i+1 < len(clusters) {
			next = clusters[i+1]
		}
		if err := f.SetEntry(c, next); err != nil {
			return 0, Fatal(err)
		}
	}
	return clusters[0], nil
}

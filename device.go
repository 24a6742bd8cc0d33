package nextfs

import (
	"sync"

	"github.com/spf13/afero"
)

// SectorSize is the only sector size the block device contract supports.
const SectorSize = 512

// BlockDevice transfers whole 512-byte sectors addressed by logical block
// number. The block count of a transfer is len(buf)/SectorSize.
type BlockDevice interface {
	ReadBlocks(lba uint32, buf []byte) error
	WriteBlocks(lba uint32, buf []byte) error
}

func checkTransfer(lba uint32, buf []byte, total uint32) error {
	if len(buf) == 0 || len(buf)%SectorSize != 0 {
		return ErrIO
	}
	if uint64(lba)+uint64(len(buf)/SectorSize) > uint64(total) {
		return ErrIO
	}
	return nil
}

// MemDisk is a BlockDevice held entirely in memory.
type MemDisk struct {
	mu   sync.Mutex
	data []byte
}

// NewMemDisk returns a zeroed device of the given number of sectors.
func NewMemDisk(sectors uint32) *MemDisk {
	return &MemDisk{data: make([]byte, int(sectors)*SectorSize)}
}

func (d *MemDisk) Sectors() uint32 {
	return uint32(len(d.data) / SectorSize)
}

// Bytes exposes the raw image backing d.
func (d *MemDisk) Bytes() []byte {
	return d.data
}

func (d *MemDisk) ReadBlocks(lba uint32, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := checkTransfer(lba, buf, d.Sectors()); err != nil {
		return Fatal(err)
	}
	copy(buf, d.data[int(lba)*SectorSize:])
	return nil
}

func (d *MemDisk) WriteBlocks(lba uint32, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := checkTransfer(lba, buf, d.Sectors()); err != nil {
		return Fatal(err)
	}
	copy(d.data[int(lba)*SectorSize:], buf)
	return nil
}

// FileDisk is a BlockDevice backed by a disk image file.
type FileDisk struct {
	file    afero.File
	sectors uint32
}

// NewFileDisk wraps an open image file. The image size must be a whole
// number of sectors.
func NewFileDisk(file afero.File) (*FileDisk, error) {
	info, err := file.Stat()
	if err != nil {
		return nil, Fatal(err)
	}
	if info.Size() == 0 || info.Size()%SectorSize != 0 {
		return nil, Fatalf("image size %d is not a multiple of %d", info.Size(), SectorSize)
	}
	d := FileDisk{
		file:    file,
		sectors: uint32(info.Size() / SectorSize),
	}
	return &d, nil
}

func (d *FileDisk) Sectors() uint32 {
	return d.sectors
}

func (d *FileDisk) ReadBlocks(lba uint32, buf []byte) error {
	if d.file == nil {
		return Fatal(ErrDeviceUnavailable)
	}
	if err := checkTransfer(lba, buf, d.sectors); err != nil {
		return Fatal(err)
	}
	if _, err := d.file.ReadAt(buf, int64(lba)*SectorSize); err != nil {
		return Fatal(&PathError{Op: "read", Path: d.file.Name(), Err: ErrIO})
	}
	return nil
}

func (d *FileDisk) WriteBlocks(lba uint32, buf []byte) error {
	if d.file == nil {
		return Fatal(ErrDeviceUnavailable)
	}
	if err := checkTransfer(lba, buf, d.sectors); err != nil {
		return Fatal(err)
	}
	if _, err := d.file.WriteAt(buf, int64(lba)*SectorSize); err != nil {
		return Fatal(&PathError{Op: "write", Path: d.file.Name(), Err: ErrIO})
	}
	return nil
}

// Close syncs the image; the file itself belongs to the caller.
func (d *FileDisk) Close() error {
	if d.file == nil {
		return nil
	}
	err := d.file.Sync()
	d.file = nil
	if err != nil {
		return Fatal(err)
	}
	return nil
}

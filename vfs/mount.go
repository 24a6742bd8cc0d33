package vfs

import (
	"github.com/rstms/nextfs"
	"github.com/rstms/nextfs/fat"
)

// A Mounter attaches a disk backend to a block device.
type Mounter struct {
	Name  string
	Mount func(device nextfs.BlockDevice) (nextfs.Volume, error)
}

// DefaultMounters tries FAT32 first and falls back to EXT2.
func DefaultMounters() []Mounter {
	return []Mounter{
		{Name: "fat32", Mount: mountFAT32},
		{Name: "ext2", Mount: mountExt2},
	}
}

func mountFAT32(device nextfs.BlockDevice) (nextfs.Volume, error) {
	fs, err := fat.Mount(device)
	if err != nil {
		return nil, Fatal(err)
	}
	return fs, nil
}

// mountExt2 is the EXT2 fallback contract. No EXT2 driver exists, so every
// device is reported as unsupported.
func mountExt2(device nextfs.BlockDevice) (nextfs.Volume, error) {
	return nil, Fatal(&nextfs.PathError{Op: "mount", Path: "ext2", Err: nextfs.ErrUnsupported})
}

type unmounter interface {
	Unmount()
}

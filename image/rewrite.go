/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package image

import (
	"github.com/rstms/nextfs"
	"github.com/spf13/afero"
)

// RewriteImage copies every directory and file of the disk volume in
// srcFile into a freshly formatted image dstFile, keeping the OEM name and
// volume label.
func RewriteImage(afs afero.Fs, dstFile, srcFile string, size int64) error {
	src, err := OpenImage(afs, srcFile)
	if err != nil {
		return Fatal(err)
	}
	defer src.Close()

	volume, err := src.volume()
	if err != nil {
		return Fatal(err)
	}
	label, err := volume.VolumeLabel()
	if err != nil {
		return Fatal(err)
	}
	if label == "NO NAME" {
		label = ""
	}
	oem, err := volume.OEMName()
	if err != nil {
		return Fatal(err)
	}

	records, err := src.scanVolume()
	if err != nil {
		return Fatal(err)
	}
	if size == 0 {
		info, err := afs.Stat(srcFile)
		if err != nil {
			return Fatal(err)
		}
		size = info.Size()
	}

	dst, err := CreateImage(afs, dstFile, label, oem, size)
	if err != nil {
		return Fatal(err)
	}
	defer dst.Close()

	srcRoot := volume.Root()
	for _, record := range records {
		if record.Dir {
			if err := dst.Mkdir(record.Name); err != nil {
				return Fatal(err)
			}
			continue
		}
		data, err := readVolumeFile(srcRoot, record)
		if err != nil {
			return Fatal(err)
		}
		if err := dst.AddFile(record.Name, data); err != nil {
			return Fatal(err)
		}
	}
	for _, record := range records {
		var attr nextfs.DirectoryAttr
		if record.ReadOnly {
			attr |= nextfs.AttrReadOnly
		}
		if record.Hidden {
			attr |= nextfs.AttrHidden
		}
		if record.System {
			attr |= nextfs.AttrSystem
		}
		if attr != 0 {
			if err := dst.SetAttr(record.Name, attr, true); err != nil {
				return Fatal(err)
			}
		}
	}
	return nil
}

func readVolumeFile(root nextfs.Node, record FileRecord) ([]byte, error) {
	node, err := lookup(root, record.Name)
	if err != nil {
		return []byte{}, Fatal(err)
	}
	return readNode(node)
}

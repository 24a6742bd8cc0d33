package image

import (
	"errors"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rstms/nextfs"
	"github.com/rstms/nextfs/fat"
	"github.com/rstms/nextfs/ramfs"
	"github.com/rstms/nextfs/vfs"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

const MB = 1024 * 1024

type FileRecord struct {
	Name     string
	Dir      bool
	Size     uint32
	Ramfs    bool
	Hidden   bool
	System   bool
	ReadOnly bool
}

// Image is a disk image file on a host filesystem, mounted through a VFS.
type Image struct {
	Filename string
	afs      afero.Fs
	file     afero.File
	disk     *nextfs.FileDisk
	vfs      *vfs.VFS
}

func OpenImage(afs afero.Fs, filename string, options ...vfs.Option) (*Image, error) {
	i := Image{Filename: filename, afs: afs}
	var err error
	i.file, err = afs.OpenFile(filename, os.O_RDWR, 0600)
	if err != nil {
		return nil, Fatal(err)
	}
	i.disk, err = nextfs.NewFileDisk(i.file)
	if err != nil {
		i.closeFile()
		return nil, Fatal(err)
	}
	i.vfs = vfs.New(options...)
	if err := i.vfs.Init(i.disk); err != nil {
		i.Close()
		return nil, Fatal(err)
	}
	return &i, nil
}

// CreateImage writes a freshly formatted FAT32 image of at least size bytes
// and opens it.
func CreateImage(afs afero.Fs, filename, label, oem string, size int64, options ...vfs.Option) (*Image, error) {
	i := Image{Filename: filename, afs: afs}
	err := i.createImageFile(size)
	if err != nil {
		return nil, Fatal(err)
	}
	i.disk, err = nextfs.NewFileDisk(i.file)
	if err != nil {
		i.closeFile()
		return nil, Fatal(err)
	}
	err = fat.FormatSuperFloppy(i.disk, &fat.SuperFloppyConfig{
		Sectors: i.disk.Sectors(),
		Label:   label,
		OEMName: oem,
	})
	if err != nil {
		i.Close()
		return nil, Fatal(err)
	}
	i.vfs = vfs.New(options...)
	if err := i.vfs.Init(i.disk); err != nil {
		i.Close()
		return nil, Fatal(err)
	}
	return &i, nil
}

func (i *Image) closeFile() error {
	if i.file != nil {
		err := i.file.Close()
		i.file = nil
		if err != nil {
			return Fatal(err)
		}
	}
	return nil
}

func (i *Image) closeDisk() error {
	if i.disk != nil {
		err := i.disk.Close()
		i.disk = nil
		if err != nil {
			return Fatal(err)
		}
	}
	return nil
}

func (i *Image) Close() error {
	if i.vfs != nil {
		i.vfs.Close()
		i.vfs = nil
	}
	diskErr := i.closeDisk()
	fileErr := i.closeFile()
	return errors.Join(diskErr, fileErr)
}

// VFS returns the merged tree of the image.
func (i *Image) VFS() *vfs.VFS {
	return i.vfs
}

func (i *Image) volume() (*fat.FileSystem, error) {
	fs, ok := i.vfs.Volume().(*fat.FileSystem)
	if !ok {
		return nil, Fatal(&nextfs.PathError{Op: "volume", Path: i.Filename, Err: nextfs.ErrDeviceUnavailable})
	}
	return fs, nil
}

// ScanFiles walks the merged tree, ramfs directories included.
func (i *Image) ScanFiles() ([]FileRecord, error) {
	records, err := walk("/", i.vfs.Root())
	if err != nil {
		return []FileRecord{}, Fatal(err)
	}
	return records, nil
}

// scanVolume walks the disk volume alone, so the on-disk config file is
// visible.
func (i *Image) scanVolume() ([]FileRecord, error) {
	fs, err := i.volume()
	if err != nil {
		return []FileRecord{}, Fatal(err)
	}
	records, err := walk("/", fs.Root())
	if err != nil {
		return []FileRecord{}, Fatal(err)
	}
	return records, nil
}

func walk(dirPath string, dir nextfs.Node) ([]FileRecord, error) {
	records := []FileRecord{}
	for index := 0; ; index++ {
		entry, err := dir.ReadDir(index)
		if err == io.EOF {
			return records, nil
		}
		if err != nil {
			return []FileRecord{}, Fatal(err)
		}
		if entry.Name == "." || entry.Name == ".." {
			continue
		}
		record := FileRecord{
			Name: path.Join(dirPath, entry.Name),
			Dir:  entry.IsDir(),
			Size: entry.Size,
		}
		switch data := entry.Data.(type) {
		case fat.Cluster:
			record.Hidden = data.Attr.Has(nextfs.AttrHidden)
			record.System = data.Attr.Has(nextfs.AttrSystem)
			record.ReadOnly = data.Attr.Has(nextfs.AttrReadOnly)
		case ramfs.Slot:
			record.Ramfs = true
		}
		records = append(records, record)
		if entry.IsDir() {
			sub, err := walk(record.Name, entry)
			if err != nil {
				return []FileRecord{}, Fatal(err)
			}
			records = append(records, sub...)
		}
	}
}

func (i *Image) IsDir(name string) (bool, error) {
	node, err := i.vfs.Open(cleanPath(name))
	if errors.Is(err, nextfs.ErrNotFound) || errors.Is(err, nextfs.ErrNotDirectory) {
		return false, nil
	}
	if err != nil {
		return false, Fatal(err)
	}
	return node.IsDir(), nil
}

func (i *Image) ReadFile(filename string) ([]byte, error) {
	data, err := i.vfs.ReadFile(cleanPath(filename))
	if err != nil {
		return []byte{}, Fatal(err)
	}
	log.Debugf("image: read %d bytes from %s", len(data), filename)
	return data, nil
}

// Mkdir creates a directory on the disk volume of the image.
func (i *Image) Mkdir(pathname string) error {
	fs, err := i.volume()
	if err != nil {
		return Fatal(err)
	}
	if err := fat.NewBuilder(fs).Mkdir(cleanPath(pathname)); err != nil {
		return Fatal(err)
	}
	return nil
}

// AddFile stores data as a new file on the disk volume of the image.
func (i *Image) AddFile(dstPathname string, data []byte) error {
	fs, err := i.volume()
	if err != nil {
		return Fatal(err)
	}
	if err := fat.NewBuilder(fs).WriteFile(cleanPath(dstPathname), data); err != nil {
		return Fatal(err)
	}
	return nil
}

func (i *Image) SetAttr(filename string, attr nextfs.DirectoryAttr, state bool) error {
	fs, err := i.volume()
	if err != nil {
		return Fatal(err)
	}
	if err := fat.NewBuilder(fs).SetAttr(cleanPath(filename), attr, state); err != nil {
		return Fatal(err)
	}
	return nil
}

// Import copies the tree below dir on src into the root of the image.
func (i *Image) Import(src afero.Fs, dir string) error {
	err := afero.Walk(src, dir, func(hostPath string, info os.FileInfo, err error) error {
		if err != nil {
			return Fatal(err)
		}
		if hostPath == dir {
			return nil
		}
		rel, err := filepath.Rel(dir, hostPath)
		if err != nil {
			return Fatal(err)
		}
		dst := "/" + filepath.ToSlash(rel)
		log.Debugf("image: import dir=%v dst=%s path=%s", info.IsDir(), dst, hostPath)
		if info.IsDir() {
			return i.Mkdir(dst)
		}
		data, err := afero.ReadFile(src, hostPath)
		if err != nil {
			return Fatal(err)
		}
		return i.AddFile(dst, data)
	})
	if err != nil {
		return Fatal(err)
	}
	return nil
}

// create, truncate, and reopen the output file
func (i *Image) createImageFile(size int64) error {
	if size%int64(1024) != 0 {
		size = (size/int64(1024) + 1) * int64(1024)
	}
	log.Debugf("image: creating %s size=%d", i.Filename, size)
	var err error
	i.file, err = i.afs.OpenFile(i.Filename, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0600)
	if err != nil {
		return Fatal(err)
	}
	err = i.file.Truncate(size)
	if err != nil {
		i.closeFile()
		return Fatal(err)
	}
	return nil
}

// lookup resolves name below root one component at a time.
func lookup(root nextfs.Node, name string) (nextfs.Node, error) {
	cur := root
	for _, part := range strings.Split(strings.Trim(name, "/"), "/") {
		if part == "" {
			continue
		}
		if !cur.IsDir() {
			return nextfs.Node{}, Fatal(&nextfs.PathError{Op: "lookup", Path: name, Err: nextfs.ErrNotDirectory})
		}
		found := false
		for index := 0; ; index++ {
			entry, err := cur.ReadDir(index)
			if err == io.EOF {
				break
			}
			if err != nil {
				return nextfs.Node{}, Fatal(err)
			}
			if strings.EqualFold(entry.Name, part) {
				cur = entry
				found = true
				break
			}
		}
		if !found {
			return nextfs.Node{}, Fatal(&nextfs.PathError{Op: "lookup", Path: name, Err: nextfs.ErrNotFound})
		}
	}
	return cur, nil
}

func readNode(node nextfs.Node) ([]byte, error) {
	if node.IsDir() {
		return []byte{}, Fatal(&nextfs.PathError{Op: "read", Path: node.Name, Err: nextfs.ErrIsDirectory})
	}
	data := make([]byte, node.Size)
	n, err := node.Read(0, data)
	if err != nil {
		return []byte{}, Fatal(err)
	}
	return data[:n], nil
}

func cleanPath(name string) string {
	name = strings.Trim(name, "/")
	return "/" + name
}

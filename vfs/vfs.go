package vfs

import (
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/rstms/nextfs"
	"github.com/rstms/nextfs/ramfs"
	log "github.com/sirupsen/logrus"
)

// VFS presents the ramfs overlay and one disk volume as a single tree.
// Every entry point is serialized behind one lock.
type VFS struct {
	mu       sync.Mutex
	ram      *ramfs.FS
	disk     nextfs.Volume
	mounters []Mounter
}

type Option func(*VFS)

// WithRamfs replaces the default ramfs instance.
func WithRamfs(ram *ramfs.FS) Option {
	return func(v *VFS) {
		v.ram = ram
	}
}

// WithMounters replaces the mounter chain tried by Init.
func WithMounters(mounters ...Mounter) Option {
	return func(v *VFS) {
		v.mounters = mounters
	}
}

// WithVolume attaches an already mounted disk volume.
func WithVolume(volume nextfs.Volume) Option {
	return func(v *VFS) {
		v.disk = volume
	}
}

func New(options ...Option) *VFS {
	v := VFS{
		mounters: DefaultMounters(),
	}
	for _, option := range options {
		option(&v)
	}
	if v.ram == nil {
		v.ram = ramfs.New()
	}
	return &v
}

// Init resets the ramfs and mounts device with the first mounter that
// accepts it. When none does, the VFS stays usable with the ramfs alone
// and the collected mount errors are returned.
func (v *VFS) Init(device nextfs.BlockDevice) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.ram.Init()
	v.unmount()
	if device == nil {
		log.Warnf("vfs: no block device, running ramfs only")
		return Fatal(&nextfs.PathError{Op: "init", Path: "/", Err: nextfs.ErrDeviceUnavailable})
	}
	var errs []error
	for _, m := range v.mounters {
		volume, err := m.Mount(device)
		if err == nil {
			v.disk = volume
			log.Debugf("vfs: mounted %s volume", m.Name)
			return nil
		}
		log.Debugf("vfs: %s mount failed: %v", m.Name, err)
		errs = append(errs, err)
	}
	log.Warnf("vfs: no mountable volume, running ramfs only")
	if len(errs) == 0 {
		return Fatal(&nextfs.PathError{Op: "init", Path: "/", Err: nextfs.ErrUnsupported})
	}
	return Fatal(errors.Join(errs...))
}

func (v *VFS) unmount() {
	if u, ok := v.disk.(unmounter); ok {
		u.Unmount()
	}
	v.disk = nil
}

// Close unmounts the disk volume.
func (v *VFS) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.unmount()
}

// Volume returns the mounted disk volume, or nil.
func (v *VFS) Volume() nextfs.Volume {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.disk
}

func (v *VFS) Ramfs() *ramfs.FS {
	return v.ram
}

func (v *VFS) Root() nextfs.Node {
	return rootBackend{v}.root()
}

func components(path string) []string {
	var parts []string
	for _, part := range strings.Split(path, "/") {
		if part != "" {
			parts = append(parts, part)
		}
	}
	return parts
}

// Open resolves an absolute path. Paths under the ramfs prefixes go to the
// ramfs; everything else is walked on the disk one component at a time.
func (v *VFS) Open(path string) (nextfs.Node, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.open(path)
}

func (v *VFS) open(path string) (nextfs.Node, error) {
	if !strings.HasPrefix(path, "/") {
		return nextfs.Node{}, Fatal(&nextfs.PathError{Op: "open", Path: path, Err: nextfs.ErrInvalidPath})
	}
	if path == "/" {
		return v.Root(), nil
	}
	// The prefix test is case-sensitive: a disk entry such as /desktop is
	// hidden from the root listing but still resolves here by path.
	if ramfs.IsRamfsPath(path) {
		node, err := v.ram.Lookup(path)
		if err != nil {
			return nextfs.Node{}, Fatal(err)
		}
		return node, nil
	}
	parts := components(path)
	if len(parts) == 0 {
		return v.Root(), nil
	}
	if len(parts) == 1 && strings.EqualFold(parts[0], ConfigFileName) {
		return rootBackend{v}.config(), nil
	}
	if v.disk == nil {
		return nextfs.Node{}, Fatal(&nextfs.PathError{Op: "open", Path: path, Err: nextfs.ErrDeviceUnavailable})
	}

	cur := v.disk.Root()
	for depth, part := range parts {
		if !cur.IsDir() {
			return nextfs.Node{}, Fatal(&nextfs.PathError{Op: "open", Path: "/" + strings.Join(parts[:depth], "/"), Err: nextfs.ErrNotDirectory})
		}
		next, err := v.child(cur, part)
		if err != nil {
			return nextfs.Node{}, Fatal(&nextfs.PathError{Op: "open", Path: path, Err: err})
		}
		cur = next
	}
	log.Debugf("vfs: open %s -> %s", path, cur)
	return cur, nil
}

// child scans dir linearly for name.
func (v *VFS) child(dir nextfs.Node, name string) (nextfs.Node, error) {
	for i := 0; ; i++ {
		node, err := dir.ReadDir(i)
		if err == io.EOF {
			return nextfs.Node{}, nextfs.ErrNotFound
		}
		if err != nil {
			return nextfs.Node{}, err
		}
		if strings.EqualFold(node.Name, name) {
			return node, nil
		}
	}
}

func (v *VFS) Read(node nextfs.Node, offset int64, buf []byte) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return node.Read(offset, buf)
}

func (v *VFS) Write(node nextfs.Node, offset int64, data []byte) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return node.Write(offset, data)
}

func (v *VFS) ReadDir(dir nextfs.Node, index int) (nextfs.Node, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return dir.ReadDir(index)
}

// List returns every child of the directory at path.
func (v *VFS) List(path string) ([]nextfs.Node, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	dir, err := v.open(path)
	if err != nil {
		return nil, Fatal(err)
	}
	if !dir.IsDir() {
		return nil, Fatal(&nextfs.PathError{Op: "list", Path: path, Err: nextfs.ErrNotDirectory})
	}
	nodes := []nextfs.Node{}
	for i := 0; ; i++ {
		node, err := dir.ReadDir(i)
		if err == io.EOF {
			return nodes, nil
		}
		if err != nil {
			return nil, Fatal(err)
		}
		nodes = append(nodes, node)
	}
}

// ReadFile returns the whole contents of the file at path.
func (v *VFS) ReadFile(path string) ([]byte, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	node, err := v.open(path)
	if err != nil {
		return nil, Fatal(err)
	}
	if node.IsDir() {
		return nil, Fatal(&nextfs.PathError{Op: "read", Path: path, Err: nextfs.ErrIsDirectory})
	}
	buf := make([]byte, node.Size)
	n, err := node.Read(0, buf)
	if err != nil {
		return nil, Fatal(err)
	}
	return buf[:n], nil
}

func unsupported(op, path string) error {
	return Fatal(&nextfs.PathError{Op: op, Path: path, Err: nextfs.ErrUnsupported})
}

// Create makes a file or directory. Only ramfs paths can be created.
func (v *VFS) Create(path string, typ nextfs.NodeType) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !ramfs.IsRamfsPath(path) {
		return unsupported("create", path)
	}
	return v.ram.Create(path, typ)
}

func (v *VFS) Delete(path string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !ramfs.IsRamfsPath(path) {
		return unsupported("delete", path)
	}
	return v.ram.Delete(path)
}

// Rename moves an entry within the ramfs; both paths must be ramfs paths.
func (v *VFS) Rename(oldPath, newPath string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !ramfs.IsRamfsPath(oldPath) {
		return unsupported("rename", oldPath)
	}
	if !ramfs.IsRamfsPath(newPath) {
		return unsupported("rename", newPath)
	}
	return v.ram.Rename(oldPath, newPath)
}

package ramfs

import (
	"io"
	"strings"
	"sync"

	"github.com/rstms/nextfs"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultCapacity    = 64
	DefaultMaxFileSize = 1 << 20
	growthSlack        = 1024
)

// MaxFileSize bounds WithMaxFileSize; node sizes are 32-bit.
const MaxFileSize = 1<<32 - 1

// Builtins are the top-level directories created at init. They can never be
// deleted or renamed.
var Builtins = []string{"Desktop", "Documents", "Images"}

// IsRamfsPath reports whether path is owned by the ramfs. The test is a
// plain prefix match, so "/DesktopExtra" is ramfs-owned as well.
func IsRamfsPath(path string) bool {
	for _, name := range Builtins {
		if strings.HasPrefix(path, "/"+name) {
			return true
		}
	}
	return false
}

// Slot is the node payload of the ramfs backend: the entry's table index.
// The root pseudo-directory uses slot -1.
type Slot struct {
	nextfs.NodeDataBase
	Index int
}

const rootSlot = -1

type entry struct {
	name   string
	parent string
	typ    nextfs.NodeType
	data   []byte
	size   int
	used   bool
}

func (e *entry) path() string {
	return joinPath(e.parent, e.name)
}

// FS is a fixed-capacity table of in-memory files and directories. Parent
// and child are related only by the child's parent path string.
type FS struct {
	mu          sync.Mutex
	entries     []entry
	alloc       nextfs.Allocator
	maxFileSize int
}

// ensure FS implements nextfs.Backend
var _ nextfs.Backend = (*FS)(nil)

type Option func(*FS)

// WithCapacity sets the number of table slots, built-ins included.
func WithCapacity(slots int) Option {
	return func(fs *FS) {
		fs.entries = make([]entry, slots)
	}
}

// WithMaxFileSize sets the per-file cap, clamped to MaxFileSize.
func WithMaxFileSize(size int) Option {
	return func(fs *FS) {
		fs.maxFileSize = int(min(max(int64(size), 0), MaxFileSize))
	}
}

func WithAllocator(alloc nextfs.Allocator) Option {
	return func(fs *FS) {
		fs.alloc = alloc
	}
}

func New(options ...Option) *FS {
	fs := FS{
		entries:     make([]entry, DefaultCapacity),
		alloc:       nextfs.DefaultHeap,
		maxFileSize: DefaultMaxFileSize,
	}
	for _, option := range options {
		option(&fs)
	}
	fs.Init()
	return &fs
}

// Init clears the table, releasing every buffer, and recreates the
// built-in directories.
func (fs *FS) Init() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for i := range fs.entries {
		fs.release(i)
	}
	for i, name := range Builtins {
		if i >= len(fs.entries) {
			break
		}
		fs.entries[i] = entry{name: name, parent: "/", typ: nextfs.TypeDirectory, used: true}
	}
	log.Debugf("ramfs: initialized %d slots", len(fs.entries))
}

func (fs *FS) release(i int) {
	e := &fs.entries[i]
	if e.data != nil {
		fs.alloc.Free(e.data)
	}
	*e = entry{}
}

func joinPath(parent, name string) string {
	if parent == "/" {
		return "/" + name
	}
	return parent + "/" + name
}

// splitPath separates path into its parent path and leaf name. A single
// trailing slash is tolerated.
func splitPath(path string) (string, string) {
	if len(path) > 1 && strings.HasSuffix(path, "/") {
		path = strings.TrimSuffix(path, "/")
	}
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return "/", path
	}
	if i == 0 {
		return "/", path[1:]
	}
	return path[:i], path[i+1:]
}

func (fs *FS) find(parent, name string) int {
	for i := range fs.entries {
		e := &fs.entries[i]
		if e.used && e.parent == parent && e.name == name {
			return i
		}
	}
	return -1
}

func (fs *FS) findPath(path string) int {
	parent, name := splitPath(path)
	if name == "" {
		return -1
	}
	return fs.find(parent, name)
}

func (fs *FS) isDir(path string) bool {
	if path == "/" {
		return true
	}
	i := fs.findPath(path)
	return i >= 0 && fs.entries[i].typ == nextfs.TypeDirectory
}

func (fs *FS) hasChildren(path string) bool {
	for i := range fs.entries {
		if fs.entries[i].used && fs.entries[i].parent == path {
			return true
		}
	}
	return false
}

func isBuiltin(parent, name string) bool {
	if parent != "/" {
		return false
	}
	for _, b := range Builtins {
		if b == name {
			return true
		}
	}
	return false
}

func (fs *FS) node(i int) nextfs.Node {
	e := &fs.entries[i]
	return nextfs.NewNode(e.name, e.typ, uint32(e.size), uint32(i+1), Slot{Index: i}, fs)
}

// Root returns the pseudo-directory "/" whose children are the top-level
// ramfs entries.
func (fs *FS) Root() nextfs.Node {
	return nextfs.NewNode("/", nextfs.TypeDirectory, 0, 0, Slot{Index: rootSlot}, fs)
}

// Lookup returns the entry at path.
func (fs *FS) Lookup(path string) (nextfs.Node, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	i := fs.findPath(path)
	if i < 0 {
		return nextfs.Node{}, Fatal(&nextfs.PathError{Op: "lookup", Path: path, Err: nextfs.ErrNotFound})
	}
	return fs.node(i), nil
}

// Create claims the first free slot for a new entry at path. The parent
// must be an existing ramfs directory.
func (fs *FS) Create(path string, typ nextfs.NodeType) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	parent, name := splitPath(path)
	if name == "" || len(name) > nextfs.MaxNameLen || strings.ContainsRune(name, '/') {
		return Fatal(&nextfs.PathError{Op: "create", Path: path, Err: nextfs.ErrInvalidPath})
	}
	if typ != nextfs.TypeFile && typ != nextfs.TypeDirectory {
		return Fatalf("create %s: unknown node type %v", path, typ)
	}
	if fs.find(parent, name) >= 0 {
		return Fatal(&nextfs.PathError{Op: "create", Path: path, Err: nextfs.ErrExists})
	}
	if !fs.isDir(parent) {
		return Fatal(&nextfs.PathError{Op: "create", Path: parent, Err: nextfs.ErrNotFound})
	}
	for i := range fs.entries {
		if !fs.entries[i].used {
			fs.entries[i] = entry{name: name, parent: parent, typ: typ, used: true}
			log.Debugf("ramfs: create %s %s slot=%d", typ, path, i)
			return nil
		}
	}
	return Fatal(&nextfs.PathError{Op: "create", Path: path, Err: nextfs.ErrNoSpace})
}

// Delete removes the entry at path and frees its buffer. Built-ins and
// non-empty directories cannot be deleted.
func (fs *FS) Delete(path string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	i := fs.findPath(path)
	if i < 0 {
		return Fatal(&nextfs.PathError{Op: "delete", Path: path, Err: nextfs.ErrNotFound})
	}
	e := &fs.entries[i]
	if isBuiltin(e.parent, e.name) {
		return Fatal(&nextfs.PathError{Op: "delete", Path: path, Err: nextfs.ErrProtected})
	}
	if e.typ == nextfs.TypeDirectory && fs.hasChildren(e.path()) {
		return Fatal(&nextfs.PathError{Op: "delete", Path: path, Err: nextfs.ErrNotEmpty})
	}
	fs.release(i)
	log.Debugf("ramfs: delete %s slot=%d", path, i)
	return nil
}

// Rename moves the entry at oldPath to newPath. Renaming a directory
// rewrites the parent path of every descendant so the subtree moves with it.
func (fs *FS) Rename(oldPath, newPath string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	i := fs.findPath(oldPath)
	if i < 0 {
		return Fatal(&nextfs.PathError{Op: "rename", Path: oldPath, Err: nextfs.ErrNotFound})
	}
	e := &fs.entries[i]
	if isBuiltin(e.parent, e.name) {
		return Fatal(&nextfs.PathError{Op: "rename", Path: oldPath, Err: nextfs.ErrProtected})
	}
	parent, name := splitPath(newPath)
	if name == "" || len(name) > nextfs.MaxNameLen {
		return Fatal(&nextfs.PathError{Op: "rename", Path: newPath, Err: nextfs.ErrInvalidPath})
	}
	from := e.path()
	to := joinPath(parent, name)
	if from == to {
		return nil
	}
	if strings.HasPrefix(to, from+"/") {
		return Fatal(&nextfs.PathError{Op: "rename", Path: newPath, Err: nextfs.ErrInvalidPath})
	}
	if fs.find(parent, name) >= 0 {
		return Fatal(&nextfs.PathError{Op: "rename", Path: newPath, Err: nextfs.ErrExists})
	}
	if !fs.isDir(parent) {
		return Fatal(&nextfs.PathError{Op: "rename", Path: parent, Err: nextfs.ErrNotFound})
	}

	e.parent = parent
	e.name = name
	if e.typ == nextfs.TypeDirectory {
		for j := range fs.entries {
			c := &fs.entries[j]
			if !c.used || j == i {
				continue
			}
			if c.parent == from {
				c.parent = to
			} else if strings.HasPrefix(c.parent, from+"/") {
				c.parent = to + strings.TrimPrefix(c.parent, from)
			}
		}
	}
	log.Debugf("ramfs: rename %s -> %s", from, to)
	return nil
}

// entryFor resolves a node to its table entry, rejecting nodes this FS did
// not produce and slots freed since the node was built.
func (fs *FS) entryFor(op string, node nextfs.Node) (int, error) {
	slot, ok := node.Data.(Slot)
	if !ok || node.Backend() != nextfs.Backend(fs) {
		return 0, Fatal(&nextfs.PathError{Op: op, Path: node.Name, Err: nextfs.ErrWrongBackend})
	}
	if slot.Index == rootSlot {
		return rootSlot, nil
	}
	if slot.Index < 0 || slot.Index >= len(fs.entries) {
		return 0, Fatal(&nextfs.PathError{Op: op, Path: node.Name, Err: nextfs.ErrWrongBackend})
	}
	e := &fs.entries[slot.Index]
	if !e.used || e.name != node.Name {
		return 0, Fatal(&nextfs.PathError{Op: op, Path: node.Name, Err: nextfs.ErrNotFound})
	}
	return slot.Index, nil
}

func (fs *FS) Read(node nextfs.Node, offset int64, buf []byte) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	i, err := fs.entryFor("read", node)
	if err != nil {
		return 0, Fatal(err)
	}
	if i == rootSlot || fs.entries[i].typ == nextfs.TypeDirectory {
		return 0, Fatal(&nextfs.PathError{Op: "read", Path: node.Name, Err: nextfs.ErrIsDirectory})
	}
	if offset < 0 {
		return 0, Fatal(&nextfs.PathError{Op: "read", Path: node.Name, Err: nextfs.ErrInvalidPath})
	}
	e := &fs.entries[i]
	if offset >= int64(e.size) {
		return 0, nil
	}
	return copy(buf, e.data[offset:e.size]), nil
}

// Write stores data at offset, growing the buffer to the needed size plus
// slack when it is too small. The grown buffer never exceeds the maximum
// file size; a write that would is rejected with ErrNoSpace.
func (fs *FS) Write(node nextfs.Node, offset int64, data []byte) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	i, err := fs.entryFor("write", node)
	if err != nil {
		return 0, Fatal(err)
	}
	if i == rootSlot || fs.entries[i].typ == nextfs.TypeDirectory {
		return 0, Fatal(&nextfs.PathError{Op: "write", Path: node.Name, Err: nextfs.ErrIsDirectory})
	}
	if offset < 0 {
		return 0, Fatal(&nextfs.PathError{Op: "write", Path: node.Name, Err: nextfs.ErrInvalidPath})
	}
	if len(data) == 0 {
		return 0, nil
	}
	e := &fs.entries[i]
	limit := int64(fs.maxFileSize)
	if offset > limit || int64(len(data)) > limit-offset {
		return 0, Fatal(&nextfs.PathError{Op: "write", Path: node.Name, Err: nextfs.ErrNoSpace})
	}
	need := offset + int64(len(data))
	if need > int64(len(e.data)) {
		capacity := min(need+growthSlack, int64(fs.maxFileSize))
		grown, err := fs.alloc.Alloc(int(capacity))
		if err != nil {
			return 0, Fatal(err)
		}
		copy(grown, e.data[:e.size])
		if e.data != nil {
			fs.alloc.Free(e.data)
		}
		e.data = grown
		log.Debugf("ramfs: grow %s to %d bytes", node.Name, capacity)
	}
	n := copy(e.data[offset:], data)
	if int(need) > e.size {
		e.size = int(need)
	}
	return n, nil
}

// ReadDir returns the index-th entry whose parent is dir's full path.
func (fs *FS) ReadDir(dir nextfs.Node, index int) (nextfs.Node, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	i, err := fs.entryFor("readdir", dir)
	if err != nil {
		return nextfs.Node{}, Fatal(err)
	}
	path := "/"
	if i != rootSlot {
		e := &fs.entries[i]
		if e.typ != nextfs.TypeDirectory {
			return nextfs.Node{}, Fatal(&nextfs.PathError{Op: "readdir", Path: dir.Name, Err: nextfs.ErrNotDirectory})
		}
		path = e.path()
	}
	seen := 0
	for j := range fs.entries {
		c := &fs.entries[j]
		if !c.used || c.parent != path {
			continue
		}
		if seen == index {
			return fs.node(j), nil
		}
		seen++
	}
	return nextfs.Node{}, io.EOF
}

// Usage returns the number of slots in use and the table capacity.
func (fs *FS) Usage() (int, int) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	used := 0
	for i := range fs.entries {
		if fs.entries[i].used {
			used++
		}
	}
	return used, len(fs.entries)
}

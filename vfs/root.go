package vfs

import (
	"io"
	"strings"

	"github.com/rstms/nextfs"
)

// ConfigFileName is reserved at the root. The disk's own copy is hidden and
// a synthetic empty file takes its place.
const ConfigFileName = "nextos.cfg"

type rootDir struct {
	nextfs.NodeDataBase
}

type configFile struct {
	nextfs.NodeDataBase
}

// rootBackend serves the merged root directory and the synthetic config
// file. It expects the caller to serialize access when consistency across
// sources matters.
type rootBackend struct {
	v *VFS
}

func (r rootBackend) root() nextfs.Node {
	return nextfs.NewNode("/", nextfs.TypeDirectory, 0, 0, rootDir{}, r)
}

func (r rootBackend) config() nextfs.Node {
	return nextfs.NewNode(ConfigFileName, nextfs.TypeFile, 0, 0, configFile{}, r)
}

func (r rootBackend) check(op string, node nextfs.Node) error {
	if node.Backend() != nextfs.Backend(r) {
		return Fatal(&nextfs.PathError{Op: op, Path: node.Name, Err: nextfs.ErrWrongBackend})
	}
	switch node.Data.(type) {
	case rootDir:
		return Fatal(&nextfs.PathError{Op: op, Path: node.Name, Err: nextfs.ErrIsDirectory})
	case configFile:
		return nil
	}
	return Fatal(&nextfs.PathError{Op: op, Path: node.Name, Err: nextfs.ErrWrongBackend})
}

func (r rootBackend) Read(node nextfs.Node, offset int64, buf []byte) (int, error) {
	if err := r.check("read", node); err != nil {
		return 0, Fatal(err)
	}
	return 0, nil
}

func (r rootBackend) Write(node nextfs.Node, offset int64, data []byte) (int, error) {
	if err := r.check("write", node); err != nil {
		return 0, Fatal(err)
	}
	return 0, Fatal(&nextfs.PathError{Op: "write", Path: node.Name, Err: nextfs.ErrUnsupported})
}

func hidden(name string, shadowed []string) bool {
	if name == "." || name == ".." || strings.EqualFold(name, ConfigFileName) {
		return true
	}
	for _, s := range shadowed {
		if strings.EqualFold(name, s) {
			return true
		}
	}
	return false
}

// ReadDir resolves index against three sources in fixed order: the ramfs
// top-level entries, the disk root entries that are neither dot entries,
// shadowed by a ramfs name, nor the reserved config file, and finally the
// synthetic config file.
func (r rootBackend) ReadDir(dir nextfs.Node, index int) (nextfs.Node, error) {
	if dir.Backend() != nextfs.Backend(r) {
		return nextfs.Node{}, Fatal(&nextfs.PathError{Op: "readdir", Path: dir.Name, Err: nextfs.ErrWrongBackend})
	}
	switch dir.Data.(type) {
	case rootDir:
	case configFile:
		return nextfs.Node{}, Fatal(&nextfs.PathError{Op: "readdir", Path: dir.Name, Err: nextfs.ErrNotDirectory})
	default:
		return nextfs.Node{}, Fatal(&nextfs.PathError{Op: "readdir", Path: dir.Name, Err: nextfs.ErrWrongBackend})
	}
	if index < 0 {
		return nextfs.Node{}, io.EOF
	}

	ramRoot := r.v.ram.Root()
	var shadowed []string
	var picked nextfs.Node
	for i := 0; ; i++ {
		child, err := ramRoot.ReadDir(i)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nextfs.Node{}, Fatal(err)
		}
		if i == index {
			picked = child
		}
		shadowed = append(shadowed, child.Name)
	}
	if index < len(shadowed) {
		return picked, nil
	}

	want := index - len(shadowed)
	seen := 0
	if r.v.disk != nil {
		diskRoot := r.v.disk.Root()
		for i := 0; ; i++ {
			child, err := diskRoot.ReadDir(i)
			if err == io.EOF {
				break
			}
			if err != nil {
				return nextfs.Node{}, Fatal(err)
			}
			if hidden(child.Name, shadowed) {
				continue
			}
			if seen == want {
				return child, nil
			}
			seen++
		}
	}
	if seen == want {
		return r.config(), nil
	}
	return nextfs.Node{}, io.EOF
}

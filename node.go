package nextfs

import (
	"fmt"
)

// MaxNameLen bounds the length of a node name.
const MaxNameLen = 64

type NodeType uint8

const (
	TypeFile NodeType = iota + 1
	TypeDirectory
)

func (t NodeType) String() string {
	switch t {
	case TypeFile:
		return "file"
	case TypeDirectory:
		return "directory"
	}
	return fmt.Sprintf("NodeType(%d)", uint8(t))
}

// NodeData is the backend-specific payload carried by a node. Each backend
// defines its own payload type so that a node from one backend cannot be
// mistaken for another's.
type NodeData interface {
	isNodeData()
}

// NodeDataBase is embedded by payload types to satisfy NodeData.
type NodeDataBase struct{}

func (NodeDataBase) isNodeData() {}

// Node is the unit of identity in the tree. Nodes are values built fresh on
// every lookup and own no resources.
type Node struct {
	Name  string
	Type  NodeType
	Size  uint32
	Inode uint32
	Data  NodeData

	ops Backend
}

// NewNode returns a node bound to ops.
func NewNode(name string, typ NodeType, size, inode uint32, data NodeData, ops Backend) Node {
	return Node{
		Name:  name,
		Type:  typ,
		Size:  size,
		Inode: inode,
		Data:  data,
		ops:   ops,
	}
}

func (n Node) IsDir() bool {
	return n.Type == TypeDirectory
}

// Backend returns the operation set bound to n, or nil for a zero Node.
func (n Node) Backend() Backend {
	return n.ops
}

func (n Node) Read(offset int64, buf []byte) (int, error) {
	if n.ops == nil {
		return 0, Fatal(&PathError{Op: "read", Path: n.Name, Err: ErrWrongBackend})
	}
	return n.ops.Read(n, offset, buf)
}

func (n Node) Write(offset int64, data []byte) (int, error) {
	if n.ops == nil {
		return 0, Fatal(&PathError{Op: "write", Path: n.Name, Err: ErrWrongBackend})
	}
	return n.ops.Write(n, offset, data)
}

func (n Node) ReadDir(index int) (Node, error) {
	if n.ops == nil {
		return Node{}, Fatal(&PathError{Op: "readdir", Path: n.Name, Err: ErrWrongBackend})
	}
	return n.ops.ReadDir(n, index)
}

func (n Node) String() string {
	return fmt.Sprintf("%s(%s size=%d inode=%d)", n.Name, n.Type, n.Size, n.Inode)
}

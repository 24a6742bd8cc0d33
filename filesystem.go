package nextfs

// A Backend is the operation set bound to every node it produces. Node
// payloads are only meaningful to the backend that created them; a backend
// handed a foreign node returns ErrWrongBackend.
type Backend interface {
	// Read copies up to len(buf) bytes starting at offset and returns the
	// count copied. A short count is a normal boundary, not an error.
	Read(node Node, offset int64, buf []byte) (int, error)

	// Write stores data at offset and returns the count stored.
	Write(node Node, offset int64, data []byte) (int, error)

	// ReadDir returns the index-th child of dir, or io.EOF once the
	// directory holds no more entries.
	ReadDir(dir Node, index int) (Node, error)
}

// A Volume is a mounted disk backend providing access to a tree hierarchy
// of directories and files.
type Volume interface {
	Backend

	// Root returns the single root directory.
	Root() Node
	Info() (map[string]any, error)
	OEMName() (string, error)
	VolumeLabel() (string, error)
}

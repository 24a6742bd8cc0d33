package nextfs

import (
	"sync"
)

// Allocator hands out owned byte buffers.
type Allocator interface {
	Alloc(size int) ([]byte, error)
	Free(buf []byte)
}

// Heap is an Allocator over the Go heap. A non-zero Limit caps the number
// of bytes outstanding at once.
type Heap struct {
	Limit int

	mu    sync.Mutex
	inUse int
}

// DefaultHeap has no limit.
var DefaultHeap = &Heap{}

func (h *Heap) Alloc(size int) ([]byte, error) {
	if size < 0 {
		return nil, Fatal(ErrNoMemory)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.Limit > 0 && h.inUse+size > h.Limit {
		return nil, Fatal(ErrNoMemory)
	}
	h.inUse += size
	return make([]byte, size), nil
}

func (h *Heap) Free(buf []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.inUse -= cap(buf)
	if h.inUse < 0 {
		h.inUse = 0
	}
}

// InUse returns the bytes currently allocated.
func (h *Heap) InUse() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.inUse
}

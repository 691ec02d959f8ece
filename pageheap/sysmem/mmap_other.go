//go:build !unix

package sysmem

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/joshuapare/pageheap/internal/checked"
)

const fallbackPageSize = 64 << 10

// Mmap hands out page-aligned buffers from the Go heap where anonymous
// mappings are unavailable. Buffers stay referenced until freed.
type Mmap struct {
	mu      sync.Mutex
	limit   uintptr
	inuse   uintptr
	regions map[uintptr][]byte
}

// NewMmap returns a heap-backed source limited to limit bytes. Zero means
// unlimited.
func NewMmap(limit uintptr) *Mmap {
	return &Mmap{limit: limit, regions: make(map[uintptr][]byte)}
}

// Alloc returns n zeroed bytes aligned to PageSize.
func (m *Mmap) Alloc(n uintptr) (uintptr, error) {
	if n == 0 {
		return 0, ErrBadSize
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.limit > 0 && m.inuse+n > m.limit {
		return 0, fmt.Errorf("%w: %d bytes requested, %d of %d in use",
			ErrExhausted, n, m.inuse, m.limit)
	}
	raw := make([]byte, n+fallbackPageSize)
	p := uintptr(unsafe.Pointer(unsafe.SliceData(raw)))
	aligned, _ := checked.AlignUp(p, fallbackPageSize)
	off := aligned - p
	b := raw[off : off+n : off+n]
	v := p + off
	m.regions[v] = b
	m.inuse += n
	return v, nil
}

// Free drops the buffer that starts at v.
func (m *Mmap) Free(v, n uintptr) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.regions[v]
	if !ok || uintptr(len(b)) != n {
		return fmt.Errorf("%w: %#x+%d", ErrUnknownRegion, v, n)
	}
	delete(m.regions, v)
	m.inuse -= n
	return nil
}

// Bytes returns the buffer that starts at v.
func (m *Mmap) Bytes(v uintptr) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.regions[v]
}

// InUse reports the bytes currently held.
func (m *Mmap) InUse() uintptr {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inuse
}

// PageSize returns the alignment of every buffer.
func PageSize() uintptr { return fallbackPageSize }

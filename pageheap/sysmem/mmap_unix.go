//go:build unix

package sysmem

import (
	"errors"
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Mmap obtains memory with anonymous private mappings.
type Mmap struct {
	mu      sync.Mutex
	limit   uintptr
	inuse   uintptr
	regions map[uintptr][]byte
}

// NewMmap returns an mmap-backed source that refuses to hold more than
// limit bytes at once. Zero means unlimited.
func NewMmap(limit uintptr) *Mmap {
	return &Mmap{limit: limit, regions: make(map[uintptr][]byte)}
}

// Alloc maps n bytes of zeroed, readable and writable memory.
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
	b, err := unix.Mmap(-1, 0, int(n), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		if errors.Is(err, unix.ENOMEM) {
			return 0, fmt.Errorf("%w: mmap %d bytes: %w", ErrExhausted, n, err)
		}
		return 0, fmt.Errorf("sysmem: mmap %d bytes: %w", n, err)
	}
	v := uintptr(unsafe.Pointer(unsafe.SliceData(b)))
	m.regions[v] = b
	m.inuse += n
	return v, nil
}

// Free unmaps a region returned by Alloc.
func (m *Mmap) Free(v, n uintptr) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.regions[v]
	if !ok || uintptr(len(b)) != n {
		return fmt.Errorf("%w: %#x+%d", ErrUnknownRegion, v, n)
	}
	if err := unix.Munmap(b); err != nil {
		return fmt.Errorf("sysmem: munmap %#x: %w", v, err)
	}
	delete(m.regions, v)
	m.inuse -= n
	return nil
}

// Bytes returns the mapping that starts at v, for callers that write into
// the memory they were given.
func (m *Mmap) Bytes(v uintptr) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.regions[v]
}

// InUse reports the bytes currently mapped.
func (m *Mmap) InUse() uintptr {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inuse
}

// PageSize returns the operating system page size.
func PageSize() uintptr {
	return uintptr(unix.Getpagesize())
}

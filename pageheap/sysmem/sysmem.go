// Package sysmem supplies raw address space to the page heap.
//
// Two sources are provided:
//
//   - Mmap asks the operating system for anonymous private mappings
//     (heap-backed buffers on platforms without mmap).
//   - Sim hands out addresses from a simulated address space without
//     touching real memory. It is deterministic, can be bounded, can leave
//     gaps between chunks and can be told to fail, which makes it the source
//     of choice for tests and workload simulation.
//
// Both report exhaustion as an error and never panic on an ordinary failure.
package sysmem

import "errors"

var (
	// ErrExhausted indicates the source cannot supply the requested bytes.
	ErrExhausted = errors.New("sysmem: address space exhausted")

	// ErrBadSize indicates a zero or unaligned request.
	ErrBadSize = errors.New("sysmem: size must be a non-zero multiple of the page size")

	// ErrUnknownRegion indicates a release of memory the source never handed out.
	ErrUnknownRegion = errors.New("sysmem: release of unknown region")
)

// Region describes one live allocation.
type Region struct {
	Addr uintptr
	Size uintptr
}

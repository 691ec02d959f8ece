// Package pageheap provides page-granularity allocation of address space.
//
// # Overview
//
// The heap carves memory obtained from a SysMemory source into fixed-size
// pages and hands out contiguous page runs (spans) to higher-level
// allocators. Freed spans are coalesced with free neighbours so that
// fragmentation stays bounded.
//
// # Free Lists
//
// Free spans are kept on segregated lists:
//
//	free[1] .. free[cutoff-1]   spans of exactly that many pages
//	large                       spans of cutoff pages or more, searched best fit
//
// Alloc scans the exact lists upward from the requested size, then the large
// list for the smallest span that fits (ties go to the lowest address), and
// grows the heap when nothing fits. Surplus pages are split off and returned
// to the free lists.
//
// # Growth
//
// Growth requests are rounded up to Config.ChunkAlignPages and to at least
// Config.ChunkBytes. A new chunk enters the heap through the free path, so
// chunks that happen to be contiguous in the address space coalesce.
//
// # Page Map
//
// Every page of an in-use span maps to its descriptor, so interior addresses
// resolve with LookupMaybe. Free spans only keep their first and last page
// current, which is all coalescing needs.
//
// # Usage Example
//
//	h, err := pageheap.New(sysmem.NewMmap(0), nil, nil)
//	if err != nil {
//	    return err
//	}
//
//	s, err := h.Alloc(4, 0) // four pages, no size class
//	if err != nil {
//	    return err
//	}
//	defer h.Free(s, s.Bytes())
//
// # Errors
//
// Running out of memory is an ordinary error (ErrNoSpace wrapping
// ErrGrowFail) and leaves the heap unchanged. Misuse that would corrupt the
// heap, such as freeing a span twice, panics with a *CorruptionError.
//
// # Thread Safety
//
// A Heap is safe for concurrent use. Every operation runs under one mutex,
// including growth.
package pageheap

package central

import (
	"fmt"
	"slices"
	"sync"

	"github.com/joshuapare/pageheap/internal/checked"
	"github.com/joshuapare/pageheap/pageheap"
)

// Allocator serves objects of any size on top of a page heap.
//
// Small objects (up to MaxSmallSize) come from per-class Central pools
// through a cache that moves objects in batches; large objects get whole
// pages from the heap. Lock order is cache, then Central, then heap.
type Allocator struct {
	heap    *pageheap.Heap
	table   *Table
	central []*Central

	mu    sync.Mutex
	cache [][]uintptr // per class; top of each stack is handed out next
	stats AllocatorStats
}

// AllocatorStats counts requests by path.
type AllocatorStats struct {
	SmallAllocs int `json:"small_allocs"`
	LargeAllocs int `json:"large_allocs"`
	SmallFrees  int `json:"small_frees"`
	LargeFrees  int `json:"large_frees"`
	Refills     int `json:"refills"` // cache refills from a Central
	Flushes     int `json:"flushes"` // batches returned to a Central
	Cached      int `json:"cached"`  // objects sitting in the cache
}

// NewAllocator returns an allocator over h, with classes for h's page size.
func NewAllocator(h *pageheap.Heap) *Allocator {
	t := NewTable(h.Config().PageShift)
	a := &Allocator{
		heap:    h,
		table:   t,
		central: make([]*Central, t.NumClasses()),
		cache:   make([][]uintptr, t.NumClasses()),
	}
	for c := 1; c < t.NumClasses(); c++ {
		a.central[c] = NewCentral(h, t, c)
	}
	return a
}

// Table returns the allocator's size-class table.
func (a *Allocator) Table() *Table { return a.table }

// Central returns the pool for class c.
func (a *Allocator) Central(c int) *Central { return a.central[c] }

// Malloc returns the address of a block of at least size bytes.
func (a *Allocator) Malloc(size uintptr) (uintptr, error) {
	if size == 0 {
		return 0, ErrZeroSize
	}
	c := a.table.SizeToClass(size)
	if c == 0 {
		return a.mallocLarge(size)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.cache[c]) == 0 {
		objs, err := a.central[c].AllocList(a.table.ClassToTransfer(c))
		if err != nil {
			return 0, err
		}
		// Keep ascending addresses coming out first.
		for i := len(objs) - 1; i >= 0; i-- {
			a.cache[c] = append(a.cache[c], objs[i])
		}
		a.stats.Refills++
	}
	last := len(a.cache[c]) - 1
	v := a.cache[c][last]
	a.cache[c] = a.cache[c][:last]
	a.stats.SmallAllocs++
	return v, nil
}

func (a *Allocator) mallocLarge(size uintptr) (uintptr, error) {
	npages, ok := checked.PagesFor(size, a.table.PageShift())
	if !ok {
		return 0, fmt.Errorf("%w: %d bytes", pageheap.ErrNoSpace, size)
	}
	s, err := a.heap.Alloc(npages, 0)
	if err != nil {
		return 0, err
	}
	a.mu.Lock()
	a.stats.LargeAllocs++
	a.mu.Unlock()
	return s.Base(), nil
}

// Free releases a block returned by Malloc. Addresses Malloc never returned
// are reported with ErrInvalidFree. Freeing a small object twice panics
// with a *pageheap.CorruptionError, like a double free of a span.
func (a *Allocator) Free(v uintptr) error {
	s := a.heap.LookupMaybe(a.heap.PageOf(v))
	if s == nil {
		return fmt.Errorf("%w: %#x is not in an allocated span", ErrInvalidFree, v)
	}

	c := int(s.SizeClass())
	if c == 0 {
		if v != s.Base() {
			return fmt.Errorf("%w: %#x is inside %v", ErrInvalidFree, v, s)
		}
		a.heap.Free(s, s.Bytes())
		a.mu.Lock()
		a.stats.LargeFrees++
		a.mu.Unlock()
		return nil
	}
	if c >= len(a.central) {
		return fmt.Errorf("%w: %#x is in %v of unknown class", ErrInvalidFree, v, s)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	owned, free := a.central[c].object(s, v)
	if !owned {
		return fmt.Errorf("%w: %#x is not an object start in %v", ErrInvalidFree, v, s)
	}
	if free || slices.Contains(a.cache[c], v) {
		a.central[c].corrupt("double free of %#x in %v", v, s)
	}
	a.cache[c] = append(a.cache[c], v)
	a.stats.SmallFrees++

	// Hand a batch back once the cache holds two batches' worth.
	if n := a.table.ClassToTransfer(c); len(a.cache[c]) >= 2*n {
		a.flushLocked(c, n)
	}
	return nil
}

// flushLocked returns the n objects at the bottom of class c's cache to
// its Central.
func (a *Allocator) flushLocked(c, n int) {
	batch := append([]uintptr(nil), a.cache[c][:n]...)
	a.cache[c] = append(a.cache[c][:0], a.cache[c][n:]...)
	a.central[c].FreeList(batch)
	a.stats.Flushes++
}

// Flush returns every cached object to its Central, which in turn gives
// fully free spans back to the heap.
func (a *Allocator) Flush() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for c := 1; c < len(a.cache); c++ {
		if n := len(a.cache[c]); n > 0 {
			a.flushLocked(c, n)
		}
	}
}

// Stats returns a snapshot of the allocator's counters.
func (a *Allocator) Stats() AllocatorStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	st := a.stats
	for _, objs := range a.cache {
		st.Cached += len(objs)
	}
	return st
}

// CentralStats returns the stats of every class that currently owns spans.
func (a *Allocator) CentralStats() []CentralStats {
	var out []CentralStats
	for c := 1; c < len(a.central); c++ {
		if st := a.central[c].Stats(); st.Spans > 0 || st.Grows > 0 {
			out = append(out, st)
		}
	}
	return out
}

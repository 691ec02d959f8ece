package pageheap

import (
	"fmt"
	"sync"
)

// Heap hands out runs of pages and takes them back, coalescing free runs.
//
// Free spans of fewer than FreeListCutoff pages sit on free[npages]; larger
// ones sit on a single list searched best fit. A page map ties every page of
// an in-use span, and both ends of a free span, to its descriptor so a freed
// span can find its neighbours in O(1).
//
// All methods are safe for concurrent use; one mutex serializes them.
type Heap struct {
	mu sync.Mutex

	cfg   Config
	spans *spanStore
	free  []*Span // list heads; free[n] holds free spans of exactly n pages
	large *Span   // list head for free spans of FreeListCutoff pages or more
	pages PageMap
	sys   SysMemory

	// Address range ever obtained from sys. Callers use it for validity
	// checks; the heap does not enforce it.
	min, max uintptr

	stats Stats

	// Test hook: called after every successful grow (nil in production)
	onGrow func(npages uintptr)
}

// New creates an empty heap that grows from sys.
//
// Parameters:
//   - sys: The memory source chunks are obtained from
//   - pages: Page map to record ownership in (nil for NewPageMap(0))
//   - cfg: Page and growth configuration (nil for DefaultConfig)
func New(sys SysMemory, pages PageMap, cfg *Config) (*Heap, error) {
	if cfg == nil {
		cfg = &DefaultConfig
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sys == nil {
		return nil, fmt.Errorf("%w: nil memory source", ErrBadConfig)
	}
	if pages == nil {
		pages = NewPageMap(0)
	}

	h := &Heap{
		cfg:   *cfg,
		spans: newSpanStore(cfg.PageShift),
		free:  make([]*Span, cfg.FreeListCutoff),
		pages: pages,
		sys:   sys,
	}
	for i := range h.free {
		h.free[i] = h.spans.newList()
	}
	h.large = h.spans.newList()
	return h, nil
}

// Config returns the configuration the heap was built with.
func (h *Heap) Config() Config { return h.cfg }

// PageOf returns the page that contains address v.
func (h *Heap) PageOf(v uintptr) PageID { return PageID(v >> h.cfg.PageShift) }

// Bounds returns the lowest and highest (exclusive) address ever obtained
// from the memory source. Both are zero before the first grow.
func (h *Heap) Bounds() (lo, hi uintptr) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.min, h.max
}

// Alloc returns an in-use span of exactly npage pages tagged with sizeClass.
// Raw allocations (sizeClass 0) are charged to Stats.HeapAlloc.
//
// When no free span fits and the heap cannot grow, Alloc returns an error
// wrapping ErrNoSpace and the heap is left as it was.
func (h *Heap) Alloc(npage uintptr, sizeClass int32) (*Span, error) {
	if npage == 0 {
		return nil, ErrZeroPages
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.stats.AllocCalls++
	s, err := h.allocLocked(npage, sizeClass)
	if err != nil {
		h.stats.AllocFailures++
		return nil, err
	}
	h.stats.InusePages += uint64(npage)
	if sizeClass == 0 {
		h.stats.HeapAlloc += uint64(npage << h.cfg.PageShift)
	}
	return s, nil
}

func (h *Heap) allocLocked(npage uintptr, sizeClass int32) (*Span, error) {
	s := h.findLocked(npage)
	if s == nil {
		if err := h.grow(npage); err != nil {
			return nil, fmt.Errorf("%w: %d pages: %w", ErrNoSpace, npage, err)
		}
		// A chunk smaller than the cutoff lands on an exact list, so the
		// retry searches both.
		if s = h.findLocked(npage); s == nil {
			return nil, fmt.Errorf("%w: %d pages after grow", ErrNoSpace, npage)
		}
	}

	if s.state != SpanFree {
		throw("Heap.Alloc", "candidate %v not free", s)
	}
	if s.npages < npage {
		throw("Heap.Alloc", "candidate %v smaller than %d pages", s, npage)
	}
	h.spans.remove(s)
	s.state = SpanInUse

	if s.npages > npage {
		// Trim extra and put it back in the heap.
		t := h.spans.alloc()
		t.init(s.start+PageID(npage), s.npages-npage)
		s.npages = npage
		h.pages.Set(t.start-1, s.id)
		h.setBounds(t)
		t.state = SpanInUse
		h.stats.Splits++
		h.freeLocked(t)
	}

	// Every page maps to s while it is in use, so interior addresses
	// resolve to their span.
	s.sizeClass = sizeClass
	h.setAll(s)
	return s, nil
}

// findLocked returns the free span that should satisfy npage pages, or nil.
func (h *Heap) findLocked(npage uintptr) *Span {
	for n := npage; n < uintptr(len(h.free)); n++ {
		if s := h.spans.first(h.free[n]); s != nil {
			return s
		}
	}
	return h.bestFit(npage)
}

// bestFit returns the smallest span on the large list with at least npage
// pages, preferring the lowest start among equals.
func (h *Heap) bestFit(npage uintptr) *Span {
	var best *Span
	h.spans.each(h.large, func(s *Span) bool {
		if s.npages < npage {
			return true
		}
		if best == nil ||
			s.npages < best.npages ||
			(s.npages == best.npages && s.start < best.start) {
			best = s
		}
		return true
	})
	return best
}

// Free returns an in-use span to the heap. acct is the number of bytes to
// uncharge from Stats.HeapAlloc.
//
// Freeing a span that is not in use, or that still has objects outstanding
// (Ref() != 0), panics with a *CorruptionError.
func (h *Heap) Free(s *Span, acct uintptr) {
	if s == nil {
		throw("Heap.Free", "nil span")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.spans.get(s.id) != s {
		throw("Heap.Free", "%v does not belong to this heap", s)
	}
	npages := s.npages
	h.freeLocked(s)

	h.stats.FreeCalls++
	h.stats.InusePages -= uint64(npages)
	h.stats.HeapAlloc -= min(uint64(acct), h.stats.HeapAlloc)
}

func (h *Heap) freeLocked(s *Span) {
	if s.state != SpanInUse || s.Ref() != 0 {
		throw("Heap.Free", "invalid free of %v", s)
	}
	s.state = SpanFree
	h.spans.remove(s)

	// Coalesce with earlier, later spans. Free spans never touch, so one
	// neighbour per side is all there can be.
	if t := h.spanAt(s.start - 1); t != nil && t.state != SpanInUse {
		h.checkNeighbor(t, t.last()+1 == s.start, s)
		s.start = t.start
		s.npages += t.npages
		h.pages.Set(s.start, s.id)
		h.retire(t)
		h.stats.CoalesceBackward++
	}
	if t := h.spanAt(s.start + PageID(s.npages)); t != nil && t.state != SpanInUse {
		h.checkNeighbor(t, t.start == s.last()+1, s)
		s.npages += t.npages
		h.pages.Set(s.last(), s.id)
		h.retire(t)
		h.stats.CoalesceForward++
	}

	h.setBounds(s)
	h.insertFree(s)
}

// checkNeighbor panics unless t is a free span adjacent to s.
func (h *Heap) checkNeighbor(t *Span, adjacent bool, s *Span) {
	if t.state != SpanFree || !adjacent {
		throw("Heap.Free", "stale page map entry: neighbour %v of %v", t, s)
	}
}

// retire unlinks an absorbed neighbour and releases its descriptor.
func (h *Heap) retire(t *Span) {
	h.spans.remove(t)
	t.state = SpanDead
	h.spans.release(t)
}

// insertFree puts a free span on the list for its size.
func (h *Heap) insertFree(s *Span) {
	if s.npages < uintptr(len(h.free)) {
		h.spans.insert(h.free[s.npages], s)
	} else {
		h.spans.insert(h.large, s)
	}
}

// Lookup returns the span recorded at page p. p must be the first or last
// page of a span, or any page of an in-use span. Looking up a page the heap
// never reserved panics with a *CorruptionError; use LookupMaybe for
// arbitrary pages.
func (h *Heap) Lookup(p PageID) *Span {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.spans.get(h.mustGet(p))
}

// mustGet is pages.Get with the page map's own panic for an unreserved page
// turned into a corruption report.
func (h *Heap) mustGet(p PageID) SpanID {
	defer func() {
		if r := recover(); r != nil {
			throw("Heap.Lookup", "page %#x was never reserved: %v", uint64(p), r)
		}
	}()
	return h.pages.Get(p)
}

// LookupMaybe returns the in-use span containing page p, or nil if p lies
// outside every in-use span. p may be any page number.
func (h *Heap) LookupMaybe(p PageID) *Span {
	h.mu.Lock()
	defer h.mu.Unlock()

	// Interior entries of free spans are stale, so the candidate must
	// really contain p and be in use.
	s := h.spans.get(h.pages.GetMaybe(p))
	if s == nil || !s.contains(p) || s.state != SpanInUse {
		return nil
	}
	return s
}

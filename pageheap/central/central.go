package central

import (
	"container/list"
	"errors"
	"fmt"
	"sync"

	"github.com/joshuapare/pageheap/internal/logger"
	"github.com/joshuapare/pageheap/pageheap"
)

var (
	// ErrInvalidFree indicates an address that was not handed out by this
	// allocator, or was already freed.
	ErrInvalidFree = errors.New("central: invalid free")

	// ErrZeroSize indicates a request for zero bytes.
	ErrZeroSize = errors.New("central: size must be positive")
)

// Central is the free object pool for one size class.
//
// It owns spans obtained from the heap for its class and keeps them on two
// lists: spans with at least one free object (nonempty) and fully allocated
// ones (empty). A span whose last object comes back is returned to the heap.
// Central is safe for concurrent use; it never holds its lock while calling
// into the heap.
type Central struct {
	mu sync.Mutex

	heap    *pageheap.Heap
	class   int
	size    uintptr
	npages  uintptr
	objects int

	nonempty list.List // of *classSpan
	empty    list.List
	spans    map[pageheap.SpanID]*classSpan
	nfree    int

	stats CentralStats
}

// classSpan is a span carved into objects. free is a stack whose top is the
// lowest free address; isFree has one bit per object, set while the object
// sits on that stack.
type classSpan struct {
	span   *pageheap.Span
	free   []uintptr
	isFree []uint64
	elem   *list.Element
}

// CentralStats counts a Central's traffic.
type CentralStats struct {
	Class       int     `json:"class"`
	Size        uintptr `json:"size"`
	Spans       int     `json:"spans"`
	FreeObjects int     `json:"free_objects"`
	Grows       int     `json:"grows"`
	Releases    int     `json:"releases"` // spans given back to the heap
}

// NewCentral returns the pool for class c of t, drawing spans from h.
func NewCentral(h *pageheap.Heap, t *Table, c int) *Central {
	return &Central{
		heap:    h,
		class:   c,
		size:    t.ClassToSize(c),
		npages:  t.ClassToPages(c),
		objects: t.ObjectsPerSpan(c),
		spans:   make(map[pageheap.SpanID]*classSpan),
	}
}

// AllocList returns between 1 and n objects. It grows the pool from the heap
// when no span has a free object; the heap's error is returned if that
// fails.
func (c *Central) AllocList(n int) ([]uintptr, error) {
	c.mu.Lock()
	if c.nonempty.Len() == 0 {
		c.mu.Unlock()
		s, err := c.grow()
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.insertSpan(s)
	}

	out := make([]uintptr, 0, n)
	for len(out) < n {
		v, ok := c.allocOne()
		if !ok {
			break
		}
		out = append(out, v)
	}
	c.nfree -= len(out)
	c.mu.Unlock()
	return out, nil
}

// allocOne pops an object from the front nonempty span.
func (c *Central) allocOne() (uintptr, bool) {
	front := c.nonempty.Front()
	if front == nil {
		return 0, false
	}
	cs := front.Value.(*classSpan)
	last := len(cs.free) - 1
	v := cs.free[last]
	cs.free = cs.free[:last]
	word, bit := c.slot(cs, v)
	cs.isFree[word] &^= bit
	cs.span.AddRef(1)
	if len(cs.free) == 0 {
		c.nonempty.Remove(cs.elem)
		cs.elem = c.empty.PushFront(cs)
	}
	return v, true
}

// grow fetches a span from the heap and carves it into objects.
func (c *Central) grow() (*classSpan, error) {
	s, err := c.heap.Alloc(c.npages, int32(c.class))
	if err != nil {
		logger.Debug("central: grow failed", "class", c.class, "pages", c.npages, "err", err)
		return nil, fmt.Errorf("class %d: %w", c.class, err)
	}
	cs := &classSpan{
		span:   s,
		free:   make([]uintptr, c.objects),
		isFree: make([]uint64, (c.objects+63)/64),
	}
	base := s.Base()
	for i := range c.objects {
		cs.free[c.objects-1-i] = base + uintptr(i)*c.size
		cs.isFree[i/64] |= 1 << (i % 64)
	}
	return cs, nil
}

// slot locates the free bit of object v in cs.
func (c *Central) slot(cs *classSpan, v uintptr) (word int, bit uint64) {
	i := (v - cs.span.Base()) / c.size
	return int(i / 64), 1 << (i % 64)
}

func (c *Central) insertSpan(cs *classSpan) {
	c.spans[cs.span.ID()] = cs
	cs.elem = c.nonempty.PushFront(cs)
	c.nfree += len(cs.free)
	c.stats.Grows++
}

// FreeList returns objects to the pool. Spans left with no allocated
// objects go back to the heap after the pool's lock is released.
func (c *Central) FreeList(objs []uintptr) {
	for _, s := range c.freeObjects(objs) {
		c.heap.Free(s, 0)
	}
}

func (c *Central) freeObjects(objs []uintptr) (release []*pageheap.Span) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, v := range objs {
		if s := c.freeOne(v); s != nil {
			release = append(release, s)
		}
	}
	return release
}

// freeOne returns v to its span and reports the span if it became entirely
// free. A v that is not an allocated object of this pool panics: the
// caller has already validated it.
func (c *Central) freeOne(v uintptr) *pageheap.Span {
	s := c.heap.LookupMaybe(c.heap.PageOf(v))
	var cs *classSpan
	if s != nil {
		cs = c.spans[s.ID()]
	}
	if cs == nil || cs.span != s || !c.isObject(s, v) {
		c.corrupt("invalid free of %#x", v)
	}
	word, bit := c.slot(cs, v)
	if cs.isFree[word]&bit != 0 || s.Ref() == 0 {
		c.corrupt("double free of %#x in %v", v, s)
	}
	cs.isFree[word] |= bit

	if len(cs.free) == 0 {
		c.empty.Remove(cs.elem)
		cs.elem = c.nonempty.PushFront(cs)
	}
	cs.free = append(cs.free, v)
	c.nfree++

	if s.AddRef(-1) > 0 {
		return nil
	}
	c.nonempty.Remove(cs.elem)
	delete(c.spans, s.ID())
	c.nfree -= len(cs.free)
	c.stats.Releases++
	return s
}

func (c *Central) corrupt(format string, args ...any) {
	err := &pageheap.CorruptionError{Op: "Central.Free", Msg: fmt.Sprintf(format, args...)}
	logger.Error("central: corruption", "class", c.class, "detail", err.Msg)
	panic(err)
}

// object reports whether v is the start of an object in one of c's spans
// and, if it is, whether the object is currently free in the pool.
func (c *Central) object(s *pageheap.Span, v uintptr) (owned, free bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cs := c.spans[s.ID()]
	if cs == nil || cs.span != s || !c.isObject(s, v) {
		return false, false
	}
	word, bit := c.slot(cs, v)
	return true, cs.isFree[word]&bit != 0
}

func (c *Central) isObject(s *pageheap.Span, v uintptr) bool {
	if v < s.Base() {
		return false
	}
	off := v - s.Base()
	return off%c.size == 0 && off/c.size < uintptr(c.objects)
}

// Stats returns a snapshot of the pool's counters.
func (c *Central) Stats() CentralStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.stats
	st.Class = c.class
	st.Size = c.size
	st.Spans = len(c.spans)
	st.FreeObjects = c.nfree
	return st
}

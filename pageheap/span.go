package pageheap

import (
	"fmt"
	"sync/atomic"
)

// PageID is a page number: an address shifted right by the page shift.
type PageID uint64

// SpanID is a stable handle for a span descriptor. The zero SpanID refers
// to no span and doubles as the "unlinked" marker in list links.
type SpanID uint32

const noSpan SpanID = 0

// SpanState is the lifecycle state of a span descriptor.
type SpanState uint8

const (
	SpanDead     SpanState = iota // descriptor retired; zero value so fresh slots start dead
	SpanFree                      // on a free list
	SpanInUse                     // handed out to a consumer
	SpanListHead                  // sentinel of a span list
)

func (s SpanState) String() string {
	switch s {
	case SpanDead:
		return "dead"
	case SpanFree:
		return "free"
	case SpanInUse:
		return "in-use"
	case SpanListHead:
		return "list-head"
	default:
		return fmt.Sprintf("SpanState(%d)", uint8(s))
	}
}

// MarshalText renders the state by name in JSON reports.
func (s SpanState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Span describes a contiguous run of pages.
//
// A Span's fields other than its object count are owned by the Heap and
// only change under its lock; consumers read them through the accessors.
type Span struct {
	id         SpanID
	next, prev SpanID
	start      PageID
	npages     uintptr
	sizeClass  int32
	state      SpanState
	pageShift  uint8

	// ref counts objects handed out of this span by a size-class
	// allocator. The heap only requires it to be zero when the span is
	// freed; the consumer that owns the span maintains it. Accessed
	// atomically so heap walks can read it while a consumer updates it.
	ref int32
}

// init resets s to cover npages pages starting at start.
func (s *Span) init(start PageID, npages uintptr) {
	s.next, s.prev = noSpan, noSpan
	s.start = start
	s.npages = npages
	s.sizeClass = 0
	s.state = SpanDead
	atomic.StoreInt32(&s.ref, 0)
}

// ID returns the span's descriptor handle.
func (s *Span) ID() SpanID { return s.id }

// Start returns the span's first page.
func (s *Span) Start() PageID { return s.start }

// NPages returns the span's length in pages.
func (s *Span) NPages() uintptr { return s.npages }

// SizeClass returns the object class the span was allocated for; 0 for
// raw page allocations.
func (s *Span) SizeClass() int32 { return s.sizeClass }

// State returns the span's lifecycle state.
func (s *Span) State() SpanState { return s.state }

// Ref returns the number of objects a size-class allocator has handed out
// of s and not yet taken back.
func (s *Span) Ref() int32 { return atomic.LoadInt32(&s.ref) }

// AddRef adjusts the object count by delta and returns the new count.
func (s *Span) AddRef(delta int32) int32 { return atomic.AddInt32(&s.ref, delta) }

func (s *Span) last() PageID {
	return s.start + PageID(s.npages) - 1
}

func (s *Span) contains(p PageID) bool {
	return p >= s.start && uint64(p-s.start) < uint64(s.npages)
}

// Base returns the address of the span's first byte.
func (s *Span) Base() uintptr { return uintptr(s.start) << s.pageShift }

// Limit returns the address one past the span's last byte.
func (s *Span) Limit() uintptr { return s.Base() + s.npages<<s.pageShift }

// Bytes returns the span's size in bytes.
func (s *Span) Bytes() uintptr { return s.npages << s.pageShift }

// inList reports whether s is linked into a list.
func (s *Span) inList() bool { return s.next != noSpan || s.prev != noSpan }

func (s *Span) String() string {
	return fmt.Sprintf("span#%d[%#x+%d %s class=%d ref=%d]",
		s.id, uint64(s.start), s.npages, s.state, s.sizeClass, s.Ref())
}

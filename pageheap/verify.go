package pageheap

import (
	"errors"
	"fmt"
	"sort"

	"github.com/joshuapare/pageheap/internal/fixalloc"
)

// ErrInvariant is wrapped by every violation Verify reports.
var ErrInvariant = errors.New("pageheap: invariant violated")

// SpanInfo is a copy of a span descriptor's public state.
type SpanInfo struct {
	ID        SpanID    `json:"id"`
	Start     PageID    `json:"start"`
	NPages    uintptr   `json:"npages"`
	SizeClass int32     `json:"size_class"`
	State     SpanState `json:"state"`
	Ref       int32     `json:"ref"`
}

// Info returns a copy of the descriptor's public state.
func (s *Span) Info() SpanInfo {
	return SpanInfo{ID: s.id, Start: s.start, NPages: s.npages, SizeClass: s.sizeClass, State: s.state, Ref: s.Ref()}
}

// Walk calls fn for every free or in-use span in descriptor order, until fn
// returns false. The heap is locked for the duration; fn must not call back
// into it.
func (h *Heap) Walk(fn func(SpanInfo) bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.walkLocked(func(s *Span) bool { return fn(s.Info()) })
}

func (h *Heap) walkLocked(fn func(*Span) bool) {
	h.spans.fix.Each(func(_ fixalloc.Handle, s *Span) bool {
		if s.state != SpanFree && s.state != SpanInUse {
			return true
		}
		return fn(s)
	})
}

// Verify checks the heap's structural invariants and returns every
// violation found, joined. A healthy heap returns nil.
//
// Checked: spans never overlap; no two free spans touch; free spans sit on
// exactly the list for their size and in-use spans on none; page map
// entries are current for both ends of free spans and every page of in-use
// spans.
func (h *Heap) Verify() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: %s", ErrInvariant, fmt.Sprintf(format, args...)))
	}

	var all []*Span
	h.walkLocked(func(s *Span) bool {
		all = append(all, s)
		return true
	})
	sort.Slice(all, func(i, j int) bool { return all[i].start < all[j].start })

	for i, s := range all {
		if s.npages == 0 {
			fail("%v has no pages", s)
			continue
		}
		if i > 0 {
			prev := all[i-1]
			switch {
			case prev.last() >= s.start:
				fail("%v overlaps %v", prev, s)
			case prev.state == SpanFree && s.state == SpanFree && prev.last()+1 == s.start:
				fail("free spans %v and %v are adjacent", prev, s)
			}
		}

		switch s.state {
		case SpanFree:
			if !s.inList() {
				fail("free %v is not on a list", s)
			}
			if got := h.pages.Get(s.start); got != s.id {
				fail("page map at first page of %v names span #%d", s, got)
			}
			if got := h.pages.Get(s.last()); got != s.id {
				fail("page map at last page of %v names span #%d", s, got)
			}
		case SpanInUse:
			if s.inList() {
				fail("in-use %v is on a list", s)
			}
			for p := s.start; p <= s.last(); p++ {
				if got := h.pages.Get(p); got != s.id {
					fail("page map at %#x inside %v names span #%d", uint64(p), s, got)
					break
				}
			}
		}
	}

	listed := 0
	check := func(list *Span, ok func(*Span) bool) {
		h.spans.each(list, func(s *Span) bool {
			listed++
			if s.state != SpanFree || !ok(s) {
				fail("%v on the wrong list", s)
			}
			return true
		})
	}
	for n, list := range h.free {
		check(list, func(s *Span) bool { return s.npages == uintptr(n) })
	}
	check(h.large, func(s *Span) bool { return s.npages >= uintptr(len(h.free)) })

	free := 0
	for _, s := range all {
		if s.state == SpanFree {
			free++
		}
	}
	if listed != free {
		fail("%d spans on free lists, %d free spans", listed, free)
	}

	return errors.Join(errs...)
}

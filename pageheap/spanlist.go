package pageheap

import "github.com/joshuapare/pageheap/internal/fixalloc"

// spanStore owns every span descriptor, list sentinels included, and
// implements the circular doubly-linked span lists on top of SpanID links.
//
// Links are handles rather than pointers: next == prev == noSpan is the
// checkable "unlinked" state, and a linked span never has a noSpan link
// because every list is closed through its sentinel.
type spanStore struct {
	fix       *fixalloc.Alloc[Span]
	pageShift uint8
}

func newSpanStore(pageShift uint8) *spanStore {
	return &spanStore{
		fix:       fixalloc.New[Span](nil),
		pageShift: pageShift,
	}
}

// get returns the descriptor for id, or nil for noSpan.
func (st *spanStore) get(id SpanID) *Span {
	return st.fix.Get(fixalloc.Handle(id))
}

// alloc returns a fresh, unlinked, dead descriptor.
func (st *spanStore) alloc() *Span {
	h, s := st.fix.Alloc()
	s.id = SpanID(h)
	s.pageShift = st.pageShift
	return s
}

// release retires s. The caller has already unlinked it and marked it dead.
func (st *spanStore) release(s *Span) {
	if s.inList() || s.state != SpanDead {
		throw("spanStore.release", "releasing live descriptor %v", s)
	}
	st.fix.Free(fixalloc.Handle(s.id))
}

// live reports the number of descriptors allocated, sentinels included.
func (st *spanStore) live() int { return st.fix.InUse() }

// newList allocates an empty list sentinel.
func (st *spanStore) newList() *Span {
	l := st.alloc()
	l.state = SpanListHead
	l.next, l.prev = l.id, l.id
	return l
}

// isEmpty reports whether list has no members.
func (st *spanStore) isEmpty(list *Span) bool {
	return list.next == list.id
}

// first returns the front member of list, or nil when it is empty.
func (st *spanStore) first(list *Span) *Span {
	if st.isEmpty(list) {
		return nil
	}
	return st.get(list.next)
}

// insert pushes s at the front of list.
func (st *spanStore) insert(list, s *Span) {
	if s.inList() {
		throw("spanStore.insert", "%v already linked", s)
	}
	next := st.get(list.next)
	s.next = next.id
	s.prev = list.id
	next.prev = s.id
	list.next = s.id
}

// remove unlinks s from whichever list holds it. Removing an unlinked span
// is a no-op.
func (st *spanStore) remove(s *Span) {
	if !s.inList() {
		return
	}
	if s.next == noSpan || s.prev == noSpan {
		throw("spanStore.remove", "%v half linked", s)
	}
	st.get(s.prev).next = s.next
	st.get(s.next).prev = s.prev
	s.next, s.prev = noSpan, noSpan
}

// each calls fn for every member of list, front to back, until fn returns
// false. fn must not modify the list.
func (st *spanStore) each(list *Span, fn func(s *Span) bool) {
	for id := list.next; id != list.id; {
		s := st.get(id)
		id = s.next
		if !fn(s) {
			return
		}
	}
}

// len counts the members of list.
func (st *spanStore) len(list *Span) int {
	n := 0
	st.each(list, func(*Span) bool { n++; return true })
	return n
}

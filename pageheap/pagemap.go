package pageheap

import "github.com/joshuapare/pageheap/internal/pagemap"

// radixPageMap adapts the radix page table to the PageMap interface.
type radixPageMap struct {
	m *pagemap.Map
}

// NewPageMap returns the default PageMap. maxLeaves bounds how many
// 4096-page leaves it may reserve; zero means unlimited.
func NewPageMap(maxLeaves int) PageMap {
	return radixPageMap{m: pagemap.New(&pagemap.Options{MaxLeaves: maxLeaves})}
}

func (r radixPageMap) Get(p PageID) SpanID      { return SpanID(r.m.Get(uint64(p))) }
func (r radixPageMap) GetMaybe(p PageID) SpanID { return SpanID(r.m.GetMaybe(uint64(p))) }
func (r radixPageMap) Set(p PageID, id SpanID)  { r.m.Set(uint64(p), uint32(id)) }

func (r radixPageMap) Preallocate(start PageID, n uintptr) bool {
	return r.m.Preallocate(uint64(start), uint64(n))
}

// setBounds publishes s as the owner of its first and last page, the only
// entries a free span keeps valid.
func (h *Heap) setBounds(s *Span) {
	h.pages.Set(s.start, s.id)
	h.pages.Set(s.last(), s.id)
}

// setAll maps every page of s to it, as required while s is in use.
func (h *Heap) setAll(s *Span) {
	for p := s.start; p <= s.last(); p++ {
		h.pages.Set(p, s.id)
	}
}

// spanAt returns the span recorded at boundary page p, or nil.
func (h *Heap) spanAt(p PageID) *Span {
	return h.spans.get(h.pages.Get(p))
}

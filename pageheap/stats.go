package pageheap

// Stats is a snapshot of heap counters.
type Stats struct {
	InusePages uint64 `json:"inuse_pages"` // pages held by in-use spans
	HeapAlloc  uint64 `json:"heap_alloc"`  // bytes charged by raw (class 0) allocations
	SysBytes   uint64 `json:"sys_bytes"`   // bytes obtained from the memory source

	AllocCalls       int `json:"alloc_calls"`
	AllocFailures    int `json:"alloc_failures"`
	FreeCalls        int `json:"free_calls"`
	GrowCalls        int `json:"grow_calls"`
	GrowRetries      int `json:"grow_retries"` // chunk requests retried at the exact size
	GrowFailures     int `json:"grow_failures"`
	Splits           int `json:"splits"`
	CoalesceBackward int `json:"coalesce_backward"`
	CoalesceForward  int `json:"coalesce_forward"`

	// Computed when the snapshot is taken.
	FreeSpans       int    `json:"free_spans"`
	FreePages       uint64 `json:"free_pages"`
	LargeSpans      int    `json:"large_spans"` // free spans on the best-fit list
	SpanDescriptors int    `json:"span_descriptors"`
}

// Stats returns a snapshot of the heap counters.
func (h *Heap) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()

	st := h.stats
	count := func(list *Span) {
		h.spans.each(list, func(s *Span) bool {
			st.FreeSpans++
			st.FreePages += uint64(s.npages)
			return true
		})
	}
	for _, list := range h.free {
		count(list)
	}
	before := st.FreeSpans
	count(h.large)
	st.LargeSpans = st.FreeSpans - before
	st.SpanDescriptors = h.spans.live() - len(h.free) - 1
	return st
}

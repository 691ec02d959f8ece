package pageheap

// PageMap records which span owns a page.
//
// The heap keeps every page of an in-use span mapped, and only the first
// and last page of a free span; entries for the interior of a free span are
// stale and never trusted.
type PageMap interface {
	// Get returns the span recorded for p. p must lie in a range passed to
	// Preallocate.
	Get(p PageID) SpanID
	// GetMaybe returns the span recorded for p, or noSpan when p was never
	// reserved. The result may be stale for interior pages of free spans.
	GetMaybe(p PageID) SpanID
	// Set records id as the owner of p.
	Set(p PageID, id SpanID)
	// Preallocate reserves entries for pages [start, start+n). It reports
	// false if capacity could not be reserved, leaving the map unchanged.
	Preallocate(start PageID, n uintptr) bool
}

// SysMemory supplies raw address space.
type SysMemory interface {
	// Alloc returns the address of n fresh bytes. n is a multiple of the
	// page size and the result must be page aligned.
	Alloc(n uintptr) (uintptr, error)
	// Free gives back n bytes at v previously returned by Alloc.
	Free(v, n uintptr) error
}

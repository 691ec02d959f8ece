// Package pagemap maps page numbers to 32-bit span handles.
//
// The map is a two-level radix structure: the high bits of a page number
// select a leaf, the low bits index into it. Leaves are created by
// Preallocate; Set on a page whose leaf was never preallocated panics, since
// that means the caller skipped reserving capacity for memory it owns.
//
// A Map is not safe for concurrent use.
package pagemap

import "fmt"

const (
	leafBits = 12
	leafLen  = 1 << leafBits
	leafMask = leafLen - 1
)

type leaf [leafLen]uint32

// Options bound the map's own memory use.
type Options struct {
	// MaxLeaves caps the number of leaves Preallocate may create.
	// Zero means unlimited.
	MaxLeaves int
}

// Map is a sparse page -> handle table.
type Map struct {
	leaves    map[uint64]*leaf
	maxLeaves int
}

// New returns an empty map.
func New(opts *Options) *Map {
	m := &Map{leaves: make(map[uint64]*leaf)}
	if opts != nil {
		m.maxLeaves = opts.MaxLeaves
	}
	return m
}

// Get returns the handle recorded for page. The page must be covered by a
// previous Preallocate.
func (m *Map) Get(page uint64) uint32 {
	l := m.leaves[page>>leafBits]
	if l == nil {
		panic(fmt.Sprintf("pagemap: get of unreserved page %#x", page))
	}
	return l[page&leafMask]
}

// GetMaybe is Get for pages that may lie outside any reserved range; it
// returns 0 for them.
func (m *Map) GetMaybe(page uint64) uint32 {
	l := m.leaves[page>>leafBits]
	if l == nil {
		return 0
	}
	return l[page&leafMask]
}

// Set records v for page.
func (m *Map) Set(page uint64, v uint32) {
	l := m.leaves[page>>leafBits]
	if l == nil {
		panic(fmt.Sprintf("pagemap: set of unreserved page %#x", page))
	}
	l[page&leafMask] = v
}

// Preallocate reserves entries for pages [start, start+n). It either
// reserves the whole range or nothing, reporting false when the leaf budget
// would be exceeded.
func (m *Map) Preallocate(start uint64, n uint64) bool {
	if n == 0 {
		return true
	}
	end := start + n - 1
	if end < start {
		return false
	}

	first, last := start>>leafBits, end>>leafBits
	missing := 0
	for k := first; k <= last; k++ {
		if m.leaves[k] == nil {
			missing++
		}
	}
	if m.maxLeaves > 0 && len(m.leaves)+missing > m.maxLeaves {
		return false
	}
	for k := first; k <= last; k++ {
		if m.leaves[k] == nil {
			m.leaves[k] = new(leaf)
		}
	}
	return true
}

// Leaves reports how many leaves have been reserved.
func (m *Map) Leaves() int { return len(m.leaves) }

package sysmem

import (
	"fmt"
	"sort"
	"sync"

	"github.com/joshuapare/pageheap/internal/checked"
)

// SimOptions configures a simulated address space.
type SimOptions struct {
	// Base is the first address handed out. Defaults to 1 GiB.
	Base uintptr
	// PageSize is the alignment of every request and every address.
	// Defaults to 4 KiB.
	PageSize uintptr
	// Limit caps the total bytes outstanding. Zero means unlimited.
	Limit uintptr
	// Gap leaves this many bytes unmapped after every chunk, so successive
	// chunks are never contiguous when non-zero.
	Gap uintptr
}

// Sim is a deterministic bump-pointer address space.
type Sim struct {
	mu       sync.Mutex
	opts     SimOptions
	next     uintptr
	inuse    uintptr
	regions  map[uintptr]uintptr
	released []Region
	calls    int

	// fail, when set, is consulted before every allocation.
	fail func(n uintptr) bool
}

// NewSim returns a simulated source.
func NewSim(opts SimOptions) *Sim {
	if opts.PageSize == 0 {
		opts.PageSize = 4096
	}
	if opts.Base == 0 {
		opts.Base = 1 << 30
	}
	opts.Base, _ = checked.AlignUp(opts.Base, opts.PageSize)
	return &Sim{
		opts:    opts,
		next:    opts.Base,
		regions: make(map[uintptr]uintptr),
	}
}

// FailWhen installs a predicate that makes Alloc fail for matching sizes.
// Pass nil to clear it.
func (s *Sim) FailWhen(fn func(n uintptr) bool) {
	s.mu.Lock()
	s.fail = fn
	s.mu.Unlock()
}

// Alloc reserves n bytes.
func (s *Sim) Alloc(n uintptr) (uintptr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if n == 0 || n%s.opts.PageSize != 0 {
		return 0, fmt.Errorf("%w: %d", ErrBadSize, n)
	}
	if s.fail != nil && s.fail(n) {
		return 0, fmt.Errorf("%w: injected failure for %d bytes", ErrExhausted, n)
	}
	if s.opts.Limit > 0 && s.inuse+n > s.opts.Limit {
		return 0, fmt.Errorf("%w: %d bytes requested, %d of %d in use",
			ErrExhausted, n, s.inuse, s.opts.Limit)
	}
	end, ok := checked.Add(s.next, n)
	if !ok {
		return 0, fmt.Errorf("%w: address wrap", ErrExhausted)
	}
	gap, _ := checked.AlignUp(s.opts.Gap, s.opts.PageSize)

	v := s.next
	if s.next, ok = checked.Add(end, gap); !ok {
		s.next = ^uintptr(0)
	}
	s.inuse += n
	s.regions[v] = n
	return v, nil
}

// Free releases a region previously returned by Alloc.
func (s *Sim) Free(v, n uintptr) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	size, ok := s.regions[v]
	if !ok || size != n {
		return fmt.Errorf("%w: %#x+%d", ErrUnknownRegion, v, n)
	}
	delete(s.regions, v)
	s.inuse -= n
	s.released = append(s.released, Region{Addr: v, Size: n})
	return nil
}

// InUse reports the bytes currently outstanding.
func (s *Sim) InUse() uintptr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inuse
}

// Calls reports how many times Alloc was called, successful or not.
func (s *Sim) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Regions returns the live regions in address order.
func (s *Sim) Regions() []Region {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Region, 0, len(s.regions))
	for v, n := range s.regions {
		out = append(out, Region{Addr: v, Size: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Addr < out[j].Addr })
	return out
}

// Released returns the regions given back through Free, in release order.
func (s *Sim) Released() []Region {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Region(nil), s.released...)
}

package pageheap

import (
	"fmt"

	"github.com/joshuapare/pageheap/internal/checked"
	"github.com/joshuapare/pageheap/internal/logger"
)

// Grow adds at least npage pages of address space to the heap. The new
// chunk is coalesced with any free span it happens to touch.
func (h *Heap) Grow(npage uintptr) error {
	if npage == 0 {
		return ErrZeroPages
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.grow(npage)
}

// grow asks the memory source for a chunk big enough for npage pages.
//
// The request is rounded up to ChunkAlignPages and to at least ChunkBytes,
// so small requests amortize the cost of going to the source. If the
// rounded request fails, the exact size is tried once more.
func (h *Heap) grow(npage uintptr) error {
	shift := h.cfg.PageShift
	want, ok := checked.Shl(npage, shift)
	if !ok {
		h.stats.GrowFailures++
		return fmt.Errorf("%w: %d pages overflows the address space", ErrGrowFail, npage)
	}
	ask := want
	if pages, ok := checked.AlignUp(npage, h.cfg.ChunkAlignPages); ok {
		if b, ok := checked.Shl(pages, shift); ok {
			ask = max(b, h.cfg.ChunkBytes)
		}
	}

	h.stats.GrowCalls++
	v, err := h.sys.Alloc(ask)
	if err != nil {
		if ask <= want {
			h.stats.GrowFailures++
			return fmt.Errorf("%w: %d bytes: %w", ErrGrowFail, ask, err)
		}
		logger.Debug("pageheap: chunk request failed, retrying exact size",
			"ask", ask, "want", want, "err", err)
		h.stats.GrowRetries++
		ask = want
		if v, err = h.sys.Alloc(ask); err != nil {
			h.stats.GrowFailures++
			return fmt.Errorf("%w: %d bytes: %w", ErrGrowFail, ask, err)
		}
	}

	if v&(h.cfg.PageSize()-1) != 0 {
		h.release(v, ask)
		h.stats.GrowFailures++
		return fmt.Errorf("%w: %#x", ErrMisaligned, v)
	}

	// Reserve one extra entry on each side so the neighbour lookups done
	// while coalescing always land on reserved pages.
	start := PageID(v >> shift)
	n := ask >> shift
	if !h.pages.Preallocate(start-1, n+2) {
		h.release(v, ask)
		h.stats.GrowFailures++
		return fmt.Errorf("%w: page map could not reserve %d pages at %#x", ErrGrowFail, n, v)
	}

	if h.min == 0 || v < h.min {
		h.min = v
	}
	if v+ask > h.max {
		h.max = v + ask
	}
	h.stats.SysBytes += uint64(ask)

	// Create a fake "in use" span and free it, so that the right
	// coalescing happens.
	s := h.spans.alloc()
	s.init(start, n)
	h.setBounds(s)
	s.state = SpanInUse
	h.freeLocked(s)

	logger.Debug("pageheap: grew",
		"addr", fmt.Sprintf("%#x", v), "pages", n, "sys_bytes", h.stats.SysBytes)
	if h.onGrow != nil {
		h.onGrow(n)
	}
	return nil
}

// release gives a chunk back to the source after a failed grow.
func (h *Heap) release(v, n uintptr) {
	if err := h.sys.Free(v, n); err != nil {
		logger.Warn("pageheap: release after failed grow", "addr", fmt.Sprintf("%#x", v), "bytes", n, "err", err)
	}
}

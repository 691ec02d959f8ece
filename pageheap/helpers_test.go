package pageheap

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/pageheap/pageheap/sysmem"
)

const testBase = uintptr(1 << 30)

// basePage is the first page the simulated source hands out.
var basePage = PageID(testBase >> 12)

// newTestHeap builds a Compact heap over a fresh simulated address space.
func newTestHeap(tb testing.TB, opts sysmem.SimOptions) (*Heap, *sysmem.Sim) {
	tb.Helper()
	if opts.Base == 0 {
		opts.Base = testBase
	}
	sim := sysmem.NewSim(opts)
	h, err := New(sim, nil, &ConfigCompact)
	require.NoError(tb, err)
	return h, sim
}

// requireCorruption runs fn and returns the *CorruptionError it panics with.
func requireCorruption(tb testing.TB, fn func()) (ce *CorruptionError) {
	tb.Helper()
	defer func() {
		r := recover()
		require.NotNil(tb, r, "expected a corruption panic")
		var ok bool
		ce, ok = r.(*CorruptionError)
		require.True(tb, ok, "panic value %T is not *CorruptionError: %v", r, r)
	}()
	fn()
	return nil
}

// snapshot returns every live span, for before/after comparisons.
func snapshot(h *Heap) []SpanInfo {
	var out []SpanInfo
	h.Walk(func(s SpanInfo) bool {
		out = append(out, s)
		return true
	})
	return out
}

// freeSpans returns the free spans in the heap.
func freeSpans(h *Heap) []SpanInfo {
	var out []SpanInfo
	for _, s := range snapshot(h) {
		if s.State == SpanFree {
			out = append(out, s)
		}
	}
	return out
}

// failingPageMap refuses every reservation.
type failingPageMap struct {
	PageMap
}

func (failingPageMap) Preallocate(PageID, uintptr) bool { return false }

// offsetSource returns addresses that are not page aligned.
type offsetSource struct {
	*sysmem.Sim
	freed int
}

func (o *offsetSource) Alloc(n uintptr) (uintptr, error) {
	v, err := o.Sim.Alloc(n)
	return v + 8, err
}

func (o *offsetSource) Free(v, n uintptr) error {
	o.freed++
	return o.Sim.Free(v-8, n)
}

package pageheap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/pageheap/pageheap/sysmem"
)

func TestFree_MergesBothNeighbours(t *testing.T) {
	h, _ := newTestHeap(t, sysmem.SimOptions{})
	require.NoError(t, h.Grow(16))

	a, err := h.Alloc(4, 0)
	require.NoError(t, err)
	b, err := h.Alloc(4, 0)
	require.NoError(t, err)
	c, err := h.Alloc(4, 0)
	require.NoError(t, err)

	h.Free(a, 0)
	h.Free(c, 0) // absorbs the 4-page tail
	require.Len(t, freeSpans(h), 2)
	require.NoError(t, h.Verify())

	descriptors := h.Stats().SpanDescriptors
	h.Free(b, 0)

	spans := freeSpans(h)
	require.Len(t, spans, 1)
	assert.Equal(t, basePage, spans[0].Start)
	assert.Equal(t, uintptr(16), spans[0].NPages)

	st := h.Stats()
	assert.Equal(t, 1, st.CoalesceBackward)
	assert.Equal(t, 2, st.CoalesceForward)
	assert.Equal(t, 3, st.Splits)
	assert.Equal(t, descriptors-2, st.SpanDescriptors, "absorbed neighbours are released")
	require.NoError(t, h.Verify())
}

func TestFree_SurvivorKeepsItsDescriptor(t *testing.T) {
	h, _ := newTestHeap(t, sysmem.SimOptions{})
	require.NoError(t, h.Grow(16))

	a, err := h.Alloc(4, 0)
	require.NoError(t, err)
	b, err := h.Alloc(4, 0)
	require.NoError(t, err)

	h.Free(a, 0)
	h.Free(b, 0)

	spans := freeSpans(h)
	require.Len(t, spans, 1)
	assert.Equal(t, b.ID(), spans[0].ID, "the freed span absorbs its neighbours")
	assert.Equal(t, SpanDead, a.State())
}

func TestFree_InUseNeighboursUntouched(t *testing.T) {
	h, _ := newTestHeap(t, sysmem.SimOptions{})
	require.NoError(t, h.Grow(16))

	a, err := h.Alloc(2, 0)
	require.NoError(t, err)
	b, err := h.Alloc(2, 0)
	require.NoError(t, err)
	c, err := h.Alloc(2, 0)
	require.NoError(t, err)

	h.Free(b, 0)
	assert.Equal(t, SpanInUse, a.State())
	assert.Equal(t, SpanInUse, c.State())
	assert.Equal(t, SpanFree, b.State())
	assert.Equal(t, uintptr(2), b.NPages())
	assert.Zero(t, h.Stats().CoalesceBackward+h.Stats().CoalesceForward)
}

func TestFree_DoubleFreePanics(t *testing.T) {
	h, _ := newTestHeap(t, sysmem.SimOptions{})
	require.NoError(t, h.Grow(16))
	a, err := h.Alloc(2, 0)
	require.NoError(t, err)
	_, err = h.Alloc(2, 0)
	require.NoError(t, err)

	h.Free(a, 0)
	ce := requireCorruption(t, func() { h.Free(a, 0) })
	assert.Equal(t, "Heap.Free", ce.Op)

	// The lock was released on the way out.
	s, err := h.Alloc(2, 0)
	require.NoError(t, err)
	assert.Equal(t, basePage, s.Start())
	require.NoError(t, h.Verify())
}

func TestFree_AbsorbedSpanPanics(t *testing.T) {
	h, _ := newTestHeap(t, sysmem.SimOptions{})
	require.NoError(t, h.Grow(16))
	a, err := h.Alloc(2, 0)
	require.NoError(t, err)
	b, err := h.Alloc(2, 0)
	require.NoError(t, err)

	h.Free(b, 0)
	h.Free(a, 0) // absorbs b, whose descriptor is retired
	require.Equal(t, SpanDead, b.State())
	requireCorruption(t, func() { h.Free(b, 0) })
}

func TestFree_LiveObjectsPanic(t *testing.T) {
	h, _ := newTestHeap(t, sysmem.SimOptions{})
	s, err := h.Alloc(1, 3)
	require.NoError(t, err)

	s.AddRef(2)
	requireCorruption(t, func() { h.Free(s, 0) })
	assert.Equal(t, SpanInUse, s.State())

	s.AddRef(-2)
	h.Free(s, 0)
	assert.Zero(t, h.Stats().InusePages)
}

func TestFree_ForeignSpanPanics(t *testing.T) {
	h1, _ := newTestHeap(t, sysmem.SimOptions{})
	h2, _ := newTestHeap(t, sysmem.SimOptions{})
	s, err := h2.Alloc(1, 0)
	require.NoError(t, err)

	ce := requireCorruption(t, func() { h1.Free(s, 0) })
	assert.Contains(t, ce.Msg, "does not belong")
	requireCorruption(t, func() { h1.Free(nil, 0) })
}

func TestFree_StaleNeighbourPanics(t *testing.T) {
	h, _ := newTestHeap(t, sysmem.SimOptions{Gap: 1 << 20})
	require.NoError(t, h.Grow(16))
	require.NoError(t, h.Grow(16))
	far := freeSpans(h)[1]

	a, err := h.Alloc(4, 0)
	require.NoError(t, err)
	b, err := h.Alloc(4, 0)
	require.NoError(t, err)
	require.Equal(t, a.Start()+4, b.Start())

	// Point the page before b at a free span elsewhere in the heap.
	h.pages.Set(b.Start()-1, far.ID)

	ce := requireCorruption(t, func() { h.Free(b, 0) })
	assert.Contains(t, ce.Msg, "stale page map entry")
}

func TestLookup(t *testing.T) {
	h, _ := newTestHeap(t, sysmem.SimOptions{})
	require.NoError(t, h.Grow(16))
	s, err := h.Alloc(3, 0)
	require.NoError(t, err)

	for p := s.Start(); p < s.Start()+3; p++ {
		assert.Same(t, s, h.Lookup(p))
	}
	tail := h.Lookup(s.Start() + 3)
	require.NotNil(t, tail)
	assert.Equal(t, SpanFree, tail.State())
	assert.Same(t, tail, h.Lookup(basePage+15))

	assert.Nil(t, h.Lookup(basePage+16), "reserved guard page")
	ce := requireCorruption(t, func() { h.Lookup(1 << 40) })
	assert.Equal(t, "Heap.Lookup", ce.Op)
	assert.Contains(t, ce.Msg, "never reserved")

	assert.Same(t, s, h.Lookup(s.Start()), "heap still usable after the report")
}

package pageheap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpanList_InitEmpty(t *testing.T) {
	st := newSpanStore(12)
	l := st.newList()

	assert.Equal(t, SpanListHead, l.State())
	assert.True(t, st.isEmpty(l))
	assert.Nil(t, st.first(l))
	assert.Equal(t, l.id, l.next)
	assert.Equal(t, l.id, l.prev)
}

func TestSpanList_InsertAtFront(t *testing.T) {
	st := newSpanStore(12)
	l := st.newList()
	a, b := st.alloc(), st.alloc()

	st.insert(l, a)
	st.insert(l, b)

	require.False(t, st.isEmpty(l))
	assert.Same(t, b, st.first(l))
	var order []SpanID
	st.each(l, func(s *Span) bool {
		order = append(order, s.id)
		return true
	})
	assert.Equal(t, []SpanID{b.id, a.id}, order)
	assert.Equal(t, 2, st.len(l))
}

func TestSpanList_RemoveIdempotent(t *testing.T) {
	st := newSpanStore(12)
	l := st.newList()
	a, b := st.alloc(), st.alloc()
	st.insert(l, a)
	st.insert(l, b)

	st.remove(a)
	assert.False(t, a.inList())
	assert.Equal(t, noSpan, a.next)
	assert.Equal(t, noSpan, a.prev)
	st.remove(a) // no-op

	assert.Equal(t, 1, st.len(l))
	st.remove(b)
	assert.True(t, st.isEmpty(l))
}

func TestSpanList_DoubleInsertPanics(t *testing.T) {
	st := newSpanStore(12)
	l1, l2 := st.newList(), st.newList()
	a := st.alloc()
	st.insert(l1, a)

	ce := requireCorruption(t, func() { st.insert(l2, a) })
	assert.Equal(t, "spanStore.insert", ce.Op)
	assert.Equal(t, 1, st.len(l1))
	assert.True(t, st.isEmpty(l2))
}

func TestSpanList_ReleaseLivePanics(t *testing.T) {
	st := newSpanStore(12)
	l := st.newList()
	a := st.alloc()
	st.insert(l, a)

	requireCorruption(t, func() { st.release(a) })

	st.remove(a)
	a.state = SpanDead
	st.release(a)
	assert.Equal(t, 1, st.live(), "only the sentinel remains")
}

func TestSpan_Accessors(t *testing.T) {
	st := newSpanStore(12)
	s := st.alloc()
	s.init(0x100, 3)

	assert.Equal(t, PageID(0x100), s.Start())
	assert.Equal(t, uintptr(3), s.NPages())
	assert.Equal(t, uintptr(0x100000), s.Base())
	assert.Equal(t, uintptr(0x103000), s.Limit())
	assert.Equal(t, uintptr(3*4096), s.Bytes())
	assert.True(t, s.contains(0x102))
	assert.False(t, s.contains(0x103))
	assert.False(t, s.contains(0xff))
	assert.Equal(t, "free", SpanFree.String())
	assert.Equal(t, "SpanState(9)", SpanState(9).String())
}

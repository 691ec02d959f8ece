// Package fixalloc provides a free-list allocator for fixed-size metadata
// records. Records live in fixed-length chunks so a pointer handed out by
// Get stays valid for the lifetime of the allocator, and every record is
// addressed by a small integer Handle.
//
// The allocator is not safe for concurrent use; callers hold their own lock.
package fixalloc

// Handle identifies one record. The zero Handle never refers to a record.
type Handle uint32

// Nil is the handle that refers to no record.
const Nil Handle = 0

// chunkLen is the number of records carved out of one chunk.
const chunkLen = 256

// Alloc hands out records of type T.
type Alloc[T any] struct {
	chunks []*[chunkLen]T
	list   []Handle // recycled handles, most recently freed last
	next   uint32   // next never-used slot; slot 0 is reserved for Nil
	inuse  int

	// first is called the first time a slot is handed out, the way the
	// span allocator records every descriptor it ever creates.
	first func(h Handle, v *T)
}

// New returns an allocator. first may be nil.
func New[T any](first func(h Handle, v *T)) *Alloc[T] {
	return &Alloc[T]{next: 1, first: first}
}

// Alloc returns a zeroed record and its handle, reusing freed slots first.
func (a *Alloc[T]) Alloc() (Handle, *T) {
	a.inuse++
	if n := len(a.list); n > 0 {
		h := a.list[n-1]
		a.list = a.list[:n-1]
		v := a.slot(h)
		var zero T
		*v = zero
		return h, v
	}

	h := Handle(a.next)
	a.next++
	if int(h)/chunkLen >= len(a.chunks) {
		a.chunks = append(a.chunks, new([chunkLen]T))
	}
	v := a.slot(h)
	if a.first != nil {
		a.first(h, v)
	}
	return h, v
}

// Free returns h to the allocator. The record's contents are left in place
// until the slot is handed out again.
func (a *Alloc[T]) Free(h Handle) {
	if h == Nil || uint32(h) >= a.next {
		panic("fixalloc: free of invalid handle")
	}
	a.inuse--
	a.list = append(a.list, h)
}

// Get returns the record for h, or nil for Nil and never-issued handles.
func (a *Alloc[T]) Get(h Handle) *T {
	if h == Nil || uint32(h) >= a.next {
		return nil
	}
	return a.slot(h)
}

// Each calls fn for every slot ever handed out, including freed ones, in
// handle order. It stops early when fn returns false.
func (a *Alloc[T]) Each(fn func(h Handle, v *T) bool) {
	for i := uint32(1); i < a.next; i++ {
		if !fn(Handle(i), a.slot(Handle(i))) {
			return
		}
	}
}

// InUse reports the number of records currently allocated.
func (a *Alloc[T]) InUse() int { return a.inuse }

// Cap reports the number of slots ever handed out.
func (a *Alloc[T]) Cap() int { return int(a.next) - 1 }

func (a *Alloc[T]) slot(h Handle) *T {
	return &a.chunks[int(h)/chunkLen][int(h)%chunkLen]
}

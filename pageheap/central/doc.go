// Package central carves page-heap spans into fixed-size objects.
//
// A Table divides object sizes up to MaxSmallSize into classes. Each class
// has a Central pool that takes spans of ClassToPages pages from the heap,
// tagged with the class, and hands their objects out. The pool counts live
// objects with Span.AddRef and gives a span back to the heap (with no accounting
// charge) when the count drops to zero.
//
// Allocator puts a batching cache in front of the pools and routes requests
// over MaxSmallSize straight to the heap as whole pages:
//
//	h, _ := pageheap.New(sysmem.NewMmap(0), nil, nil)
//	a := central.NewAllocator(h)
//	p, err := a.Malloc(48)
//	...
//	err = a.Free(p)
package central

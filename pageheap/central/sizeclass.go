package central

import "fmt"

// MaxSmallSize is the largest object served from a size class. Bigger
// objects get whole pages straight from the heap.
const MaxSmallSize = 32 << 10

// Table maps object sizes to size classes for one page size.
//
// Class sizes are chosen so rounding a request up to its class wastes at
// most 1/8 of the object, and each class's span size so that carving the
// span into objects wastes at most 1/8 of the span. Class 0 means "no
// class".
type Table struct {
	pageShift uint8
	size      []uintptr // class -> object size
	npages    []uintptr // class -> pages per span
	transfer  []int     // class -> objects moved per cache refill

	// Lookup tables: sizes up to 1024 in steps of 8, then up to
	// MaxSmallSize in steps of 128.
	small [1024/8 + 1]int32
	large [(MaxSmallSize-1024)/128 + 1]int32
}

// NewTable builds the class table for pages of 1<<pageShift bytes.
func NewTable(pageShift uint8) *Table {
	t := &Table{
		pageShift: pageShift,
		size:      []uintptr{0},
		npages:    []uintptr{0},
		transfer:  []int{0},
	}
	pageSize := uintptr(1) << pageShift

	align := uintptr(8)
	for size := align; size <= MaxSmallSize; size += align {
		if size&(size-1) == 0 {
			// Coarser alignment as sizes grow, so class count stays small.
			switch {
			case size >= 2048:
				align = 256
			case size >= 128:
				align = size / 8
			case size >= 16:
				align = 16
			}
		}

		// Grow the span until the tail left over after carving is at most
		// 1/8 of it.
		allocSize := pageSize
		for allocSize%size > allocSize/8 {
			allocSize += pageSize
		}
		npages := allocSize >> pageShift

		// Same span size and same object count as the previous class:
		// widen that class instead of adding one.
		if last := len(t.size) - 1; last > 0 &&
			t.npages[last] == npages &&
			allocSize/size == allocSize/t.size[last] {
			t.size[last] = size
			continue
		}
		t.size = append(t.size, size)
		t.npages = append(t.npages, npages)
	}

	next := uintptr(0)
	for c := 1; c < len(t.size); c++ {
		for ; next < 1024 && next <= t.size[c]; next += 8 {
			t.small[next/8] = int32(c)
		}
		if next >= 1024 {
			for ; next <= t.size[c]; next += 128 {
				t.large[(next-1024)/128] = int32(c)
			}
		}
	}

	for c := 1; c < len(t.size); c++ {
		n := int(64<<10) / int(t.size[c])
		t.transfer = append(t.transfer, min(max(n, 2), 32))
	}
	return t
}

// NumClasses returns the number of classes, counting class 0.
func (t *Table) NumClasses() int { return len(t.size) }

// PageShift returns the page shift the table was built for.
func (t *Table) PageShift() uint8 { return t.pageShift }

// SizeToClass returns the smallest class whose objects hold size bytes, or
// 0 when size exceeds MaxSmallSize.
func (t *Table) SizeToClass(size uintptr) int {
	switch {
	case size > MaxSmallSize:
		return 0
	case size > 1024-8:
		return int(t.large[(size+127-1024)>>7])
	default:
		return int(t.small[(size+7)>>3])
	}
}

// ClassToSize returns the object size of class c.
func (t *Table) ClassToSize(c int) uintptr { return t.size[c] }

// ClassToPages returns the span size, in pages, that class c carves.
func (t *Table) ClassToPages(c int) uintptr { return t.npages[c] }

// ClassToTransfer returns how many objects a cache moves at once for c.
func (t *Table) ClassToTransfer(c int) int { return t.transfer[c] }

// ObjectsPerSpan returns how many objects fit in one span of class c.
func (t *Table) ObjectsPerSpan(c int) int {
	return int((t.npages[c] << t.pageShift) / t.size[c])
}

// ClassInfo describes one size class.
type ClassInfo struct {
	Class    int     `json:"class"`
	Size     uintptr `json:"size"`
	Pages    uintptr `json:"pages"`
	Objects  int     `json:"objects"`
	Transfer int     `json:"transfer"`
	Waste    float64 `json:"waste"` // fraction of the span left over after carving
}

// Classes describes every class except 0.
func (t *Table) Classes() []ClassInfo {
	out := make([]ClassInfo, 0, len(t.size)-1)
	for c := 1; c < len(t.size); c++ {
		span := t.npages[c] << t.pageShift
		out = append(out, ClassInfo{
			Class:    c,
			Size:     t.size[c],
			Pages:    t.npages[c],
			Objects:  t.ObjectsPerSpan(c),
			Transfer: t.transfer[c],
			Waste:    float64(span%t.size[c]) / float64(span),
		})
	}
	return out
}

func (ci ClassInfo) String() string {
	return fmt.Sprintf("class %d: %d bytes, %d pages, %d objects", ci.Class, ci.Size, ci.Pages, ci.Objects)
}

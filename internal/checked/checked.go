// Package checked does page and byte arithmetic that reports overflow
// instead of wrapping.
package checked

import "math/bits"

// Add returns a + b, with ok = false when the sum wraps.
func Add(a, b uintptr) (uintptr, bool) {
	sum, carry := bits.Add64(uint64(a), uint64(b), 0)
	if carry != 0 || sum > uint64(^uintptr(0)) {
		return 0, false
	}
	return uintptr(sum), true
}

// Shl returns n << shift, with ok = false when bits are shifted out.
// Converts page counts to byte counts.
func Shl(n uintptr, shift uint8) (uintptr, bool) {
	v := n << shift
	if v>>shift != n {
		return 0, false
	}
	return v, true
}

// AlignUp rounds n up to a multiple of align, which must be a power of two.
func AlignUp(n, align uintptr) (uintptr, bool) {
	v, ok := Add(n, align-1)
	if !ok {
		return 0, false
	}
	return v &^ (align - 1), true
}

// PagesFor returns the number of 1<<shift byte pages needed to hold n
// bytes.
func PagesFor(n uintptr, shift uint8) (uintptr, bool) {
	v, ok := AlignUp(n, uintptr(1)<<shift)
	if !ok {
		return 0, false
	}
	return v >> shift, true
}

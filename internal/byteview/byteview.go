// Package byteview converts typed slices to their raw byte representation
// without copying. It is the plumbing behind zero-copy message assembly.
//
// Only slices of fixed-size primitive element types may be viewed; element
// types containing pointers, strings or slices are not valid.
package byteview

import "unsafe"

// SizeOf returns the in-memory size of E in bytes.
func SizeOf[E any]() int {
	var v E
	return int(unsafe.Sizeof(v))
}

// Bytes returns the backing bytes of s. The returned slice aliases s;
// writes through either are visible in both.
func Bytes[E any](s []E) []byte {
	if len(s) == 0 {
		return nil
	}
	ptr := unsafe.Pointer(&s[0])                              //nolint:gosec // required for zero-copy views
	return unsafe.Slice((*byte)(ptr), len(s)*SizeOf[E]())     //nolint:gosec // required for zero-copy views
}

// Put stores v at the start of dst using its native in-memory layout.
// dst must be at least SizeOf[E] bytes long.
func Put[E any](dst []byte, v E) {
	_ = dst[SizeOf[E]()-1]
	*(*E)(unsafe.Pointer(&dst[0])) = v //nolint:gosec // required for zero-copy views
}

// Get loads a value of type E from the start of src.
// src must be at least SizeOf[E] bytes long.
func Get[E any](src []byte) E {
	_ = src[SizeOf[E]()-1]
	return *(*E)(unsafe.Pointer(&src[0])) //nolint:gosec // required for zero-copy views
}

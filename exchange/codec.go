package exchange

import (
	"encoding/binary"
	"math"

	"github.com/hupe1980/indexsync/internal/byteview"
)

// Codec is the fixed-width wire representation of one primitive element.
type Codec[E any] interface {
	// Size returns the encoded width in bytes.
	Size() int
	// Put encodes v at the start of dst.
	Put(dst []byte, v E)
	// Get decodes a value from the start of src.
	Get(src []byte) E
}

// Native encodes elements with their in-memory representation. It is the
// fastest choice and the default; peers must be ABI-compatible (same
// endianness and element width), which holds on homogeneous clusters.
type Native[E any] struct{}

func (Native[E]) Size() int {
	return byteview.SizeOf[E]()
}

func (Native[E]) Put(dst []byte, v E) {
	byteview.Put(dst, v)
}

func (Native[E]) Get(src []byte) E {
	return byteview.Get[E](src)
}

// Float64LE is an explicit little-endian codec for float64 elements, for
// groups whose ABI compatibility is not a given.
type Float64LE struct{}

func (Float64LE) Size() int {
	return 8
}

func (Float64LE) Put(dst []byte, v float64) {
	binary.LittleEndian.PutUint64(dst, math.Float64bits(v))
}

func (Float64LE) Get(src []byte) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(src))
}

// Float32LE is the little-endian codec for float32 elements.
type Float32LE struct{}

func (Float32LE) Size() int {
	return 4
}

func (Float32LE) Put(dst []byte, v float32) {
	binary.LittleEndian.PutUint32(dst, math.Float32bits(v))
}

func (Float32LE) Get(src []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(src))
}

// Uint64LE is the little-endian codec for uint64 elements.
type Uint64LE struct{}

func (Uint64LE) Size() int {
	return 8
}

func (Uint64LE) Put(dst []byte, v uint64) {
	binary.LittleEndian.PutUint64(dst, v)
}

func (Uint64LE) Get(src []byte) uint64 {
	return binary.LittleEndian.Uint64(src)
}

// Package exchange executes forward and backward exchanges of container
// values over an interface plan. Two communicator strategies share one
// contract: Buffered stages values through contiguous byte buffers,
// Datatype binds persistent transfers directly to the container storage.
package exchange

import "github.com/hupe1980/indexsync/internal/byteview"

// Policy describes how a communicator accesses an indexed container D
// with primitive element type E: how many elements sit at an index and
// where they live.
//
// At must return the container's backing storage so that writes through
// the returned slice land in the container. Count(d, i) == len(At(d, i))
// for every valid index.
type Policy[D, E any] interface {
	Count(d D, i int) int
	At(d D, i int) []E
}

// Fixed is implemented by policies whose count is the same at every
// index. Communicators use it to size message plans without a
// representative container.
type Fixed interface {
	CountPerIndex() int
}

// SlicePolicy is the default policy for flat slices: one element per
// index.
type SlicePolicy[E any] struct{}

func (SlicePolicy[E]) Count(d []E, i int) int {
	return 1
}

func (SlicePolicy[E]) At(d []E, i int) []E {
	return d[i : i+1 : i+1]
}

func (SlicePolicy[E]) CountPerIndex() int {
	return 1
}

// BlockPolicy is the policy for block containers: index i carries the
// variable-length block d[i].
type BlockPolicy[E any] struct{}

func (BlockPolicy[E]) Count(d [][]E, i int) int {
	return len(d[i])
}

func (BlockPolicy[E]) At(d [][]E, i int) []E {
	return d[i]
}

// segmentsOf collects the byte footprint of the listed positions, in list
// order. The segments alias the container storage.
func segmentsOf[D, E any](pol Policy[D, E], d D, list []int) [][]byte {
	segs := make([][]byte, 0, len(list))
	for _, i := range list {
		segs = append(segs, byteview.Bytes(pol.At(d, i)))
	}
	return segs
}

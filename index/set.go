package index

import (
	"errors"
	"fmt"
	"iter"
	"sort"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
)

// Global is the cluster-wide unique identifier of a logical entry.
// It is totally ordered; two processes referring to the same Global refer
// to the same logical entry.
type Global uint64

// Local pairs the position of an entry within this process' contiguous
// index range with the attribute assigned to it.
type Local struct {
	// Pos is the position in the local container, dense in 0..N-1.
	Pos int
	// Attr is the role of the entry on this process.
	Attr Attribute
}

// Entry decorates a Local with its Global identifier.
type Entry struct {
	Global Global
	Local  Local
}

var (
	// ErrSealed is returned when a sealed set is mutated.
	ErrSealed = errors.New("index set is sealed")
	// ErrNotSealed is returned when an operation requires a sealed set.
	ErrNotSealed = errors.New("index set is not sealed")
)

// DuplicateGlobalError indicates that the same Global was added twice.
type DuplicateGlobalError struct {
	Global Global
}

func (e *DuplicateGlobalError) Error() string {
	return fmt.Sprintf("duplicate global index %d", uint64(e.Global))
}

// Set is an ordered sequence of local indices, each decorated with its
// Global identifier. It is the per-process view of a partitioned index
// universe.
//
// A Set goes through a build phase (Add) and is then sealed (Seal). Local
// positions are assigned in Add order and stay stable for the lifetime of
// the set; iteration after sealing is in ascending Global order.
type Set struct {
	entries []Entry // sorted by Global after Seal
	bitmap  *roaring64.Bitmap
	sealed  bool
}

// NewSet creates an empty, unsealed index set.
func NewSet() *Set {
	return &Set{bitmap: roaring64.New()}
}

// Add appends an entry during the build phase. The local position is the
// number of entries added before it.
func (s *Set) Add(g Global, a Attribute) error {
	if s.sealed {
		return ErrSealed
	}
	s.entries = append(s.entries, Entry{Global: g, Local: Local{Pos: len(s.entries), Attr: a}})
	return nil
}

// Seal ends the build phase. It orders the entries by Global, verifies
// uniqueness and freezes the set. Sealing an already sealed set is a no-op.
func (s *Set) Seal() error {
	if s.sealed {
		return nil
	}
	sort.Slice(s.entries, func(i, j int) bool {
		return s.entries[i].Global < s.entries[j].Global
	})
	for i := 1; i < len(s.entries); i++ {
		if s.entries[i].Global == s.entries[i-1].Global {
			return &DuplicateGlobalError{Global: s.entries[i].Global}
		}
	}
	for _, e := range s.entries {
		s.bitmap.Add(uint64(e.Global))
	}
	s.sealed = true
	return nil
}

// Sealed reports whether Seal has completed.
func (s *Set) Sealed() bool {
	return s.sealed
}

// Len returns the number of entries.
func (s *Set) Len() int {
	return len(s.entries)
}

// All iterates the entries in ascending Global order. The set must be
// sealed.
func (s *Set) All() iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		for _, e := range s.entries {
			if !yield(e) {
				return
			}
		}
	}
}

// Lookup returns the entry for g, if present. The set must be sealed.
func (s *Set) Lookup(g Global) (Entry, bool) {
	i := sort.Search(len(s.entries), func(i int) bool {
		return s.entries[i].Global >= g
	})
	if i < len(s.entries) && s.entries[i].Global == g {
		return s.entries[i], true
	}
	return Entry{}, false
}

// Bitmap returns a copy of the set's Global membership as a roaring
// bitmap. The set must be sealed.
func (s *Set) Bitmap() *roaring64.Bitmap {
	return s.bitmap.Clone()
}

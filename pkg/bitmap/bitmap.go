// Package bitmap wraps github.com/RoaringBitmap/roaring/v2 as a
// compressed set of 64-bit point ids with fast intersection/union. The
// collection keeps its set of live point ids in one.
package bitmap

import (
	"github.com/RoaringBitmap/roaring/v2/roaring64"
)

// Set is a compressed bitmap of int64 ids.
type Set struct {
	bm *roaring64.Bitmap
}

// New returns an empty set.
func New() *Set { return &Set{bm: roaring64.New()} }

// FromSlice builds a set from a slice of ids.
func FromSlice(ids []int64) *Set {
	s := New()
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

// Add inserts id into the set.
func (s *Set) Add(id int64) { s.bm.Add(uint64(id)) }

// Remove deletes id from the set.
func (s *Set) Remove(id int64) { s.bm.Remove(uint64(id)) }

// Contains reports whether id is in the set.
func (s *Set) Contains(id int64) bool { return s.bm.Contains(uint64(id)) }

// Len reports the set's cardinality.
func (s *Set) Len() int { return int(s.bm.GetCardinality()) }

// And returns the intersection of s and other.
func (s *Set) And(other *Set) *Set {
	return &Set{bm: roaring64.And(s.bm, other.bm)}
}

// Or returns the union of s and other.
func (s *Set) Or(other *Set) *Set {
	return &Set{bm: roaring64.Or(s.bm, other.bm)}
}

// AndNot returns s with every id in other removed.
func (s *Set) AndNot(other *Set) *Set {
	return &Set{bm: roaring64.AndNot(s.bm, other.bm)}
}

// ToSlice materialises every id in ascending order.
func (s *Set) ToSlice() []int64 {
	u64 := s.bm.ToArray()
	out := make([]int64, len(u64))
	for i, v := range u64 {
		out[i] = int64(v)
	}
	return out
}

// Selectivity estimates the set's fraction of a universe of the given
// size; a non-positive universe yields 0.
func (s *Set) Selectivity(universe int) float64 {
	if universe <= 0 {
		return 0
	}
	return float64(s.Len()) / float64(universe)
}

// Clone returns an independent copy.
func (s *Set) Clone() *Set { return &Set{bm: s.bm.Clone()} }

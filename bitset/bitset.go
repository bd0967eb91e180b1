// Package bitset implements a fixed-width, popcountable set of small
// integers, backed by github.com/willf/bitset (already part of the
// dependency graph that pulls in willf/bloom elsewhere in the stack).
// SCoOL's distributed executor uses a Set to carry the passive-token
// bitmap piggybacked on every steal-request header (one bit per peer);
// application-side search code (e.g. subset encodings for
// inclusion-exclusion search) uses it directly.
package bitset

import (
	"encoding/binary"
	"hash/fnv"

	"github.com/willf/bitset"
)

// Set is a fixed-width set of small non-negative integers in [0, N).
type Set struct {
	n    uint
	bits *bitset.BitSet
}

// New returns an empty Set with room for integers in [0, n).
func New(n uint) *Set {
	return &Set{n: n, bits: bitset.New(n)}
}

// Len returns the set's fixed width, n.
func (s *Set) Len() uint { return s.n }

// Add adds i to the set.
func (s *Set) Add(i uint) { s.bits.Set(i) }

// Remove removes i from the set.
func (s *Set) Remove(i uint) { s.bits.Clear(i) }

// Contains reports whether i is in the set.
func (s *Set) Contains(i uint) bool { return s.bits.Test(i) }

// PopCount returns the number of elements in the set.
func (s *Set) PopCount() uint { return s.bits.Count() }

// Clone returns a deep copy of s.
func (s *Set) Clone() *Set {
	return &Set{n: s.n, bits: s.bits.Clone()}
}

// Clear resets the set to empty, keeping its allocated width.
func (s *Set) Clear() { s.bits.ClearAll() }

// ShiftLeft returns a new Set with every element's index increased by k,
// truncated to the fixed width n. ShiftLeft is used by application-side
// inclusion-exclusion search encodings that compose subset bitmaps.
func (s *Set) ShiftLeft(k uint) *Set {
	out := New(s.n)
	for i := uint(0); i < s.n; i++ {
		if s.bits.Test(i) && i+k < s.n {
			out.bits.Set(i + k)
		}
	}
	return out
}

func (s *Set) requireSameWidth(other *Set) {
	if s.n != other.n {
		panic("bitset: width mismatch")
	}
}

// And returns the intersection of s and other.
func (s *Set) And(other *Set) *Set {
	s.requireSameWidth(other)
	return &Set{n: s.n, bits: s.bits.Intersection(other.bits)}
}

// Or returns the union of s and other.
func (s *Set) Or(other *Set) *Set {
	s.requireSameWidth(other)
	return &Set{n: s.n, bits: s.bits.Union(other.bits)}
}

// OrInto folds other into s in place (bitwise OR), without allocating a
// new Set -- the hot-path operation used when a peer folds an incoming
// token bitmap into its own (spec.md §4.7.2: "the receiver folds the
// incoming token bitmap into its own").
func (s *Set) OrInto(other *Set) {
	s.requireSameWidth(other)
	s.bits.InPlaceUnion(other.bits)
}

// Xor returns the symmetric difference of s and other.
func (s *Set) Xor(other *Set) *Set {
	s.requireSameWidth(other)
	return &Set{n: s.n, bits: s.bits.SymmetricDifference(other.bits)}
}

// Complement returns the complement of s within its fixed width.
func (s *Set) Complement() *Set {
	c := s.bits.Clone()
	for i := uint(0); i < s.n; i++ {
		if s.bits.Test(i) {
			c.Clear(i)
		} else {
			c.Set(i)
		}
	}
	return &Set{n: s.n, bits: c}
}

// Equal reports whether s and other contain exactly the same elements.
func (s *Set) Equal(other *Set) bool {
	if s.n != other.n {
		return false
	}
	return s.bits.Equal(other.bits)
}

// Less defines a total order over Sets of the same width by comparing
// their elements in decreasing index order (i.e. lexicographic order of
// the bitmap read from the high bit down), so Sets can be used as map
// keys or sorted deterministically in tests.
func (s *Set) Less(other *Set) bool {
	s.requireSameWidth(other)
	for i := int(s.n) - 1; i >= 0; i-- {
		a, b := s.bits.Test(uint(i)), other.bits.Test(uint(i))
		if a != b {
			return !a && b
		}
	}
	return false
}

// Hash returns a stable hash of the set's contents, suitable for use as a
// task-table bucket key when application code embeds a Set inside a task.
func (s *Set) Hash() uint64 {
	h := fnv.New64a()
	var buf [8]byte
	words := (s.n + 63) / 64
	for i := uint(0); i < words; i++ {
		var w uint64
		for b := uint(0); b < 64; b++ {
			idx := i*64 + b
			if idx >= s.n {
				break
			}
			if s.bits.Test(idx) {
				w |= 1 << b
			}
		}
		binary.LittleEndian.PutUint64(buf[:], w)
		h.Write(buf[:])
	}
	return h.Sum64()
}

// String renders the set as a sorted list of its elements, e.g. "{0 3 5}".
func (s *Set) String() string {
	b := []byte{'{'}
	first := true
	for i := uint(0); i < s.n; i++ {
		if !s.bits.Test(i) {
			continue
		}
		if !first {
			b = append(b, ' ')
		}
		first = false
		b = appendUint(b, i)
	}
	b = append(b, '}')
	return string(b)
}

func appendUint(b []byte, v uint) []byte {
	if v == 0 {
		return append(b, '0')
	}
	var tmp [20]byte
	i := len(tmp)
	for v > 0 {
		i--
		tmp[i] = byte('0' + v%10)
		v /= 10
	}
	return append(b, tmp[i:]...)
}

// FromBytes builds a Set of width n from a little-endian bitmap of
// ⌈n/8⌉ bytes, matching the wire protocol's token bitmap encoding
// (spec.md §6).
func FromBytes(n uint, b []byte) *Set {
	s := New(n)
	for i := uint(0); i < n; i++ {
		byteIdx, bitIdx := i/8, i%8
		if int(byteIdx) < len(b) && b[byteIdx]&(1<<bitIdx) != 0 {
			s.Add(i)
		}
	}
	return s
}

// Bytes encodes the set as a little-endian bitmap of ⌈n/8⌉ bytes.
func (s *Set) Bytes() []byte {
	out := make([]byte, (s.n+7)/8)
	for i := uint(0); i < s.n; i++ {
		if s.bits.Test(i) {
			out[i/8] |= 1 << (i % 8)
		}
	}
	return out
}

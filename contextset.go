package cdtrans

import (
	"fmt"
	"hash/maphash"
	"math/bits"
	"strings"
)

// ContextSet is a fixed-capacity bitset over phone indices, used to
// represent a set of phones occupying one context position of a
// PhoneContext. Capacity is part of the value's identity: two sets only
// compare equal if their capacities match.
type ContextSet struct {
	words []uint64
	n     int // capacity, in bits
}

// NewContextSet returns an empty set with room for n phone indices
// (0..n-1).
func NewContextSet(n int) ContextSet {
	return ContextSet{words: make([]uint64, wordsFor(n)), n: n}
}

func wordsFor(n int) int {
	return (n + 63) / 64
}

// Cap reports the set's capacity (universe size).
func (s ContextSet) Cap() int {
	return s.n
}

// Add inserts phone index i into the set.
func (s ContextSet) Add(i int) {
	s.checkIndex(i)
	s.words[i/64] |= 1 << uint(i%64)
}

// Remove deletes phone index i from the set, if present.
func (s ContextSet) Remove(i int) {
	s.checkIndex(i)
	s.words[i/64] &^= 1 << uint(i%64)
}

// Test reports whether phone index i is a member of the set.
func (s ContextSet) Test(i int) bool {
	s.checkIndex(i)
	return s.words[i/64]&(1<<uint(i%64)) != 0
}

func (s ContextSet) checkIndex(i int) {
	if i < 0 || i >= s.n {
		panic(fmt.Sprintf("cdtrans: phone index %d out of range [0,%d)", i, s.n))
	}
}

// Clone returns an independent copy of the set.
func (s ContextSet) Clone() ContextSet {
	words := make([]uint64, len(s.words))
	copy(words, s.words)
	return ContextSet{words: words, n: s.n}
}

// Empty reports whether the set has no members.
func (s ContextSet) Empty() bool {
	for _, w := range s.words {
		if w != 0 {
			return false
		}
	}
	return true
}

// Cardinality returns the number of members.
func (s ContextSet) Cardinality() int {
	c := 0
	for _, w := range s.words {
		c += bits.OnesCount64(w)
	}
	return c
}

// Equal reports whether two sets of the same capacity have identical
// membership. Sets of differing capacity are never equal.
func (s ContextSet) Equal(o ContextSet) bool {
	if s.n != o.n {
		return false
	}
	for i := range s.words {
		if s.words[i] != o.words[i] {
			return false
		}
	}
	return true
}

// Subset reports whether s is a subset of o: s ⊆ o iff s AND NOT o = ∅.
func (s ContextSet) Subset(o ContextSet) bool {
	s.checkSameCap(o)
	for i := range s.words {
		if s.words[i]&^o.words[i] != 0 {
			return false
		}
	}
	return true
}

func (s ContextSet) checkSameCap(o ContextSet) {
	if s.n != o.n {
		panic(fmt.Sprintf("cdtrans: context set capacity mismatch: %d vs %d", s.n, o.n))
	}
}

// Union returns s ∪ o as a new set.
func (s ContextSet) Union(o ContextSet) ContextSet {
	s.checkSameCap(o)
	r := s.Clone()
	for i := range r.words {
		r.words[i] |= o.words[i]
	}
	return r
}

// Intersect returns s ∩ o as a new set.
func (s ContextSet) Intersect(o ContextSet) ContextSet {
	s.checkSameCap(o)
	r := s.Clone()
	for i := range r.words {
		r.words[i] &= o.words[i]
	}
	return r
}

// Invert returns the complement of s within its universe.
func (s ContextSet) Invert() ContextSet {
	r := s.Clone()
	for i := range r.words {
		r.words[i] = ^r.words[i]
	}
	r.maskTail()
	return r
}

// maskTail clears any bits beyond n in the final word, keeping Cardinality,
// Empty and Equal well-defined after an Invert.
func (s ContextSet) maskTail() {
	if s.n == 0 {
		return
	}
	rem := s.n % 64
	if rem == 0 {
		return
	}
	last := len(s.words) - 1
	s.words[last] &= (1 << uint(rem)) - 1
}

// Members returns the set's members in ascending order.
func (s ContextSet) Members() []int {
	members := make([]int, 0, s.Cardinality())
	for wi, w := range s.words {
		for w != 0 {
			b := bits.TrailingZeros64(w)
			members = append(members, wi*64+b)
			w &^= 1 << uint(b)
		}
	}
	return members
}

var contextSetHashSeed = maphash.MakeSeed()

// Hash returns a hash of the set's membership and capacity, suitable for
// use as a map key component (see PhoneContext.Hash).
func (s ContextSet) Hash() uint64 {
	var h maphash.Hash
	h.SetSeed(contextSetHashSeed)
	buf := make([]byte, 8*len(s.words)+8)
	for i, w := range s.words {
		putUint64(buf[8*i:], w)
	}
	putUint64(buf[8*len(s.words):], uint64(s.n))
	h.Write(buf)
	return h.Sum64()
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

// String renders the set as a sorted list of phone indices, e.g. "{1,4,7}".
func (s ContextSet) String() string {
	members := s.Members()
	parts := make([]string, len(members))
	for i, m := range members {
		parts[i] = fmt.Sprintf("%d", m)
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// Singleton returns a set of capacity n containing only phone index i.
func Singleton(n, i int) ContextSet {
	s := NewContextSet(n)
	s.Add(i)
	return s
}

// Full returns a set of capacity n containing every phone index.
func Full(n int) ContextSet {
	s := NewContextSet(n)
	for i := range s.words {
		s.words[i] = ^uint64(0)
	}
	s.maskTail()
	return s
}

// FromMembers returns a set of capacity n containing exactly the given
// phone indices.
func FromMembers(n int, members []int) ContextSet {
	s := NewContextSet(n)
	for _, m := range members {
		s.Add(m)
	}
	return s
}

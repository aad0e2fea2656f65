package cdtrans

import (
	"fmt"
	"hash/maphash"
	"strings"
)

// PhoneContext is a tuple of ContextSets indexed by a signed context
// position p ∈ [-L, +R]. Position 0 is the center; negative positions are
// left context (|p| increases away from the center), positive positions
// are right context.
//
// Slot layout: negative p maps to slot L-1-(-p-1) = L+p, non-negative p
// maps to slot L+p as well — i.e. slot index is always L+p, giving
// L left slots (indices 0..L-1, for p=-L..-1), then the center
// (index L, p=0), then R right slots (indices L+1..L+R, for p=1..R).
type PhoneContext struct {
	slots []ContextSet
	left  int // L
	right int // R
}

// NewPhoneContext builds a context with l left positions and r right
// positions, all slots initialized to the given capacity-n empty set.
func NewPhoneContext(l, r, n int) PhoneContext {
	slots := make([]ContextSet, l+r+1)
	for i := range slots {
		slots[i] = NewContextSet(n)
	}
	return PhoneContext{slots: slots, left: l, right: r}
}

// L returns the number of left context positions.
func (c PhoneContext) L() int { return c.left }

// R returns the number of right context positions.
func (c PhoneContext) R() int { return c.right }

func (c PhoneContext) slotIndex(p int) int {
	if p < -c.left || p > c.right {
		panic(fmt.Sprintf("cdtrans: context position %d out of range [-%d,+%d]", p, c.left, c.right))
	}
	return c.left + p
}

// At returns the ContextSet occupying position p.
func (c PhoneContext) At(p int) ContextSet {
	return c.slots[c.slotIndex(p)]
}

// Center is a shorthand for At(0).
func (c PhoneContext) Center() ContextSet {
	return c.At(0)
}

// WithAt returns a copy of c with position p replaced by s. s must have
// the same capacity as the other slots.
func (c PhoneContext) WithAt(p int, s ContextSet) PhoneContext {
	slots := make([]ContextSet, len(c.slots))
	copy(slots, c.slots)
	slots[c.slotIndex(p)] = s
	return PhoneContext{slots: slots, left: c.left, right: c.right}
}

// Clone returns a deep copy of c.
func (c PhoneContext) Clone() PhoneContext {
	slots := make([]ContextSet, len(c.slots))
	for i, s := range c.slots {
		slots[i] = s.Clone()
	}
	return PhoneContext{slots: slots, left: c.left, right: c.right}
}

// Equal compares two contexts positionwise; equal iff each slot is a
// subset and superset of its counterpart (i.e. set-equal).
func (c PhoneContext) Equal(o PhoneContext) bool {
	if c.left != o.left || c.right != o.right || len(c.slots) != len(o.slots) {
		return false
	}
	for i := range c.slots {
		if !c.slots[i].Equal(o.slots[i]) {
			return false
		}
	}
	return true
}

var phoneContextHashSeed = maphash.MakeSeed()

// Hash folds the per-slot ContextSet hashes into a single value.
func (c PhoneContext) Hash() uint64 {
	var h maphash.Hash
	h.SetSeed(phoneContextHashSeed)
	buf := make([]byte, 8)
	for _, s := range c.slots {
		putUint64(buf, s.Hash())
		h.Write(buf)
	}
	return h.Sum64()
}

// String renders the context as "[left...|center|right...]" for debugging.
func (c PhoneContext) String() string {
	parts := make([]string, len(c.slots))
	for i, s := range c.slots {
		parts[i] = s.String()
	}
	left := strings.Join(parts[:c.left], " ")
	center := parts[c.left]
	right := strings.Join(parts[c.left+1:], " ")
	return fmt.Sprintf("[%s | %s | %s]", left, center, right)
}

// phoneContextKey is a map key built from PhoneContext.Hash plus enough
// raw content to resolve hash collisions. It is used by the transducer's
// state index to get O(1) expected lookup by context.
type phoneContextKey struct {
	hash uint64
	repr string
}

func (c PhoneContext) key() phoneContextKey {
	var b strings.Builder
	for _, s := range c.slots {
		b.WriteString(s.String())
		b.WriteByte(';')
	}
	return phoneContextKey{hash: c.Hash(), repr: b.String()}
}

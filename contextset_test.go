package cdtrans

import "testing"

func TestContextSetBasics(t *testing.T) {
	s := NewContextSet(8)
	if !s.Empty() {
		t.Fatalf("new set should be empty")
	}
	s.Add(1)
	s.Add(4)
	s.Add(7)
	if s.Empty() {
		t.Fatalf("set should not be empty after Add")
	}
	if s.Cardinality() != 3 {
		t.Fatalf("cardinality = %d, want 3", s.Cardinality())
	}
	if !s.Test(1) || !s.Test(4) || !s.Test(7) {
		t.Fatalf("expected members missing")
	}
	if s.Test(0) || s.Test(2) {
		t.Fatalf("unexpected members present")
	}
	s.Remove(4)
	if s.Test(4) {
		t.Fatalf("Remove did not clear bit")
	}
	if got := s.Members(); len(got) != 2 || got[0] != 1 || got[1] != 7 {
		t.Fatalf("Members() = %v, want [1 7]", got)
	}
}

func TestContextSetUnionIntersectInvert(t *testing.T) {
	a := FromMembers(8, []int{0, 1, 2})
	b := FromMembers(8, []int{2, 3, 4})

	u := a.Union(b)
	if got := u.Members(); !equalInts(got, []int{0, 1, 2, 3, 4}) {
		t.Fatalf("Union = %v", got)
	}

	i := a.Intersect(b)
	if got := i.Members(); !equalInts(got, []int{2}) {
		t.Fatalf("Intersect = %v", got)
	}

	inv := a.Invert()
	if got := inv.Members(); !equalInts(got, []int{3, 4, 5, 6, 7}) {
		t.Fatalf("Invert = %v", got)
	}
}

func TestContextSetSubsetEqual(t *testing.T) {
	a := FromMembers(8, []int{1, 2})
	b := FromMembers(8, []int{1, 2, 3})
	if !a.Subset(b) {
		t.Fatalf("a should be subset of b")
	}
	if b.Subset(a) {
		t.Fatalf("b should not be subset of a")
	}
	if a.Equal(b) {
		t.Fatalf("a should not equal b")
	}
	if !a.Equal(a.Clone()) {
		t.Fatalf("clone should be equal")
	}
}

func TestContextSetCapacityMismatchNeverEqual(t *testing.T) {
	a := NewContextSet(8)
	b := NewContextSet(16)
	if a.Equal(b) {
		t.Fatalf("sets of differing capacity must never be equal")
	}
}

func TestContextSetHashStable(t *testing.T) {
	a := FromMembers(70, []int{0, 63, 64, 69})
	b := FromMembers(70, []int{0, 63, 64, 69})
	if a.Hash() != b.Hash() {
		t.Fatalf("identical sets must hash identically")
	}
	c := FromMembers(70, []int{0, 63, 64})
	if a.Hash() == c.Hash() {
		t.Fatalf("different sets should (almost certainly) hash differently")
	}
}

func TestContextSetFull(t *testing.T) {
	f := Full(5)
	if f.Cardinality() != 5 {
		t.Fatalf("Full(5) cardinality = %d, want 5", f.Cardinality())
	}
	if !f.Invert().Empty() {
		t.Fatalf("complement of Full should be empty")
	}
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

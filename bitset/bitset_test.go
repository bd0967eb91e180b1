package bitset_test

import (
	"testing"

	"github.com/kp1181/scool/bitset"
)

func TestAddContainsRemove(t *testing.T) {
	s := bitset.New(8)
	s.Add(2)
	s.Add(5)
	if !s.Contains(2) || !s.Contains(5) {
		t.Fatal("expected 2 and 5 to be in the set")
	}
	if s.Contains(3) {
		t.Fatal("did not expect 3 to be in the set")
	}
	if got, want := s.PopCount(), uint(2); got != want {
		t.Errorf("got %d, want %d", got, want)
	}
	s.Remove(2)
	if s.Contains(2) {
		t.Fatal("expected 2 to be removed")
	}
}

func TestOrIntoMonotonic(t *testing.T) {
	a := bitset.New(4)
	a.Add(0)
	b := bitset.New(4)
	b.Add(0)
	b.Add(3)
	a.OrInto(b)
	if a.PopCount() != 2 || !a.Contains(3) {
		t.Fatalf("expected a to contain {0,3} after OrInto, got %v", a)
	}
}

func TestAndOrXorComplement(t *testing.T) {
	a := bitset.New(4)
	a.Add(0)
	a.Add(1)
	b := bitset.New(4)
	b.Add(1)
	b.Add(2)

	and := a.And(b)
	if and.PopCount() != 1 || !and.Contains(1) {
		t.Errorf("And: got %v", and)
	}
	or := a.Or(b)
	if or.PopCount() != 3 {
		t.Errorf("Or: got %v", or)
	}
	xor := a.Xor(b)
	if xor.PopCount() != 2 || xor.Contains(1) {
		t.Errorf("Xor: got %v", xor)
	}
	comp := a.Complement()
	if comp.Contains(0) || comp.Contains(1) || !comp.Contains(2) || !comp.Contains(3) {
		t.Errorf("Complement: got %v", comp)
	}
}

func TestFullBitmapPopCount(t *testing.T) {
	// Mirrors S4: once every peer's bit is set the bitmap is "full".
	n := uint(3)
	s := bitset.New(n)
	for i := uint(0); i < n; i++ {
		s.Add(i)
	}
	if s.PopCount() != n {
		t.Fatalf("expected full bitmap, got %v", s)
	}
}

func TestEqualAndLess(t *testing.T) {
	a := bitset.New(4)
	a.Add(1)
	b := bitset.New(4)
	b.Add(1)
	if !a.Equal(b) {
		t.Fatal("expected a == b")
	}
	c := bitset.New(4)
	c.Add(2)
	if !a.Less(c) {
		t.Fatal("expected {1} < {2}")
	}
	if c.Less(a) {
		t.Fatal("expected {2} not < {1}")
	}
}

func TestBytesRoundTrip(t *testing.T) {
	s := bitset.New(10)
	s.Add(0)
	s.Add(9)
	b := s.Bytes()
	if got, want := len(b), 2; got != want {
		t.Fatalf("got %d bytes, want %d", got, want)
	}
	got := bitset.FromBytes(10, b)
	if !got.Equal(s) {
		t.Fatalf("round trip mismatch: got %v, want %v", got, s)
	}
}

func TestHashStable(t *testing.T) {
	a := bitset.New(16)
	a.Add(3)
	a.Add(9)
	b := bitset.New(16)
	b.Add(9)
	b.Add(3)
	if a.Hash() != b.Hash() {
		t.Fatal("expected equal sets to hash equally")
	}
}

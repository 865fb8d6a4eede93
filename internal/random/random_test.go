package random

import "testing"

func TestUintRangeStaysInClosedRange(t *testing.T) {
	r := New(7)
	sawLo, sawHi := false, false
	for i := 0; i < 2000; i++ {
		v := r.UintRange(3, 6)
		if v < 3 || v > 6 {
			t.Fatalf("value out of range: %d", v)
		}
		if v == 3 {
			sawLo = true
		}
		if v == 6 {
			sawHi = true
		}
	}
	if !sawLo || !sawHi {
		t.Fatalf("expected both bounds to be drawn, lo=%t hi=%t", sawLo, sawHi)
	}
	if got := r.UintRange(9, 9); got != 9 {
		t.Fatalf("degenerate range: got %d", got)
	}
}

func TestSameSeedSameStream(t *testing.T) {
	a, b := New(42), New(42)
	for i := 0; i < 50; i++ {
		if a.UintRange(0, 1000) != b.UintRange(0, 1000) {
			t.Fatalf("streams diverged at draw %d", i)
		}
	}
}

func TestPBounds(t *testing.T) {
	r := New(1)
	for i := 0; i < 100; i++ {
		if r.P(0) {
			t.Fatal("P(0) returned true")
		}
		if !r.P(1) {
			t.Fatal("P(1) returned false")
		}
	}
}

func TestShuffleIsPermutation(t *testing.T) {
	r := New(3)
	values := []int{0, 1, 2, 3, 4, 5, 6, 7}
	r.Shuffle(len(values), func(i, j int) { values[i], values[j] = values[j], values[i] })
	seen := make(map[int]bool, len(values))
	for _, v := range values {
		if seen[v] {
			t.Fatalf("duplicate after shuffle: %v", values)
		}
		seen[v] = true
	}
	if len(seen) != 8 {
		t.Fatalf("lost values after shuffle: %v", values)
	}
}

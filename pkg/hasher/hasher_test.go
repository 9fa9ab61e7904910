// Copyright 2025 Trustcompute Protocol

package hasher

import "testing"

func TestOf_Constant(t *testing.T) {
	a := Of([]byte("hello"))
	b := Of([]byte("hello"))
	if a != b {
		t.Fatalf("digest(b) not constant: %x != %x", a, b)
	}
}

func TestOfConcat_NonCommutative(t *testing.T) {
	a := Of([]byte("alpha"))
	b := Of([]byte("beta"))

	ab := OfConcat(a[:], b[:])
	ba := OfConcat(b[:], a[:])

	if ab == ba {
		t.Fatalf("expected non-commutative concatenation, got equal digests")
	}
}

func TestPair_MatchesOfConcat(t *testing.T) {
	a := Of([]byte("left"))
	b := Of([]byte("right"))

	want := OfConcat(a[:], b[:])
	got := Pair(a, b)

	if got != want {
		t.Fatalf("Pair mismatch: got %x, want %x", got, want)
	}
}

func TestPutUint64_BigEndian(t *testing.T) {
	got := PutUint64(nil, 1)
	want := []byte{0, 0, 0, 0, 0, 0, 0, 1}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("byte %d mismatch: got %d, want %d", i, got[i], want[i])
		}
	}
}

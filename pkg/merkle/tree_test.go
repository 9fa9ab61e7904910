// Copyright 2025 Trustcompute Protocol

package merkle

import (
	"testing"

	"github.com/trustcompute/protocol/pkg/hasher"
)

func digests(n int) []hasher.Digest {
	out := make([]hasher.Digest, n)
	for i := range out {
		out[i] = hasher.Of([]byte{byte(i)})
	}
	return out
}

func TestBuild_SingleLeaf(t *testing.T) {
	leaves := digests(1)
	tree, err := Build(leaves)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if tree.Root() != leaves[0] {
		t.Fatalf("single-leaf root mismatch: got %x, want %x", tree.Root(), leaves[0])
	}
}

func TestBuild_TwoLeaves(t *testing.T) {
	leaves := digests(2)
	tree, err := Build(leaves)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	want := hasher.Pair(leaves[0], leaves[1])
	if tree.Root() != want {
		t.Fatalf("two-leaf root mismatch: got %x, want %x", tree.Root(), want)
	}
}

func TestBuild_OddLeaves_DuplicatesLast(t *testing.T) {
	leaves := digests(3)
	tree, err := Build(leaves)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	l01 := hasher.Pair(leaves[0], leaves[1])
	l22 := hasher.Pair(leaves[2], leaves[2])
	want := hasher.Pair(l01, l22)
	if tree.Root() != want {
		t.Fatalf("odd-leaf root mismatch: got %x, want %x", tree.Root(), want)
	}
}

func TestProve_VerifyRoundTrip(t *testing.T) {
	leaves := digests(1024)
	tree, err := Build(leaves)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	for _, idx := range []int{0, 1, 511, 512, 1023} {
		proof, err := tree.Prove(idx)
		if err != nil {
			t.Fatalf("prove(%d): %v", idx, err)
		}
		if !Verify(leaves[idx], proof, tree.Root()) {
			t.Fatalf("verify(%d) failed", idx)
		}
		if !proof.VerifySelf() {
			t.Fatalf("verifySelf(%d) failed", idx)
		}
	}
}

func TestVerify_RejectsWrongLeaf(t *testing.T) {
	leaves := digests(8)
	tree, err := Build(leaves)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	proof, err := tree.Prove(3)
	if err != nil {
		t.Fatalf("prove: %v", err)
	}

	wrongLeaf := hasher.Of([]byte("not the leaf"))
	if Verify(wrongLeaf, proof, tree.Root()) {
		t.Fatalf("expected verification failure for substituted leaf")
	}
}

func TestBuild_EmptyRejected(t *testing.T) {
	if _, err := Build(nil); err != ErrEmptyTree {
		t.Fatalf("expected ErrEmptyTree, got %v", err)
	}
}

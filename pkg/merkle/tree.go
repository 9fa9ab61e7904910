// Copyright 2025 Trustcompute Protocol
//
// Execution Trace Merkle Tree
//
// The bisection engine (pkg/bisection) commits an executor to the full
// sequence of per-step state digests produced by the sandbox (pkg/wasmsbx)
// by building a binary Merkle tree over them. Each round of bisection
// narrows the disputed range; the final single-step adjudication proves a
// disputed state digest against this tree with an inclusion proof, so that
// neither party can substitute a different step after the fact.
//
// Construction: SHA-256(left || right), duplicating the last leaf when a
// level has odd width — per spec, no length prefixes, no tags.

package merkle

import (
	"errors"
	"fmt"
	"sync"

	"github.com/trustcompute/protocol/pkg/hasher"
)

// Errors returned by tree construction and proof generation.
var (
	ErrEmptyTree    = errors.New("merkle: cannot build a tree from zero leaves")
	ErrLeafNotFound = errors.New("merkle: leaf not found in tree")
)

// Side indicates which side of a node a sibling occupies in a proof path.
type Side bool

const (
	SideLeft  Side = false
	SideRight Side = true
)

// ProofStep is one sibling hash on the path from a leaf to the root.
type ProofStep struct {
	Sibling hasher.Digest
	Side    Side // side of the SIBLING relative to the node being climbed
}

// Tree is a binary Merkle tree over a sequence of leaf digests (the
// per-step state digests of an execution trace).
type Tree struct {
	mu     sync.RWMutex
	leaves []hasher.Digest
	levels [][]hasher.Digest
	root   hasher.Digest
}

// Build constructs a Tree from an ordered sequence of leaf digests. Leaves
// correspond 1:1 to trace step indices [0, len(leaves)).
func Build(leaves []hasher.Digest) (*Tree, error) {
	if len(leaves) == 0 {
		return nil, ErrEmptyTree
	}

	t := &Tree{
		leaves: append([]hasher.Digest(nil), leaves...),
	}
	t.build()
	return t, nil
}

func (t *Tree) build() {
	level := append([]hasher.Digest(nil), t.leaves...)
	t.levels = [][]hasher.Digest{level}

	for len(level) > 1 {
		next := make([]hasher.Digest, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, hasher.Pair(level[i], level[i+1]))
			} else {
				next = append(next, hasher.Pair(level[i], level[i]))
			}
		}
		t.levels = append(t.levels, next)
		level = next
	}
	t.root = level[0]
}

// Root returns the tree's Merkle root.
func (t *Tree) Root() hasher.Digest {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.root
}

// LeafCount returns the number of leaves (trace steps) committed.
func (t *Tree) LeafCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.leaves)
}

// Leaf returns the leaf digest at the given step index.
func (t *Tree) Leaf(index int) (hasher.Digest, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if index < 0 || index >= len(t.leaves) {
		return hasher.Digest{}, fmt.Errorf("merkle: index %d out of range [0, %d)", index, len(t.leaves))
	}
	return t.leaves[index], nil
}

// Prove generates an inclusion proof for the leaf at the given step index.
func (t *Tree) Prove(index int) (*InclusionProof, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if index < 0 || index >= len(t.leaves) {
		return nil, fmt.Errorf("merkle: index %d out of range [0, %d)", index, len(t.leaves))
	}

	proof := &InclusionProof{
		LeafIndex: index,
		LeafHash:  t.leaves[index],
		Root:      t.root,
		TreeSize:  len(t.leaves),
	}

	cur := index
	for level := 0; level < len(t.levels)-1; level++ {
		nodes := t.levels[level]

		var siblingIdx int
		var side Side
		if cur%2 == 0 {
			siblingIdx = cur + 1
			side = SideRight
		} else {
			siblingIdx = cur - 1
			side = SideLeft
		}

		var sibling hasher.Digest
		if siblingIdx < len(nodes) {
			sibling = nodes[siblingIdx]
		} else {
			// odd tail: node was paired with itself
			sibling = nodes[cur]
			side = SideRight
		}

		proof.Path = append(proof.Path, ProofStep{Sibling: sibling, Side: side})
		cur /= 2
	}

	return proof, nil
}

// Copyright 2025 Trustcompute Protocol
//
// Inclusion proofs over an execution-trace Merkle tree. A proof is
// independently re-verifiable without trusting the tree or its builder:
// the verifier recomputes the root from the leaf and path alone (fail-closed).

package merkle

import (
	"crypto/subtle"

	"github.com/trustcompute/protocol/pkg/hasher"
)

// InclusionProof proves that LeafHash is the leaf at LeafIndex in a tree
// of TreeSize leaves whose root is Root.
type InclusionProof struct {
	LeafHash  hasher.Digest
	LeafIndex int
	Root      hasher.Digest
	Path      []ProofStep
	TreeSize  int
}

// Verify recomputes the root from leaf and path and compares it to
// expectedRoot using a constant-time comparison.
func Verify(leaf hasher.Digest, proof *InclusionProof, expectedRoot hasher.Digest) bool {
	if proof == nil {
		return subtle.ConstantTimeCompare(leaf[:], expectedRoot[:]) == 1
	}

	current := leaf
	for _, step := range proof.Path {
		if step.Side == SideRight {
			current = hasher.Pair(current, step.Sibling)
		} else {
			current = hasher.Pair(step.Sibling, current)
		}
	}

	return subtle.ConstantTimeCompare(current[:], expectedRoot[:]) == 1
}

// VerifySelf checks an InclusionProof's internal consistency: that
// recomputing from its own LeafHash along its own Path reaches its own
// Root. Useful once a proof has been decoded off the wire, before trusting
// any of its fields against external state.
func (p *InclusionProof) VerifySelf() bool {
	if p == nil {
		return false
	}
	return Verify(p.LeafHash, p, p.Root)
}

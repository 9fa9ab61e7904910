// Copyright 2025 Trustcompute Protocol
//
// The single-step witness: what a challenger or defender discloses during
// bisection once the dispute has narrowed to one instruction. The Open
// Question of witness shape (SPEC_FULL.md §9) is resolved here as the
// complete pre-step MachineState, not a minimal per-instruction slice —
// simpler to verify, at the cost of a larger on-chain disclosure.

package wasmsbx

import "github.com/trustcompute/protocol/pkg/hasher"

// StepWitness discloses the full machine state immediately before the
// disputed instruction.
type StepWitness struct {
	PreState MachineState
}

// Digest is the commitment a party makes to this witness before revealing
// it — the same per-step digest used throughout the execution trace's
// Merkle commitment (pkg/merkle).
func (w StepWitness) Digest() hasher.Digest {
	return w.PreState.Digest()
}

// AdjudicateStep is the on-chain (or off-chain, pre-dispute) single-step
// check: given the module and a witness claimed to match committedPreDigest,
// replay exactly one instruction and return the resulting state digest.
//
// A mismatched witness digest is rejected before any interpretation is
// attempted — the adjudicator must never run an instruction against state
// it cannot verify was actually committed to.
func AdjudicateStep(moduleBytes []byte, committedPreDigest hasher.Digest, witness StepWitness, fuelCap uint64, memCapBytes, maxOutput int) (hasher.Digest, error) {
	if witness.Digest() != committedPreDigest {
		return hasher.Digest{}, ErrStepFailed
	}

	m, err := Validate(moduleBytes)
	if err != nil {
		return hasher.Digest{}, err
	}

	vm := newVMFromState(m, witness.PreState, fuelCap, memCapBytes, maxOutput)
	if err := vm.Step(); err != nil {
		return hasher.Digest{}, err
	}
	return vm.State().Digest(), nil
}

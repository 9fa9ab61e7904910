// Copyright 2025 Trustcompute Protocol
//
// The direct dispute path: for small jobs (module and input both below
// DirectPathThreshold), a verifier's fraud claim is resolved by a single
// commit-reveal round plus one authoritative re-execution, skipping
// interactive bisection entirely — spec.md §4.E "Direct path (small
// jobs)."

package bisection

import (
	"context"
	"sync"
	"time"

	"github.com/trustcompute/protocol/pkg/escrow"
	"github.com/trustcompute/protocol/pkg/hasher"
	"github.com/trustcompute/protocol/pkg/identity"
	"github.com/trustcompute/protocol/pkg/wasmsbx"
)

// DirectPathThreshold is the size (in bytes) both the module and the
// input must be at or under for the direct path to apply (spec.md §4.E
// "both <= 1 KiB").
const DirectPathThreshold = 1024

// MinRevealDelay and MaxRevealDelay bound the commit-reveal window: long
// enough to prevent a challenger from front-running its own claim (MEV
// protection), short enough that a dispute cannot be held open
// indefinitely.
const (
	MinRevealDelay = 1 * time.Minute
	MaxRevealDelay = 30 * time.Minute
)

// DirectDisputePhase is the commit-reveal state of one direct dispute.
type DirectDisputePhase string

const (
	DirectPhaseCommitted DirectDisputePhase = "Committed"
	DirectPhaseResolved  DirectDisputePhase = "Resolved"
)

// DirectDispute is one in-flight commit-reveal dispute over a small job.
type DirectDispute struct {
	JobID       hasher.Digest
	Challenger  identity.Address
	Commitment  hasher.Digest
	CommittedAt time.Time
	Phase       DirectDisputePhase
}

// DirectEngine resolves small-job disputes via commit-reveal plus one
// authoritative execute call, applying the verdict through pkg/escrow.
type DirectEngine struct {
	mu        sync.Mutex
	disputes  map[hasher.Digest]*DirectDispute
	jobs      *escrow.Machine
	verifiers verifierClearer
}

// verifierClearer is the minimal surface DirectEngine needs from
// pkg/verifier, kept narrow so tests can supply a stub.
type verifierClearer interface {
	ClearResponsibility(identity.Address)
	RecordFraudDetected(identity.Address)
}

// NewDirectEngine constructs a DirectEngine wired to the job machine.
func NewDirectEngine(jobs *escrow.Machine, verifiers verifierClearer) *DirectEngine {
	return &DirectEngine{
		disputes:  make(map[hasher.Digest]*DirectDispute),
		jobs:      jobs,
		verifiers: verifiers,
	}
}

// Eligible reports whether a job qualifies for the direct path: both its
// module and input are at or under DirectPathThreshold.
func Eligible(moduleSize, inputSize int) bool {
	return moduleSize <= DirectPathThreshold && inputSize <= DirectPathThreshold
}

// CommitmentHash binds a claim to the challenger's identity before reveal,
// per spec.md §4.E: SHA-256(moduleBytes || inputBytes || claimedOutput ||
// challenger || nonce).
func CommitmentHash(moduleBytes, inputBytes, claimedOutput []byte, challenger identity.Address, nonce uint64) hasher.Digest {
	buf := append([]byte(nil), moduleBytes...)
	buf = append(buf, inputBytes...)
	buf = append(buf, claimedOutput...)
	buf = append(buf, challenger[:]...)
	buf = hasher.PutUint64(buf, nonce)
	return hasher.Of(buf)
}

// CommitFraud opens a direct dispute by recording commitment, without
// disclosing the claim itself.
func (e *DirectEngine) CommitFraud(jobID hasher.Digest, challenger identity.Address, commitment hasher.Digest, now time.Time) (DirectDispute, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.disputes[jobID]; exists {
		return DirectDispute{}, ErrChallengeResolved
	}
	d := &DirectDispute{
		JobID:       jobID,
		Challenger:  challenger,
		Commitment:  commitment,
		CommittedAt: now,
		Phase:       DirectPhaseCommitted,
	}
	e.disputes[jobID] = d
	return *d, nil
}

// RevealFraud discloses the module bytes, input bytes, and claimed output
// that commitment covered, re-executes the module through pkg/wasmsbx
// with the job's own resource caps, and compares the result to the
// executor's receipt:
//
//   - digests differ: the executor is slashed, bounty to this challenger.
//   - digests equal: the challenger's stake is forfeited (no fraud).
//   - admission fails: the job is aborted (half-slash), per the
//     "inadmissible module" end-to-end scenario.
func (e *DirectEngine) RevealFraud(ctx context.Context, jobID hasher.Digest, moduleBytes, inputBytes, claimedOutput []byte, nonce uint64, now time.Time) (bool, error) {
	e.mu.Lock()
	d, ok := e.disputes[jobID]
	if !ok {
		e.mu.Unlock()
		return false, ErrChallengeNotFound
	}
	if d.Phase != DirectPhaseCommitted {
		e.mu.Unlock()
		return false, ErrChallengeResolved
	}
	delaySince := now.Sub(d.CommittedAt)
	if delaySince < MinRevealDelay {
		e.mu.Unlock()
		return false, ErrRevealTooEarly
	}
	if delaySince > MaxRevealDelay {
		e.mu.Unlock()
		return false, ErrRevealTooLate
	}
	expected := CommitmentHash(moduleBytes, inputBytes, claimedOutput, d.Challenger, nonce)
	if expected != d.Commitment {
		e.mu.Unlock()
		return false, ErrCommitRevealMismatch
	}
	d.Phase = DirectPhaseResolved
	challenger := d.Challenger
	delete(e.disputes, jobID)
	e.mu.Unlock()

	job, err := e.jobs.Job(jobID)
	if err != nil {
		return false, err
	}

	sandbox, err := wasmsbx.NewSandbox(moduleBytes)
	if err != nil {
		if _, aerr := e.jobs.ApplyAbort(ctx, jobID, now); aerr != nil {
			return false, aerr
		}
		if e.verifiers != nil {
			e.verifiers.ClearResponsibility(challenger)
		}
		return false, nil
	}

	limits := wasmsbx.Limits{FuelCap: job.FuelLimit, MemCap: job.MemLimit, MaxOutput: job.MaxOutputSize}
	result, err := sandbox.Execute(inputBytes, limits)
	if err != nil {
		// Deterministic resource exhaustion/trap is not fraud: the
		// executor is bound by it, but it does not establish a wrong
		// receipt either. Treat as the challenger losing its stake.
		if e.verifiers != nil {
			e.verifiers.ClearResponsibility(challenger)
		}
		return false, nil
	}

	resultDigest := hasher.Of(result.Output)

	if resultDigest != job.OutputDigest {
		// The executor's receipt disagrees with authoritative
		// re-execution: fraud confirmed.
		if _, err := e.jobs.ApplyFraudSlash(ctx, jobID, challenger, now); err != nil {
			return false, err
		}
		if e.verifiers != nil {
			e.verifiers.RecordFraudDetected(challenger)
			e.verifiers.ClearResponsibility(challenger)
		}
		return true, nil
	}

	// The executor's receipt was right; the challenger loses. Its stake
	// forfeiture runs through the same ledger debit as a bisection loss,
	// but since no Challenge/ChallengeStake exists for the direct path,
	// the caller (the server handler layer, per SPEC_FULL.md §4.G) is
	// responsible for the associated ledger transfer using the challenge
	// stake it collected at CommitFraud time.
	if e.verifiers != nil {
		e.verifiers.ClearResponsibility(challenger)
	}
	return false, nil
}

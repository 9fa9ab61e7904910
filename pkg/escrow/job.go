// Copyright 2025 Trustcompute Protocol
//
// Job is the primary entity of the protocol core: the record a client
// funds, an executor accepts and proves, and that either settles or is
// slashed. Its status graph and the ValidTransitions table it is checked
// against are generalized from pkg/proof/lifecycle.go's
// ProofLifecycleManager (state, ValidTransitions, StateChangeListener)
// from proof-artifact custody states to job-escrow states.

package escrow

import (
	"math/big"
	"time"

	"github.com/trustcompute/protocol/pkg/hasher"
	"github.com/trustcompute/protocol/pkg/identity"
)

// Status is one node in the job's state graph.
type Status string

const (
	StatusCreated   Status = "Created"
	StatusAccepted  Status = "Accepted"
	StatusReceipt   Status = "Receipt"
	StatusFinalized Status = "Finalized"
	StatusSlashed   Status = "Slashed"
	StatusCancelled Status = "Cancelled"
	StatusAborted   Status = "Aborted"
)

// StateTransition is one edge of the allowed status graph.
type StateTransition struct {
	From Status
	To   Status
}

// ValidTransitions enumerates every edge of spec.md §4.C's state graph.
// Terminal states (Finalized, Slashed, Cancelled, Aborted) have no
// outgoing edges — they are absorbing, per the monotone-progression
// invariant.
var ValidTransitions = []StateTransition{
	{StatusCreated, StatusAccepted},
	{StatusCreated, StatusCancelled},
	{StatusAccepted, StatusReceipt},
	{StatusAccepted, StatusAborted},
	{StatusReceipt, StatusFinalized},
	{StatusReceipt, StatusSlashed},
	{StatusReceipt, StatusAborted},
}

func isValidTransition(from, to Status) bool {
	for _, t := range ValidTransitions {
		if t.From == from && t.To == to {
			return true
		}
	}
	return false
}

// Job is the primary entity described in spec.md §3.
type Job struct {
	ID       hasher.Digest
	Client   identity.Address
	Executor identity.Address // zero until Accepted

	PayToken  string
	PayAmount *big.Int

	ClientBond         *big.Int
	ExecutorCollateral *big.Int // set on acceptance, = 2 * PayAmount

	ModuleDigest hasher.Digest
	InputDigest  hasher.Digest
	OutputDigest hasher.Digest // zero until a receipt is accepted

	AcceptDeadline   time.Time
	FinalizeDeadline time.Time

	FuelLimit     uint64
	MemLimit      int
	MaxOutputSize int

	Status Status

	PrimaryVerifiers []identity.Address
	BackupVerifiers  []identity.Address

	Nonce            uint64
	ReceiptSignature []byte

	CreatedAt time.Time
}

// Identifier computes the job identifier: SHA-256 over the concatenation
// of the module digest, input digest, client address, and nonce, each a
// fixed-width field — spec.md §3 invariant (e): "identifier is a pure
// function of its hashed components."
func Identifier(moduleDigest, inputDigest hasher.Digest, client identity.Address, nonce uint64) hasher.Digest {
	buf := make([]byte, 0, hasher.Size*2+len(client)+8)
	buf = append(buf, moduleDigest[:]...)
	buf = append(buf, inputDigest[:]...)
	buf = append(buf, client[:]...)
	buf = hasher.PutUint64(buf, nonce)
	return hasher.Of(buf)
}

// ReceiptSigningHash is the canonical tuple an executor's receipt
// signature covers: jobID || moduleDigest || inputDigest || outputDigest
// || executor identity, per spec.md §3 "Receipt".
func ReceiptSigningHash(jobID, moduleDigest, inputDigest, outputDigest hasher.Digest, executor identity.Address) hasher.Digest {
	buf := make([]byte, 0, hasher.Size*4+len(executor))
	buf = append(buf, jobID[:]...)
	buf = append(buf, moduleDigest[:]...)
	buf = append(buf, inputDigest[:]...)
	buf = append(buf, outputDigest[:]...)
	buf = append(buf, executor[:]...)
	return hasher.Of(buf)
}

// clone returns a deep-enough copy of j so callers holding a returned Job
// cannot mutate the machine's internal record through shared slices/big.Ints.
func (j Job) clone() Job {
	cp := j
	if j.PayAmount != nil {
		cp.PayAmount = new(big.Int).Set(j.PayAmount)
	}
	if j.ClientBond != nil {
		cp.ClientBond = new(big.Int).Set(j.ClientBond)
	}
	if j.ExecutorCollateral != nil {
		cp.ExecutorCollateral = new(big.Int).Set(j.ExecutorCollateral)
	}
	cp.PrimaryVerifiers = append([]identity.Address(nil), j.PrimaryVerifiers...)
	cp.BackupVerifiers = append([]identity.Address(nil), j.BackupVerifiers...)
	cp.ReceiptSignature = append([]byte(nil), j.ReceiptSignature...)
	return cp
}

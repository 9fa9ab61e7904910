// Copyright 2025 Trustcompute Protocol
//
// The abstract ledger interface consumed by the job state machine (C),
// the verifier set (D), and the bisection engine (E): signed transfers
// between named accounts, atomic debit/credit, a verifiable-randomness
// request/callback mechanism, and a history of recent block digests for
// the committee-selection fallback seed. No specific chain is assumed —
// two realizations are provided: Memory (tests, in-process) and the
// CometBFT ABCI adapter (pkg/abci).

package ledger

import (
	"context"
	"math/big"

	"github.com/trustcompute/protocol/pkg/hasher"
	"github.com/trustcompute/protocol/pkg/identity"
)

// RandomnessRequestID identifies one outstanding randomness request.
type RandomnessRequestID uint64

// Ledger is the capability every other component depends on rather than
// talking to a specific chain directly.
type Ledger interface {
	// Transfer atomically moves amount of token from one account to
	// another. A negative or zero amount is rejected by the
	// implementation with ErrInvalidAmount.
	Transfer(ctx context.Context, token string, from, to identity.Address, amount *big.Int) error

	// BalanceOf returns an account's current balance in token.
	BalanceOf(ctx context.Context, token string, account identity.Address) (*big.Int, error)

	// RequestRandomness asks the ledger's randomness source for a fresh
	// 256-bit seed bound to subject (typically a job identifier). Every
	// call issues a new request ID; repeated requests for the same
	// subject are not merged.
	RequestRandomness(ctx context.Context, subject hasher.Digest) (RandomnessRequestID, error)

	// Randomness polls a previously requested seed. ok is false if the
	// randomness source has not yet delivered it — callers use the
	// fallback seed (BlockDigestHistory) after a grace window in that
	// case, per the selection algorithm's liveness fallback.
	Randomness(ctx context.Context, id RandomnessRequestID) (seed [32]byte, ok bool, err error)

	// BlockDigestHistory returns up to depth of the most recent block
	// digests, most recent first, for the deterministic fallback seed.
	BlockDigestHistory(ctx context.Context, depth int) ([]hasher.Digest, error)
}

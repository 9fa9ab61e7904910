// Copyright 2025 Trustcompute Protocol
//
// Challenge is the per-dispute state record driving interactive
// bisection, per spec.md §4.E and the design note in §9 ("Coroutine-
// shaped bisection... its authoritative form is event-driven: each round
// is a single state transition, and waiting is absence of a transition
// before a deadline"). The Phase graph generalizes the same
// ValidTransitions-table pattern pkg/escrow uses for jobs
// (pkg/proof/lifecycle.go's lineage), with its own transition set.

package bisection

import (
	"math/big"
	"time"

	"github.com/trustcompute/protocol/pkg/hasher"
	"github.com/trustcompute/protocol/pkg/identity"
)

// MaxRounds bounds a bisection: sufficient for traces up to 2^20 steps
// (spec.md §4.E).
const MaxRounds = 20

// DefaultRoundTimeout is the per-round deadline for an executor's
// mid-state publication (spec.md §4.E).
const DefaultRoundTimeout = 5 * time.Minute

// EscalationThresholdRound is the round beyond which the challenger must
// post additional, geometrically escalating stake to continue (spec.md
// §4.E, default 5).
const EscalationThresholdRound = 5

// EscalationFactor is the per-round stake multiplier beyond the
// threshold round.
const EscalationFactor = 2

// Phase is one node of a Challenge's state graph.
type Phase string

const (
	PhaseOpened             Phase = "Opened"
	PhaseExecutorResponded  Phase = "ExecutorResponded"
	PhaseChallengerPicked   Phase = "ChallengerPicked"
	PhaseNarrowed           Phase = "Narrowed"
	PhaseResolvedFraud      Phase = "Resolved(Fraud)"
	PhaseResolvedNoFraud    Phase = "Resolved(NoFraud)"
)

func (p Phase) resolved() bool {
	return p == PhaseResolvedFraud || p == PhaseResolvedNoFraud
}

// Challenge is one bisection dispute in flight over a single job.
type Challenge struct {
	JobID      hasher.Digest
	Challenger identity.Address
	Executor   identity.Address

	Round int

	// Start and End (over an inclusive index space [0, TotalSteps]) bound
	// the disputed range. LowDigest/HighDigest are the endpoint state
	// digests both parties currently agree are the right ones to narrow
	// between — per-round invariant of spec.md §4.E.
	Start, End uint64
	TotalSteps uint64

	LowDigest  hasher.Digest
	HighDigest hasher.Digest

	ExecutorMidDigest   hasher.Digest
	ChallengerMidDigest hasher.Digest

	FinalStateRoot hasher.Digest

	Phase         Phase
	RoundDeadline time.Time

	ChallengeStake  *big.Int
	EscalationStake *big.Int

	Resolved bool
}

func (c Challenge) clone() Challenge {
	cp := c
	if c.ChallengeStake != nil {
		cp.ChallengeStake = new(big.Int).Set(c.ChallengeStake)
	}
	if c.EscalationStake != nil {
		cp.EscalationStake = new(big.Int).Set(c.EscalationStake)
	}
	return cp
}

// mid returns the floor midpoint of the disputed range.
func (c Challenge) mid() uint64 {
	return (c.Start + c.End) / 2
}

// escalationStakeForRound returns the additional stake the challenger
// must post to proceed past round, geometric beyond
// EscalationThresholdRound, zero at or below it.
func escalationStakeForRound(baseStake *big.Int, round int) *big.Int {
	if round <= EscalationThresholdRound || baseStake == nil {
		return big.NewInt(0)
	}
	mult := new(big.Int).Exp(big.NewInt(EscalationFactor), big.NewInt(int64(round-EscalationThresholdRound)), nil)
	return new(big.Int).Mul(baseStake, mult)
}

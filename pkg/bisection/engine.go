// Copyright 2025 Trustcompute Protocol
//
// Engine drives interactive bisection to a verdict and applies it through
// pkg/escrow (slashing/bounty) and pkg/verifier (non-response penalties,
// fraud-detected counters), per spec.md §4.E: "the engine either decides
// directly... or drives a bisection, terminating in a single-instruction
// adjudication." Each round is one call into Engine, never a long-lived
// goroutine — "waiting" is simply the absence of the next call before
// RoundDeadline, per spec.md §9's design note.

package bisection

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/trustcompute/protocol/pkg/escrow"
	"github.com/trustcompute/protocol/pkg/hasher"
	"github.com/trustcompute/protocol/pkg/identity"
	"github.com/trustcompute/protocol/pkg/ledger"
	"github.com/trustcompute/protocol/pkg/merkle"
	"github.com/trustcompute/protocol/pkg/verifier"
	"github.com/trustcompute/protocol/pkg/wasmsbx"
)

// Engine owns in-flight bisection challenges, one per job.
type Engine struct {
	mu         sync.Mutex
	challenges map[hasher.Digest]*Challenge

	jobs      *escrow.Machine
	verifiers *verifier.Registry
	ledger    ledger.Ledger
	modules   *escrow.ModuleRegistry

	escrowAccount identity.Address
}

// NewEngine constructs a bisection Engine wired to the job machine and
// verifier registry whose decisions it applies.
func NewEngine(jobs *escrow.Machine, verifiers *verifier.Registry, l ledger.Ledger, modules *escrow.ModuleRegistry, escrowAccount identity.Address) *Engine {
	return &Engine{
		challenges:    make(map[hasher.Digest]*Challenge),
		jobs:          jobs,
		verifiers:     verifiers,
		ledger:        l,
		modules:       modules,
		escrowAccount: escrowAccount,
	}
}

// Challenge returns a copy of the in-flight challenge for jobID, if any.
func (e *Engine) Challenge(jobID hasher.Digest) (Challenge, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.challenges[jobID]
	if !ok {
		return Challenge{}, false
	}
	return c.clone(), true
}

// InitiateBisection opens a challenge over a job's full execution trace.
// initialStateDigest is the undisputed pre-execution state (a pure
// function of the module and input, per spec.md §4.B); claimedFinalDigest
// is the executor's receipt-committed final state. totalSteps must fit
// within 2^MaxRounds.
func (e *Engine) InitiateBisection(ctx context.Context, jobID hasher.Digest, challenger, executor identity.Address, totalSteps uint64, finalStateRoot, initialStateDigest, claimedFinalDigest hasher.Digest, challengeStake *big.Int, now time.Time) (Challenge, error) {
	if totalSteps == 0 || totalSteps > (uint64(1)<<MaxRounds) {
		return Challenge{}, ErrTraceTooLarge
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.challenges[jobID]; exists {
		return Challenge{}, ErrChallengeResolved
	}

	c := &Challenge{
		JobID:           jobID,
		Challenger:      challenger,
		Executor:        executor,
		Round:           1,
		Start:           0,
		End:             totalSteps,
		TotalSteps:      totalSteps,
		LowDigest:       initialStateDigest,
		HighDigest:      claimedFinalDigest,
		FinalStateRoot:  finalStateRoot,
		Phase:           PhaseOpened,
		RoundDeadline:   now.Add(DefaultRoundTimeout),
		ChallengeStake:  bigOrZero(challengeStake),
		EscalationStake: big.NewInt(0),
	}
	e.challenges[jobID] = c
	return c.clone(), nil
}

// jobToken looks up the escrow token a job's stakes are denominated in.
// Bisection stakes always ride on the job's own payment token.
func (e *Engine) jobToken(jobID hasher.Digest) string {
	job, err := e.jobs.Job(jobID)
	if err != nil {
		return ""
	}
	return job.PayToken
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// ExecutorRespond publishes the executor's state digest at the current
// round's midpoint. Missing RoundDeadline before calling this is treated
// as concession by a separate call (ResolveExecutorTimeout).
func (e *Engine) ExecutorRespond(jobID hasher.Digest, midDigest hasher.Digest, now time.Time) (Challenge, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.challenges[jobID]
	if !ok {
		return Challenge{}, ErrChallengeNotFound
	}
	if c.Phase.resolved() {
		return Challenge{}, ErrChallengeResolved
	}
	if c.Phase != PhaseOpened {
		return Challenge{}, ErrNotInPhase
	}
	if now.After(c.RoundDeadline) {
		return Challenge{}, ErrRoundTimeout
	}

	c.ExecutorMidDigest = midDigest
	c.Phase = PhaseExecutorResponded
	c.RoundDeadline = now.Add(DefaultRoundTimeout)
	return c.clone(), nil
}

// ChallengerPick narrows the disputed range: pickFirstHalf selects
// [start, mid) when the challenger's own mid-state digest disagrees with
// the executor's; otherwise [mid, end). Past EscalationThresholdRound,
// additionalStake is added to EscalationStake as given (the caller moves
// it through the ledger before calling, mirroring how SubmitReceipt
// trusts an already-verified signature); at or below the threshold it is
// ignored. The amount is not checked against escalationStakeForRound, so
// a pick with less than that stake, or none, is still accepted.
func (e *Engine) ChallengerPick(jobID hasher.Digest, pickFirstHalf bool, challengerMidDigest hasher.Digest, additionalStake *big.Int, now time.Time) (Challenge, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.challenges[jobID]
	if !ok {
		return Challenge{}, ErrChallengeNotFound
	}
	if c.Phase.resolved() {
		return Challenge{}, ErrChallengeResolved
	}
	if c.Phase != PhaseExecutorResponded {
		return Challenge{}, ErrNotInPhase
	}
	if now.After(c.RoundDeadline) {
		return Challenge{}, ErrRoundTimeout
	}

	mid := c.mid()
	newStart, newEnd := c.Start, c.End
	if pickFirstHalf {
		newEnd = mid
	} else {
		newStart = mid
	}
	newRound := c.Round + 1

	// totalSteps <= 2^MaxRounds guarantees the range halves to width 1
	// within MaxRounds picks; this only trips if that invariant was
	// violated at InitiateBisection, and must reject before any mutation
	// so a rejected pick leaves the challenge exactly as it was.
	if newRound > MaxRounds && newEnd-newStart > 1 {
		return Challenge{}, ErrMaxRoundsExceeded
	}

	required := escalationStakeForRound(c.ChallengeStake, c.Round)
	if required.Sign() > 0 {
		c.EscalationStake.Add(c.EscalationStake, bigOrZero(additionalStake))
	}

	c.ChallengerMidDigest = challengerMidDigest
	c.Start, c.End = newStart, newEnd
	if pickFirstHalf {
		c.HighDigest = c.ExecutorMidDigest
	} else {
		c.LowDigest = c.ExecutorMidDigest
	}
	c.Round = newRound

	if c.End-c.Start == 1 {
		c.Phase = PhaseNarrowed
	} else {
		c.Phase = PhaseOpened
		c.RoundDeadline = now.Add(DefaultRoundTimeout)
	}
	return c.clone(), nil
}

// ResolveExecutorTimeout treats a missed round deadline as concession:
// full slash, bounty to the challenger (spec.md §4.E "Missing the
// timeout is treated as concession (full slash)").
func (e *Engine) ResolveExecutorTimeout(ctx context.Context, jobID hasher.Digest, now time.Time) (Challenge, error) {
	e.mu.Lock()
	c, ok := e.challenges[jobID]
	if !ok {
		e.mu.Unlock()
		return Challenge{}, ErrChallengeNotFound
	}
	if c.Phase.resolved() {
		e.mu.Unlock()
		return Challenge{}, ErrChallengeResolved
	}
	if c.Phase != PhaseOpened {
		e.mu.Unlock()
		return Challenge{}, ErrNotInPhase
	}
	if !now.After(c.RoundDeadline) {
		e.mu.Unlock()
		return Challenge{}, ErrNotInPhase
	}
	e.mu.Unlock()

	return e.finalizeFraud(ctx, c, now)
}

// ResolveChallengerTimeout lets the executor sweep the challenge stake
// when the challenger misses its pick; the job reverts to its
// pre-challenge trajectory (spec.md §4.E).
func (e *Engine) ResolveChallengerTimeout(ctx context.Context, jobID hasher.Digest, now time.Time) (Challenge, error) {
	e.mu.Lock()
	c, ok := e.challenges[jobID]
	if !ok {
		e.mu.Unlock()
		return Challenge{}, ErrChallengeNotFound
	}
	if c.Phase.resolved() {
		e.mu.Unlock()
		return Challenge{}, ErrChallengeResolved
	}
	if c.Phase != PhaseExecutorResponded {
		e.mu.Unlock()
		return Challenge{}, ErrNotInPhase
	}
	if !now.After(c.RoundDeadline) {
		e.mu.Unlock()
		return Challenge{}, ErrNotInPhase
	}
	c.Phase = PhaseResolvedNoFraud
	c.Resolved = true
	result := c.clone()
	delete(e.challenges, jobID)
	e.mu.Unlock()

	if e.verifiers != nil {
		e.verifiers.ClearResponsibility(c.Challenger)
	}
	total := new(big.Int).Add(bigOrZero(c.ChallengeStake), bigOrZero(c.EscalationStake))
	if total.Sign() > 0 && e.ledger != nil {
		_ = e.ledger.Transfer(ctx, e.jobToken(c.JobID), c.Challenger, c.Executor, total)
	}
	return result, nil
}

// ResolveBisection invokes the single-step adjudicator once the range has
// narrowed to one instruction (Phase Narrowed). witness must reproduce
// LowDigest's committed state; preProof/postProof prove LowDigest and
// HighDigest respectively belong to the committed FinalStateRoot at their
// trace indices. A mismatch between the adjudicator's recomputed
// post-digest and HighDigest confirms fraud; a match means the challenger
// loses.
func (e *Engine) ResolveBisection(ctx context.Context, jobID hasher.Digest, moduleBytes []byte, witness wasmsbx.StepWitness, preProof, postProof *merkle.InclusionProof, limits wasmsbx.Limits, now time.Time) (Challenge, error) {
	e.mu.Lock()
	c, ok := e.challenges[jobID]
	if !ok {
		e.mu.Unlock()
		return Challenge{}, ErrChallengeNotFound
	}
	if c.Phase.resolved() {
		e.mu.Unlock()
		return Challenge{}, ErrChallengeResolved
	}
	if c.Phase != PhaseNarrowed {
		e.mu.Unlock()
		return Challenge{}, ErrNotInPhase
	}
	low, high, root := c.LowDigest, c.HighDigest, c.FinalStateRoot
	e.mu.Unlock()

	if !merkle.Verify(low, preProof, root) {
		return Challenge{}, ErrInvalidMerkleProof
	}
	if !merkle.Verify(high, postProof, root) {
		return Challenge{}, ErrInvalidMerkleProof
	}

	postDigest, err := wasmsbx.AdjudicateStep(moduleBytes, low, witness, limits.FuelCap, limits.MemCap, limits.MaxOutput)
	if err != nil {
		var rej *wasmsbx.RejectedError
		if errors.As(err, &rej) {
			return e.finalizeAbort(ctx, c, now)
		}
		return Challenge{}, err
	}

	if postDigest != high {
		return e.finalizeFraud(ctx, c, now)
	}
	return e.finalizeNoFraud(ctx, c, now)
}

func (e *Engine) finalizeFraud(ctx context.Context, c *Challenge, now time.Time) (Challenge, error) {
	e.mu.Lock()
	c.Phase = PhaseResolvedFraud
	c.Resolved = true
	result := c.clone()
	delete(e.challenges, c.JobID)
	e.mu.Unlock()

	if _, err := e.jobs.ApplyFraudSlash(ctx, c.JobID, c.Challenger, now); err != nil {
		return Challenge{}, err
	}
	if e.verifiers != nil {
		e.verifiers.RecordFraudDetected(c.Challenger)
		e.verifiers.ClearResponsibility(c.Challenger)
	}
	// The challenger's accumulated escalation stakes are refunded on
	// proven fraud (spec.md §4.E); they were posted against the job's
	// token via the ledger and return here.
	if c.EscalationStake != nil && c.EscalationStake.Sign() > 0 && e.ledger != nil {
		_ = e.ledger.Transfer(ctx, e.jobToken(c.JobID), e.escrowAccount, c.Challenger, c.EscalationStake)
	}
	return result, nil
}

func (e *Engine) finalizeNoFraud(ctx context.Context, c *Challenge, now time.Time) (Challenge, error) {
	e.mu.Lock()
	c.Phase = PhaseResolvedNoFraud
	c.Resolved = true
	result := c.clone()
	delete(e.challenges, c.JobID)
	e.mu.Unlock()

	if e.verifiers != nil {
		e.verifiers.ClearResponsibility(c.Challenger)
	}
	// Challenger's stakes are forfeited to the executor (spec.md §4.E
	// direct-path equivalent: "digests equal -> challenger's stake
	// forfeited to the executor").
	total := new(big.Int).Add(bigOrZero(c.ChallengeStake), bigOrZero(c.EscalationStake))
	if total.Sign() > 0 && e.ledger != nil {
		_ = e.ledger.Transfer(ctx, e.jobToken(c.JobID), c.Challenger, c.Executor, total)
	}
	return result, nil
}

func (e *Engine) finalizeAbort(ctx context.Context, c *Challenge, now time.Time) (Challenge, error) {
	e.mu.Lock()
	c.Phase = PhaseResolvedNoFraud
	c.Resolved = true
	result := c.clone()
	delete(e.challenges, c.JobID)
	e.mu.Unlock()

	if e.verifiers != nil {
		e.verifiers.ClearResponsibility(c.Challenger)
	}
	if _, err := e.jobs.ApplyAbort(ctx, c.JobID, now); err != nil {
		return Challenge{}, err
	}
	return result, nil
}

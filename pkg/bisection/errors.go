// Copyright 2025 Trustcompute Protocol

package bisection

import "errors"

var (
	ErrRoundTimeout          = errors.New("bisection: round timeout")
	ErrInvalidMerkleProof    = errors.New("bisection: merkle inclusion proof failed to verify")
	ErrRangeAlreadyNarrowed  = errors.New("bisection: range already narrowed to a single step")
	ErrMaxRoundsExceeded     = errors.New("bisection: max rounds exceeded")
	ErrTraceTooLarge         = errors.New("bisection: totalSteps exceeds 2^MaxRounds")
	ErrNotInPhase            = errors.New("bisection: call not valid in current phase")
	ErrChallengeNotFound     = errors.New("bisection: challenge not found")
	ErrChallengeResolved     = errors.New("bisection: challenge already resolved")
	ErrNotAuthorized         = errors.New("bisection: caller not authorized for this call")
	ErrCommitRevealMismatch  = errors.New("bisection: revealed claim does not match commitment")
	ErrRevealTooEarly        = errors.New("bisection: reveal attempted before minimum delay")
	ErrRevealTooLate         = errors.New("bisection: reveal attempted after maximum delay")
	ErrJobNotEligible        = errors.New("bisection: job not eligible for the direct dispute path")
)

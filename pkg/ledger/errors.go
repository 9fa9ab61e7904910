// Copyright 2025 Trustcompute Protocol
//
// Package ledger provides sentinel errors for ledger operations —
// explicit errors instead of nil, nil returns.

package ledger

import "errors"

var (
	// ErrInsufficientFunds is returned when an account's balance cannot
	// cover a debit.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")

	// ErrInvalidAmount is returned for a zero or negative transfer amount.
	ErrInvalidAmount = errors.New("ledger: invalid amount")

	// ErrRandomnessNotReady reports a randomness request the source has
	// not fulfilled. Randomness itself signals that case with ok=false;
	// verifier selection returns this error while its grace window is open.
	ErrRandomnessNotReady = errors.New("ledger: randomness not yet delivered")

	// ErrUnknownRequest is returned by Randomness for an id the ledger
	// never issued.
	ErrUnknownRequest = errors.New("ledger: unknown randomness request")
)

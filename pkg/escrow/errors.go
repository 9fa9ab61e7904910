// Copyright 2025 Trustcompute Protocol

package escrow

import "errors"

// Sentinel errors for the job state machine and escrow, following the
// teacher's per-package errors.New convention (pkg/ledger/errors.go)
// rather than a shared error enum.
var (
	ErrInvalidTransition  = errors.New("escrow: invalid state transition")
	ErrDeadlineLapsed     = errors.New("escrow: deadline has lapsed")
	ErrDeadlineNotLapsed  = errors.New("escrow: deadline has not lapsed yet")
	ErrNotAuthorized      = errors.New("escrow: caller not authorized for this transition")
	ErrInsufficientFunds  = errors.New("escrow: insufficient escrowed funds")
	ErrDuplicateJob       = errors.New("escrow: job identifier already registered")
	ErrJobNotFound        = errors.New("escrow: job not found")
	ErrInvalidDeadlines   = errors.New("escrow: finalize deadline must be after accept deadline")
	ErrInvalidAmount      = errors.New("escrow: payment amount must be positive")
	ErrModuleTooLarge     = errors.New("escrow: module exceeds maximum size")
	ErrModuleNotFound     = errors.New("escrow: module digest not registered")
	ErrInputTooLarge      = errors.New("escrow: inline input exceeds maximum size")
	ErrReceiptExists      = errors.New("escrow: job already has a receipt")
	ErrBadSignature       = errors.New("escrow: receipt signature does not verify")
	ErrOutputDigestUnset  = errors.New("escrow: output digest not yet set")
)

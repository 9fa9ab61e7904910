// Copyright 2025 Trustcompute Protocol

package verifier

import "errors"

var (
	ErrAlreadyRegistered  = errors.New("verifier: already registered")
	ErrNotRegistered      = errors.New("verifier: not registered")
	ErrStakeTooLow        = errors.New("verifier: stake below minimum")
	ErrRegionConcentrated = errors.New("verifier: region already at concentration cap")
	ErrBanned             = errors.New("verifier: banned")
	ErrPendingResponsibilities = errors.New("verifier: cannot unregister with pending responsibilities")
	ErrInsufficientPool   = errors.New("verifier: not enough eligible verifiers to fill the committee")
	ErrDrawCapExceeded    = errors.New("verifier: selection draw cap exceeded")
)

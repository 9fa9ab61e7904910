// Copyright 2025 Trustcompute Protocol
//
// Sentinel errors for repository operations, mirroring the teacher's
// explicit-error-instead-of-nil-nil convention.

package database

import "errors"

var (
	// ErrNotFound is returned when a requested entity is not found.
	ErrNotFound = errors.New("entity not found")

	// ErrJobNotFound is returned when a job record is not found.
	ErrJobNotFound = errors.New("job not found")

	// ErrVerifierNotFound is returned when a verifier registration is not found.
	ErrVerifierNotFound = errors.New("verifier not found")

	// ErrChallengeNotFound is returned when a bisection challenge record is not found.
	ErrChallengeNotFound = errors.New("challenge not found")
)

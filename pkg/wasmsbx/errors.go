// Copyright 2025 Trustcompute Protocol

package wasmsbx

import "errors"

// RejectKind identifies why a module failed admission.
type RejectKind string

const (
	RejectOversizedModule    RejectKind = "OversizedModule"
	RejectInvalidMagic       RejectKind = "InvalidMagic"
	RejectUnsupportedVersion RejectKind = "UnsupportedVersion"
	RejectFloatOpcode        RejectKind = "FloatOpcode"
	RejectAtomicOpcode       RejectKind = "AtomicOpcode"
	RejectSIMDOpcode         RejectKind = "SIMDOpcode"
	RejectForbiddenImport    RejectKind = "ForbiddenImport"
	RejectMultipleMemories   RejectKind = "MultipleMemories"
	RejectMemoryTooLarge     RejectKind = "MemoryTooLarge"
	RejectMalformed          RejectKind = "Malformed"
	RejectUnsupportedOpcode  RejectKind = "UnsupportedOpcode"
)

// RejectedError reports that a module was rejected at admission, never
// executed. Admission is a pure function of the module bytes.
type RejectedError struct {
	Kind   RejectKind
	Detail string
}

func (e *RejectedError) Error() string {
	if e.Detail == "" {
		return "wasmsbx: rejected at admission: " + string(e.Kind)
	}
	return "wasmsbx: rejected at admission: " + string(e.Kind) + ": " + e.Detail
}

// Sentinel failure kinds for execution outcomes that are not admission
// rejections. All are deterministic and observable from inputs alone;
// none are retried inside the sandbox.
var (
	ErrFuelExhausted   = errors.New("wasmsbx: fuel exhausted")
	ErrMemoryExceeded  = errors.New("wasmsbx: memory limit exceeded")
	ErrTrap            = errors.New("wasmsbx: trap")
	ErrOutputTooLarge  = errors.New("wasmsbx: output exceeds maximum size")
	ErrStepFailed      = errors.New("wasmsbx: step witness inconsistent with pre-state")
	ErrEntryNotFound   = errors.New("wasmsbx: entry export not found")
	ErrEngineMismatch  = errors.New("wasmsbx: wasmer cross-check disagreed with reference interpreter")
)

//go:build wasmer

// Copyright 2025 Trustcompute Protocol
//
// Optional accelerated execute-only backend via wasmer-go, grounded on the
// retrieved executeWASM/executeNative split (see DESIGN.md): an attested,
// optimizing runtime is allowed to compute the answer faster, but it is
// never the arbiter of correctness. Its output is cross-checked against
// the reference interpreter on every call; any divergence is
// ErrEngineMismatch, never silently resolved in the accelerated engine's
// favor. Fuel accounting, step-level digests, and dispute adjudication
// always come from the reference interpreter — wasmer has no notion of
// either.
//
// Built only with -tags wasmer, since it pulls in cgo and the wasmer-go
// shared runtime; the reference interpreter alone is sufficient for
// correctness and is what every other build uses.

package wasmsbx

import (
	"fmt"

	wasmer "github.com/wasmerio/wasmer-go/wasmer"
)

// ExecuteAccelerated runs the module under wasmer-go and cross-checks its
// output against the reference interpreter's Execute. The reference
// interpreter's fuel/digest results are always what's returned; wasmer is
// consulted purely as a faster, attested second opinion.
func (s *Sandbox) ExecuteAccelerated(input []byte, limits Limits) (ExecutionResult, error) {
	reference, err := s.Execute(input, limits)
	if err != nil {
		return ExecutionResult{}, err
	}

	accelerated, err := runWasmer(s.moduleBytes, input, limits)
	if err != nil {
		// The accelerated path failing where the reference interpreter
		// succeeded is not itself proof of misbehavior (wasmer may lack
		// support for some admitted construct) — fall back silently to
		// the reference result.
		return reference, nil
	}

	if string(accelerated) != string(reference.Output) {
		return ExecutionResult{}, ErrEngineMismatch
	}
	return reference, nil
}

func runWasmer(moduleBytes, input []byte, limits Limits) ([]byte, error) {
	engine := wasmer.NewEngine()
	store := wasmer.NewStore(engine)

	module, err := wasmer.NewModule(store, moduleBytes)
	if err != nil {
		return nil, fmt.Errorf("wasmsbx: wasmer compile: %w", err)
	}

	importObject := wasmer.NewImportObject()
	instance, err := wasmer.NewInstance(module, importObject)
	if err != nil {
		return nil, fmt.Errorf("wasmsbx: wasmer instantiate: %w", err)
	}

	mem, err := instance.Exports.GetMemory("memory")
	if err != nil {
		return nil, fmt.Errorf("wasmsbx: wasmer has no exported memory: %w", err)
	}
	if mem.DataSize() < uint(OutputOffset+limits.MaxOutput) {
		if err := mem.Grow(1); err != nil {
			return nil, fmt.Errorf("wasmsbx: wasmer memory grow: %w", err)
		}
	}
	copy(mem.Data()[InputOffset:], input)

	entry, err := instance.Exports.GetFunction("execute")
	if err != nil {
		entry, err = instance.Exports.GetFunction("main")
		if err != nil {
			return nil, fmt.Errorf("wasmsbx: wasmer has no execute/main export: %w", err)
		}
	}

	result, err := entry(int32(InputOffset), int32(len(input)))
	if err != nil {
		return nil, fmt.Errorf("wasmsbx: wasmer execute trapped: %w", err)
	}

	outLen, ok := result.(int32)
	if !ok || outLen < 0 {
		return nil, fmt.Errorf("wasmsbx: wasmer returned non-i32 or negative length")
	}
	out := make([]byte, outLen)
	copy(out, mem.Data()[OutputOffset:int(OutputOffset)+int(outLen)])
	return out, nil
}

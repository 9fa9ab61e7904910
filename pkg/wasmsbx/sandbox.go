// Copyright 2025 Trustcompute Protocol
//
// Sandbox is the package's public surface: the three operations the rest
// of the protocol calls against a job's module bytes — validate, execute,
// and step. Every caller (executor, verifier, on-chain adjudicator) goes
// through this type so admission and interpretation can never drift
// between them.

package wasmsbx

import "github.com/trustcompute/protocol/pkg/hasher"

// Limits bounds one execution: fuel, linear-memory size, and output size.
// These are per-job parameters (set by the client at submission), clamped
// by the protocol-wide admission caps (MaxModuleSize, MaxMemoryBytes).
type Limits struct {
	FuelCap   uint64
	MemCap    int
	MaxOutput int
}

// ExecutionResult is what a full run-to-completion produces: the claimed
// output, the fuel actually consumed, and the final state digest a
// receipt commits to.
type ExecutionResult struct {
	Output     []byte
	FuelUsed   uint64
	FinalState hasher.Digest
}

// Sandbox wraps one admitted module, ready to be executed or single-stepped
// repeatedly (e.g. once by the executor to produce a receipt, then
// potentially many times by a verifier or bisection challenger).
type Sandbox struct {
	module      *Module
	moduleBytes []byte
}

// NewSandbox runs admission against moduleBytes and, on success, returns a
// Sandbox ready for Execute/Step. A rejected module never reaches either.
func NewSandbox(moduleBytes []byte) (*Sandbox, error) {
	m, err := Validate(moduleBytes)
	if err != nil {
		return nil, err
	}
	return &Sandbox{module: m, moduleBytes: moduleBytes}, nil
}

// Execute runs the module to completion against input, under the given
// limits, returning its output, fuel usage, and final state digest.
func (s *Sandbox) Execute(input []byte, limits Limits) (ExecutionResult, error) {
	vm, err := NewVM(s.module, input, limits.FuelCap, limits.MemCap, limits.MaxOutput)
	if err != nil {
		return ExecutionResult{}, err
	}
	output, fuelUsed, err := vm.Run()
	if err != nil {
		return ExecutionResult{}, err
	}
	return ExecutionResult{
		Output:     output,
		FuelUsed:   fuelUsed,
		FinalState: vm.State().Digest(),
	}, nil
}

// Trace runs the module to completion, recording the state digest after
// every instruction (including the initial, pre-execution digest as
// element zero). This is the leaf sequence a prover commits to via
// pkg/merkle before any dispute arises — never used on the hot path of an
// honest, undisputed job.
func (s *Sandbox) Trace(input []byte, limits Limits) ([]hasher.Digest, ExecutionResult, error) {
	vm, err := NewVM(s.module, input, limits.FuelCap, limits.MemCap, limits.MaxOutput)
	if err != nil {
		return nil, ExecutionResult{}, err
	}

	digests := []hasher.Digest{vm.State().Digest()}
	for !vm.State().Halted {
		if err := vm.Step(); err != nil {
			return digests, ExecutionResult{}, err
		}
		digests = append(digests, vm.State().Digest())
	}

	res := ExecutionResult{
		Output:     vm.State().Output,
		FuelUsed:   vm.State().Fuel,
		FinalState: vm.State().Digest(),
	}
	return digests, res, nil
}

// AdjudicateStep delegates to the package-level witness check, scoped to
// this sandbox's already-admitted module.
func (s *Sandbox) AdjudicateStep(committedPreDigest hasher.Digest, witness StepWitness, limits Limits) (hasher.Digest, error) {
	return AdjudicateStep(s.moduleBytes, committedPreDigest, witness, limits.FuelCap, limits.MemCap, limits.MaxOutput)
}

// Module exposes the parsed module for callers that need its shape (e.g.
// to report entry-point metadata); never its raw bytes mutated in place.
func (s *Sandbox) Module() *Module {
	return s.module
}

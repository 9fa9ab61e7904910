// Copyright 2025 Trustcompute Protocol

package wasmsbx

import (
	"bytes"
	"errors"
	"testing"
)

func defaultLimits(maxOutput int) Limits {
	return Limits{
		FuelCap:   10_000,
		MemCap:    1 << 20, // 1 MiB
		MaxOutput: maxOutput,
	}
}

func TestValidate_AcceptsEchoModule(t *testing.T) {
	m, err := Validate(buildEchoModule())
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	idx, sig, err := findEntryPoint(m)
	if err != nil {
		t.Fatalf("findEntryPoint: %v", err)
	}
	if idx != 0 {
		t.Fatalf("entry index = %d, want 0", idx)
	}
	if !isValidEntrySignature(sig) {
		t.Fatalf("entry signature rejected: %+v", sig)
	}
}

func TestValidate_RejectsOversizedModule(t *testing.T) {
	big := make([]byte, MaxModuleSize+1)
	_, err := Validate(big)
	var rej *RejectedError
	if !errors.As(err, &rej) || rej.Kind != RejectOversizedModule {
		t.Fatalf("got %v, want RejectOversizedModule", err)
	}
}

func TestValidate_RejectsBadMagic(t *testing.T) {
	b := buildConstModule(0xAB)
	b[0] = 0xFF
	_, err := Validate(b)
	var rej *RejectedError
	if !errors.As(err, &rej) || rej.Kind != RejectInvalidMagic {
		t.Fatalf("got %v, want RejectInvalidMagic", err)
	}
}

func TestValidate_RejectsForbiddenImport(t *testing.T) {
	m := buildConstModule(0x01)
	importSec := section(secImport, append(uleb(1),
		append(name("env"), append(name("log"), append([]byte{0x00}, uleb(0)...)...)...)...))

	// Splice an import section in right after the header, before type.
	header := append([]byte{}, m[:8]...)
	rest := m[8:]
	spliced := append(header, importSec...)
	spliced = append(spliced, rest...)

	_, err := Validate(spliced)
	var rej *RejectedError
	if !errors.As(err, &rej) || rej.Kind != RejectForbiddenImport {
		t.Fatalf("got %v, want RejectForbiddenImport", err)
	}
}

func TestSandbox_ExecuteEcho(t *testing.T) {
	sb, err := NewSandbox(buildEchoModule())
	if err != nil {
		t.Fatalf("NewSandbox: %v", err)
	}
	input := []byte("trustless-compute")
	res, err := sb.Execute(input, defaultLimits(len(input)))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !bytes.Equal(res.Output, input) {
		t.Fatalf("output = %q, want %q", res.Output, input)
	}
	if res.FuelUsed == 0 {
		t.Fatalf("expected nonzero fuel usage")
	}
}

func TestSandbox_Execute_Deterministic(t *testing.T) {
	sb, err := NewSandbox(buildEchoModule())
	if err != nil {
		t.Fatalf("NewSandbox: %v", err)
	}
	input := []byte("repeat-me")
	first, err := sb.Execute(input, defaultLimits(len(input)))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	second, err := sb.Execute(input, defaultLimits(len(input)))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if first.FinalState != second.FinalState {
		t.Fatalf("identical input produced different final state digests")
	}
	if first.FuelUsed != second.FuelUsed {
		t.Fatalf("identical input produced different fuel usage")
	}
}

func TestSandbox_FuelExhausted(t *testing.T) {
	sb, err := NewSandbox(buildEchoModule())
	if err != nil {
		t.Fatalf("NewSandbox: %v", err)
	}
	input := []byte("this input is long enough to need many loop iterations to copy")
	limits := defaultLimits(len(input))
	limits.FuelCap = 5
	_, err = sb.Execute(input, limits)
	if !errors.Is(err, ErrFuelExhausted) {
		t.Fatalf("got %v, want ErrFuelExhausted", err)
	}
}

func TestSandbox_OutputTooLarge(t *testing.T) {
	sb, err := NewSandbox(buildEchoModule())
	if err != nil {
		t.Fatalf("NewSandbox: %v", err)
	}
	input := []byte("more bytes than the output cap allows")
	limits := defaultLimits(4)
	_, err = sb.Execute(input, limits)
	if !errors.Is(err, ErrOutputTooLarge) {
		t.Fatalf("got %v, want ErrOutputTooLarge", err)
	}
}

func TestSandbox_Trace_StepsReplayToSameDigests(t *testing.T) {
	sb, err := NewSandbox(buildConstModule(0x7A))
	if err != nil {
		t.Fatalf("NewSandbox: %v", err)
	}
	limits := defaultLimits(1)
	digests, res, err := sb.Trace(nil, limits)
	if err != nil {
		t.Fatalf("Trace: %v", err)
	}
	if len(digests) < 2 {
		t.Fatalf("expected at least two recorded digests, got %d", len(digests))
	}
	if !bytes.Equal(res.Output, []byte{0x7A}) {
		t.Fatalf("output = %x, want 7a", res.Output)
	}

	// Replay the same module step by step from scratch and confirm every
	// intermediate digest matches the trace exactly.
	vm, err := NewVM(sb.module, nil, limits.FuelCap, limits.MemCap, limits.MaxOutput)
	if err != nil {
		t.Fatalf("NewVM: %v", err)
	}
	if vm.State().Digest() != digests[0] {
		t.Fatalf("initial digest mismatch")
	}
	for i := 1; i < len(digests); i++ {
		pre := vm.State().Clone()
		witness := StepWitness{PreState: pre}
		post, err := sb.AdjudicateStep(digests[i-1], witness, limits)
		if err != nil {
			t.Fatalf("AdjudicateStep at step %d: %v", i, err)
		}
		if post != digests[i] {
			t.Fatalf("step %d: adjudicated digest != traced digest", i)
		}
		if err := vm.Step(); err != nil && !errors.Is(err, ErrTrap) {
			t.Fatalf("vm.Step at step %d: %v", i, err)
		}
	}
}

func TestAdjudicateStep_RejectsMismatchedWitness(t *testing.T) {
	sb, err := NewSandbox(buildConstModule(0x01))
	if err != nil {
		t.Fatalf("NewSandbox: %v", err)
	}
	limits := defaultLimits(1)
	vm, err := NewVM(sb.module, nil, limits.FuelCap, limits.MemCap, limits.MaxOutput)
	if err != nil {
		t.Fatalf("NewVM: %v", err)
	}
	witness := StepWitness{PreState: vm.State().Clone()}
	var forgedDigest = witness.Digest()
	forgedDigest[0] ^= 0xFF

	_, err = sb.AdjudicateStep(forgedDigest, witness, limits)
	if !errors.Is(err, ErrStepFailed) {
		t.Fatalf("got %v, want ErrStepFailed", err)
	}
}

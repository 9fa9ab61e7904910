// Copyright 2025 Trustcompute Protocol
//
// Static admission: a pure function of module bytes. A rejected module
// never executes. This is the gate that makes the determinism contract
// hold for every participant — executor, verifier, and the on-chain
// adjudicator all run the identical admission check before execution.

package wasmsbx

const (
	// MaxModuleSize is the admission size cap (24 KiB, per spec).
	MaxModuleSize = 24 * 1024

	// wasmPageSize is the WASM linear-memory page size (64 KiB).
	wasmPageSize = 64 * 1024

	// MaxMemoryBytes is the configured cap on a single linear memory (64 MiB).
	MaxMemoryBytes = 64 * 1024 * 1024
	maxMemoryPages = MaxMemoryBytes / wasmPageSize
)

// EntryPoints are the fixed export names the sandbox will look for, in
// order of preference.
var EntryPoints = []string{"execute", "main"}

// Validate performs the full admission check against raw module bytes and
// returns the parsed Module on success, or a *RejectedError describing
// why the module was rejected.
func Validate(moduleBytes []byte) (*Module, error) {
	if len(moduleBytes) > MaxModuleSize {
		return nil, &RejectedError{Kind: RejectOversizedModule}
	}
	if len(moduleBytes) < 8 {
		return nil, &RejectedError{Kind: RejectMalformed, Detail: "module shorter than header"}
	}
	if !hasWasmMagic(moduleBytes) {
		return nil, &RejectedError{Kind: RejectInvalidMagic}
	}
	if !hasWasmVersion1(moduleBytes) {
		return nil, &RejectedError{Kind: RejectUnsupportedVersion}
	}

	m, err := parseModule(moduleBytes)
	if err != nil {
		return nil, &RejectedError{Kind: RejectMalformed, Detail: err.Error()}
	}

	if len(m.Imports) > 0 {
		imp := m.Imports[0]
		return nil, &RejectedError{
			Kind:   RejectForbiddenImport,
			Detail: imp.Module + "." + imp.Field,
		}
	}

	if m.memoryCount > 1 {
		return nil, &RejectedError{Kind: RejectMultipleMemories}
	}
	if m.Memory != nil {
		if m.Memory.Min > maxMemoryPages || (m.Memory.HasMax && m.Memory.Max > maxMemoryPages) {
			return nil, &RejectedError{Kind: RejectMemoryTooLarge}
		}
	}

	_, entrySig, err := findEntryPoint(m)
	if err != nil {
		return nil, err
	}
	if !isValidEntrySignature(entrySig) {
		return nil, &RejectedError{Kind: RejectMalformed, Detail: "entry must be (i32, i32) -> i32"}
	}

	for i := range m.Code {
		if err := scanOpcodes(m.Code[i].Code); err != nil {
			return nil, err
		}
		ctrl, err := buildControlFlow(m.Code[i].Code)
		if err != nil {
			return nil, &RejectedError{Kind: RejectMalformed, Detail: err.Error()}
		}
		m.Code[i].Ctrl = ctrl
	}

	return m, nil
}

func hasWasmMagic(b []byte) bool {
	return b[0] == 0x00 && b[1] == 0x61 && b[2] == 0x73 && b[3] == 0x6D
}

func hasWasmVersion1(b []byte) bool {
	return b[4] == 0x01 && b[5] == 0x00 && b[6] == 0x00 && b[7] == 0x00
}

// scanOpcodes walks a raw instruction stream and rejects any opcode
// outside the supported subset, with float/atomic/SIMD given their own
// reject kinds per spec's distinct error codes.
func scanOpcodes(code []byte) error {
	pos := 0
	for pos < len(code) {
		op := Opcode(code[pos])

		switch op {
		case atomicPrefix:
			return &RejectedError{Kind: RejectAtomicOpcode}
		case simdPrefix:
			return &RejectedError{Kind: RejectSIMDOpcode}
		}

		if isFloatOpcode(op) {
			return &RejectedError{Kind: RejectFloatOpcode}
		}

		if !supportedOpcodes[op] {
			return &RejectedError{Kind: RejectUnsupportedOpcode, Detail: opcodeHex(op)}
		}

		_, next, err := decodeInstr(code, pos)
		if err != nil {
			return &RejectedError{Kind: RejectMalformed, Detail: err.Error()}
		}
		pos = next
	}
	return nil
}

func opcodeHex(op Opcode) string {
	const hexDigits = "0123456789abcdef"
	return "0x" + string([]byte{hexDigits[op>>4], hexDigits[op&0xF]})
}

// findEntryPoint locates the first export matching EntryPoints, in order,
// and returns its function index and signature.
func findEntryPoint(m *Module) (uint32, FuncType, error) {
	for _, name := range EntryPoints {
		if idx, ok := m.FindExport(name); ok {
			sig, err := m.Signature(idx)
			if err != nil {
				return 0, FuncType{}, &RejectedError{Kind: RejectMalformed, Detail: err.Error()}
			}
			return idx, sig, nil
		}
	}
	return 0, FuncType{}, errNoEntryPoint
}

var errNoEntryPoint = &RejectedError{Kind: RejectMalformed, Detail: "no execute/main export"}

// isValidEntrySignature enforces the sandbox's fixed entry convention:
// (inputPtr i32, inputLen i32) -> outputLen i32. Input/output are carried
// through the designated memory region (InputOffset/OutputOffset), not
// through additional parameters or multiple results.
func isValidEntrySignature(sig FuncType) bool {
	if len(sig.Params) != 2 || len(sig.Results) != 1 {
		return false
	}
	return sig.Params[0] == ValI32 && sig.Params[1] == ValI32 && sig.Results[0] == ValI32
}

// Copyright 2025 Trustcompute Protocol
//
// A minimal WASM binary-format reader: just enough of the module structure
// (types, imports, functions, memory, exports, code) for admission checking
// and interpretation of the supported instruction subset. This is
// necessarily bespoke — no retrieved example or ecosystem library exposes
// byte-level section/opcode structure the way a fraud-proof admission
// check needs (see DESIGN.md).

package wasmsbx

import (
	"bytes"
	"fmt"
)

// ValType is a WASM value type.
type ValType byte

const (
	ValI32 ValType = 0x7F
	ValI64 ValType = 0x7E
	ValF32 ValType = 0x7D
	ValF64 ValType = 0x7C
)

// FuncType is a function signature.
type FuncType struct {
	Params  []ValType
	Results []ValType
}

// Import is a single module import.
type Import struct {
	Module string
	Field  string
	Kind   byte // 0=func,1=table,2=mem,3=global
}

// Export is a single module export.
type Export struct {
	Name string
	Kind byte // 0=func,1=table,2=mem,3=global
	Idx  uint32
}

// MemoryLimits describes a memory section entry, in 64 KiB pages.
type MemoryLimits struct {
	Min uint32
	Max uint32
	HasMax bool
}

// FuncBody holds a decoded function's locals declarations and raw code.
type FuncBody struct {
	// Locals is the flattened list of additional local types declared
	// after the function's parameters (locals[0] in evaluation order
	// immediately follows the last parameter).
	Locals []ValType
	Code   []byte // instruction stream, including the trailing 0x0B end

	// Ctrl is the precomputed block/loop/if/else/end match table,
	// populated by admission once the opcode scan has succeeded.
	Ctrl funcControlFlow
}

// Module is the decoded subset of a WASM module needed by admission and
// the interpreter.
type Module struct {
	Types     []FuncType
	Imports   []Import
	FuncTypes []uint32 // type index per module-defined function
	Memory    *MemoryLimits
	Exports   []Export
	Code      []FuncBody

	memoryCount int
}

var (
	errInvalidMagic       = fmt.Errorf("wasmsbx: invalid wasm magic")
	errUnsupportedVersion = fmt.Errorf("wasmsbx: unsupported wasm version")
)

const (
	secCustom   = 0
	secType     = 1
	secImport   = 2
	secFunction = 3
	secTable    = 4
	secMemory   = 5
	secGlobal   = 6
	secExport   = 7
	secStart    = 8
	secElement  = 9
	secCode     = 10
	secData     = 11
)

var wasmMagic = []byte{0x00, 0x61, 0x73, 0x6D}
var wasmVersion1 = []byte{0x01, 0x00, 0x00, 0x00}

// parseModule decodes the module structure without validating instruction
// opcodes; admission.go is responsible for the determinism ruleset.
func parseModule(b []byte) (*Module, error) {
	if len(b) < 8 {
		return nil, fmt.Errorf("wasmsbx: module too short")
	}
	if !bytes.Equal(b[0:4], wasmMagic) {
		return nil, errInvalidMagic
	}
	if !bytes.Equal(b[4:8], wasmVersion1) {
		return nil, errUnsupportedVersion
	}

	m := &Module{}
	off := 8
	for off < len(b) {
		id := b[off]
		off++
		size, next, err := readULEB128(b, off)
		if err != nil {
			return nil, fmt.Errorf("wasmsbx: section header: %w", err)
		}
		off = next
		if off+int(size) > len(b) {
			return nil, fmt.Errorf("wasmsbx: section body overruns module")
		}
		body := b[off : off+int(size)]
		off += int(size)

		switch id {
		case secType:
			if err := parseTypeSection(m, body); err != nil {
				return nil, err
			}
		case secImport:
			if err := parseImportSection(m, body); err != nil {
				return nil, err
			}
		case secFunction:
			if err := parseFunctionSection(m, body); err != nil {
				return nil, err
			}
		case secMemory:
			if err := parseMemorySection(m, body); err != nil {
				return nil, err
			}
		case secExport:
			if err := parseExportSection(m, body); err != nil {
				return nil, err
			}
		case secCode:
			if err := parseCodeSection(m, body); err != nil {
				return nil, err
			}
		default:
			// custom / table / global / start / element / data: not needed
			// by admission or the interpreter for the supported subset.
		}
	}

	return m, nil
}

func parseValType(b byte) (ValType, error) {
	switch ValType(b) {
	case ValI32, ValI64, ValF32, ValF64:
		return ValType(b), nil
	default:
		return 0, fmt.Errorf("wasmsbx: unknown value type 0x%x", b)
	}
}

func parseTypeSection(m *Module, body []byte) error {
	count, off, err := readULEB128(body, 0)
	if err != nil {
		return err
	}
	for i := uint64(0); i < count; i++ {
		if off >= len(body) || body[off] != 0x60 {
			return fmt.Errorf("wasmsbx: expected functype form 0x60")
		}
		off++
		var ft FuncType
		n, o, err := readULEB128(body, off)
		if err != nil {
			return err
		}
		off = o
		for j := uint64(0); j < n; j++ {
			vt, err := parseValType(body[off])
			if err != nil {
				return err
			}
			ft.Params = append(ft.Params, vt)
			off++
		}
		n, o, err = readULEB128(body, off)
		if err != nil {
			return err
		}
		off = o
		for j := uint64(0); j < n; j++ {
			vt, err := parseValType(body[off])
			if err != nil {
				return err
			}
			ft.Results = append(ft.Results, vt)
			off++
		}
		m.Types = append(m.Types, ft)
	}
	return nil
}

func readName(body []byte, off int) (string, int, error) {
	n, o, err := readULEB128(body, off)
	if err != nil {
		return "", 0, err
	}
	if o+int(n) > len(body) {
		return "", 0, fmt.Errorf("wasmsbx: truncated name")
	}
	return string(body[o : o+int(n)]), o + int(n), nil
}

func parseImportSection(m *Module, body []byte) error {
	count, off, err := readULEB128(body, 0)
	if err != nil {
		return err
	}
	for i := uint64(0); i < count; i++ {
		modName, o, err := readName(body, off)
		if err != nil {
			return err
		}
		off = o
		fieldName, o, err := readName(body, off)
		if err != nil {
			return err
		}
		off = o
		kind := body[off]
		off++
		imp := Import{Module: modName, Field: fieldName, Kind: kind}

		switch kind {
		case 0: // func
			_, o, err = readULEB128(body, off)
			if err != nil {
				return err
			}
			off = o
		case 1: // table: elemtype(1) + limits
			off++
			off, err = skipLimits(body, off)
			if err != nil {
				return err
			}
		case 2: // mem: limits
			off, err = skipLimits(body, off)
			if err != nil {
				return err
			}
		case 3: // global: valtype(1) + mutability(1)
			off += 2
		default:
			return fmt.Errorf("wasmsbx: unknown import kind %d", kind)
		}
		m.Imports = append(m.Imports, imp)
	}
	return nil
}

func skipLimits(body []byte, off int) (int, error) {
	flag := body[off]
	off++
	_, off, err := readULEB128(body, off)
	if err != nil {
		return 0, err
	}
	if flag&1 != 0 {
		_, off, err = readULEB128(body, off)
		if err != nil {
			return 0, err
		}
	}
	return off, nil
}

func parseFunctionSection(m *Module, body []byte) error {
	count, off, err := readULEB128(body, 0)
	if err != nil {
		return err
	}
	for i := uint64(0); i < count; i++ {
		idx, o, err := readULEB128(body, off)
		if err != nil {
			return err
		}
		off = o
		m.FuncTypes = append(m.FuncTypes, uint32(idx))
	}
	return nil
}

func parseMemorySection(m *Module, body []byte) error {
	count, off, err := readULEB128(body, 0)
	if err != nil {
		return err
	}
	if count == 0 {
		return nil
	}
	flag := body[off]
	off++
	minV, o, err := readULEB128(body, off)
	if err != nil {
		return err
	}
	off = o
	lim := &MemoryLimits{Min: uint32(minV)}
	if flag&1 != 0 {
		maxV, o, err := readULEB128(body, off)
		if err != nil {
			return err
		}
		off = o
		lim.Max = uint32(maxV)
		lim.HasMax = true
	}
	m.Memory = lim

	// Any further memory entries beyond the first violate the
	// single-linear-memory admission rule; record a second entry's
	// presence by appending nothing further — admission.go counts
	// `count` directly via the section's own vector length instead.
	m.memoryCount = int(count)
	return nil
}

func parseExportSection(m *Module, body []byte) error {
	count, off, err := readULEB128(body, 0)
	if err != nil {
		return err
	}
	for i := uint64(0); i < count; i++ {
		name, o, err := readName(body, off)
		if err != nil {
			return err
		}
		off = o
		kind := body[off]
		off++
		idx, o, err := readULEB128(body, off)
		if err != nil {
			return err
		}
		off = o
		m.Exports = append(m.Exports, Export{Name: name, Kind: kind, Idx: uint32(idx)})
	}
	return nil
}

func parseCodeSection(m *Module, body []byte) error {
	count, off, err := readULEB128(body, 0)
	if err != nil {
		return err
	}
	for i := uint64(0); i < count; i++ {
		bodySize, o, err := readULEB128(body, off)
		if err != nil {
			return err
		}
		off = o
		funcEnd := off + int(bodySize)
		if funcEnd > len(body) {
			return fmt.Errorf("wasmsbx: function body overruns code section")
		}

		localDeclCount, o, err := readULEB128(body, off)
		if err != nil {
			return err
		}
		off = o

		var locals []ValType
		for j := uint64(0); j < localDeclCount; j++ {
			n, o, err := readULEB128(body, off)
			if err != nil {
				return err
			}
			off = o
			vt, err := parseValType(body[off])
			if err != nil {
				return err
			}
			off++
			for k := uint64(0); k < n; k++ {
				locals = append(locals, vt)
			}
		}

		code := make([]byte, funcEnd-off)
		copy(code, body[off:funcEnd])
		m.Code = append(m.Code, FuncBody{Locals: locals, Code: code})
		off = funcEnd
	}
	return nil
}

// FindExport returns the function-index export with the given name.
func (m *Module) FindExport(name string) (uint32, bool) {
	for _, e := range m.Exports {
		if e.Name == name && e.Kind == 0 {
			return e.Idx, true
		}
	}
	return 0, false
}

// Signature returns the FuncType for the given module-defined function
// index (not counting imported functions, which are never admitted).
func (m *Module) Signature(funcIdx uint32) (FuncType, error) {
	if int(funcIdx) >= len(m.FuncTypes) {
		return FuncType{}, fmt.Errorf("wasmsbx: function index %d out of range", funcIdx)
	}
	typeIdx := m.FuncTypes[funcIdx]
	if int(typeIdx) >= len(m.Types) {
		return FuncType{}, fmt.Errorf("wasmsbx: type index %d out of range", typeIdx)
	}
	return m.Types[typeIdx], nil
}

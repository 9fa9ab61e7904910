// Copyright 2025 Trustcompute Protocol
//
// Instruction decoding shared between admission scanning (which only
// needs to walk the stream correctly to find the next opcode) and the
// interpreter (which needs the decoded immediate values). Block types are
// restricted to the single-byte empty/valtype encoding — multi-value
// block signatures are not part of the supported subset.

package wasmsbx

import "fmt"

// memArg is the alignment/offset pair carried by every load/store.
type memArg struct {
	Align  uint32
	Offset uint32
}

// instr is one decoded instruction: its opcode plus whichever immediate
// fields apply.
type instr struct {
	Op        Opcode
	BlockType byte // OpBlock/OpLoop/OpIf
	LabelIdx  uint32 // OpBr/OpBrIf
	Labels    []uint32 // OpBrTable: all labels including default, default last
	Idx       uint32 // OpCall/OpLocalGet/OpLocalSet/OpLocalTee
	Mem       memArg
	I32       int32
	I64       int64
}

// decodeInstr decodes the instruction at code[pos], returning it along
// with the offset of the byte following the full instruction (opcode +
// immediates).
func decodeInstr(code []byte, pos int) (instr, int, error) {
	if pos >= len(code) {
		return instr{}, 0, fmt.Errorf("wasmsbx: truncated instruction stream")
	}
	op := Opcode(code[pos])
	pos++
	ins := instr{Op: op}

	switch op {
	case OpBlock, OpLoop, OpIf:
		if pos >= len(code) {
			return instr{}, 0, fmt.Errorf("wasmsbx: truncated block type")
		}
		ins.BlockType = code[pos]
		pos++

	case OpBr, OpBrIf:
		v, next, err := readULEB128(code, pos)
		if err != nil {
			return instr{}, 0, err
		}
		ins.LabelIdx = uint32(v)
		pos = next

	case OpBrTable:
		n, next, err := readULEB128(code, pos)
		if err != nil {
			return instr{}, 0, err
		}
		pos = next
		labels := make([]uint32, 0, n+1)
		for i := uint64(0); i < n; i++ {
			v, next, err := readULEB128(code, pos)
			if err != nil {
				return instr{}, 0, err
			}
			labels = append(labels, uint32(v))
			pos = next
		}
		def, next, err := readULEB128(code, pos)
		if err != nil {
			return instr{}, 0, err
		}
		labels = append(labels, uint32(def))
		pos = next
		ins.Labels = labels

	case OpCall, OpLocalGet, OpLocalSet, OpLocalTee:
		v, next, err := readULEB128(code, pos)
		if err != nil {
			return instr{}, 0, err
		}
		ins.Idx = uint32(v)
		pos = next

	case OpI32Load, OpI64Load, OpI32Load8S, OpI32Load8U, OpI32Load16S, OpI32Load16U,
		OpI64Load8U, OpI64Load32U,
		OpI32Store, OpI64Store, OpI32Store8, OpI32Store16, OpI64Store32:
		align, next, err := readULEB128(code, pos)
		if err != nil {
			return instr{}, 0, err
		}
		pos = next
		off, next, err := readULEB128(code, pos)
		if err != nil {
			return instr{}, 0, err
		}
		pos = next
		ins.Mem = memArg{Align: uint32(align), Offset: uint32(off)}

	case OpMemorySize, OpMemoryGrow:
		if pos >= len(code) {
			return instr{}, 0, fmt.Errorf("wasmsbx: truncated memory.size/grow")
		}
		pos++ // reserved byte

	case OpI32Const:
		v, next, err := readSLEB128(code, pos)
		if err != nil {
			return instr{}, 0, err
		}
		ins.I32 = int32(v)
		pos = next

	case OpI64Const:
		v, next, err := readSLEB128(code, pos)
		if err != nil {
			return instr{}, 0, err
		}
		ins.I64 = v
		pos = next

	default:
		// No immediates: control (unreachable/nop/else/end/return/drop/select)
		// and all comparison/arithmetic opcodes.
	}

	return ins, pos, nil
}

// Copyright 2025 Trustcompute Protocol

package wasmsbx

// Hand-assembled WASM binary fixtures. There is no ecosystem assembler in
// the retrieved examples, so admission and interpretation are exercised
// directly against byte-level modules built with these helpers — the same
// primitives (section, uleb, sleb) the admission path itself decodes.

func uleb(v uint64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7F)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if v == 0 {
			return out
		}
	}
}

func sleb(v int64) []byte {
	var out []byte
	more := true
	for more {
		b := byte(v & 0x7F)
		v >>= 7
		signBitSet := b&0x40 != 0
		if (v == 0 && !signBitSet) || (v == -1 && signBitSet) {
			more = false
		} else {
			b |= 0x80
		}
		out = append(out, b)
	}
	return out
}

func section(id byte, body []byte) []byte {
	out := []byte{id}
	out = append(out, uleb(uint64(len(body)))...)
	out = append(out, body...)
	return out
}

func name(s string) []byte {
	out := uleb(uint64(len(s)))
	return append(out, s...)
}

// buildEchoModule assembles a module exporting execute(inputPtr, inputLen)
// i32 that byte-copies [inputPtr, inputPtr+inputLen) to OutputOffset and
// returns inputLen — exercising loop, br_if, br, loads, and stores.
func buildEchoModule() []byte {
	var code []byte
	emit := func(op Opcode, imm ...byte) {
		code = append(code, byte(op))
		code = append(code, imm...)
	}

	emit(OpBlock, 0x40)
	emit(OpLoop, 0x40)
	emit(OpLocalGet, uleb(2)...)
	emit(OpLocalGet, uleb(1)...)
	emit(OpI32GeU)
	emit(OpBrIf, uleb(1)...)

	emit(OpI32Const, sleb(int64(OutputOffset))...)
	emit(OpLocalGet, uleb(2)...)
	emit(OpI32Add)
	emit(OpLocalGet, uleb(0)...)
	emit(OpLocalGet, uleb(2)...)
	emit(OpI32Add)
	emit(OpI32Load8U, append(uleb(0), uleb(0)...)...)
	emit(OpI32Store8, append(uleb(0), uleb(0)...)...)

	emit(OpLocalGet, uleb(2)...)
	emit(OpI32Const, sleb(1)...)
	emit(OpI32Add)
	emit(OpLocalSet, uleb(2)...)
	emit(OpBr, uleb(0)...)
	emit(OpEnd) // closes loop
	emit(OpEnd) // closes block

	emit(OpLocalGet, uleb(1)...)
	emit(OpEnd) // function end

	return assembleModule(code, 1)
}

// buildConstModule assembles execute(inputPtr, inputLen) i32 that ignores
// its arguments, writes a single fixed byte at OutputOffset, and returns 1.
func buildConstModule(fixedByte byte) []byte {
	var code []byte
	emit := func(op Opcode, imm ...byte) {
		code = append(code, byte(op))
		code = append(code, imm...)
	}
	emit(OpI32Const, sleb(int64(OutputOffset))...)
	emit(OpI32Const, sleb(int64(fixedByte))...)
	emit(OpI32Store8, append(uleb(0), uleb(0)...)...)
	emit(OpI32Const, sleb(1)...)
	emit(OpEnd)
	return assembleModule(code, 0)
}

// assembleModule wraps a raw (i32,i32)->i32 function body (already ending
// in 0x0B) into a full, minimally valid module with localDeclCount extra
// i32 locals declared after the two parameters.
func assembleModule(code []byte, extraI32Locals int) []byte {
	var localDecls []byte
	if extraI32Locals > 0 {
		localDecls = append(localDecls, uleb(1)...) // one local-decl entry
		localDecls = append(localDecls, uleb(uint64(extraI32Locals))...)
		localDecls = append(localDecls, byte(ValI32))
	} else {
		localDecls = uleb(0)
	}
	funcBody := append(append([]byte{}, localDecls...), code...)

	codeSecBody := uleb(1) // one function
	codeSecBody = append(codeSecBody, uleb(uint64(len(funcBody)))...)
	codeSecBody = append(codeSecBody, funcBody...)

	typeSecBody := uleb(1)
	typeSecBody = append(typeSecBody, 0x60)
	typeSecBody = append(typeSecBody, 2, byte(ValI32), byte(ValI32))
	typeSecBody = append(typeSecBody, 1, byte(ValI32))

	funcSecBody := append(uleb(1), 0x00)

	memSecBody := append(uleb(1), 0x00)
	memSecBody = append(memSecBody, uleb(1)...) // min=1 page

	exportSecBody := uleb(1)
	exportSecBody = append(exportSecBody, name("execute")...)
	exportSecBody = append(exportSecBody, 0x00) // kind=func
	exportSecBody = append(exportSecBody, uleb(0)...)

	var m []byte
	m = append(m, wasmMagic...)
	m = append(m, wasmVersion1...)
	m = append(m, section(secType, typeSecBody)...)
	m = append(m, section(secFunction, funcSecBody)...)
	m = append(m, section(secMemory, memSecBody)...)
	m = append(m, section(secExport, exportSecBody)...)
	m = append(m, section(secCode, codeSecBody)...)
	return m
}

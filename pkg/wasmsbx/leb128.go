// Copyright 2025 Trustcompute Protocol

package wasmsbx

import "fmt"

// readULEB128 decodes an unsigned LEB128 integer starting at offset off in
// b, returning the value and the offset of the first byte after it.
func readULEB128(b []byte, off int) (uint64, int, error) {
	var result uint64
	var shift uint
	for {
		if off >= len(b) {
			return 0, 0, fmt.Errorf("wasmsbx: truncated uleb128")
		}
		byt := b[off]
		off++
		result |= uint64(byt&0x7F) << shift
		if byt&0x80 == 0 {
			break
		}
		shift += 7
		if shift >= 64 {
			return 0, 0, fmt.Errorf("wasmsbx: uleb128 overflow")
		}
	}
	return result, off, nil
}

// readSLEB128 decodes a signed LEB128 integer starting at offset off in b.
func readSLEB128(b []byte, off int) (int64, int, error) {
	var result int64
	var shift uint
	var byt byte
	for {
		if off >= len(b) {
			return 0, 0, fmt.Errorf("wasmsbx: truncated sleb128")
		}
		byt = b[off]
		off++
		result |= int64(byt&0x7F) << shift
		shift += 7
		if byt&0x80 == 0 {
			break
		}
	}
	if shift < 64 && byt&0x40 != 0 {
		result |= -1 << shift
	}
	return result, off, nil
}

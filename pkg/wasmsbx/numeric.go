// Copyright 2025 Trustcompute Protocol
//
// Integer arithmetic, comparison, and linear-memory load/store. Split out
// of engine.go's control-flow switch because this is most of the supported
// opcode surface and reads better as one long, flat dispatch.

package wasmsbx

import "math/bits"

// execNumeric handles every opcode not given its own case in stepOnce's
// switch: comparisons, arithmetic, bitwise ops, conversions, and memory
// access.
func (vm *VM) execNumeric(ins instr) error {
	switch ins.Op {
	case OpI32Eqz:
		a, err := vm.popI32()
		if err != nil {
			return err
		}
		vm.pushBool(a == 0)
	case OpI32Eq, OpI32Ne, OpI32LtS, OpI32LtU, OpI32GtS, OpI32GtU, OpI32LeS, OpI32LeU, OpI32GeS, OpI32GeU:
		return vm.i32Compare(ins.Op)
	case OpI64Eqz:
		a, err := vm.pop()
		if err != nil {
			return err
		}
		vm.pushBool(a == 0)
	case OpI64Eq, OpI64Ne, OpI64LtS, OpI64LtU, OpI64GtS, OpI64GtU, OpI64LeS, OpI64LeU, OpI64GeS, OpI64GeU:
		return vm.i64Compare(ins.Op)

	case OpI32Clz, OpI32Ctz, OpI32Popcnt:
		return vm.i32Unary(ins.Op)
	case OpI32Add, OpI32Sub, OpI32Mul, OpI32DivS, OpI32DivU, OpI32RemS, OpI32RemU,
		OpI32And, OpI32Or, OpI32Xor, OpI32Shl, OpI32ShrS, OpI32ShrU, OpI32Rotl, OpI32Rotr:
		return vm.i32Binary(ins.Op)

	case OpI64Clz, OpI64Ctz, OpI64Popcnt:
		return vm.i64Unary(ins.Op)
	case OpI64Add, OpI64Sub, OpI64Mul, OpI64DivS, OpI64DivU, OpI64RemS, OpI64RemU,
		OpI64And, OpI64Or, OpI64Xor, OpI64Shl, OpI64ShrS, OpI64ShrU, OpI64Rotl, OpI64Rotr:
		return vm.i64Binary(ins.Op)

	case OpI32WrapI64:
		v, err := vm.pop()
		if err != nil {
			return err
		}
		vm.push(uint64(uint32(v)))
	case OpI64ExtendI32S:
		v, err := vm.popI32()
		if err != nil {
			return err
		}
		vm.push(uint64(int64(v)))
	case OpI64ExtendI32U:
		v, err := vm.popI32()
		if err != nil {
			return err
		}
		vm.push(uint64(uint32(v)))

	case OpI32Load:
		return vm.loadInto32(ins.Mem, 4, false)
	case OpI32Load8S:
		return vm.loadInto32Sized(ins.Mem, 1, true)
	case OpI32Load8U:
		return vm.loadInto32Sized(ins.Mem, 1, false)
	case OpI32Load16S:
		return vm.loadInto32Sized(ins.Mem, 2, true)
	case OpI32Load16U:
		return vm.loadInto32Sized(ins.Mem, 2, false)
	case OpI64Load:
		return vm.load64(ins.Mem)
	case OpI64Load8U:
		return vm.load64Sized(ins.Mem, 1)
	case OpI64Load32U:
		return vm.load64Sized(ins.Mem, 4)

	case OpI32Store:
		return vm.store32(ins.Mem, 4)
	case OpI32Store8:
		return vm.store32(ins.Mem, 1)
	case OpI32Store16:
		return vm.store32(ins.Mem, 2)
	case OpI64Store:
		return vm.store64(ins.Mem, 8)
	case OpI64Store32:
		return vm.store64(ins.Mem, 4)

	default:
		return vm.trap("unimplemented opcode reached interpreter despite admission")
	}
	return nil
}

func (vm *VM) pushBool(b bool) {
	if b {
		vm.push(1)
	} else {
		vm.push(0)
	}
}

func (vm *VM) i32Compare(op Opcode) error {
	b, err := vm.popI32()
	if err != nil {
		return err
	}
	a, err := vm.popI32()
	if err != nil {
		return err
	}
	au, bu := uint32(a), uint32(b)
	switch op {
	case OpI32Eq:
		vm.pushBool(a == b)
	case OpI32Ne:
		vm.pushBool(a != b)
	case OpI32LtS:
		vm.pushBool(a < b)
	case OpI32LtU:
		vm.pushBool(au < bu)
	case OpI32GtS:
		vm.pushBool(a > b)
	case OpI32GtU:
		vm.pushBool(au > bu)
	case OpI32LeS:
		vm.pushBool(a <= b)
	case OpI32LeU:
		vm.pushBool(au <= bu)
	case OpI32GeS:
		vm.pushBool(a >= b)
	case OpI32GeU:
		vm.pushBool(au >= bu)
	}
	return nil
}

func (vm *VM) i64Compare(op Opcode) error {
	b, err := vm.pop()
	if err != nil {
		return err
	}
	a, err := vm.pop()
	if err != nil {
		return err
	}
	as, bs := int64(a), int64(b)
	switch op {
	case OpI64Eq:
		vm.pushBool(a == b)
	case OpI64Ne:
		vm.pushBool(a != b)
	case OpI64LtS:
		vm.pushBool(as < bs)
	case OpI64LtU:
		vm.pushBool(a < b)
	case OpI64GtS:
		vm.pushBool(as > bs)
	case OpI64GtU:
		vm.pushBool(a > b)
	case OpI64LeS:
		vm.pushBool(as <= bs)
	case OpI64LeU:
		vm.pushBool(a <= b)
	case OpI64GeS:
		vm.pushBool(as >= bs)
	case OpI64GeU:
		vm.pushBool(a >= b)
	}
	return nil
}

func (vm *VM) i32Unary(op Opcode) error {
	a, err := vm.popI32()
	if err != nil {
		return err
	}
	u := uint32(a)
	switch op {
	case OpI32Clz:
		vm.push(uint64(bits.LeadingZeros32(u)))
	case OpI32Ctz:
		vm.push(uint64(bits.TrailingZeros32(u)))
	case OpI32Popcnt:
		vm.push(uint64(bits.OnesCount32(u)))
	}
	return nil
}

func (vm *VM) i32Binary(op Opcode) error {
	b, err := vm.popI32()
	if err != nil {
		return err
	}
	a, err := vm.popI32()
	if err != nil {
		return err
	}
	au, bu := uint32(a), uint32(b)
	switch op {
	case OpI32Add:
		vm.push(uint64(uint32(a + b)))
	case OpI32Sub:
		vm.push(uint64(uint32(a - b)))
	case OpI32Mul:
		vm.push(uint64(uint32(a * b)))
	case OpI32DivS:
		if b == 0 {
			return vm.trap("integer division by zero")
		}
		if a == -2147483648 && b == -1 {
			return vm.trap("integer overflow")
		}
		vm.push(uint64(uint32(a / b)))
	case OpI32DivU:
		if bu == 0 {
			return vm.trap("integer division by zero")
		}
		vm.push(uint64(au / bu))
	case OpI32RemS:
		if b == 0 {
			return vm.trap("integer division by zero")
		}
		vm.push(uint64(uint32(a % b)))
	case OpI32RemU:
		if bu == 0 {
			return vm.trap("integer division by zero")
		}
		vm.push(uint64(au % bu))
	case OpI32And:
		vm.push(uint64(au & bu))
	case OpI32Or:
		vm.push(uint64(au | bu))
	case OpI32Xor:
		vm.push(uint64(au ^ bu))
	case OpI32Shl:
		vm.push(uint64(au << (bu & 31)))
	case OpI32ShrS:
		vm.push(uint64(uint32(a >> (bu & 31))))
	case OpI32ShrU:
		vm.push(uint64(au >> (bu & 31)))
	case OpI32Rotl:
		vm.push(uint64(bits.RotateLeft32(au, int(bu&31))))
	case OpI32Rotr:
		vm.push(uint64(bits.RotateLeft32(au, -int(bu&31))))
	}
	return nil
}

func (vm *VM) i64Unary(op Opcode) error {
	a, err := vm.pop()
	if err != nil {
		return err
	}
	switch op {
	case OpI64Clz:
		vm.push(uint64(bits.LeadingZeros64(a)))
	case OpI64Ctz:
		vm.push(uint64(bits.TrailingZeros64(a)))
	case OpI64Popcnt:
		vm.push(uint64(bits.OnesCount64(a)))
	}
	return nil
}

func (vm *VM) i64Binary(op Opcode) error {
	b, err := vm.pop()
	if err != nil {
		return err
	}
	a, err := vm.pop()
	if err != nil {
		return err
	}
	as, bs := int64(a), int64(b)
	switch op {
	case OpI64Add:
		vm.push(a + b)
	case OpI64Sub:
		vm.push(a - b)
	case OpI64Mul:
		vm.push(a * b)
	case OpI64DivS:
		if b == 0 {
			return vm.trap("integer division by zero")
		}
		if as == -9223372036854775808 && bs == -1 {
			return vm.trap("integer overflow")
		}
		vm.push(uint64(as / bs))
	case OpI64DivU:
		if b == 0 {
			return vm.trap("integer division by zero")
		}
		vm.push(a / b)
	case OpI64RemS:
		if b == 0 {
			return vm.trap("integer division by zero")
		}
		vm.push(uint64(as % bs))
	case OpI64RemU:
		if b == 0 {
			return vm.trap("integer division by zero")
		}
		vm.push(a % b)
	case OpI64And:
		vm.push(a & b)
	case OpI64Or:
		vm.push(a | b)
	case OpI64Xor:
		vm.push(a ^ b)
	case OpI64Shl:
		vm.push(a << (b & 63))
	case OpI64ShrS:
		vm.push(uint64(as >> (b & 63)))
	case OpI64ShrU:
		vm.push(a >> (b & 63))
	case OpI64Rotl:
		vm.push(bits.RotateLeft64(a, int(b&63)))
	case OpI64Rotr:
		vm.push(bits.RotateLeft64(a, -int(b&63)))
	}
	return nil
}

// effectiveAddr computes and bounds-checks a load/store's byte range,
// trapping (never a Go panic) on any out-of-bounds access.
func (vm *VM) effectiveAddr(mem memArg, width int) (int, error) {
	base, err := vm.popI32()
	if err != nil {
		return 0, err
	}
	addr := uint64(uint32(base)) + uint64(mem.Offset)
	if addr+uint64(width) > uint64(len(vm.state.Memory)) {
		return 0, vm.trap("memory access out of bounds")
	}
	return int(addr), nil
}

func (vm *VM) loadInto32(mem memArg, width int, signed bool) error {
	addr, err := vm.effectiveAddr(mem, width)
	if err != nil {
		return err
	}
	var v uint32
	for i := 0; i < width; i++ {
		v |= uint32(vm.state.Memory[addr+i]) << (8 * i)
	}
	vm.push(uint64(v))
	return nil
}

func (vm *VM) loadInto32Sized(mem memArg, width int, signed bool) error {
	addr, err := vm.effectiveAddr(mem, width)
	if err != nil {
		return err
	}
	var v uint32
	for i := 0; i < width; i++ {
		v |= uint32(vm.state.Memory[addr+i]) << (8 * i)
	}
	if signed {
		shift := uint(32 - 8*width)
		vm.push(uint64(uint32(int32(v<<shift) >> shift)))
	} else {
		vm.push(uint64(v))
	}
	return nil
}

func (vm *VM) load64(mem memArg) error {
	addr, err := vm.effectiveAddr(mem, 8)
	if err != nil {
		return err
	}
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(vm.state.Memory[addr+i]) << (8 * i)
	}
	vm.push(v)
	return nil
}

func (vm *VM) load64Sized(mem memArg, width int) error {
	addr, err := vm.effectiveAddr(mem, width)
	if err != nil {
		return err
	}
	var v uint64
	for i := 0; i < width; i++ {
		v |= uint64(vm.state.Memory[addr+i]) << (8 * i)
	}
	vm.push(v) // all supported i64 sub-width loads here are unsigned (load8_u, load32_u)
	return nil
}

func (vm *VM) store32(mem memArg, width int) error {
	v, err := vm.popI32()
	if err != nil {
		return err
	}
	addr, err := vm.effectiveAddr(mem, width)
	if err != nil {
		return err
	}
	u := uint32(v)
	for i := 0; i < width; i++ {
		vm.state.Memory[addr+i] = byte(u >> (8 * i))
	}
	return nil
}

func (vm *VM) store64(mem memArg, width int) error {
	v, err := vm.pop()
	if err != nil {
		return err
	}
	addr, err := vm.effectiveAddr(mem, width)
	if err != nil {
		return err
	}
	for i := 0; i < width; i++ {
		vm.state.Memory[addr+i] = byte(v >> (8 * i))
	}
	return nil
}

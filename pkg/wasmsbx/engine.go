// Copyright 2025 Trustcompute Protocol
//
// The deterministic interpreter: a single-threaded stack machine over the
// supported instruction subset (opcodes.go), fuel-metered one unit per
// instruction, with no host clock, no entropy, and no floating point. It
// backs both execute() (run to completion or resource exhaustion) and
// step() (exactly one instruction, for bisection's single-step
// adjudication) — the same engine, so the two can never disagree.

package wasmsbx

import "fmt"

const (
	// InputOffset is the fixed linear-memory offset the host writes the
	// job's input bytes to before invoking the entry point.
	InputOffset = 0

	// OutputOffset is the fixed linear-memory offset the guest must write
	// its output bytes to; the entry point's i32 return value is the
	// output length. Set comfortably above the largest inline input
	// (100 KiB, per the Input data-model cap) so input and output never
	// overlap.
	OutputOffset = 256 * 1024
)

// VM is one instantiated, running sandbox.
type VM struct {
	module    *Module
	memCap    int
	fuelCap   uint64
	maxOutput int

	state MachineState
}

// NewVM instantiates a VM ready to execute the module's admitted entry
// point against input, under the given resource caps. moduleBytes must
// already have passed Validate; callers pass the parsed Module through
// to avoid re-parsing.
func NewVM(m *Module, input []byte, fuelCap uint64, memCapBytes, maxOutput int) (*VM, error) {
	entryIdx, sig, err := findEntryPoint(m)
	if err != nil {
		return nil, err
	}
	if !isValidEntrySignature(sig) {
		return nil, &RejectedError{Kind: RejectMalformed, Detail: "entry must be (i32, i32) -> i32"}
	}
	if OutputOffset+maxOutput > memCapBytes {
		return nil, ErrMemoryExceeded
	}

	pages := 1
	if m.Memory != nil && m.Memory.Min > 0 {
		pages = int(m.Memory.Min)
	}
	memBytes := pages * wasmPageSize
	needed := OutputOffset + maxOutput
	for memBytes < needed {
		memBytes += wasmPageSize
	}
	if memBytes > memCapBytes {
		return nil, ErrMemoryExceeded
	}
	if InputOffset+len(input) > OutputOffset {
		return nil, &RejectedError{Kind: RejectMalformed, Detail: "input exceeds reserved input region"}
	}

	mem := make([]byte, memBytes)
	copy(mem[InputOffset:], input)

	body := m.Code[entryIdx]
	locals := make([]uint64, 2+len(body.Locals))
	locals[0] = uint64(uint32(InputOffset))
	locals[1] = uint64(uint32(len(input)))

	vm := &VM{
		module:    m,
		memCap:    memCapBytes,
		fuelCap:   fuelCap,
		maxOutput: maxOutput,
		state: MachineState{
			Frames: []frame{{FuncIdx: entryIdx, PC: 0, Locals: locals, StackBase: 0}},
			Memory: mem,
		},
	}
	return vm, nil
}

// newVMFromState reconstructs a VM directly from a disclosed machine
// state, bypassing instantiation — used by single-step adjudication, where
// the pre-state is the witness rather than freshly-copied input bytes.
func newVMFromState(m *Module, state MachineState, fuelCap uint64, memCapBytes, maxOutput int) *VM {
	return &VM{
		module:    m,
		memCap:    memCapBytes,
		fuelCap:   fuelCap,
		maxOutput: maxOutput,
		state:     state,
	}
}

// State returns the current machine state. Callers must not mutate the
// returned value's slices in place if they intend to keep using the VM.
func (vm *VM) State() *MachineState {
	return &vm.state
}

// Run executes until the VM halts or a resource limit / trap fires.
func (vm *VM) Run() (output []byte, fuelUsed uint64, err error) {
	for !vm.state.Halted {
		if err := vm.stepOnce(); err != nil {
			return nil, vm.state.Fuel, err
		}
	}
	return vm.state.Output, vm.state.Fuel, nil
}

// Step advances the VM by exactly one instruction.
func (vm *VM) Step() error {
	if vm.state.Halted {
		return fmt.Errorf("wasmsbx: VM already halted")
	}
	return vm.stepOnce()
}

func (vm *VM) trap(msg string) error {
	return fmt.Errorf("%w: %s", ErrTrap, msg)
}

func (vm *VM) stepOnce() error {
	if vm.state.Fuel >= vm.fuelCap {
		return ErrFuelExhausted
	}

	f := vm.state.currentFrame()
	body := vm.module.Code[f.FuncIdx]

	if f.PC >= len(body.Code) {
		return vm.trap("fell off end of function body without explicit end")
	}

	ins, next, err := decodeInstr(body.Code, f.PC)
	if err != nil {
		return vm.trap(err.Error())
	}

	vm.state.Fuel++

	switch ins.Op {
	case OpUnreachable:
		return vm.trap("unreachable")

	case OpNop:
		f.PC = next

	case OpBlock:
		match := body.Ctrl[f.PC]
		f.Labels = append(f.Labels, label{
			ContinuationPC: match.EndPC,
			StackBase:      len(vm.state.Stack),
			HasResult:      ins.BlockType != 0x40,
		})
		f.PC = next

	case OpLoop:
		f.Labels = append(f.Labels, label{
			ContinuationPC: next, // branching to a loop resumes at its body start
			StackBase:      len(vm.state.Stack),
			IsLoop:         true,
			HasResult:      ins.BlockType != 0x40,
		})
		f.PC = next

	case OpIf:
		cond, err := vm.popI32()
		if err != nil {
			return err
		}
		match := body.Ctrl[f.PC]
		f.Labels = append(f.Labels, label{
			ContinuationPC: match.EndPC,
			StackBase:      len(vm.state.Stack),
			HasResult:      ins.BlockType != 0x40,
		})
		if cond != 0 {
			f.PC = next
		} else if match.ElsePC >= 0 {
			f.PC = match.ElsePC + 1
		} else {
			f.PC = match.EndPC // no else: nothing to run, fall straight to end
		}

	case OpElse:
		// Reached by falling through the true branch: skip the else
		// branch entirely by jumping to its block's end.
		lbl := f.Labels[len(f.Labels)-1]
		f.PC = lbl.ContinuationPC

	case OpEnd:
		if len(f.Labels) > 0 {
			f.Labels = f.Labels[:len(f.Labels)-1]
			f.PC = next
		} else {
			if err := vm.returnFromFrame(); err != nil {
				return err
			}
		}

	case OpBr:
		if err := vm.branch(f, int(ins.LabelIdx)); err != nil {
			return err
		}

	case OpBrIf:
		cond, err := vm.popI32()
		if err != nil {
			return err
		}
		if cond != 0 {
			if err := vm.branch(f, int(ins.LabelIdx)); err != nil {
				return err
			}
		} else {
			f.PC = next
		}

	case OpBrTable:
		idx, err := vm.popI32()
		if err != nil {
			return err
		}
		n := len(ins.Labels) - 1 // last entry is the default
		target := ins.Labels[n]
		if idx >= 0 && int(idx) < n {
			target = ins.Labels[idx]
		}
		if err := vm.branch(f, int(target)); err != nil {
			return err
		}

	case OpReturn:
		f.Labels = nil
		if err := vm.returnFromFrame(); err != nil {
			return err
		}

	case OpCall:
		if err := vm.call(ins.Idx); err != nil {
			return err
		}
		return nil // call pushed a new frame; its PC was already set to 0

	case OpDrop:
		if _, err := vm.pop(); err != nil {
			return err
		}
		f.PC = next

	case OpSelect:
		c, err := vm.popI32()
		if err != nil {
			return err
		}
		b, err := vm.pop()
		if err != nil {
			return err
		}
		a, err := vm.pop()
		if err != nil {
			return err
		}
		if c != 0 {
			vm.push(a)
		} else {
			vm.push(b)
		}
		f.PC = next

	case OpLocalGet:
		if int(ins.Idx) >= len(f.Locals) {
			return vm.trap("local index out of range")
		}
		vm.push(f.Locals[ins.Idx])
		f.PC = next

	case OpLocalSet:
		v, err := vm.pop()
		if err != nil {
			return err
		}
		if int(ins.Idx) >= len(f.Locals) {
			return vm.trap("local index out of range")
		}
		f.Locals[ins.Idx] = v
		f.PC = next

	case OpLocalTee:
		v, err := vm.peek()
		if err != nil {
			return err
		}
		if int(ins.Idx) >= len(f.Locals) {
			return vm.trap("local index out of range")
		}
		f.Locals[ins.Idx] = v
		f.PC = next

	case OpI32Const:
		vm.push(uint64(uint32(ins.I32)))
		f.PC = next

	case OpI64Const:
		vm.push(uint64(ins.I64))
		f.PC = next

	case OpMemorySize:
		vm.push(uint64(uint32(len(vm.state.Memory) / wasmPageSize)))
		f.PC = next

	case OpMemoryGrow:
		delta, err := vm.popI32()
		if err != nil {
			return err
		}
		cur := len(vm.state.Memory) / wasmPageSize
		newBytes := len(vm.state.Memory) + int(delta)*wasmPageSize
		if delta < 0 || newBytes > vm.memCap || newBytes/wasmPageSize > maxMemoryPages {
			vm.push(uint64(uint32(0xFFFFFFFF))) // -1: grow failed, per wasm semantics
		} else {
			vm.state.Memory = append(vm.state.Memory, make([]byte, int(delta)*wasmPageSize)...)
			vm.push(uint64(uint32(cur)))
		}
		f.PC = next

	default:
		if err := vm.execNumeric(ins); err != nil {
			return err
		}
		f.PC = next
	}

	return nil
}

// branch implements the br/br_if/br_table target resolution: pop `depth`
// labels (0 = innermost), truncate the value stack to that label's base
// (preserving its result value if it carries one), and jump.
func (vm *VM) branch(f *frame, depth int) error {
	if depth >= len(f.Labels) {
		return vm.trap("branch depth exceeds label stack")
	}
	targetIdx := len(f.Labels) - 1 - depth
	lbl := f.Labels[targetIdx]

	var result uint64
	hasResult := lbl.HasResult && !lbl.IsLoop
	if hasResult {
		v, err := vm.pop()
		if err != nil {
			return err
		}
		result = v
	}

	vm.state.Stack = vm.state.Stack[:lbl.StackBase]
	if hasResult {
		vm.push(result)
	}

	// The target label itself stays on the stack: a block/if branch
	// resumes AT its `end` opcode, which pops it via the ordinary OpEnd
	// path; a loop branch resumes at its body start, still nested inside
	// itself for the next iteration.
	f.Labels = f.Labels[:targetIdx+1]
	f.PC = lbl.ContinuationPC
	return nil
}

// call invokes a module-defined function: pushes a new frame whose locals
// are the popped arguments plus zero-valued declared locals.
func (vm *VM) call(funcIdx uint32) error {
	if int(funcIdx) >= len(vm.module.Code) {
		return vm.trap("call target out of range")
	}
	sig, err := vm.module.Signature(funcIdx)
	if err != nil {
		return vm.trap(err.Error())
	}
	body := vm.module.Code[funcIdx]

	args := make([]uint64, len(sig.Params))
	for i := len(args) - 1; i >= 0; i-- {
		v, err := vm.pop()
		if err != nil {
			return err
		}
		args[i] = v
	}

	locals := make([]uint64, len(args)+len(body.Locals))
	copy(locals, args)

	vm.state.Frames = append(vm.state.Frames, frame{
		FuncIdx:   funcIdx,
		PC:        0,
		Locals:    locals,
		StackBase: len(vm.state.Stack),
	})
	return nil
}

// returnFromFrame pops the current call frame. If it was the outermost
// (entry) frame, the VM halts and the designated output region is read.
func (vm *VM) returnFromFrame() error {
	sig, err := vm.module.Signature(vm.state.currentFrame().FuncIdx)
	if err != nil {
		return vm.trap(err.Error())
	}

	var results []uint64
	for range sig.Results {
		v, err := vm.pop()
		if err != nil {
			return err
		}
		results = append([]uint64{v}, results...)
	}

	vm.state.Frames = vm.state.Frames[:len(vm.state.Frames)-1]

	if len(vm.state.Frames) == 0 {
		if len(results) != 1 {
			return vm.trap("entry point did not return exactly one value")
		}
		outLen := int32(results[0])
		if outLen < 0 {
			return vm.trap("negative output length")
		}
		if int(outLen) > vm.maxOutput {
			return ErrOutputTooLarge
		}
		if OutputOffset+int(outLen) > len(vm.state.Memory) {
			return vm.trap("output region out of bounds")
		}
		out := make([]byte, outLen)
		copy(out, vm.state.Memory[OutputOffset:OutputOffset+int(outLen)])
		vm.state.Output = out
		vm.state.Halted = true
		return nil
	}

	for _, v := range results {
		vm.push(v)
	}
	return nil
}

func (vm *VM) push(v uint64) {
	vm.state.Stack = append(vm.state.Stack, v)
}

func (vm *VM) pop() (uint64, error) {
	n := len(vm.state.Stack)
	if n == 0 {
		return 0, vm.trap("stack underflow")
	}
	v := vm.state.Stack[n-1]
	vm.state.Stack = vm.state.Stack[:n-1]
	return v, nil
}

func (vm *VM) peek() (uint64, error) {
	n := len(vm.state.Stack)
	if n == 0 {
		return 0, vm.trap("stack underflow")
	}
	return vm.state.Stack[n-1], nil
}

func (vm *VM) popI32() (int32, error) {
	v, err := vm.pop()
	if err != nil {
		return 0, err
	}
	return int32(uint32(v)), nil
}

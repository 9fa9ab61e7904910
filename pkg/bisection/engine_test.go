// Copyright 2025 Trustcompute Protocol

package bisection

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/trustcompute/protocol/pkg/escrow"
	"github.com/trustcompute/protocol/pkg/hasher"
	"github.com/trustcompute/protocol/pkg/identity"
	"github.com/trustcompute/protocol/pkg/ledger"
	"github.com/trustcompute/protocol/pkg/merkle"
	"github.com/trustcompute/protocol/pkg/verifier"
	"github.com/trustcompute/protocol/pkg/wasmsbx"
)

const testToken = "TEST"

var (
	addrChallenger = identity.FromBytes([]byte("challenger"))
	addrExecutor   = identity.FromBytes([]byte("executor"))
	addrClient     = identity.FromBytes([]byte("client"))
	escrowAddr     = identity.FromBytes([]byte("escrow"))
	feeAddr        = identity.FromBytes([]byte("fee"))
)

// uleb/sleb/section/name mirror pkg/wasmsbx's own hand-assembled fixtures
// (fixture_test.go): there is no ecosystem assembler to reach for, and the
// module format is internal to that package, so a disputing test builds its
// own minimal binaries the same way.
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

func wasmName(s string) []byte {
	out := uleb(uint64(len(s)))
	return append(out, s...)
}

// buildConstModule assembles execute(inputPtr, inputLen) i32 that ignores
// its arguments, writes a single fixed byte at OutputOffset, and returns 1 —
// a short, multi-instruction trace just long enough to drive a couple of
// bisection rounds.
func buildConstModule(fixedByte byte) []byte {
	var code []byte
	emit := func(op wasmsbx.Opcode, imm ...byte) {
		code = append(code, byte(op))
		code = append(code, imm...)
	}
	emit(wasmsbx.OpI32Const, sleb(int64(wasmsbx.OutputOffset))...)
	emit(wasmsbx.OpI32Const, sleb(int64(fixedByte))...)
	emit(wasmsbx.OpI32Store8, append(uleb(0), uleb(0)...)...)
	emit(wasmsbx.OpI32Const, sleb(1)...)
	emit(wasmsbx.OpEnd)

	localDecls := uleb(0)
	funcBody := append(append([]byte{}, localDecls...), code...)

	codeSecBody := uleb(1)
	codeSecBody = append(codeSecBody, uleb(uint64(len(funcBody)))...)
	codeSecBody = append(codeSecBody, funcBody...)

	typeSecBody := uleb(1)
	typeSecBody = append(typeSecBody, 0x60)
	typeSecBody = append(typeSecBody, 2, byte(wasmsbx.ValI32), byte(wasmsbx.ValI32))
	typeSecBody = append(typeSecBody, 1, byte(wasmsbx.ValI32))

	funcSecBody := append(uleb(1), 0x00)

	memSecBody := append(uleb(1), 0x00)
	memSecBody = append(memSecBody, uleb(1)...)

	exportSecBody := uleb(1)
	exportSecBody = append(exportSecBody, wasmName("execute")...)
	exportSecBody = append(exportSecBody, 0x00)
	exportSecBody = append(exportSecBody, uleb(0)...)

	var m []byte
	m = append(m, 0x00, 0x61, 0x73, 0x6D)
	m = append(m, 0x01, 0x00, 0x00, 0x00)
	m = append(m, section(1, typeSecBody)...)  // type
	m = append(m, section(3, funcSecBody)...)  // function
	m = append(m, section(5, memSecBody)...)   // memory
	m = append(m, section(7, exportSecBody)...) // export
	m = append(m, section(10, codeSecBody)...) // code
	return m
}

func testLimits() wasmsbx.Limits {
	return wasmsbx.Limits{FuelCap: 1000, MemCap: 1 << 20, MaxOutput: 4}
}

func newTestEngine(t *testing.T) (*Engine, *escrow.Machine, *ledger.Memory, []byte) {
	t.Helper()
	mem := ledger.NewMemory()
	mem.Credit(addrClient, testToken, big.NewInt(1000))
	mem.Credit(addrExecutor, testToken, big.NewInt(1000))
	mem.Credit(addrChallenger, testToken, big.NewInt(1000))

	jobs := escrow.NewMachine(mem, nil, escrow.FlatFeeSchedule{BasisPoints: 100}, escrowAddr, feeAddr)
	verifiers := verifier.NewRegistry(nil, testToken, time.Hour)
	verifiers.Register(addrChallenger, big.NewInt(10), "r1", 0, time.Now())

	moduleBytes := buildConstModule(0x42)
	engine := NewEngine(jobs, verifiers, mem, nil, escrowAddr)
	return engine, jobs, mem, moduleBytes
}

// createAndAcceptJob creates a job, accepts it, and submits a receipt —
// bisection always disputes a job already in the Receipt state, after the
// executor has committed to an output digest but before it is finalized.
func createAndAcceptJob(t *testing.T, jobs *escrow.Machine, moduleBytes []byte, now time.Time) escrow.Job {
	t.Helper()
	job, err := jobs.CreateJob(context.Background(), escrow.CreateJobParams{
		Client:           addrClient,
		Nonce:            1,
		PayToken:         testToken,
		PayAmount:        big.NewInt(5),
		ClientBond:       big.NewInt(1),
		ModuleDigest:     hasher.Of(moduleBytes),
		InputDigest:      hasher.Of(nil),
		AcceptDeadline:   now.Add(time.Hour),
		FinalizeDeadline: now.Add(2 * time.Hour),
		FuelLimit:        1000,
		MemLimit:         1 << 20,
		MaxOutputSize:    4,
	})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if _, err := jobs.AcceptJob(context.Background(), job.ID, addrExecutor, now); err != nil {
		t.Fatalf("AcceptJob: %v", err)
	}
	job, err = jobs.SubmitReceipt(job.ID, addrExecutor, hasher.Of([]byte("claimed-output")), []byte("sig"), now)
	if err != nil {
		t.Fatalf("SubmitReceipt: %v", err)
	}
	return job
}

// TestBisectionConvergesOnLiedFinalStep drives a full, honest-except-final-
// digest dispute to a single step and confirms ResolveBisection slashes the
// executor: the executor's committed trace matches the true execution
// everywhere except the very last (claimed) digest.
func TestBisectionConvergesOnLiedFinalStep(t *testing.T) {
	engine, jobs, mem, moduleBytes := newTestEngine(t)
	now := time.Now()
	job := createAndAcceptJob(t, jobs, moduleBytes, now)
	ctx := context.Background()

	sb, err := wasmsbx.NewSandbox(moduleBytes)
	if err != nil {
		t.Fatalf("NewSandbox: %v", err)
	}
	trueDigests, _, err := sb.Trace(nil, testLimits())
	if err != nil {
		t.Fatalf("Trace: %v", err)
	}
	totalSteps := uint64(len(trueDigests) - 1)
	if totalSteps < 2 {
		t.Fatalf("fixture trace too short to bisect: %d steps", totalSteps)
	}

	// The executor's committed trace: identical to the truth except its
	// final (claimed) digest, which it lies about.
	executorTrace := append([]hasher.Digest(nil), trueDigests...)
	lie := executorTrace[len(executorTrace)-1]
	lie[0] ^= 0xFF
	executorTrace[len(executorTrace)-1] = lie

	tree, err := merkle.Build(executorTrace)
	if err != nil {
		t.Fatalf("merkle.Build: %v", err)
	}

	challengeStake := big.NewInt(5)

	c, err := engine.InitiateBisection(ctx, job.ID, addrChallenger, addrExecutor, totalSteps,
		tree.Root(), executorTrace[0], executorTrace[len(executorTrace)-1], challengeStake, now)
	if err != nil {
		t.Fatalf("InitiateBisection: %v", err)
	}

	// Drive rounds until the range narrows to a single step. At every
	// round the executor publishes its own (truthful, except at the final
	// index) committed digest at the midpoint, and the challenger always
	// picks the half it believes still contains the lie. Since only the
	// final step is dishonest, the challenger always narrows toward the
	// upper half.
	for !c.Phase.resolved() && c.End-c.Start > 1 {
		mid := (c.Start + c.End) / 2
		midDigest := executorTrace[mid]
		c, err = engine.ExecutorRespond(job.ID, midDigest, now)
		if err != nil {
			t.Fatalf("ExecutorRespond at round %d: %v", c.Round, err)
		}
		c, err = engine.ChallengerPick(job.ID, false, midDigest, nil, now)
		if err != nil {
			t.Fatalf("ChallengerPick at round %d: %v", c.Round, err)
		}
	}
	if c.Phase != PhaseNarrowed {
		t.Fatalf("phase = %s, want Narrowed", c.Phase)
	}
	if c.End-c.Start != 1 {
		t.Fatalf("range not narrowed to one step: [%d,%d)", c.Start, c.End)
	}

	// Replay the true VM to the disputed pre-step state for the witness.
	mod, err := wasmsbx.Validate(moduleBytes)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	vm, err := wasmsbx.NewVM(mod, nil, testLimits().FuelCap, testLimits().MemCap, testLimits().MaxOutput)
	if err != nil {
		t.Fatalf("NewVM: %v", err)
	}
	for i := uint64(0); i < c.Start; i++ {
		if err := vm.Step(); err != nil {
			t.Fatalf("vm.Step replay %d: %v", i, err)
		}
	}
	witness := wasmsbx.StepWitness{PreState: vm.State().Clone()}

	preProof, err := tree.Prove(int(c.Start))
	if err != nil {
		t.Fatalf("Prove low: %v", err)
	}
	postProof, err := tree.Prove(int(c.End))
	if err != nil {
		t.Fatalf("Prove high: %v", err)
	}

	resolved, err := engine.ResolveBisection(ctx, job.ID, moduleBytes, witness, preProof, postProof, testLimits(), now)
	if err != nil {
		t.Fatalf("ResolveBisection: %v", err)
	}
	if resolved.Phase != PhaseResolvedFraud {
		t.Fatalf("phase = %s, want Resolved(Fraud)", resolved.Phase)
	}

	finalJob, err := jobs.Job(job.ID)
	if err != nil {
		t.Fatalf("Job: %v", err)
	}
	if finalJob.Status != escrow.StatusSlashed {
		t.Fatalf("job status = %s, want Slashed", finalJob.Status)
	}
	challengerBal, _ := mem.BalanceOf(ctx, testToken, addrChallenger)
	// base challenge stake is never pre-escrowed (only forfeited/swept
	// directly between accounts on resolution); on confirmed fraud the
	// challenger simply keeps it and additionally wins the bounty: 20% of
	// pool(payment 5 + collateral 10 = 15) = 3 -> 1000+3=1003.
	if challengerBal.Cmp(big.NewInt(1003)) != 0 {
		t.Fatalf("challenger balance = %s, want 1003", challengerBal)
	}
}

// TestBisectionNoFraudForfeitsChallengerStake resolves the single step when
// the executor's committed digest turns out to be correct: the challenger
// loses its stake to the executor and the job is left untouched (still
// Receipt, since a no-fraud bisection result does not itself finalize the
// job — that is the client's or executor's separate call).
func TestBisectionNoFraudForfeitsChallengerStake(t *testing.T) {
	engine, jobs, mem, moduleBytes := newTestEngine(t)
	now := time.Now()
	job := createAndAcceptJob(t, jobs, moduleBytes, now)
	ctx := context.Background()

	sb, err := wasmsbx.NewSandbox(moduleBytes)
	if err != nil {
		t.Fatalf("NewSandbox: %v", err)
	}
	trueDigests, _, err := sb.Trace(nil, testLimits())
	if err != nil {
		t.Fatalf("Trace: %v", err)
	}
	totalSteps := uint64(len(trueDigests) - 1)

	// This time the executor's committed trace is entirely honest.
	tree, err := merkle.Build(trueDigests)
	if err != nil {
		t.Fatalf("merkle.Build: %v", err)
	}

	challengeStake := big.NewInt(5)

	c, err := engine.InitiateBisection(ctx, job.ID, addrChallenger, addrExecutor, totalSteps,
		tree.Root(), trueDigests[0], trueDigests[len(trueDigests)-1], challengeStake, now)
	if err != nil {
		t.Fatalf("InitiateBisection: %v", err)
	}

	for !c.Phase.resolved() && c.End-c.Start > 1 {
		mid := (c.Start + c.End) / 2
		midDigest := trueDigests[mid]
		c, err = engine.ExecutorRespond(job.ID, midDigest, now)
		if err != nil {
			t.Fatalf("ExecutorRespond: %v", err)
		}
		// Arbitrarily always narrow to the first half; since the whole
		// trace is honest it makes no difference to the outcome.
		c, err = engine.ChallengerPick(job.ID, true, midDigest, nil, now)
		if err != nil {
			t.Fatalf("ChallengerPick: %v", err)
		}
	}

	mod, err := wasmsbx.Validate(moduleBytes)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	vm, err := wasmsbx.NewVM(mod, nil, testLimits().FuelCap, testLimits().MemCap, testLimits().MaxOutput)
	if err != nil {
		t.Fatalf("NewVM: %v", err)
	}
	for i := uint64(0); i < c.Start; i++ {
		if err := vm.Step(); err != nil {
			t.Fatalf("vm.Step replay %d: %v", i, err)
		}
	}
	witness := wasmsbx.StepWitness{PreState: vm.State().Clone()}

	preProof, _ := tree.Prove(int(c.Start))
	postProof, _ := tree.Prove(int(c.End))

	resolved, err := engine.ResolveBisection(ctx, job.ID, moduleBytes, witness, preProof, postProof, testLimits(), now)
	if err != nil {
		t.Fatalf("ResolveBisection: %v", err)
	}
	if resolved.Phase != PhaseResolvedNoFraud {
		t.Fatalf("phase = %s, want Resolved(NoFraud)", resolved.Phase)
	}

	executorBal, _ := mem.BalanceOf(ctx, testToken, addrExecutor)
	// executor: 1000 - 10 collateral = 990, gains challenger's forfeited stake(5) -> 995
	if executorBal.Cmp(big.NewInt(995)) != 0 {
		t.Fatalf("executor balance = %s, want 995", executorBal)
	}
	challengerBal, _ := mem.BalanceOf(ctx, testToken, addrChallenger)
	if challengerBal.Cmp(big.NewInt(995)) != 0 {
		t.Fatalf("challenger balance = %s, want 995 (stake forfeited)", challengerBal)
	}
}

func TestExecutorRoundTimeoutConcedesFraud(t *testing.T) {
	engine, jobs, _, moduleBytes := newTestEngine(t)
	now := time.Now()
	job := createAndAcceptJob(t, jobs, moduleBytes, now)
	ctx := context.Background()

	root := hasher.Of([]byte("root"))
	low := hasher.Of([]byte("low"))
	high := hasher.Of([]byte("high"))
	challengeStake := big.NewInt(5)

	if _, err := engine.InitiateBisection(ctx, job.ID, addrChallenger, addrExecutor, 4, root, low, high, challengeStake, now); err != nil {
		t.Fatalf("InitiateBisection: %v", err)
	}

	past := now.Add(DefaultRoundTimeout + time.Minute)
	resolved, err := engine.ResolveExecutorTimeout(ctx, job.ID, past)
	if err != nil {
		t.Fatalf("ResolveExecutorTimeout: %v", err)
	}
	if resolved.Phase != PhaseResolvedFraud {
		t.Fatalf("phase = %s, want Resolved(Fraud)", resolved.Phase)
	}
	finalJob, _ := jobs.Job(job.ID)
	if finalJob.Status != escrow.StatusSlashed {
		t.Fatalf("job status = %s, want Slashed", finalJob.Status)
	}
}

func TestChallengerPickTimeoutForfeitsToExecutor(t *testing.T) {
	engine, jobs, mem, moduleBytes := newTestEngine(t)
	now := time.Now()
	job := createAndAcceptJob(t, jobs, moduleBytes, now)
	ctx := context.Background()

	root := hasher.Of([]byte("root"))
	low := hasher.Of([]byte("low"))
	high := hasher.Of([]byte("high"))
	challengeStake := big.NewInt(5)

	if _, err := engine.InitiateBisection(ctx, job.ID, addrChallenger, addrExecutor, 4, root, low, high, challengeStake, now); err != nil {
		t.Fatalf("InitiateBisection: %v", err)
	}
	if _, err := engine.ExecutorRespond(job.ID, hasher.Of([]byte("mid")), now); err != nil {
		t.Fatalf("ExecutorRespond: %v", err)
	}

	past := now.Add(DefaultRoundTimeout + time.Minute)
	resolved, err := engine.ResolveChallengerTimeout(ctx, job.ID, past)
	if err != nil {
		t.Fatalf("ResolveChallengerTimeout: %v", err)
	}
	if resolved.Phase != PhaseResolvedNoFraud {
		t.Fatalf("phase = %s, want Resolved(NoFraud)", resolved.Phase)
	}

	executorBal, _ := mem.BalanceOf(ctx, testToken, addrExecutor)
	if executorBal.Cmp(big.NewInt(995)) != 0 {
		t.Fatalf("executor balance = %s, want 995 (forfeited stake swept)", executorBal)
	}
}

func TestInitiateBisectionRejectsOversizedTrace(t *testing.T) {
	engine, jobs, _, moduleBytes := newTestEngine(t)
	now := time.Now()
	job := createAndAcceptJob(t, jobs, moduleBytes, now)
	ctx := context.Background()

	root := hasher.Of([]byte("root"))
	_, err := engine.InitiateBisection(ctx, job.ID, addrChallenger, addrExecutor,
		uint64(1)<<MaxRounds+1, root, root, root, big.NewInt(1), now)
	if err != ErrTraceTooLarge {
		t.Fatalf("err = %v, want ErrTraceTooLarge", err)
	}
}

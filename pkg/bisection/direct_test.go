// Copyright 2025 Trustcompute Protocol

package bisection

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/trustcompute/protocol/pkg/escrow"
	"github.com/trustcompute/protocol/pkg/hasher"
	"github.com/trustcompute/protocol/pkg/ledger"
	"github.com/trustcompute/protocol/pkg/verifier"
	"github.com/trustcompute/protocol/pkg/wasmsbx"
)

// newDirectTestEngine builds a DirectEngine against fresh escrow and
// verifier fixtures of its own, mirroring newTestEngine's setup in
// engine_test.go but independent of it: DirectEngine has no use for the
// interactive bisection Engine itself, only for pkg/escrow and a
// verifierClearer.
func newDirectTestEngine(t *testing.T) (*DirectEngine, *escrow.Machine, []byte) {
	t.Helper()
	mem := ledger.NewMemory()
	mem.Credit(addrClient, testToken, big.NewInt(1000))
	mem.Credit(addrExecutor, testToken, big.NewInt(1000))
	mem.Credit(addrChallenger, testToken, big.NewInt(1000))

	jobs := escrow.NewMachine(mem, nil, escrow.FlatFeeSchedule{BasisPoints: 100}, escrowAddr, feeAddr)
	verifiers := verifier.NewRegistry(nil, testToken, time.Hour)
	verifiers.Register(addrChallenger, big.NewInt(10), "r1", 0, time.Now())

	moduleBytes := buildConstModule(0x42)
	return NewDirectEngine(jobs, verifiers), jobs, moduleBytes
}

// executeConstModuleOutput re-executes moduleBytes exactly as RevealFraud
// will, giving tests a true output to compare claims against without
// hardcoding the sandbox's output encoding here.
func executeConstModuleOutput(t *testing.T, moduleBytes []byte) []byte {
	t.Helper()
	sandbox, err := wasmsbx.NewSandbox(moduleBytes)
	if err != nil {
		t.Fatalf("NewSandbox: %v", err)
	}
	result, err := sandbox.Execute(nil, testLimits())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	return result.Output
}

func TestDirectRevealConfirmsFraud(t *testing.T) {
	engine, jobs, moduleBytes := newDirectTestEngine(t)
	now := time.Now()
	job := createAndAcceptJob(t, jobs, moduleBytes, now)
	ctx := context.Background()

	inputBytes := []byte(nil)
	// The true output of buildConstModule's execute() is a single-byte
	// store at OutputOffset plus the i32 return value 1; what matters here
	// is only that claimedOutput disagrees with it.
	claimedOutput := []byte("wrong-output")
	nonce := uint64(7)

	commitment := CommitmentHash(moduleBytes, inputBytes, claimedOutput, addrChallenger, nonce)
	committedAt := now
	if _, err := engine.CommitFraud(job.ID, addrChallenger, commitment, committedAt); err != nil {
		t.Fatalf("CommitFraud: %v", err)
	}

	revealAt := committedAt.Add(MinRevealDelay + time.Second)
	fraud, err := engine.RevealFraud(ctx, job.ID, moduleBytes, inputBytes, claimedOutput, nonce, revealAt)
	if err != nil {
		t.Fatalf("RevealFraud: %v", err)
	}
	if !fraud {
		t.Fatalf("fraud = false, want true (claimed output disagrees with re-execution)")
	}

	finalJob, err := jobs.Job(job.ID)
	if err != nil {
		t.Fatalf("Job: %v", err)
	}
	if finalJob.Status != escrow.StatusSlashed {
		t.Fatalf("job status = %s, want Slashed", finalJob.Status)
	}
}

func TestDirectRevealConfirmsNoFraud(t *testing.T) {
	engine, jobs, moduleBytes := newDirectTestEngine(t)
	now := time.Now()
	ctx := context.Background()

	// Re-derive the true output the same way RevealFraud itself will, so
	// that the claimed output matches and no fraud is found.
	trueOutput := executeConstModuleOutput(t, moduleBytes)

	job, err := jobs.CreateJob(ctx, escrow.CreateJobParams{
		Client:           addrClient,
		Nonce:            2,
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
	if _, err := jobs.AcceptJob(ctx, job.ID, addrExecutor, now); err != nil {
		t.Fatalf("AcceptJob: %v", err)
	}
	job, err = jobs.SubmitReceipt(job.ID, addrExecutor, hasher.Of(trueOutput), []byte("sig"), now)
	if err != nil {
		t.Fatalf("SubmitReceipt: %v", err)
	}

	nonce := uint64(11)
	commitment := CommitmentHash(moduleBytes, nil, trueOutput, addrChallenger, nonce)
	if _, err := engine.CommitFraud(job.ID, addrChallenger, commitment, now); err != nil {
		t.Fatalf("CommitFraud: %v", err)
	}

	revealAt := now.Add(MinRevealDelay + time.Second)
	fraud, err := engine.RevealFraud(ctx, job.ID, moduleBytes, nil, trueOutput, nonce, revealAt)
	if err != nil {
		t.Fatalf("RevealFraud: %v", err)
	}
	if fraud {
		t.Fatalf("fraud = true, want false (claimed output matches re-execution)")
	}

	finalJob, err := jobs.Job(job.ID)
	if err != nil {
		t.Fatalf("Job: %v", err)
	}
	if finalJob.Status != escrow.StatusReceipt {
		t.Fatalf("job status = %s, want Receipt (unchanged by a no-fraud verdict)", finalJob.Status)
	}
}

func TestDirectRevealTooEarlyRejected(t *testing.T) {
	engine, jobs, moduleBytes := newDirectTestEngine(t)
	now := time.Now()
	job := createAndAcceptJob(t, jobs, moduleBytes, now)
	ctx := context.Background()

	claimedOutput := []byte("claim")
	nonce := uint64(3)
	commitment := CommitmentHash(moduleBytes, nil, claimedOutput, addrChallenger, nonce)
	if _, err := engine.CommitFraud(job.ID, addrChallenger, commitment, now); err != nil {
		t.Fatalf("CommitFraud: %v", err)
	}

	_, err := engine.RevealFraud(ctx, job.ID, moduleBytes, nil, claimedOutput, nonce, now.Add(time.Second))
	if err != ErrRevealTooEarly {
		t.Fatalf("err = %v, want ErrRevealTooEarly", err)
	}
}

func TestDirectRevealTooLateRejected(t *testing.T) {
	engine, jobs, moduleBytes := newDirectTestEngine(t)
	now := time.Now()
	job := createAndAcceptJob(t, jobs, moduleBytes, now)
	ctx := context.Background()

	claimedOutput := []byte("claim")
	nonce := uint64(4)
	commitment := CommitmentHash(moduleBytes, nil, claimedOutput, addrChallenger, nonce)
	if _, err := engine.CommitFraud(job.ID, addrChallenger, commitment, now); err != nil {
		t.Fatalf("CommitFraud: %v", err)
	}

	_, err := engine.RevealFraud(ctx, job.ID, moduleBytes, nil, claimedOutput, nonce, now.Add(MaxRevealDelay+time.Minute))
	if err != ErrRevealTooLate {
		t.Fatalf("err = %v, want ErrRevealTooLate", err)
	}
}

func TestDirectRevealCommitmentMismatchRejected(t *testing.T) {
	engine, jobs, moduleBytes := newDirectTestEngine(t)
	now := time.Now()
	job := createAndAcceptJob(t, jobs, moduleBytes, now)
	ctx := context.Background()

	claimedOutput := []byte("claim")
	nonce := uint64(5)
	commitment := CommitmentHash(moduleBytes, nil, claimedOutput, addrChallenger, nonce)
	if _, err := engine.CommitFraud(job.ID, addrChallenger, commitment, now); err != nil {
		t.Fatalf("CommitFraud: %v", err)
	}

	revealAt := now.Add(MinRevealDelay + time.Second)
	// Reveal with a different nonce: the recomputed commitment hash will
	// not match what was committed.
	_, err := engine.RevealFraud(ctx, job.ID, moduleBytes, nil, claimedOutput, nonce+1, revealAt)
	if err != ErrCommitRevealMismatch {
		t.Fatalf("err = %v, want ErrCommitRevealMismatch", err)
	}
}

func TestDirectRevealInadmissibleModuleAborts(t *testing.T) {
	engine, jobs, _ := newDirectTestEngine(t)
	now := time.Now()

	garbage := []byte{0xde, 0xad, 0xbe, 0xef}
	job, err := jobs.CreateJob(context.Background(), escrow.CreateJobParams{
		Client:           addrClient,
		Nonce:            9,
		PayToken:         testToken,
		PayAmount:        big.NewInt(5),
		ClientBond:       big.NewInt(1),
		ModuleDigest:     hasher.Of(garbage),
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
	ctx := context.Background()
	if _, err := jobs.AcceptJob(ctx, job.ID, addrExecutor, now); err != nil {
		t.Fatalf("AcceptJob: %v", err)
	}
	job, err = jobs.SubmitReceipt(job.ID, addrExecutor, hasher.Of([]byte("claimed")), []byte("sig"), now)
	if err != nil {
		t.Fatalf("SubmitReceipt: %v", err)
	}

	claimedOutput := []byte("claimed")
	nonce := uint64(13)
	commitment := CommitmentHash(garbage, nil, claimedOutput, addrChallenger, nonce)
	if _, err := engine.CommitFraud(job.ID, addrChallenger, commitment, now); err != nil {
		t.Fatalf("CommitFraud: %v", err)
	}

	revealAt := now.Add(MinRevealDelay + time.Second)
	fraud, err := engine.RevealFraud(ctx, job.ID, garbage, nil, claimedOutput, nonce, revealAt)
	if err != nil {
		t.Fatalf("RevealFraud: %v", err)
	}
	if fraud {
		t.Fatalf("fraud = true, want false (admission failure resolves via abort, not a fraud verdict)")
	}

	finalJob, err := jobs.Job(job.ID)
	if err != nil {
		t.Fatalf("Job: %v", err)
	}
	if finalJob.Status != escrow.StatusAborted {
		t.Fatalf("job status = %s, want Aborted", finalJob.Status)
	}
}

// Copyright 2025 Trustcompute Protocol

package escrow

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/trustcompute/protocol/pkg/hasher"
	"github.com/trustcompute/protocol/pkg/identity"
	"github.com/trustcompute/protocol/pkg/ledger"
)

const testToken = "TEST"

var (
	addrClient   = identity.FromBytes([]byte("client"))
	addrExecutor = identity.FromBytes([]byte("executor"))
	addrVerifier = identity.FromBytes([]byte("verifier"))
	escrowAddr   = identity.FromBytes([]byte("escrow"))
	feeAddr      = identity.FromBytes([]byte("fee"))
)

// echoModule is a bare WASM header used only for its digest here; it has
// no entry export, so it would fail admission, and escrow tests never
// execute it.
var echoModule = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

func newTestMachine(t *testing.T, fundClient, fundExecutor *big.Int) (*Machine, *ledger.Memory) {
	t.Helper()
	mem := ledger.NewMemory()
	mem.Credit(addrClient, testToken, fundClient)
	mem.Credit(addrExecutor, testToken, fundExecutor)

	// A nil registry skips the "module must be pre-registered" check so
	// these tests can use a placeholder digest without round-tripping a
	// real module through admission; pkg/server's integration tests cover
	// the registry-enforced path end to end.
	return NewMachine(mem, nil, FlatFeeSchedule{BasisPoints: 100}, escrowAddr, feeAddr), mem
}

func mustCreateJob(t *testing.T, m *Machine, pay, bond int64, accept, finalize time.Time) Job {
	t.Helper()
	job, err := m.CreateJob(context.Background(), CreateJobParams{
		Client:           addrClient,
		Nonce:            1,
		PayToken:         testToken,
		PayAmount:        big.NewInt(pay),
		ClientBond:       big.NewInt(bond),
		ModuleDigest:     hasher.Of(echoModule),
		InputDigest:      hasher.Of([]byte("input")),
		AcceptDeadline:   accept,
		FinalizeDeadline: finalize,
		FuelLimit:        1_000_000,
		MemLimit:         0,
		MaxOutputSize:    64,
	})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	return job
}

func TestHonestFinalize(t *testing.T) {
	m, _ := newTestMachine(t, big.NewInt(100), big.NewInt(100))
	now := time.Now()
	job := mustCreateJob(t, m, 5, 1, now.Add(time.Hour), now.Add(2*time.Hour))

	ctx := context.Background()
	if _, err := m.AcceptJob(ctx, job.ID, addrExecutor, now); err != nil {
		t.Fatalf("AcceptJob: %v", err)
	}
	outDigest := hasher.Of([]byte("output"))
	if _, err := m.SubmitReceipt(job.ID, addrExecutor, outDigest, []byte("sig"), now); err != nil {
		t.Fatalf("SubmitReceipt: %v", err)
	}

	executorBalBefore, _ := m.ledger.BalanceOf(ctx, testToken, addrExecutor)
	finalJob, err := m.Finalize(ctx, job.ID, addrClient, now)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if finalJob.Status != StatusFinalized {
		t.Fatalf("status = %s, want Finalized", finalJob.Status)
	}

	executorBalAfter, _ := m.ledger.BalanceOf(ctx, testToken, addrExecutor)
	// executor gets payment(5) - fee(1%) + collateral(10) back = 14.95 -> int division: fee=0
	delta := new(big.Int).Sub(executorBalAfter, executorBalBefore)
	if delta.Sign() <= 0 {
		t.Fatalf("executor balance did not increase: delta=%s", delta)
	}

	clientBal, _ := m.ledger.BalanceOf(ctx, testToken, addrClient)
	if clientBal.Cmp(big.NewInt(100-5-1+1)) != 0 {
		t.Fatalf("client balance = %s, want %d (bond refunded)", clientBal, 100-5-1+1)
	}
}

func TestTimeoutFinalizeMatchesHonestFinalize(t *testing.T) {
	m, _ := newTestMachine(t, big.NewInt(100), big.NewInt(100))
	now := time.Now()
	job := mustCreateJob(t, m, 5, 1, now.Add(time.Hour), now.Add(2*time.Hour))

	ctx := context.Background()
	m.AcceptJob(ctx, job.ID, addrExecutor, now)
	m.SubmitReceipt(job.ID, addrExecutor, hasher.Of([]byte("output")), []byte("sig"), now)

	past := now.Add(3 * time.Hour)
	finalJob, err := m.ClaimTimeout(ctx, job.ID, addrExecutor, past)
	if err != nil {
		t.Fatalf("ClaimTimeout: %v", err)
	}
	if finalJob.Status != StatusFinalized {
		t.Fatalf("status = %s, want Finalized", finalJob.Status)
	}

	// same payout as Finalize: executor 100 - 10 + (5 - fee 0 + 10) = 105,
	// client 100 - 6 + bond 1 = 95
	executorBal, _ := m.ledger.BalanceOf(ctx, testToken, addrExecutor)
	if executorBal.Cmp(big.NewInt(105)) != 0 {
		t.Fatalf("executor balance = %s, want 105", executorBal)
	}
	clientBal, _ := m.ledger.BalanceOf(ctx, testToken, addrClient)
	if clientBal.Cmp(big.NewInt(95)) != 0 {
		t.Fatalf("client balance = %s, want 95 (bond refunded)", clientBal)
	}
}

func TestDirectFraudSlash(t *testing.T) {
	m, _ := newTestMachine(t, big.NewInt(100), big.NewInt(100))
	now := time.Now()
	job := mustCreateJob(t, m, 5, 1, now.Add(time.Hour), now.Add(2*time.Hour))

	ctx := context.Background()
	m.AcceptJob(ctx, job.ID, addrExecutor, now)
	m.SubmitReceipt(job.ID, addrExecutor, hasher.Of([]byte("wrong-output")), []byte("sig"), now)

	slashedJob, err := m.ApplyFraudSlash(ctx, job.ID, addrVerifier, now)
	if err != nil {
		t.Fatalf("ApplyFraudSlash: %v", err)
	}
	if slashedJob.Status != StatusSlashed {
		t.Fatalf("status = %s, want Slashed", slashedJob.Status)
	}

	// pool = payment(5) + collateral(10) = 15; bounty = 20% = 3
	verifierBal, _ := m.ledger.BalanceOf(ctx, testToken, addrVerifier)
	if verifierBal.Cmp(big.NewInt(3)) != 0 {
		t.Fatalf("verifier bounty = %s, want 3", verifierBal)
	}
	clientBal, _ := m.ledger.BalanceOf(ctx, testToken, addrClient)
	// client started with 100, paid 5+1=6 into escrow -> 94, then gets back
	// remainder(12) + bond(1) = 13 -> 94+13=107
	if clientBal.Cmp(big.NewInt(107)) != 0 {
		t.Fatalf("client balance = %s, want 107", clientBal)
	}
	executorBal, _ := m.ledger.BalanceOf(ctx, testToken, addrExecutor)
	// executor started with 100, locked 10 collateral -> 90, gets nothing back
	if executorBal.Cmp(big.NewInt(90)) != 0 {
		t.Fatalf("executor balance = %s, want 90 (collateral fully lost)", executorBal)
	}
}

func TestAbortHalfSlash(t *testing.T) {
	m, _ := newTestMachine(t, big.NewInt(100), big.NewInt(100))
	now := time.Now()
	job := mustCreateJob(t, m, 5, 1, now.Add(time.Hour), now.Add(2*time.Hour))

	ctx := context.Background()
	m.AcceptJob(ctx, job.ID, addrExecutor, now)
	m.SubmitReceipt(job.ID, addrExecutor, hasher.Of([]byte("out")), []byte("sig"), now)

	aborted, err := m.ApplyAbort(ctx, job.ID, now)
	if err != nil {
		t.Fatalf("ApplyAbort: %v", err)
	}
	if aborted.Status != StatusAborted {
		t.Fatalf("status = %s, want Aborted", aborted.Status)
	}

	clientBal, _ := m.ledger.BalanceOf(ctx, testToken, addrClient)
	// client: 100 - 6 + (payment 5 + bond 1 + half collateral 5) = 94 + 11 = 105
	if clientBal.Cmp(big.NewInt(105)) != 0 {
		t.Fatalf("client balance = %s, want 105", clientBal)
	}
	executorBal, _ := m.ledger.BalanceOf(ctx, testToken, addrExecutor)
	// executor: 100 - 10 + half collateral(5) = 95
	if executorBal.Cmp(big.NewInt(95)) != 0 {
		t.Fatalf("executor balance = %s, want 95", executorBal)
	}
}

func TestCancelOnAcceptDeadlineLapse(t *testing.T) {
	m, _ := newTestMachine(t, big.NewInt(100), big.NewInt(100))
	now := time.Now()
	job := mustCreateJob(t, m, 5, 1, now.Add(time.Hour), now.Add(2*time.Hour))

	ctx := context.Background()
	if _, err := m.Cancel(ctx, job.ID, addrClient, now); err == nil {
		t.Fatalf("Cancel before deadline lapse should fail")
	}

	cancelled, err := m.Cancel(ctx, job.ID, addrClient, now.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if cancelled.Status != StatusCancelled {
		t.Fatalf("status = %s, want Cancelled", cancelled.Status)
	}
	clientBal, _ := m.ledger.BalanceOf(ctx, testToken, addrClient)
	if clientBal.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("client balance = %s, want 100 (fully refunded)", clientBal)
	}
}

func TestMonotoneProgressionRejectsBackwardTransitions(t *testing.T) {
	m, _ := newTestMachine(t, big.NewInt(100), big.NewInt(100))
	now := time.Now()
	job := mustCreateJob(t, m, 5, 1, now.Add(time.Hour), now.Add(2*time.Hour))
	ctx := context.Background()

	m.AcceptJob(ctx, job.ID, addrExecutor, now)
	m.SubmitReceipt(job.ID, addrExecutor, hasher.Of([]byte("out")), []byte("sig"), now)
	if _, err := m.Finalize(ctx, job.ID, addrClient, now); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	if _, err := m.Finalize(ctx, job.ID, addrClient, now); err != ErrInvalidTransition {
		t.Fatalf("re-finalizing a terminal job: err = %v, want ErrInvalidTransition", err)
	}
	if _, err := m.ApplyFraudSlash(ctx, job.ID, addrVerifier, now); err != ErrInvalidTransition {
		t.Fatalf("slashing a Finalized job: err = %v, want ErrInvalidTransition", err)
	}
}

func TestConservationAcrossMultipleJobs(t *testing.T) {
	m, _ := newTestMachine(t, big.NewInt(1000), big.NewInt(1000))
	now := time.Now()
	ctx := context.Background()

	var jobs []Job
	for i := int64(1); i <= 3; i++ {
		job, err := m.CreateJob(ctx, CreateJobParams{
			Client:           addrClient,
			Nonce:            uint64(i),
			PayToken:         testToken,
			PayAmount:        big.NewInt(10 * i),
			ClientBond:       big.NewInt(i),
			ModuleDigest:     hasher.Of(echoModule),
			InputDigest:      hasher.Of([]byte{byte(i)}),
			AcceptDeadline:   now.Add(time.Hour),
			FinalizeDeadline: now.Add(2 * time.Hour),
			FuelLimit:        1000,
			MaxOutputSize:    64,
		})
		if err != nil {
			t.Fatalf("CreateJob %d: %v", i, err)
		}
		jobs = append(jobs, job)
	}

	for _, job := range jobs {
		if _, err := m.AcceptJob(ctx, job.ID, addrExecutor, now); err != nil {
			t.Fatalf("AcceptJob: %v", err)
		}
	}

	escrowed, err := m.EscrowedBalance(ctx, testToken)
	if err != nil {
		t.Fatalf("EscrowedBalance: %v", err)
	}
	active := m.ActiveEscrowTotal(testToken)
	if escrowed.Cmp(active) != 0 {
		t.Fatalf("conservation violated: escrowed=%s active=%s", escrowed, active)
	}

	// Settle job 1, leave the rest active, re-check conservation holds for
	// the remaining in-flight jobs (the settled job's funds have left the
	// escrow account entirely, not just its bookkeeping entry).
	m.SubmitReceipt(jobs[0].ID, addrExecutor, hasher.Of([]byte("out")), []byte("sig"), now)
	if _, err := m.Finalize(ctx, jobs[0].ID, addrClient, now); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	escrowed, _ = m.EscrowedBalance(ctx, testToken)
	active = m.ActiveEscrowTotal(testToken)
	if escrowed.Cmp(active) != 0 {
		t.Fatalf("conservation violated after settlement: escrowed=%s active=%s", escrowed, active)
	}
}

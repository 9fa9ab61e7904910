// Copyright 2025 Trustcompute Protocol
//
// Machine owns every job record and drives the state graph of spec.md
// §4.C, generalizing pkg/proof/lifecycle.go's ProofLifecycleManager
// (TransitionState validated against a ValidTransitions table, with
// StateChangeListener hooks and a LifecycleMetrics counter) from proof
// custody states to job escrow states. Unlike the teacher, every terminal
// transition here also moves value through the ledger — the escrow
// balance invariant must hold atomically with the status change, so
// transition and payout arithmetic run inside one critical section
// under the Machine's mutex.

package escrow

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/trustcompute/protocol/pkg/hasher"
	"github.com/trustcompute/protocol/pkg/identity"
	"github.com/trustcompute/protocol/pkg/ledger"
	"github.com/trustcompute/protocol/pkg/wasmsbx"
)

// MaxInlineInputSize is the largest input carried inline in a job record
// (spec.md §3 "Input"); larger inputs are referenced out of band and are
// out of this core's scope.
const MaxInlineInputSize = 100 * 1024

// BountyBasisPoints is the verifier's share of the slashed pool on
// confirmed fraud: 20%, per spec.md §4.C.
const BountyBasisPoints = 2000

// StateChangeListener is notified, asynchronously, whenever a job
// transitions. Mirrors pkg/proof/lifecycle.go's StateChangeListener.
type StateChangeListener func(jobID hasher.Digest, from, to Status, details map[string]any)

// Metrics tracks machine-wide transition counters, mirroring
// pkg/proof/lifecycle.go's LifecycleMetrics.
type Metrics struct {
	TotalTransitions int64
	Finalized        int64
	Slashed          int64
	Cancelled        int64
	Aborted          int64
	LastTransitionAt time.Time
}

// Machine is the job state machine and escrow. EscrowAccount and
// ProtocolFeeAccount are addresses on the injected Ledger that hold
// in-flight job funds and accumulated fees respectively.
type Machine struct {
	mu   sync.Mutex
	jobs map[hasher.Digest]*Job

	ledger             ledger.Ledger
	fees               FeeSchedule
	modules            *ModuleRegistry
	escrowAccount      identity.Address
	protocolFeeAccount identity.Address

	listeners []StateChangeListener
	metrics   Metrics
}

// NewMachine constructs a Machine. escrowAccount is the ledger account
// that custodies payment + bond + collateral while a job is in flight;
// protocolFeeAccount accumulates the fee taken on Finalized.
func NewMachine(l ledger.Ledger, modules *ModuleRegistry, fees FeeSchedule, escrowAccount, protocolFeeAccount identity.Address) *Machine {
	if fees == nil {
		fees = DefaultFeeSchedule()
	}
	return &Machine{
		jobs:               make(map[hasher.Digest]*Job),
		ledger:             l,
		fees:               fees,
		modules:            modules,
		escrowAccount:      escrowAccount,
		protocolFeeAccount: protocolFeeAccount,
	}
}

// AddStateChangeListener registers a listener invoked (in a new
// goroutine, per the teacher's notifyListeners pattern) after every
// transition.
func (m *Machine) AddStateChangeListener(l StateChangeListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

func (m *Machine) notify(jobID hasher.Digest, from, to Status, details map[string]any) {
	for _, l := range m.listeners {
		go l(jobID, from, to, details)
	}
}

// Metrics returns a snapshot of machine-wide counters.
func (m *Machine) Metrics() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.metrics
}

// Job returns a copy of the job record, or ErrJobNotFound.
func (m *Machine) Job(jobID hasher.Digest) (Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	return j.clone(), nil
}

// CreateJobParams carries the arguments of the client-facing createJob
// call (spec.md §6).
type CreateJobParams struct {
	Client           identity.Address
	Nonce            uint64
	PayToken         string
	PayAmount        *big.Int
	ClientBond       *big.Int
	ModuleDigest     hasher.Digest
	InputDigest      hasher.Digest
	InlineInputSize  int // 0 if the input is referenced externally
	AcceptDeadline   time.Time
	FinalizeDeadline time.Time
	FuelLimit        uint64
	MemLimit         int
	MaxOutputSize    int
}

// CreateJob registers a new job, computes its identifier, and escrows
// payment + client bond from the client's ledger account. The module must
// already be registered (via ModuleRegistry.Register / the registerWasm
// call); oversized or unregistered modules are rejected here, never
// silently accepted.
func (m *Machine) CreateJob(ctx context.Context, p CreateJobParams) (Job, error) {
	if p.PayAmount == nil || p.PayAmount.Sign() <= 0 {
		return Job{}, ErrInvalidAmount
	}
	if !p.FinalizeDeadline.After(p.AcceptDeadline) {
		return Job{}, ErrInvalidDeadlines
	}
	if p.InlineInputSize > MaxInlineInputSize {
		return Job{}, ErrInputTooLarge
	}
	if m.modules != nil && !m.modules.Has(p.ModuleDigest) {
		return Job{}, ErrModuleNotFound
	}

	jobID := Identifier(p.ModuleDigest, p.InputDigest, p.Client, p.Nonce)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.jobs[jobID]; exists {
		return Job{}, ErrDuplicateJob
	}

	bond := p.ClientBond
	if bond == nil {
		bond = big.NewInt(0)
	}
	total := new(big.Int).Add(p.PayAmount, bond)
	if total.Sign() > 0 {
		if err := m.ledger.Transfer(ctx, p.PayToken, p.Client, m.escrowAccount, total); err != nil {
			return Job{}, err
		}
	}

	job := &Job{
		ID:               jobID,
		Client:           p.Client,
		PayToken:         p.PayToken,
		PayAmount:        new(big.Int).Set(p.PayAmount),
		ClientBond:       new(big.Int).Set(bond),
		ModuleDigest:     p.ModuleDigest,
		InputDigest:      p.InputDigest,
		AcceptDeadline:   p.AcceptDeadline,
		FinalizeDeadline: p.FinalizeDeadline,
		FuelLimit:        p.FuelLimit,
		MemLimit:         p.MemLimit,
		MaxOutputSize:    p.MaxOutputSize,
		Status:           StatusCreated,
		Nonce:            p.Nonce,
		CreatedAt:        time.Now(),
	}
	if job.MemLimit <= 0 || job.MemLimit > wasmsbx.MaxMemoryBytes {
		job.MemLimit = wasmsbx.MaxMemoryBytes
	}
	m.jobs[jobID] = job
	return job.clone(), nil
}

func (m *Machine) transition(job *Job, to Status, now time.Time, details map[string]any) error {
	if !isValidTransition(job.Status, to) {
		return ErrInvalidTransition
	}
	from := job.Status
	job.Status = to
	m.metrics.TotalTransitions++
	m.metrics.LastTransitionAt = now
	switch to {
	case StatusFinalized:
		m.metrics.Finalized++
	case StatusSlashed:
		m.metrics.Slashed++
	case StatusCancelled:
		m.metrics.Cancelled++
	case StatusAborted:
		m.metrics.Aborted++
	}
	jobID := job.ID
	go func() { m.notify(jobID, from, to, details) }()
	return nil
}

// AcceptJob locks 2x payment as executor collateral and moves the job
// Created -> Accepted. Must happen before AcceptDeadline.
func (m *Machine) AcceptJob(ctx context.Context, jobID hasher.Digest, executor identity.Address, now time.Time) (Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	if job.Status != StatusCreated {
		return Job{}, ErrInvalidTransition
	}
	if !now.Before(job.AcceptDeadline) {
		return Job{}, ErrDeadlineLapsed
	}

	collateral := new(big.Int).Mul(job.PayAmount, big.NewInt(2))
	if err := m.ledger.Transfer(ctx, job.PayToken, executor, m.escrowAccount, collateral); err != nil {
		return Job{}, err
	}

	job.Executor = executor
	job.ExecutorCollateral = collateral
	if err := m.transition(job, StatusAccepted, now, nil); err != nil {
		return Job{}, err
	}
	return job.clone(), nil
}

// SubmitReceipt accepts the executor's signed output-digest commitment
// and moves the job Accepted -> Receipt. The caller (pkg/bisection, or a
// transport handler) is responsible for verifying the signature against
// the executor's registered key before calling this; Machine stores it
// verbatim as the canonical record.
func (m *Machine) SubmitReceipt(jobID hasher.Digest, executor identity.Address, outputDigest hasher.Digest, signature []byte, now time.Time) (Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	if job.Status != StatusAccepted {
		return Job{}, ErrInvalidTransition
	}
	if job.Executor != executor {
		return Job{}, ErrNotAuthorized
	}
	if !job.OutputDigest.IsZero() {
		return Job{}, ErrReceiptExists
	}

	job.OutputDigest = outputDigest
	job.ReceiptSignature = append([]byte(nil), signature...)
	if err := m.transition(job, StatusReceipt, now, nil); err != nil {
		return Job{}, err
	}
	return job.clone(), nil
}

// SetCommittee records the primary/backup verifier committee selected
// for a job once it reaches Receipt (pkg/verifier calls this after
// Select). It does not itself transition status.
func (m *Machine) SetCommittee(jobID hasher.Digest, primary, backup []identity.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	if len(job.PrimaryVerifiers) > 0 {
		return nil // idempotent: tolerate duplicated randomness-callback delivery
	}
	job.PrimaryVerifiers = append([]identity.Address(nil), primary...)
	job.BackupVerifiers = append([]identity.Address(nil), backup...)
	return nil
}

// payout applies a final credit/debit schedule atomically and transitions
// the job to a terminal status. Every caller of this (Finalize,
// ClaimTimeout, ApplyFraudSlash, ApplyAbort, Cancel) holds m.mu already.
func (m *Machine) payout(ctx context.Context, job *Job, credits map[identity.Address]*big.Int, to Status, now time.Time, details map[string]any) error {
	for account, amount := range credits {
		if amount == nil || amount.Sign() <= 0 {
			continue
		}
		if err := m.ledger.Transfer(ctx, job.PayToken, m.escrowAccount, account, amount); err != nil {
			return err
		}
	}
	return m.transition(job, to, now, details)
}

// Finalize is the client-driven happy path: within the finalize deadline,
// pay the executor (payment minus fee, plus collateral back), refund the
// client bond, and accumulate the fee. Status -> Finalized.
func (m *Machine) Finalize(ctx context.Context, jobID hasher.Digest, caller identity.Address, now time.Time) (Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	if job.Status != StatusReceipt {
		return Job{}, ErrInvalidTransition
	}
	if caller != job.Client {
		return Job{}, ErrNotAuthorized
	}
	if !now.Before(job.FinalizeDeadline) {
		return Job{}, ErrDeadlineLapsed
	}
	if err := m.finalizePayout(ctx, job, now); err != nil {
		return Job{}, err
	}
	return job.clone(), nil
}

// ClaimTimeout is the executor-driven path once the finalize deadline has
// lapsed with no client finalize and no fraud proof in flight. Payout
// arithmetic is identical to Finalize, per spec.md §4.C's state graph.
func (m *Machine) ClaimTimeout(ctx context.Context, jobID hasher.Digest, executor identity.Address, now time.Time) (Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	if job.Status != StatusReceipt {
		return Job{}, ErrInvalidTransition
	}
	if executor != job.Executor {
		return Job{}, ErrNotAuthorized
	}
	if now.Before(job.FinalizeDeadline) {
		return Job{}, ErrDeadlineNotLapsed
	}
	if err := m.finalizePayout(ctx, job, now); err != nil {
		return Job{}, err
	}
	return job.clone(), nil
}

func (m *Machine) finalizePayout(ctx context.Context, job *Job, now time.Time) error {
	fee := m.fees.Fee(job.PayAmount)
	executorPay := new(big.Int).Sub(job.PayAmount, fee)
	executorPay.Add(executorPay, job.ExecutorCollateral)

	credits := map[identity.Address]*big.Int{
		job.Executor:           executorPay,
		job.Client:             job.ClientBond,
		m.protocolFeeAccount:   fee,
	}
	return m.payout(ctx, job, credits, StatusFinalized, now, map[string]any{"fee": fee.String()})
}

// ApplyFraudSlash is called by pkg/bisection/pkg/fraud once a dispute
// resolves in the challenger's favor: the pool (payment + collateral) is
// split 20% bounty to the proving verifier, remainder plus the client
// bond returned to the client. The executor receives nothing.
func (m *Machine) ApplyFraudSlash(ctx context.Context, jobID hasher.Digest, provingVerifier identity.Address, now time.Time) (Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	if job.Status != StatusReceipt {
		return Job{}, ErrInvalidTransition
	}

	pool := new(big.Int).Add(job.PayAmount, job.ExecutorCollateral)
	bounty := new(big.Int).Mul(pool, big.NewInt(BountyBasisPoints))
	bounty.Div(bounty, big.NewInt(10000))
	remainder := new(big.Int).Sub(pool, bounty)
	clientCredit := new(big.Int).Add(remainder, job.ClientBond)

	credits := map[identity.Address]*big.Int{
		provingVerifier: bounty,
		job.Client:      clientCredit,
	}
	if err := m.payout(ctx, job, credits, StatusSlashed, now, map[string]any{"bounty": bounty.String()}); err != nil {
		return Job{}, err
	}
	return job.clone(), nil
}

// ApplyAbort handles "admission failure on authoritative re-execution"
// (spec.md §4.B/§9 Open Question, resolved as half-slash, not fraud): the
// client is made whole (payment + bond + half the collateral); the
// executor retains the other half. Valid from Accepted (the sandbox
// rejected the module before any receipt) or Receipt (rejected during
// dispute adjudication).
func (m *Machine) ApplyAbort(ctx context.Context, jobID hasher.Digest, now time.Time) (Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	if job.Status != StatusAccepted && job.Status != StatusReceipt {
		return Job{}, ErrInvalidTransition
	}

	half := new(big.Int).Div(job.ExecutorCollateral, big.NewInt(2))
	executorShare := new(big.Int).Sub(job.ExecutorCollateral, half) // executor keeps the remainder on odd collateral
	clientCredit := new(big.Int).Add(job.PayAmount, job.ClientBond)
	clientCredit.Add(clientCredit, half)

	credits := map[identity.Address]*big.Int{
		job.Client:   clientCredit,
		job.Executor: executorShare,
	}
	if err := m.payout(ctx, job, credits, StatusAborted, now, nil); err != nil {
		return Job{}, err
	}
	return job.clone(), nil
}

// Cancel is the client-driven reclaim path: the accept deadline lapsed
// with no executor, so payment and bond return to the client in full.
func (m *Machine) Cancel(ctx context.Context, jobID hasher.Digest, caller identity.Address, now time.Time) (Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	if job.Status != StatusCreated {
		return Job{}, ErrInvalidTransition
	}
	if caller != job.Client {
		return Job{}, ErrNotAuthorized
	}
	if !now.After(job.AcceptDeadline) {
		return Job{}, ErrDeadlineNotLapsed
	}

	refund := new(big.Int).Add(job.PayAmount, job.ClientBond)
	credits := map[identity.Address]*big.Int{job.Client: refund}
	if err := m.payout(ctx, job, credits, StatusCancelled, now, nil); err != nil {
		return Job{}, err
	}
	return job.clone(), nil
}

// EscrowedBalance returns the escrow account's current balance in token,
// used by the conservation property test (spec.md §8).
func (m *Machine) EscrowedBalance(ctx context.Context, token string) (*big.Int, error) {
	return m.ledger.BalanceOf(ctx, token, m.escrowAccount)
}

// ActiveEscrowTotal sums payment + client bond + executor collateral
// across every job currently in {Accepted, Receipt} for token, plus
// payment + client bond for every job still in Created (escrowed by
// CreateJob) — the right-hand side of the conservation invariant
// (spec.md §3 invariant b, §8 "Conservation").
func (m *Machine) ActiveEscrowTotal(token string) *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := big.NewInt(0)
	for _, job := range m.jobs {
		if job.PayToken != token {
			continue
		}
		switch job.Status {
		case StatusCreated:
			total.Add(total, job.PayAmount)
			total.Add(total, job.ClientBond)
		case StatusAccepted, StatusReceipt:
			total.Add(total, job.PayAmount)
			total.Add(total, job.ClientBond)
			total.Add(total, job.ExecutorCollateral)
		}
	}
	return total
}

// String renders a Job for logs/debugging.
func (j Job) String() string {
	return fmt.Sprintf("Job{%x status=%s client=%s executor=%s}", j.ID[:8], j.Status, identity.String(j.Client), identity.String(j.Executor))
}

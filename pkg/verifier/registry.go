// Copyright 2025 Trustcompute Protocol
//
// Registry owns the verifier population: registration, heartbeats, region
// concentration accounting, and slashing. Region-concentration bookkeeping
// generalizes the per-peer accounting shape of pkg/batch/peer_manager.go
// (a map keyed by identity, a running total, look up before inserting);
// heartbeat liveness reuses the interval-based online/offline shape of
// pkg/consensus/health_monitor.go, collapsed from a single consensus-wide
// monitor into a per-verifier last-seen timestamp checked at selection
// time rather than on a polling loop, since liveness here only ever
// matters at the instant a committee is drawn.

package verifier

import (
	"math/big"
	"sync"
	"time"

	"github.com/trustcompute/protocol/pkg/identity"
)

// DefaultHeartbeatInterval is the liveness window: a verifier not heard
// from within this long is not eligible for selection (spec.md §3, §4.D).
const DefaultHeartbeatInterval = 10 * time.Minute

// MaxRegionConcentration is the fraction of the registered population a
// single region may account for (spec.md §3, §4.D): 30%.
const MaxRegionConcentration = 0.30

// NonResponseSlashBasisPoints is the stake fraction forfeited by a
// selected verifier that neither confirms nor disputes within its
// response deadline (spec.md §4.D): 50%.
const NonResponseSlashBasisPoints = 5000

// Registration is one verifier's on-record state (spec.md §3).
type Registration struct {
	Address identity.Address

	StakeToken string
	Stake      *big.Int

	Region       string
	CapacityHint int64

	Active         bool
	Banned         bool
	LastHeartbeat  time.Time
	RegisteredAt   time.Time

	PendingResponsibilities int // selected committee slots not yet resolved

	JobsVerified   int64
	FraudsDetected int64
}

func (r Registration) clone() Registration {
	cp := r
	if r.Stake != nil {
		cp.Stake = new(big.Int).Set(r.Stake)
	}
	return cp
}

// Registry is the verifier population and its accounting. Safe for
// concurrent use.
type Registry struct {
	mu            sync.Mutex
	verifiers     map[identity.Address]*Registration
	regionCounts  map[string]int
	minStake      *big.Int
	stakeToken    string
	heartbeatWindow time.Duration
}

// NewRegistry constructs an empty Registry. minStake and stakeToken gate
// registration; heartbeatWindow defaults to DefaultHeartbeatInterval when
// zero.
func NewRegistry(minStake *big.Int, stakeToken string, heartbeatWindow time.Duration) *Registry {
	if heartbeatWindow <= 0 {
		heartbeatWindow = DefaultHeartbeatInterval
	}
	return &Registry{
		verifiers:       make(map[identity.Address]*Registration),
		regionCounts:    make(map[string]int),
		minStake:        minStake,
		stakeToken:      stakeToken,
		heartbeatWindow: heartbeatWindow,
	}
}

// Register admits a new verifier, rejecting insufficient stake or a
// region already at the concentration cap (counting the candidate
// itself, per spec.md §4.D).
func (r *Registry) Register(addr identity.Address, stake *big.Int, region string, capacityHint int64, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.verifiers[addr]; exists {
		return ErrAlreadyRegistered
	}
	if r.minStake != nil && (stake == nil || stake.Cmp(r.minStake) < 0) {
		return ErrStakeTooLow
	}

	total := len(r.verifiers) + 1
	regionTotal := r.regionCounts[region] + 1
	if float64(regionTotal)/float64(total) > MaxRegionConcentration {
		return ErrRegionConcentrated
	}

	r.verifiers[addr] = &Registration{
		Address:       addr,
		StakeToken:    r.stakeToken,
		Stake:         new(big.Int).Set(stake),
		Region:        region,
		CapacityHint:  capacityHint,
		Active:        true,
		LastHeartbeat: now,
		RegisteredAt:  now,
	}
	r.regionCounts[region] = regionTotal
	return nil
}

// Heartbeat records liveness for addr.
func (r *Registry) Heartbeat(addr identity.Address, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.verifiers[addr]
	if !ok {
		return ErrNotRegistered
	}
	v.LastHeartbeat = now
	return nil
}

// Unregister returns stake and removes addr, refusing while
// PendingResponsibilities > 0 (spec.md §4.D "Unregistration returns stake
// after any pending responsibilities clear").
func (r *Registry) Unregister(addr identity.Address) (Registration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.verifiers[addr]
	if !ok {
		return Registration{}, ErrNotRegistered
	}
	if v.PendingResponsibilities > 0 {
		return Registration{}, ErrPendingResponsibilities
	}
	delete(r.verifiers, addr)
	r.regionCounts[v.Region]--
	return v.clone(), nil
}

// Get returns a copy of addr's registration.
func (r *Registry) Get(addr identity.Address) (Registration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.verifiers[addr]
	if !ok {
		return Registration{}, ErrNotRegistered
	}
	return v.clone(), nil
}

// isOnline reports whether now is within the heartbeat window of addr's
// last heartbeat. Must be called with r.mu held.
func (r *Registry) isOnline(v *Registration, now time.Time) bool {
	return !now.After(v.LastHeartbeat.Add(r.heartbeatWindow))
}

// eligiblePool returns the addresses eligible for selection against a
// job's payment token at instant now, per spec.md §4.D's eligibility
// predicates: active, online, token-compatible, not banned.
func (r *Registry) eligiblePool(payToken string, now time.Time) []identity.Address {
	pool := make([]identity.Address, 0, len(r.verifiers))
	for addr, v := range r.verifiers {
		if !v.Active || v.Banned {
			continue
		}
		if v.StakeToken != payToken {
			continue
		}
		if !r.isOnline(v, now) {
			continue
		}
		pool = append(pool, addr)
	}
	return pool
}

// markPendingForCommittee increments PendingResponsibilities for every
// address in committee. Called after a successful Select.
func (r *Registry) markPendingForCommittee(committee []identity.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, addr := range committee {
		if v, ok := r.verifiers[addr]; ok {
			v.PendingResponsibilities++
		}
	}
}

// ClearResponsibility decrements PendingResponsibilities for addr once its
// committee duty resolves (confirm, dispute, or non-response slash).
func (r *Registry) ClearResponsibility(addr identity.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.verifiers[addr]; ok && v.PendingResponsibilities > 0 {
		v.PendingResponsibilities--
	}
}

// RecordVerified increments addr's jobs-verified counter.
func (r *Registry) RecordVerified(addr identity.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.verifiers[addr]; ok {
		v.JobsVerified++
	}
}

// RecordFraudDetected increments addr's frauds-detected counter.
func (r *Registry) RecordFraudDetected(addr identity.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.verifiers[addr]; ok {
		v.FraudsDetected++
	}
}

// SlashNonResponse penalizes addr 50% of its current stake (spec.md
// §4.D) and returns the penalty amount; callers are responsible for
// moving that amount through the ledger to the reporting party's bounty.
func (r *Registry) SlashNonResponse(addr identity.Address) (*big.Int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.verifiers[addr]
	if !ok {
		return nil, ErrNotRegistered
	}
	penalty := new(big.Int).Mul(v.Stake, big.NewInt(NonResponseSlashBasisPoints))
	penalty.Div(penalty, big.NewInt(10000))
	v.Stake.Sub(v.Stake, penalty)
	if v.PendingResponsibilities > 0 {
		v.PendingResponsibilities--
	}
	return penalty, nil
}

// Ban marks addr banned, immediately excluding it from future selection.
func (r *Registry) Ban(addr identity.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.verifiers[addr]
	if !ok {
		return ErrNotRegistered
	}
	v.Banned = true
	return nil
}

// Size returns the number of registered verifiers (for region
// concentration accounting visible to callers/tests).
func (r *Registry) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.verifiers)
}

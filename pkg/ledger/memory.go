// Copyright 2025 Trustcompute Protocol
//
// Memory is an in-process Ledger realization used by tests and by a
// single-node deployment that has no consensus layer underneath it,
// grounded on main.go's original MemoryKV: a mutex-guarded map standing in
// for a durable store, with no teardown. Randomness is a counter-seeded
// PRNG (deterministic across repeated test runs, not adversarially
// unpredictable) and the block-digest history is a hash chain appended to
// on every transfer, standing in for "recent block digests."

package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math/big"
	"sync"

	"github.com/trustcompute/protocol/pkg/hasher"
	"github.com/trustcompute/protocol/pkg/identity"
)

type memoryAccount struct {
	balances map[string]*big.Int // token -> balance
}

// Memory is an in-memory Ledger. Safe for concurrent use.
type Memory struct {
	mu       sync.Mutex
	accounts map[identity.Address]*memoryAccount

	randSeed    uint64
	randomness  map[RandomnessRequestID]struct {
		seed [32]byte
		ok   bool
	}
	nextReqID RandomnessRequestID

	blockHistory []hasher.Digest // most recent last
}

// NewMemory returns an empty Memory ledger.
func NewMemory() *Memory {
	return &Memory{
		accounts: make(map[identity.Address]*memoryAccount),
		randomness: make(map[RandomnessRequestID]struct {
			seed [32]byte
			ok   bool
		}),
		blockHistory: []hasher.Digest{hasher.Of([]byte("genesis"))},
	}
}

func (m *Memory) account(addr identity.Address) *memoryAccount {
	a, ok := m.accounts[addr]
	if !ok {
		a = &memoryAccount{balances: make(map[string]*big.Int)}
		m.accounts[addr] = a
	}
	return a
}

// Credit adds amount of token to account's balance. Used by tests and by
// genesis funding; not part of the Ledger interface (real deployments fund
// accounts through their own on-ramp, not this protocol).
func (m *Memory) Credit(account identity.Address, token string, amount *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.account(account)
	bal, ok := a.balances[token]
	if !ok {
		bal = big.NewInt(0)
	}
	a.balances[token] = new(big.Int).Add(bal, amount)
}

// Transfer implements Ledger.
func (m *Memory) Transfer(ctx context.Context, token string, from, to identity.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	fromAcct := m.account(from)
	bal, ok := fromAcct.balances[token]
	if !ok || bal.Cmp(amount) < 0 {
		return ErrInsufficientFunds
	}
	fromAcct.balances[token] = new(big.Int).Sub(bal, amount)

	toAcct := m.account(to)
	toBal, ok := toAcct.balances[token]
	if !ok {
		toBal = big.NewInt(0)
	}
	toAcct.balances[token] = new(big.Int).Add(toBal, amount)

	var buf []byte
	buf = append(buf, from[:]...)
	buf = append(buf, to[:]...)
	buf = append(buf, []byte(token)...)
	buf = hasher.PutUint64(buf, amount.Uint64())
	m.blockHistory = append(m.blockHistory, hasher.OfConcat(m.blockHistory[len(m.blockHistory)-1].Bytes(), buf))

	return nil
}

// BalanceOf implements Ledger.
func (m *Memory) BalanceOf(ctx context.Context, token string, account identity.Address) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.account(account)
	bal, ok := a.balances[token]
	if !ok {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(bal), nil
}

// RequestRandomness implements Ledger. The memory ledger delivers
// synchronously (ok=true on the very next poll) so tests never need to
// exercise the fallback-seed grace window explicitly, though they may.
func (m *Memory) RequestRandomness(ctx context.Context, subject hasher.Digest) (RandomnessRequestID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.randSeed++
	var ctr [8]byte
	binary.BigEndian.PutUint64(ctr[:], m.randSeed)
	seedDigest := sha256.Sum256(append(append([]byte{}, subject[:]...), ctr[:]...))

	id := m.nextReqID
	m.nextReqID++
	m.randomness[id] = struct {
		seed [32]byte
		ok   bool
	}{seed: seedDigest, ok: true}
	return id, nil
}

// Randomness implements Ledger.
func (m *Memory) Randomness(ctx context.Context, id RandomnessRequestID) (seed [32]byte, ok bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, exists := m.randomness[id]
	if !exists {
		return [32]byte{}, false, ErrUnknownRequest
	}
	return r.seed, r.ok, nil
}

// BlockDigestHistory implements Ledger.
func (m *Memory) BlockDigestHistory(ctx context.Context, depth int) ([]hasher.Digest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if depth <= 0 || depth > len(m.blockHistory) {
		depth = len(m.blockHistory)
	}
	out := make([]hasher.Digest, depth)
	for i := 0; i < depth; i++ {
		out[i] = m.blockHistory[len(m.blockHistory)-1-i]
	}
	return out, nil
}

// Copyright 2025 Trustcompute Protocol

package verifier

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/trustcompute/protocol/pkg/hasher"
	"github.com/trustcompute/protocol/pkg/identity"
	"github.com/trustcompute/protocol/pkg/ledger"
)

func addr(b byte) identity.Address {
	return identity.FromBytes([]byte{b})
}

func TestRegisterEnforcesMinStakeAndRegionCap(t *testing.T) {
	now := time.Now()
	r := NewRegistry(big.NewInt(100), "STAKE", time.Hour)

	if err := r.Register(addr(1), big.NewInt(50), "us-east", 0, now); err != ErrStakeTooLow {
		t.Fatalf("err = %v, want ErrStakeTooLow", err)
	}

	// Fill region "us-east" up to the 30% cap with a larger population.
	if err := r.Register(addr(1), big.NewInt(100), "us-east", 0, now); err != nil {
		t.Fatalf("register 1: %v", err)
	}
	for i := byte(2); i <= 3; i++ {
		if err := r.Register(addr(i), big.NewInt(100), "eu-west", 0, now); err != nil {
			t.Fatalf("register %d: %v", i, err)
		}
	}
	// Now 1/3 already in us-east; a second us-east registrant would push
	// the region to 2/4 = 50% > 30%.
	if err := r.Register(addr(4), big.NewInt(100), "us-east", 0, now); err != ErrRegionConcentrated {
		t.Fatalf("err = %v, want ErrRegionConcentrated", err)
	}
}

func TestHeartbeatAndOnlineEligibility(t *testing.T) {
	now := time.Now()
	r := NewRegistry(nil, "STAKE", 10*time.Minute)
	if err := r.Register(addr(1), big.NewInt(10), "eu", 0, now); err != nil {
		t.Fatalf("register: %v", err)
	}

	pool := r.eligiblePool("STAKE", now.Add(5*time.Minute))
	if len(pool) != 1 {
		t.Fatalf("expected still-online verifier in pool, got %d", len(pool))
	}

	pool = r.eligiblePool("STAKE", now.Add(11*time.Minute))
	if len(pool) != 0 {
		t.Fatalf("expected offline verifier excluded, got %d", len(pool))
	}

	if err := r.Heartbeat(addr(1), now.Add(10*time.Minute)); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	pool = r.eligiblePool("STAKE", now.Add(11*time.Minute))
	if len(pool) != 1 {
		t.Fatalf("expected refreshed heartbeat to restore eligibility, got %d", len(pool))
	}
}

func TestSelectionIsReproducible(t *testing.T) {
	now := time.Now()
	r := NewRegistry(nil, "STAKE", time.Hour)
	for i := byte(1); i <= 10; i++ {
		region := "r1"
		if i%3 == 0 {
			region = "r2"
		} else if i%3 == 1 {
			region = "r3"
		}
		if err := r.Register(addr(i), big.NewInt(10), region, 0, now); err != nil {
			t.Fatalf("register %d: %v", i, err)
		}
	}

	l := ledger.NewMemory()
	jobID := hasher.Of([]byte("job-1"))

	c1, err := r.Select(context.Background(), l, jobID, "STAKE", now, now)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(c1.Primary) != CommitteeSize || len(c1.Backup) != CommitteeSize {
		t.Fatalf("committee sizes: primary=%d backup=%d", len(c1.Primary), len(c1.Backup))
	}

	// Re-running selectFromPool directly with the same snapshot and seed
	// must reproduce the exact same committee (spec.md §8 "Committee
	// reproducibility").
	pool := r.eligiblePool("STAKE", now)
	primaryAgain, err := selectFromPool(pool, c1.Seed, CommitteeSize, DefaultMaxDraws, nil)
	if err != nil {
		t.Fatalf("selectFromPool: %v", err)
	}
	for i := range primaryAgain {
		if primaryAgain[i] != c1.Primary[i] {
			t.Fatalf("selection not reproducible at slot %d: got %x want %x", i, primaryAgain[i], c1.Primary[i])
		}
	}

	// Primary and backup must be disjoint.
	seen := make(map[identity.Address]bool)
	for _, a := range c1.Primary {
		seen[a] = true
	}
	for _, a := range c1.Backup {
		if seen[a] {
			t.Fatalf("backup committee overlaps primary at %x", a)
		}
	}
}

func TestNonResponseSlash(t *testing.T) {
	now := time.Now()
	r := NewRegistry(nil, "STAKE", time.Hour)
	if err := r.Register(addr(1), big.NewInt(100), "r1", 0, now); err != nil {
		t.Fatalf("register: %v", err)
	}
	penalty, err := r.SlashNonResponse(addr(1))
	if err != nil {
		t.Fatalf("SlashNonResponse: %v", err)
	}
	if penalty.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("penalty = %s, want 50", penalty)
	}
	v, _ := r.Get(addr(1))
	if v.Stake.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("remaining stake = %s, want 50", v.Stake)
	}
}

func TestUnregisterBlockedByPendingResponsibilities(t *testing.T) {
	now := time.Now()
	r := NewRegistry(nil, "STAKE", time.Hour)
	r.Register(addr(1), big.NewInt(10), "r1", 0, now)
	r.markPendingForCommittee([]identity.Address{addr(1)})

	if _, err := r.Unregister(addr(1)); err != ErrPendingResponsibilities {
		t.Fatalf("err = %v, want ErrPendingResponsibilities", err)
	}

	r.ClearResponsibility(addr(1))
	if _, err := r.Unregister(addr(1)); err != nil {
		t.Fatalf("Unregister after clearing: %v", err)
	}
}

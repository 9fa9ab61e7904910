// Copyright 2025 Trustcompute Protocol
//
// Protocol fees follow a tiered schedule by payment size (spec.md §4.C);
// the schedule itself is configuration external to this core, so it is
// expressed as an interface the Machine is constructed with rather than a
// hard-coded formula, mirroring how the teacher keeps fee-tier policy out
// of pkg/proof/lifecycle.go and behind its own config package.
package escrow

import "math/big"

// FeeSchedule computes the protocol fee owed on a job's payment amount.
// The fee is always < payAmount.
type FeeSchedule interface {
	Fee(payAmount *big.Int) *big.Int
}

// FlatFeeSchedule charges a fixed basis-point fee regardless of payment
// size. This is the default used when no tiered schedule is configured.
type FlatFeeSchedule struct {
	BasisPoints int64 // e.g. 50 = 0.50%
}

// Fee implements FeeSchedule.
func (f FlatFeeSchedule) Fee(payAmount *big.Int) *big.Int {
	if payAmount == nil || payAmount.Sign() <= 0 {
		return big.NewInt(0)
	}
	fee := new(big.Int).Mul(payAmount, big.NewInt(f.BasisPoints))
	fee.Div(fee, big.NewInt(10000))
	return fee
}

// FeeTier is one band of a TieredFeeSchedule: payments strictly below
// UpTo (nil meaning unbounded) are charged BasisPoints.
type FeeTier struct {
	UpTo        *big.Int // exclusive upper bound, nil = no bound
	BasisPoints int64
}

// TieredFeeSchedule charges a basis-point rate that decreases (typically)
// as payment size grows, matching spec.md's "tiered schedule by payment
// size." Tiers must be supplied in ascending UpTo order with exactly one
// unbounded (UpTo == nil) final tier.
type TieredFeeSchedule struct {
	Tiers []FeeTier
}

// Fee implements FeeSchedule.
func (f TieredFeeSchedule) Fee(payAmount *big.Int) *big.Int {
	if payAmount == nil || payAmount.Sign() <= 0 {
		return big.NewInt(0)
	}
	for _, tier := range f.Tiers {
		if tier.UpTo == nil || payAmount.Cmp(tier.UpTo) < 0 {
			fee := new(big.Int).Mul(payAmount, big.NewInt(tier.BasisPoints))
			fee.Div(fee, big.NewInt(10000))
			return fee
		}
	}
	return big.NewInt(0)
}

// DefaultFeeSchedule mirrors a conservative three-tier default: smaller
// jobs subsidize relatively more protocol overhead (higher rate), large
// jobs pay a thinner rate.
func DefaultFeeSchedule() FeeSchedule {
	return TieredFeeSchedule{Tiers: []FeeTier{
		{UpTo: big.NewInt(100), BasisPoints: 100},  // < 100 units: 1%
		{UpTo: big.NewInt(10000), BasisPoints: 50}, // < 10,000 units: 0.5%
		{UpTo: nil, BasisPoints: 20},                // unbounded: 0.2%
	}}
}

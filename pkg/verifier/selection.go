// Copyright 2025 Trustcompute Protocol
//
// Selection picks, for a job, a primary committee of three and a backup
// committee of three from the eligible pool, deterministically given
// (job identifier, registered-population snapshot, random seed) — per
// spec.md §4.D and the committee-reproducibility property of §8. The
// eligibility-as-tagged-variant idea from spec.md §9 ("Dynamic dispatch
// over committee members") is realized as IneligibilityReason below, kept
// separate from the pure selection function so selection itself stays a
// function returning a concrete tuple of identities.

package verifier

import (
	"context"
	"encoding/binary"
	"sort"
	"time"

	"github.com/trustcompute/protocol/pkg/hasher"
	"github.com/trustcompute/protocol/pkg/identity"
	"github.com/trustcompute/protocol/pkg/ledger"
)

// CommitteeSize is the number of verifiers in each of the primary and
// backup committees (spec.md §4.D).
const CommitteeSize = 3

// DefaultMaxDraws is the bounded re-draw cap per slot (spec.md §4.D).
const DefaultMaxDraws = 200

// RandomnessGraceWindow is how long Select waits for the ledger's
// verifiable-randomness callback before falling back to the deterministic
// block-digest-history seed (spec.md §4.D "Fallback").
const RandomnessGraceWindow = 2 * time.Minute

// IneligibilityReason tags why a candidate was skipped during a draw,
// for observability (spec.md §9); selection's return value is always a
// concrete address list regardless.
type IneligibilityReason string

const (
	ReasonNone             IneligibilityReason = ""
	ReasonAlreadySelected  IneligibilityReason = "AlreadySelected"
	ReasonInactiveOrBanned IneligibilityReason = "InactiveOrBanned"
	ReasonOffline          IneligibilityReason = "Offline"
	ReasonTokenMismatch    IneligibilityReason = "TokenMismatch"
)

// Committee is the result of one selection: three primaries, three
// backups, and the seed that produced them (recorded for reproducibility
// audits).
type Committee struct {
	Primary []identity.Address
	Backup  []identity.Address
	Seed    [32]byte
}

// sortAddresses returns a deterministically-ordered copy of addrs so that
// selection depends only on set membership, never on map iteration order.
func sortAddresses(addrs []identity.Address) []identity.Address {
	out := append([]identity.Address(nil), addrs...)
	sort.Slice(out, func(i, j int) bool {
		for k := 0; k < len(out[i]); k++ {
			if out[i][k] != out[j][k] {
				return out[i][k] < out[j][k]
			}
		}
		return false
	})
	return out
}

// drawIndex derives a deterministic pseudo-uniform index into [0, n) from
// seed, a slot discriminator, and a draw counter (the re-draw attempt).
func drawIndex(seed [32]byte, slot uint32, draw uint32, n int) int {
	buf := make([]byte, 0, 32+8)
	buf = append(buf, seed[:]...)
	buf = hasher.PutUint32(buf, slot)
	buf = hasher.PutUint32(buf, draw)
	d := hasher.Of(buf)
	v := binary.BigEndian.Uint64(d[:8])
	return int(v % uint64(n))
}

// selectFromPool draws size distinct addresses from the deterministically
// sorted pool using seed, skipping any address in exclude. It is a pure
// function of its inputs — the committee-reproducibility property.
func selectFromPool(pool []identity.Address, seed [32]byte, size, maxDraws int, exclude map[identity.Address]bool) ([]identity.Address, error) {
	sorted := sortAddresses(pool)
	if len(sorted) == 0 {
		return nil, ErrInsufficientPool
	}

	selected := make([]identity.Address, 0, size)
	chosen := make(map[identity.Address]bool, size)
	for k := range exclude {
		chosen[k] = true
	}

	for slot := 0; slot < size; slot++ {
		found := false
		for draw := 0; draw < maxDraws; draw++ {
			idx := drawIndex(seed, uint32(slot), uint32(draw), len(sorted))
			candidate := sorted[idx]
			if chosen[candidate] {
				continue
			}
			chosen[candidate] = true
			selected = append(selected, candidate)
			found = true
			break
		}
		if !found {
			return nil, ErrDrawCapExceeded
		}
	}
	return selected, nil
}

// deriveBackupSeed derives the backup committee's seed from the primary
// seed, so the two committees never share a draw sequence.
func deriveBackupSeed(seed [32]byte) [32]byte {
	return [32]byte(hasher.OfConcat(seed[:], []byte("backup")))
}

// seedFor obtains the 256-bit random seed for jobID from l, requesting it
// if necessary and falling back to the deterministic block-digest-history
// seed if the randomness source hasn't delivered within
// RandomnessGraceWindow (spec.md §4.D "Fallback").
func seedFor(ctx context.Context, l ledger.Ledger, jobID hasher.Digest, requestedAt time.Time, now time.Time) ([32]byte, error) {
	reqID, err := l.RequestRandomness(ctx, jobID)
	if err != nil {
		return [32]byte{}, err
	}
	seed, ok, err := l.Randomness(ctx, reqID)
	if err != nil {
		return [32]byte{}, err
	}
	if ok {
		return seed, nil
	}
	if now.Sub(requestedAt) < RandomnessGraceWindow {
		return [32]byte{}, ledger.ErrRandomnessNotReady
	}
	// Fallback: a fixed-depth history of ledger block digests. Any party
	// may trigger this; it trades unpredictability for liveness, which the
	// protocol tolerates because a single honest committee member still
	// suffices to prove fraud.
	history, err := l.BlockDigestHistory(ctx, 16)
	if err != nil {
		return [32]byte{}, err
	}
	parts := make([][]byte, 0, len(history)+1)
	parts = append(parts, jobID[:])
	for _, d := range history {
		parts = append(parts, d[:])
	}
	return [32]byte(hasher.OfConcat(parts...)), nil
}

// Select picks a job's primary and backup committees. eligiblePool is
// re-computed from the live registry snapshot at call time (active,
// online, token-compatible, not banned); the draw itself is pure given
// the resulting pool and seed.
func (r *Registry) Select(ctx context.Context, l ledger.Ledger, jobID hasher.Digest, payToken string, requestedAt, now time.Time) (Committee, error) {
	r.mu.Lock()
	pool := r.eligiblePool(payToken, now)
	r.mu.Unlock()

	seed, err := seedFor(ctx, l, jobID, requestedAt, now)
	if err != nil {
		return Committee{}, err
	}

	primary, err := selectFromPool(pool, seed, CommitteeSize, DefaultMaxDraws, nil)
	if err != nil {
		return Committee{}, err
	}
	exclude := make(map[identity.Address]bool, len(primary))
	for _, a := range primary {
		exclude[a] = true
	}
	backupSeed := deriveBackupSeed(seed)
	backup, err := selectFromPool(pool, backupSeed, CommitteeSize, DefaultMaxDraws, exclude)
	if err != nil {
		return Committee{}, err
	}

	r.markPendingForCommittee(primary)
	r.markPendingForCommittee(backup)

	return Committee{Primary: primary, Backup: backup, Seed: seed}, nil
}

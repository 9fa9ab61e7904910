// Copyright 2025 Trustcompute Protocol
//
// ChallengeRepository persists bisection.Challenge and
// bisection.DirectDispute records across the two dispute tables the
// direct and interactive paths use.

package database

import (
	"context"
	"database/sql"
	"errors"

	"github.com/trustcompute/protocol/pkg/bisection"
	"github.com/trustcompute/protocol/pkg/hasher"
	"github.com/trustcompute/protocol/pkg/identity"
)

// ChallengeRepository persists bisection disputes, both interactive and
// direct.
type ChallengeRepository struct {
	client *Client
}

// NewChallengeRepository constructs a ChallengeRepository over client.
func NewChallengeRepository(client *Client) *ChallengeRepository {
	return &ChallengeRepository{client: client}
}

// UpsertBisection inserts or replaces an interactive bisection challenge
// row, keyed by job ID; each round overwrites the prior snapshot.
func (r *ChallengeRepository) UpsertBisection(ctx context.Context, c bisection.Challenge) error {
	_, err := r.client.ExecContext(ctx, `
		INSERT INTO bisection_challenges (
			job_id, challenger, executor, round, range_start, range_end,
			total_steps, low_digest, high_digest, executor_mid_digest,
			challenger_mid_digest, final_state_root, phase, round_deadline,
			challenge_stake, escalation_stake, resolved, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,now())
		ON CONFLICT (job_id) DO UPDATE SET
			round = EXCLUDED.round, range_start = EXCLUDED.range_start,
			range_end = EXCLUDED.range_end, low_digest = EXCLUDED.low_digest,
			high_digest = EXCLUDED.high_digest,
			executor_mid_digest = EXCLUDED.executor_mid_digest,
			challenger_mid_digest = EXCLUDED.challenger_mid_digest,
			phase = EXCLUDED.phase, round_deadline = EXCLUDED.round_deadline,
			challenge_stake = EXCLUDED.challenge_stake,
			escalation_stake = EXCLUDED.escalation_stake,
			resolved = EXCLUDED.resolved, updated_at = now()
	`,
		c.JobID[:], c.Challenger.Bytes(), c.Executor.Bytes(), c.Round, c.Start, c.End,
		c.TotalSteps, c.LowDigest[:], c.HighDigest[:], nullableDigest(c.ExecutorMidDigest),
		nullableDigest(c.ChallengerMidDigest), c.FinalStateRoot[:], string(c.Phase), c.RoundDeadline,
		bigOrZeroString(c.ChallengeStake), bigOrZeroString(c.EscalationStake), c.Resolved,
	)
	return err
}

// GetBisection loads the in-flight (or last-resolved) interactive
// challenge for jobID.
func (r *ChallengeRepository) GetBisection(ctx context.Context, jobID hasher.Digest) (bisection.Challenge, error) {
	row := r.client.QueryRowContext(ctx, `
		SELECT job_id, challenger, executor, round, range_start, range_end,
			total_steps, low_digest, high_digest, executor_mid_digest,
			challenger_mid_digest, final_state_root, phase, round_deadline,
			challenge_stake, escalation_stake, resolved
		FROM bisection_challenges WHERE job_id = $1
	`, jobID[:])

	var (
		c                                    bisection.Challenge
		id, challenger, executor             []byte
		low, high, execMid, challMid, root   []byte
		phase, challengeStake, escalation    string
	)
	err := row.Scan(
		&id, &challenger, &executor, &c.Round, &c.Start, &c.End,
		&c.TotalSteps, &low, &high, &execMid,
		&challMid, &root, &phase, &c.RoundDeadline,
		&challengeStake, &escalation, &c.Resolved,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return bisection.Challenge{}, ErrChallengeNotFound
	}
	if err != nil {
		return bisection.Challenge{}, err
	}

	copy(c.JobID[:], id)
	c.Challenger = identity.FromBytes(challenger)
	c.Executor = identity.FromBytes(executor)
	copy(c.LowDigest[:], low)
	copy(c.HighDigest[:], high)
	if execMid != nil {
		copy(c.ExecutorMidDigest[:], execMid)
	}
	if challMid != nil {
		copy(c.ChallengerMidDigest[:], challMid)
	}
	copy(c.FinalStateRoot[:], root)
	c.Phase = bisection.Phase(phase)
	c.ChallengeStake = bigFromString(challengeStake)
	c.EscalationStake = bigFromString(escalation)
	return c, nil
}

// UpsertDirect inserts or replaces a direct (commit-reveal) dispute row.
func (r *ChallengeRepository) UpsertDirect(ctx context.Context, d bisection.DirectDispute) error {
	_, err := r.client.ExecContext(ctx, `
		INSERT INTO direct_disputes (job_id, challenger, commitment, committed_at, phase, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
		ON CONFLICT (job_id) DO UPDATE SET
			phase = EXCLUDED.phase, updated_at = now()
	`, d.JobID[:], d.Challenger.Bytes(), d.Commitment[:], d.CommittedAt, string(d.Phase))
	return err
}

// GetDirect loads the in-flight (or last-resolved) direct dispute for
// jobID.
func (r *ChallengeRepository) GetDirect(ctx context.Context, jobID hasher.Digest) (bisection.DirectDispute, error) {
	row := r.client.QueryRowContext(ctx, `
		SELECT job_id, challenger, commitment, committed_at, phase
		FROM direct_disputes WHERE job_id = $1
	`, jobID[:])

	var (
		d                     bisection.DirectDispute
		id, challenger, commit []byte
		phase                 string
	)
	err := row.Scan(&id, &challenger, &commit, &d.CommittedAt, &phase)
	if errors.Is(err, sql.ErrNoRows) {
		return bisection.DirectDispute{}, ErrChallengeNotFound
	}
	if err != nil {
		return bisection.DirectDispute{}, err
	}
	copy(d.JobID[:], id)
	d.Challenger = identity.FromBytes(challenger)
	copy(d.Commitment[:], commit)
	d.Phase = bisection.DirectDisputePhase(phase)
	return d, nil
}

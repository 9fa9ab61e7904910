// Copyright 2025 Trustcompute Protocol
//
// VerifierRepository persists verifier.Registration records, the same
// shape as JobRepository.

package database

import (
	"context"
	"database/sql"
	"errors"

	"github.com/trustcompute/protocol/pkg/identity"
	"github.com/trustcompute/protocol/pkg/verifier"
)

// VerifierRepository persists and retrieves verifier registrations.
type VerifierRepository struct {
	client *Client
}

// NewVerifierRepository constructs a VerifierRepository over client.
func NewVerifierRepository(client *Client) *VerifierRepository {
	return &VerifierRepository{client: client}
}

// Insert creates a new verifier row.
func (r *VerifierRepository) Insert(ctx context.Context, v verifier.Registration) error {
	_, err := r.client.ExecContext(ctx, `
		INSERT INTO verifiers (
			address, stake_token, stake, region, capacity_hint, active,
			banned, last_heartbeat, registered_at, pending_responsibilities,
			jobs_verified, frauds_detected
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`,
		v.Address.Bytes(), v.StakeToken, bigOrZeroString(v.Stake), v.Region, v.CapacityHint, v.Active,
		v.Banned, v.LastHeartbeat, v.RegisteredAt, v.PendingResponsibilities,
		v.JobsVerified, v.FraudsDetected,
	)
	return err
}

// UpdateState rewrites a verifier's mutable fields after a registry
// operation (heartbeat, ban, slash, committee assignment/clearance).
func (r *VerifierRepository) UpdateState(ctx context.Context, v verifier.Registration) error {
	res, err := r.client.ExecContext(ctx, `
		UPDATE verifiers SET
			stake = $2, active = $3, banned = $4, last_heartbeat = $5,
			pending_responsibilities = $6, jobs_verified = $7, frauds_detected = $8
		WHERE address = $1
	`,
		v.Address.Bytes(), bigOrZeroString(v.Stake), v.Active, v.Banned, v.LastHeartbeat,
		v.PendingResponsibilities, v.JobsVerified, v.FraudsDetected,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrVerifierNotFound
	}
	return nil
}

// Get loads one verifier by address.
func (r *VerifierRepository) Get(ctx context.Context, addr identity.Address) (verifier.Registration, error) {
	row := r.client.QueryRowContext(ctx, `
		SELECT address, stake_token, stake, region, capacity_hint, active,
			banned, last_heartbeat, registered_at, pending_responsibilities,
			jobs_verified, frauds_detected
		FROM verifiers WHERE address = $1
	`, addr.Bytes())
	v, err := scanVerifier(row)
	if errors.Is(err, sql.ErrNoRows) {
		return verifier.Registration{}, ErrVerifierNotFound
	}
	return v, err
}

// ListActive returns every verifier currently eligible for selection
// bookkeeping (active, not banned), for operator dashboards and region
// concentration audits.
func (r *VerifierRepository) ListActive(ctx context.Context) ([]verifier.Registration, error) {
	rows, err := r.client.QueryContext(ctx, `
		SELECT address, stake_token, stake, region, capacity_hint, active,
			banned, last_heartbeat, registered_at, pending_responsibilities,
			jobs_verified, frauds_detected
		FROM verifiers WHERE active AND NOT banned ORDER BY registered_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []verifier.Registration
	for rows.Next() {
		v, err := scanVerifier(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func scanVerifier(row rowScanner) (verifier.Registration, error) {
	var (
		v           verifier.Registration
		addr        []byte
		stake       string
	)
	if err := row.Scan(
		&addr, &v.StakeToken, &stake, &v.Region, &v.CapacityHint, &v.Active,
		&v.Banned, &v.LastHeartbeat, &v.RegisteredAt, &v.PendingResponsibilities,
		&v.JobsVerified, &v.FraudsDetected,
	); err != nil {
		return verifier.Registration{}, err
	}
	v.Address = identity.FromBytes(addr)
	v.Stake = bigFromString(stake)
	return v, nil
}

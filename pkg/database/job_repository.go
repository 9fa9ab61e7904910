// Copyright 2025 Trustcompute Protocol
//
// JobRepository persists escrow.Job records, grounded on the teacher's
// repository_proof.go idiom (a *Client-wrapping struct, parameterized
// $1..$n queries, explicit column scans) retargeted from the Certen proof
// schema to spec.md's job/escrow schema (component F).

package database

import (
	"context"
	"database/sql"
	"errors"
	"math/big"

	"github.com/trustcompute/protocol/pkg/escrow"
	"github.com/trustcompute/protocol/pkg/hasher"
	"github.com/trustcompute/protocol/pkg/identity"
	"github.com/lib/pq"
)

// JobRepository persists and retrieves Job records against Postgres.
type JobRepository struct {
	client *Client
}

// NewJobRepository constructs a JobRepository over client.
func NewJobRepository(client *Client) *JobRepository {
	return &JobRepository{client: client}
}

func addressArray(addrs []identity.Address) pq.ByteaArray {
	out := make(pq.ByteaArray, len(addrs))
	for i, a := range addrs {
		out[i] = a.Bytes()
	}
	return out
}

func parseAddressArray(raw pq.ByteaArray) []identity.Address {
	if len(raw) == 0 {
		return nil
	}
	out := make([]identity.Address, len(raw))
	for i, b := range raw {
		out[i] = identity.FromBytes(b)
	}
	return out
}

func nullableDigest(d hasher.Digest) []byte {
	if d.IsZero() {
		return nil
	}
	return d[:]
}

// Insert creates a new job row. Callers pass the job as returned by
// escrow.Machine.CreateJob, so a row always starts in StatusCreated.
func (r *JobRepository) Insert(ctx context.Context, j escrow.Job) error {
	_, err := r.client.ExecContext(ctx, `
		INSERT INTO jobs (
			id, client, executor, pay_token, pay_amount, client_bond,
			executor_collateral, module_digest, input_digest, output_digest,
			accept_deadline, finalize_deadline, fuel_limit, mem_limit,
			max_output_size, status, primary_verifiers, backup_verifiers,
			nonce, receipt_signature, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)
	`,
		j.ID[:], j.Client.Bytes(), j.Executor.Bytes(), j.PayToken, j.PayAmount.String(), j.ClientBond.String(),
		bigOrZeroString(j.ExecutorCollateral), j.ModuleDigest[:], j.InputDigest[:], nullableDigest(j.OutputDigest),
		j.AcceptDeadline, j.FinalizeDeadline, j.FuelLimit, j.MemLimit,
		j.MaxOutputSize, string(j.Status), addressArray(j.PrimaryVerifiers), addressArray(j.BackupVerifiers),
		j.Nonce, j.ReceiptSignature, j.CreatedAt,
	)
	return err
}

// UpdateState rewrites every mutable field of a job (status, committee,
// receipt, balances) after a Machine transition. Jobs are never deleted;
// terminal states stay queryable for audit.
func (r *JobRepository) UpdateState(ctx context.Context, j escrow.Job) error {
	res, err := r.client.ExecContext(ctx, `
		UPDATE jobs SET
			executor = $2, executor_collateral = $3, output_digest = $4,
			receipt_signature = $5, status = $6, primary_verifiers = $7,
			backup_verifiers = $8
		WHERE id = $1
	`,
		j.ID[:], j.Executor.Bytes(), bigOrZeroString(j.ExecutorCollateral), nullableDigest(j.OutputDigest),
		j.ReceiptSignature, string(j.Status), addressArray(j.PrimaryVerifiers), addressArray(j.BackupVerifiers),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrJobNotFound
	}
	return nil
}

// Get loads one job by identifier.
func (r *JobRepository) Get(ctx context.Context, jobID hasher.Digest) (escrow.Job, error) {
	row := r.client.QueryRowContext(ctx, `
		SELECT id, client, executor, pay_token, pay_amount, client_bond,
			executor_collateral, module_digest, input_digest, output_digest,
			accept_deadline, finalize_deadline, fuel_limit, mem_limit,
			max_output_size, status, primary_verifiers, backup_verifiers,
			nonce, receipt_signature, created_at
		FROM jobs WHERE id = $1
	`, jobID[:])
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return escrow.Job{}, ErrJobNotFound
	}
	return j, err
}

// ListByStatus returns every job currently in status, for timeout-sweep
// workers (claimTimeout/cancel candidates).
func (r *JobRepository) ListByStatus(ctx context.Context, status escrow.Status) ([]escrow.Job, error) {
	rows, err := r.client.QueryContext(ctx, `
		SELECT id, client, executor, pay_token, pay_amount, client_bond,
			executor_collateral, module_digest, input_digest, output_digest,
			accept_deadline, finalize_deadline, fuel_limit, mem_limit,
			max_output_size, status, primary_verifiers, backup_verifiers,
			nonce, receipt_signature, created_at
		FROM jobs WHERE status = $1 ORDER BY created_at ASC
	`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []escrow.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (escrow.Job, error) {
	var (
		j                                      escrow.Job
		id, client, executor                   []byte
		moduleDigest, inputDigest, outputDigest []byte
		payAmount, clientBond, collateral       string
		status                                  string
		primary, backup                         pq.ByteaArray
		receiptSig                              []byte
	)
	if err := row.Scan(
		&id, &client, &executor, &j.PayToken, &payAmount, &clientBond,
		&collateral, &moduleDigest, &inputDigest, &outputDigest,
		&j.AcceptDeadline, &j.FinalizeDeadline, &j.FuelLimit, &j.MemLimit,
		&j.MaxOutputSize, &status, &primary, &backup,
		&j.Nonce, &receiptSig, &j.CreatedAt,
	); err != nil {
		return escrow.Job{}, err
	}

	copy(j.ID[:], id)
	j.Client = identity.FromBytes(client)
	j.Executor = identity.FromBytes(executor)
	copy(j.ModuleDigest[:], moduleDigest)
	copy(j.InputDigest[:], inputDigest)
	if outputDigest != nil {
		copy(j.OutputDigest[:], outputDigest)
	}
	j.PayAmount = bigFromString(payAmount)
	j.ClientBond = bigFromString(clientBond)
	j.ExecutorCollateral = bigFromString(collateral)
	j.Status = escrow.Status(status)
	j.PrimaryVerifiers = parseAddressArray(primary)
	j.BackupVerifiers = parseAddressArray(backup)
	j.ReceiptSignature = receiptSig
	return j, nil
}

func bigOrZeroString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func bigFromString(s string) *big.Int {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return big.NewInt(0)
	}
	return n
}

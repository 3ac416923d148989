package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"pixelsmith/internal/domain"
)

// LedgerStorePG implements domain.LedgerStore. The unique index on
// (job_id, kind) is the idempotency key for the whole credit protocol;
// duplicate operations surface as inserted=false, never as errors.
type LedgerStorePG struct {
	pool *pgxpool.Pool
}

// NewLedgerStore creates a new ledger store backed by PostgreSQL.
func NewLedgerStore(pool *pgxpool.Pool) *LedgerStorePG {
	return &LedgerStorePG{pool: pool}
}

// Record appends a credit operation. A conflicting (job_id, kind) pair leaves
// the existing entry in place and reports inserted=false.
func (r *LedgerStorePG) Record(ctx context.Context, entry *domain.LedgerEntry) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
INSERT INTO credit_ledger (id, job_id, user_id, kind, amount, balance_after)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (job_id, kind) DO NOTHING;
`, entry.ID, entry.JobID, entry.UserID, entry.Op, entry.Amount, entry.BalanceAfter)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Find fetches the operation of the given kind recorded for a job.
func (r *LedgerStorePG) Find(ctx context.Context, jobID string, op domain.LedgerOp) (*domain.LedgerEntry, error) {
	row := r.pool.QueryRow(ctx, `
SELECT id, job_id, user_id, kind, amount, balance_after, created_at
FROM credit_ledger
WHERE job_id = $1 AND kind = $2;
`, jobID, op)
	var entry domain.LedgerEntry
	if err := row.Scan(&entry.ID, &entry.JobID, &entry.UserID, &entry.Op, &entry.Amount, &entry.BalanceAfter, &entry.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &entry, nil
}

var _ domain.LedgerStore = (*LedgerStorePG)(nil)

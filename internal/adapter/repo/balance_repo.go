package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"pixelsmith/internal/domain"
)

// BalanceStorePG implements domain.BalanceStore. Both mutations are single
// conditional UPDATE statements, so concurrent reservations against one user
// from different process instances serialize inside Postgres instead of
// racing through read-then-write pairs.
type BalanceStorePG struct {
	pool *pgxpool.Pool
}

// NewBalanceStore creates a new balance store backed by PostgreSQL.
func NewBalanceStore(pool *pgxpool.Pool) *BalanceStorePG {
	return &BalanceStorePG{pool: pool}
}

// Get fetches the balance row for a user.
func (r *BalanceStorePG) Get(ctx context.Context, userID string) (*domain.Balance, error) {
	row := r.pool.QueryRow(ctx, `
SELECT user_id, credit_balance, created_at, updated_at
FROM user_balances
WHERE user_id = $1;
`, userID)
	var b domain.Balance
	if err := row.Scan(&b.UserID, &b.CreditBalance, &b.CreatedAt, &b.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &b, nil
}

// DecrementIfAtLeast subtracts amount only when the committed balance covers
// it. The guard in the WHERE clause is what keeps the balance non-negative;
// a deduction that would cross zero matches no row and changes nothing.
func (r *BalanceStorePG) DecrementIfAtLeast(ctx context.Context, userID string, amount int) (int, bool, error) {
	row := r.pool.QueryRow(ctx, `
UPDATE user_balances
SET credit_balance = credit_balance - $2, updated_at = NOW()
WHERE user_id = $1 AND credit_balance >= $2
RETURNING credit_balance;
`, userID, amount)
	var after int
	if err := row.Scan(&after); err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return 0, false, err
		}
		current, getErr := r.Get(ctx, userID)
		if getErr != nil {
			return 0, false, getErr
		}
		return current.CreditBalance, false, nil
	}
	return after, true, nil
}

// Increment adds credits back to the user's balance.
func (r *BalanceStorePG) Increment(ctx context.Context, userID string, amount int) (int, error) {
	row := r.pool.QueryRow(ctx, `
UPDATE user_balances
SET credit_balance = credit_balance + $2, updated_at = NOW()
WHERE user_id = $1
RETURNING credit_balance;
`, userID, amount)
	var after int
	if err := row.Scan(&after); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrNotFound
		}
		return 0, err
	}
	return after, nil
}

var _ domain.BalanceStore = (*BalanceStorePG)(nil)

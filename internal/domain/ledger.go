package domain

import "time"

// LedgerOp enumerates the credit operations recorded against a job.
type LedgerOp string

const (
	LedgerOpReserve LedgerOp = "reserve"
	LedgerOpRefund  LedgerOp = "refund"
	LedgerOpConfirm LedgerOp = "confirm"
)

// LedgerEntry is one credit operation, keyed by (JobID, Op). At most one
// successful entry of each kind exists per job; the pair is the idempotency
// key that makes replayed triggers harmless.
type LedgerEntry struct {
	ID           string
	JobID        string
	UserID       string
	Op           LedgerOp
	Amount       int
	BalanceAfter int
	CreatedAt    time.Time
}

// Balance is a user's spendable credit total. It never goes negative at a
// committed state: a deduction that would cross zero is rejected, not clamped.
type Balance struct {
	UserID        string
	CreditBalance int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

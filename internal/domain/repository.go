package domain

import "context"

// JobRepository defines persistence for job records. Conditional transitions
// return false when the row was not in the expected prior state, which is how
// duplicate triggers for a job are detected without a second read.
type JobRepository interface {
	Create(ctx context.Context, job *Job) error
	GetByID(ctx context.Context, jobID string) (*Job, error)
	GetForUser(ctx context.Context, jobID, userID string) (*Job, error)

	// ClaimPending atomically moves the oldest pending job to processing and
	// returns it, or ErrNotFound when the queue is empty. Safe to call from
	// multiple workers concurrently.
	ClaimPending(ctx context.Context) (*Job, error)

	// MarkProcessing is the inline-dispatch equivalent of ClaimPending for a
	// known job id.
	MarkProcessing(ctx context.Context, jobID string) (bool, error)

	SetEnhancedPrompt(ctx context.Context, jobID, prompt string) error
	SetCreditSnapshots(ctx context.Context, jobID string, before, after int) error

	// CompleteJob moves processing->completed, records the result ref and
	// flips credits_deducted, all in one conditional write. It returns true
	// only for the first completion of the job.
	CompleteJob(ctx context.Context, jobID, resultRef string) (bool, error)

	// MarkFailed moves pending|processing->failed with the terminal error
	// message. Returns false when the job was already terminal.
	MarkFailed(ctx context.Context, jobID, errMsg string) (bool, error)

	// MarkRefunded moves failed->refunded after the ledger refund lands.
	MarkRefunded(ctx context.Context, jobID string) (bool, error)
}

// BalanceStore guards the only shared mutable counter in the system. Both
// mutation methods must be atomic conditional updates at the storage layer,
// never read-then-write pairs, since multiple process instances share one
// database.
type BalanceStore interface {
	Get(ctx context.Context, userID string) (*Balance, error)

	// DecrementIfAtLeast subtracts amount when the balance covers it and
	// reports the resulting balance. ok is false, with the balance untouched,
	// when funds are insufficient.
	DecrementIfAtLeast(ctx context.Context, userID string, amount int) (balanceAfter int, ok bool, err error)

	Increment(ctx context.Context, userID string, amount int) (balanceAfter int, err error)
}

// LedgerStore persists credit operations. Record must enforce uniqueness on
// (JobID, Op); a duplicate insert reports inserted=false rather than failing.
type LedgerStore interface {
	Record(ctx context.Context, entry *LedgerEntry) (inserted bool, err error)
	Find(ctx context.Context, jobID string, op LedgerOp) (*LedgerEntry, error)
}

// Package ledger implements the idempotent credit protocol: a reservation
// deducts credits before any external work starts, a refund reverses a
// reservation after a failure, and a confirm finalizes a successful job
// without touching the balance again. Every operation is keyed by job id so
// replays are no-ops.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"pixelsmith/internal/domain"
)

// Ledger coordinates the balance counter and the per-job operation log.
type Ledger struct {
	balances domain.BalanceStore
	entries  domain.LedgerStore
	logger   zerolog.Logger
}

// New creates a Ledger over the given stores.
func New(balances domain.BalanceStore, entries domain.LedgerStore, logger zerolog.Logger) *Ledger {
	return &Ledger{balances: balances, entries: entries, logger: logger}
}

// Reservation reports the outcome of a reserve call. Replayed is true when a
// prior reservation for the job already existed and no balance was touched.
type Reservation struct {
	BalanceBefore int
	BalanceAfter  int
	Replayed      bool
}

// Reserve deducts amount from the user's balance on behalf of jobID. The
// deduction happens before work starts so a user cannot launch jobs beyond
// their balance. Replaying a reserve for the same job returns the original
// outcome without deducting again. Returns domain.ErrInsufficientFunds, with
// the balance untouched, when the balance does not cover amount.
func (l *Ledger) Reserve(ctx context.Context, userID, jobID string, amount int) (*Reservation, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("ledger: reserve amount must be positive, got %d", amount)
	}

	prior, err := l.entries.Find(ctx, jobID, domain.LedgerOpReserve)
	if err == nil {
		l.logger.Info().Str("job_id", jobID).Msg("ledger: reserve replayed, reusing prior reservation")
		return replayedReservation(prior), nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("ledger: lookup reservation: %w", err)
	}

	after, ok, err := l.balances.DecrementIfAtLeast(ctx, userID, amount)
	if err != nil {
		return nil, fmt.Errorf("ledger: deduct balance: %w", err)
	}
	if !ok {
		return nil, domain.ErrInsufficientFunds
	}

	inserted, err := l.entries.Record(ctx, &domain.LedgerEntry{
		ID:           uuid.NewString(),
		JobID:        jobID,
		UserID:       userID,
		Op:           domain.LedgerOpReserve,
		Amount:       amount,
		BalanceAfter: after,
	})
	if err != nil {
		// The deduction landed but the marker did not. Put the credits back
		// so the user is not charged for a reservation nobody can see.
		if _, incErr := l.balances.Increment(ctx, userID, amount); incErr != nil {
			l.logger.Error().Err(incErr).Str("job_id", jobID).Msg("ledger: failed to restore balance after record error")
		}
		return nil, fmt.Errorf("ledger: record reservation: %w", err)
	}
	if !inserted {
		// Lost a race against a concurrent reserve for the same job: undo our
		// deduction and honor the winner's result.
		if _, incErr := l.balances.Increment(ctx, userID, amount); incErr != nil {
			l.logger.Error().Err(incErr).Str("job_id", jobID).Msg("ledger: failed to restore balance after duplicate reserve")
		}
		prior, err := l.entries.Find(ctx, jobID, domain.LedgerOpReserve)
		if err != nil {
			return nil, fmt.Errorf("ledger: lookup winning reservation: %w", err)
		}
		l.logger.Info().Str("job_id", jobID).Msg("ledger: concurrent reserve deduped")
		return replayedReservation(prior), nil
	}

	return &Reservation{BalanceBefore: after + amount, BalanceAfter: after}, nil
}

// Refund reverses a successful reservation after the job failed. The refunded
// amount is taken from the reservation entry, not from the caller, so the
// balance is restored to exactly its pre-reservation value. Returns
// domain.ErrNoReservation when no reservation exists, domain.ErrAlreadyRefunded
// on replay and domain.ErrAlreadyConfirmed when the job already completed.
func (l *Ledger) Refund(ctx context.Context, userID, jobID string) (balanceAfter int, err error) {
	reserved, err := l.entries.Find(ctx, jobID, domain.LedgerOpReserve)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return 0, domain.ErrNoReservation
		}
		return 0, fmt.Errorf("ledger: lookup reservation: %w", err)
	}
	if _, err := l.entries.Find(ctx, jobID, domain.LedgerOpConfirm); err == nil {
		return 0, domain.ErrAlreadyConfirmed
	} else if !errors.Is(err, domain.ErrNotFound) {
		return 0, fmt.Errorf("ledger: lookup confirmation: %w", err)
	}
	if prior, err := l.entries.Find(ctx, jobID, domain.LedgerOpRefund); err == nil {
		return prior.BalanceAfter, domain.ErrAlreadyRefunded
	} else if !errors.Is(err, domain.ErrNotFound) {
		return 0, fmt.Errorf("ledger: lookup refund: %w", err)
	}

	after, err := l.balances.Increment(ctx, userID, reserved.Amount)
	if err != nil {
		return 0, fmt.Errorf("ledger: restore balance: %w", err)
	}
	inserted, err := l.entries.Record(ctx, &domain.LedgerEntry{
		ID:           uuid.NewString(),
		JobID:        jobID,
		UserID:       userID,
		Op:           domain.LedgerOpRefund,
		Amount:       reserved.Amount,
		BalanceAfter: after,
	})
	if err != nil {
		if _, ok, decErr := l.balances.DecrementIfAtLeast(ctx, userID, reserved.Amount); decErr != nil {
			l.logger.Error().Err(decErr).Str("job_id", jobID).Msg("ledger: failed to undo refund after record error")
		} else if !ok {
			l.logger.Error().Str("job_id", jobID).Int("amount", reserved.Amount).Msg("ledger: refund undo skipped, credits already spent")
		}
		return 0, fmt.Errorf("ledger: record refund: %w", err)
	}
	if !inserted {
		// A concurrent refund won; take ours back.
		if _, ok, decErr := l.balances.DecrementIfAtLeast(ctx, userID, reserved.Amount); decErr != nil {
			l.logger.Error().Err(decErr).Str("job_id", jobID).Msg("ledger: failed to undo duplicate refund")
		} else if !ok {
			l.logger.Error().Str("job_id", jobID).Int("amount", reserved.Amount).Msg("ledger: refund undo skipped, credits already spent")
		}
		prior, err := l.entries.Find(ctx, jobID, domain.LedgerOpRefund)
		if err != nil {
			return 0, fmt.Errorf("ledger: lookup winning refund: %w", err)
		}
		return prior.BalanceAfter, domain.ErrAlreadyRefunded
	}

	return after, nil
}

// Confirm finalizes a reservation after the job completed. It records the
// idempotency marker only; the deduction already happened at reserve time and
// the balance is not touched. Returns domain.ErrAlreadyConfirmed on replay,
// domain.ErrNoReservation when no reservation exists and
// domain.ErrAlreadyRefunded when the reservation was already reversed.
func (l *Ledger) Confirm(ctx context.Context, userID, jobID string) error {
	reserved, err := l.entries.Find(ctx, jobID, domain.LedgerOpReserve)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrNoReservation
		}
		return fmt.Errorf("ledger: lookup reservation: %w", err)
	}
	if _, err := l.entries.Find(ctx, jobID, domain.LedgerOpRefund); err == nil {
		return domain.ErrAlreadyRefunded
	} else if !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("ledger: lookup refund: %w", err)
	}

	inserted, err := l.entries.Record(ctx, &domain.LedgerEntry{
		ID:           uuid.NewString(),
		JobID:        jobID,
		UserID:       userID,
		Op:           domain.LedgerOpConfirm,
		Amount:       0,
		BalanceAfter: reserved.BalanceAfter,
	})
	if err != nil {
		return fmt.Errorf("ledger: record confirmation: %w", err)
	}
	if !inserted {
		return domain.ErrAlreadyConfirmed
	}
	return nil
}

// Balance reads the user's current credit balance.
func (l *Ledger) Balance(ctx context.Context, userID string) (int, error) {
	b, err := l.balances.Get(ctx, userID)
	if err != nil {
		return 0, err
	}
	return b.CreditBalance, nil
}

func replayedReservation(entry *domain.LedgerEntry) *Reservation {
	return &Reservation{
		BalanceBefore: entry.BalanceAfter + entry.Amount,
		BalanceAfter:  entry.BalanceAfter,
		Replayed:      true,
	}
}

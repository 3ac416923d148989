// Package lifecycle owns a job's path through the state machine
// (pending -> processing -> completed | failed -> refunded) and the points
// where progress triggers credit operations and notifications. Transitions
// are monotonic per job; replayed triggers detect the existing terminal state
// and perform no further ledger mutation.
package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"pixelsmith/internal/domain"
	"pixelsmith/internal/ledger"
	"pixelsmith/internal/notify"
)

// CreditLedger is the slice of the ledger the state machine drives.
type CreditLedger interface {
	Reserve(ctx context.Context, userID, jobID string, amount int) (*ledger.Reservation, error)
	Refund(ctx context.Context, userID, jobID string) (int, error)
	Confirm(ctx context.Context, userID, jobID string) error
}

// Machine applies lifecycle transitions to job records and fires the
// side effects each transition owns, exactly once per transition.
type Machine struct {
	jobs     domain.JobRepository
	ledger   CreditLedger
	notifier notify.Notifier
	logger   zerolog.Logger
}

// NewMachine wires the state machine.
func NewMachine(jobs domain.JobRepository, creditLedger CreditLedger, notifier notify.Notifier, logger zerolog.Logger) *Machine {
	return &Machine{jobs: jobs, ledger: creditLedger, notifier: notifier, logger: logger}
}

// Begin reserves the job's credits. It runs after the job was claimed into
// processing and before any external call; a caller must not proceed to
// external work unless Begin succeeds. Insufficient funds reject the job
// terminally with no ledger action.
func (m *Machine) Begin(ctx context.Context, job *domain.Job) error {
	res, err := m.ledger.Reserve(ctx, job.UserID, job.ID, job.CostCredits)
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientFunds) {
			m.logger.Info().Str("job_id", job.ID).Str("user_id", job.UserID).Int("cost", job.CostCredits).Msg("lifecycle: job rejected, insufficient credits")
			if _, failErr := m.jobs.MarkFailed(ctx, job.ID, "insufficient credits"); failErr != nil {
				m.logger.Error().Err(failErr).Str("job_id", job.ID).Msg("lifecycle: failed to reject job")
			}
			return domain.ErrInsufficientFunds
		}
		if _, failErr := m.jobs.MarkFailed(ctx, job.ID, "credit reservation failed"); failErr != nil {
			m.logger.Error().Err(failErr).Str("job_id", job.ID).Msg("lifecycle: failed to mark job failed")
		}
		return fmt.Errorf("lifecycle: reserve credits: %w", err)
	}
	if res.Replayed {
		m.logger.Info().Str("job_id", job.ID).Msg("lifecycle: reservation replayed")
		return nil
	}
	if err := m.jobs.SetCreditSnapshots(ctx, job.ID, res.BalanceBefore, res.BalanceAfter); err != nil {
		// Snapshots are diagnostic; losing them must not fail the job.
		m.logger.Warn().Err(err).Str("job_id", job.ID).Msg("lifecycle: failed to record credit snapshots")
	}
	return nil
}

// Complete writes the terminal success state. Only the first completion
// confirms the reservation and emits the notification; replays observe the
// existing terminal state and stop.
func (m *Machine) Complete(ctx context.Context, job *domain.Job, resultRef string) error {
	first, err := m.jobs.CompleteJob(ctx, job.ID, resultRef)
	if err != nil {
		return fmt.Errorf("lifecycle: complete job: %w", err)
	}
	if !first {
		m.logger.Info().Str("job_id", job.ID).Msg("lifecycle: duplicate completion ignored")
		return nil
	}
	if err := m.ledger.Confirm(ctx, job.UserID, job.ID); err != nil {
		// Idempotency violations are benign duplicate triggers; they are
		// logged, never surfaced to the caller.
		switch {
		case errors.Is(err, domain.ErrAlreadyConfirmed):
			m.logger.Info().Str("job_id", job.ID).Msg("lifecycle: confirmation replayed")
		case errors.Is(err, domain.ErrNoReservation):
			m.logger.Error().Str("job_id", job.ID).Msg("lifecycle: completed job has no reservation")
		default:
			m.logger.Error().Err(err).Str("job_id", job.ID).Msg("lifecycle: confirm failed")
		}
	}
	m.notifier.Notify(ctx, notify.Event{
		JobID:          job.ID,
		UserID:         job.UserID,
		Status:         string(domain.JobStatusCompleted),
		ResultImageRef: resultRef,
	})
	return nil
}

// Fail writes the terminal failure state and, when a reservation exists,
// refunds it. A job that fails after reservation is always refunded before
// the failure is reported outward. A replayed trigger for a job stuck in
// failed still settles the refund, so a crash between MarkFailed and Refund
// converges on the next delivery.
func (m *Machine) Fail(ctx context.Context, job *domain.Job, cause error) error {
	message := "job failed"
	if cause != nil {
		message = cause.Error()
	}
	moved, err := m.jobs.MarkFailed(ctx, job.ID, message)
	if err != nil {
		return fmt.Errorf("lifecycle: mark failed: %w", err)
	}
	if !moved {
		current, err := m.jobs.GetByID(ctx, job.ID)
		if err != nil {
			return fmt.Errorf("lifecycle: load job after duplicate failure: %w", err)
		}
		if current.Status != domain.JobStatusFailed {
			m.logger.Info().Str("job_id", job.ID).Str("status", string(current.Status)).Msg("lifecycle: failure for already-terminal job ignored")
			return nil
		}
		m.logger.Info().Str("job_id", job.ID).Msg("lifecycle: replayed failure for failed job, settling refund")
	}

	_, err = m.ledger.Refund(ctx, job.UserID, job.ID)
	switch {
	case err == nil:
		if _, refErr := m.jobs.MarkRefunded(ctx, job.ID); refErr != nil {
			m.logger.Error().Err(refErr).Str("job_id", job.ID).Msg("lifecycle: failed to mark job refunded")
		}
	case errors.Is(err, domain.ErrNoReservation):
		// Failed before any credits were taken; nothing to give back.
	case errors.Is(err, domain.ErrAlreadyRefunded):
		m.logger.Info().Str("job_id", job.ID).Msg("lifecycle: refund replayed")
		if _, refErr := m.jobs.MarkRefunded(ctx, job.ID); refErr != nil {
			m.logger.Error().Err(refErr).Str("job_id", job.ID).Msg("lifecycle: failed to mark job refunded")
		}
	case errors.Is(err, domain.ErrAlreadyConfirmed):
		m.logger.Error().Str("job_id", job.ID).Msg("lifecycle: refund skipped, reservation already confirmed")
	default:
		return fmt.Errorf("lifecycle: refund credits: %w", err)
	}
	return nil
}

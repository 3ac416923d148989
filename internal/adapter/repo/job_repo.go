package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"pixelsmith/internal/domain"
)

const jobColumns = `id, user_id, status, original_prompt, enhanced_prompt, input_image_refs, result_image_ref, quality_tier, cost_credits, credits_deducted, credits_before, credits_after, error_message, created_at, updated_at`

// JobRepositoryPG implements domain.JobRepository backed by PostgreSQL.
type JobRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(pool *pgxpool.Pool) *JobRepositoryPG {
	return &JobRepositoryPG{pool: pool}
}

// Create inserts a new job record in pending state with its cost fixed.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.Job) error {
	query := `
INSERT INTO jobs (id, user_id, status, original_prompt, input_image_refs, quality_tier, cost_credits)
VALUES ($1, $2, $3, $4, $5, $6, $7);
`
	_, err := r.pool.Exec(ctx, query,
		job.ID,
		job.UserID,
		job.Status,
		job.OriginalPrompt,
		job.InputImageRefs,
		job.QualityTier,
		job.CostCredits,
	)
	return err
}

// GetByID fetches a job by its identifier.
func (r *JobRepositoryPG) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, jobID)
	return scanJob(row)
}

// GetForUser fetches a job scoped to its owner.
func (r *JobRepositoryPG) GetForUser(ctx context.Context, jobID, userID string) (*domain.Job, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1 AND user_id = $2`, jobID, userID)
	return scanJob(row)
}

// ClaimPending picks the oldest pending job and moves it to processing in one
// statement. SKIP LOCKED keeps concurrent workers off the same row.
func (r *JobRepositoryPG) ClaimPending(ctx context.Context) (*domain.Job, error) {
	query := `
WITH next_job AS (
    SELECT id
    FROM jobs
    WHERE status = 'pending'
    ORDER BY created_at ASC
    FOR UPDATE SKIP LOCKED
    LIMIT 1
),
claimed AS (
    UPDATE jobs
    SET status = 'processing', updated_at = NOW()
    WHERE id IN (SELECT id FROM next_job)
    RETURNING ` + jobColumns + `
)
SELECT * FROM claimed;
`
	row := r.pool.QueryRow(ctx, query)
	return scanJob(row)
}

// MarkProcessing flips pending->processing for a known job id.
func (r *JobRepositoryPG) MarkProcessing(ctx context.Context, jobID string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
UPDATE jobs SET status = 'processing', updated_at = NOW()
WHERE id = $1 AND status = 'pending';
`, jobID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// SetEnhancedPrompt stores the prompt produced by the enhancement stage.
func (r *JobRepositoryPG) SetEnhancedPrompt(ctx context.Context, jobID, prompt string) error {
	_, err := r.pool.Exec(ctx, `
UPDATE jobs SET enhanced_prompt = $2, updated_at = NOW() WHERE id = $1;
`, jobID, prompt)
	return err
}

// SetCreditSnapshots records the diagnostic before/after balance pair taken at
// reservation time.
func (r *JobRepositoryPG) SetCreditSnapshots(ctx context.Context, jobID string, before, after int) error {
	_, err := r.pool.Exec(ctx, `
UPDATE jobs SET credits_before = $2, credits_after = $3, updated_at = NOW() WHERE id = $1;
`, jobID, before, after)
	return err
}

// CompleteJob writes the terminal success state. The WHERE clause reads status
// and the credit flag together, so a replayed completion sees zero rows and
// takes no further action.
func (r *JobRepositoryPG) CompleteJob(ctx context.Context, jobID, resultRef string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
UPDATE jobs
SET status = 'completed',
    result_image_ref = $2,
    credits_deducted = TRUE,
    error_message = NULL,
    updated_at = NOW()
WHERE id = $1 AND status = 'processing' AND credits_deducted = FALSE;
`, jobID, resultRef)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkFailed writes the terminal failure state with its error message.
func (r *JobRepositoryPG) MarkFailed(ctx context.Context, jobID, errMsg string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
UPDATE jobs
SET status = 'failed', error_message = $2, updated_at = NOW()
WHERE id = $1 AND status IN ('pending', 'processing');
`, jobID, errMsg)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkRefunded moves a failed job to refunded once the ledger refund landed.
func (r *JobRepositoryPG) MarkRefunded(ctx context.Context, jobID string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
UPDATE jobs SET status = 'refunded', updated_at = NOW()
WHERE id = $1 AND status = 'failed';
`, jobID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var job domain.Job
	var enhanced, result, errMsg *string
	if err := row.Scan(
		&job.ID,
		&job.UserID,
		&job.Status,
		&job.OriginalPrompt,
		&enhanced,
		&job.InputImageRefs,
		&result,
		&job.QualityTier,
		&job.CostCredits,
		&job.CreditsDeducted,
		&job.CreditsBefore,
		&job.CreditsAfter,
		&errMsg,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if enhanced != nil {
		job.EnhancedPrompt = *enhanced
	}
	if result != nil {
		job.ResultImageRef = *result
	}
	if errMsg != nil {
		job.ErrorMessage = *errMsg
	}
	return &job, nil
}

var _ domain.JobRepository = (*JobRepositoryPG)(nil)

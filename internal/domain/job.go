package domain

import "time"

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusRefunded   JobStatus = "refunded"
)

// Terminal reports whether no further lifecycle transition is allowed from s.
// A failed job may still move to refunded once the ledger refund lands.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusRefunded
}

// QualityTier determines how many credits a job costs. The cost is fixed at
// creation time so the amount reserved always equals the amount recorded in
// the ledger, even if tier pricing changes while the job is in flight.
type QualityTier string

const (
	QualityTierStandard QualityTier = "standard"
	QualityTierHigh     QualityTier = "high"
	QualityTierUltra    QualityTier = "ultra"
)

// CostCredits returns the credit price of the tier.
func (t QualityTier) CostCredits() int {
	switch t {
	case QualityTierHigh:
		return 10
	case QualityTierUltra:
		return 20
	default:
		return 5
	}
}

// Valid reports whether t is a known tier.
func (t QualityTier) Valid() bool {
	switch t {
	case QualityTierStandard, QualityTierHigh, QualityTierUltra:
		return true
	}
	return false
}

// Job is one user-initiated generation request tracked end-to-end.
// Rows are never deleted; a finished job stays behind as the audit trail for
// the credit operations tagged with its id.
type Job struct {
	ID             string
	UserID         string
	Status         JobStatus
	OriginalPrompt string
	EnhancedPrompt string
	InputImageRefs []string
	ResultImageRef string
	QualityTier    QualityTier
	CostCredits    int
	// CreditsDeducted flips false->true at most once, on the first
	// transition into completed. It never flips back.
	CreditsDeducted bool
	CreditsBefore   *int
	CreditsAfter    *int
	ErrorMessage    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

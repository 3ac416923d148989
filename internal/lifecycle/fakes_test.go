package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"pixelsmith/internal/domain"
	"pixelsmith/internal/ledger"
	"pixelsmith/internal/notify"
	imageprovider "pixelsmith/internal/providers/image"
	"pixelsmith/internal/providers/prompt"
)

// fakeJobs mirrors the conditional-transition semantics of the Postgres repo.
type fakeJobs struct {
	mu   sync.Mutex
	jobs map[string]*domain.Job
}

func newFakeJobs(jobs ...*domain.Job) *fakeJobs {
	f := &fakeJobs{jobs: make(map[string]*domain.Job)}
	for _, job := range jobs {
		copied := *job
		f.jobs[job.ID] = &copied
	}
	return f
}

func (f *fakeJobs) get(jobID string) *domain.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	job := f.jobs[jobID]
	copied := *job
	return &copied
}

func (f *fakeJobs) Create(ctx context.Context, job *domain.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *job
	f.jobs[job.ID] = &copied
	return nil
}

func (f *fakeJobs) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *job
	return &copied, nil
}

func (f *fakeJobs) GetForUser(ctx context.Context, jobID, userID string) (*domain.Job, error) {
	job, err := f.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.UserID != userID {
		return nil, domain.ErrNotFound
	}
	return job, nil
}

func (f *fakeJobs) ClaimPending(ctx context.Context) (*domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, job := range f.jobs {
		if job.Status == domain.JobStatusPending {
			job.Status = domain.JobStatusProcessing
			copied := *job
			return &copied, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (f *fakeJobs) MarkProcessing(ctx context.Context, jobID string) (bool, error) {
	return f.transition(jobID, domain.JobStatusProcessing, "", domain.JobStatusPending)
}

func (f *fakeJobs) SetEnhancedPrompt(ctx context.Context, jobID, prompt string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if job, ok := f.jobs[jobID]; ok {
		job.EnhancedPrompt = prompt
	}
	return nil
}

func (f *fakeJobs) SetCreditSnapshots(ctx context.Context, jobID string, before, after int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if job, ok := f.jobs[jobID]; ok {
		job.CreditsBefore = &before
		job.CreditsAfter = &after
	}
	return nil
}

func (f *fakeJobs) CompleteJob(ctx context.Context, jobID, resultRef string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	if !ok {
		return false, domain.ErrNotFound
	}
	if job.Status != domain.JobStatusProcessing || job.CreditsDeducted {
		return false, nil
	}
	job.Status = domain.JobStatusCompleted
	job.ResultImageRef = resultRef
	job.CreditsDeducted = true
	job.ErrorMessage = ""
	return true, nil
}

func (f *fakeJobs) MarkFailed(ctx context.Context, jobID, errMsg string) (bool, error) {
	return f.transition(jobID, domain.JobStatusFailed, errMsg, domain.JobStatusPending, domain.JobStatusProcessing)
}

func (f *fakeJobs) MarkRefunded(ctx context.Context, jobID string) (bool, error) {
	return f.transition(jobID, domain.JobStatusRefunded, "", domain.JobStatusFailed)
}

func (f *fakeJobs) transition(jobID string, to domain.JobStatus, errMsg string, from ...domain.JobStatus) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	if !ok {
		return false, domain.ErrNotFound
	}
	for _, status := range from {
		if job.Status == status {
			job.Status = to
			if errMsg != "" {
				job.ErrorMessage = errMsg
			}
			return true, nil
		}
	}
	return false, nil
}

var _ domain.JobRepository = (*fakeJobs)(nil)

// fakeLedger counts ledger calls and models per-job idempotency.
type fakeLedger struct {
	mu         sync.Mutex
	balance    int
	reserved   map[string]int
	refunded   map[string]bool
	confirmed  map[string]bool
	reserves   int
	refunds    int
	confirms   int
	reserveErr error
}

func newFakeLedger(balance int) *fakeLedger {
	return &fakeLedger{
		balance:   balance,
		reserved:  make(map[string]int),
		refunded:  make(map[string]bool),
		confirmed: make(map[string]bool),
	}
}

func (f *fakeLedger) Reserve(ctx context.Context, userID, jobID string, amount int) (*ledger.Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reserves++
	if f.reserveErr != nil {
		return nil, f.reserveErr
	}
	if prior, ok := f.reserved[jobID]; ok {
		return &ledger.Reservation{BalanceBefore: f.balance + prior, BalanceAfter: f.balance, Replayed: true}, nil
	}
	if f.balance < amount {
		return nil, domain.ErrInsufficientFunds
	}
	before := f.balance
	f.balance -= amount
	f.reserved[jobID] = amount
	return &ledger.Reservation{BalanceBefore: before, BalanceAfter: f.balance}, nil
}

func (f *fakeLedger) Refund(ctx context.Context, userID, jobID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refunds++
	amount, ok := f.reserved[jobID]
	if !ok {
		return 0, domain.ErrNoReservation
	}
	if f.confirmed[jobID] {
		return 0, domain.ErrAlreadyConfirmed
	}
	if f.refunded[jobID] {
		return f.balance, domain.ErrAlreadyRefunded
	}
	f.refunded[jobID] = true
	f.balance += amount
	return f.balance, nil
}

func (f *fakeLedger) Confirm(ctx context.Context, userID, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirms++
	if _, ok := f.reserved[jobID]; !ok {
		return domain.ErrNoReservation
	}
	if f.refunded[jobID] {
		return domain.ErrAlreadyRefunded
	}
	if f.confirmed[jobID] {
		return domain.ErrAlreadyConfirmed
	}
	f.confirmed[jobID] = true
	return nil
}

var _ CreditLedger = (*fakeLedger)(nil)

// fakeNotifier records delivered events.
type fakeNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (f *fakeNotifier) Notify(ctx context.Context, event notify.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

var _ notify.Notifier = (*fakeNotifier)(nil)

// fakePipeline serves canned bytes and records stored/released keys.
type fakePipeline struct {
	mu        sync.Mutex
	fetches   map[string][]byte
	fetchErr  map[string]error
	storeErr  error
	stored    []string
	released  []string
	byteLimit int
}

func newFakePipeline() *fakePipeline {
	return &fakePipeline{
		fetches:   make(map[string][]byte),
		fetchErr:  make(map[string]error),
		byteLimit: 1 << 20,
	}
}

func (f *fakePipeline) Fetch(ctx context.Context, uri string) ([]byte, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.fetchErr[uri]; ok {
		return nil, "", err
	}
	data, ok := f.fetches[uri]
	if !ok {
		return nil, "", errors.New("fetch: unknown uri " + uri)
	}
	return append([]byte(nil), data...), "image/jpeg", nil
}

func (f *fakePipeline) EnsureUnderLimit(data []byte) ([]byte, string, error) {
	if len(data) <= f.byteLimit {
		return data, "", nil
	}
	return data[:f.byteLimit], "image/jpeg", nil
}

func (f *fakePipeline) Store(ctx context.Context, key string, data []byte, contentType string) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.storeErr != nil {
		return "", "", f.storeErr
	}
	f.stored = append(f.stored, key)
	return key, "fake://" + key, nil
}

func (f *fakePipeline) Release(ctx context.Context, keys []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, keys...)
}

var _ ImagePipeline = (*fakePipeline)(nil)

// fakeEnhancer fails transiently a configured number of times first.
type fakeEnhancer struct {
	mu        sync.Mutex
	failures  int
	callCount int
	err       error
}

func (f *fakeEnhancer) Enhance(ctx context.Context, req prompt.EnhanceRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callCount++
	if f.err != nil {
		return "", f.err
	}
	if f.callCount <= f.failures {
		return "", fmt.Errorf("enhancer busy: %w", context.DeadlineExceeded)
	}
	return "enhanced: " + req.Prompt, nil
}

var _ prompt.Enhancer = (*fakeEnhancer)(nil)

type fakeSynth struct {
	mu        sync.Mutex
	callCount int
	err       error
	resultURL string
}

func (f *fakeSynth) Synthesize(ctx context.Context, req imageprovider.SynthesizeRequest) (*imageprovider.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callCount++
	if f.err != nil {
		return nil, f.err
	}
	url := f.resultURL
	if url == "" {
		url = "https://cdn.fake/result.jpg"
	}
	return &imageprovider.Result{URL: url, ContentType: "image/jpeg"}, nil
}

var _ imageprovider.Synthesizer = (*fakeSynth)(nil)

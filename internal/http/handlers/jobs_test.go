package handlers

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"pixelsmith/internal/domain"
	"pixelsmith/internal/middleware"
)

// stubJobs embeds the interface so only the methods a test exercises need
// real implementations.
type stubJobs struct {
	domain.JobRepository

	mu      sync.Mutex
	created []*domain.Job
	claimed []string
	byID    map[string]*domain.Job

	createErr error
}

func newStubJobs(jobs ...*domain.Job) *stubJobs {
	s := &stubJobs{byID: make(map[string]*domain.Job)}
	for _, job := range jobs {
		s.byID[job.ID] = job
	}
	return s
}

func (s *stubJobs) Create(ctx context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	s.created = append(s.created, job)
	s.byID[job.ID] = job
	return nil
}

func (s *stubJobs) MarkProcessing(ctx context.Context, jobID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.claimed = append(s.claimed, jobID)
	return true, nil
}

func (s *stubJobs) GetForUser(ctx context.Context, jobID, userID string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.byID[jobID]
	if !ok || job.UserID != userID {
		return nil, domain.ErrNotFound
	}
	return job, nil
}

type stubRunner struct {
	mu   sync.Mutex
	runs []string
	done chan struct{}
}

func (s *stubRunner) Run(ctx context.Context, job *domain.Job) error {
	s.mu.Lock()
	s.runs = append(s.runs, job.ID)
	s.mu.Unlock()
	if s.done != nil {
		close(s.done)
	}
	return nil
}

type stubBalances struct {
	balance int
	err     error
}

func (s *stubBalances) Balance(ctx context.Context, userID string) (int, error) {
	return s.balance, s.err
}

type stubFetcher struct {
	data map[string][]byte
}

func (s *stubFetcher) Fetch(ctx context.Context, uri string) ([]byte, string, error) {
	data, ok := s.data[uri]
	if !ok {
		return nil, "", errors.New("not found: " + uri)
	}
	return data, "image/jpeg", nil
}

func testApp(jobs *stubJobs) (*App, *stubRunner) {
	runner := &stubRunner{done: make(chan struct{})}
	app := &App{
		Jobs:     jobs,
		Balances: &stubBalances{balance: 25},
		Runner:   runner,
		Fetcher:  &stubFetcher{data: map[string][]byte{}},
		Dispatch: "inline",
		Logger:   zerolog.Nop(),
	}
	return app, runner
}

func serve(app *App, req *http.Request) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.Post("/v1/jobs", app.JobCreate)
	r.Get("/v1/jobs/{job_id}", app.JobStatus)
	r.Get("/v1/jobs/{job_id}/archive", app.JobArchive)
	r.Get("/v1/balance", app.BalanceGet)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func authed(req *http.Request, userID string) *http.Request {
	return req.WithContext(middleware.WithUserID(req.Context(), userID))
}

func TestJobCreateInlineDispatch(t *testing.T) {
	jobs := newStubJobs()
	app, runner := testApp(jobs)

	body := `{"prompt":"a lighthouse in fog","quality_tier":"ultra","input_image_refs":["https://img.example/a.jpg"]}`
	req := authed(httptest.NewRequest(http.MethodPost, "/v1/jobs", strings.NewReader(body)), "user-1")
	rec := serve(app, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d, body %s", rec.Code, http.StatusAccepted, rec.Body)
	}
	var resp createJobResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.JobID == "" || resp.CostCredits != 20 {
		t.Fatalf("unexpected response %+v", resp)
	}

	if len(jobs.created) != 1 {
		t.Fatalf("created %d jobs, want 1", len(jobs.created))
	}
	job := jobs.created[0]
	if job.UserID != "user-1" || job.QualityTier != domain.QualityTierUltra || job.CostCredits != 20 {
		t.Fatalf("unexpected job %+v", job)
	}

	<-runner.done
	if len(runner.runs) != 1 || runner.runs[0] != job.ID {
		t.Fatalf("runner runs = %v, want [%s]", runner.runs, job.ID)
	}
}

func TestJobCreateWorkerDispatchLeavesJobPending(t *testing.T) {
	jobs := newStubJobs()
	app, runner := testApp(jobs)
	app.Dispatch = "worker"
	runner.done = nil

	body := `{"prompt":"a lighthouse in fog"}`
	req := authed(httptest.NewRequest(http.MethodPost, "/v1/jobs", strings.NewReader(body)), "user-1")
	rec := serve(app, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusAccepted)
	}
	if len(jobs.claimed) != 0 {
		t.Fatalf("worker dispatch claimed %v", jobs.claimed)
	}
	if jobs.created[0].Status != domain.JobStatusPending {
		t.Fatalf("status = %s, want pending", jobs.created[0].Status)
	}
}

func TestJobCreateValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "empty prompt", body: `{"prompt":"  "}`},
		{name: "bad tier", body: `{"prompt":"x","quality_tier":"extreme"}`},
		{name: "too many inputs", body: `{"prompt":"x","input_image_refs":["a","b","c","d","e"]}`},
		{name: "blank input ref", body: `{"prompt":"x","input_image_refs":[" "]}`},
		{name: "not json", body: `prompt=x`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			app, _ := testApp(newStubJobs())
			req := authed(httptest.NewRequest(http.MethodPost, "/v1/jobs", strings.NewReader(tc.body)), "user-1")
			rec := serve(app, req)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
			}
		})
	}
}

func TestJobCreateRequiresUser(t *testing.T) {
	app, _ := testApp(newStubJobs())
	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", strings.NewReader(`{"prompt":"x"}`))
	rec := serve(app, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestJobStatus(t *testing.T) {
	before, after := 25, 15
	jobs := newStubJobs(&domain.Job{
		ID:             "job-1",
		UserID:         "user-1",
		Status:         domain.JobStatusCompleted,
		OriginalPrompt: "a lighthouse in fog",
		ResultImageRef: "store://result.jpg",
		QualityTier:    domain.QualityTierStandard,
		CostCredits:    5,
		CreditsBefore:  &before,
		CreditsAfter:   &after,
	})
	app, _ := testApp(jobs)

	rec := serve(app, authed(httptest.NewRequest(http.MethodGet, "/v1/jobs/job-1", nil), "user-1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var resp jobResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "completed" || resp.ResultImageRef != "store://result.jpg" || *resp.CreditsAfter != 15 {
		t.Fatalf("unexpected response %+v", resp)
	}

	// Another user's job looks like it does not exist.
	rec = serve(app, authed(httptest.NewRequest(http.MethodGet, "/v1/jobs/job-1", nil), "user-2"))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestJobArchive(t *testing.T) {
	jobs := newStubJobs(&domain.Job{
		ID:             "job-1",
		UserID:         "user-1",
		Status:         domain.JobStatusCompleted,
		InputImageRefs: []string{"store://input.jpg"},
		ResultImageRef: "store://result.jpg",
	})
	app, _ := testApp(jobs)
	app.Fetcher = &stubFetcher{data: map[string][]byte{
		"store://input.jpg":  []byte("input-bytes"),
		"store://result.jpg": []byte("result-bytes"),
	}}

	rec := serve(app, authed(httptest.NewRequest(http.MethodGet, "/v1/jobs/job-1/archive", nil), "user-1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body %s", rec.Code, http.StatusOK, rec.Body)
	}
	if got := rec.Header().Get("Content-Type"); got != "application/zip" {
		t.Fatalf("content type = %q", got)
	}

	zr, err := zip.NewReader(bytes.NewReader(rec.Body.Bytes()), int64(rec.Body.Len()))
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	if len(zr.File) != 2 {
		t.Fatalf("archive has %d entries, want 2", len(zr.File))
	}
}

func TestJobArchiveNotReady(t *testing.T) {
	jobs := newStubJobs(&domain.Job{ID: "job-1", UserID: "user-1", Status: domain.JobStatusProcessing})
	app, _ := testApp(jobs)

	rec := serve(app, authed(httptest.NewRequest(http.MethodGet, "/v1/jobs/job-1/archive", nil), "user-1"))
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusConflict)
	}
}

func TestBalanceGet(t *testing.T) {
	app, _ := testApp(newStubJobs())

	rec := serve(app, authed(httptest.NewRequest(http.MethodGet, "/v1/balance", nil), "user-1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var resp balanceResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.CreditBalance != 25 || resp.UserID != "user-1" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestBalanceGetUnknownUser(t *testing.T) {
	app, _ := testApp(newStubJobs())
	app.Balances = &stubBalances{err: domain.ErrNotFound}

	rec := serve(app, authed(httptest.NewRequest(http.MethodGet, "/v1/balance", nil), "user-1"))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

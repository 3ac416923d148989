package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"pixelsmith/internal/domain"
	"pixelsmith/pkg/zip"
)

const maxInputImages = 4

type createJobRequest struct {
	Prompt         string   `json:"prompt"`
	QualityTier    string   `json:"quality_tier"`
	InputImageRefs []string `json:"input_image_refs"`
}

type createJobResponse struct {
	JobID       string `json:"job_id"`
	Status      string `json:"status"`
	CostCredits int    `json:"cost_credits"`
}

func (a *App) JobCreate(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	req.Prompt = strings.TrimSpace(req.Prompt)
	if req.Prompt == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "prompt required")
		return
	}
	tier := domain.QualityTier(req.QualityTier)
	if req.QualityTier == "" {
		tier = domain.QualityTierStandard
	}
	if !tier.Valid() {
		a.error(w, http.StatusBadRequest, "bad_request", "unknown quality tier")
		return
	}
	if len(req.InputImageRefs) > maxInputImages {
		a.error(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("at most %d input images", maxInputImages))
		return
	}
	for _, ref := range req.InputImageRefs {
		if strings.TrimSpace(ref) == "" {
			a.error(w, http.StatusBadRequest, "bad_request", "empty input image ref")
			return
		}
	}

	now := time.Now().UTC()
	job := &domain.Job{
		ID:             uuid.NewString(),
		UserID:         userID,
		Status:         domain.JobStatusPending,
		OriginalPrompt: req.Prompt,
		InputImageRefs: req.InputImageRefs,
		QualityTier:    tier,
		CostCredits:    tier.CostCredits(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := a.Jobs.Create(r.Context(), job); err != nil {
		a.Logger.Error().Err(err).Str("user_id", userID).Msg("handlers: failed to create job")
		a.error(w, http.StatusInternalServerError, "internal", "failed to create job")
		return
	}

	if a.Dispatch == "inline" {
		a.dispatchInline(r.Context(), job)
	}

	a.json(w, http.StatusAccepted, createJobResponse{
		JobID:       job.ID,
		Status:      string(job.Status),
		CostCredits: job.CostCredits,
	})
}

// dispatchInline claims the job in-process and runs it on its own goroutine,
// detached from the request context so a client disconnect does not abort
// the pipeline.
func (a *App) dispatchInline(ctx context.Context, job *domain.Job) {
	moved, err := a.Jobs.MarkProcessing(ctx, job.ID)
	if err != nil || !moved {
		a.Logger.Error().Err(err).Str("job_id", job.ID).Msg("handlers: inline claim failed")
		return
	}
	job.Status = domain.JobStatusProcessing
	run := context.WithoutCancel(ctx)
	go func() {
		if err := a.Runner.Run(run, job); err != nil {
			a.Logger.Warn().Err(err).Str("job_id", job.ID).Msg("handlers: inline job failed")
		}
	}()
}

type jobResponse struct {
	JobID          string    `json:"job_id"`
	Status         string    `json:"status"`
	OriginalPrompt string    `json:"original_prompt"`
	EnhancedPrompt string    `json:"enhanced_prompt,omitempty"`
	InputImageRefs []string  `json:"input_image_refs,omitempty"`
	ResultImageRef string    `json:"result_image_ref,omitempty"`
	QualityTier    string    `json:"quality_tier"`
	CostCredits    int       `json:"cost_credits"`
	CreditsBefore  *int      `json:"credits_before,omitempty"`
	CreditsAfter   *int      `json:"credits_after,omitempty"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (a *App) JobStatus(w http.ResponseWriter, r *http.Request) {
	job := a.loadJobForUser(w, r)
	if job == nil {
		return
	}
	a.json(w, http.StatusOK, jobResponse{
		JobID:          job.ID,
		Status:         string(job.Status),
		OriginalPrompt: job.OriginalPrompt,
		EnhancedPrompt: job.EnhancedPrompt,
		InputImageRefs: job.InputImageRefs,
		ResultImageRef: job.ResultImageRef,
		QualityTier:    string(job.QualityTier),
		CostCredits:    job.CostCredits,
		CreditsBefore:  job.CreditsBefore,
		CreditsAfter:   job.CreditsAfter,
		ErrorMessage:   job.ErrorMessage,
		CreatedAt:      job.CreatedAt,
		UpdatedAt:      job.UpdatedAt,
	})
}

func (a *App) JobArchive(w http.ResponseWriter, r *http.Request) {
	job := a.loadJobForUser(w, r)
	if job == nil {
		return
	}
	if job.Status != domain.JobStatusCompleted {
		a.error(w, http.StatusConflict, "not_ready", "job has no result yet")
		return
	}

	var entries []zip.Entry
	for i, ref := range job.InputImageRefs {
		data, contentType, err := a.Fetcher.Fetch(r.Context(), ref)
		if err != nil {
			a.Logger.Warn().Err(err).Str("job_id", job.ID).Str("ref", ref).Msg("handlers: archive input fetch failed")
			continue
		}
		entries = append(entries, zip.Entry{Name: archiveName(fmt.Sprintf("input-%02d", i), ref, contentType), Data: data})
	}
	data, contentType, err := a.Fetcher.Fetch(r.Context(), job.ResultImageRef)
	if err != nil {
		a.Logger.Error().Err(err).Str("job_id", job.ID).Msg("handlers: archive result fetch failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load result image")
		return
	}
	entries = append(entries, zip.Entry{Name: archiveName("result", job.ResultImageRef, contentType), Data: data})

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=job-%s.zip", job.ID))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(zip.Archive(entries))
}

func (a *App) loadJobForUser(w http.ResponseWriter, r *http.Request) *domain.Job {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return nil
	}
	jobID := chi.URLParam(r, "job_id")
	if jobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "job_id required")
		return nil
	}
	job, err := a.Jobs.GetForUser(r.Context(), jobID, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "job not found")
			return nil
		}
		a.Logger.Error().Err(err).Str("job_id", jobID).Msg("handlers: failed to load job")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load job")
		return nil
	}
	return job
}

func archiveName(stem, ref, contentType string) string {
	ext := ".jpg"
	switch contentType {
	case "image/png":
		ext = ".png"
	case "image/webp":
		ext = ".webp"
	case "", "application/octet-stream":
		if e := path.Ext(ref); e != "" && len(e) <= 5 {
			ext = e
		}
	}
	return stem + ext
}

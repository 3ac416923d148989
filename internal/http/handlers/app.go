package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"pixelsmith/internal/domain"
	"pixelsmith/internal/middleware"
)

// BalanceReader is the read-only slice of the credit ledger the API exposes.
type BalanceReader interface {
	Balance(ctx context.Context, userID string) (int, error)
}

// JobRunner drives a claimed job to a terminal state.
type JobRunner interface {
	Run(ctx context.Context, job *domain.Job) error
}

// ArtifactFetcher loads stored image bytes for the archive download.
type ArtifactFetcher interface {
	Fetch(ctx context.Context, uri string) (data []byte, contentType string, err error)
}

type App struct {
	Jobs     domain.JobRepository
	Balances BalanceReader
	Runner   JobRunner
	Fetcher  ArtifactFetcher
	// Dispatch is "inline" to run jobs in-process or "worker" to leave them
	// pending for the worker binary.
	Dispatch string
	Logger   zerolog.Logger
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, status int, code, message string) {
	a.json(w, status, errorResponse{Error: errorBody{Code: code, Message: message}})
}

func (a *App) currentUserID(r *http.Request) string {
	id, _ := middleware.UserIDFromContext(r.Context())
	return id
}

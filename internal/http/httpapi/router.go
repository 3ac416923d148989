package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"pixelsmith/internal/http/handlers"
	"pixelsmith/internal/middleware"
)

// NewRouter mounts the API. Everything under /v1 except the health check
// requires a bearer token.
func NewRouter(app *handlers.App, issuer *middleware.TokenIssuer, logger zerolog.Logger, rateLimitPerMin int) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(logger),
	)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	if rateLimitPerMin > 0 {
		r.Use(middleware.RateLimit(rateLimitPerMin, time.Minute))
	}

	r.Get("/healthz", app.Health)

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.RequireAuth(issuer))
		r.Post("/jobs", app.JobCreate)
		r.Get("/jobs/{job_id}", app.JobStatus)
		r.Get("/jobs/{job_id}/archive", app.JobArchive)
		r.Get("/balance", app.BalanceGet)
	})

	return r
}

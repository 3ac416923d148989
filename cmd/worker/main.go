package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"pixelsmith/internal/adapter/repo"
	"pixelsmith/internal/domain"
	"pixelsmith/internal/infra"
	"pixelsmith/internal/ledger"
	"pixelsmith/internal/lifecycle"
	"pixelsmith/internal/notify"
	"pixelsmith/internal/pipeline"
	imageprovider "pixelsmith/internal/providers/image"
	"pixelsmith/internal/providers/prompt"
	"pixelsmith/internal/remote"
	"pixelsmith/internal/storage"
)

const jobPollInterval = 2 * time.Second

type jobWorker struct {
	jobs         domain.JobRepository
	orchestrator *lifecycle.Orchestrator
	logger       infra.Logger
}

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: db connection failed")
	}
	defer dbpool.Close()

	jobs := repo.NewJobRepository(dbpool)
	balances := repo.NewBalanceStore(dbpool)
	entries := repo.NewLedgerStore(dbpool)
	creditLedger := ledger.New(balances, entries, logger)

	var store storage.ObjectStore
	if cfg.SupabaseURL != "" {
		store, err = storage.NewSupabaseStore(cfg.SupabaseURL, cfg.SupabaseServiceKey, cfg.StorageBucket)
	} else {
		storagePath := cfg.StoragePath
		if abs, absErr := filepath.Abs(storagePath); absErr == nil {
			storagePath = abs
		}
		store, err = storage.NewFileStore(storagePath, "")
	}
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure storage")
	}

	httpClient := &http.Client{Timeout: cfg.CallTimeout}
	pipe, err := pipeline.New(pipeline.Options{
		Store:      store,
		HTTPClient: httpClient,
		ByteLimit:  cfg.ImageByteLimit,
		Logger:     logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure pipeline")
	}

	var enhancer prompt.Enhancer = prompt.NewStaticEnhancer()
	if cfg.PromptServiceAPIKey != "" {
		httpEnhancer, enhErr := prompt.NewHTTPEnhancer(prompt.HTTPOptions{
			APIKey:     cfg.PromptServiceAPIKey,
			Model:      cfg.PromptServiceModel,
			BaseURL:    cfg.PromptServiceBaseURL,
			HTTPClient: httpClient,
		})
		if enhErr != nil {
			logger.Warn().Err(enhErr).Msg("worker: prompt service misconfigured, using static prompt enhancement")
		} else {
			enhancer = httpEnhancer
		}
	}

	synth, err := imageprovider.NewHTTPSynthesizer(imageprovider.HTTPOptions{
		BaseURL:    cfg.SynthServiceBaseURL,
		APIKey:     cfg.SynthServiceAPIKey,
		Model:      cfg.SynthServiceModel,
		HTTPClient: httpClient,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure synthesizer")
	}
	if cfg.SynthServiceAPIKey == "" {
		logger.Warn().Msg("worker: synth service api key missing, generation calls will fail")
	}

	var notifier notify.Notifier = notify.NewLogNotifier(logger)
	if cfg.NotifyWebhookURL != "" {
		notifier = notify.NewWebhookNotifier(cfg.NotifyWebhookURL, nil, logger)
	}

	machine := lifecycle.NewMachine(jobs, creditLedger, notifier, logger)
	policy := remote.Policy{
		MaxAttempts: cfg.CallMaxAttempts,
		BaseDelay:   cfg.CallBaseDelay,
		MaxDelay:    cfg.CallMaxDelay,
	}

	worker := &jobWorker{
		jobs:         jobs,
		orchestrator: lifecycle.NewOrchestrator(machine, jobs, pipe, enhancer, synth, policy, logger),
		logger:       logger,
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("worker: stopped with error")
	}
	logger.Info().Msg("worker: stopped")
}

func (w *jobWorker) Run(ctx context.Context) error {
	w.logger.Info().Msg("worker: started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		job, err := w.jobs.ClaimPending(ctx)
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) {
				w.logger.Error().Err(err).Msg("worker: failed to claim job")
			}
			if !sleepCtx(ctx, jobPollInterval) {
				return ctx.Err()
			}
			continue
		}

		w.logger.Info().Str("job_id", job.ID).Str("user_id", job.UserID).Msg("worker: picked job")
		if err := w.orchestrator.Run(ctx, job); err != nil {
			w.logger.Warn().Err(err).Str("job_id", job.ID).Msg("worker: job failed")
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"pixelsmith/internal/adapter/repo"
	"pixelsmith/internal/http/handlers"
	httpapi "pixelsmith/internal/http/httpapi"
	"pixelsmith/internal/infra"
	"pixelsmith/internal/ledger"
	"pixelsmith/internal/lifecycle"
	"pixelsmith/internal/middleware"
	"pixelsmith/internal/notify"
	"pixelsmith/internal/pipeline"
	imageprovider "pixelsmith/internal/providers/image"
	"pixelsmith/internal/providers/prompt"
	"pixelsmith/internal/remote"
	"pixelsmith/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()
	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer dbpool.Close()

	jobs := repo.NewJobRepository(dbpool)
	balances := repo.NewBalanceStore(dbpool)
	entries := repo.NewLedgerStore(dbpool)
	creditLedger := ledger.New(balances, entries, logger)

	store, fileStore, err := buildStore(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure storage")
	}

	httpClient := &http.Client{Timeout: cfg.CallTimeout}
	pipe, err := pipeline.New(pipeline.Options{
		Store:      store,
		HTTPClient: httpClient,
		ByteLimit:  cfg.ImageByteLimit,
		Logger:     logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure pipeline")
	}

	enhancer := buildEnhancer(cfg, httpClient, logger)
	synth, err := imageprovider.NewHTTPSynthesizer(imageprovider.HTTPOptions{
		BaseURL:    cfg.SynthServiceBaseURL,
		APIKey:     cfg.SynthServiceAPIKey,
		Model:      cfg.SynthServiceModel,
		HTTPClient: httpClient,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure synthesizer")
	}
	if cfg.SynthServiceAPIKey == "" {
		logger.Warn().Msg("synth service api key missing, generation calls will fail")
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
	orchestrator := lifecycle.NewOrchestrator(machine, jobs, pipe, enhancer, synth, policy, logger)

	app := &handlers.App{
		Jobs:     jobs,
		Balances: creditLedger,
		Runner:   orchestrator,
		Fetcher:  artifactFetcher{pipe: pipe, files: fileStore},
		Dispatch: cfg.JobDispatch,
		Logger:   logger,
	}

	issuer := middleware.NewTokenIssuer(cfg.JWTSecret, 0)
	router := httpapi.NewRouter(app, issuer, logger, cfg.RateLimitPerMin)
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}

func buildStore(cfg *infra.Config) (storage.ObjectStore, *storage.FileStore, error) {
	if cfg.SupabaseURL != "" {
		store, err := storage.NewSupabaseStore(cfg.SupabaseURL, cfg.SupabaseServiceKey, cfg.StorageBucket)
		return store, nil, err
	}
	storagePath := cfg.StoragePath
	if abs, err := filepath.Abs(storagePath); err == nil {
		storagePath = abs
	}
	fileStore, err := storage.NewFileStore(storagePath, "")
	return fileStore, fileStore, err
}

func buildEnhancer(cfg *infra.Config, httpClient *http.Client, logger infra.Logger) prompt.Enhancer {
	if cfg.PromptServiceAPIKey == "" {
		logger.Warn().Msg("prompt service api key missing, using static prompt enhancement")
		return prompt.NewStaticEnhancer()
	}
	enhancer, err := prompt.NewHTTPEnhancer(prompt.HTTPOptions{
		APIKey:     cfg.PromptServiceAPIKey,
		Model:      cfg.PromptServiceModel,
		BaseURL:    cfg.PromptServiceBaseURL,
		HTTPClient: httpClient,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("prompt service misconfigured, using static prompt enhancement")
		return prompt.NewStaticEnhancer()
	}
	return enhancer
}

// artifactFetcher serves archive downloads. Local file-store keys are read
// straight from disk; anything else goes through the pipeline's HTTP fetch.
type artifactFetcher struct {
	pipe  *pipeline.Pipeline
	files *storage.FileStore
}

func (f artifactFetcher) Fetch(ctx context.Context, uri string) ([]byte, string, error) {
	if f.files != nil && !strings.HasPrefix(uri, "http://") && !strings.HasPrefix(uri, "https://") {
		data, err := os.ReadFile(filepath.Join(f.files.BasePath(), filepath.FromSlash(uri)))
		if err != nil {
			return nil, "", err
		}
		return data, "", nil
	}
	return f.pipe.Fetch(ctx, uri)
}

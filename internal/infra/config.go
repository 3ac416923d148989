package infra

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string
	DBMaxConns  int
	DBMinConns  int
	JWTSecret   string

	// JobDispatch selects where a freshly created job runs: "inline" spawns a
	// goroutine in the API process, "worker" leaves the row for cmd/worker.
	JobDispatch string

	PromptServiceBaseURL string
	PromptServiceAPIKey  string
	PromptServiceModel   string
	SynthServiceBaseURL  string
	SynthServiceAPIKey   string
	SynthServiceModel    string

	SupabaseURL        string
	SupabaseServiceKey string
	StorageBucket      string
	StoragePath        string

	NotifyWebhookURL string

	ImageByteLimit   int64
	CallMaxAttempts  int
	CallBaseDelay    time.Duration
	CallMaxDelay     time.Duration
	CallTimeout      time.Duration
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		DBMaxConns:  getEnvInt("DB_MAX_CONNS", 10),
		DBMinConns:  getEnvInt("DB_MIN_CONNS", 1),
		JWTSecret:   os.Getenv("JWT_SECRET"),

		JobDispatch: getEnv("JOB_DISPATCH", "inline"),

		PromptServiceBaseURL: getEnv("PROMPT_SERVICE_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		PromptServiceAPIKey:  os.Getenv("PROMPT_SERVICE_API_KEY"),
		PromptServiceModel:   getEnv("PROMPT_SERVICE_MODEL", "gemini-1.5-flash"),
		SynthServiceBaseURL:  getEnv("SYNTH_SERVICE_BASE_URL", "https://dashscope-intl.aliyuncs.com/api/v1"),
		SynthServiceAPIKey:   os.Getenv("SYNTH_SERVICE_API_KEY"),
		SynthServiceModel:    getEnv("SYNTH_SERVICE_MODEL", "qwen-image-edit"),

		SupabaseURL:        os.Getenv("SUPABASE_URL"),
		SupabaseServiceKey: os.Getenv("SUPABASE_SERVICE_ROLE_KEY"),
		StorageBucket:      getEnv("STORAGE_BUCKET", "generations"),
		StoragePath:        getEnv("STORAGE_PATH", "./storage"),

		NotifyWebhookURL: os.Getenv("NOTIFY_WEBHOOK_URL"),

		ImageByteLimit:   int64(getEnvInt("IMAGE_BYTE_LIMIT", 3*1024*1024)),
		CallMaxAttempts:  getEnvInt("CALL_MAX_ATTEMPTS", 3),
		CallBaseDelay:    time.Millisecond * time.Duration(getEnvInt("CALL_BASE_DELAY_MS", 500)),
		CallMaxDelay:     time.Second * time.Duration(getEnvInt("CALL_MAX_DELAY_SECONDS", 8)),
		CallTimeout:      time.Second * time.Duration(getEnvInt("CALL_TIMEOUT_SECONDS", 60)),
		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	if cfg.JobDispatch != "inline" && cfg.JobDispatch != "worker" {
		return nil, fmt.Errorf("JOB_DISPATCH must be inline or worker, got %q", cfg.JobDispatch)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverSQLite   = "sqlite"
	StoreDriverMemory   = "memory"

	StorageDriverFilesystem = "filesystem"
	StorageDriverGCS        = "gcs"

	DispatchModeInProcess = "inprocess"
	DispatchModeNATS      = "nats"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string
	StoreDriver string
	SQLitePath  string
	JWTSecret   string

	StorageDriver    string
	StoragePath      string
	StorageBaseURL   string
	GCSBucket        string
	GCSPublicBaseURL string
	GCSCredentials   string

	DispatchMode string
	NATSURL      string
	NATSSubject  string

	TextProvider     string
	ImageProvider    string
	GeminiAPIKey     string
	GeminiModel      string
	GeminiImageModel string
	GeminiBaseURL    string
	OpenAIAPIKey     string
	OpenAIModel      string
	OpenAIImageModel string
	OpenAIBaseURL    string
	OpenAIOrg        string

	NarrativeTimeout        time.Duration
	IllustrationTimeout     time.Duration
	UploadTimeout           time.Duration
	RunTimeout              time.Duration
	IllustrationConcurrency int
	MaxPhotoBytes           int64
	StuckAfter              time.Duration
	SweepInterval           time.Duration
	PollInterval            time.Duration
	ShutdownGrace           time.Duration

	DefaultLocale      string
	CORSAllowedOrigins []string
	HTTPReadTimeout    time.Duration
	HTTPWriteTimeout   time.Duration
	HTTPIdleTimeout    time.Duration
	RateLimitPerMin    int
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	port := getEnv("PORT", "8080")
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        port,
		DatabaseURL: os.Getenv("DATABASE_URL"),
		StoreDriver: strings.ToLower(getEnv("STORE_DRIVER", StoreDriverPostgres)),
		SQLitePath:  getEnv("SQLITE_PATH", "./data/storybook.db"),
		JWTSecret:   os.Getenv("JWT_SECRET"),

		StorageDriver:    strings.ToLower(getEnv("STORAGE_DRIVER", StorageDriverFilesystem)),
		StoragePath:      getEnv("STORAGE_PATH", "./storage"),
		StorageBaseURL:   getEnv("STORAGE_BASE_URL", "http://localhost:"+port+"/static"),
		GCSBucket:        os.Getenv("GCS_BUCKET"),
		GCSPublicBaseURL: os.Getenv("GCS_PUBLIC_BASE_URL"),
		GCSCredentials:   os.Getenv("GCS_CREDENTIALS_FILE"),

		DispatchMode: strings.ToLower(getEnv("DISPATCH_MODE", DispatchModeInProcess)),
		NATSURL:      getEnv("NATS_URL", "nats://127.0.0.1:4222"),
		NATSSubject:  getEnv("NATS_SUBJECT", "storybook.jobs.start"),

		TextProvider:     strings.ToLower(getEnv("TEXT_PROVIDER", "openai")),
		ImageProvider:    strings.ToLower(getEnv("IMAGE_PROVIDER", "gemini")),
		GeminiAPIKey:     os.Getenv("GEMINI_API_KEY"),
		GeminiModel:      getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		GeminiImageModel: getEnv("GEMINI_IMAGE_MODEL", "gemini-2.5-flash-image"),
		GeminiBaseURL:    getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:      getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIImageModel: getEnv("OPENAI_IMAGE_MODEL", "gpt-image-1"),
		OpenAIBaseURL:    getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIOrg:        os.Getenv("OPENAI_ORG"),

		NarrativeTimeout:        time.Second * time.Duration(getEnvInt("NARRATIVE_TIMEOUT_SECONDS", 90)),
		IllustrationTimeout:     time.Second * time.Duration(getEnvInt("ILLUSTRATION_TIMEOUT_SECONDS", 120)),
		UploadTimeout:           time.Second * time.Duration(getEnvInt("UPLOAD_TIMEOUT_SECONDS", 60)),
		RunTimeout:              time.Minute * time.Duration(getEnvInt("RUN_TIMEOUT_MINUTES", 10)),
		IllustrationConcurrency: getEnvInt("ILLUSTRATION_CONCURRENCY", 5),
		MaxPhotoBytes:           int64(getEnvInt("MAX_PHOTO_BYTES", 10<<20)),
		StuckAfter:              time.Minute * time.Duration(getEnvInt("STUCK_AFTER_MINUTES", 15)),
		SweepInterval:           time.Second * time.Duration(getEnvInt("SWEEP_INTERVAL_SECONDS", 60)),
		PollInterval:            time.Second * time.Duration(getEnvInt("POLL_INTERVAL_SECONDS", 2)),
		ShutdownGrace:           time.Second * time.Duration(getEnvInt("SHUTDOWN_GRACE_SECONDS", 30)),

		DefaultLocale:      getEnv("DEFAULT_LOCALE", "en"),
		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS"),
		HTTPReadTimeout:    time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout:   time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:    time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:    getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	switch c.StoreDriver {
	case StoreDriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required")
		}
	case StoreDriverSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			return fmt.Errorf("SQLITE_PATH is required")
		}
	case StoreDriverMemory:
	default:
		return fmt.Errorf("unsupported STORE_DRIVER %q", c.StoreDriver)
	}

	switch c.StorageDriver {
	case StorageDriverFilesystem:
	case StorageDriverGCS:
		if c.GCSBucket == "" {
			return fmt.Errorf("GCS_BUCKET is required when STORAGE_DRIVER=gcs")
		}
	default:
		return fmt.Errorf("unsupported STORAGE_DRIVER %q", c.StorageDriver)
	}

	switch c.DispatchMode {
	case DispatchModeInProcess:
	case DispatchModeNATS:
		if c.StoreDriver == StoreDriverMemory {
			return fmt.Errorf("DISPATCH_MODE=nats needs a shared job store, not %q", c.StoreDriver)
		}
	default:
		return fmt.Errorf("unsupported DISPATCH_MODE %q", c.DispatchMode)
	}

	if c.IllustrationConcurrency < 1 {
		c.IllustrationConcurrency = 1
	}
	durations := []struct {
		env string
		d   time.Duration
	}{
		{"NARRATIVE_TIMEOUT_SECONDS", c.NarrativeTimeout},
		{"ILLUSTRATION_TIMEOUT_SECONDS", c.IllustrationTimeout},
		{"UPLOAD_TIMEOUT_SECONDS", c.UploadTimeout},
		{"RUN_TIMEOUT_MINUTES", c.RunTimeout},
		{"STUCK_AFTER_MINUTES", c.StuckAfter},
		{"SWEEP_INTERVAL_SECONDS", c.SweepInterval},
		{"POLL_INTERVAL_SECONDS", c.PollInterval},
		{"SHUTDOWN_GRACE_SECONDS", c.ShutdownGrace},
	}
	for _, v := range durations {
		if v.d <= 0 {
			return fmt.Errorf("%s must be positive", v.env)
		}
	}
	if c.StuckAfter <= c.RunTimeout {
		return fmt.Errorf("STUCK_AFTER_MINUTES must exceed RUN_TIMEOUT_MINUTES")
	}
	if c.MaxPhotoBytes <= 0 {
		return fmt.Errorf("MAX_PHOTO_BYTES must be positive")
	}
	return nil
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

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

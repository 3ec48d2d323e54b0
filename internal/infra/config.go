package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// MethodEndpoint holds the external compute endpoint for one protection
// method.
type MethodEndpoint struct {
	URL   string
	Token string
}

// Config represents application configuration loaded from environment
// variables. It is resolved once at process start and injected; nothing else
// in the codebase reads the environment.
type Config struct {
	AppEnv         string
	Port           string
	DatabaseURL    string
	JWTSecret      string
	WebhookSecret  string
	SchedulerToken string
	StoragePath    string
	StorageBaseURL string
	GeoIPDBPath    string

	ProtectionMethods []string
	MethodEndpoints   map[string]MethodEndpoint

	MaxConcurrentJobs      int
	SyncBatchSize          int
	AdvanceBatchSize       int
	ProcessingTimeout      time.Duration
	QueueTimeout           time.Duration
	PipelineCreditCost     int
	MaxPipelineSteps       int
	MaxUserActivePipelines int
	SchedulerInterval      time.Duration

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
	AllowedOrigins   []string
}

// LoadConfig loads configuration from environment variables and applies
// defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:         getEnv("APP_ENV", "development"),
		Port:           getEnv("PORT", "8080"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		WebhookSecret:  os.Getenv("WEBHOOK_SECRET"),
		SchedulerToken: os.Getenv("SCHEDULER_TOKEN"),
		StoragePath:    getEnv("STORAGE_PATH", "./storage"),
		StorageBaseURL: getEnv("STORAGE_BASE_URL", "http://localhost:8080/static"),
		GeoIPDBPath:    os.Getenv("GEOIP_DB_PATH"),

		ProtectionMethods: splitList(getEnv("PROTECTION_METHODS", "mist,watermark,grayscale")),

		MaxConcurrentJobs:      getEnvInt("MAX_CONCURRENT_JOBS", 5),
		SyncBatchSize:          getEnvInt("SYNC_BATCH_SIZE", 100),
		AdvanceBatchSize:       getEnvInt("ADVANCE_BATCH_SIZE", 50),
		ProcessingTimeout:      getEnvDuration("PROCESSING_TIMEOUT", 15*time.Minute),
		QueueTimeout:           getEnvDuration("QUEUE_TIMEOUT", 6*time.Hour),
		PipelineCreditCost:     getEnvInt("PIPELINE_CREDIT_COST", 10),
		MaxPipelineSteps:       getEnvInt("MAX_PIPELINE_STEPS", 5),
		MaxUserActivePipelines: getEnvInt("MAX_USER_ACTIVE_PIPELINES", 10),
		SchedulerInterval:      getEnvDuration("SCHEDULER_INTERVAL", 30*time.Second),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		AllowedOrigins:   splitList(getEnv("ALLOWED_ORIGINS", "http://localhost:3000")),
	}

	cfg.MethodEndpoints = make(map[string]MethodEndpoint, len(cfg.ProtectionMethods))
	for _, method := range cfg.ProtectionMethods {
		envKey := strings.ToUpper(strings.ReplaceAll(method, "-", "_"))
		cfg.MethodEndpoints[method] = MethodEndpoint{
			URL:   os.Getenv("PROTECT_" + envKey + "_URL"),
			Token: os.Getenv("PROTECT_" + envKey + "_TOKEN"),
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
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

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

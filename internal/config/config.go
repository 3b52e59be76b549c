package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds the configuration for the application.
type Config struct {
	Env          string
	Port         string
	DatabasePath string
	LogLevel     string
	LogFormat    string

	// Engine
	SolveTimeoutMS      int
	MaxConcurrentSolves int
	JobQueueSize        int
	SuggestRatePerSec   float64

	// HTTP
	JWTSecret          string
	CORSAllowedOrigins []string

	// Telegram Config
	TelegramBotToken       string
	TelegramWebhookURL     string
	TelegramAllowedUserIDs []int64

	GeminiAPIKey string
}

// NewFromEnv creates a new Config object from environment variables. Outside
// production a .env file in the working directory is loaded first; variables
// already set win.
func NewFromEnv() (*Config, error) {
	env := getEnv("APP_ENV", "development")
	if env != "production" {
		_ = godotenv.Load()
	}

	cfg := &Config{
		Env:                env,
		Port:               getEnv("PORT", "8080"),
		DatabasePath:       getEnv("DATABASE_PATH", "data/meal-optimizer.db"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogFormat:          getEnv("LOG_FORMAT", "json"),
		JWTSecret:          os.Getenv("JWT_SECRET"),
		CORSAllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "*")),
		TelegramBotToken:   os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramWebhookURL: os.Getenv("TELEGRAM_WEBHOOK_URL"),
		GeminiAPIKey:       os.Getenv("GEMINI_API_KEY"),
	}

	var err error
	if cfg.SolveTimeoutMS, err = getInt("SOLVE_TIMEOUT_MS", 5000); err != nil {
		return nil, err
	}
	if cfg.MaxConcurrentSolves, err = getInt("MAX_CONCURRENT_SOLVES", runtime.NumCPU()); err != nil {
		return nil, err
	}
	if cfg.JobQueueSize, err = getInt("JOB_QUEUE_SIZE", 64); err != nil {
		return nil, err
	}
	if cfg.SuggestRatePerSec, err = getFloat("SUGGEST_RATE_PER_SEC", 20); err != nil {
		return nil, err
	}
	if cfg.SolveTimeoutMS < 1 {
		return nil, fmt.Errorf("SOLVE_TIMEOUT_MS must be at least 1, got %d", cfg.SolveTimeoutMS)
	}
	if cfg.MaxConcurrentSolves < 1 {
		return nil, fmt.Errorf("MAX_CONCURRENT_SOLVES must be at least 1, got %d", cfg.MaxConcurrentSolves)
	}

	for _, raw := range splitList(os.Getenv("TELEGRAM_ALLOWED_USER_IDS")) {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("TELEGRAM_ALLOWED_USER_IDS contains invalid id %q: %w", raw, err)
		}
		cfg.TelegramAllowedUserIDs = append(cfg.TelegramAllowedUserIDs, id)
	}

	return cfg, nil
}

// TelegramEnabled reports whether the bot should start.
func (c *Config) TelegramEnabled() bool {
	return c.TelegramBotToken != ""
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}

func getFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number: %w", key, err)
	}
	return f, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

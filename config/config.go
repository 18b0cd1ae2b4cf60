// Package config loads the console backend configuration from the
// environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // STATUS_TIMEZONE must resolve in minimal containers

	"github.com/warp/policy-installments/installment"
)

// DefaultStatusTimezone is the back office's calendar.
const DefaultStatusTimezone = "America/Sao_Paulo"

// Config holds all application configuration.
// Values are loaded from environment variables with sensible defaults.
type Config struct {
	// Server
	Port        int
	LogLevel    string
	CORSOrigins []string

	// Draft storage
	DBPath        string
	DraftTTL      time.Duration
	SweepSchedule string

	// Policy API
	PolicyAPIURL      string
	PolicyAPIEmail    string
	PolicyAPIPassword string
	HTTPTimeout       time.Duration

	// Resilience
	MaxRetries        int
	InitialBackoff    time.Duration
	SubmitConcurrency int

	// Schedule generation and status
	MonthOverflow installment.MonthOverflow

	// StatusLocation decides which calendar day is "today" when deriving
	// installment status.
	StatusLocation *time.Location

	// Observability
	OTLPEndpoint string
}

// Load reads configuration from environment variables with defaults.
// Malformed numbers and durations fall back to their defaults; an unknown
// MONTH_OVERFLOW or STATUS_TIMEZONE is an error since it changes due dates
// or statuses.
func Load() (*Config, error) {
	overflow, err := installment.ParseMonthOverflow(getEnv("MONTH_OVERFLOW", "clamp"))
	if err != nil {
		return nil, fmt.Errorf("MONTH_OVERFLOW: %w", err)
	}
	loc, err := time.LoadLocation(getEnv("STATUS_TIMEZONE", DefaultStatusTimezone))
	if err != nil {
		return nil, fmt.Errorf("STATUS_TIMEZONE: %w", err)
	}

	cfg := &Config{
		Port:        getEnvInt("PORT", 8080),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		CORSOrigins: getEnvList("CORS_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"}),

		DBPath:        getEnv("DB_PATH", "./drafts.db"),
		DraftTTL:      getEnvDuration("DRAFT_TTL", 24*time.Hour),
		SweepSchedule: getEnv("SWEEP_SCHEDULE", "@every 15m"),

		PolicyAPIURL:      strings.TrimRight(getEnv("POLICY_API_URL", "http://localhost:3001"), "/"),
		PolicyAPIEmail:    getEnv("POLICY_API_EMAIL", ""),
		PolicyAPIPassword: getEnv("POLICY_API_PASSWORD", ""),
		HTTPTimeout:       getEnvDuration("HTTP_TIMEOUT", 10*time.Second),

		MaxRetries:        getEnvInt("MAX_RETRIES", 3),
		InitialBackoff:    getEnvDuration("INITIAL_BACKOFF", 100*time.Millisecond),
		SubmitConcurrency: getEnvInt("SUBMIT_CONCURRENCY", 4),

		MonthOverflow:  overflow,
		StatusLocation: loc,

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	}
	if cfg.SubmitConcurrency < 1 {
		cfg.SubmitConcurrency = 1
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

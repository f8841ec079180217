package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL string
	HTTPAddr    string
	LogLevel    slog.Level

	LeaseHoldDuration  time.Duration
	LeaseSweepInterval time.Duration
	LeaseMaxAttempts   int
	AgentMaxActiveJobs int

	ThrottleMaxConcurrent   int
	ThrottleCooldown        time.Duration
	ThrottleCleanupInterval time.Duration

	HTTPRateLimitRPS   int
	HTTPRateLimitBurst int

	IntakePollInterval time.Duration
	IntakeBatchSize    int
}

var ErrMissingDatabaseURL = errors.New("DATABASE_URL is required")

// Load reads an optional .env file and then the process environment.
// Variables already present in the environment win over the file.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function so tests can avoid the
// process environment.
func FromEnv(getenv func(string) string) (Config, error) {
	cfg := Config{
		DatabaseURL: getenv("DATABASE_URL"),
		HTTPAddr:    stringOr(getenv("HTTP_ADDR"), ":8080"),
	}

	if cfg.DatabaseURL == "" {
		return Config{}, ErrMissingDatabaseURL
	}

	p := parser{getenv: getenv}

	cfg.LeaseHoldDuration = p.duration("LEASE_HOLD_DURATION", 90*time.Second)
	cfg.LeaseSweepInterval = p.duration("LEASE_SWEEP_INTERVAL", 10*time.Second)
	cfg.LeaseMaxAttempts = p.positiveInt("LEASE_MAX_ATTEMPTS", 3)
	cfg.AgentMaxActiveJobs = p.positiveInt("AGENT_MAX_ACTIVE_JOBS", 3)

	cfg.ThrottleMaxConcurrent = p.positiveInt("THROTTLE_MAX_CONCURRENT", 5)
	cfg.ThrottleCooldown = p.duration("THROTTLE_COOLDOWN", 60*time.Second)
	cfg.ThrottleCleanupInterval = p.duration("THROTTLE_CLEANUP_INTERVAL", 30*time.Second)

	cfg.HTTPRateLimitRPS = p.positiveInt("HTTP_RATE_LIMIT_RPS", 20)
	cfg.HTTPRateLimitBurst = p.positiveInt("HTTP_RATE_LIMIT_BURST", 40)

	cfg.IntakePollInterval = p.duration("INTAKE_POLL_INTERVAL", 2*time.Second)
	cfg.IntakeBatchSize = p.positiveInt("INTAKE_BATCH_SIZE", 200)

	if raw := getenv("LOG_LEVEL"); raw != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(raw)); err != nil {
			p.errs = append(p.errs, fmt.Errorf("LOG_LEVEL: %w", err))
		}
	}

	if err := errors.Join(p.errs...); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

type parser struct {
	getenv func(string) string
	errs   []error
}

func (p *parser) duration(key string, fallback time.Duration) time.Duration {
	raw := p.getenv(key)
	if raw == "" {
		return fallback
	}

	value, err := time.ParseDuration(raw)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}

	if value <= 0 {
		p.errs = append(p.errs, fmt.Errorf("%s must be positive, got %s", key, raw))
		return fallback
	}

	return value
}

func (p *parser) positiveInt(key string, fallback int) int {
	raw := p.getenv(key)
	if raw == "" {
		return fallback
	}

	value, err := strconv.Atoi(raw)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}

	if value <= 0 {
		p.errs = append(p.errs, fmt.Errorf("%s must be positive, got %d", key, value))
		return fallback
	}

	return value
}

func stringOr(value, fallback string) string {
	if value == "" {
		return fallback
	}

	return value
}

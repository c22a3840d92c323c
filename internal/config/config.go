// Package config loads service settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds every runtime setting of the ledger service.
type Config struct {
	Port        string        `validate:"required,numeric"`
	DatabaseURL string        `validate:"omitempty,url"`
	RedisURL    string        `validate:"omitempty,url"`
	CacheTTL    time.Duration `validate:"gte=0"`
	MaxRetries  int           `validate:"gte=0,lte=20"`
	RetryBase   time.Duration `validate:"gte=0"`
	LockExpiry  time.Duration `validate:"gt=0"`
	AutoMigrate bool
	LogLevel    string `validate:"oneof=debug info warn error"`
}

// Defaults returns the settings used when nothing is configured.
func Defaults() Config {
	return Config{
		Port:       "8080",
		CacheTTL:   30 * time.Second,
		MaxRetries: 3,
		RetryBase:  10 * time.Millisecond,
		LockExpiry: 10 * time.Second,
		LogLevel:   "info",
	}
}

// Load reads files (default ".env") if present, then the environment.
// Variables already set in the environment win over file values.
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load env file: %w", err)
		}
		slog.Debug("no .env file, using process environment")
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from getenv and validates it.
func FromEnv(getenv func(string) string) (Config, error) {
	cfg := Defaults()
	var err error

	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) {
		v := getenv(key)
		if v == "" || err != nil {
			return
		}
		d, perr := time.ParseDuration(v)
		if perr != nil {
			err = fmt.Errorf("%s: %w", key, perr)
			return
		}
		*dst = d
	}

	str("PORT", &cfg.Port)
	str("DATABASE_URL", &cfg.DatabaseURL)
	str("REDIS_URL", &cfg.RedisURL)
	str("LOG_LEVEL", &cfg.LogLevel)
	dur("CACHE_TTL", &cfg.CacheTTL)
	dur("RETRY_BASE", &cfg.RetryBase)
	dur("LOCK_EXPIRY", &cfg.LockExpiry)

	if v := getenv("MAX_RETRIES"); v != "" && err == nil {
		n, perr := strconv.Atoi(v)
		if perr != nil {
			err = fmt.Errorf("MAX_RETRIES: %w", perr)
		}
		cfg.MaxRetries = n
	}
	if v := getenv("AUTO_MIGRATE"); v != "" && err == nil {
		b, perr := strconv.ParseBool(v)
		if perr != nil {
			err = fmt.Errorf("AUTO_MIGRATE: %w", perr)
		}
		cfg.AutoMigrate = b
	}
	if err != nil {
		return Config{}, err
	}

	if err := validate.Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SlogLevel maps LogLevel to a slog level.
func (c Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

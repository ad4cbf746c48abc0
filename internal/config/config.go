// Package config loads runtime settings from the environment and an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/example/weekpath/internal/progress"
)

type Config struct {
	LogMode string `env:"LOG_MODE" envDefault:"dev"`
	// LogSalt seeds the hash used for user identifiers in logs
	LogSalt string `env:"LOG_SALT"`

	LocalDBPath string `env:"LOCAL_DB_PATH" envDefault:"data/progress.db"`
	// RemoteDSN is a postgres DSN; empty keeps the device offline-only
	RemoteDSN string `env:"REMOTE_DB_DSN"`

	UserID   string `env:"USER_ID" envDefault:"local"`
	DeviceID string `env:"DEVICE_ID"`

	UnitPolicy          string        `env:"UNIT_POLICY" envDefault:"all_unlocked"`
	RemoteTimeout       time.Duration `env:"REMOTE_TIMEOUT" envDefault:"5s"`
	OutboxFlushInterval time.Duration `env:"OUTBOX_FLUSH_INTERVAL" envDefault:"1m"`

	CatalogFile  string `env:"CATALOG_FILE"`
	CatalogSheet string `env:"CATALOG_SHEET" envDefault:"Sheet1"`

	RedisAddr    string `env:"REDIS_ADDR"`
	RedisChannel string `env:"REDIS_CHANNEL" envDefault:"weekpath:progress"`

	TelegramToken  string `env:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID int64  `env:"TELEGRAM_CHAT_ID"`

	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`
}

// Load reads .env when present, then the process environment. A device id
// is generated when none is configured.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if strings.TrimSpace(cfg.DeviceID) == "" {
		cfg.DeviceID = uuid.NewString()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the engine cannot run with
func (c *Config) Validate() error {
	if strings.TrimSpace(c.UserID) == "" {
		return errors.New("USER_ID must not be empty")
	}
	if strings.TrimSpace(c.LocalDBPath) == "" {
		return errors.New("LOCAL_DB_PATH must not be empty")
	}
	if _, err := progress.ParsePolicy(c.UnitPolicy); err != nil {
		return fmt.Errorf("UNIT_POLICY: %w", err)
	}
	if c.RemoteTimeout <= 0 {
		return fmt.Errorf("REMOTE_TIMEOUT must be positive, got %s", c.RemoteTimeout)
	}
	if c.OutboxFlushInterval <= 0 {
		return fmt.Errorf("OUTBOX_FLUSH_INTERVAL must be positive, got %s", c.OutboxFlushInterval)
	}
	if c.TelegramChatID != 0 && c.TelegramToken == "" {
		return errors.New("TELEGRAM_CHAT_ID is set but TELEGRAM_BOT_TOKEN is empty")
	}
	return nil
}

// RemoteEnabled reports whether a shared store is configured
func (c *Config) RemoteEnabled() bool {
	return strings.TrimSpace(c.RemoteDSN) != ""
}

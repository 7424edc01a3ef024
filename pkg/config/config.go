// Package config provides configuration loading and validation utilities.
package config

import (
	"fmt"
	"time"
)

// Config holds runtime configuration for the custody bot.
type Config struct {
	AppEnv string `mapstructure:"-"`

	Bot     BotConfig     `mapstructure:"bot" validate:"required"`
	Server  ServerConfig  `mapstructure:"server"`
	DB      DBConfig      `mapstructure:"db" validate:"required"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Logger  LoggerConfig  `mapstructure:"logger"`
	Sentry  SentryConfig  `mapstructure:"sentry"`
	Custody CustodyConfig `mapstructure:"custody" validate:"required"`
	Ledger  LedgerConfig  `mapstructure:"ledger"`
}

// BotConfig configures the Telegram transport.
type BotConfig struct {
	Token       string        `mapstructure:"token" validate:"required"`
	Mode        string        `mapstructure:"mode" validate:"oneof=polling webhook"`
	Timeout     time.Duration `mapstructure:"timeout"`
	WebhookAddr string        `mapstructure:"webhook_addr"`
	DMLink      string        `mapstructure:"dm_link"` // t.me deep link used in group redirects
}

// ServerConfig configures the admin HTTP server (health, metrics).
type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DBConfig configures the PostgreSQL user record store.
type DBConfig struct {
	Host     string `mapstructure:"host" validate:"required"`
	Port     string `mapstructure:"port" validate:"required"`
	User     string `mapstructure:"user" validate:"required"`
	Password string `mapstructure:"password" validate:"required"`
	Name     string `mapstructure:"name" validate:"required"`
	SSLMode  string `mapstructure:"sslmode"`
}

// RedisConfig configures the Redis client used for update dedupe and caching.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LoggerConfig configures structured logging output.
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	FilePath   string `mapstructure:"file_path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// SentryConfig configures error reporting.
type SentryConfig struct {
	DSN     string `mapstructure:"dsn"`
	Enabled bool   `mapstructure:"enabled"`
}

// CustodyConfig configures the key custody engine and its flows.
type CustodyConfig struct {
	// ServerSecret is mixed into the key-encryption KDF. Changing it makes
	// every stored blob undecryptable.
	ServerSecret string `mapstructure:"server_secret" validate:"required"`
	// SeedPassword is the fixed BIP-39 seed passphrase. Same stability
	// constraint as ServerSecret.
	SeedPassword      string        `mapstructure:"seed_password"`
	EntropyBits       int           `mapstructure:"entropy_bits"`
	ChallengeWords    int           `mapstructure:"challenge_words"`
	SeedMessageTTL    time.Duration `mapstructure:"seed_message_ttl"`
	ChallengeDeadline time.Duration `mapstructure:"challenge_deadline"`
	PinDeadline       time.Duration `mapstructure:"pin_deadline"`
}

// LedgerConfig configures the Stacks node and indexer endpoints.
type LedgerConfig struct {
	NodeURL             string        `mapstructure:"node_url"`
	APIURL              string        `mapstructure:"api_url"`
	RequestTimeout      time.Duration `mapstructure:"request_timeout"`
	FeeMicroSTX         int64         `mapstructure:"fee_micro_stx"`
	ConfirmThresholdSTX float64       `mapstructure:"confirm_threshold_stx"`
	Memo                string        `mapstructure:"memo"`
}

// DSN returns the PostgreSQL connection string.
func (c DBConfig) DSN() string {
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}

	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, sslmode,
	)
}

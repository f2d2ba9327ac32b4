package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // TIMEZONE must resolve on hosts without zoneinfo

	"github.com/joho/godotenv"
	yaml "go.yaml.in/yaml/v3"
)

type Config struct {
	Environment string         `yaml:"environment"`
	LogLevel    string         `yaml:"log_level"`
	Store       StoreConfig    `yaml:"store"`
	Twilio      TwilioConfig   `yaml:"twilio"`
	Dispatch    DispatchConfig `yaml:"dispatch"`
	Telegram    TelegramConfig `yaml:"telegram"`
}

type StoreConfig struct {
	Driver      string `yaml:"driver"` // postgres or sqlite
	DatabaseURI string `yaml:"database_uri"`
	SQLitePath  string `yaml:"sqlite_path"`
}

type TwilioConfig struct {
	AccountSID    string  `yaml:"account_sid"`
	AuthToken     string  `yaml:"auth_token"`
	PhoneNumber   string  `yaml:"phone_number"`
	RatePerSecond float64 `yaml:"rate_per_second"`
}

// Enabled reports whether real SMS delivery is configured.
func (t TwilioConfig) Enabled() bool {
	return t.AccountSID != "" && t.AuthToken != "" && t.PhoneNumber != ""
}

type DispatchConfig struct {
	Lookback     time.Duration `yaml:"lookback"`
	LeaseTTL     time.Duration `yaml:"lease_ttl"`
	SendTimeout  time.Duration `yaml:"send_timeout"`
	CycleTimeout time.Duration `yaml:"cycle_timeout"`
	Concurrency  int           `yaml:"concurrency"`
	CronSpec     string        `yaml:"cron_spec"`
	Timezone     string        `yaml:"timezone"`
}

// Location resolves Timezone, defaulting to UTC.
func (d DispatchConfig) Location() (*time.Location, error) {
	if d.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(d.Timezone)
}

type TelegramConfig struct {
	Token       string `yaml:"token"`
	AlertChatID int64  `yaml:"alert_chat_id"`
}

func (t TelegramConfig) Enabled() bool {
	return t.Token != "" && t.AlertChatID != 0
}

func defaults() *Config {
	return &Config{
		Environment: "development",
		LogLevel:    "info",
		Store: StoreConfig{
			Driver:     "postgres",
			SQLitePath: "data/reminders.db",
		},
		Twilio: TwilioConfig{
			RatePerSecond: 1,
		},
		Dispatch: DispatchConfig{
			Lookback:     24 * time.Hour,
			LeaseTTL:     5 * time.Minute,
			SendTimeout:  15 * time.Second,
			CycleTimeout: 5 * time.Minute,
			Concurrency:  1,
			CronSpec:     "* * * * *",
			Timezone:     "UTC",
		},
	}
}

// Load builds the configuration from defaults, then the YAML file named by
// CONFIG_FILE (if any), then environment variables. A .env file is loaded first
// when present; it never overrides variables already set.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.Environment, "ENVIRONMENT")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	cfg.Environment = strings.ToLower(cfg.Environment)

	setString(&cfg.Store.Driver, "STORE_DRIVER")
	setString(&cfg.Store.DatabaseURI, "DATABASE_URI")
	setString(&cfg.Store.SQLitePath, "SQLITE_PATH")

	setString(&cfg.Twilio.AccountSID, "TWILIO_ACCOUNT_SID")
	setString(&cfg.Twilio.AuthToken, "TWILIO_AUTH_TOKEN")
	setString(&cfg.Twilio.PhoneNumber, "TWILIO_PHONE_NUMBER")

	setString(&cfg.Dispatch.CronSpec, "CRON_SPEC")
	setString(&cfg.Dispatch.Timezone, "TIMEZONE")
	setString(&cfg.Telegram.Token, "TELEGRAM_TOKEN")

	return errors.Join(
		setFloat(&cfg.Twilio.RatePerSecond, "SMS_RATE_PER_SECOND"),
		setDuration(&cfg.Dispatch.Lookback, "LOOKBACK"),
		setDuration(&cfg.Dispatch.LeaseTTL, "LEASE_TTL"),
		setDuration(&cfg.Dispatch.SendTimeout, "SEND_TIMEOUT"),
		setDuration(&cfg.Dispatch.CycleTimeout, "CYCLE_TIMEOUT"),
		setInt(&cfg.Dispatch.Concurrency, "CONCURRENCY"),
		setInt64(&cfg.Telegram.AlertChatID, "TELEGRAM_ALERT_CHAT_ID"),
	)
}

func (c *Config) Validate() error {
	var errs []error

	switch strings.ToLower(c.Store.Driver) {
	case "postgres":
		if c.Store.DatabaseURI == "" {
			errs = append(errs, errors.New("DATABASE_URI is required for the postgres store"))
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH is required for the sqlite store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store driver %q", c.Store.Driver))
	}

	if c.Dispatch.Lookback <= 0 {
		errs = append(errs, errors.New("LOOKBACK must be positive"))
	}
	if c.Dispatch.LeaseTTL <= c.Dispatch.SendTimeout {
		errs = append(errs, errors.New("LEASE_TTL must be longer than SEND_TIMEOUT"))
	}
	if c.Dispatch.SendTimeout <= 0 {
		errs = append(errs, errors.New("SEND_TIMEOUT must be positive"))
	}
	if c.Dispatch.Concurrency < 1 {
		errs = append(errs, errors.New("CONCURRENCY must be at least 1"))
	}
	if _, err := c.Dispatch.Location(); err != nil {
		errs = append(errs, fmt.Errorf("invalid TIMEZONE: %w", err))
	}
	if c.Twilio.AccountSID != "" && c.Twilio.PhoneNumber == "" {
		errs = append(errs, errors.New("TWILIO_PHONE_NUMBER is required when TWILIO_ACCOUNT_SID is set"))
	}

	return errors.Join(errs...)
}

func setString(dst *string, key string) {
	if value := os.Getenv(key); value != "" {
		*dst = value
	}
}

func setDuration(dst *time.Duration, key string) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = d
	return nil
}

func setInt(dst *int, key string) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = n
	return nil
}

func setInt64(dst *int64, key string) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = n
	return nil
}

func setFloat(dst *float64, key string) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = f
	return nil
}

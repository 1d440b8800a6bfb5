// Package config resolves runtime settings: defaults, then the YAML file, then
// environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"barterflow/catalog"
	"barterflow/ledger"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config is the resolved runtime configuration.
type Config struct {
	ServiceID string
	HTTPPort  int
	LogLevel  slog.Level

	// DatabaseURL selects the Postgres store. Empty means in-memory.
	DatabaseURL      string
	MaxDBConns       int32
	DBLockTimeout    time.Duration
	RunMigrations    bool
	RedisURL         string
	DealCacheTTL     time.Duration
	KafkaBrokers     []string
	KafkaTopicPrefix string
	KafkaTopics      map[string]string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxClaimTTL     time.Duration
	OutboxMaxAttempts  int

	JWTSecret    string
	TokenTTL     time.Duration
	MaxRevisions int

	Products []catalog.Product
}

type productFile struct {
	ID             string `yaml:"id"`
	BrandID        string `yaml:"brand_id"`
	Name           string `yaml:"name"`
	EstimatedValue string `yaml:"estimated_value"`
}

// configFile mirrors the YAML schema of configs/default.yaml.
type configFile struct {
	Service struct {
		ID       string `yaml:"id"`
		HTTPPort int    `yaml:"http_port"`
		LogLevel string `yaml:"log_level"`
	} `yaml:"service"`
	Database struct {
		URL           string `yaml:"url"`
		MaxConns      int32  `yaml:"max_conns"`
		LockTimeoutMS int    `yaml:"lock_timeout_ms"`
		Migrate       *bool  `yaml:"migrate"`
	} `yaml:"database"`
	Redis struct {
		URL            string `yaml:"url"`
		DealTTLSeconds int    `yaml:"deal_ttl_seconds"`
	} `yaml:"redis"`
	Kafka struct {
		Brokers     []string          `yaml:"brokers"`
		TopicPrefix string            `yaml:"topic_prefix"`
		Topics      map[string]string `yaml:"topics"`
	} `yaml:"kafka"`
	Outbox struct {
		PollSeconds     int `yaml:"poll_seconds"`
		BatchSize       int `yaml:"batch_size"`
		ClaimTTLSeconds int `yaml:"claim_ttl_seconds"`
		MaxAttempts     int `yaml:"max_attempts"`
	} `yaml:"outbox"`
	Auth struct {
		JWTSecret     string `yaml:"jwt_secret"`
		TokenTTLHours int    `yaml:"token_ttl_hours"`
	} `yaml:"auth"`
	Content struct {
		MaxRevisions *int `yaml:"max_revisions"`
	} `yaml:"content"`
	Catalog struct {
		Products []productFile `yaml:"products"`
	} `yaml:"catalog"`
}

// Load resolves configuration in priority order: defaults -> file -> env.
// A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Config{
		ServiceID:          "barter-deal-service",
		HTTPPort:           8080,
		LogLevel:           slog.LevelInfo,
		MaxDBConns:         20,
		DBLockTimeout:      2 * time.Second,
		RunMigrations:      true,
		DealCacheTTL:       30 * time.Second,
		KafkaTopicPrefix:   "barter.",
		OutboxPollInterval: 2 * time.Second,
		OutboxBatchSize:    100,
		OutboxClaimTTL:     30 * time.Second,
		OutboxMaxAttempts:  5,
		TokenTTL:           24 * time.Hour,
	}

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := cfg.applyFile(raw); err != nil {
				return Config{}, err
			}
		case !errors.Is(err, fs.ErrNotExist):
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	cfg.HTTPPort = envInt("HTTP_PORT", cfg.HTTPPort)
	cfg.DatabaseURL = envOrDefault("DATABASE_URL", cfg.DatabaseURL)
	cfg.MaxDBConns = int32(envInt("DB_MAX_CONNS", int(cfg.MaxDBConns)))
	cfg.DBLockTimeout = time.Duration(envInt("DB_LOCK_TIMEOUT_MS", int(cfg.DBLockTimeout.Milliseconds()))) * time.Millisecond
	cfg.RunMigrations = envBool("DB_MIGRATE", cfg.RunMigrations)
	cfg.RedisURL = envOrDefault("REDIS_URL", cfg.RedisURL)
	cfg.DealCacheTTL = time.Duration(envInt("DEAL_CACHE_TTL_SECONDS", int(cfg.DealCacheTTL.Seconds()))) * time.Second
	cfg.KafkaBrokers = envCSV("KAFKA_BROKERS", cfg.KafkaBrokers)
	cfg.KafkaTopicPrefix = envOrDefault("KAFKA_TOPIC_PREFIX", cfg.KafkaTopicPrefix)
	cfg.OutboxPollInterval = time.Duration(envInt("OUTBOX_POLL_SECONDS", int(cfg.OutboxPollInterval.Seconds()))) * time.Second
	cfg.OutboxBatchSize = envInt("OUTBOX_BATCH_SIZE", cfg.OutboxBatchSize)
	cfg.OutboxClaimTTL = time.Duration(envInt("OUTBOX_CLAIM_TTL_SECONDS", int(cfg.OutboxClaimTTL.Seconds()))) * time.Second
	cfg.OutboxMaxAttempts = envInt("OUTBOX_MAX_ATTEMPTS", cfg.OutboxMaxAttempts)
	cfg.JWTSecret = envOrDefault("JWT_SECRET", cfg.JWTSecret)
	cfg.TokenTTL = time.Duration(envInt("TOKEN_TTL_HOURS", int(cfg.TokenTTL.Hours()))) * time.Hour
	cfg.MaxRevisions = envInt("CONTENT_MAX_REVISIONS", cfg.MaxRevisions)
	if raw := os.Getenv("LOG_LEVEL"); raw != "" {
		level, err := parseLevel(raw)
		if err != nil {
			return Config{}, err
		}
		cfg.LogLevel = level
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) applyFile(raw []byte) error {
	var f configFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("config: parse config file: %w", err)
	}
	if f.Service.ID != "" {
		cfg.ServiceID = f.Service.ID
	}
	if f.Service.HTTPPort > 0 {
		cfg.HTTPPort = f.Service.HTTPPort
	}
	if f.Service.LogLevel != "" {
		level, err := parseLevel(f.Service.LogLevel)
		if err != nil {
			return err
		}
		cfg.LogLevel = level
	}
	if f.Database.URL != "" {
		cfg.DatabaseURL = f.Database.URL
	}
	if f.Database.MaxConns > 0 {
		cfg.MaxDBConns = f.Database.MaxConns
	}
	if f.Database.LockTimeoutMS > 0 {
		cfg.DBLockTimeout = time.Duration(f.Database.LockTimeoutMS) * time.Millisecond
	}
	if f.Database.Migrate != nil {
		cfg.RunMigrations = *f.Database.Migrate
	}
	if f.Redis.URL != "" {
		cfg.RedisURL = f.Redis.URL
	}
	if f.Redis.DealTTLSeconds > 0 {
		cfg.DealCacheTTL = time.Duration(f.Redis.DealTTLSeconds) * time.Second
	}
	if len(f.Kafka.Brokers) > 0 {
		cfg.KafkaBrokers = f.Kafka.Brokers
	}
	if f.Kafka.TopicPrefix != "" {
		cfg.KafkaTopicPrefix = f.Kafka.TopicPrefix
	}
	if len(f.Kafka.Topics) > 0 {
		cfg.KafkaTopics = f.Kafka.Topics
	}
	if f.Outbox.PollSeconds > 0 {
		cfg.OutboxPollInterval = time.Duration(f.Outbox.PollSeconds) * time.Second
	}
	if f.Outbox.BatchSize > 0 {
		cfg.OutboxBatchSize = f.Outbox.BatchSize
	}
	if f.Outbox.ClaimTTLSeconds > 0 {
		cfg.OutboxClaimTTL = time.Duration(f.Outbox.ClaimTTLSeconds) * time.Second
	}
	if f.Outbox.MaxAttempts > 0 {
		cfg.OutboxMaxAttempts = f.Outbox.MaxAttempts
	}
	if f.Auth.JWTSecret != "" {
		cfg.JWTSecret = f.Auth.JWTSecret
	}
	if f.Auth.TokenTTLHours > 0 {
		cfg.TokenTTL = time.Duration(f.Auth.TokenTTLHours) * time.Hour
	}
	if f.Content.MaxRevisions != nil {
		cfg.MaxRevisions = *f.Content.MaxRevisions
	}

	for i, p := range f.Catalog.Products {
		value, err := decimal.NewFromString(strings.TrimSpace(p.EstimatedValue))
		if err != nil {
			return fmt.Errorf("config: catalog product %d (%s): estimated_value: %w", i, p.ID, err)
		}
		cfg.Products = append(cfg.Products, catalog.Product{
			ID:             p.ID,
			BrandID:        p.BrandID,
			Name:           p.Name,
			EstimatedValue: value,
		})
	}
	return nil
}

func (cfg Config) validate() error {
	if cfg.JWTSecret == "" {
		return fmt.Errorf("config: missing JWT_SECRET")
	}
	if cfg.HTTPPort <= 0 || cfg.HTTPPort > 65535 {
		return fmt.Errorf("config: invalid http port %d", cfg.HTTPPort)
	}
	if cfg.MaxRevisions < 0 {
		return fmt.Errorf("config: content max revisions must not be negative")
	}
	for _, p := range cfg.Products {
		if p.ID == "" || p.BrandID == "" {
			return fmt.Errorf("config: catalog product needs id and brand_id")
		}
		if err := ledger.CheckAmount(p.EstimatedValue); err != nil {
			return fmt.Errorf("config: catalog product %s has an invalid estimated_value: %w", p.ID, err)
		}
	}
	return nil
}

func parseLevel(raw string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(raw))); err != nil {
		return 0, fmt.Errorf("config: log level %q: %w", raw, err)
	}
	return level, nil
}

// envOrDefault returns an env var when present, otherwise the provided fallback.
func envOrDefault(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

// envInt parses integer env vars with safe fallback on empty/invalid values.
func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func envBool(name string, fallback bool) bool {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	switch raw {
	case "1", "true", "TRUE", "yes", "YES":
		return true
	case "0", "false", "FALSE", "no", "NO":
		return false
	default:
		return fallback
	}
}

// envCSV parses comma-separated env vars and removes empty segments.
func envCSV(name string, fallback []string) []string {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	parts := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		parts = append(parts, trimmed)
	}
	if len(parts) == 0 {
		return fallback
	}
	return parts
}

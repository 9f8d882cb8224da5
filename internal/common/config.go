// Package common provides shared utilities for the orchestrator core.
package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config holds all configuration for the orchestrator core.
type Config struct {
	Environment string        `toml:"environment"`
	Server      ServerConfig  `toml:"server"`
	Redis       RedisConfig   `toml:"redis"`
	Queues      QueuesConfig  `toml:"-"`
	Lock        LockConfig    `toml:"-"`
	Cache       CacheConfig   `toml:"-"`
	Logging     LoggingConfig `toml:"logging"`
}

// ServerConfig holds HTTP/WebSocket server configuration.
type ServerConfig struct {
	Host        string `toml:"host"`
	Port        int    `toml:"port"`
	FrontendURL string `toml:"frontend_url"` // CORS allow-list origin
}

// RedisConfig holds broker connection configuration.
type RedisConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
	DB   int    `toml:"db"`
}

// Addr returns the "host:port" dial address for go-redis.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// QueuesConfig holds per-kind timeout overrides (§6 environment configuration).
// Concurrency, attempts, and backoff-base are fixed by the spec's per-queue
// table and are not independently configurable — only the handler timeouts are.
type QueuesConfig struct {
	SyncWalletTimeout              time.Duration
	AnalyzePnLTimeout              time.Duration
	AnalyzeBehaviorTimeout         time.Duration
	CalculateSimilarityTimeout     time.Duration
	EnrichTokenBalancesTimeout     time.Duration
	DashboardWalletAnalysisTimeout time.Duration
}

// LockConfig holds distributed-lock defaults.
type LockConfig struct {
	DefaultTTL time.Duration
}

// CacheConfig holds holder-profiles cache defaults.
type CacheConfig struct {
	TokenTTL  time.Duration
	WalletTTL time.Duration
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string   `toml:"level"`
	Format     string   `toml:"format"`
	Outputs    []string `toml:"outputs"`
	FilePath   string   `toml:"file_path"`
	MaxSizeMB  int      `toml:"max_size_mb"`
	MaxBackups int      `toml:"max_backups"`
}

// NewDefaultConfig returns a Config with sensible defaults matching §4.3's
// per-queue timeout table and §4.6's TTL ceiling.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Redis: RedisConfig{
			Host: "127.0.0.1",
			Port: 6379,
		},
		Queues: QueuesConfig{
			SyncWalletTimeout:              10 * time.Minute,
			AnalyzePnLTimeout:              5 * time.Minute,
			AnalyzeBehaviorTimeout:         5 * time.Minute,
			CalculateSimilarityTimeout:     30 * time.Minute,
			EnrichTokenBalancesTimeout:     20 * time.Minute,
			DashboardWalletAnalysisTimeout: 15 * time.Minute,
		},
		Lock: LockConfig{
			DefaultTTL: 2 * time.Minute,
		},
		Cache: CacheConfig{
			TokenTTL:  1 * time.Hour,
			WalletTTL: 1 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Outputs:    []string{"console"},
			FilePath:   "./logs/orchestrator.log",
			MaxSizeMB:  100,
			MaxBackups: 3,
		},
	}
}

// LoadConfig loads configuration from TOML files (later files override
// earlier ones), then applies environment variable overrides.
func LoadConfig(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for _, path := range paths {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue // Skip missing files
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)
	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config,
// per §6's enumerated environment configuration.
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("ORCHESTRATOR_ENV"); env != "" {
		config.Environment = env
	}
	if host := os.Getenv("REDIS_HOST"); host != "" {
		config.Redis.Host = host
	}
	if port := os.Getenv("REDIS_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Redis.Port = p
		}
	}
	if fe := os.Getenv("FRONTEND_URL"); fe != "" {
		config.Server.FrontendURL = fe
	}

	overrideDuration("SYNC_WALLET_TIMEOUT_MS", &config.Queues.SyncWalletTimeout)
	overrideDuration("ANALYZE_PNL_TIMEOUT_MS", &config.Queues.AnalyzePnLTimeout)
	overrideDuration("ANALYZE_BEHAVIOR_TIMEOUT_MS", &config.Queues.AnalyzeBehaviorTimeout)
	overrideDuration("CALCULATE_SIMILARITY_TIMEOUT_MS", &config.Queues.CalculateSimilarityTimeout)
	overrideDuration("ENRICH_TOKEN_BALANCES_TIMEOUT_MS", &config.Queues.EnrichTokenBalancesTimeout)
	overrideDuration("DASHBOARD_WALLET_ANALYSIS_TIMEOUT_MS", &config.Queues.DashboardWalletAnalysisTimeout)

	if level := os.Getenv("ORCHESTRATOR_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
}

// overrideDuration reads an integer-milliseconds env var into *d if present and valid.
func overrideDuration(envVar string, d *time.Duration) {
	v := os.Getenv(envVar)
	if v == "" {
		return
	}
	ms, err := strconv.Atoi(v)
	if err != nil || ms <= 0 {
		return
	}
	*d = time.Duration(ms) * time.Millisecond
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

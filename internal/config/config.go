// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig   `mapstructure:"server"`
	Auth       AuthConfig     `mapstructure:"auth"`
	Logging    LoggingConfig  `mapstructure:"logging"`
	Workers    WorkerConfig   `mapstructure:"workers"`
	Fetch      FetchConfig    `mapstructure:"fetch"`
	Headless   HeadlessConfig `mapstructure:"headless"`
	Analyzer   AnalyzerConfig `mapstructure:"analyzer"`
	Selector   SelectorConfig `mapstructure:"selector"`
	Generation GenConfig      `mapstructure:"generation"`
	Database   DatabaseConfig `mapstructure:"database"`
	Patterns   PatternsConfig `mapstructure:"patterns"`
	Storage    StorageConfig  `mapstructure:"storage"`
	Queue      QueueConfig    `mapstructure:"queue"`
	Events     EventsConfig   `mapstructure:"events"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// WorkerConfig sizes the worker pool.
type WorkerConfig struct {
	Count          int `mapstructure:"count"`
	URLConcurrency int `mapstructure:"url_concurrency"`
	WriteRetries   int `mapstructure:"write_retries"`
	RetryBackoffMs int `mapstructure:"retry_backoff_ms"`
}

// FetchConfig configures the probe fetcher.
type FetchConfig struct {
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxBodyBytes   int    `mapstructure:"max_body_bytes"`
}

// HeadlessConfig configures the rendering subsystem.
type HeadlessConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxParallel   int  `mapstructure:"max_parallel"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
}

// AnalyzerConfig tunes page classification.
type AnalyzerConfig struct {
	ProbeTimeoutSeconds int `mapstructure:"probe_timeout_seconds"`
	SampleBytes         int `mapstructure:"sample_bytes"`
	CacheTTLSeconds     int `mapstructure:"cache_ttl_seconds"`
}

// SelectorConfig tunes strategy resolution.
type SelectorConfig struct {
	LookupK        int     `mapstructure:"lookup_k"`
	MinSuccessRate float64 `mapstructure:"min_success_rate"`
	MinSimilarity  float64 `mapstructure:"min_similarity"`
}

// GenBackendConfig describes one generation backend in failover order.
type GenBackendConfig struct {
	Kind    string `mapstructure:"kind"`
	Model   string `mapstructure:"model"`
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

// GenConfig lists generation backends in failover order.
type GenConfig struct {
	Backends           []GenBackendConfig `mapstructure:"backends"`
	CallTimeoutSeconds int                `mapstructure:"call_timeout_seconds"`
}

// DatabaseConfig controls access to the relational store. ExportEnabled
// additionally mirrors successful records into purpose-specific export tables
// with auto-derived columns.
type DatabaseConfig struct {
	Provider      string `mapstructure:"provider"`
	DSN           string `mapstructure:"dsn"`
	ExportEnabled bool   `mapstructure:"export_enabled"`
}

// PatternsConfig controls the similarity store.
type PatternsConfig struct {
	Provider  string `mapstructure:"provider"`
	RedisAddr string `mapstructure:"redis_addr"`
	KeyPrefix string `mapstructure:"key_prefix"`
	ScanLimit int    `mapstructure:"scan_limit"`
}

// StorageConfig selects the blob backend for raw HTML snapshots.
type StorageConfig struct {
	Provider  string `mapstructure:"provider"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	LocalDir  string `mapstructure:"local_dir"`
}

// QueueConfig selects the batch queue implementation.
type QueueConfig struct {
	Provider string `mapstructure:"provider"`
}

// EventsConfig controls completion event publishing.
type EventsConfig struct {
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("WEBEXTRACT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("workers.count", 4)
	v.SetDefault("workers.url_concurrency", 10)
	v.SetDefault("workers.write_retries", 3)
	v.SetDefault("workers.retry_backoff_ms", 500)
	v.SetDefault("fetch.user_agent", "webextract-bot/0.1")
	v.SetDefault("fetch.timeout_seconds", 15)
	v.SetDefault("fetch.max_body_bytes", 5<<20)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("analyzer.probe_timeout_seconds", 10)
	v.SetDefault("analyzer.sample_bytes", 4096)
	v.SetDefault("analyzer.cache_ttl_seconds", 300)
	v.SetDefault("selector.lookup_k", 5)
	v.SetDefault("selector.min_success_rate", 0.7)
	v.SetDefault("selector.min_similarity", 0.75)
	v.SetDefault("generation.call_timeout_seconds", 20)
	v.SetDefault("database.provider", "memory")
	v.SetDefault("database.export_enabled", false)
	v.SetDefault("patterns.provider", "memory")
	v.SetDefault("patterns.key_prefix", "patterns")
	v.SetDefault("patterns.scan_limit", 512)
	v.SetDefault("storage.provider", "noop")
	v.SetDefault("queue.provider", "memory")
	v.SetDefault("events.provider", "noop")
	v.SetDefault("events.topic", "extraction-events")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Workers.Count <= 0 {
		return fmt.Errorf("workers.count must be > 0")
	}
	if c.Workers.URLConcurrency <= 0 {
		return fmt.Errorf("workers.url_concurrency must be > 0")
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Database.Provider {
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn must be set when database.provider is postgres")
		}
	case "memory":
		if c.Database.ExportEnabled {
			return fmt.Errorf("database.export_enabled requires database.provider postgres")
		}
	default:
		return fmt.Errorf("unknown database.provider %q", c.Database.Provider)
	}
	switch c.Patterns.Provider {
	case "redis":
		if c.Patterns.RedisAddr == "" {
			return fmt.Errorf("patterns.redis_addr must be set when patterns.provider is redis")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown patterns.provider %q", c.Patterns.Provider)
	}
	switch c.Storage.Provider {
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set when storage.provider is gcs")
		}
	case "local":
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir must be set when storage.provider is local")
		}
	case "memory", "noop":
	default:
		return fmt.Errorf("unknown storage.provider %q", c.Storage.Provider)
	}
	switch c.Events.Provider {
	case "pubsub":
		if c.Events.ProjectID == "" {
			return fmt.Errorf("events.project_id must be set when events.provider is pubsub")
		}
	case "memory", "noop":
	default:
		return fmt.Errorf("unknown events.provider %q", c.Events.Provider)
	}
	for i, b := range c.Generation.Backends {
		switch b.Kind {
		case "anthropic":
			if b.APIKey == "" {
				return fmt.Errorf("generation.backends[%d].api_key must be set for anthropic", i)
			}
		case "llama":
			if b.BaseURL == "" {
				return fmt.Errorf("generation.backends[%d].base_url must be set for llama", i)
			}
		default:
			return fmt.Errorf("unknown generation backend kind %q", b.Kind)
		}
	}
	return nil
}

// FetchTimeout converts the probe timeout to a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}

// GenerationTimeout converts the per-backend call timeout to a duration.
func (c Config) GenerationTimeout() time.Duration {
	return time.Duration(c.Generation.CallTimeoutSeconds) * time.Second
}

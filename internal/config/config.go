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
	Server    ServerConfig    `mapstructure:"server"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Transport TransportConfig `mapstructure:"transport"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls the HTTP API server.
type ServerConfig struct {
	Port        int    `mapstructure:"port"`
	AuthEnabled bool   `mapstructure:"auth_enabled"`
	APIKey      string `mapstructure:"api_key"`
}

// FetchConfig governs the attempt policy engine.
type FetchConfig struct {
	MaxAttempts           int      `mapstructure:"max_attempts"`
	RequestsPerSecond     float64  `mapstructure:"requests_per_second"`
	BaseDelayMs           int      `mapstructure:"base_delay_ms"`
	MaxDelayMs            int      `mapstructure:"max_delay_ms"`
	Jitter                bool     `mapstructure:"jitter"`
	BlockedStatusCodes    []int    `mapstructure:"blocked_status_codes"`
	BanPatterns           []string `mapstructure:"ban_patterns"`
	ProxyList             []string `mapstructure:"proxy_list"`
	UserAgentList         []string `mapstructure:"user_agent_list"`
	EvictOnBlock          bool     `mapstructure:"evict_on_block"`
	AbortOnBlock          bool     `mapstructure:"abort_on_block"`
	AttemptTimeoutSeconds int      `mapstructure:"attempt_timeout_seconds"`
	RequestTimeoutSeconds int      `mapstructure:"request_timeout_seconds"`
	Limiter               string   `mapstructure:"limiter"`
	Burst                 int      `mapstructure:"burst"`
}

// BaseDelay returns the backoff base as a duration.
func (c FetchConfig) BaseDelay() time.Duration {
	return time.Duration(c.BaseDelayMs) * time.Millisecond
}

// MaxDelay returns the backoff cap as a duration.
func (c FetchConfig) MaxDelay() time.Duration {
	return time.Duration(c.MaxDelayMs) * time.Millisecond
}

// AttemptTimeout returns the per-attempt timeout as a duration.
func (c FetchConfig) AttemptTimeout() time.Duration {
	return time.Duration(c.AttemptTimeoutSeconds) * time.Second
}

// RequestTimeout returns the default overall request timeout as a duration.
func (c FetchConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// TransportConfig selects and tunes the transport implementation.
type TransportConfig struct {
	Kind                string `mapstructure:"kind"`
	MaxBodyBytes        int64  `mapstructure:"max_body_bytes"`
	HeadlessMaxParallel int    `mapstructure:"headless_max_parallel"`
}

// StorageConfig controls result/trail persistence.
type StorageConfig struct {
	Backend      string `mapstructure:"backend"`
	DSN          string `mapstructure:"dsn"`
	Table        string `mapstructure:"table"`
	MaxOpenConns int32  `mapstructure:"max_open_conns"`
}

// ArchiveConfig controls persistence of successful response bodies.
type ArchiveConfig struct {
	Backend     string `mapstructure:"backend"`
	BaseDir     string `mapstructure:"base_dir"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// PubSubConfig holds metadata for completion event publishing.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// QueueConfig sizes the in-process submission queue.
type QueueConfig struct {
	Depth int `mapstructure:"depth"`
}

// WorkerConfig sizes the fetch worker pool.
type WorkerConfig struct {
	Concurrency int `mapstructure:"concurrency"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk and environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("STUBBORN")
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
	v.SetDefault("fetch.max_attempts", 3)
	v.SetDefault("fetch.requests_per_second", 1.0)
	v.SetDefault("fetch.base_delay_ms", 250)
	v.SetDefault("fetch.max_delay_ms", 5000)
	v.SetDefault("fetch.jitter", true)
	v.SetDefault("fetch.evict_on_block", true)
	v.SetDefault("fetch.abort_on_block", false)
	v.SetDefault("fetch.attempt_timeout_seconds", 15)
	v.SetDefault("fetch.request_timeout_seconds", 120)
	v.SetDefault("fetch.limiter", "sliding_window")
	v.SetDefault("fetch.burst", 1)
	v.SetDefault("transport.kind", "nethttp")
	v.SetDefault("transport.headless_max_parallel", 1)
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.table", "fetch_results")
	v.SetDefault("archive.backend", "none")
	v.SetDefault("archive.prefix", "bodies")
	v.SetDefault("archive.content_type", "text/html; charset=utf-8")
	v.SetDefault("queue.depth", 64)
	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("logging.development", true)
}

// Validate rejects configurations the service cannot run with.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Fetch.MaxAttempts <= 0 {
		return fmt.Errorf("fetch.max_attempts must be positive")
	}
	if c.Fetch.RequestsPerSecond < 0 {
		return fmt.Errorf("fetch.requests_per_second must not be negative")
	}
	switch c.Fetch.Limiter {
	case "sliding_window", "token_bucket":
	default:
		return fmt.Errorf("fetch.limiter %q unknown (want sliding_window or token_bucket)", c.Fetch.Limiter)
	}
	switch c.Transport.Kind {
	case "nethttp", "colly", "headless":
	default:
		return fmt.Errorf("transport.kind %q unknown (want nethttp, colly, or headless)", c.Transport.Kind)
	}
	switch c.Storage.Backend {
	case "memory":
	case "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("storage.backend %q unknown (want memory or postgres)", c.Storage.Backend)
	}
	switch c.Archive.Backend {
	case "none":
	case "local":
		if c.Archive.BaseDir == "" {
			return fmt.Errorf("archive.base_dir is required for the local backend")
		}
	case "gcs":
		if c.Archive.GCSBucket == "" {
			return fmt.Errorf("archive.gcs_bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("archive.backend %q unknown (want none, local, or gcs)", c.Archive.Backend)
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name are required when pubsub is enabled")
	}
	if c.Queue.Depth <= 0 {
		return fmt.Errorf("queue.depth must be positive")
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be positive")
	}
	return nil
}

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
	Auth      AuthConfig      `mapstructure:"auth"`
	Crawl     CrawlConfig     `mapstructure:"crawl"`
	KV        KVConfig        `mapstructure:"kv"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Storage   StorageConfig   `mapstructure:"storage"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Fetcher   FetcherConfig   `mapstructure:"fetcher"`
	Workflow  WorkflowConfig  `mapstructure:"workflow"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// AuthConfig names where session tokens are read from.
type AuthConfig struct {
	SessionCookie string `mapstructure:"session_cookie"`
	// DevSessionToken seeds the in-memory identity store with one user,
	// organization and session when no database is configured.
	DevSessionToken string `mapstructure:"dev_session_token"`
}

// CrawlConfig governs the crawl coordinator.
type CrawlConfig struct {
	LockTTL                   time.Duration `mapstructure:"lock_ttl"`
	StatusTTL                 time.Duration `mapstructure:"status_ttl"`
	StoreTimeout              time.Duration `mapstructure:"store_timeout"`
	Dispatcher                string        `mapstructure:"dispatcher"`
	DispatchURL               string        `mapstructure:"dispatch_url"`
	DispatchTimeout           time.Duration `mapstructure:"dispatch_timeout"`
	DispatchMaxRetries        int           `mapstructure:"dispatch_max_retries"`
	RollbackOnDispatchFailure bool          `mapstructure:"rollback_on_dispatch_failure"`
}

// KVConfig selects the lock/status store.
type KVConfig struct {
	Backend string      `mapstructure:"backend"`
	Redis   RedisConfig `mapstructure:"redis"`
}

// RedisConfig holds go-redis connection options.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// DatabaseConfig controls access to the relational database.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// StorageConfig selects where page snapshots are written.
type StorageConfig struct {
	Backend string             `mapstructure:"backend"`
	Bucket  string             `mapstructure:"bucket"`
	Prefix  string             `mapstructure:"prefix"`
	Local   LocalStorageConfig `mapstructure:"local"`
}

// LocalStorageConfig configures the filesystem blob store.
type LocalStorageConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// PubSubConfig holds the topic used by the pubsub dispatcher and the
// subscription consumed by the workflow receiver.
type PubSubConfig struct {
	ProjectID    string `mapstructure:"project_id"`
	Topic        string `mapstructure:"topic"`
	Subscription string `mapstructure:"subscription"`
}

// FetcherConfig tunes page fetching for the workflow crawl step.
type FetcherConfig struct {
	UserAgent      string        `mapstructure:"user_agent"`
	Timeout        time.Duration `mapstructure:"timeout"`
	RespectRobots  bool          `mapstructure:"respect_robots"`
	RateLimitRPS   float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
}

// WorkflowConfig controls the in-process workflow executor.
type WorkflowConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	SharedSecret string        `mapstructure:"shared_secret"`
	RunTimeout   time.Duration `mapstructure:"run_timeout"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TelemetryConfig describes the service for tracing.
type TelemetryConfig struct {
	ServiceName    string  `mapstructure:"service_name"`
	ServiceVersion string  `mapstructure:"service_version"`
	SampleRatio    float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BRAND")
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
	v.SetDefault("server.request_timeout", 60*time.Second)
	v.SetDefault("auth.session_cookie", "session_token")
	v.SetDefault("auth.dev_session_token", "")
	v.SetDefault("crawl.lock_ttl", 300*time.Second)
	v.SetDefault("crawl.status_ttl", 300*time.Second)
	v.SetDefault("crawl.store_timeout", 3*time.Second)
	v.SetDefault("crawl.dispatcher", "http")
	v.SetDefault("crawl.dispatch_url", "http://localhost:8080/crawl")
	v.SetDefault("crawl.dispatch_timeout", 10*time.Second)
	v.SetDefault("crawl.dispatch_max_retries", 3)
	v.SetDefault("crawl.rollback_on_dispatch_failure", false)
	v.SetDefault("kv.backend", "memory")
	v.SetDefault("kv.redis.addr", "localhost:6379")
	v.SetDefault("kv.redis.password", "")
	v.SetDefault("kv.redis.db", 0)
	v.SetDefault("kv.redis.key_prefix", "")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.max_conn_lifetime", 30*time.Minute)
	v.SetDefault("database.auto_migrate", false)
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.prefix", "snapshots")
	v.SetDefault("storage.local.base_dir", "")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "")
	v.SetDefault("pubsub.subscription", "")
	v.SetDefault("fetcher.user_agent", "brand-dashboard-bot/0.1")
	v.SetDefault("fetcher.timeout", 15*time.Second)
	v.SetDefault("fetcher.respect_robots", true)
	v.SetDefault("fetcher.rate_limit_rps", 1.0)
	v.SetDefault("fetcher.rate_limit_burst", 2)
	v.SetDefault("workflow.enabled", true)
	v.SetDefault("workflow.shared_secret", "")
	v.SetDefault("workflow.run_timeout", 2*time.Minute)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("telemetry.service_name", "brand-dashboard")
	v.SetDefault("telemetry.service_version", "dev")
	v.SetDefault("telemetry.sample_ratio", 0.1)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if strings.TrimSpace(c.Auth.SessionCookie) == "" {
		return fmt.Errorf("auth.session_cookie must be set")
	}
	if c.Crawl.LockTTL <= 0 {
		return fmt.Errorf("crawl.lock_ttl must be > 0")
	}
	if c.Crawl.StatusTTL <= 0 {
		return fmt.Errorf("crawl.status_ttl must be > 0")
	}
	if c.Crawl.StoreTimeout <= 0 {
		return fmt.Errorf("crawl.store_timeout must be > 0")
	}
	switch c.Crawl.Dispatcher {
	case "http":
		if c.Crawl.DispatchURL == "" {
			return fmt.Errorf("crawl.dispatch_url must be set for the http dispatcher")
		}
	case "pubsub":
		if c.PubSub.ProjectID == "" || c.PubSub.Topic == "" {
			return fmt.Errorf("pubsub.project_id and pubsub.topic must be set for the pubsub dispatcher")
		}
	default:
		return fmt.Errorf("crawl.dispatcher must be http or pubsub, got %q", c.Crawl.Dispatcher)
	}
	switch c.KV.Backend {
	case "memory":
	case "redis":
		if c.KV.Redis.Addr == "" {
			return fmt.Errorf("kv.redis.addr must be set for the redis backend")
		}
	default:
		return fmt.Errorf("kv.backend must be memory or redis, got %q", c.KV.Backend)
	}
	switch c.Storage.Backend {
	case "memory":
	case "local":
		if c.Storage.Local.BaseDir == "" {
			return fmt.Errorf("storage.local.base_dir must be set for the local backend")
		}
	case "gcs":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend must be memory, local or gcs, got %q", c.Storage.Backend)
	}
	if c.Fetcher.Timeout <= 0 {
		return fmt.Errorf("fetcher.timeout must be > 0")
	}
	if c.Workflow.Enabled && c.Workflow.RunTimeout <= 0 {
		return fmt.Errorf("workflow.run_timeout must be > 0 when the workflow is enabled")
	}
	return nil
}

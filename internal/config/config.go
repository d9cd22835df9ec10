// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage providers.
const (
	StorageGCS    = "gcs"
	StorageS3     = "s3"
	StorageLocal  = "local"
	StorageMemory = "memory"
)

// Database providers.
const (
	DBPostgres = "postgres"
	DBMemory   = "memory"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Capture   CaptureConfig   `mapstructure:"capture"`
	Storage   StorageConfig   `mapstructure:"storage"`
	DB        DBConfig        `mapstructure:"db"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int `mapstructure:"port"`
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// AuthConfig defines API authentication. APIKeys maps a key to the
// tenant it authenticates as.
type AuthConfig struct {
	Enabled bool              `mapstructure:"enabled"`
	APIKeys map[string]string `mapstructure:"api_keys"`
}

// BrowserConfig configures the headless rendering subsystem.
type BrowserConfig struct {
	MaxParallel        int    `mapstructure:"max_parallel"`
	NavTimeoutSeconds  int    `mapstructure:"nav_timeout_seconds"`
	UserAgent          string `mapstructure:"user_agent"`
	NetworkIdleSeconds int    `mapstructure:"network_idle_seconds"`
	ImageWaitSeconds   int    `mapstructure:"image_wait_seconds"`
}

// CaptureConfig governs the job pipeline.
type CaptureConfig struct {
	MaxConcurrent    int `mapstructure:"max_concurrent"`
	PollIntervalMs   int `mapstructure:"poll_interval_ms"`
	RetentionSeconds int `mapstructure:"retention_seconds"`
	JanitorSeconds   int `mapstructure:"janitor_seconds"`
	DedupMaxAgeSec   int `mapstructure:"dedup_max_age_seconds"`
	DefaultTTLSec    int `mapstructure:"default_ttl_seconds"`
}

// StorageConfig selects and configures the object store backend.
type StorageConfig struct {
	Provider    string `mapstructure:"provider"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	S3Endpoint  string `mapstructure:"s3_endpoint"`
	S3Bucket    string `mapstructure:"s3_bucket"`
	S3AccessKey string `mapstructure:"s3_access_key"`
	S3SecretKey string `mapstructure:"s3_secret_key"`
	S3UseSSL    bool   `mapstructure:"s3_use_ssl"`
	LocalPath   string `mapstructure:"local_path"`
}

// DBConfig selects the record and quota backend.
type DBConfig struct {
	Provider string `mapstructure:"provider"`
	DSN      string `mapstructure:"dsn"`
}

// PubSubConfig holds metadata for capture completion events.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// RateLimitConfig bounds per-tenant request rates.
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PAGELENS")
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
	v.SetDefault("server.timeout_seconds", 90)
	v.SetDefault("browser.max_parallel", 4)
	v.SetDefault("browser.nav_timeout_seconds", 45)
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("browser.network_idle_seconds", 3)
	v.SetDefault("browser.image_wait_seconds", 5)
	v.SetDefault("capture.max_concurrent", 8)
	v.SetDefault("capture.poll_interval_ms", 250)
	v.SetDefault("capture.retention_seconds", 3600)
	v.SetDefault("capture.janitor_seconds", 300)
	v.SetDefault("capture.dedup_max_age_seconds", 120)
	v.SetDefault("capture.default_ttl_seconds", 86400)
	v.SetDefault("storage.provider", StorageMemory)
	v.SetDefault("storage.s3_use_ssl", true)
	v.SetDefault("db.provider", DBMemory)
	v.SetDefault("rate_limit.rps", 0)
	v.SetDefault("rate_limit.burst", 10)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Browser.MaxParallel <= 0 {
		return fmt.Errorf("browser.max_parallel must be > 0")
	}
	if c.Capture.MaxConcurrent <= 0 {
		return fmt.Errorf("capture.max_concurrent must be > 0")
	}
	if c.Auth.Enabled && len(c.Auth.APIKeys) == 0 {
		return fmt.Errorf("auth.api_keys must be set when auth is enabled")
	}
	switch c.Storage.Provider {
	case StorageGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs provider")
		}
	case StorageS3:
		if c.Storage.S3Endpoint == "" || c.Storage.S3Bucket == "" {
			return fmt.Errorf("storage.s3_endpoint and storage.s3_bucket must be set for the s3 provider")
		}
	case StorageLocal:
		if c.Storage.LocalPath == "" {
			return fmt.Errorf("storage.local_path must be set for the local provider")
		}
	case StorageMemory:
	default:
		return fmt.Errorf("unknown storage.provider %q", c.Storage.Provider)
	}
	switch c.DB.Provider {
	case DBPostgres:
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set for the postgres provider")
		}
	case DBMemory:
	default:
		return fmt.Errorf("unknown db.provider %q", c.DB.Provider)
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.Topic == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic must be set when pubsub is enabled")
	}
	return nil
}

// RequestTimeout returns the HTTP handler budget.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.TimeoutSeconds) * time.Second
}

// NavTimeout returns the browser navigation budget.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Browser.NavTimeoutSeconds) * time.Second
}

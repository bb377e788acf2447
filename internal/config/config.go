// Package config loads and validates radar configuration via Viper.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig    `mapstructure:"server"`
	Auth       AuthConfig      `mapstructure:"auth"`
	Logging    LoggingConfig   `mapstructure:"logging"`
	Ingest     IngestConfig    `mapstructure:"ingest"`
	Sources    SourcesConfig   `mapstructure:"sources"`
	HTTP       HTTPConfig      `mapstructure:"http"`
	RateLimit  RateLimitConfig `mapstructure:"ratelimit"`
	Headless   HeadlessConfig  `mapstructure:"headless"`
	Snapshot   SnapshotConfig  `mapstructure:"snapshot"`
	Storage    StorageConfig   `mapstructure:"storage"`
	Database   DatabaseConfig  `mapstructure:"database"`
	PubSub     PubSubConfig    `mapstructure:"pubsub"`
	Analysis   LLMConfig       `mapstructure:"analysis"`
	Evaluation LLMConfig       `mapstructure:"evaluation"`
	Schedule   ScheduleConfig  `mapstructure:"schedule"`
	Notify     NotifyConfig    `mapstructure:"notify"`
	Telemetry  TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int      `mapstructure:"port"`
	RequestTimeoutSeconds int      `mapstructure:"request_timeout_seconds"`
	CORSOrigins           []string `mapstructure:"cors_origins"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// IngestConfig bounds ingestion runs.
type IngestConfig struct {
	DefaultLimit         int `mapstructure:"default_limit"`
	MaxLimit             int `mapstructure:"max_limit"`
	SourceTimeoutSeconds int `mapstructure:"source_timeout_seconds"`
	WriteTimeoutSeconds  int `mapstructure:"write_timeout_seconds"`
}

// SourceConfig is shared by every source adapter.
type SourceConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	URL            string `mapstructure:"url"`
	FallbackURL    string `mapstructure:"fallback_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// Timeout returns the per-source fetch timeout.
func (s SourceConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// SourcesConfig enables and points the individual source adapters.
type SourcesConfig struct {
	HackerNews  SourceConfig `mapstructure:"hackernews"`
	ProductHunt SourceConfig `mapstructure:"producthunt"`
	BetaList    SourceConfig `mapstructure:"betalist"`
	HuggingFace SourceConfig `mapstructure:"huggingface"`
}

// HTTPConfig configures outbound HTTP clients.
type HTTPConfig struct {
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	UserAgent      string `mapstructure:"user_agent"`
}

// RateLimitConfig paces outbound requests per host.
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	MaxParallel     int  `mapstructure:"max_parallel"`
	NavTimeoutSec   int  `mapstructure:"nav_timeout_seconds"`
	PromotionThresh int  `mapstructure:"promotion_threshold"`
}

// SnapshotConfig toggles landing-page capture for new entities.
type SnapshotConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	ExcerptRunes int  `mapstructure:"excerpt_runes"`
}

// StorageConfig selects the snapshot blob store.
type StorageConfig struct {
	Backend     string `mapstructure:"backend"`
	LocalDir    string `mapstructure:"local_dir"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// DatabaseConfig selects and tunes the entity store.
type DatabaseConfig struct {
	Backend    string `mapstructure:"backend"`
	DSN        string `mapstructure:"dsn"`
	SQLitePath string `mapstructure:"sqlite_path"`
	MaxConns   int32  `mapstructure:"max_conns"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LLMConfig points at an OpenAI-compatible chat completion endpoint.
type LLMConfig struct {
	APIKey         string `mapstructure:"api_key"`
	BaseURL        string `mapstructure:"base_url"`
	Model          string `mapstructure:"model"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// ScheduleConfig drives the periodic ingest.
type ScheduleConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Spec     string `mapstructure:"spec"`
	Timezone string `mapstructure:"timezone"`
}

// NotifyConfig groups notification channels.
type NotifyConfig struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig configures the Telegram digest.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Token    string `mapstructure:"token"`
	ChatID   int64  `mapstructure:"chat_id"`
	MinScore int    `mapstructure:"min_score"`
}

// TelemetryConfig configures tracing.
type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RADAR")
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

	// Hosting platforms inject PORT.
	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return Config{}, fmt.Errorf("parse PORT %q: %w", port, err)
		}
		cfg.Server.Port = p
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 120)
	v.SetDefault("server.cors_origins", []string{"http://localhost:3000", "http://localhost:8000"})
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("ingest.default_limit", 20)
	v.SetDefault("ingest.max_limit", 100)
	v.SetDefault("ingest.source_timeout_seconds", 30)
	v.SetDefault("ingest.write_timeout_seconds", 10)
	v.SetDefault("sources.hackernews.enabled", true)
	v.SetDefault("sources.hackernews.url", "https://hacker-news.firebaseio.com")
	v.SetDefault("sources.hackernews.timeout_seconds", 20)
	v.SetDefault("sources.producthunt.enabled", true)
	v.SetDefault("sources.producthunt.url", "https://www.producthunt.com/feed")
	v.SetDefault("sources.producthunt.timeout_seconds", 15)
	v.SetDefault("sources.betalist.enabled", true)
	v.SetDefault("sources.betalist.url", "https://betalist.com/rss")
	v.SetDefault("sources.betalist.fallback_url", "https://betalist.com/startups/feed")
	v.SetDefault("sources.betalist.timeout_seconds", 15)
	v.SetDefault("sources.huggingface.enabled", true)
	v.SetDefault("sources.huggingface.url", "https://huggingface.co")
	v.SetDefault("sources.huggingface.timeout_seconds", 15)
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.user_agent", "market-radar/0.1")
	v.SetDefault("ratelimit.requests_per_second", 5.0)
	v.SetDefault("ratelimit.burst", 5)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("headless.promotion_threshold", 60)
	v.SetDefault("snapshot.enabled", false)
	v.SetDefault("snapshot.excerpt_runes", 2000)
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.local_dir", "data/snapshots")
	v.SetDefault("storage.prefix", "snapshots")
	v.SetDefault("storage.content_type", "text/html; charset=utf-8")
	v.SetDefault("database.backend", "memory")
	v.SetDefault("database.sqlite_path", "data/radar.db")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("pubsub.topic_name", "radar-events")
	v.SetDefault("analysis.base_url", "https://api.openai.com/v1")
	v.SetDefault("analysis.model", "gpt-3.5-turbo")
	v.SetDefault("analysis.timeout_seconds", 60)
	v.SetDefault("evaluation.base_url", "https://api.deepseek.com")
	v.SetDefault("evaluation.model", "deepseek-chat")
	v.SetDefault("evaluation.timeout_seconds", 120)
	v.SetDefault("schedule.enabled", true)
	v.SetDefault("schedule.spec", "0 10 * * *")
	v.SetDefault("schedule.timezone", "UTC")
	v.SetDefault("notify.telegram.min_score", 80)
	v.SetDefault("telemetry.service_name", "market-radar")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Ingest.DefaultLimit <= 0 {
		return fmt.Errorf("ingest.default_limit must be > 0")
	}
	if c.Ingest.MaxLimit < c.Ingest.DefaultLimit {
		return fmt.Errorf("ingest.max_limit must be >= ingest.default_limit")
	}
	if c.Ingest.SourceTimeoutSeconds <= 0 {
		return fmt.Errorf("ingest.source_timeout_seconds must be > 0")
	}
	if c.Ingest.WriteTimeoutSeconds <= 0 {
		return fmt.Errorf("ingest.write_timeout_seconds must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("ratelimit.requests_per_second must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Database.Backend {
	case "memory", "sqlite":
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn must be set for the postgres backend")
		}
	default:
		return fmt.Errorf("database.backend %q is not supported", c.Database.Backend)
	}
	switch c.Storage.Backend {
	case "memory", "local":
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend)
	}
	if c.Notify.Telegram.Enabled && (c.Notify.Telegram.Token == "" || c.Notify.Telegram.ChatID == 0) {
		return fmt.Errorf("notify.telegram.token and chat_id must be set when telegram is enabled")
	}
	if c.Schedule.Enabled && c.Schedule.Spec == "" {
		return fmt.Errorf("schedule.spec must be set when the schedule is enabled")
	}
	return nil
}

// SourceTimeout is the orchestrator-level bound on each adapter branch.
func (c Config) SourceTimeout() time.Duration {
	return time.Duration(c.Ingest.SourceTimeoutSeconds) * time.Second
}

// WriteTimeout bounds each store call made while merging a run.
func (c Config) WriteTimeout() time.Duration {
	return time.Duration(c.Ingest.WriteTimeoutSeconds) * time.Second
}

// HTTPTimeout is the default outbound request timeout.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

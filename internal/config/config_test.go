package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 20, cfg.Ingest.DefaultLimit)
	require.Equal(t, "memory", cfg.Database.Backend)
	require.Equal(t, "0 10 * * *", cfg.Schedule.Spec)
	require.Equal(t, []string{"http://localhost:3000", "http://localhost:8000"}, cfg.Server.CORSOrigins)
	require.Equal(t, "https://betalist.com/startups/feed", cfg.Sources.BetaList.FallbackURL)
	require.Equal(t, 10*time.Second, cfg.WriteTimeout())
}

func TestLoadWithFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
  cors_origins: ["https://radar.example.com"]
auth:
  enabled: true
  api_key: secret
ingest:
  default_limit: 5
  max_limit: 50
  source_timeout_seconds: 7
sources:
  betalist:
    enabled: false
  hackernews:
    url: http://hn.local
    timeout_seconds: 3
database:
  backend: sqlite
  sqlite_path: /tmp/radar.db
notify:
  telegram:
    enabled: true
    token: abc
    chat_id: 42
    min_score: 90
logging:
  development: false
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, []string{"https://radar.example.com"}, cfg.Server.CORSOrigins)
	require.True(t, cfg.Auth.Enabled)
	require.Equal(t, "secret", cfg.Auth.APIKey)
	require.Equal(t, 5, cfg.Ingest.DefaultLimit)
	require.Equal(t, 7*time.Second, cfg.SourceTimeout())
	require.False(t, cfg.Sources.BetaList.Enabled)
	require.True(t, cfg.Sources.ProductHunt.Enabled)
	require.Equal(t, "http://hn.local", cfg.Sources.HackerNews.URL)
	require.Equal(t, 3*time.Second, cfg.Sources.HackerNews.Timeout())
	require.Equal(t, "sqlite", cfg.Database.Backend)
	require.EqualValues(t, 42, cfg.Notify.Telegram.ChatID)
	require.Equal(t, 90, cfg.Notify.Telegram.MinScore)
	require.False(t, cfg.Logging.Development)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("RADAR_INGEST_DEFAULT_LIMIT", "7")
	t.Setenv("PORT", "9191")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 7, cfg.Ingest.DefaultLimit)
	require.Equal(t, 9191, cfg.Server.Port)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:    ServerConfig{Port: 8080},
		Ingest:    IngestConfig{DefaultLimit: 20, MaxLimit: 100, SourceTimeoutSeconds: 30, WriteTimeoutSeconds: 10},
		HTTP:      HTTPConfig{TimeoutSeconds: 10},
		RateLimit: RateLimitConfig{RequestsPerSecond: 1},
		Database:  DatabaseConfig{Backend: "memory"},
		Storage:   StorageConfig{Backend: "memory"},
	}
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "invalid port", mutate: func(c *Config) { c.Server.Port = 0 }, want: "server.port must be > 0"},
		{name: "invalid limit", mutate: func(c *Config) { c.Ingest.DefaultLimit = 0 }, want: "ingest.default_limit"},
		{name: "max below default", mutate: func(c *Config) { c.Ingest.MaxLimit = 1 }, want: "ingest.max_limit"},
		{name: "invalid source timeout", mutate: func(c *Config) { c.Ingest.SourceTimeoutSeconds = 0 }, want: "ingest.source_timeout_seconds"},
		{name: "invalid write timeout", mutate: func(c *Config) { c.Ingest.WriteTimeoutSeconds = 0 }, want: "ingest.write_timeout_seconds"},
		{name: "invalid http timeout", mutate: func(c *Config) { c.HTTP.TimeoutSeconds = 0 }, want: "http.timeout_seconds"},
		{name: "invalid rate", mutate: func(c *Config) { c.RateLimit.RequestsPerSecond = 0 }, want: "ratelimit.requests_per_second"},
		{
			name:   "headless without parallelism",
			mutate: func(c *Config) { c.Headless = HeadlessConfig{Enabled: true} },
			want:   "headless.max_parallel",
		},
		{name: "auth without key", mutate: func(c *Config) { c.Auth.Enabled = true }, want: "auth.api_key"},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Database.Backend = "postgres" }, want: "database.dsn"},
		{name: "unknown database", mutate: func(c *Config) { c.Database.Backend = "mongo" }, want: "database.backend"},
		{name: "gcs without bucket", mutate: func(c *Config) { c.Storage.Backend = "gcs" }, want: "storage.gcs_bucket"},
		{name: "unknown storage", mutate: func(c *Config) { c.Storage.Backend = "s3" }, want: "storage.backend"},
		{
			name:   "telegram without token",
			mutate: func(c *Config) { c.Notify.Telegram.Enabled = true },
			want:   "notify.telegram",
		},
		{
			name:   "schedule without spec",
			mutate: func(c *Config) { c.Schedule.Enabled = true },
			want:   "schedule.spec",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.want)
		})
	}
}

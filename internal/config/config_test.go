package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "full", cfg.Mode)
	assert.Equal(t, "coordination", cfg.Engine.Strategy)
	assert.Equal(t, 5*time.Second, cfg.Engine.LockTTL.Duration)
	assert.Equal(t, 250*time.Millisecond, cfg.Settlement.PollInterval.Duration)
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown mode", func(c *Config) { c.Mode = "turbo" }, "unknown mode"},
		{"unknown log level", func(c *Config) { c.LogLevel = "loud" }, "unknown log_level"},
		{"unknown strategy", func(c *Config) { c.Engine.Strategy = "optimistic" }, "unknown strategy"},
		{"zero lock ttl", func(c *Config) { c.Engine.LockTTL.Duration = 0 }, "lock_ttl"},
		{"empty redis addr", func(c *Config) { c.Redis.Addr = "" }, "redis: addr"},
		{"bad postgres port", func(c *Config) { c.Postgres.Port = 70000 }, "postgres: port"},
		{"min conns over max", func(c *Config) { c.Postgres.PoolMinConns = 20 }, "pool_min_conns"},
		{"s3 enabled without bucket", func(c *Config) { c.S3.Enabled = true; c.S3.Bucket = "" }, "s3: bucket"},
		{"zero poll interval", func(c *Config) { c.Settlement.PollInterval.Duration = 0 }, "poll_interval"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Defaults()
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestValidateDSNSkipsHostChecks(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.DSN = "postgres://u:p@db:5432/matchd"
	cfg.Postgres.Host = ""
	cfg.Postgres.Port = 0
	cfg.Postgres.Database = ""
	assert.NoError(t, cfg.Validate())
}

func TestLoadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "matchd.toml")
	content := `
mode = "engine"
log_level = "debug"

[engine]
strategy = "durable"
lock_ttl = "10s"

[settlement]
poll_interval = "1s"

[notify]
webhook_url = "https://hooks.example.com/x"
events = ["match"]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "engine", cfg.Mode)
	assert.Equal(t, "durable", cfg.Engine.Strategy)
	assert.Equal(t, 10*time.Second, cfg.Engine.LockTTL.Duration)
	assert.Equal(t, time.Second, cfg.Settlement.PollInterval.Duration)
	assert.Equal(t, []string{"match"}, cfg.Notify.Events)
	// Untouched sections keep their defaults.
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MATCHD_MODE", "worker")
	t.Setenv("MATCHD_REDIS_ADDR", "redis.internal:6380")
	t.Setenv("MATCHD_ENGINE_LOCK_TTL", "7s")
	t.Setenv("MATCHD_POSTGRES_POOL_MAX_CONNS", "25")
	t.Setenv("MATCHD_S3_ENABLED", "true")
	t.Setenv("MATCHD_NOTIFY_EVENTS", "match, error ,")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "worker", cfg.Mode)
	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
	assert.Equal(t, 7*time.Second, cfg.Engine.LockTTL.Duration)
	assert.Equal(t, 25, cfg.Postgres.PoolMaxConns)
	assert.True(t, cfg.S3.Enabled)
	assert.Equal(t, []string{"match", "error"}, cfg.Notify.Events)
}

func TestEnvOverridesIgnoreMalformedValues(t *testing.T) {
	t.Setenv("MATCHD_POSTGRES_PORT", "not-a-number")
	t.Setenv("MATCHD_ENGINE_LOCK_TTL", "soon")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 5432, cfg.Postgres.Port)
	assert.Equal(t, 5*time.Second, cfg.Engine.LockTTL.Duration)
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "hunter2"
	cfg.Redis.Password = "hunter2"
	cfg.S3.AccessKey = "AKIA123"
	cfg.S3.SecretKey = "secret"
	cfg.Notify.WebhookURL = "https://hooks.example.com/x"

	red := RedactedConfig(&cfg)

	assert.Equal(t, "***", red.Postgres.Password)
	assert.Equal(t, "***", red.Redis.Password)
	assert.Equal(t, "***", red.S3.AccessKey)
	assert.Equal(t, "***", red.S3.SecretKey)
	assert.Equal(t, "***", red.Notify.WebhookURL)

	// Non-secret fields and the original are untouched.
	assert.Equal(t, cfg.Redis.Addr, red.Redis.Addr)
	assert.Equal(t, "hunter2", cfg.Postgres.Password)

	// Empty secrets stay empty rather than becoming placeholders.
	blank := Defaults()
	redBlank := RedactedConfig(&blank)
	assert.Empty(t, redBlank.Postgres.Password)
}

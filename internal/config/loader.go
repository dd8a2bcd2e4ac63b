package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies MATCHD_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated;
// the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known MATCHD_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Postgres.DSN, "MATCHD_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "MATCHD_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "MATCHD_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "MATCHD_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "MATCHD_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "MATCHD_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "MATCHD_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "MATCHD_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "MATCHD_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "MATCHD_POSTGRES_RUN_MIGRATIONS")

	setStr(&cfg.Redis.Addr, "MATCHD_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "MATCHD_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "MATCHD_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "MATCHD_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "MATCHD_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "MATCHD_REDIS_TLS_ENABLED")

	setBool(&cfg.S3.Enabled, "MATCHD_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "MATCHD_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "MATCHD_S3_REGION")
	setStr(&cfg.S3.Bucket, "MATCHD_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "MATCHD_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "MATCHD_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "MATCHD_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "MATCHD_S3_FORCE_PATH_STYLE")

	setStr(&cfg.Engine.Strategy, "MATCHD_ENGINE_STRATEGY")
	setDuration(&cfg.Engine.LockTTL, "MATCHD_ENGINE_LOCK_TTL")

	setDuration(&cfg.Settlement.PollInterval, "MATCHD_SETTLEMENT_POLL_INTERVAL")
	setDuration(&cfg.Settlement.ReapInterval, "MATCHD_SETTLEMENT_REAP_INTERVAL")
	setDuration(&cfg.Settlement.MaxMatchingAge, "MATCHD_SETTLEMENT_MAX_MATCHING_AGE")

	setStr(&cfg.Notify.WebhookURL, "MATCHD_NOTIFY_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "MATCHD_NOTIFY_EVENTS")

	setStr(&cfg.Mode, "MATCHD_MODE")
	setStr(&cfg.LogLevel, "MATCHD_LOG_LEVEL")
}

// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}

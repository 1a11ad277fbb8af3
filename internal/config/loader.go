package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads configuration in three layers: built-in defaults, then the TOML
// file at path (skipped when path is empty or the file does not exist), then
// UPDOWN_* environment variables. A .env file in the working directory is
// loaded into the environment first if present.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("config: stat %s: %w", path, err)
		}
	}

	// Best effort; a missing .env is not an error.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnvOverrides mutates cfg with any UPDOWN_* variables that are set.
// Unset or empty variables leave the current value untouched.
func applyEnvOverrides(cfg *Config) {
	setStr("UPDOWN_MODE", &cfg.Mode)
	setStr("UPDOWN_LOG_LEVEL", &cfg.LogLevel)

	setDuration("UPDOWN_ENGINE_BET_WINDOW", &cfg.Engine.BetWindow)
	setDuration("UPDOWN_ENGINE_LIVE_WINDOW", &cfg.Engine.LiveWindow)
	setUint64("UPDOWN_ENGINE_MIN_STAKE", &cfg.Engine.MinStake)
	setUint64("UPDOWN_ENGINE_FEE_BPS", &cfg.Engine.FeeBps)

	setBool("UPDOWN_POSTGRES_ENABLED", &cfg.Postgres.Enabled)
	setStr("UPDOWN_POSTGRES_DSN", &cfg.Postgres.DSN)
	setStr("UPDOWN_POSTGRES_HOST", &cfg.Postgres.Host)
	setInt("UPDOWN_POSTGRES_PORT", &cfg.Postgres.Port)
	setStr("UPDOWN_POSTGRES_DATABASE", &cfg.Postgres.Database)
	setStr("UPDOWN_POSTGRES_USER", &cfg.Postgres.User)
	setStr("UPDOWN_POSTGRES_PASSWORD", &cfg.Postgres.Password)
	setStr("UPDOWN_POSTGRES_SSL_MODE", &cfg.Postgres.SSLMode)
	setInt("UPDOWN_POSTGRES_POOL_MAX_CONNS", &cfg.Postgres.PoolMaxConns)
	setInt("UPDOWN_POSTGRES_POOL_MIN_CONNS", &cfg.Postgres.PoolMinConns)
	setBool("UPDOWN_POSTGRES_RUN_MIGRATIONS", &cfg.Postgres.RunMigrations)

	setBool("UPDOWN_REDIS_ENABLED", &cfg.Redis.Enabled)
	setStr("UPDOWN_REDIS_ADDR", &cfg.Redis.Addr)
	setStr("UPDOWN_REDIS_PASSWORD", &cfg.Redis.Password)
	setInt("UPDOWN_REDIS_DB", &cfg.Redis.DB)
	setInt("UPDOWN_REDIS_POOL_SIZE", &cfg.Redis.PoolSize)
	setInt("UPDOWN_REDIS_MAX_RETRIES", &cfg.Redis.MaxRetries)
	setBool("UPDOWN_REDIS_TLS_ENABLED", &cfg.Redis.TLSEnabled)

	setBool("UPDOWN_S3_ENABLED", &cfg.S3.Enabled)
	setStr("UPDOWN_S3_ENDPOINT", &cfg.S3.Endpoint)
	setStr("UPDOWN_S3_REGION", &cfg.S3.Region)
	setStr("UPDOWN_S3_BUCKET", &cfg.S3.Bucket)
	setStr("UPDOWN_S3_ACCESS_KEY", &cfg.S3.AccessKey)
	setStr("UPDOWN_S3_SECRET_KEY", &cfg.S3.SecretKey)
	setBool("UPDOWN_S3_USE_SSL", &cfg.S3.UseSSL)
	setBool("UPDOWN_S3_FORCE_PATH_STYLE", &cfg.S3.ForcePathStyle)

	setStr("UPDOWN_ORACLE_BASE_URL", &cfg.Oracle.BaseURL)
	setDuration("UPDOWN_ORACLE_TIMEOUT", &cfg.Oracle.Timeout)

	setBool("UPDOWN_SERVER_ENABLED", &cfg.Server.Enabled)
	setInt("UPDOWN_SERVER_PORT", &cfg.Server.Port)
	setStringSlice("UPDOWN_SERVER_CORS_ORIGINS", &cfg.Server.CORSOrigins)
	setStr("UPDOWN_SERVER_API_KEY", &cfg.Server.APIKey)

	setBool("UPDOWN_KEEPER_ENABLED", &cfg.Keeper.Enabled)
	setDuration("UPDOWN_KEEPER_TICK", &cfg.Keeper.Tick)
	setDuration("UPDOWN_KEEPER_LOCK_TTL", &cfg.Keeper.LockTTL)
	setDuration("UPDOWN_KEEPER_ARCHIVE_EVERY", &cfg.Keeper.ArchiveEvery)
	setInt("UPDOWN_KEEPER_RETENTION_DAYS", &cfg.Keeper.RetentionDays)

	setStr("UPDOWN_NOTIFY_TELEGRAM_TOKEN", &cfg.Notify.TelegramToken)
	setStr("UPDOWN_NOTIFY_TELEGRAM_CHAT_ID", &cfg.Notify.TelegramChatID)
	setStr("UPDOWN_NOTIFY_DISCORD_WEBHOOK_URL", &cfg.Notify.DiscordWebhookURL)
	setStringSlice("UPDOWN_NOTIFY_EVENTS", &cfg.Notify.Events)

	// UPDOWN_MARKETS is a comma-separated list of name=symbol pairs, e.g.
	// "BTC-USD=BTCUSDT,ETH-USD=ETHUSDT". It replaces the configured list.
	if v := os.Getenv("UPDOWN_MARKETS"); v != "" {
		var markets []MarketConfig
		for _, pair := range strings.Split(v, ",") {
			name, symbol, ok := strings.Cut(strings.TrimSpace(pair), "=")
			if !ok {
				continue
			}
			markets = append(markets, MarketConfig{
				Name:   strings.TrimSpace(name),
				Symbol: strings.TrimSpace(symbol),
			})
		}
		if len(markets) > 0 {
			cfg.Markets = markets
		}
	}
}

func setStr(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setUint64(key string, dst *uint64) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(key string, dst *duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(key string, dst *[]string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			*dst = out
		}
	}
}

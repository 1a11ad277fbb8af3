// Package config defines the top-level configuration for the updown service
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by UPDOWN_* environment variables.
type Config struct {
	Markets  []MarketConfig `toml:"markets"`
	Engine   EngineConfig   `toml:"engine"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Oracle   OracleConfig   `toml:"oracle"`
	Server   ServerConfig   `toml:"server"`
	Keeper   KeeperConfig   `toml:"keeper"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// MarketConfig binds a market name to the oracle symbol backing it.
type MarketConfig struct {
	Name   string `toml:"name"`
	Symbol string `toml:"symbol"`
}

// EngineConfig holds the round lifecycle and settlement parameters.
type EngineConfig struct {
	// BetWindow is how long each round accepts stakes after it starts.
	BetWindow duration `toml:"bet_window"`
	// LiveWindow is how long a locked round runs before it closes.
	LiveWindow duration `toml:"live_window"`
	// MinStake is the smallest accepted stake in micro-units.
	MinStake uint64 `toml:"min_stake"`
	// FeeBps is the treasury fee in basis points taken from winning payouts.
	FeeBps uint64 `toml:"fee_bps"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for round archival.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// OracleConfig holds the price feed parameters.
type OracleConfig struct {
	// BaseURL is the REST ticker endpoint, e.g. "https://api.binance.com".
	BaseURL string   `toml:"base_url"`
	Timeout duration `toml:"timeout"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
}

// KeeperConfig holds the lifecycle scheduler parameters.
type KeeperConfig struct {
	Enabled bool `toml:"enabled"`
	// Tick is the per-market poll interval.
	Tick duration `toml:"tick"`
	// LockTTL is the distributed keeper-lock lifetime.
	LockTTL duration `toml:"lock_ttl"`
	// ArchiveEvery is the interval between archival sweeps.
	ArchiveEvery duration `toml:"archive_every"`
	// RetentionDays is how long closed rounds stay in hot storage.
	RetentionDays int `toml:"retention_days"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration wraps time.Duration so the TOML decoder can parse strings like
// "5m" or "30s".
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable development defaults.
func Defaults() Config {
	return Config{
		Markets: []MarketConfig{
			{Name: "BTC-USD", Symbol: "BTCUSDT"},
		},
		Engine: EngineConfig{
			BetWindow:  duration{5 * time.Minute},
			LiveWindow: duration{5 * time.Minute},
			MinStake:   1_000_000, // 1 unit in micro-units
			FeeBps:     300,
		},
		Postgres: PostgresConfig{
			Enabled:       true,
			Host:          "localhost",
			Port:          5432,
			Database:      "updown",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    true,
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "updown-archive",
			ForcePathStyle: true,
		},
		Oracle: OracleConfig{
			BaseURL: "https://api.binance.com",
			Timeout: duration{10 * time.Second},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Keeper: KeeperConfig{
			Enabled:       true,
			Tick:          duration{time.Second},
			LockTTL:       duration{15 * time.Second},
			ArchiveEvery:  duration{time.Hour},
			RetentionDays: 90,
		},
		Notify: NotifyConfig{
			Events: []string{"round_closed", "oracle_failure"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode: "full" runs the
// server and the keeper, "server" and "keeper" run one of them, and "memory"
// runs both without durable storage (development only).
var validModes = map[string]bool{
	"full":   true,
	"server": true,
	"keeper": true,
	"memory": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: full, server, keeper, memory)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Markets
	if len(c.Markets) == 0 {
		errs = append(errs, "markets: at least one market must be configured")
	}
	seen := make(map[string]bool, len(c.Markets))
	for i, m := range c.Markets {
		if m.Name == "" {
			errs = append(errs, fmt.Sprintf("markets[%d]: name must not be empty", i))
		}
		if m.Symbol == "" {
			errs = append(errs, fmt.Sprintf("markets[%d]: symbol must not be empty", i))
		}
		if seen[m.Name] {
			errs = append(errs, fmt.Sprintf("markets[%d]: duplicate market %q", i, m.Name))
		}
		seen[m.Name] = true
	}

	// Engine
	if c.Engine.BetWindow.Duration <= 0 {
		errs = append(errs, "engine: bet_window must be positive")
	}
	if c.Engine.LiveWindow.Duration <= 0 {
		errs = append(errs, "engine: live_window must be positive")
	}
	if c.Engine.MinStake == 0 {
		errs = append(errs, "engine: min_stake must be positive")
	}
	if c.Engine.FeeBps >= 10000 {
		errs = append(errs, fmt.Sprintf("engine: fee_bps must be below 10000, got %d", c.Engine.FeeBps))
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	} else if strings.ToLower(c.Mode) != "memory" {
		errs = append(errs, fmt.Sprintf("postgres: must be enabled for mode %q", c.Mode))
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	// Oracle
	if c.Oracle.BaseURL == "" {
		errs = append(errs, "oracle: base_url must not be empty")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	// Keeper
	if c.Keeper.Enabled {
		if c.Keeper.Tick.Duration <= 0 {
			errs = append(errs, "keeper: tick must be positive")
		}
		if c.Keeper.RetentionDays < 0 {
			errs = append(errs, "keeper: retention_days must be >= 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

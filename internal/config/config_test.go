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
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, "full", cfg.Mode)
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, 5*time.Minute, cfg.Engine.BetWindow.Duration)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "updown.toml")
	data := `
mode = "memory"
log_level = "debug"

[[markets]]
name = "ETH-USD"
symbol = "ETHUSDT"

[engine]
bet_window = "3m"
live_window = "3m"
min_stake = 500
fee_bps = 250

[postgres]
enabled = false

[redis]
enabled = false

[server]
port = 9001
cors_origins = ["https://app.example.com"]
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Mode)
	assert.Equal(t, "debug", cfg.LogLevel)
	require.Len(t, cfg.Markets, 1)
	assert.Equal(t, "ETH-USD", cfg.Markets[0].Name)
	assert.Equal(t, "ETHUSDT", cfg.Markets[0].Symbol)
	assert.Equal(t, 3*time.Minute, cfg.Engine.BetWindow.Duration)
	assert.Equal(t, uint64(500), cfg.Engine.MinStake)
	assert.Equal(t, uint64(250), cfg.Engine.FeeBps)
	assert.False(t, cfg.Postgres.Enabled)
	assert.Equal(t, 9001, cfg.Server.Port)
	assert.Equal(t, []string{"https://app.example.com"}, cfg.Server.CORSOrigins)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("UPDOWN_MODE", "memory")
	t.Setenv("UPDOWN_POSTGRES_ENABLED", "false")
	t.Setenv("UPDOWN_REDIS_ENABLED", "false")
	t.Setenv("UPDOWN_SERVER_PORT", "7777")
	t.Setenv("UPDOWN_ENGINE_MIN_STAKE", "42")
	t.Setenv("UPDOWN_KEEPER_TICK", "250ms")
	t.Setenv("UPDOWN_MARKETS", "SOL-USD=SOLUSDT, DOGE-USD=DOGEUSDT")
	t.Setenv("UPDOWN_NOTIFY_EVENTS", "round_closed")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Mode)
	assert.False(t, cfg.Postgres.Enabled)
	assert.Equal(t, 7777, cfg.Server.Port)
	assert.Equal(t, uint64(42), cfg.Engine.MinStake)
	assert.Equal(t, 250*time.Millisecond, cfg.Keeper.Tick.Duration)
	require.Len(t, cfg.Markets, 2)
	assert.Equal(t, MarketConfig{Name: "SOL-USD", Symbol: "SOLUSDT"}, cfg.Markets[0])
	assert.Equal(t, MarketConfig{Name: "DOGE-USD", Symbol: "DOGEUSDT"}, cfg.Markets[1])
	assert.Equal(t, []string{"round_closed"}, cfg.Notify.Events)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "cluster"
	cfg.LogLevel = "loud"
	cfg.Markets = []MarketConfig{{Name: "", Symbol: ""}}
	cfg.Engine.BetWindow.Duration = 0
	cfg.Engine.FeeBps = 10000
	cfg.Server.Port = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown mode "cluster"`)
	assert.Contains(t, err.Error(), `unknown log_level "loud"`)
	assert.Contains(t, err.Error(), "markets[0]: name must not be empty")
	assert.Contains(t, err.Error(), "engine: bet_window must be positive")
	assert.Contains(t, err.Error(), "engine: fee_bps must be below 10000")
	assert.Contains(t, err.Error(), "server: port must be 1-65535")
}

func TestValidateRequiresPostgresOutsideMemoryMode(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Enabled = false

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `postgres: must be enabled for mode "full"`)

	cfg.Mode = "memory"
	cfg.Redis.Enabled = false
	require.NoError(t, cfg.Validate())
}

func TestDuplicateMarketRejected(t *testing.T) {
	cfg := Defaults()
	cfg.Markets = append(cfg.Markets, MarketConfig{Name: "BTC-USD", Symbol: "BTCUSDT"})

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `duplicate market "BTC-USD"`)
}

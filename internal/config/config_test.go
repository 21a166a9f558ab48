package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 60*time.Second, cfg.CheckInterval)
	assert.Equal(t, 9, cfg.ShortWindow)
	assert.Equal(t, 21, cfg.LongWindow)
	assert.Equal(t, 14, cfg.RSIPeriod)
	assert.Equal(t, 0.1, cfg.MaxPositionFraction)
	assert.Equal(t, "MARKET", cfg.OrderKind)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"long not above short", func(c *Config) { c.LongWindow = c.ShortWindow }},
		{"non positive window", func(c *Config) { c.ShortWindow = 0 }},
		{"rsi period", func(c *Config) { c.Strategy = "rsi"; c.RSIPeriod = 0 }},
		{"rsi thresholds inverted", func(c *Config) { c.Strategy = "rsi"; c.RSIOversold = 80 }},
		{"unknown strategy", func(c *Config) { c.Strategy = "macd" }},
		{"fraction above one", func(c *Config) { c.MaxPositionFraction = 1.5 }},
		{"zero stop loss", func(c *Config) { c.StopLossFraction = 0 }},
		{"leverage", func(c *Config) { c.Leverage = 0 }},
		{"order kind", func(c *Config) { c.OrderKind = "OCO" }},
		{"bracket kind opens", func(c *Config) { c.OrderKind = "STOP_MARKET" }},
		{"interval", func(c *Config) { c.Interval = "2m" }},
		{"precision", func(c *Config) { c.QuantityPrecision = map[string]int32{"BTCUSDT": -1} }},
		{"negative retention", func(c *Config) { c.CandleRetention = -time.Hour }},
		{"empty backtest range", func(c *Config) { c.Mode = "backtest"; c.BacktestTo = c.BacktestFrom }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := Default()
	cfg.Strategy = "rsi"
	cfg.Symbol = "ETHUSDT"
	cfg.CheckInterval = 30 * time.Second
	cfg.QuantityPrecision = map[string]int32{"ETHUSDT": 4}
	cfg.WallexAPIKey = "secret"
	require.NoError(t, Save(cfg, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "secret")

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "rsi", loaded.Strategy)
	assert.Equal(t, "ETHUSDT", loaded.Symbol)
	assert.Equal(t, 30*time.Second, loaded.CheckInterval)
	assert.Equal(t, map[string]int32{"ETHUSDT": 4}, loaded.QuantityPrecision)
	assert.Empty(t, loaded.WallexAPIKey)
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("symbol: DOGEUSDT\nlong_window: 50\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "DOGEUSDT", cfg.Symbol)
	assert.Equal(t, 50, cfg.LongWindow)
	assert.Equal(t, 9, cfg.ShortWindow)
	assert.Equal(t, 0.02, cfg.StopLossFraction)
}

func TestFromFlags(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("symbol: DOGEUSDT\nstrategy: rsi\n"), 0o600))
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("WALLEX_API_KEY=from-file\nTELEGRAM_CHAT_ID=-1001\n"), 0o600))
	t.Setenv("DB_CONN_STR", "postgres://localhost/trader")
	t.Setenv("TELEGRAM_TOKEN", "bot-token")

	cfg, err := FromFlags([]string{
		"-config", path,
		"-env-file", envFile,
		"-strategy", "ma",
		"-test",
		"-from", "2024-01-01",
		"-to", "2024-02-01",
		"-save-config", filepath.Join(dir, "effective.yaml"),
	})
	require.NoError(t, err)
	assert.Equal(t, "DOGEUSDT", cfg.Symbol)
	assert.Equal(t, "ma", cfg.Strategy)
	assert.True(t, cfg.TestMode)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), cfg.BacktestFrom)
	assert.Equal(t, "from-file", cfg.WallexAPIKey)
	assert.Equal(t, "postgres://localhost/trader", cfg.DBConnStr)
	assert.Equal(t, "bot-token", cfg.TelegramToken)
	assert.Equal(t, int64(-1001), cfg.TelegramChatID)
	assert.Equal(t, filepath.Join(dir, "effective.yaml"), cfg.SaveConfig)

	_, err = FromFlags([]string{"-from", "yesterday"})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLoadCredentials(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file", func(t *testing.T) {
		t.Setenv("WALLEX_API_KEY", "from-env")
		cfg := Default()
		require.NoError(t, LoadCredentials(&cfg, filepath.Join(dir, "absent.env")))
		assert.Equal(t, "from-env", cfg.WallexAPIKey)
	})

	t.Run("malformed file", func(t *testing.T) {
		path := filepath.Join(dir, "bad.env")
		require.NoError(t, os.WriteFile(path, []byte("this line is not an assignment\n"), 0o600))
		cfg := Default()
		assert.Error(t, LoadCredentials(&cfg, path))

		_, err := FromFlags([]string{"-env-file", path})
		assert.Error(t, err)
	})

	t.Run("unreadable file", func(t *testing.T) {
		cfg := Default()
		assert.Error(t, LoadCredentials(&cfg, dir))
	})
}

// Package config
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/amirphl/signal-trader/internal/order"
	"github.com/amirphl/signal-trader/internal/tfutils"
)

/*
YAML config example:
mode: "live"
exchange: "wallex"
test_mode: true
strategy: "ma"
symbol: "BTCUSDT"
interval: "15m"
check_interval: 60s
short_window: 9
long_window: 21
max_position_fraction: 0.1
stop_loss_fraction: 0.02
take_profit_fraction: 0.04
quantity_precision:
  BTCUSDT: 4
  DOGEUSDT: 0
*/

var ErrInvalidConfig = errors.New("invalid config")

const dateLayout = "2006-01-02"

type Config struct {
	// credentials come from the environment, never from the YAML file
	WallexAPIKey  string `yaml:"-"`
	DBConnStr     string `yaml:"-"`
	TelegramToken string `yaml:"-"`

	// SaveConfig is a path the effective configuration is written to at startup.
	SaveConfig string `yaml:"-"`

	DBMaxOpen int `yaml:"db_max_open"`
	DBMaxIdle int `yaml:"db_max_idle"`
	// CandleRetention drops archived candles older than this; 0 keeps everything.
	CandleRetention time.Duration `yaml:"candle_retention"`

	Mode          string        `yaml:"mode"`     // live | backtest
	Exchange      string        `yaml:"exchange"` // wallex | paper
	TestMode      bool          `yaml:"test_mode"`
	Strategy      string        `yaml:"strategy"` // ma | rsi
	Symbol        string        `yaml:"symbol"`
	Interval      string        `yaml:"interval"`
	CheckInterval time.Duration `yaml:"check_interval"`
	CandlePadding int           `yaml:"candle_padding"`

	ShortWindow   int     `yaml:"short_window"`
	LongWindow    int     `yaml:"long_window"`
	RSIPeriod     int     `yaml:"rsi_period"`
	RSIOverbought float64 `yaml:"rsi_overbought"`
	RSIOversold   float64 `yaml:"rsi_oversold"`

	MaxPositionFraction      float64          `yaml:"max_position_fraction"`
	StopLossFraction         float64          `yaml:"stop_loss_fraction"`
	TakeProfitFraction       float64          `yaml:"take_profit_fraction"`
	Leverage                 int              `yaml:"leverage"`
	OrderKind                string           `yaml:"order_kind"`
	PlaceBrackets            bool             `yaml:"place_brackets"`
	QuoteAsset               string           `yaml:"quote_asset"`
	DefaultQuantityPrecision int32            `yaml:"default_quantity_precision"`
	QuantityPrecision        map[string]int32 `yaml:"quantity_precision"`

	PaperBalance    float64 `yaml:"paper_balance"`
	CommissionRatio float64 `yaml:"commission_ratio"`

	BacktestFrom time.Time `yaml:"backtest_from"`
	BacktestTo   time.Time `yaml:"backtest_to"`

	LogLevel    string `yaml:"log_level"`
	LogFile     string `yaml:"log_file"`
	MetricsAddr string `yaml:"metrics_addr"`

	TelegramChatID      int64         `yaml:"telegram_chat_id"`
	NotificationRetries int           `yaml:"notification_retries"`
	NotificationDelay   time.Duration `yaml:"notification_delay"`
}

// Default returns the configuration the bot runs with when nothing is overridden.
func Default() Config {
	now := time.Now().UTC().Truncate(24 * time.Hour)
	return Config{
		DBMaxOpen:                10,
		DBMaxIdle:                5,
		CandleRetention:          30 * 24 * time.Hour,
		Mode:                     "live",
		Exchange:                 "wallex",
		Strategy:                 "ma",
		Symbol:                   "BTCUSDT",
		Interval:                 "1m",
		CheckInterval:            60 * time.Second,
		CandlePadding:            10,
		ShortWindow:              9,
		LongWindow:               21,
		RSIPeriod:                14,
		RSIOverbought:            70,
		RSIOversold:              30,
		MaxPositionFraction:      0.1,
		StopLossFraction:         0.02,
		TakeProfitFraction:       0.04,
		Leverage:                 2,
		OrderKind:                string(order.Market),
		PlaceBrackets:            true,
		QuoteAsset:               "USDT",
		DefaultQuantityPrecision: 3,
		PaperBalance:             1000,
		BacktestFrom:             now.AddDate(0, -1, 0),
		BacktestTo:               now,
		LogLevel:                 "info",
		LogFile:                  "signal-trader.log",
		MetricsAddr:              ":9102",
		NotificationRetries:      3,
		NotificationDelay:        2 * time.Second,
	}
}

// Load overlays the YAML file at path on top of Default.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// Save writes cfg to path as YAML. Credentials are not written.
func Save(cfg Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// LoadCredentials fills API key, DB connection string and Telegram settings from envFile
// (if present) and the process environment. Environment wins. A missing envFile
// is not an error; an unreadable or malformed one is.
func LoadCredentials(cfg *Config, envFile string) error {
	v := viper.New()
	if envFile != "" {
		v.SetConfigFile(envFile)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("failed to read %s: %w", envFile, err)
			}
		}
	}
	v.AutomaticEnv()

	if key := v.GetString("WALLEX_API_KEY"); key != "" {
		cfg.WallexAPIKey = key
	}
	if conn := v.GetString("DB_CONN_STR"); conn != "" {
		cfg.DBConnStr = conn
	}
	if token := v.GetString("TELEGRAM_TOKEN"); token != "" {
		cfg.TelegramToken = token
	}
	if chatID := v.GetInt64("TELEGRAM_CHAT_ID"); chatID != 0 {
		cfg.TelegramChatID = chatID
	}
	return nil
}

// FromFlags builds a Config from command line arguments. A -config file is
// applied first; flags given explicitly on the command line override it.
func FromFlags(args []string) (Config, error) {
	def := Default()
	fs := flag.NewFlagSet("signal-trader", flag.ContinueOnError)

	configFile := fs.String("config", "", "Path to YAML config file")
	envFile := fs.String("env-file", ".env", "Path to .env file with WALLEX_API_KEY and DB_CONN_STR")
	mode := fs.String("mode", def.Mode, "Mode: live or backtest")
	exchangeName := fs.String("exchange", def.Exchange, "Exchange: wallex or paper")
	testMode := fs.Bool("test", def.TestMode, "Simulate order fills against live market data")
	strategyName := fs.String("strategy", def.Strategy, "Strategy: ma or rsi")
	symbol := fs.String("symbol", def.Symbol, "Trading symbol")
	interval := fs.String("interval", def.Interval, "Candle interval")
	checkInterval := fs.Duration("check-interval", def.CheckInterval, "Delay between evaluation cycles")
	from := fs.String("from", def.BacktestFrom.Format(dateLayout), "Backtest start date (YYYY-MM-DD)")
	to := fs.String("to", def.BacktestTo.Format(dateLayout), "Backtest end date (YYYY-MM-DD)")
	logLevel := fs.String("log-level", def.LogLevel, "Log level: debug, info, warn, error")
	metricsAddr := fs.String("metrics-addr", def.MetricsAddr, "Address for the Prometheus /metrics endpoint, empty to disable")
	saveConfig := fs.String("save-config", "", "Write the effective configuration to this YAML file")

	if err := fs.Parse(args); err != nil {
		return def, err
	}

	cfg := def
	if *configFile != "" {
		var err error
		if cfg, err = Load(*configFile); err != nil {
			return cfg, err
		}
	}

	var parseErr error
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "mode":
			cfg.Mode = *mode
		case "exchange":
			cfg.Exchange = *exchangeName
		case "test":
			cfg.TestMode = *testMode
		case "strategy":
			cfg.Strategy = *strategyName
		case "symbol":
			cfg.Symbol = *symbol
		case "interval":
			cfg.Interval = *interval
		case "check-interval":
			cfg.CheckInterval = *checkInterval
		case "from":
			t, err := time.Parse(dateLayout, *from)
			if err != nil {
				parseErr = errors.Join(parseErr, fmt.Errorf("%w: -from: %v", ErrInvalidConfig, err))
			}
			cfg.BacktestFrom = t
		case "to":
			t, err := time.Parse(dateLayout, *to)
			if err != nil {
				parseErr = errors.Join(parseErr, fmt.Errorf("%w: -to: %v", ErrInvalidConfig, err))
			}
			cfg.BacktestTo = t
		case "log-level":
			cfg.LogLevel = *logLevel
		case "metrics-addr":
			cfg.MetricsAddr = *metricsAddr
		}
	})
	if parseErr != nil {
		return cfg, parseErr
	}

	cfg.SaveConfig = *saveConfig

	if err := LoadCredentials(&cfg, *envFile); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations the strategies and risk manager cannot run with.
func (c Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	switch c.Mode {
	case "live", "backtest":
	default:
		fail("unknown mode %q", c.Mode)
	}
	switch c.Exchange {
	case "wallex", "paper":
	default:
		fail("unknown exchange %q", c.Exchange)
	}
	switch strings.ToLower(c.Strategy) {
	case "ma":
		if c.ShortWindow <= 0 || c.LongWindow <= 0 {
			fail("moving average windows must be positive")
		} else if c.LongWindow <= c.ShortWindow {
			fail("long window %d must exceed short window %d", c.LongWindow, c.ShortWindow)
		}
	case "rsi":
		if c.RSIPeriod <= 0 {
			fail("rsi period must be positive")
		}
		if c.RSIOversold <= 0 || c.RSIOverbought >= 100 || c.RSIOversold >= c.RSIOverbought {
			fail("rsi thresholds must satisfy 0 < oversold < overbought < 100")
		}
	default:
		fail("unknown strategy %q", c.Strategy)
	}
	if c.Symbol == "" {
		fail("symbol is required")
	}
	if !tfutils.IsValidTimeframe(c.Interval) {
		fail("unsupported interval %q", c.Interval)
	}
	if c.CheckInterval <= 0 {
		fail("check interval must be positive")
	}
	if c.CandleRetention < 0 {
		fail("candle retention cannot be negative")
	}
	if c.CandlePadding < 0 {
		fail("candle padding cannot be negative")
	}
	for name, f := range map[string]float64{
		"max position fraction": c.MaxPositionFraction,
		"stop loss fraction":    c.StopLossFraction,
		"take profit fraction":  c.TakeProfitFraction,
	} {
		if !(f > 0 && f <= 1) {
			fail("%s %v must be in (0, 1]", name, f)
		}
	}
	if c.Leverage < 1 {
		fail("leverage must be at least 1")
	}
	if _, err := order.ParseKind(c.OrderKind); err != nil {
		fail("%v", err)
	} else if k, _ := order.ParseKind(c.OrderKind); k.IsTrigger() {
		fail("order kind %s cannot open a position", k)
	}
	if c.QuoteAsset == "" {
		fail("quote asset is required")
	}
	if c.DefaultQuantityPrecision < 0 {
		fail("quantity precision cannot be negative")
	}
	for sym, p := range c.QuantityPrecision {
		if p < 0 {
			fail("quantity precision for %s cannot be negative", sym)
		}
	}
	if c.CommissionRatio < 0 || c.CommissionRatio >= 1 {
		fail("commission ratio must be in [0, 1)")
	}
	if c.Mode == "backtest" && !c.BacktestTo.After(c.BacktestFrom) {
		fail("backtest range is empty")
	}
	return errors.Join(errs...)
}

package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/amirphl/signal-trader/internal/backtest"
	"github.com/amirphl/signal-trader/internal/candle"
	"github.com/amirphl/signal-trader/internal/config"
	"github.com/amirphl/signal-trader/internal/db"
	"github.com/amirphl/signal-trader/internal/db/conf"
	"github.com/amirphl/signal-trader/internal/exchange"
	"github.com/amirphl/signal-trader/internal/livetrading"
	"github.com/amirphl/signal-trader/internal/metrics"
	"github.com/amirphl/signal-trader/internal/notifier"
	"github.com/amirphl/signal-trader/internal/order"
	"github.com/amirphl/signal-trader/internal/risk"
	"github.com/amirphl/signal-trader/internal/strategy"
	"github.com/amirphl/signal-trader/internal/utils"
)

const (
	// streamMaxAge bounds how old a streamed trade price may be before REST is used instead.
	streamMaxAge      = 30 * time.Second
	streamCheckPeriod = 15 * time.Second
	retentionPeriod   = time.Hour
)

func main() {
	// Load configuration
	cfg, err := config.FromFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, closeLog, err := utils.NewLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open log file: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()

	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		closeLog()
		os.Exit(2)
	}
	if cfg.SaveConfig != "" {
		if err := config.Save(cfg, cfg.SaveConfig); err != nil {
			logger.Error().Err(err).Msg("failed to save configuration")
		} else {
			logger.Info().Str("path", cfg.SaveConfig).Msg("configuration saved")
		}
	}
	logger.Info().
		Str("mode", cfg.Mode).
		Str("strategy", cfg.Strategy).
		Str("symbol", cfg.Symbol).
		Str("interval", cfg.Interval).
		Bool("test_mode", cfg.TestMode).
		Msg("starting signal trader")

	// Set up context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Set up signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
		cancel()
	}()

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("signal trader stopped")
		closeLog()
		os.Exit(1)
	}
	logger.Info().Msg("shutdown complete")
}

func run(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	storage, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer storage.Close()

	strat, err := strategy.New(cfg, logger)
	if err != nil {
		return err
	}
	kind, err := order.ParseKind(cfg.OrderKind)
	if err != nil {
		return err
	}

	switch cfg.Mode {
	case "live":
		return runLiveTrading(ctx, cfg, strat, kind, storage, logger)
	case "backtest":
		return runBacktest(ctx, cfg, strat, kind, storage, logger)
	default:
		return fmt.Errorf("%w: unsupported mode %q", config.ErrInvalidConfig, cfg.Mode)
	}
}

// openStorage connects to Postgres when a connection string is configured and
// falls back to an in-memory archive otherwise.
func openStorage(ctx context.Context, cfg config.Config, logger zerolog.Logger) (db.Storage, error) {
	if cfg.DBConnStr == "" {
		logger.Warn().Msg("DB_CONN_STR not set, candles are kept in memory only")
		return db.NewMemory(), nil
	}

	if err := runMigrations(ctx, cfg.DBConnStr, logger); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	dbConfig, err := conf.NewConfig(ctx, cfg.DBConnStr, cfg.DBMaxOpen, cfg.DBMaxIdle)
	if err != nil {
		return nil, fmt.Errorf("failed to create DB config: %w", err)
	}
	storage, err := db.New(*dbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	logger.Info().Msg("connected to Postgres")
	return storage, nil
}

// runMigrations creates the database if it doesn't exist and runs the schema.sql script
func runMigrations(ctx context.Context, connStr string, logger zerolog.Logger) error {
	logger.Info().Msg("running database migrations")

	// Parse connection string to extract database name
	u, err := url.Parse(connStr)
	if err != nil {
		return fmt.Errorf("failed to parse connection string: %w", err)
	}

	dbName := strings.TrimPrefix(u.Path, "/")
	if dbName == "" {
		return fmt.Errorf("database name not found in connection string")
	}

	// Connect to the postgres database to create ours
	base := *u
	base.Path = "/postgres"
	baseDB, err := sql.Open("postgres", base.String())
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer baseDB.Close()

	var exists bool
	err = baseDB.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM pg_database WHERE datname = $1)", dbName).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check if database exists: %w", err)
	}

	if !exists {
		logger.Info().Str("database", dbName).Msg("creating database")
		if _, err := baseDB.ExecContext(ctx, "CREATE DATABASE "+pq.QuoteIdentifier(dbName)); err != nil {
			return fmt.Errorf("failed to create database: %w", err)
		}
	}

	database, err := sql.Open("postgres", connStr)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	schemaPath, err := conf.FindSchema()
	if err != nil {
		return err
	}
	schemaSQL, err := os.ReadFile(schemaPath)
	if err != nil {
		return fmt.Errorf("failed to read schema.sql: %w", err)
	}
	for _, stmt := range conf.SplitStatements(string(schemaSQL)) {
		if _, err := database.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	logger.Info().Msg("database migrations completed")
	return nil
}

// newExchange builds the Wallex adapter, wrapped in a paper exchange in test mode.
// The caller closes the returned trade stream.
func newExchange(ctx context.Context, cfg config.Config, logger zerolog.Logger) (exchange.Exchange, *exchange.TradeStream, error) {
	paper := cfg.TestMode || cfg.Exchange == "paper"
	if cfg.WallexAPIKey == "" && !paper {
		return nil, nil, fmt.Errorf("%w: WALLEX_API_KEY is required for live orders", config.ErrInvalidConfig)
	}

	stream := exchange.NewTradeStream(exchange.DefaultStreamURL, cfg.Symbol, streamMaxAge, logger)
	stream.Start(ctx)

	wallexEx := exchange.NewWallexExchange(cfg.WallexAPIKey, cfg.QuoteAsset, stream, logger)
	if !paper {
		return wallexEx, stream, nil
	}

	logger.Info().Float64("balance", cfg.PaperBalance).Msg("test mode: orders are simulated")
	return exchange.NewPaperExchange(wallexEx, exchange.PaperConfig{
		QuoteAsset:      cfg.QuoteAsset,
		InitialBalance:  cfg.PaperBalance,
		CommissionRatio: cfg.CommissionRatio,
	}, logger), stream, nil
}

// newNotifier returns a Telegram notifier when a bot token and chat are configured.
func newNotifier(cfg config.Config, logger zerolog.Logger) notifier.Notifier {
	if cfg.TelegramToken == "" || cfg.TelegramChatID == 0 {
		return notifier.Nop{}
	}
	tg, err := notifier.NewTelegramNotifier(cfg.TelegramToken, cfg.TelegramChatID, cfg.NotificationRetries, cfg.NotificationDelay, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("telegram unavailable, order events go to the log")
		return notifier.Log{Logger: logger}
	}
	return tg
}

// runLiveTrading handles the live trading mode
func runLiveTrading(
	ctx context.Context,
	cfg config.Config,
	strat strategy.Strategy,
	kind order.Kind,
	storage db.Storage,
	logger zerolog.Logger,
) error {
	ex, stream, err := newExchange(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer stream.Close()

	if err := ex.SetLeverage(ctx, cfg.Symbol, cfg.Leverage); err != nil {
		logger.Warn().Err(err).Int("leverage", cfg.Leverage).Msg("failed to set leverage")
	}

	brackets := cfg.PlaceBrackets
	_, spot := ex.(*exchange.WallexExchange)
	if spot {
		logger.Info().Msg("wallex spot account: long only")
		if brackets {
			logger.Warn().Msg("wallex spot has no trigger orders, brackets disabled")
			brackets = false
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	if cfg.MetricsAddr != "" {
		metrics.Serve(ctx, cfg.MetricsAddr, reg, logger)
		logger.Info().Str("addr", cfg.MetricsAddr).Msg("metrics endpoint started")
	}
	go metrics.WatchHealth(ctx, streamCheckPeriod, stream.Health, m.StreamConnected,
		logger.With().Str("component", "trade_stream").Logger())

	if cfg.CandleRetention > 0 {
		go db.RunRetention(ctx, storage, cfg.Symbol, cfg.Interval, cfg.CandleRetention, retentionPeriod, logger)
	}

	rm, err := risk.New(risk.ParamsFromConfig(cfg), ex, logger)
	if err != nil {
		return err
	}
	feed := candle.NewFeed(ex, storage, logger)
	engine := livetrading.New(strat, feed, ex, rm, m, livetrading.Options{
		OrderKind:     kind,
		PlaceBrackets: brackets,
		LongOnly:      spot,
		Notifier:      newNotifier(cfg, logger),
	}, logger)

	return engine.Run(ctx, cfg.CheckInterval)
}

// runBacktest handles the backtest mode
func runBacktest(
	ctx context.Context,
	cfg config.Config,
	strat strategy.Strategy,
	kind order.Kind,
	storage db.Storage,
	logger zerolog.Logger,
) error {
	latest, err := storage.GetLatestCandle(ctx, cfg.Symbol, cfg.Interval)
	if err != nil {
		return err
	}
	if latest == nil {
		logger.Warn().Str("symbol", cfg.Symbol).Str("interval", cfg.Interval).Msg("no archived candles at the trading interval, aggregating from the base interval")
	} else if latest.Time().Before(cfg.BacktestTo) {
		logger.Warn().Time("latest", latest.Time()).Time("to", cfg.BacktestTo).Msg("archive ends before the backtest range")
	}

	archive := candle.NewFeed(nil, storage, logger)
	candles, err := backtest.Load(ctx, archive, cfg.Symbol, cfg.Interval, cfg.BacktestFrom, cfg.BacktestTo)
	if err != nil {
		return err
	}
	logger.Info().
		Int("candles", len(candles)).
		Time("from", cfg.BacktestFrom).
		Time("to", cfg.BacktestTo).
		Msg("loaded candles for backtest")

	res, err := backtest.Run(ctx, strat, candles, backtest.Options{
		InitialBalance:  cfg.PaperBalance,
		CommissionRatio: cfg.CommissionRatio,
		Risk:            risk.ParamsFromConfig(cfg),
		OrderKind:       kind,
		PlaceBrackets:   cfg.PlaceBrackets,
	}, logger)
	if err != nil {
		return err
	}

	backtest.Report(logger, strat, res)
	if err := backtest.SaveResults(".", res); err != nil {
		return err
	}
	logger.Info().Msg("saved backtest_fills.csv and backtest_equity.csv")
	return nil
}

// Package backtest replays archived candles through the live trading engine
// against a paper exchange.
package backtest

import (
	"context"
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/amirphl/signal-trader/internal/candle"
	"github.com/amirphl/signal-trader/internal/exchange"
	"github.com/amirphl/signal-trader/internal/livetrading"
	"github.com/amirphl/signal-trader/internal/metrics"
	"github.com/amirphl/signal-trader/internal/order"
	"github.com/amirphl/signal-trader/internal/risk"
	"github.com/amirphl/signal-trader/internal/strategy"
)

// BaseInterval is the archive interval coarser series are built from when
// they are not stored directly.
const BaseInterval = "1m"

type Options struct {
	InitialBalance  float64
	CommissionRatio float64
	Risk            risk.Params
	OrderKind       order.Kind
	PlaceBrackets   bool
}

// Results holds the results of a backtest
type Results struct {
	StartingBalance float64            `json:"starting_balance"`
	Equity          float64            `json:"equity"`
	MaxEquity       float64            `json:"max_equity"`
	MaxDrawdown     float64            `json:"max_drawdown"` // fraction of the running peak
	Candles         int                `json:"candles"`
	Signals         int                `json:"signals"`
	Rejections      int                `json:"rejections"`
	Trades          int                `json:"trades"` // fills that reduced a position
	Wins            int                `json:"wins"`
	Losses          int                `json:"losses"`
	Fills           []exchange.Fill    `json:"fills"`
	EquityCurve     []float64          `json:"equity_curve"`
	Metrics         map[string]float64 `json:"metrics"`
}

// Archive serves stored candles oldest first; candle.Feed is one.
type Archive interface {
	History(ctx context.Context, symbol, interval string, start, end time.Time) ([]candle.Candle, error)
}

// Load reads [from, to] from the archive. When the interval itself is not
// archived, it is aggregated from BaseInterval candles.
func Load(ctx context.Context, archive Archive, symbol, interval string, from, to time.Time) ([]candle.Candle, error) {
	candles, err := archive.History(ctx, symbol, interval, from, to)
	if err != nil {
		return nil, fmt.Errorf("loading %s %s candles: %w", symbol, interval, err)
	}
	if len(candles) > 0 || interval == BaseInterval {
		return candles, nil
	}

	base, err := archive.History(ctx, symbol, BaseInterval, from, to)
	if err != nil {
		return nil, fmt.Errorf("loading %s %s candles: %w", symbol, BaseInterval, err)
	}
	if len(base) == 0 {
		return nil, nil
	}
	return candle.Aggregate(base, interval)
}

// Run replays candles through strat. Each bar first moves resting paper
// orders along the bar's price path, then runs one engine cycle at its close.
// Market orders from that cycle fill at the close of the bar that signalled,
// as the live loop does when it trades right after a bar closes.
func Run(ctx context.Context, strat strategy.Strategy, candles []candle.Candle, opts Options, logger zerolog.Logger) (Results, error) {
	log := logger.With().Str("component", "backtest").Str("strategy", strat.Name()).Logger()

	if len(candles) < strat.RequiredCandles() {
		return Results{}, fmt.Errorf("%w: %d candles, %s needs %d",
			strategy.ErrInsufficientData, len(candles), strat.Name(), strat.RequiredCandles())
	}
	series := make([]candle.Candle, len(candles))
	copy(series, candles)
	sort.Slice(series, func(i, j int) bool { return series[i].Timestamp < series[j].Timestamp })
	if err := candle.ValidateSeries(series); err != nil {
		return Results{}, fmt.Errorf("backtest series: %w", err)
	}

	market := &replay{candles: series}
	paper := exchange.NewPaperExchange(market, exchange.PaperConfig{
		QuoteAsset:      opts.Risk.QuoteAsset,
		InitialBalance:  opts.InitialBalance,
		CommissionRatio: opts.CommissionRatio,
	}, logger)
	paper.SetClock(func() time.Time { return market.current().Time() })

	rm, err := risk.New(opts.Risk, paper, logger)
	if err != nil {
		return Results{}, err
	}
	engine := livetrading.New(strat, market, paper, rm, metrics.New(nil), livetrading.Options{
		OrderKind:     opts.OrderKind,
		PlaceBrackets: opts.PlaceBrackets,
	}, logger)
	defer engine.Wait()

	res := Results{
		StartingBalance: opts.InitialBalance,
		Equity:          opts.InitialBalance,
		MaxEquity:       opts.InitialBalance,
		Candles:         len(series),
		Metrics:         make(map[string]float64),
	}

	for i := range series {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		market.cursor = i
		for _, price := range path(series[i]) {
			paper.OnPrice(strat.Symbol(), price)
		}

		if i+1 >= strat.RequiredCandles() {
			out, err := engine.EvaluateAndAct(ctx)
			if out.Signal.Action != strategy.None {
				res.Signals++
			}
			if err != nil {
				res.Rejections++
				log.Warn().Err(err).Time("at", series[i].Time()).Msg("order rejected during replay")
			}
		}

		equity := paper.Equity()
		res.EquityCurve = append(res.EquityCurve, equity)
		res.MaxEquity = math.Max(res.MaxEquity, equity)
		if res.MaxEquity > 0 {
			res.MaxDrawdown = math.Max(res.MaxDrawdown, (res.MaxEquity-equity)/res.MaxEquity)
		}
		res.Equity = equity
	}

	res.Fills = paper.Fills()
	calculatePerformanceMetrics(&res)
	return res, nil
}

// calculatePerformanceMetrics calculates performance metrics for backtest results
func calculatePerformanceMetrics(res *Results) {
	var winSum, lossSum float64
	for _, f := range res.Fills {
		if !f.ReduceOnly && f.RealizedPnL == 0 {
			continue
		}
		res.Trades++
		pnl := f.RealizedPnL - f.Fee
		switch {
		case pnl > 0:
			res.Wins++
			winSum += pnl
		case pnl < 0:
			res.Losses++
			lossSum += pnl
		}
	}

	if res.Trades > 0 {
		res.Metrics["win_rate"] = float64(res.Wins) / float64(res.Trades)
	}
	if res.Wins > 0 {
		res.Metrics["avg_win"] = winSum / float64(res.Wins)
	}
	if res.Losses > 0 {
		res.Metrics["avg_loss"] = lossSum / float64(res.Losses)
	}
	if lossSum != 0 {
		res.Metrics["profit_factor"] = -winSum / lossSum
	}
	if res.StartingBalance > 0 {
		totalReturn := res.Equity - res.StartingBalance
		res.Metrics["total_return"] = totalReturn
		res.Metrics["percent_return"] = totalReturn / res.StartingBalance * 100
	}
	res.Metrics["max_drawdown"] = res.MaxDrawdown
}

// Report logs a summary of res.
func Report(logger zerolog.Logger, strat strategy.Strategy, res Results) {
	logger.Info().
		Str("strategy", strat.Name()).
		Str("symbol", strat.Symbol()).
		Int("candles", res.Candles).
		Int("signals", res.Signals).
		Int("trades", res.Trades).
		Int("wins", res.Wins).
		Int("losses", res.Losses).
		Int("rejections", res.Rejections).
		Float64("starting_balance", res.StartingBalance).
		Float64("equity", res.Equity).
		Float64("max_drawdown", res.MaxDrawdown).
		Float64("win_rate", res.Metrics["win_rate"]).
		Float64("profit_factor", res.Metrics["profit_factor"]).
		Float64("percent_return", res.Metrics["percent_return"]).
		Msg("backtest finished")
}

// SaveResults writes the fills and the equity curve as CSV files into dir.
func SaveResults(dir string, res Results) error {
	fillRows := [][]string{{"Fill#", "Time", "Side", "Kind", "Quantity", "Price", "Fee", "RealizedPnL", "ReduceOnly"}}
	for i, f := range res.Fills {
		fillRows = append(fillRows, []string{
			fmt.Sprintf("%d", i+1),
			f.Time.Format(time.RFC3339),
			string(f.Side),
			string(f.Kind),
			fmt.Sprintf("%g", f.Quantity),
			fmt.Sprintf("%.2f", f.Price),
			fmt.Sprintf("%.4f", f.Fee),
			fmt.Sprintf("%.2f", f.RealizedPnL),
			fmt.Sprintf("%t", f.ReduceOnly),
		})
	}

	equityRows := [][]string{{"Step", "Equity"}}
	for i, eq := range res.EquityCurve {
		equityRows = append(equityRows, []string{
			fmt.Sprintf("%d", i+1),
			fmt.Sprintf("%.2f", eq),
		})
	}

	if err := saveCSV(filepath.Join(dir, "backtest_fills.csv"), fillRows); err != nil {
		return err
	}
	return saveCSV(filepath.Join(dir, "backtest_equity.csv"), equityRows)
}

// saveCSV saves data to a CSV file
func saveCSV(filename string, rows [][]string) error {
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("creating %s: %w", filename, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.WriteAll(rows); err != nil {
		return fmt.Errorf("writing %s: %w", filename, err)
	}
	return nil
}

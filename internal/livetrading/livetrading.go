// Package livetrading drives one strategy against an exchange: each cycle turns
// a signal into close-then-open order intents.
package livetrading

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/amirphl/signal-trader/internal/candle"
	"github.com/amirphl/signal-trader/internal/exchange"
	"github.com/amirphl/signal-trader/internal/metrics"
	"github.com/amirphl/signal-trader/internal/notifier"
	"github.com/amirphl/signal-trader/internal/order"
	"github.com/amirphl/signal-trader/internal/risk"
	"github.com/amirphl/signal-trader/internal/strategy"
)

// CandleSource supplies the series a strategy evaluates. An empty result means
// the data was unavailable.
type CandleSource interface {
	Candles(ctx context.Context, symbol, interval string, limit int) []candle.Candle
}

// notifyTimeout bounds one notification including its retries.
const notifyTimeout = 30 * time.Second

type Options struct {
	OrderKind     order.Kind
	PlaceBrackets bool
	// LongOnly closes longs on SELL but never opens a short, for spot accounts.
	LongOnly bool
	Notifier notifier.Notifier // order events; nil disables
}

// Outcome records what one cycle did.
type Outcome struct {
	Signal        strategy.Signal
	Intents       []order.Intent
	Confirmations []*order.Confirmation
	Brackets      []*order.Confirmation
}

// Engine holds no position state of its own; every cycle starts from a fresh
// position snapshot. One Engine serves one strategy and symbol.
type Engine struct {
	strat   strategy.Strategy
	candles CandleSource
	broker  risk.Broker
	risk    *risk.Manager
	metrics *metrics.Metrics
	opts    Options
	log     zerolog.Logger

	notifying sync.WaitGroup
}

// New creates an engine. m may be nil.
func New(
	strat strategy.Strategy,
	candles CandleSource,
	broker risk.Broker,
	rm *risk.Manager,
	m *metrics.Metrics,
	opts Options,
	logger zerolog.Logger,
) *Engine {
	if m == nil {
		m = metrics.New(nil)
	}
	if opts.OrderKind == "" {
		opts.OrderKind = order.Market
	}
	if opts.Notifier == nil {
		opts.Notifier = notifier.Nop{}
	}
	return &Engine{
		strat:   strat,
		candles: candles,
		broker:  broker,
		risk:    rm,
		metrics: m,
		opts:    opts,
		log: logger.With().
			Str("component", "engine").
			Str("strategy", strat.Name()).
			Str("symbol", strat.Symbol()).
			Logger(),
	}
}

// EvaluateAndAct runs one cycle. Missing candles, prices or balances end the
// cycle quietly; only a failed order returns an error, wrapping
// exchange.ErrOrderRejected. A failed close stops the cycle before any open.
func (e *Engine) EvaluateAndAct(ctx context.Context) (Outcome, error) {
	start := time.Now()
	e.metrics.Cycles.Inc()
	defer func() { e.metrics.CycleDuration.Observe(time.Since(start).Seconds()) }()

	symbol := e.strat.Symbol()
	series := e.candles.Candles(ctx, symbol, e.strat.Interval(), e.strat.FetchLimit())
	sig := e.strat.Evaluate(series)
	out := Outcome{Signal: sig}

	e.metrics.Signals.WithLabelValues(e.strat.Name(), string(sig.Action)).Inc()
	if sig.Action == strategy.None {
		if sig.Reason == strategy.ReasonInsufficientData {
			e.metrics.InsufficientData.WithLabelValues(e.strat.Name()).Inc()
		}
		e.log.Debug().Str("reason", sig.Reason).Int("candles", len(series)).Msg("no signal")
		return out, nil
	}
	e.log.Info().
		Str("action", string(sig.Action)).
		Str("reason", sig.Reason).
		Float64("price", sig.TriggerPrice).
		Msg("signal")

	pos, err := e.broker.Position(ctx, symbol)
	if err != nil {
		e.log.Error().Err(err).Msg("position unavailable, skipping cycle")
		return out, nil
	}
	qty := pos.Amount()
	if alreadyPositioned(sig.Action, qty) {
		e.log.Info().Str("position", pos.State().String()).Float64("quantity", qty).Msg("already positioned")
		return out, nil
	}

	var price float64
	if e.opts.OrderKind == order.Limit {
		if price, err = e.broker.MarketPrice(ctx, symbol); err != nil {
			e.log.Error().Err(err).Msg("no price for limit orders, skipping cycle")
			return out, nil
		}
	}

	if intent, ok := CloseIntent(symbol, sig.Action, qty, e.opts.OrderKind, price); ok {
		conf, err := e.submit(ctx, &out, intent)
		if err != nil {
			return out, err
		}
		e.log.Info().Str("order_id", conf.OrderID).Float64("closed", intent.Quantity).Msg("position closed")
		e.metrics.PositionQuantity.WithLabelValues(symbol).Set(0)
	}

	if e.opts.LongOnly && sig.Action == strategy.Sell {
		e.log.Info().Msg("long-only account, not opening a short")
		return out, nil
	}

	sizing := e.risk.Size(ctx, symbol)
	if e.opts.OrderKind == order.Limit && sizing.Price > 0 {
		price = sizing.Price
	}
	intent, ok := OpenIntent(symbol, sig.Action, sizing.Quantity, e.opts.OrderKind, price)
	if !ok {
		e.log.Warn().
			Float64("balance", sizing.Balance).
			Float64("price", sizing.Price).
			Msg("computed size is zero, not opening")
		return out, nil
	}
	conf, err := e.submit(ctx, &out, intent)
	if err != nil {
		return out, err
	}
	opened := intent.Quantity
	if conf.FilledQty > 0 {
		opened = conf.FilledQty
	}
	if intent.Side == order.Sell {
		opened = -opened
	}
	e.metrics.PositionQuantity.WithLabelValues(symbol).Set(opened)
	e.notify(ctx, "%s: opened %s %g %s @ %g (%s)", e.strat.Name(), intent.Side, math.Abs(opened), symbol, conf.AvgPrice, sig.Reason)

	if !e.opts.PlaceBrackets {
		return out, nil
	}
	brackets, err := e.risk.PlaceBrackets(ctx, symbol, conf.AvgPrice)
	out.Brackets = brackets
	if err != nil {
		e.metrics.OrderFailures.WithLabelValues("bracket").Inc()
		return out, fmt.Errorf("%w: brackets for %s: %w", exchange.ErrOrderRejected, symbol, err)
	}
	return out, nil
}

func (e *Engine) submit(ctx context.Context, out *Outcome, intent order.Intent) (*order.Confirmation, error) {
	e.metrics.Intents.WithLabelValues(string(intent.Side), string(intent.Kind), strconv.FormatBool(intent.ReduceOnly)).Inc()
	out.Intents = append(out.Intents, intent)

	conf, err := e.broker.PlaceOrder(ctx, intent)
	if err == nil && conf == nil {
		err = errors.New("no confirmation")
	}
	if err != nil {
		e.metrics.OrderFailures.WithLabelValues(string(intent.Kind)).Inc()
		e.log.Error().Err(err).Str("intent", intent.String()).Msg("order failed")
		e.notify(ctx, "%s: order failed: %s: %v", e.strat.Name(), intent, err)
		return nil, fmt.Errorf("%w: %s: %w", exchange.ErrOrderRejected, intent, err)
	}
	e.log.Info().
		Str("intent", intent.String()).
		Str("order_id", conf.OrderID).
		Str("status", conf.Status).
		Float64("avg_price", conf.AvgPrice).
		Msg("order placed")
	out.Confirmations = append(out.Confirmations, conf)
	return conf, nil
}

// notify sends in the background so a slow chat never delays a cycle.
// The send ends with ctx or after notifyTimeout.
func (e *Engine) notify(ctx context.Context, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	e.notifying.Add(1)
	go func() {
		defer e.notifying.Done()
		ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
		defer cancel()
		if err := e.opts.Notifier.Send(ctx, msg); err != nil {
			e.log.Warn().Err(err).Msg("notification failed")
		}
	}()
}

// Wait blocks until pending notifications are sent or given up.
func (e *Engine) Wait() {
	e.notifying.Wait()
}

// Run evaluates once immediately and then every interval until ctx is done.
// Cycle errors are logged and the loop continues.
func (e *Engine) Run(ctx context.Context, interval time.Duration) error {
	e.log.Info().Dur("interval", interval).Msg("trading loop started")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := e.EvaluateAndAct(ctx); err != nil {
			e.log.Error().Err(err).Msg("cycle failed")
		}
		select {
		case <-ctx.Done():
			e.Wait()
			e.log.Info().Msg("trading loop stopped")
			return nil
		case <-ticker.C:
		}
	}
}

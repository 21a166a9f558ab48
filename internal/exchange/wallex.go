package exchange

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	wallex "github.com/wallexchange/wallex-go"

	"github.com/amirphl/signal-trader/internal/candle"
	"github.com/amirphl/signal-trader/internal/order"
	"github.com/amirphl/signal-trader/internal/position"
	"github.com/amirphl/signal-trader/internal/tfutils"
)

const (
	retryAttempts = 3
	retryDelay    = 2 * time.Second
)

// WallexExchange trades the Wallex spot market. A spot account cannot be
// short, so Position reports the base asset holding as a long quantity.
type WallexExchange struct {
	client *wallex.Client
	quote  string
	stream *TradeStream
	log    zerolog.Logger
}

// NewWallexExchange creates a Wallex adapter. stream may be nil, in which
// case market prices always come from the REST trades endpoint.
func NewWallexExchange(apiKey, quoteAsset string, stream *TradeStream, logger zerolog.Logger) *WallexExchange {
	return &WallexExchange{
		client: wallex.New(wallex.ClientOptions{APIKey: apiKey}),
		quote:  strings.ToUpper(quoteAsset),
		stream: stream,
		log:    logger.With().Str("component", "exchange").Str("exchange", "wallex").Logger(),
	}
}

func (w *WallexExchange) Name() string {
	return "wallex"
}

// FetchCandles fetches the most recent limit candles for a symbol and interval
func (w *WallexExchange) FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]candle.Candle, error) {
	resolution, err := tfutils.WallexResolution(interval)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, fmt.Errorf("candle limit %d must be positive", limit)
	}

	end := time.Now().UTC()
	// one extra bar covers the one still forming
	start := end.Add(-tfutils.GetTimeframeDuration(interval) * time.Duration(limit+1))

	var wallexCandles []*wallex.Candle
	err = retry(ctx, w.log, retryAttempts, retryDelay, func() error {
		var err error
		wallexCandles, err = w.client.Candles(NormalizeSymbol(symbol), resolution, start, end)
		if err != nil {
			return fmt.Errorf("fetching candles: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	candles := convertCandles(wallexCandles, symbol, interval, w.Name())
	if len(candles) < len(wallexCandles) {
		w.log.Warn().Int("dropped", len(wallexCandles)-len(candles)).Str("symbol", symbol).Msg("skipped invalid candles")
	}
	if len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	return candles, nil
}

// convertCandles maps wallex candles onto the local type, skipping invalid bars.
func convertCandles(wallexCandles []*wallex.Candle, symbol, interval, source string) []candle.Candle {
	candles := make([]candle.Candle, 0, len(wallexCandles))
	for _, wc := range wallexCandles {
		if wc == nil {
			continue
		}
		c := candle.Candle{
			Timestamp: wc.Timestamp.UTC().UnixMilli(),
			Open:      parseNumber(wc.Open),
			High:      parseNumber(wc.High),
			Low:       parseNumber(wc.Low),
			Close:     parseNumber(wc.Close),
			Volume:    parseNumber(wc.Volume),
			Symbol:    symbol,
			Interval:  interval,
			Source:    source,
		}
		if err := c.Validate(); err != nil {
			continue
		}
		candles = append(candles, c)
	}
	return candles
}

// Balance returns the available amount of asset.
func (w *WallexExchange) Balance(ctx context.Context, asset string) (float64, error) {
	balances, err := w.balances(ctx)
	if err != nil {
		return 0, err
	}
	b, ok := balances[strings.ToUpper(asset)]
	if !ok || b == nil {
		return 0, nil
	}
	return parseNumber(b.Value), nil
}

func (w *WallexExchange) balances(ctx context.Context) (map[string]*wallex.Balance, error) {
	var balances map[string]*wallex.Balance
	err := retry(ctx, w.log, retryAttempts, retryDelay, func() error {
		var err error
		balances, err = w.client.Balances()
		if err != nil {
			return fmt.Errorf("fetching balances: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return balances, nil
}

// MarketPrice prefers a fresh trade from a connected stream and falls back to the latest REST trade.
func (w *WallexExchange) MarketPrice(ctx context.Context, symbol string) (float64, error) {
	if w.stream != nil && w.stream.Symbol() == NormalizeSymbol(symbol) && w.stream.IsConnected() {
		if price, ok := w.stream.LastPrice(); ok {
			return price, nil
		}
	}

	var trades []*wallex.MarketTrade
	err := retry(ctx, w.log, retryAttempts, retryDelay, func() error {
		var err error
		trades, err = w.client.MarketTrades(NormalizeSymbol(symbol))
		if err != nil {
			return fmt.Errorf("fetching latest trade: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(trades) == 0 || trades[0] == nil {
		return 0, fmt.Errorf("%w: no trades found for symbol %s", ErrUnavailable, symbol)
	}
	price := parseNumber(trades[0].Price)
	if !(price > 0) {
		return 0, fmt.Errorf("%w: bad trade price for %s", ErrUnavailable, symbol)
	}
	return price, nil
}

// Position reports the base asset holding (available plus locked) as a long position.
func (w *WallexExchange) Position(ctx context.Context, symbol string) (*position.Position, error) {
	balances, err := w.balances(ctx)
	if err != nil {
		return nil, err
	}
	b, ok := balances[BaseAsset(symbol, w.quote)]
	if !ok || b == nil {
		return nil, nil
	}
	qty := parseNumber(b.Value) + parseNumber(b.Locked)
	if qty <= 0 {
		return nil, nil
	}
	return &position.Position{Symbol: symbol, Quantity: qty, Leverage: 1}, nil
}

// PlaceOrder submits MARKET and LIMIT orders. Trigger orders are not offered
// on the spot API and are rejected. Reduce-only quantities are clamped to the holding.
func (w *WallexExchange) PlaceOrder(ctx context.Context, intent order.Intent) (*order.Confirmation, error) {
	if err := intent.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOrderRejected, err)
	}
	if intent.Kind.IsTrigger() {
		return nil, fmt.Errorf("%w: %s orders are not supported on wallex spot", ErrOrderRejected, intent.Kind)
	}
	if intent.ReduceOnly {
		pos, err := w.Position(ctx, intent.Symbol)
		if err != nil {
			return nil, err
		}
		if pos.Amount() <= 0 || intent.Side != order.Sell {
			return nil, fmt.Errorf("%w: %w", ErrOrderRejected, ErrNoPosition)
		}
		intent.Quantity = math.Min(intent.Quantity, pos.Amount())
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	params := &wallex.OrderParams{
		Symbol:   NormalizeSymbol(intent.Symbol),
		Type:     string(intent.Kind),
		Side:     string(intent.Side),
		Quantity: wallex.Number(strconv.FormatFloat(intent.Quantity, 'f', -1, 64)),
	}
	if intent.Kind == order.Limit {
		params.Price = wallex.Number(strconv.FormatFloat(intent.Price, 'f', -1, 64))
	}

	resp, err := w.client.PlaceOrder(params)
	if err != nil {
		w.log.Error().Err(err).Str("intent", intent.String()).Msg("order submission failed")
		return nil, fmt.Errorf("%w: %v", ErrOrderRejected, err)
	}

	conf := &order.Confirmation{
		OrderID:   resp.ClientOrderID,
		Status:    strings.ToUpper(resp.Status),
		FilledQty: float64Ptr(resp.ExecutedQty),
		AvgPrice:  float64Ptr(resp.ExecutedPrice),
		Timestamp: resp.CreatedAt.UTC(),
		Intent:    intent,
	}
	w.log.Info().Str("intent", intent.String()).Str("order_id", conf.OrderID).Str("status", conf.Status).Msg("order placed")
	return conf, nil
}

// SetLeverage is a no-op on the spot market.
func (w *WallexExchange) SetLeverage(_ context.Context, symbol string, leverage int) error {
	if leverage != 1 {
		w.log.Warn().Str("symbol", symbol).Int("leverage", leverage).Msg("wallex spot has no leverage, trading unleveraged")
	}
	return nil
}

func parseNumber(n wallex.Number) float64 {
	out, err := strconv.ParseFloat(string(n), 64)
	if err != nil {
		return 0
	}
	return out
}

// Helper to safely dereference *wallex.Number
func float64Ptr(n *wallex.Number) float64 {
	if n == nil {
		return 0
	}
	return parseNumber(*n)
}

// Package risk sizes orders and derives protective bracket levels.
package risk

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/amirphl/signal-trader/internal/config"
	"github.com/amirphl/signal-trader/internal/order"
	"github.com/amirphl/signal-trader/internal/position"
)

// DefaultPrecision is the number of quantity decimals used when a symbol has no override.
const DefaultPrecision int32 = 3

var one = decimal.NewFromInt(1)

// PositionSize returns balance*fraction/price rounded down to precision
// decimals. It returns 0 when balance or price is zero, negative or not finite.
func PositionSize(balance, price, fraction float64, precision int32) float64 {
	if !usable(balance) || !usable(price) || !usable(fraction) {
		return 0
	}
	qty := decimal.NewFromFloat(balance).
		Mul(decimal.NewFromFloat(fraction)).
		Div(decimal.NewFromFloat(price)).
		Truncate(precision)
	return qty.InexactFloat64()
}

// StopLossLevel returns the stop price for a position opened with side.
// Long positions stop below entry, short positions above.
func StopLossLevel(entry float64, side order.Side, fraction float64) float64 {
	if side == order.Buy {
		return scale(entry, one.Sub(decimal.NewFromFloat(fraction)))
	}
	return scale(entry, one.Add(decimal.NewFromFloat(fraction)))
}

// TakeProfitLevel returns the profit target for a position opened with side.
func TakeProfitLevel(entry float64, side order.Side, fraction float64) float64 {
	if side == order.Buy {
		return scale(entry, one.Add(decimal.NewFromFloat(fraction)))
	}
	return scale(entry, one.Sub(decimal.NewFromFloat(fraction)))
}

func scale(price float64, factor decimal.Decimal) float64 {
	return decimal.NewFromFloat(price).Mul(factor).InexactFloat64()
}

func usable(v float64) bool {
	return v > 0 && !math.IsInf(v, 0)
}

type Params struct {
	MaxPositionFraction float64
	StopLossFraction    float64
	TakeProfitFraction  float64
	QuoteAsset          string
	DefaultPrecision    int32
	Precision           map[string]int32
}

// ParamsFromConfig extracts the risk parameters from cfg.
func ParamsFromConfig(cfg config.Config) Params {
	return Params{
		MaxPositionFraction: cfg.MaxPositionFraction,
		StopLossFraction:    cfg.StopLossFraction,
		TakeProfitFraction:  cfg.TakeProfitFraction,
		QuoteAsset:          cfg.QuoteAsset,
		DefaultPrecision:    cfg.DefaultQuantityPrecision,
		Precision:           cfg.QuantityPrecision,
	}
}

func (p Params) validate() error {
	for name, f := range map[string]float64{
		"max position fraction": p.MaxPositionFraction,
		"stop loss fraction":    p.StopLossFraction,
		"take profit fraction":  p.TakeProfitFraction,
	} {
		if !(f > 0 && f <= 1) {
			return fmt.Errorf("%w: %s %v must be in (0, 1]", config.ErrInvalidConfig, name, f)
		}
	}
	if p.QuoteAsset == "" {
		return fmt.Errorf("%w: quote asset is required", config.ErrInvalidConfig)
	}
	if p.DefaultPrecision < 0 {
		return fmt.Errorf("%w: negative quantity precision", config.ErrInvalidConfig)
	}
	return nil
}

// PrecisionFor returns the quantity precision for symbol.
func (p Params) PrecisionFor(symbol string) int32 {
	if v, ok := p.Precision[symbol]; ok {
		return v
	}
	return p.DefaultPrecision
}

// Broker is the part of the exchange the risk manager talks to.
type Broker interface {
	Balance(ctx context.Context, asset string) (float64, error)
	MarketPrice(ctx context.Context, symbol string) (float64, error)
	Position(ctx context.Context, symbol string) (*position.Position, error)
	PlaceOrder(ctx context.Context, intent order.Intent) (*order.Confirmation, error)
}

// Sizing is the outcome of one sizing request. Quantity 0 means do nothing.
type Sizing struct {
	Quantity float64
	Price    float64
	Balance  float64
}

// Manager applies Params against live balances and positions.
// Each symbol should get its own Manager.
type Manager struct {
	params Params
	broker Broker
	log    zerolog.Logger
}

func New(params Params, broker Broker, logger zerolog.Logger) (*Manager, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	return &Manager{
		params: params,
		broker: broker,
		log:    logger.With().Str("component", "risk").Logger(),
	}, nil
}

func (m *Manager) Params() Params { return m.params }

// Size computes the order quantity for symbol from the quote balance and the
// market price. Unavailable data yields a zero quantity, never an error.
func (m *Manager) Size(ctx context.Context, symbol string) Sizing {
	balance, err := m.broker.Balance(ctx, m.params.QuoteAsset)
	if err != nil {
		m.log.Error().Err(err).Str("asset", m.params.QuoteAsset).Msg("balance unavailable")
		return Sizing{}
	}
	price, err := m.broker.MarketPrice(ctx, symbol)
	if err != nil {
		m.log.Error().Err(err).Str("symbol", symbol).Msg("market price unavailable")
		return Sizing{Balance: balance}
	}

	qty := PositionSize(balance, price, m.params.MaxPositionFraction, m.params.PrecisionFor(symbol))
	m.log.Debug().
		Str("symbol", symbol).
		Float64("balance", balance).
		Float64("price", price).
		Float64("quantity", qty).
		Msg("sized order")
	return Sizing{Quantity: qty, Price: price, Balance: balance}
}

// PlaceBrackets registers reduce-only stop-loss and take-profit orders for the
// current position on symbol. The position is fetched fresh; a flat position is
// a no-op. entry <= 0 falls back to the position's entry price, then to the market price.
func (m *Manager) PlaceBrackets(ctx context.Context, symbol string, entry float64) ([]*order.Confirmation, error) {
	pos, err := m.broker.Position(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("fetching position for brackets: %w", err)
	}
	qty := pos.Amount()
	if qty == 0 {
		m.log.Info().Str("symbol", symbol).Msg("no open position, skipping brackets")
		return nil, nil
	}

	if !usable(entry) {
		entry = pos.EntryPrice
	}
	if !usable(entry) {
		if entry, err = m.broker.MarketPrice(ctx, symbol); err != nil || !usable(entry) {
			return nil, fmt.Errorf("no entry price for brackets on %s: %w", symbol, errors.Join(err, errors.New("entry price unavailable")))
		}
	}

	side := order.Buy
	if qty < 0 {
		side = order.Sell
	}
	intents := []order.Intent{
		{
			Symbol:       symbol,
			Side:         side.Opposite(),
			Quantity:     math.Abs(qty),
			Kind:         order.StopMarket,
			TriggerPrice: StopLossLevel(entry, side, m.params.StopLossFraction),
			ReduceOnly:   true,
		},
		{
			Symbol:       symbol,
			Side:         side.Opposite(),
			Quantity:     math.Abs(qty),
			Kind:         order.TakeProfitMarket,
			TriggerPrice: TakeProfitLevel(entry, side, m.params.TakeProfitFraction),
			ReduceOnly:   true,
		},
	}

	var (
		confirmations []*order.Confirmation
		errs          []error
	)
	for _, intent := range intents {
		conf, err := m.broker.PlaceOrder(ctx, intent)
		if err != nil {
			m.log.Error().Err(err).Str("intent", intent.String()).Msg("bracket order failed")
			errs = append(errs, fmt.Errorf("%s: %w", intent.Kind, err))
			continue
		}
		m.log.Info().Str("intent", intent.String()).Str("order_id", conf.OrderID).Msg("bracket placed")
		confirmations = append(confirmations, conf)
	}
	return confirmations, errors.Join(errs...)
}

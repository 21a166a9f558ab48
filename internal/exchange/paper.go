package exchange

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/amirphl/signal-trader/internal/candle"
	"github.com/amirphl/signal-trader/internal/order"
	"github.com/amirphl/signal-trader/internal/position"
)

// MarketData is the read-only part of an exchange that PaperExchange proxies to.
type MarketData interface {
	FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]candle.Candle, error)
	MarketPrice(ctx context.Context, symbol string) (float64, error)
}

// Fill is one simulated execution.
type Fill struct {
	OrderID     string     `json:"order_id"`
	Symbol      string     `json:"symbol"`
	Side        order.Side `json:"side"`
	Kind        order.Kind `json:"kind"`
	Quantity    float64    `json:"quantity"`
	Price       float64    `json:"price"`
	Fee         float64    `json:"fee"`
	RealizedPnL float64    `json:"realized_pnl"`
	ReduceOnly  bool       `json:"reduce_only"`
	Time        time.Time  `json:"time"`
}

type paperPosition struct {
	qty       float64
	entry     float64
	lastPrice float64
}

type restingOrder struct {
	id     string
	intent order.Intent
	placed time.Time
}

type PaperConfig struct {
	QuoteAsset      string
	InitialBalance  float64
	CommissionRatio float64
}

// PaperExchange proxies market data to a real source and simulates order
// fills locally against a signed position and a quote balance. Trigger and
// non-marketable limit orders rest until OnPrice crosses them.
type PaperExchange struct {
	market MarketData
	cfg    PaperConfig
	log    zerolog.Logger
	now    func() time.Time

	mu        sync.Mutex
	balance   float64
	positions map[string]*paperPosition
	resting   []restingOrder
	fills     []Fill
	leverage  map[string]int
}

func NewPaperExchange(market MarketData, cfg PaperConfig, logger zerolog.Logger) *PaperExchange {
	cfg.QuoteAsset = strings.ToUpper(cfg.QuoteAsset)
	return &PaperExchange{
		market:    market,
		cfg:       cfg,
		log:       logger.With().Str("component", "exchange").Str("exchange", "paper").Logger(),
		now:       func() time.Time { return time.Now().UTC() },
		balance:   cfg.InitialBalance,
		positions: make(map[string]*paperPosition),
		leverage:  make(map[string]int),
	}
}

// SetClock replaces the time source used to stamp fills.
func (p *PaperExchange) SetClock(now func() time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now = now
}

func (p *PaperExchange) Name() string {
	return "paper"
}

// ===== PROXY FUNCTIONS =====

func (p *PaperExchange) FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]candle.Candle, error) {
	return p.market.FetchCandles(ctx, symbol, interval, limit)
}

// MarketPrice proxies the price and lets resting orders react to it.
func (p *PaperExchange) MarketPrice(ctx context.Context, symbol string) (float64, error) {
	price, err := p.market.MarketPrice(ctx, symbol)
	if err != nil {
		return 0, err
	}
	p.OnPrice(symbol, price)
	return price, nil
}

// ===== SIMULATED FUNCTIONS =====

func (p *PaperExchange) Balance(_ context.Context, asset string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if strings.ToUpper(asset) != p.cfg.QuoteAsset {
		return 0, nil
	}
	return p.balance, nil
}

func (p *PaperExchange) Position(_ context.Context, symbol string) (*position.Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pos, ok := p.positions[NormalizeSymbol(symbol)]
	if !ok || pos.qty == 0 {
		return nil, nil
	}
	return &position.Position{
		Symbol:        symbol,
		Quantity:      pos.qty,
		EntryPrice:    pos.entry,
		UnrealizedPnL: (pos.lastPrice - pos.entry) * pos.qty,
		Leverage:      p.leverageFor(symbol),
	}, nil
}

func (p *PaperExchange) SetLeverage(_ context.Context, symbol string, leverage int) error {
	if leverage < 1 {
		return fmt.Errorf("leverage %d must be at least 1", leverage)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.leverage[NormalizeSymbol(symbol)] = leverage
	return nil
}

func (p *PaperExchange) leverageFor(symbol string) int {
	if l, ok := p.leverage[NormalizeSymbol(symbol)]; ok {
		return l
	}
	return 1
}

// PlaceOrder fills MARKET and marketable LIMIT orders at once and rests the rest.
func (p *PaperExchange) PlaceOrder(ctx context.Context, intent order.Intent) (*order.Confirmation, error) {
	if err := intent.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOrderRejected, err)
	}

	var price float64
	if !intent.Kind.IsTrigger() {
		var err error
		if price, err = p.market.MarketPrice(ctx, intent.Symbol); err != nil {
			return nil, fmt.Errorf("%w: no market price: %v", ErrOrderRejected, err)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	id := uuid.NewString()
	now := p.now()
	conf := &order.Confirmation{OrderID: id, Status: order.StatusNew, Timestamp: now, Intent: intent}

	if intent.ReduceOnly {
		if err := p.checkReduceOnly(intent); err != nil {
			return nil, err
		}
	}

	if intent.Kind.IsTrigger() || intent.Kind == order.Limit && !limitMarketable(intent, price) {
		p.resting = append(p.resting, restingOrder{id: id, intent: intent, placed: now})
		p.log.Info().Str("order_id", id).Str("intent", intent.String()).Msg("order resting")
		return conf, nil
	}

	fillPrice := price
	if intent.Kind == order.Limit {
		fillPrice = intent.Price
	}
	fill, ok := p.fill(id, intent, fillPrice, now)
	if !ok {
		return nil, fmt.Errorf("%w: %w", ErrOrderRejected, ErrNoPosition)
	}
	conf.Status = order.StatusFilled
	conf.FilledQty = fill.Quantity
	conf.AvgPrice = fill.Price
	return conf, nil
}

// OnPrice updates the mark price of symbol and executes any resting order the price crosses.
func (p *PaperExchange) OnPrice(symbol string, price float64) {
	if !(price > 0) {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	key := NormalizeSymbol(symbol)
	if pos, ok := p.positions[key]; ok {
		pos.lastPrice = price
	}

	remaining := p.resting[:0]
	var triggered []restingOrder
	for _, r := range p.resting {
		if NormalizeSymbol(r.intent.Symbol) == key && crosses(r.intent, price) {
			triggered = append(triggered, r)
			continue
		}
		remaining = append(remaining, r)
	}
	p.resting = remaining

	for _, r := range triggered {
		fillPrice := price
		if r.intent.Kind == order.Limit {
			fillPrice = r.intent.Price
		}
		if _, ok := p.fill(r.id, r.intent, fillPrice, p.now()); ok {
			p.log.Info().Str("order_id", r.id).Str("intent", r.intent.String()).Float64("price", price).Msg("resting order triggered")
		}
	}
}

// OpenOrders returns the resting orders for symbol.
func (p *PaperExchange) OpenOrders(symbol string) []order.Intent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []order.Intent
	for _, r := range p.resting {
		if NormalizeSymbol(r.intent.Symbol) == NormalizeSymbol(symbol) {
			out = append(out, r.intent)
		}
	}
	return out
}

// Fills returns a copy of every simulated execution so far.
func (p *PaperExchange) Fills() []Fill {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Fill, len(p.fills))
	copy(out, p.fills)
	return out
}

// Equity is the quote balance plus unrealized PnL at the last seen prices.
func (p *PaperExchange) Equity() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	equity := p.balance
	for _, pos := range p.positions {
		equity += (pos.lastPrice - pos.entry) * pos.qty
	}
	return equity
}

func (p *PaperExchange) checkReduceOnly(intent order.Intent) error {
	pos := p.positions[NormalizeSymbol(intent.Symbol)]
	if pos == nil || pos.qty == 0 {
		return fmt.Errorf("%w: %w", ErrOrderRejected, ErrNoPosition)
	}
	if (pos.qty > 0) == (intent.Side == order.Buy) {
		return fmt.Errorf("%w: reduce-only %s would increase the position", ErrOrderRejected, intent.Side)
	}
	return nil
}

// fill applies an execution. Reduce-only quantities are clamped to the open
// position; ok is false when nothing is left to reduce. Caller holds p.mu.
func (p *PaperExchange) fill(id string, intent order.Intent, price float64, at time.Time) (Fill, bool) {
	key := NormalizeSymbol(intent.Symbol)
	pos := p.positions[key]
	if pos == nil {
		pos = &paperPosition{}
		p.positions[key] = pos
	}

	qty := intent.Quantity
	if intent.ReduceOnly {
		if pos.qty == 0 || (pos.qty > 0) == (intent.Side == order.Buy) {
			return Fill{}, false
		}
		qty = math.Min(qty, math.Abs(pos.qty))
	}

	signed := qty
	if intent.Side == order.Sell {
		signed = -qty
	}

	var realized float64
	switch {
	case pos.qty == 0 || (pos.qty > 0) == (signed > 0):
		total := math.Abs(pos.qty) + qty
		pos.entry = (math.Abs(pos.qty)*pos.entry + qty*price) / total
		pos.qty += signed
	default:
		closing := math.Min(qty, math.Abs(pos.qty))
		direction := 1.0
		if pos.qty < 0 {
			direction = -1
		}
		realized = closing * (price - pos.entry) * direction
		pos.qty += signed
		switch {
		case math.Abs(pos.qty) < 1e-12:
			pos.qty = 0
			pos.entry = 0
		case qty > closing:
			// flipped through zero, the remainder opens at the fill price
			pos.entry = price
		}
	}
	pos.lastPrice = price

	fee := qty * price * p.cfg.CommissionRatio
	p.balance += realized - fee

	f := Fill{
		OrderID:     id,
		Symbol:      intent.Symbol,
		Side:        intent.Side,
		Kind:        intent.Kind,
		Quantity:    qty,
		Price:       price,
		Fee:         fee,
		RealizedPnL: realized,
		ReduceOnly:  intent.ReduceOnly,
		Time:        at,
	}
	p.fills = append(p.fills, f)

	if pos.qty == 0 {
		p.cancelReduceOnly(key)
	}

	p.log.Info().
		Str("order_id", id).
		Str("intent", intent.String()).
		Float64("price", price).
		Float64("realized_pnl", realized).
		Float64("position", pos.qty).
		Float64("balance", p.balance).
		Msg("order filled")
	return f, true
}

// cancelReduceOnly drops resting reduce-only orders once their position is closed.
func (p *PaperExchange) cancelReduceOnly(key string) {
	remaining := p.resting[:0]
	for _, r := range p.resting {
		if r.intent.ReduceOnly && NormalizeSymbol(r.intent.Symbol) == key {
			p.log.Info().Str("order_id", r.id).Str("intent", r.intent.String()).Msg("resting order canceled")
			continue
		}
		remaining = append(remaining, r)
	}
	p.resting = remaining
}

func limitMarketable(intent order.Intent, market float64) bool {
	if intent.Side == order.Buy {
		return market <= intent.Price
	}
	return market >= intent.Price
}

// crosses reports whether price executes the resting intent.
func crosses(intent order.Intent, price float64) bool {
	switch intent.Kind {
	case order.Limit:
		return limitMarketable(intent, price)
	case order.StopMarket:
		if intent.Side == order.Sell {
			return price <= intent.TriggerPrice
		}
		return price >= intent.TriggerPrice
	case order.TakeProfitMarket:
		if intent.Side == order.Sell {
			return price >= intent.TriggerPrice
		}
		return price <= intent.TriggerPrice
	}
	return false
}

// Package order
package order

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

var ErrInvalidIntent = errors.New("invalid order intent")

// Side is the direction of an order.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Opposite returns the side that closes a position opened with s.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

func (s Side) Valid() bool { return s == Buy || s == Sell }

// Kind is the order type understood by the exchange.
type Kind string

const (
	Market           Kind = "MARKET"
	Limit            Kind = "LIMIT"
	StopMarket       Kind = "STOP_MARKET"
	TakeProfitMarket Kind = "TAKE_PROFIT_MARKET"
)

// ParseKind parses an order kind, case-insensitively.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToUpper(strings.TrimSpace(s))); k {
	case Market, Limit, StopMarket, TakeProfitMarket:
		return k, nil
	default:
		return "", fmt.Errorf("unknown order kind %q", s)
	}
}

// IsTrigger reports whether the kind rests until a trigger price is crossed.
func (k Kind) IsTrigger() bool { return k == StopMarket || k == TakeProfitMarket }

// Intent is an order the engine wants placed. It carries no outcome.
type Intent struct {
	Symbol       string  `json:"symbol"`
	Side         Side    `json:"side"`
	Quantity     float64 `json:"quantity"`
	Kind         Kind    `json:"kind"`
	Price        float64 `json:"price,omitempty"`         // limit price
	TriggerPrice float64 `json:"trigger_price,omitempty"` // stop / take-profit trigger
	ReduceOnly   bool    `json:"reduce_only"`
}

// Validate checks the intent before it reaches an exchange.
func (i Intent) Validate() error {
	if i.Symbol == "" {
		return fmt.Errorf("%w: empty symbol", ErrInvalidIntent)
	}
	if !i.Side.Valid() {
		return fmt.Errorf("%w: side %q", ErrInvalidIntent, i.Side)
	}
	if !(i.Quantity > 0) || math.IsInf(i.Quantity, 0) {
		return fmt.Errorf("%w: quantity %v must be positive", ErrInvalidIntent, i.Quantity)
	}
	if _, err := ParseKind(string(i.Kind)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidIntent, err)
	}
	if i.Kind == Limit && !(i.Price > 0) {
		return fmt.Errorf("%w: limit order without price", ErrInvalidIntent)
	}
	if i.Kind.IsTrigger() && !(i.TriggerPrice > 0) {
		return fmt.Errorf("%w: %s without trigger price", ErrInvalidIntent, i.Kind)
	}
	return nil
}

func (i Intent) String() string {
	s := fmt.Sprintf("%s %s %v %s", i.Kind, i.Side, i.Quantity, i.Symbol)
	if i.Kind == Limit {
		s += fmt.Sprintf(" @%v", i.Price)
	}
	if i.Kind.IsTrigger() {
		s += fmt.Sprintf(" trigger=%v", i.TriggerPrice)
	}
	if i.ReduceOnly {
		s += " reduce-only"
	}
	return s
}

// Confirmation is the exchange's response to a placed order.
type Confirmation struct {
	OrderID   string    `json:"order_id"`
	Status    string    `json:"status"`
	FilledQty float64   `json:"filled_qty"`
	AvgPrice  float64   `json:"avg_price"`
	Timestamp time.Time `json:"timestamp"`
	Intent    Intent    `json:"intent"`
}

// Order statuses reported in confirmations.
const (
	StatusNew      = "NEW"
	StatusFilled   = "FILLED"
	StatusCanceled = "CANCELED"
	StatusTest     = "TEST"
)

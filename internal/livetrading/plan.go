package livetrading

import (
	"math"

	"github.com/amirphl/signal-trader/internal/order"
	"github.com/amirphl/signal-trader/internal/strategy"
)

// sideFor maps a BUY or SELL action to an order side.
func sideFor(action strategy.Action) (order.Side, bool) {
	switch action {
	case strategy.Buy:
		return order.Buy, true
	case strategy.Sell:
		return order.Sell, true
	}
	return "", false
}

// alreadyPositioned reports whether qty already points the way action wants.
// The engine never adds to an open position.
func alreadyPositioned(action strategy.Action, qty float64) bool {
	return action == strategy.Buy && qty > 0 || action == strategy.Sell && qty < 0
}

// CloseIntent returns the reduce-only intent that flattens an opposite position
// before acting on action. ok is false when there is nothing to close.
func CloseIntent(symbol string, action strategy.Action, qty float64, kind order.Kind, price float64) (order.Intent, bool) {
	side, ok := sideFor(action)
	if !ok || qty == 0 || alreadyPositioned(action, qty) {
		return order.Intent{}, false
	}
	return newIntent(symbol, side, math.Abs(qty), kind, price, true), true
}

// OpenIntent returns the intent that opens size in the direction of action.
func OpenIntent(symbol string, action strategy.Action, size float64, kind order.Kind, price float64) (order.Intent, bool) {
	side, ok := sideFor(action)
	if !ok || !(size > 0) {
		return order.Intent{}, false
	}
	return newIntent(symbol, side, size, kind, price, false), true
}

// Plan lists the intents one signal produces against a position of qty:
// a reduce-only close of any opposite exposure, then an open of size.
// A signal in the direction already held yields nothing.
func Plan(symbol string, action strategy.Action, qty, size float64, kind order.Kind, price float64) []order.Intent {
	if alreadyPositioned(action, qty) {
		return nil
	}
	var intents []order.Intent
	if intent, ok := CloseIntent(symbol, action, qty, kind, price); ok {
		intents = append(intents, intent)
	}
	if intent, ok := OpenIntent(symbol, action, size, kind, price); ok {
		intents = append(intents, intent)
	}
	return intents
}

func newIntent(symbol string, side order.Side, qty float64, kind order.Kind, price float64, reduceOnly bool) order.Intent {
	intent := order.Intent{
		Symbol:     symbol,
		Side:       side,
		Quantity:   qty,
		Kind:       kind,
		ReduceOnly: reduceOnly,
	}
	if kind == order.Limit {
		intent.Price = price
	}
	return intent
}

package strategy

import (
	"fmt"

	"github.com/amirphl/signal-trader/internal/candle"
)

// Action is the discrete decision of one evaluation cycle.
type Action string

const (
	Buy  Action = "BUY"
	Sell Action = "SELL"
	None Action = "NONE"
)

// Reasons attached to NONE signals.
const (
	ReasonInsufficientData = "insufficient data"
	ReasonNoCross          = "no cross"
	ReasonInvalidCandles   = "invalid candles"
)

type Signal struct {
	Action       Action  `json:"action"`
	Reason       string  `json:"reason"`        // indicator crossing or why nothing happened
	Time         int64   `json:"time"`          // timestamp of the evaluated candle, unix ms
	TriggerPrice float64 `json:"trigger_price"` // close of the evaluated candle
	StrategyName string  `json:"strategy_name"`
}

func (s Signal) String() string {
	return fmt.Sprintf("%s %s (%s)", s.StrategyName, s.Action, s.Reason)
}

// none builds a NONE signal stamped with the last candle, if any.
func none(name, reason string, candles []candle.Candle) Signal {
	sig := Signal{Action: None, Reason: reason, StrategyName: name}
	if last := candle.Last(candles); last != nil {
		sig.Time = last.Timestamp
		sig.TriggerPrice = last.Close
	}
	return sig
}

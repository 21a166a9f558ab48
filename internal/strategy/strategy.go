package strategy

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/amirphl/signal-trader/internal/candle"
	"github.com/amirphl/signal-trader/internal/config"
)

var ErrInsufficientData = errors.New("insufficient data")

// Strategy turns a candle series into a Signal. Implementations keep no
// state between calls: the same series always yields the same Signal.
type Strategy interface {
	Name() string
	Symbol() string
	Interval() string
	RequiredCandles() int // fewest candles that can yield a non-insufficient result
	FetchLimit() int      // how many candles to request per cycle
	Evaluate(candles []candle.Candle) Signal
}

// New builds the strategy selected by cfg.Strategy.
func New(cfg config.Config, logger zerolog.Logger) (Strategy, error) {
	var (
		strat Strategy
		err   error
	)
	switch strings.ToLower(cfg.Strategy) {
	case "ma":
		strat, err = NewMovingAverageCrossover(cfg.Symbol, cfg.Interval, cfg.ShortWindow, cfg.LongWindow, logger)
	case "rsi":
		strat, err = NewRSIThreshold(cfg.Symbol, cfg.Interval, cfg.RSIPeriod, cfg.RSIOverbought, cfg.RSIOversold, logger)
	default:
		return nil, fmt.Errorf("%w: unknown strategy %q", config.ErrInvalidConfig, cfg.Strategy)
	}
	if err != nil {
		return nil, err
	}
	if cfg.CandlePadding > 0 {
		strat = withPadding(strat, cfg.CandlePadding)
	}
	return strat, nil
}

type padded struct {
	Strategy
	padding int
}

func (p padded) FetchLimit() int { return p.RequiredCandles() + p.padding }

// withPadding overrides the fetch limit with RequiredCandles()+padding.
func withPadding(s Strategy, padding int) Strategy {
	return padded{Strategy: s, padding: padding}
}

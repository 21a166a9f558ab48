package strategy

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/amirphl/signal-trader/internal/candle"
	"github.com/amirphl/signal-trader/internal/config"
	"github.com/amirphl/signal-trader/internal/indicator"
)

// MovingAverageCrossover signals on the edge where the short SMA crosses the long SMA.
type MovingAverageCrossover struct {
	symbol      string
	interval    string
	ShortWindow int
	LongWindow  int
	log         zerolog.Logger
}

// NewMovingAverageCrossover creates a crossover strategy. The long window must exceed the short one.
func NewMovingAverageCrossover(symbol, interval string, shortWindow, longWindow int, logger zerolog.Logger) (*MovingAverageCrossover, error) {
	if shortWindow <= 0 || longWindow <= 0 {
		return nil, fmt.Errorf("%w: windows must be positive (short=%d long=%d)", config.ErrInvalidConfig, shortWindow, longWindow)
	}
	if longWindow <= shortWindow {
		return nil, fmt.Errorf("%w: long window %d must exceed short window %d", config.ErrInvalidConfig, longWindow, shortWindow)
	}
	return &MovingAverageCrossover{
		symbol:      symbol,
		interval:    interval,
		ShortWindow: shortWindow,
		LongWindow:  longWindow,
		log: logger.With().
			Str("component", "strategy").
			Str("strategy", "ma_crossover").
			Str("symbol", symbol).
			Logger(),
	}, nil
}

func (s *MovingAverageCrossover) Name() string { return "MA Crossover" }

func (s *MovingAverageCrossover) Symbol() string { return s.symbol }

func (s *MovingAverageCrossover) Interval() string { return s.interval }

func (s *MovingAverageCrossover) RequiredCandles() int { return s.LongWindow + 1 }

func (s *MovingAverageCrossover) FetchLimit() int { return s.LongWindow + 10 }

// Evaluate compares the two most recent rows where both averages are defined.
func (s *MovingAverageCrossover) Evaluate(candles []candle.Candle) Signal {
	if len(candles) < s.RequiredCandles() {
		s.log.Warn().Int("candles", len(candles)).Int("required", s.RequiredCandles()).Msg(ReasonInsufficientData)
		return none(s.Name(), ReasonInsufficientData, candles)
	}
	if err := candle.ValidateSeries(candles); err != nil {
		s.log.Warn().Err(err).Msg(ReasonInvalidCandles)
		return none(s.Name(), ReasonInvalidCandles, candles)
	}

	closes := candle.Closes(candles)
	short, err := indicator.CalculateSMA(closes, s.ShortWindow)
	if err != nil {
		s.log.Error().Err(err).Msg("short moving average")
		return none(s.Name(), ReasonInsufficientData, candles)
	}
	long, err := indicator.CalculateSMA(closes, s.LongWindow)
	if err != nil {
		s.log.Error().Err(err).Msg("long moving average")
		return none(s.Name(), ReasonInsufficientData, candles)
	}

	rows := indicator.CompleteRows(short, long)
	if len(rows) < 2 {
		s.log.Warn().Int("valid_rows", len(rows)).Msg(ReasonInsufficientData)
		return none(s.Name(), ReasonInsufficientData, candles)
	}
	prev, cur := rows[len(rows)-2], rows[len(rows)-1]

	sig := none(s.Name(), ReasonNoCross, candles)
	switch {
	case short[prev] <= long[prev] && short[cur] > long[cur]:
		sig.Action = Buy
		sig.Reason = "short MA crossed above long MA"
	case short[prev] >= long[prev] && short[cur] < long[cur]:
		sig.Action = Sell
		sig.Reason = "short MA crossed below long MA"
	}

	s.log.Debug().
		Float64("short", short[cur]).
		Float64("long", long[cur]).
		Str("action", string(sig.Action)).
		Msg("evaluated")
	return sig
}

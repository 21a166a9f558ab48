package strategy

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/amirphl/signal-trader/internal/candle"
	"github.com/amirphl/signal-trader/internal/config"
	"github.com/amirphl/signal-trader/internal/indicator"
)

// RSIThreshold signals when RSI recovers through the oversold level (BUY)
// or falls back through the overbought level (SELL).
type RSIThreshold struct {
	symbol     string
	interval   string
	Period     int
	Overbought float64
	Oversold   float64
	log        zerolog.Logger
}

// NewRSIThreshold creates an RSI threshold strategy. Thresholds must satisfy 0 < oversold < overbought < 100.
func NewRSIThreshold(symbol, interval string, period int, overbought, oversold float64, logger zerolog.Logger) (*RSIThreshold, error) {
	if period <= 0 {
		return nil, fmt.Errorf("%w: rsi period %d must be positive", config.ErrInvalidConfig, period)
	}
	if !(oversold > 0 && oversold < overbought && overbought < 100) {
		return nil, fmt.Errorf("%w: rsi thresholds oversold=%v overbought=%v", config.ErrInvalidConfig, oversold, overbought)
	}
	return &RSIThreshold{
		symbol:     symbol,
		interval:   interval,
		Period:     period,
		Overbought: overbought,
		Oversold:   oversold,
		log: logger.With().
			Str("component", "strategy").
			Str("strategy", "rsi_threshold").
			Str("symbol", symbol).
			Logger(),
	}, nil
}

func (s *RSIThreshold) Name() string { return "RSI" }

func (s *RSIThreshold) Symbol() string { return s.symbol }

func (s *RSIThreshold) Interval() string { return s.interval }

func (s *RSIThreshold) RequiredCandles() int { return s.Period + 2 }

func (s *RSIThreshold) FetchLimit() int { return s.Period + 10 }

// Evaluate compares the two most recent defined RSI values against the thresholds.
func (s *RSIThreshold) Evaluate(candles []candle.Candle) Signal {
	if len(candles) < s.RequiredCandles() {
		s.log.Warn().Int("candles", len(candles)).Int("required", s.RequiredCandles()).Msg(ReasonInsufficientData)
		return none(s.Name(), ReasonInsufficientData, candles)
	}
	if err := candle.ValidateSeries(candles); err != nil {
		s.log.Warn().Err(err).Msg(ReasonInvalidCandles)
		return none(s.Name(), ReasonInvalidCandles, candles)
	}

	rsi, err := indicator.CalculateRSI(candle.Closes(candles), s.Period)
	if err != nil {
		s.log.Error().Err(err).Msg("rsi")
		return none(s.Name(), ReasonInsufficientData, candles)
	}

	rows := indicator.CompleteRows(rsi)
	if len(rows) < 2 {
		s.log.Warn().Int("valid_rows", len(rows)).Msg(ReasonInsufficientData)
		return none(s.Name(), ReasonInsufficientData, candles)
	}
	prev, cur := rsi[rows[len(rows)-2]], rsi[rows[len(rows)-1]]

	sig := none(s.Name(), ReasonNoCross, candles)
	switch {
	case prev < s.Oversold && cur >= s.Oversold:
		sig.Action = Buy
		sig.Reason = fmt.Sprintf("RSI recovered above %v", s.Oversold)
	case prev > s.Overbought && cur <= s.Overbought:
		sig.Action = Sell
		sig.Reason = fmt.Sprintf("RSI fell below %v", s.Overbought)
	}

	s.log.Debug().
		Float64("prev_rsi", prev).
		Float64("rsi", cur).
		Str("action", string(sig.Action)).
		Msg("evaluated")
	return sig
}

// Package candle
package candle

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Candle is one OHLCV bar. Timestamp is the bar open time in unix milliseconds.
type Candle struct {
	Timestamp int64   `json:"timestamp"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	Symbol    string  `json:"symbol"`
	Interval  string  `json:"interval"`
	Source    string  `json:"source"`
}

// Time returns the candle open time in UTC.
func (c Candle) Time() time.Time {
	return time.UnixMilli(c.Timestamp).UTC()
}

// Validate checks if a candle has valid data
func (c Candle) Validate() error {
	if c.Timestamp <= 0 {
		return errors.New("candle timestamp is zero")
	}
	for _, v := range []float64{c.Open, c.High, c.Low, c.Close, c.Volume} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.New("candle values must be finite")
		}
	}
	if c.Open <= 0 || c.High <= 0 || c.Low <= 0 || c.Close <= 0 {
		return errors.New("candle prices must be positive")
	}
	if c.High < c.Low {
		return errors.New("candle high cannot be less than low")
	}
	if c.Open < c.Low || c.Open > c.High {
		return errors.New("candle open price must be between high and low")
	}
	if c.Close < c.Low || c.Close > c.High {
		return errors.New("candle close price must be between high and low")
	}
	if c.Volume < 0 {
		return errors.New("candle volume cannot be negative")
	}
	return nil
}

// ValidateSeries checks every candle and that timestamps are strictly increasing.
func ValidateSeries(candles []Candle) error {
	for i := range candles {
		if err := candles[i].Validate(); err != nil {
			return fmt.Errorf("candle %d: %w", i, err)
		}
		if i > 0 && candles[i].Timestamp <= candles[i-1].Timestamp {
			return fmt.Errorf("candle %d: timestamp %d not after %d", i, candles[i].Timestamp, candles[i-1].Timestamp)
		}
	}
	return nil
}

// Closes returns the closing prices, oldest first.
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// Highs returns the high prices, oldest first.
func Highs(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.High
	}
	return out
}

// Lows returns the low prices, oldest first.
func Lows(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Low
	}
	return out
}

// Last returns the most recent candle, or nil for an empty series.
func Last(candles []Candle) *Candle {
	if len(candles) == 0 {
		return nil
	}
	c := candles[len(candles)-1]
	return &c
}

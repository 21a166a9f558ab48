package strategy

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirphl/signal-trader/internal/candle"
	"github.com/amirphl/signal-trader/internal/config"
)

var testStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func candlesFromCloses(closes []float64) []candle.Candle {
	out := make([]candle.Candle, len(closes))
	for i, c := range closes {
		out[i] = candle.Candle{
			Timestamp: testStart.Add(time.Duration(i) * time.Minute).UnixMilli(),
			Open:      c,
			High:      c + 0.5,
			Low:       c - 0.5,
			Close:     c,
			Volume:    1,
			Symbol:    "BTCUSDT",
			Interval:  "1m",
		}
	}
	return out
}

// actionsByPrefix evaluates every prefix of closes with at least minLen points
// and returns the non-NONE actions keyed by prefix length.
func actionsByPrefix(s Strategy, closes []float64, minLen int) map[int]Action {
	candles := candlesFromCloses(closes)
	out := make(map[int]Action)
	for n := minLen; n <= len(candles); n++ {
		if sig := s.Evaluate(candles[:n]); sig.Action != None {
			out[n] = sig.Action
		}
	}
	return out
}

func TestNewMovingAverageCrossover_InvalidConfig(t *testing.T) {
	_, err := NewMovingAverageCrossover("BTCUSDT", "1m", 4, 4, zerolog.Nop())
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
	_, err = NewMovingAverageCrossover("BTCUSDT", "1m", 5, 3, zerolog.Nop())
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
	_, err = NewMovingAverageCrossover("BTCUSDT", "1m", 0, 3, zerolog.Nop())
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestMovingAverageCrossover_InsufficientData(t *testing.T) {
	s, err := NewMovingAverageCrossover("BTCUSDT", "1m", 2, 4, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 5, s.RequiredCandles())

	sig := s.Evaluate(candlesFromCloses([]float64{1, 2, 3, 4}))
	assert.Equal(t, None, sig.Action)
	assert.Equal(t, ReasonInsufficientData, sig.Reason)
	assert.Equal(t, 4.0, sig.TriggerPrice)

	sig = s.Evaluate(nil)
	assert.Equal(t, None, sig.Action)
	assert.Equal(t, ReasonInsufficientData, sig.Reason)
}

func TestMovingAverageCrossover_InvalidCandles(t *testing.T) {
	s, err := NewMovingAverageCrossover("BTCUSDT", "1m", 2, 4, zerolog.Nop())
	require.NoError(t, err)

	candles := candlesFromCloses([]float64{10, 9, 8, 7, 6, 5, 6, 7})
	candles[3].Timestamp = candles[2].Timestamp
	sig := s.Evaluate(candles)
	assert.Equal(t, None, sig.Action)
	assert.Equal(t, ReasonInvalidCandles, sig.Reason)
}

func TestMovingAverageCrossover_MonotonicSeries(t *testing.T) {
	s, err := NewMovingAverageCrossover("BTCUSDT", "1m", 2, 4, zerolog.Nop())
	require.NoError(t, err)

	closes := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	actions := actionsByPrefix(s, closes, 1)
	buys := 0
	for _, a := range actions {
		assert.NotEqual(t, Sell, a)
		if a == Buy {
			buys++
		}
	}
	assert.LessOrEqual(t, buys, 1)

	long := make([]float64, 200)
	for i := range long {
		long[i] = 100 + float64(i)*0.37
	}
	s2, err := NewMovingAverageCrossover("BTCUSDT", "1m", 9, 21, zerolog.Nop())
	require.NoError(t, err)
	for _, a := range actionsByPrefix(s2, long, 1) {
		assert.NotEqual(t, Sell, a)
	}
}

func TestMovingAverageCrossover_CrossesExactlyOnce(t *testing.T) {
	s, err := NewMovingAverageCrossover("BTCUSDT", "1m", 2, 4, zerolog.Nop())
	require.NoError(t, err)

	// down then up: short MA crosses above the long MA once
	up := actionsByPrefix(s, []float64{10, 9, 8, 7, 6, 5, 6, 7, 8, 9, 10, 11}, 1)
	assert.Equal(t, map[int]Action{8: Buy}, up)

	// up then down: a single downward cross
	down := actionsByPrefix(s, []float64{5, 6, 7, 8, 9, 10, 9, 8, 7, 6, 5, 4}, 1)
	assert.Equal(t, map[int]Action{8: Sell}, down)
}

func TestMovingAverageCrossover_Idempotent(t *testing.T) {
	s, err := NewMovingAverageCrossover("BTCUSDT", "1m", 2, 4, zerolog.Nop())
	require.NoError(t, err)

	candles := candlesFromCloses([]float64{10, 9, 8, 7, 6, 5, 6, 7})
	first := s.Evaluate(candles)
	second := s.Evaluate(candles)
	assert.Equal(t, first, second)
	assert.Equal(t, Buy, first.Action)
	assert.Equal(t, candles[7].Timestamp, first.Time)
	assert.Equal(t, 7.0, first.TriggerPrice)
	assert.Equal(t, "MA Crossover", first.StrategyName)
}

func TestNewRSIThreshold_InvalidConfig(t *testing.T) {
	_, err := NewRSIThreshold("BTCUSDT", "1m", 0, 70, 30, zerolog.Nop())
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
	_, err = NewRSIThreshold("BTCUSDT", "1m", 14, 30, 70, zerolog.Nop())
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
	_, err = NewRSIThreshold("BTCUSDT", "1m", 14, 100, 30, zerolog.Nop())
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestRSIThreshold_InsufficientData(t *testing.T) {
	s, err := NewRSIThreshold("BTCUSDT", "1m", 14, 70, 30, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 16, s.RequiredCandles())

	closes := make([]float64, 15)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	sig := s.Evaluate(candlesFromCloses(closes))
	assert.Equal(t, None, sig.Action)
	assert.Equal(t, ReasonInsufficientData, sig.Reason)

	// period+2 candles yield exactly two defined RSI points
	closes = append(closes, 115)
	sig = s.Evaluate(candlesFromCloses(closes))
	assert.Equal(t, ReasonNoCross, sig.Reason)
}

func TestRSIThreshold_UpThenDown(t *testing.T) {
	s, err := NewRSIThreshold("BTCUSDT", "1m", 14, 70, 30, zerolog.Nop())
	require.NoError(t, err)

	closes := make([]float64, 0, 29)
	for i := 0; i <= 14; i++ {
		closes = append(closes, 100+float64(i))
	}
	for i := 1; i <= 14; i++ {
		closes = append(closes, 114-float64(i))
	}

	// RSI saturates at 100 then declines but never dips under 30, so no BUY
	actions := actionsByPrefix(s, closes, 1)
	assert.Equal(t, map[int]Action{20: Sell}, actions)
}

func TestRSIThreshold_RecoveryCross(t *testing.T) {
	s, err := NewRSIThreshold("BTCUSDT", "1m", 14, 70, 30, zerolog.Nop())
	require.NoError(t, err)

	closes := make([]float64, 0, 34)
	for i := 0; i < 20; i++ {
		closes = append(closes, 100-2*float64(i))
	}
	for i := 1; i <= 14; i++ {
		closes = append(closes, 62+3*float64(i))
	}

	actions := actionsByPrefix(s, closes, 1)
	assert.Equal(t, map[int]Action{24: Buy}, actions)

	candles := candlesFromCloses(closes[:24])
	assert.Equal(t, s.Evaluate(candles), s.Evaluate(candles))
}

func TestNew(t *testing.T) {
	cfg := config.Default()

	s, err := New(cfg, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "MA Crossover", s.Name())
	assert.Equal(t, "BTCUSDT", s.Symbol())
	assert.Equal(t, "1m", s.Interval())
	assert.Equal(t, 22, s.RequiredCandles())
	assert.Equal(t, 32, s.FetchLimit())

	cfg.Strategy = "rsi"
	s, err = New(cfg, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "RSI", s.Name())
	assert.Equal(t, 26, s.FetchLimit())

	cfg.CandlePadding = 0
	s, err = New(cfg, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 24, s.FetchLimit())

	cfg.Strategy = "macd"
	_, err = New(cfg, zerolog.Nop())
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

package candle

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Helper function to create test candles spaced one interval apart
func createTestCandles(symbol, interval string, start time.Time, step time.Duration, closes []float64) []Candle {
	candles := make([]Candle, len(closes))
	for i, c := range closes {
		candles[i] = Candle{
			Timestamp: start.Add(time.Duration(i) * step).UnixMilli(),
			Open:      c,
			High:      c + 1,
			Low:       c - 1,
			Close:     c,
			Volume:    10,
			Symbol:    symbol,
			Interval:  interval,
			Source:    "test",
		}
	}
	return candles
}

func TestCandle_Validate(t *testing.T) {
	valid := Candle{Timestamp: 1700000000000, Open: 10, High: 12, Low: 9, Close: 11, Volume: 1}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(c *Candle)
	}{
		{"zero timestamp", func(c *Candle) { c.Timestamp = 0 }},
		{"nan close", func(c *Candle) { c.Close = math.NaN() }},
		{"inf high", func(c *Candle) { c.High = math.Inf(1) }},
		{"non positive low", func(c *Candle) { c.Low = 0 }},
		{"high below low", func(c *Candle) { c.High = 8 }},
		{"open above high", func(c *Candle) { c.Open = 13 }},
		{"close below low", func(c *Candle) { c.Close = 8.5 }},
		{"negative volume", func(c *Candle) { c.Volume = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestValidateSeries(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	candles := createTestCandles("BTCUSDT", "1m", start, time.Minute, []float64{10, 11, 12})
	assert.NoError(t, ValidateSeries(candles))
	assert.NoError(t, ValidateSeries(nil))

	candles[2].Timestamp = candles[1].Timestamp
	assert.Error(t, ValidateSeries(candles))
}

func TestSeriesAccessors(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	candles := createTestCandles("BTCUSDT", "1m", start, time.Minute, []float64{10, 11, 12})

	assert.Equal(t, []float64{10, 11, 12}, Closes(candles))
	assert.Equal(t, []float64{11, 12, 13}, Highs(candles))
	assert.Equal(t, []float64{9, 10, 11}, Lows(candles))
	assert.Equal(t, 12.0, Last(candles).Close)
	assert.Nil(t, Last(nil))
	assert.Equal(t, start, candles[0].Time())

	at := func(i int) Candle { return candles[i] }
	assert.True(t, start.Add(2*time.Minute).Equal(at(2).Time()))
	assert.NoError(t, at(1).Validate())
}

func TestAggregate(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("Empty candles", func(t *testing.T) {
		result, err := Aggregate(nil, "5m")
		assert.NoError(t, err)
		assert.Nil(t, result)
	})

	t.Run("1m to 5m", func(t *testing.T) {
		closes := []float64{10, 11, 12, 13, 14, 15, 16}
		result, err := Aggregate(createTestCandles("BTCUSDT", "1m", start, time.Minute, closes), "5m")
		require.NoError(t, err)
		require.Len(t, result, 2)

		assert.Equal(t, start.UnixMilli(), result[0].Timestamp)
		assert.Equal(t, 10.0, result[0].Open)
		assert.Equal(t, 15.0, result[0].High)
		assert.Equal(t, 9.0, result[0].Low)
		assert.Equal(t, 14.0, result[0].Close)
		assert.Equal(t, 50.0, result[0].Volume)
		assert.Equal(t, "5m", result[0].Interval)

		assert.Equal(t, start.Add(5*time.Minute).UnixMilli(), result[1].Timestamp)
		assert.Equal(t, 16.0, result[1].Close)
		assert.Equal(t, 20.0, result[1].Volume)
	})

	t.Run("Missing candle", func(t *testing.T) {
		candles := createTestCandles("BTCUSDT", "1m", start, time.Minute, []float64{10, 11, 12, 13})
		candles = append(candles[:1], candles[2:]...)
		_, err := Aggregate(candles, "5m")
		assert.Error(t, err)
	})

	t.Run("Mixed symbols", func(t *testing.T) {
		candles := createTestCandles("BTCUSDT", "1m", start, time.Minute, []float64{10, 11})
		candles[1].Symbol = "ETHUSDT"
		_, err := Aggregate(candles, "5m")
		assert.Error(t, err)
	})

	t.Run("Smaller target", func(t *testing.T) {
		candles := createTestCandles("BTCUSDT", "1h", start, time.Hour, []float64{10, 11})
		_, err := Aggregate(candles, "5m")
		assert.Error(t, err)
	})
}

type fakeSource struct {
	candles []Candle
	err     error
	calls   int
}

func (f *fakeSource) FetchCandles(_ context.Context, _, _ string, _ int) ([]Candle, error) {
	f.calls++
	return f.candles, f.err
}

type fakeStorage struct {
	saved   []Candle
	saveErr error
}

func (s *fakeStorage) SaveCandles(_ context.Context, candles []Candle) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved = append(s.saved, candles...)
	return nil
}

func (s *fakeStorage) GetCandles(_ context.Context, _, _ string, _, _ time.Time) ([]Candle, error) {
	out := make([]Candle, len(s.saved))
	copy(out, s.saved)
	// reversed on purpose, History must sort
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func TestFeed_Candles(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ctx := context.Background()

	t.Run("sorts, trims and archives", func(t *testing.T) {
		candles := createTestCandles("BTCUSDT", "1m", start, time.Minute, []float64{10, 11, 12, 13})
		shuffled := []Candle{candles[2], candles[0], candles[3], candles[1]}
		storage := &fakeStorage{}
		feed := NewFeed(&fakeSource{candles: shuffled}, storage, zerolog.Nop())

		got := feed.Candles(ctx, "BTCUSDT", "1m", 3)
		require.Len(t, got, 3)
		assert.Equal(t, []float64{11, 12, 13}, Closes(got))
		assert.Len(t, storage.saved, 3)
		// the source slice is left untouched
		assert.Equal(t, 12.0, shuffled[0].Close)

		hist, err := feed.History(ctx, "BTCUSDT", "1m", start, start.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, []float64{11, 12, 13}, Closes(hist))
	})

	t.Run("fetch failure yields empty series", func(t *testing.T) {
		feed := NewFeed(&fakeSource{err: errors.New("boom")}, nil, zerolog.Nop())
		assert.Empty(t, feed.Candles(ctx, "BTCUSDT", "1m", 10))
	})

	t.Run("archive failure is not fatal", func(t *testing.T) {
		candles := createTestCandles("BTCUSDT", "1m", start, time.Minute, []float64{10, 11})
		feed := NewFeed(&fakeSource{candles: candles}, &fakeStorage{saveErr: errors.New("db down")}, zerolog.Nop())
		assert.Len(t, feed.Candles(ctx, "BTCUSDT", "1m", 10), 2)
	})

	t.Run("history without storage", func(t *testing.T) {
		feed := NewFeed(&fakeSource{}, nil, zerolog.Nop())
		hist, err := feed.History(ctx, "BTCUSDT", "1m", start, start)
		assert.NoError(t, err)
		assert.Nil(t, hist)
	})
}

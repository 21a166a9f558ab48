package candle

import (
	"fmt"
	"sort"
	"time"

	"github.com/amirphl/signal-trader/internal/tfutils"
)

// Aggregate folds a gap-free series of one symbol and interval into bars of
// the given (larger) timeframe. Buckets are keyed by their open time; a
// trailing bucket may be partial.
func Aggregate(candles []Candle, timeframe string) ([]Candle, error) {
	if len(candles) == 0 {
		return nil, nil
	}

	dur, err := tfutils.ParseTimeframe(timeframe)
	if err != nil {
		return nil, fmt.Errorf("invalid timeframe %s: %w", timeframe, err)
	}

	sorted := make([]Candle, len(candles))
	copy(sorted, candles)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp < sorted[j].Timestamp })

	first := sorted[0]
	srcDur, err := tfutils.ParseTimeframe(first.Interval)
	if err != nil {
		return nil, fmt.Errorf("invalid timeframe %s: %w", first.Interval, err)
	}
	if srcDur > dur {
		return nil, fmt.Errorf("cannot aggregate %s candles into %s", first.Interval, timeframe)
	}
	firstOpen := first.Time().Truncate(srcDur)

	var result []Candle
	for i, c := range sorted {
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("invalid candle at index %d: %w", i, err)
		}
		if c.Symbol != first.Symbol {
			return nil, fmt.Errorf("candle at index %d has different symbol: %s, expected: %s", i, c.Symbol, first.Symbol)
		}
		if c.Interval != first.Interval {
			return nil, fmt.Errorf("candle at index %d has different interval: %s, expected: %s", i, c.Interval, first.Interval)
		}
		if want := firstOpen.Add(time.Duration(i) * srcDur); !c.Time().Truncate(srcDur).Equal(want) {
			return nil, fmt.Errorf("candle at index %d has timestamp %s, expected: %s", i, c.Time(), want)
		}

		bucket := c.Time().Truncate(dur).UnixMilli()
		if n := len(result); n > 0 && result[n-1].Timestamp == bucket {
			agg := &result[n-1]
			agg.High = max(agg.High, c.High)
			agg.Low = min(agg.Low, c.Low)
			agg.Close = c.Close
			agg.Volume += c.Volume
			continue
		}
		result = append(result, Candle{
			Timestamp: bucket,
			Open:      c.Open,
			High:      c.High,
			Low:       c.Low,
			Close:     c.Close,
			Volume:    c.Volume,
			Symbol:    c.Symbol,
			Interval:  timeframe,
			Source:    "constructed",
		})
	}
	return result, nil
}

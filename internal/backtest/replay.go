package backtest

import (
	"context"
	"fmt"

	"github.com/amirphl/signal-trader/internal/candle"
	"github.com/amirphl/signal-trader/internal/exchange"
)

// replay serves a historical series up to a cursor, so strategies and the
// paper exchange see the market as it was at that bar.
type replay struct {
	candles []candle.Candle
	cursor  int
}

func (r *replay) current() candle.Candle {
	return r.candles[r.cursor]
}

// Candles returns at most limit candles ending at the cursor.
func (r *replay) Candles(_ context.Context, _, _ string, limit int) []candle.Candle {
	end := r.cursor + 1
	start := 0
	if limit > 0 && end > limit {
		start = end - limit
	}
	out := make([]candle.Candle, end-start)
	copy(out, r.candles[start:end])
	return out
}

func (r *replay) FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]candle.Candle, error) {
	return r.Candles(ctx, symbol, interval, limit), nil
}

func (r *replay) MarketPrice(_ context.Context, symbol string) (float64, error) {
	if r.cursor < 0 || r.cursor >= len(r.candles) {
		return 0, fmt.Errorf("%w: no replay price for %s", exchange.ErrUnavailable, symbol)
	}
	return r.current().Close, nil
}

// path returns the prices a bar is assumed to have traded through:
// a rising bar visits its low before its high, a falling bar the reverse.
func path(c candle.Candle) []float64 {
	if c.Close >= c.Open {
		return []float64{c.Open, c.Low, c.High, c.Close}
	}
	return []float64{c.Open, c.High, c.Low, c.Close}
}

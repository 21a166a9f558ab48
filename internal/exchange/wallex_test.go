package exchange

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	wallex "github.com/wallexchange/wallex-go"

	"github.com/amirphl/signal-trader/internal/order"
)

func TestNormalizeSymbol(t *testing.T) {
	assert.Equal(t, "BTCUSDT", NormalizeSymbol("btc-usdt"))
	assert.Equal(t, "BTCUSDT", NormalizeSymbol("BTCUSDT"))
	assert.Equal(t, "BTC", BaseAsset("btc-usdt", "usdt"))
	assert.Equal(t, "USDT", BaseAsset("USDTTMN", "TMN"))
}

func TestConvertCandles(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	raw := []*wallex.Candle{
		{Timestamp: ts, Open: "100", High: "110", Low: "95", Close: "105", Volume: "12.5"},
		{Timestamp: ts.Add(time.Minute), Open: "105", High: "104", Low: "100", Close: "101", Volume: "1"}, // high < open
		nil,
		{Timestamp: ts.Add(2 * time.Minute), Open: "bad", High: "110", Low: "95", Close: "105", Volume: "1"},
		{Timestamp: ts.Add(3 * time.Minute), Open: "101", High: "102", Low: "100", Close: "102", Volume: "3"},
	}

	candles := convertCandles(raw, "BTCUSDT", "1m", "wallex")
	require.Len(t, candles, 2)
	assert.Equal(t, ts.UnixMilli(), candles[0].Timestamp)
	assert.Equal(t, 105.0, candles[0].Close)
	assert.Equal(t, 12.5, candles[0].Volume)
	assert.Equal(t, "1m", candles[0].Interval)
	assert.Equal(t, "wallex", candles[0].Source)
	assert.Equal(t, 102.0, candles[1].Close)
}

func TestFloat64Ptr(t *testing.T) {
	n := wallex.Number("0.25")
	assert.Equal(t, 0.25, float64Ptr(&n))
	assert.Zero(t, float64Ptr(nil))
}

func TestRetry(t *testing.T) {
	ctx := context.Background()

	calls := 0
	err := retry(ctx, zerolog.Nop(), 3, time.Millisecond, func() error {
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 2, calls)

	calls = 0
	boom := errors.New("boom")
	err = retry(ctx, zerolog.Nop(), 3, time.Millisecond, func() error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls)

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	err = retry(canceled, zerolog.Nop(), 3, time.Hour, func() error { return boom })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWallexExchange_RejectsWithoutNetwork(t *testing.T) {
	ctx := context.Background()
	w := NewWallexExchange("", "USDT", nil, zerolog.Nop())

	_, err := w.PlaceOrder(ctx, order.Intent{Symbol: "BTCUSDT", Side: order.Sell, Quantity: 1, Kind: order.StopMarket, TriggerPrice: 90, ReduceOnly: true})
	assert.ErrorIs(t, err, ErrOrderRejected)

	_, err = w.PlaceOrder(ctx, order.Intent{Symbol: "BTCUSDT", Side: order.Buy, Quantity: -1, Kind: order.Market})
	assert.ErrorIs(t, err, ErrOrderRejected)

	_, err = w.FetchCandles(ctx, "BTCUSDT", "2m", 10)
	assert.Error(t, err)

	assert.NoError(t, w.SetLeverage(ctx, "BTCUSDT", 2))
}

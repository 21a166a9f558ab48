// Package exchange
package exchange

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/amirphl/signal-trader/internal/candle"
	"github.com/amirphl/signal-trader/internal/order"
	"github.com/amirphl/signal-trader/internal/position"
)

var (
	ErrUnavailable   = errors.New("exchange: data unavailable")
	ErrOrderRejected = errors.New("exchange: order rejected")
	ErrNoPosition    = errors.New("exchange: no position to reduce")
)

// Exchange is the collaborator the trading engine drives.
type Exchange interface {
	Name() string
	FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]candle.Candle, error)
	Balance(ctx context.Context, asset string) (float64, error)
	MarketPrice(ctx context.Context, symbol string) (float64, error)
	// Position returns nil when the symbol is flat.
	Position(ctx context.Context, symbol string) (*position.Position, error)
	PlaceOrder(ctx context.Context, intent order.Intent) (*order.Confirmation, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) error
}

// NormalizeSymbol converts e.g. btc-usdt to BTCUSDT for Wallex API
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(symbol, "-", ""))
}

// BaseAsset strips the quote asset from a normalized symbol, e.g. BTCUSDT -> BTC.
func BaseAsset(symbol, quote string) string {
	s := NormalizeSymbol(symbol)
	return strings.TrimSuffix(s, strings.ToUpper(quote))
}

// retry wraps a function with retry logic for transient errors, using exponential backoff and error logging.
func retry(ctx context.Context, log zerolog.Logger, attempts int, delay time.Duration, fn func() error) error {
	backoff := delay
	var err error
	for i := 1; i <= attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i == attempts {
			break
		}
		log.Warn().Err(err).Int("attempt", i).Int("attempts", attempts).Dur("backoff", backoff).Msg("retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		// Exponential backoff, but cap at 5 minutes
		backoff = min(backoff*2, 5*time.Minute)
	}
	return fmt.Errorf("all %d attempts failed: %w", attempts, err)
}

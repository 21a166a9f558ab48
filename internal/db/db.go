// Package db archives candles in Postgres or in memory.
package db

import (
	"context"
	"time"

	"github.com/amirphl/signal-trader/internal/candle"
)

// Storage is the candle archive used by the feed and the backtester.
type Storage interface {
	candle.Storage
	GetLatestCandle(ctx context.Context, symbol, interval string) (*candle.Candle, error)
	GetCandleCount(ctx context.Context, symbol, interval string, start, end time.Time) (int, error)
	DeleteCandles(ctx context.Context, symbol, interval string, before time.Time) error
	InTransaction(ctx context.Context, fn func(ctx context.Context) error) error
	Close() error
}

var (
	_ Storage = (*Postgres)(nil)
	_ Storage = (*Memory)(nil)
)

package db

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/amirphl/signal-trader/internal/candle"
)

// Memory is an in-process Storage used when no database is configured and in tests.
type Memory struct {
	mu sync.RWMutex

	// Candles keyed by symbol|interval, then by timestamp
	candles map[string]map[int64]candle.Candle
}

func NewMemory() *Memory {
	return &Memory{candles: make(map[string]map[int64]candle.Candle)}
}

func seriesKey(symbol, interval string) string {
	return strings.ToUpper(symbol) + "|" + interval
}

func (m *Memory) SaveCandles(_ context.Context, candles []candle.Candle) error {
	for i := range candles {
		if err := candles[i].Validate(); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range candles {
		key := seriesKey(c.Symbol, c.Interval)
		if m.candles[key] == nil {
			m.candles[key] = make(map[int64]candle.Candle)
		}
		m.candles[key][c.Timestamp] = c
	}
	return nil
}

func (m *Memory) GetCandles(_ context.Context, symbol, interval string, start, end time.Time) ([]candle.Candle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	from, to := start.UnixMilli(), end.UnixMilli()
	var out []candle.Candle
	for ts, c := range m.candles[seriesKey(symbol, interval)] {
		if ts >= from && ts <= to {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}

func (m *Memory) GetLatestCandle(_ context.Context, symbol, interval string) (*candle.Candle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *candle.Candle
	for _, c := range m.candles[seriesKey(symbol, interval)] {
		if latest == nil || c.Timestamp > latest.Timestamp {
			c := c
			latest = &c
		}
	}
	return latest, nil
}

func (m *Memory) GetCandleCount(ctx context.Context, symbol, interval string, start, end time.Time) (int, error) {
	candles, err := m.GetCandles(ctx, symbol, interval, start, end)
	return len(candles), err
}

func (m *Memory) DeleteCandles(_ context.Context, symbol, interval string, before time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := before.UnixMilli()
	for ts := range m.candles[seriesKey(symbol, interval)] {
		if ts < cutoff {
			delete(m.candles[seriesKey(symbol, interval)], ts)
		}
	}
	return nil
}

// InTransaction runs fn directly; Memory applies each call atomically on its own.
func (m *Memory) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (m *Memory) Close() error { return nil }

package candle

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"
)

// Source fetches the most recent candles for a symbol and interval.
type Source interface {
	FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)
}

// Storage archives candles.
type Storage interface {
	SaveCandles(ctx context.Context, candles []Candle) error
	GetCandles(ctx context.Context, symbol, interval string, start, end time.Time) ([]Candle, error)
}

// Feed pulls candles from a Source and writes them through to Storage.
// A failed fetch yields an empty series; the caller treats it as insufficient data.
type Feed struct {
	source  Source
	storage Storage
	log     zerolog.Logger
}

// NewFeed creates a feed. storage may be nil.
func NewFeed(source Source, storage Storage, logger zerolog.Logger) *Feed {
	return &Feed{
		source:  source,
		storage: storage,
		log:     logger.With().Str("component", "feed").Logger(),
	}
}

// Candles returns up to limit candles, oldest first.
func (f *Feed) Candles(ctx context.Context, symbol, interval string, limit int) []Candle {
	candles, err := f.source.FetchCandles(ctx, symbol, interval, limit)
	if err != nil {
		f.log.Error().Err(err).Str("symbol", symbol).Str("interval", interval).Msg("fetching candles")
		return nil
	}
	if len(candles) == 0 {
		f.log.Warn().Str("symbol", symbol).Str("interval", interval).Msg("exchange returned no candles")
		return nil
	}

	out := make([]Candle, len(candles))
	copy(out, candles)
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	if len(out) > limit && limit > 0 {
		out = out[len(out)-limit:]
	}

	if f.storage != nil {
		if err := f.storage.SaveCandles(ctx, out); err != nil {
			f.log.Warn().Err(err).Str("symbol", symbol).Msg("archiving candles")
		}
	}
	return out
}

// History loads archived candles in [start, end], oldest first.
func (f *Feed) History(ctx context.Context, symbol, interval string, start, end time.Time) ([]Candle, error) {
	if f.storage == nil {
		return nil, nil
	}
	candles, err := f.storage.GetCandles(ctx, symbol, interval, start, end)
	if err != nil {
		return nil, err
	}
	sort.Slice(candles, func(i, j int) bool { return candles[i].Timestamp < candles[j].Timestamp })
	return candles, nil
}

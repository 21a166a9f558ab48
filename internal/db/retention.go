package db

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Prune deletes candles of symbol and interval opened more than keep before now
// and returns how many were removed. Count and delete share one transaction.
func Prune(ctx context.Context, s Storage, symbol, interval string, keep time.Duration, now time.Time) (int, error) {
	cutoff := now.Add(-keep)
	var removed int
	err := s.InTransaction(ctx, func(ctx context.Context) error {
		n, err := s.GetCandleCount(ctx, symbol, interval, time.UnixMilli(0), cutoff.Add(-time.Millisecond))
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		if err := s.DeleteCandles(ctx, symbol, interval, cutoff); err != nil {
			return err
		}
		removed = n
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("pruning %s %s candles before %s: %w", symbol, interval, cutoff.UTC(), err)
	}
	return removed, nil
}

// RunRetention prunes once immediately and then every interval until ctx is done.
func RunRetention(ctx context.Context, s Storage, symbol, interval string, keep, every time.Duration, logger zerolog.Logger) {
	log := logger.With().Str("component", "retention").Str("symbol", symbol).Str("interval", interval).Logger()
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		removed, err := Prune(ctx, s, symbol, interval, keep, time.Now())
		switch {
		case err != nil:
			log.Error().Err(err).Msg("candle retention failed")
		case removed > 0:
			log.Info().Int("removed", removed).Dur("keep", keep).Msg("pruned archived candles")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

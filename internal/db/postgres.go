package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/amirphl/signal-trader/internal/candle"
	"github.com/amirphl/signal-trader/internal/db/conf"
)

// Transaction context key
type txKey struct{}

// WithTransaction adds a transaction to the context
func WithTransaction(ctx context.Context, tx *sql.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// GetTransaction retrieves a transaction from context, or returns nil if not present
func GetTransaction(ctx context.Context) *sql.Tx {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return nil
}

type Postgres struct {
	db *sql.DB
}

func New(c conf.Config) (*Postgres, error) {
	if c.DB == nil {
		return nil, fmt.Errorf("db: nil connection")
	}
	return &Postgres{db: c.DB}, nil
}

func (p *Postgres) Close() error {
	return p.db.Close()
}

// executeWithTransaction executes a function with proper transaction management
// If a transaction exists in context, it uses that. Otherwise, it creates a new one.
func (p *Postgres) executeWithTransaction(ctx context.Context, fn func(*sql.Tx) error) error {
	if tx := GetTransaction(ctx); tx != nil {
		return fn(tx)
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if fnErr := fn(tx); fnErr != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction rollback failed: %w (original error: %v)", rbErr, fnErr)
		}
		return fnErr
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return fmt.Errorf("transaction commit failed: %w", commitErr)
	}
	return nil
}

// InTransaction runs fn with a context carrying one transaction, so every
// storage call fn makes with that context commits or rolls back together.
func (p *Postgres) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		return fn(WithTransaction(ctx, tx))
	})
}

// queryWithTransaction executes a query using transaction from context if available
func (p *Postgres) queryWithTransaction(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if tx := GetTransaction(ctx); tx != nil {
		return tx.QueryContext(ctx, query, args...)
	}
	return p.db.QueryContext(ctx, query, args...)
}

func (p *Postgres) queryRowWithTransaction(ctx context.Context, query string, args ...any) *sql.Row {
	if tx := GetTransaction(ctx); tx != nil {
		return tx.QueryRowContext(ctx, query, args...)
	}
	return p.db.QueryRowContext(ctx, query, args...)
}

// SaveCandles upserts candles in one transaction. Any invalid candle aborts the batch.
func (p *Postgres) SaveCandles(ctx context.Context, candles []candle.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	// Validate all candles first
	for i, c := range candles {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("invalid candle at index %d for %s %s at %s: %w",
				i, c.Symbol, c.Interval, c.Time(), err)
		}
	}

	return p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO candles (symbol, timeframe, timestamp, open, high, low, close, volume, source)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (symbol, timeframe, timestamp, source) DO UPDATE SET
				open=EXCLUDED.open, high=EXCLUDED.high, low=EXCLUDED.low,
				close=EXCLUDED.close, volume=EXCLUDED.volume
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare insert statement: %w", err)
		}
		defer stmt.Close()

		for i, c := range candles {
			if _, err := stmt.ExecContext(ctx,
				c.Symbol, c.Interval, c.Time(), c.Open, c.High, c.Low, c.Close, c.Volume, c.Source); err != nil {
				return fmt.Errorf("failed to save candle at index %d (%s %s at %s): %w",
					i, c.Symbol, c.Interval, c.Time(), err)
			}
		}
		return nil
	})
}

// GetCandles retrieves candles in [start, end] ordered by time
func (p *Postgres) GetCandles(ctx context.Context, symbol, interval string, start, end time.Time) ([]candle.Candle, error) {
	rows, err := p.queryWithTransaction(ctx, `
		SELECT timestamp, open, high, low, close, volume, symbol, timeframe, source
		FROM candles
		WHERE symbol=$1 AND timeframe=$2 AND timestamp >= $3 AND timestamp <= $4
		ORDER BY timestamp ASC`,
		symbol, interval, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query candles in range: %w", err)
	}
	defer rows.Close()

	var candles []candle.Candle
	for rows.Next() {
		c, err := scanCandle(rows)
		if err != nil {
			return nil, err
		}
		// a candle fetched from two sources keeps the first
		if n := len(candles); n > 0 && candles[n-1].Timestamp == c.Timestamp {
			continue
		}
		candles = append(candles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating candle rows: %w", err)
	}
	return candles, nil
}

// GetLatestCandle returns the most recent candle, or nil when none is stored.
func (p *Postgres) GetLatestCandle(ctx context.Context, symbol, interval string) (*candle.Candle, error) {
	row := p.queryRowWithTransaction(ctx, `
		SELECT timestamp, open, high, low, close, volume, symbol, timeframe, source
		FROM candles
		WHERE symbol=$1 AND timeframe=$2
		ORDER BY timestamp DESC
		LIMIT 1`,
		symbol, interval)
	c, err := scanCandle(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (p *Postgres) GetCandleCount(ctx context.Context, symbol, interval string, start, end time.Time) (int, error) {
	var count int
	err := p.queryRowWithTransaction(ctx, `
		SELECT COUNT(*) FROM candles
		WHERE symbol=$1 AND timeframe=$2 AND timestamp >= $3 AND timestamp <= $4`,
		symbol, interval, start.UTC(), end.UTC()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count candles: %w", err)
	}
	return count, nil
}

// DeleteCandles removes candles older than before.
func (p *Postgres) DeleteCandles(ctx context.Context, symbol, interval string, before time.Time) error {
	return p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`DELETE FROM candles WHERE symbol=$1 AND timeframe=$2 AND timestamp < $3`,
			symbol, interval, before.UTC())
		if err != nil {
			return fmt.Errorf("failed to delete candles: %w", err)
		}
		return nil
	})
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCandle(s scanner) (candle.Candle, error) {
	var (
		c  candle.Candle
		ts time.Time
	)
	if err := s.Scan(&ts, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.Symbol, &c.Interval, &c.Source); err != nil {
		if err == sql.ErrNoRows {
			return c, err
		}
		return c, fmt.Errorf("failed to scan candle: %w", err)
	}
	c.Timestamp = ts.UTC().UnixMilli()
	return c, nil
}

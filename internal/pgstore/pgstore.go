// Package pgstore reads stored candles from Postgres or TimescaleDB.
// The candles table is keyed by symbol, bar_size and start_time and
// holds numeric prices next to bigint volume and count columns.
package pgstore

import (
	"context"
	"fmt"
	"time"

	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rustyeddy/tradesim/market"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const findCandlesSQL = `
SELECT start_time, open, high, low, close, volume, vwap, count
FROM candles
WHERE symbol = $1 AND bar_size = $2 AND start_time >= $3 AND start_time < $4
ORDER BY start_time`

type candleRow struct {
	StartTime time.Time       `db:"start_time"`
	Open      decimal.Decimal `db:"open"`
	High      decimal.Decimal `db:"high"`
	Low       decimal.Decimal `db:"low"`
	Close     decimal.Decimal `db:"close"`
	Volume    int64           `db:"volume"`
	VWAP      decimal.Decimal `db:"vwap"`
	Count     int64           `db:"count"`
}

type candleQueries interface {
	findCandles(ctx context.Context, symbol string, barSize int64, start, end time.Time) ([]candleRow, error)
}

type poolQueries struct {
	pool *pgxpool.Pool
}

func (q poolQueries) findCandles(ctx context.Context, symbol string, barSize int64, start, end time.Time) ([]candleRow, error) {
	rows, err := q.pool.Query(ctx, findCandlesSQL, symbol, barSize, start, end)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByName[candleRow])
}

// Store is a read-only candle source backed by a pgx pool.
type Store struct {
	candles candleQueries
	pool    *pgxpool.Pool
	log     *zap.Logger
}

// Open connects to url and verifies connectivity. Malformed rows found
// later are reported to log.
func Open(ctx context.Context, url string, log *zap.Logger) (*Store, error) {
	config, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	config.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{candles: poolQueries{pool: pool}, pool: pool, log: log}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// FindCandles returns the barSize candles of symbol starting in
// [start, end), oldest first, or market.ErrNoCandles. Rows that do not
// form a valid bar are logged and skipped.
func (s *Store) FindCandles(ctx context.Context, symbol string, start, end time.Time, barSize int64) ([]market.Bar, error) {
	rows, err := s.candles.findCandles(ctx, symbol, barSize, start, end)
	if err != nil {
		return nil, fmt.Errorf("find candles %s %ds: %w", symbol, barSize, err)
	}
	bars := s.convertCandles(symbol, rows, barSize)
	if len(bars) == 0 {
		return nil, market.ErrNoCandles
	}
	return bars, nil
}

func (s *Store) convertCandles(symbol string, rows []candleRow, barSize int64) []market.Bar {
	log := s.log
	if log == nil {
		log = zap.NewNop()
	}
	bars := make([]market.Bar, 0, len(rows))
	for _, r := range rows {
		start := r.StartTime.UTC()
		end := start.Add(time.Duration(barSize) * time.Second)
		b := market.Bar{
			Start:      start,
			End:        end,
			Open:       r.Open,
			High:       r.High,
			Low:        r.Low,
			Close:      r.Close,
			Volume:     r.Volume,
			VWAP:       r.VWAP,
			Count:      r.Count,
			LastUpdate: end,
		}
		if err := b.Validate(); err != nil {
			log.Warn("skipping malformed candle",
				zap.String("symbol", symbol),
				zap.Int64("bar_size", barSize),
				zap.Time("start", start),
				zap.Error(err),
			)
			continue
		}
		bars = append(bars, b)
	}
	return bars
}

package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rustyeddy/tradesim/market"
)

// InsertCandles upserts bars for symbol at barSize.
func (s *Store) InsertCandles(ctx context.Context, symbol string, barSize int64, bars []market.Bar) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR REPLACE INTO candles
			(symbol, bar_size, start_time, end_time, open, high, low, close, volume, vwap, trade_count, last_update)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, b := range bars {
			if err := b.Validate(); err != nil {
				return err
			}
			end := b.End
			if end.IsZero() {
				end = b.Start.Add(time.Duration(barSize) * time.Second)
			}
			last := b.LastUpdate
			if last.IsZero() {
				last = end
			}
			if _, err := stmt.ExecContext(ctx,
				symbol, barSize, ts(b.Start), ts(end),
				b.Open, b.High, b.Low, b.Close,
				b.Volume, b.VWAP, b.Count, ts(last),
			); err != nil {
				return fmt.Errorf("insert candle %s %s: %w", symbol, b.Start, err)
			}
		}
		return nil
	})
}

// FindCandles returns bars starting in [start, end), oldest first. It
// returns market.ErrNoCandles when there are none.
func (s *Store) FindCandles(ctx context.Context, symbol string, start, end time.Time, barSize int64) ([]market.Bar, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT start_time, end_time, open, high, low, close, volume, vwap, trade_count, last_update
		FROM candles
		WHERE symbol = ? AND bar_size = ? AND start_time >= ? AND start_time < ?
		ORDER BY start_time ASC`,
		symbol, barSize, ts(start), ts(end),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []market.Bar
	for rows.Next() {
		var (
			b                     market.Bar
			startNS, endNS, ultNS int64
		)
		if err := rows.Scan(&startNS, &endNS, &b.Open, &b.High, &b.Low, &b.Close,
			&b.Volume, &b.VWAP, &b.Count, &ultNS); err != nil {
			return nil, err
		}
		b.Start, b.End, b.LastUpdate = fromTS(startNS), fromTS(endNS), fromTS(ultNS)
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s %ds %s..%s: %w", symbol, barSize,
			start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339), market.ErrNoCandles)
	}
	return out, nil
}

// CandleSizes lists the bar sizes stored for symbol.
func (s *Store) CandleSizes(ctx context.Context, symbol string) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT bar_size FROM candles WHERE symbol = ? ORDER BY bar_size`, symbol)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var n int64
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rustyeddy/tradesim/broker"
)

const positionColumns = `id, run_id, symbol, side, open_quantity, buy_quantity, buy_value,
	sell_quantity, sell_value, commission, open_time, close_time, version`

// PositionRecord is a stored position with the run it belongs to.
type PositionRecord struct {
	broker.Position
	RunID string
}

func scanPosition(row scanner) (PositionRecord, error) {
	var (
		p      PositionRecord
		side   string
		opened int64
		closed sql.NullInt64
	)
	err := row.Scan(&p.ID, &p.RunID, &p.Symbol, &side, &p.OpenQuantity, &p.BuyQuantity,
		&p.BuyValue, &p.SellQuantity, &p.SellValue, &p.Commission, &opened, &closed, &p.Version)
	if err != nil {
		return PositionRecord{}, err
	}
	p.Side = broker.Side(side)
	p.OpenTime = fromTS(opened)
	if closed.Valid {
		p.CloseTime = fromTS(closed.Int64)
	}
	return p, nil
}

// openPosition follows the instrument's open position link. An empty
// symbol matches any instrument of the run.
func openPosition(ctx context.Context, q querier, runID, symbol string) (*broker.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions
		WHERE id IN (SELECT open_position_id FROM instruments
			WHERE run_id = ? AND open_position_id IS NOT NULL`
	args := []any{runID}
	if symbol != "" {
		query += ` AND symbol = ?`
		args = append(args, symbol)
	}
	query += `) ORDER BY open_time LIMIT 1`

	rec, err := scanPosition(q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec.Position, nil
}

// FindOpenPosition returns the run's open position in symbol, or nil.
func (s *Store) FindOpenPosition(ctx context.Context, runID, symbol string) (*broker.Position, error) {
	return openPosition(ctx, s.db, runID, symbol)
}

func (s *Store) GetPosition(ctx context.Context, positionID string) (broker.Position, error) {
	rec, err := s.GetPositionRecord(ctx, positionID)
	return rec.Position, err
}

func (s *Store) GetPositionRecord(ctx context.Context, positionID string) (PositionRecord, error) {
	rec, err := scanPosition(s.db.QueryRowContext(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE id = ?`, positionID))
	if errors.Is(err, sql.ErrNoRows) {
		return PositionRecord{}, fmt.Errorf("position %q: %w", positionID, ErrNotFound)
	}
	return rec, err
}

// ListPositions returns positions oldest first, for one run or for all
// runs when runID is empty.
func (s *Store) ListPositions(ctx context.Context, runID string) ([]PositionRecord, error) {
	query := `SELECT ` + positionColumns + ` FROM positions`
	var args []any
	if runID != "" {
		query += ` WHERE run_id = ?`
		args = append(args, runID)
	}
	query += ` ORDER BY open_time, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PositionRecord
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func insertPosition(ctx context.Context, tx *sql.Tx, runID string, p broker.Position) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO positions (`+positionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, runID, p.Symbol, string(p.Side), p.OpenQuantity, p.BuyQuantity, p.BuyValue,
		p.SellQuantity, p.SellValue, p.Commission, ts(p.OpenTime), closeTime(p), p.Version,
	)
	if err != nil {
		return fmt.Errorf("insert position %s: %w", p.ID, err)
	}
	return linkInstrument(ctx, tx, runID, p.Symbol, &p.ID)
}

// updatePosition writes p if nobody changed it since version was read.
func updatePosition(ctx context.Context, tx *sql.Tx, p broker.Position, version int64) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE positions SET
			open_quantity = ?, buy_quantity = ?, buy_value = ?, sell_quantity = ?,
			sell_value = ?, commission = ?, close_time = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		p.OpenQuantity, p.BuyQuantity, p.BuyValue, p.SellQuantity,
		p.SellValue, p.Commission, closeTime(p), p.ID, version,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("position %s version %d: %w", p.ID, version, broker.ErrStaleSnapshot)
	}
	return nil
}

// linkInstrument points the instrument at its open position, or clears
// the link when positionID is nil.
func linkInstrument(ctx context.Context, tx *sql.Tx, runID, symbol string, positionID *string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO instruments (run_id, symbol, open_position_id) VALUES (?, ?, ?)
		ON CONFLICT (run_id, symbol) DO UPDATE SET open_position_id = excluded.open_position_id`,
		runID, symbol, positionID,
	)
	return err
}

func closeTime(p broker.Position) any {
	if p.CloseTime.IsZero() {
		return nil
	}
	return ts(p.CloseTime)
}

package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rustyeddy/tradesim/broker"
	"github.com/shopspring/decimal"
)

const orderColumns = `id, run_id, symbol, action, type, quantity, limit_price, aux_price,
	trail_amount, trail_percent, trail_stop_price, limit_offset, trail_distance,
	oca_group, transmit, status, commission, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(row scanner) (broker.Order, error) {
	var (
		o                   broker.Order
		action, typ, status string
		created, updated    int64
	)
	err := row.Scan(&o.ID, &o.RunID, &o.Symbol, &action, &typ, &o.Quantity,
		&o.LimitPrice, &o.AuxPrice, &o.TrailAmount, &o.TrailPercent, &o.TrailStopPrice,
		&o.LimitOffset, &o.TrailDistance, &o.OCAGroup, &o.Transmit, &status,
		&o.Commission, &created, &updated)
	if err != nil {
		return broker.Order{}, err
	}
	o.Action = broker.Action(action)
	o.Type = broker.OrderType(typ)
	o.Status = broker.OrderStatus(status)
	o.CreatedAt, o.UpdatedAt = fromTS(created), fromTS(updated)
	return o, nil
}

// InsertOrder stores o under its run. The run must exist.
func (s *Store) InsertOrder(ctx context.Context, o broker.Order) error {
	if o.Status == "" {
		o.Status = broker.Unsubmitted
	}
	if o.UpdatedAt.IsZero() {
		o.UpdatedAt = o.CreatedAt
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := bumpVersion(ctx, tx, o.RunID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO orders (`+orderColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			o.ID, o.RunID, o.Symbol, string(o.Action), string(o.Type), o.Quantity,
			o.LimitPrice, o.AuxPrice, o.TrailAmount, o.TrailPercent, o.TrailStopPrice,
			o.LimitOffset, o.TrailDistance, o.OCAGroup, o.Transmit, string(o.Status),
			o.Commission, ts(o.CreatedAt), ts(o.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("insert order %s: %w", o.ID, err)
		}
		return nil
	})
}

func (s *Store) GetOrder(ctx context.Context, orderID string) (broker.Order, error) {
	o, err := scanOrder(s.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = ?`, orderID))
	if errors.Is(err, sql.ErrNoRows) {
		return broker.Order{}, fmt.Errorf("order %q: %w", orderID, ErrNotFound)
	}
	return o, err
}

// ListOrders returns a run's orders in creation order. With statuses
// set, only orders in one of them are returned.
func (s *Store) ListOrders(ctx context.Context, runID string, statuses ...broker.OrderStatus) ([]broker.Order, error) {
	return listOrders(ctx, s.db, runID, statuses...)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func listOrders(ctx context.Context, q querier, runID string, statuses ...broker.OrderStatus) ([]broker.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE run_id = ?`
	args := []any{runID}
	if len(statuses) > 0 {
		query += ` AND status IN (?` + strings.Repeat(", ?", len(statuses)-1) + `)`
		for _, st := range statuses {
			args = append(args, string(st))
		}
	}
	query += ` ORDER BY created_at, id`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []broker.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// FindPendingOrders returns the run's unsubmitted and submitted orders,
// its open position and the version they were read at.
func (s *Store) FindPendingOrders(ctx context.Context, runID string) (broker.OrderSet, error) {
	var set broker.OrderSet
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `SELECT version FROM runs WHERE id = ?`, runID).Scan(&set.Version)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("run %q: %w", runID, ErrNotFound)
		}
		if err != nil {
			return err
		}
		if set.Orders, err = listOrders(ctx, tx, runID, broker.Unsubmitted, broker.Submitted); err != nil {
			return err
		}
		pos, err := openPosition(ctx, tx, runID, "")
		if err != nil {
			return err
		}
		set.Position = pos
		return nil
	})
	return set, err
}

// UpdateOrderStatus moves a pending order to status. Repeating the
// order's current status is a no-op, so replays can be re-run.
func (s *Store) UpdateOrderStatus(ctx context.Context, orderID string, status broker.OrderStatus, commission decimal.Decimal) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var runID, current string
		err := tx.QueryRowContext(ctx, `SELECT run_id, status FROM orders WHERE id = ?`, orderID).Scan(&runID, &current)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("order %q: %w", orderID, ErrNotFound)
		}
		if err != nil {
			return err
		}
		if broker.OrderStatus(current) == status {
			return nil
		}
		if !broker.OrderStatus(current).Pending() {
			return fmt.Errorf("%w: %s is %s", ErrNotPending, orderID, current)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE orders SET status = ?, commission = ?, updated_at = ? WHERE id = ?`,
			string(status), commission, ts(time.Now()), orderID,
		); err != nil {
			return err
		}
		return bumpVersion(ctx, tx, runID)
	})
}

// UpdateOrderTrail stores the resolved stop, limit and distance of a
// trailing order.
func (s *Store) UpdateOrderTrail(ctx context.Context, orderID string, aux, limit, distance decimal.Decimal) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var runID string
		err := tx.QueryRowContext(ctx, `SELECT run_id FROM orders WHERE id = ?`, orderID).Scan(&runID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("order %q: %w", orderID, ErrNotFound)
		}
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE orders SET aux_price = ?, limit_price = ?, trail_distance = ?, updated_at = ?
			WHERE id = ?`,
			aux, limit, distance, ts(time.Now()), orderID,
		); err != nil {
			return err
		}
		return bumpVersion(ctx, tx, runID)
	})
}

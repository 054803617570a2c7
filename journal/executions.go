package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rustyeddy/tradesim/broker"
	"github.com/rustyeddy/tradesim/pkg/id"
)

// Execution is a stored fill.
type Execution struct {
	broker.Fill
	RunID      string
	PositionID string
}

// RecordExecution stores f and applies it to the run's open position in
// one transaction. Recording an exec id again for the same order is a
// no-op; recording it for a different order fails with ErrExecConflict.
// A fill that flips the position closes it and opens a new one with the
// remainder.
func (s *Store) RecordExecution(ctx context.Context, orderID string, f broker.Fill) error {
	if f.OrderID == "" {
		f.OrderID = orderID
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var runID string
		err := tx.QueryRowContext(ctx, `SELECT run_id FROM orders WHERE id = ?`, orderID).Scan(&runID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("order %q: %w", orderID, ErrNotFound)
		}
		if err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO executions
			(exec_id, order_id, run_id, symbol, action, price, quantity, commission, time)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			f.ExecID, orderID, runID, f.Symbol, string(f.Action),
			f.Price, f.Quantity, f.Commission, ts(f.Time),
		)
		if err != nil {
			return fmt.Errorf("insert execution %s: %w", f.ExecID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			var owner string
			if err := tx.QueryRowContext(ctx,
				`SELECT order_id FROM executions WHERE exec_id = ?`, f.ExecID).Scan(&owner); err != nil {
				return fmt.Errorf("execution %s: %w", f.ExecID, err)
			}
			if owner != orderID {
				return fmt.Errorf("%w: %s is recorded for order %s, not %s",
					ErrExecConflict, f.ExecID, owner, orderID)
			}
			return nil
		}

		posID, err := applyFill(ctx, tx, runID, f)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE executions SET position_id = ? WHERE exec_id = ?`, posID, f.ExecID); err != nil {
			return err
		}
		return bumpVersion(ctx, tx, runID)
	})
}

// applyFill folds f into the open position and returns the id of the
// position the fill opened or landed on first.
func applyFill(ctx context.Context, tx *sql.Tx, runID string, f broker.Fill) (string, error) {
	open, err := openPosition(ctx, tx, runID, f.Symbol)
	if err != nil {
		return "", err
	}
	if open == nil {
		p := broker.NewPosition(id.NewAt(f.Time), f)
		return p.ID, insertPosition(ctx, tx, runID, p)
	}

	p := *open
	closed, rest, err := p.Apply(f)
	if err != nil {
		return "", fmt.Errorf("apply %s to %s: %w", f.ExecID, p.ID, err)
	}
	if err := updatePosition(ctx, tx, p, open.Version); err != nil {
		return "", err
	}
	if !closed {
		return p.ID, nil
	}
	if err := linkInstrument(ctx, tx, runID, f.Symbol, nil); err != nil {
		return "", err
	}
	if rest != nil {
		next := broker.NewPosition(id.NewAt(rest.Time), *rest)
		if err := insertPosition(ctx, tx, runID, next); err != nil {
			return "", err
		}
	}
	return p.ID, nil
}

// LastExecSeq returns the highest sequence number among the run's exec
// ids, or 0 when the run has no fills yet.
func (s *Store) LastExecSeq(ctx context.Context, runID string) (int64, error) {
	prefix := runID + "."
	var seq int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(CAST(substr(exec_id, ?) AS INTEGER)), 0)
		FROM executions WHERE run_id = ? AND substr(exec_id, 1, ?) = ?`,
		len(prefix)+1, runID, len(prefix), prefix,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("last exec seq %s: %w", runID, err)
	}
	return seq, nil
}

// ListExecutions returns a run's fills in time order, or every fill
// when runID is empty.
func (s *Store) ListExecutions(ctx context.Context, runID string) ([]Execution, error) {
	query := `SELECT exec_id, order_id, run_id, COALESCE(position_id, ''), symbol, action,
		price, quantity, commission, time FROM executions`
	var args []any
	if runID != "" {
		query += ` WHERE run_id = ?`
		args = append(args, runID)
	}
	query += ` ORDER BY time, exec_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Execution
	for rows.Next() {
		var (
			e      Execution
			action string
			at     int64
		)
		if err := rows.Scan(&e.ExecID, &e.OrderID, &e.RunID, &e.PositionID, &e.Symbol,
			&action, &e.Price, &e.Quantity, &e.Commission, &at); err != nil {
			return nil, err
		}
		e.Action = broker.Action(action)
		e.Time = fromTS(at)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Package journal is the SQLite store behind replay runs: candles,
// runs, orders, executions and positions.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrNotPending = errors.New("order is no longer pending")

	// ErrExecConflict means an exec id is already stored for another order.
	ErrExecConflict = errors.New("exec id belongs to another order")
)

type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and applies Schema.
// ":memory:" works for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// A single connection serializes writers and keeps :memory:
	// databases alive for the life of the store.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(Schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Run is one replay of one symbol over one day.
type Run struct {
	ID        string
	Symbol    string
	Strategy  string
	BarSize   int64
	Day       time.Time
	CreatedAt time.Time
	Version   int64
}

const dayLayout = "2006-01-02"

func (s *Store) CreateRun(ctx context.Context, r Run) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, symbol, strategy, bar_size, day, created_at, version)
		VALUES (?, ?, ?, ?, ?, ?, 0)`,
		r.ID, r.Symbol, r.Strategy, r.BarSize, r.Day.Format(dayLayout), ts(r.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("create run %s: %w", r.ID, err)
	}
	return nil
}

func (s *Store) GetRun(ctx context.Context, runID string) (Run, error) {
	var (
		r       Run
		day     string
		created int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, symbol, strategy, bar_size, day, created_at, version
		FROM runs WHERE id = ?`, runID,
	).Scan(&r.ID, &r.Symbol, &r.Strategy, &r.BarSize, &day, &created, &r.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("run %q: %w", runID, ErrNotFound)
	}
	if err != nil {
		return Run{}, err
	}
	if r.Day, err = time.Parse(dayLayout, day); err != nil {
		return Run{}, fmt.Errorf("run %q day: %w", runID, err)
	}
	r.CreatedAt = fromTS(created)
	return r, nil
}

func (s *Store) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM runs ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]Run, 0, len(ids))
	for _, id := range ids {
		r, err := s.GetRun(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// FindLastKnownVersion returns the run's version. Every order or
// position write bumps it.
func (s *Store) FindLastKnownVersion(ctx context.Context, runID string) (int64, error) {
	var v int64
	err := s.db.QueryRowContext(ctx, `SELECT version FROM runs WHERE id = ?`, runID).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("run %q: %w", runID, ErrNotFound)
	}
	return v, err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func bumpVersion(ctx context.Context, db execer, runID string) error {
	res, err := db.ExecContext(ctx, `UPDATE runs SET version = version + 1 WHERE id = ?`, runID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %q: %w", runID, ErrNotFound)
	}
	return nil
}

// withTx runs fn in a transaction and commits when it returns nil.
func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func ts(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromTS(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

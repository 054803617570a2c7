package backtest

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rustyeddy/tradesim/broker"
	"github.com/rustyeddy/tradesim/config"
	"github.com/rustyeddy/tradesim/journal"
	"github.com/rustyeddy/tradesim/market"
	"github.com/rustyeddy/tradesim/sim"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var open = time.Date(2024, 3, 4, 9, 30, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func minute(i int, o, h, l, c string) market.Bar {
	start := open.Add(time.Duration(i) * time.Minute)
	return market.Bar{
		Start: start, End: start.Add(time.Minute), LastUpdate: start.Add(time.Minute),
		Open: dec(o), High: dec(h), Low: dec(l), Close: dec(c), Volume: 5000,
	}
}

func testConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.Replay = config.ReplayConfig{
		Symbols:     []string{"AAPL"},
		Day:         "2024-03-04",
		Timeframe:   "M1",
		Timezone:    "UTC",
		SessionOpen: "09:30",
		Parallelism: 2,
	}
	cfg.Strategy.Lookback = 2
	cfg.Indicators = nil
	cfg.Store.Path = filepath.Join(t.TempDir(), "replay.db")
	require.NoError(t, cfg.Validate())
	return cfg
}

func newStore(t *testing.T, cfg *config.Config) *journal.Store {
	t.Helper()
	s, err := journal.Open(cfg.Store.Path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// breakoutDay breaks above 100.80 on the fourth bar and reaches the
// take-profit on the fifth.
func breakoutDay() []market.Bar {
	return []market.Bar{
		minute(0, "100.00", "100.50", "99.80", "100.20"),
		minute(1, "100.20", "100.80", "100.00", "100.60"),
		minute(2, "100.60", "100.70", "100.30", "100.50"),
		minute(3, "100.60", "101.20", "100.50", "101.00"),
		minute(4, "101.00", "101.90", "100.90", "101.80"),
		minute(5, "101.80", "102.00", "101.50", "101.90"),
	}
}

func TestRunnerBreakoutBracket(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	store := newStore(t, cfg)
	require.NoError(t, store.InsertCandles(ctx, "AAPL", 60, breakoutDay()))

	var progress bytes.Buffer
	r := &Runner{Config: cfg, Store: store, Log: zaptest.NewLogger(t), Progress: &progress}
	sums, err := r.Run(ctx)
	require.NoError(t, err)
	require.Len(t, sums, 1)

	s := sums[0]
	require.NoError(t, s.Err)
	assert.Equal(t, "AAPL", s.Symbol)
	assert.Equal(t, 2, s.Result.Fills)
	assert.Equal(t, 1, s.Result.Cancels, "the stop loses to the target")
	assert.Equal(t, 1, s.Result.PositionsOpened)
	assert.Equal(t, 1, s.Result.PositionsClosed)
	assert.Equal(t, 5, s.Result.Candles, "the run ends once nothing runs and nothing is open")
	assert.Equal(t, 1, s.Trades)
	assert.Equal(t, 1, s.Wins)
	// 909 shares from 100.81 to 101.81 less 4.545 commission each way
	assert.True(t, s.NetPL.Equal(dec("899.91")), s.NetPL.String())

	execs, err := store.ListExecutions(ctx, s.RunID)
	require.NoError(t, err)
	require.Len(t, execs, 2)
	assert.Equal(t, broker.Buy, execs[0].Action)
	assert.True(t, execs[0].Price.Equal(dec("100.81")))
	assert.Equal(t, broker.Sell, execs[1].Action)
	assert.True(t, execs[1].Price.Equal(dec("101.81")))

	pending, err := store.ListOrders(ctx, s.RunID, broker.Unsubmitted, broker.Submitted)
	require.NoError(t, err)
	assert.Empty(t, pending)

	run, err := store.GetRun(ctx, s.RunID)
	require.NoError(t, err)
	assert.Equal(t, "breakout", run.Strategy)
	assert.Equal(t, int64(60), run.BarSize)

	var out bytes.Buffer
	PrintSummary(&out, s)
	assert.Contains(t, out.String(), "Net P/L:       899.91")
	assert.Contains(t, out.String(), "Win Rate:      100.00%")
	assert.NotEmpty(t, progress.String())
}

func TestRunnerSymbolWithoutData(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Replay.Symbols = []string{"AAPL", "MSFT"}
	store := newStore(t, cfg)
	require.NoError(t, store.InsertCandles(ctx, "AAPL", 60, breakoutDay()))

	r := &Runner{Config: cfg, Store: store, Log: zaptest.NewLogger(t)}
	sums, err := r.Run(ctx)
	require.NoError(t, err)
	require.Len(t, sums, 2)

	assert.NoError(t, sums[0].Err)
	assert.Equal(t, 1, sums[0].Trades)
	assert.ErrorIs(t, sums[1].Err, sim.ErrDataUnavailable)
	assert.Equal(t, "MSFT", sums[1].Symbol)

	var out bytes.Buffer
	PrintSummary(&out, sums[1])
	assert.True(t, strings.Contains(out.String(), "Error:"))
}

func TestRunnerReusesSeededRun(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Replay.RunID = "SEEDED"
	cfg.Strategy.Name = "noop"
	cfg.Strategy.Guard = "none"
	store := newStore(t, cfg)
	require.NoError(t, store.InsertCandles(ctx, "AAPL", 60, breakoutDay()))

	day, err := cfg.Replay.ReplayDay()
	require.NoError(t, err)
	require.NoError(t, store.CreateRun(ctx, journal.Run{ID: "SEEDED", Symbol: "AAPL", Strategy: "manual", BarSize: 60, Day: day}))
	require.NoError(t, store.InsertOrder(ctx, broker.Order{
		ID: "O1", RunID: "SEEDED", Symbol: "AAPL", Action: broker.Buy, Type: broker.Limit,
		Quantity: dec("100"), LimitPrice: dec("100.00"), Transmit: true,
		Status: broker.Unsubmitted, CreatedAt: day,
	}))

	r := &Runner{Config: cfg, Store: store, Log: zaptest.NewLogger(t)}
	sums, err := r.Run(ctx)
	require.NoError(t, err)
	s := sums[0]
	require.NoError(t, s.Err)
	assert.Equal(t, "SEEDED", s.RunID)
	assert.Equal(t, 1, s.Result.Fills)
	assert.Equal(t, 1, s.Open)
	assert.Equal(t, 6, s.Result.Candles, "the open position keeps the replay going")

	o, err := store.GetOrder(ctx, "O1")
	require.NoError(t, err)
	assert.Equal(t, broker.Filled, o.Status)
}

func TestRunnerRejectsRunForOtherSymbol(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Replay.RunID = "OTHER"
	store := newStore(t, cfg)
	require.NoError(t, store.CreateRun(ctx, journal.Run{ID: "OTHER", Symbol: "MSFT", BarSize: 60, Day: open}))

	r := &Runner{Config: cfg, Store: store}
	sums, err := r.Run(ctx)
	require.Error(t, err)
	assert.Contains(t, sums[0].Err.Error(), "trades MSFT")
}

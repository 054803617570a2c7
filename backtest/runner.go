// Package backtest replays every configured symbol through its own
// simulated broker and strategy manager and summarizes the outcome.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rustyeddy/tradesim/config"
	"github.com/rustyeddy/tradesim/datafeed"
	"github.com/rustyeddy/tradesim/indicators"
	"github.com/rustyeddy/tradesim/journal"
	"github.com/rustyeddy/tradesim/market"
	"github.com/rustyeddy/tradesim/pkg/id"
	"github.com/rustyeddy/tradesim/sim"
	"github.com/rustyeddy/tradesim/strategies"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Runner drives one replay per symbol of Config, at most
// Config.Replay.Parallelism at a time.
type Runner struct {
	Config *config.Config
	Store  *journal.Store

	// Candles overrides where candles are read from. Nil reads them
	// from Store.
	Candles sim.CandleSource
	Log     *zap.Logger

	// Progress receives one progress bar per run. Nil disables them.
	Progress io.Writer
}

// Run replays every symbol. A symbol without data is reported in its
// summary and does not stop the others; any other failure cancels the
// remaining runs.
func (r *Runner) Run(ctx context.Context) ([]Summary, error) {
	if r.Config == nil {
		return nil, fmt.Errorf("backtest: Config is required")
	}
	if r.Store == nil {
		return nil, fmt.Errorf("backtest: Store is required")
	}
	if r.Log == nil {
		r.Log = zap.NewNop()
	}

	symbols := r.Config.Replay.Symbols
	out := make([]Summary, len(symbols))

	g, gctx := errgroup.WithContext(ctx)
	limit := r.Config.Replay.Parallelism
	if limit <= 0 {
		limit = 1
	}
	g.SetLimit(limit)

	for i, symbol := range symbols {
		i, symbol := i, symbol
		g.Go(func() error {
			s, err := r.runSymbol(gctx, symbol)
			out[i] = s
			if errors.Is(err, sim.ErrDataUnavailable) {
				return nil
			}
			return err
		})
	}
	err := g.Wait()
	return out, err
}

func (r *Runner) runSymbol(ctx context.Context, symbol string) (Summary, error) {
	rc := r.Config.Replay
	sum := Summary{Symbol: symbol, Strategy: r.Config.Strategy.Name}
	fail := func(err error) (Summary, error) {
		sum.Err = err
		return sum, err
	}

	barSize, err := rc.BarSize()
	if err != nil {
		return fail(err)
	}
	day, err := rc.ReplayDay()
	if err != nil {
		return fail(err)
	}
	loc, _ := rc.Location()
	open, err := rc.SessionOffset()
	if err != nil {
		return fail(err)
	}
	timeout, err := rc.Timeout()
	if err != nil {
		return fail(err)
	}
	sum.Day = day

	runID, err := r.prepareRun(ctx, symbol, barSize, day)
	if err != nil {
		return fail(err)
	}
	sum.RunID = runID
	log := r.Log.With(zap.String("run", runID), zap.String("symbol", symbol))

	feed, err := r.newFeed(symbol, barSize, log)
	if err != nil {
		return fail(err)
	}

	strat, err := strategies.New(r.Config.Strategy)
	if err != nil {
		return fail(err)
	}
	guard, err := strategies.NewGuard(r.Config.Strategy)
	if err != nil {
		return fail(err)
	}

	mon := sim.NewMonitor(timeout)
	mgr := strategies.NewManager(mon, log, guard, strat)
	feed.Subscribe(mgr)

	opts := []sim.Option{sim.WithLogger(log), sim.WithPositionListener(mgr)}
	var bar *progressbar.ProgressBar
	if r.Progress != nil {
		bar = newProgressBar(r.Progress, symbol)
		opts = append(opts, sim.WithCandleHook(func(cur sim.Cursor, _ market.Bar) {
			bar.ChangeMax(cur.Total)
			_ = bar.Set(cur.LastProcessed + 1)
		}))
	}

	candles := r.Candles
	if candles == nil {
		candles = r.Store
	}
	b, err := sim.NewBroker(sim.Config{
		RunID:       runID,
		Symbol:      symbol,
		BarSize:     barSize,
		Day:         day,
		Location:    loc,
		SessionOpen: open,
		WarmupDays:  rc.WarmupDays,
	}, candles, r.Store, feed, mon, opts...)
	if err != nil {
		return fail(err)
	}
	mgr.Bind(b)
	mgr.Start()

	started := time.Now()
	res, err := sim.Start(ctx, b).Wait()
	if bar != nil {
		_ = bar.Finish()
	}
	sum.Result = res
	sum.Elapsed = time.Since(started)
	if err != nil {
		return fail(err)
	}

	positions, err := r.Store.ListPositions(ctx, runID)
	if err != nil {
		return fail(fmt.Errorf("list positions: %w", err))
	}
	sum.tally(positions)
	return sum, nil
}

// prepareRun creates the run, or reuses the configured one.
func (r *Runner) prepareRun(ctx context.Context, symbol string, barSize int64, day time.Time) (string, error) {
	runID := r.Config.Replay.RunID
	if runID != "" {
		run, err := r.Store.GetRun(ctx, runID)
		if err == nil {
			if run.Symbol != symbol {
				return "", fmt.Errorf("run %s trades %s, not %s", runID, run.Symbol, symbol)
			}
			return runID, nil
		}
		if !errors.Is(err, journal.ErrNotFound) {
			return "", err
		}
	} else {
		runID = id.New()
	}

	err := r.Store.CreateRun(ctx, journal.Run{
		ID:       runID,
		Symbol:   symbol,
		Strategy: r.Config.Strategy.Name,
		BarSize:  barSize,
		Day:      day,
	})
	return runID, err
}

func (r *Runner) newFeed(symbol string, barSize int64, log *zap.Logger) (*datafeed.Feed, error) {
	feed := datafeed.New(symbol, barSize, log)
	sizes, err := r.Config.Replay.RollupSizes()
	if err != nil {
		return nil, err
	}
	for _, size := range sizes {
		if _, err := feed.AddSeries(size); err != nil {
			return nil, err
		}
	}
	for _, ic := range r.Config.Indicators {
		ind, err := indicators.New(ic.Type, ic.Period)
		if err != nil {
			return nil, err
		}
		feed.AddIndicator(ind)
	}
	return feed, nil
}

func newProgressBar(w io.Writer, symbol string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("replaying "+symbol),
		progressbar.OptionSetElapsedTime(true),
		progressbar.OptionShowCount(),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}))
}

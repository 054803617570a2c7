// Package datafeed keeps a base bar series and everything derived from
// it up to date, and hands each change to strategy listeners on a
// dedicated consumer goroutine.
package datafeed

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rustyeddy/tradesim/indicators"
	"github.com/rustyeddy/tradesim/market"
	"go.uber.org/zap"
)

var ErrCancelled = errors.New("feed cancelled")

// Update describes one change to the base series.
type Update struct {
	Seq       uint64
	Forming   market.Bar  // base forming bar after the change
	Sealed    *market.Bar // bar sealed by this change, if any
	NewPeriod bool
	// Live is false for warm-up bars that precede the trading session.
	Live bool
}

// Listener is notified after every derived series has absorbed an update.
type Listener interface {
	OnUpdate(ctx context.Context, v *View, u Update)
}

type Feed struct {
	log  *zap.Logger
	base *market.Series

	rollups   []*Rollup
	studies   []indicators.Indicator
	listeners []Listener

	mu        sync.Mutex
	cond      *sync.Cond
	queue     []Update
	produced  uint64
	processed uint64
	cancelled bool
}

func New(symbol string, barSize int64, log *zap.Logger) *Feed {
	if log == nil {
		log = zap.NewNop()
	}
	f := &Feed{
		log:  log.With(zap.String("symbol", symbol), zap.Int64("bar_size", barSize)),
		base: market.NewSeries(symbol, barSize),
	}
	f.cond = sync.NewCond(&f.mu)
	return f
}

func (f *Feed) Symbol() string { return f.base.Symbol }
func (f *Feed) BarSize() int64 { return f.base.BarSize }
func (f *Feed) View() *View { return &View{f: f} }
func (f *Feed) Subscribe(l Listener) { f.listeners = append(f.listeners, l) }

// AddSeries registers a roll-up of the base series at barSize, which
// must be a multiple of the base bar size. Register before Run.
func (f *Feed) AddSeries(barSize int64) (*Rollup, error) {
	if barSize < f.base.BarSize || barSize%f.base.BarSize != 0 {
		return nil, fmt.Errorf("add series %ds: %w (base %ds)", barSize, market.ErrRollup, f.base.BarSize)
	}
	r := newRollup(f.base.Symbol, barSize)
	f.rollups = append(f.rollups, r)
	return r, nil
}

// AddIndicator registers an indicator computed on the base series.
func (f *Feed) AddIndicator(ind indicators.Indicator) {
	f.studies = append(f.studies, ind)
}

// OnBarArrival folds b into the base series and wakes the consumer.
// rollup is the number of b-sized bars per base bar.
func (f *Feed) OnBarArrival(b market.Bar, rollup int64, live bool) error {
	if f.Cancelled() {
		return ErrCancelled
	}
	newPeriod, err := f.base.Add(b, rollup)
	if err != nil {
		return err
	}

	u := Update{NewPeriod: newPeriod, Live: live}
	u.Forming, _ = f.base.Last()
	if newPeriod {
		if sealed, ok := f.base.At(-2); ok {
			u.Sealed = &sealed
		}
	}

	f.mu.Lock()
	f.produced++
	u.Seq = f.produced
	f.queue = append(f.queue, u)
	f.cond.Signal()
	f.mu.Unlock()
	return nil
}

// Run consumes updates until the feed is cancelled or ctx ends. It
// returns an error only when a derived series failed to update.
func (f *Feed) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, f.Cancel)
	defer stop()

	for {
		batch, ok := f.next()
		if !ok {
			return nil
		}
		for _, u := range batch {
			if f.Cancelled() {
				return nil
			}
			if err := f.apply(u); err != nil {
				f.log.Error("derived series update failed",
					zap.Error(err),
					zap.Int("base_bars", f.base.Len()),
					zap.Int("rollups", len(f.rollups)),
					zap.Int("indicators", len(f.studies)),
					zap.Uint64("last_processed", f.Processed()),
					zap.Uint64("seq", u.Seq),
				)
				f.Cancel()
				return err
			}
			for _, l := range f.listeners {
				l.OnUpdate(ctx, f.View(), u)
			}
			f.mu.Lock()
			f.processed = u.Seq
			f.mu.Unlock()
		}
	}
}

// next blocks until there is work or the feed is cancelled.
func (f *Feed) next() ([]Update, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for !f.cancelled && len(f.queue) == 0 {
		f.cond.Wait()
	}
	if f.cancelled {
		return nil, false
	}
	batch := f.queue
	f.queue = nil
	return batch, true
}

func (f *Feed) apply(u Update) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	for _, r := range f.rollups {
		if err := r.apply(u); err != nil {
			return fmt.Errorf("rollup %ds: %w", r.BarSize(), err)
		}
	}
	for _, ind := range f.studies {
		if u.NewPeriod {
			ind.Append(u.Forming)
		} else {
			ind.Revise(u.Forming)
		}
	}
	return nil
}

// Cancel stops the consumer. Waiters wake and exit without processing
// queued updates.
func (f *Feed) Cancel() {
	f.mu.Lock()
	f.cancelled = true
	f.cond.Broadcast()
	f.mu.Unlock()
}

// Poke wakes the consumer without new data.
func (f *Feed) Poke() {
	f.mu.Lock()
	f.cond.Broadcast()
	f.mu.Unlock()
}

func (f *Feed) Cancelled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelled
}

// Processed is the seq of the last update handed to listeners.
func (f *Feed) Processed() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.processed
}

// Produced is the seq of the last update queued by OnBarArrival.
func (f *Feed) Produced() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.produced
}

// Release drops the bars and indicator state held by the feed.
func (f *Feed) Release() {
	f.base.Clear()
	for _, r := range f.rollups {
		r.series.Clear()
	}
	for _, ind := range f.studies {
		ind.Reset()
	}
	f.mu.Lock()
	f.queue = nil
	f.mu.Unlock()
}

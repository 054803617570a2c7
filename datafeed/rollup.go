package datafeed

import (
	"time"

	"github.com/rustyeddy/tradesim/market"
)

// Rollup mirrors the base series at a coarser (or equal) bar size. It
// keeps the sealed base bars of its current period folded in acc and
// recomputes its forming bar as acc merged with the base forming bar.
type Rollup struct {
	series *market.Series
	acc    market.Bar
	hasAcc bool
}

func newRollup(symbol string, barSize int64) *Rollup {
	return &Rollup{series: market.NewSeries(symbol, barSize)}
}

func (r *Rollup) BarSize() int64 { return r.series.BarSize }

// Series returns a read-only view of the roll-up.
func (r *Rollup) Series() SeriesView { return SeriesView{s: r.series} }

func (r *Rollup) restamp(b market.Bar) market.Bar {
	size := r.series.BarSize
	b.Start = market.PeriodStart(b.Start, size)
	b.End = b.Start.Add(time.Duration(size) * time.Second)
	return b
}

func (r *Rollup) apply(u Update) error {
	if u.Sealed != nil {
		s := r.restamp(*u.Sealed)
		if r.hasAcc && r.acc.Start.Equal(s.Start) {
			r.acc = market.Merge(r.acc, s)
		} else {
			r.acc = s
			r.hasAcc = true
		}
	}

	b := r.restamp(u.Forming)
	if r.hasAcc && r.acc.Start.Equal(b.Start) {
		b = market.Merge(r.acc, b)
	}
	return r.series.Upsert(b)
}

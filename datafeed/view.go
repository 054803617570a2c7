package datafeed

import (
	"github.com/rustyeddy/tradesim/market"
	"github.com/shopspring/decimal"
)

// SeriesView exposes the read side of a series.
type SeriesView struct {
	s *market.Series
}

func (v SeriesView) BarSize() int64 { return v.s.BarSize }
func (v SeriesView) Len() int { return v.s.Len() }
func (v SeriesView) At(i int) (market.Bar, bool) { return v.s.At(i) }
func (v SeriesView) Last() (market.Bar, bool) { return v.s.Last() }

// HighestHigh returns the highest high of the n sealed bars before the
// forming bar.
func (v SeriesView) HighestHigh(n int) (decimal.Decimal, bool) {
	return v.extreme(n, func(b market.Bar) decimal.Decimal { return b.High }, decimal.Decimal.GreaterThan)
}

// LowestLow returns the lowest low of the n sealed bars before the
// forming bar.
func (v SeriesView) LowestLow(n int) (decimal.Decimal, bool) {
	return v.extreme(n, func(b market.Bar) decimal.Decimal { return b.Low }, decimal.Decimal.LessThan)
}

func (v SeriesView) extreme(n int, field func(market.Bar) decimal.Decimal,
	better func(decimal.Decimal, decimal.Decimal) bool) (decimal.Decimal, bool) {
	if n <= 0 || v.s.Len() < n+1 {
		return decimal.Zero, false
	}
	var out decimal.Decimal
	for i := 2; i <= n+1; i++ {
		b, _ := v.s.At(-i)
		if i == 2 || better(field(b), out) {
			out = field(b)
		}
	}
	return out, true
}

// View is what listeners see of a feed: the base series, its roll-ups
// and indicator values.
type View struct {
	f *Feed
}

func (v *View) Symbol() string { return v.f.Symbol() }
func (v *View) Base() SeriesView { return SeriesView{s: v.f.base} }

// Series returns the roll-up registered at barSize.
func (v *View) Series(barSize int64) (SeriesView, bool) {
	for _, r := range v.f.rollups {
		if r.BarSize() == barSize {
			return r.Series(), true
		}
	}
	return SeriesView{}, false
}

// Indicator returns the value of the indicator called name and whether
// it has warmed up.
func (v *View) Indicator(name string) (decimal.Decimal, bool) {
	for _, ind := range v.f.studies {
		if ind.Name() == name {
			return ind.Value(), ind.Ready()
		}
	}
	return decimal.Zero, false
}

func (v *View) Indicators() []string {
	out := make([]string, 0, len(v.f.studies))
	for _, ind := range v.f.studies {
		out = append(out, ind.Name())
	}
	return out
}

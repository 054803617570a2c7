package market

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Series is an append-only, time-ordered run of bars at one bar size.
// All methods are safe for concurrent use.
type Series struct {
	Symbol  string
	BarSize int64 // seconds

	mu   sync.RWMutex
	bars []Bar
}

func NewSeries(symbol string, barSize int64) *Series {
	return &Series{Symbol: symbol, BarSize: barSize}
}

// BuildBar folds one source bar into the series. rollup is the number
// of source bars that make up one bar of this series. It reports whether
// the input started a new period, which seals the previous forming bar.
func (s *Series) BuildBar(ts time.Time, open, high, low, close decimal.Decimal,
	volume int64, vwap decimal.Decimal, count int64, rollup int64, lastUpdate time.Time) (bool, error) {

	if s.BarSize <= 0 {
		return false, fmt.Errorf("series %s: invalid bar size %d", s.Symbol, s.BarSize)
	}
	if rollup < 1 || s.BarSize%rollup != 0 {
		return false, fmt.Errorf("series %s: %w (bar size %d, rollup %d)", s.Symbol, ErrRollup, s.BarSize, rollup)
	}

	start := PeriodStart(ts, s.BarSize)
	in := Bar{
		Start:      start,
		End:        start.Add(time.Duration(s.BarSize) * time.Second),
		Open:       open,
		High:       high,
		Low:        low,
		Close:      close,
		Volume:     volume,
		VWAP:       vwap,
		Count:      count,
		LastUpdate: lastUpdate,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.bars)
	if n == 0 || start.After(s.bars[n-1].Start) {
		s.bars = append(s.bars, in)
		return true, nil
	}

	last := s.bars[n-1]
	if start.Before(last.Start) {
		return false, fmt.Errorf("series %s: %w (%s before %s)", s.Symbol, ErrOutOfOrder,
			ts.UTC().Format(time.RFC3339), last.Start.Format(time.RFC3339))
	}
	s.bars[n-1] = Merge(last, in)
	return false, nil
}

// Add folds a whole source bar, checking that its duration matches the
// rollup when the bar carries an end time.
func (s *Series) Add(b Bar, rollup int64) (bool, error) {
	if d := b.Duration(); d > 0 && rollup > 0 && d*rollup != s.BarSize {
		return false, fmt.Errorf("series %s: %w (source %ds x %d != %ds)", s.Symbol, ErrRollup, d, rollup, s.BarSize)
	}
	last := b.LastUpdate
	if last.IsZero() {
		last = b.End
	}
	return s.BuildBar(b.Start, b.Open, b.High, b.Low, b.Close, b.Volume, b.VWAP, b.Count, rollup, last)
}

// ChangeSeriesPeriod discards every bar and rebuilds the series at
// newBarSize by replaying source from its first bar.
func (s *Series) ChangeSeriesPeriod(newBarSize int64, source *Series) error {
	if source.BarSize <= 0 || newBarSize < source.BarSize || newBarSize%source.BarSize != 0 {
		return fmt.Errorf("series %s: %w (source %ds, target %ds)", s.Symbol, ErrRollup, source.BarSize, newBarSize)
	}
	bars := source.Bars()

	s.mu.Lock()
	s.BarSize = newBarSize
	s.bars = nil
	s.mu.Unlock()

	rollup := newBarSize / source.BarSize
	for _, b := range bars {
		if _, err := s.Add(b, rollup); err != nil {
			return err
		}
	}
	return nil
}

// Resample returns a new series at barSize built from source.
func Resample(source *Series, barSize int64) (*Series, error) {
	out := NewSeries(source.Symbol, barSize)
	if err := out.ChangeSeriesPeriod(barSize, source); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Series) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.bars)
}

// At returns bar i. Negative indexes count back from the forming bar.
func (s *Series) At(i int) (Bar, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i < 0 {
		i += len(s.bars)
	}
	if i < 0 || i >= len(s.bars) {
		return Bar{}, false
	}
	return s.bars[i], true
}

func (s *Series) Last() (Bar, bool) {
	return s.At(-1)
}

// Bars returns a copy of every bar including the forming one.
func (s *Series) Bars() []Bar {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Bar, len(s.bars))
	copy(out, s.bars)
	return out
}

// Upsert replaces the forming bar when b shares its start, otherwise
// appends b. It is used by roll-ups that recompute their forming bar.
func (s *Series) Upsert(b Bar) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.bars)
	switch {
	case n == 0 || b.Start.After(s.bars[n-1].Start):
		s.bars = append(s.bars, b)
	case b.Start.Equal(s.bars[n-1].Start):
		s.bars[n-1] = b
	default:
		return fmt.Errorf("series %s: %w", s.Symbol, ErrOutOfOrder)
	}
	return nil
}

// Clear drops every bar.
func (s *Series) Clear() {
	s.mu.Lock()
	s.bars = nil
	s.mu.Unlock()
}

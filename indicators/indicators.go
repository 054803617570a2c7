// Package indicators provides streaming technical indicators over bar series
package indicators

import (
	"github.com/rustyeddy/tradesim/market"
	"github.com/shopspring/decimal"
)

// Indicator computes a single streaming value from bars. The newest bar
// is the forming bar: Append starts a new one (sealing the previous) and
// Revise replaces it. Both are O(1).
type Indicator interface {
	// Name returns a stable identifier like "EMA(20)".
	Name() string

	// Warmup returns how many bars are needed before Ready() can be true.
	Warmup() int

	// Reset clears all internal state.
	Reset()

	// Append seals the current forming bar and starts b as the new one.
	Append(b market.Bar)

	// Revise replaces the forming bar with b.
	Revise(b market.Bar)

	// Ready reports whether Value() is meaningful (warmup completed).
	Ready() bool

	// Value returns the current value including the forming bar, or zero
	// before Ready.
	Value() decimal.Decimal
}

// window is a fixed capacity ring of values. The newest slot can be
// overwritten in place.
type window struct {
	buf   []decimal.Decimal
	start int
	n     int
}

func newWindow(size int) *window {
	return &window{buf: make([]decimal.Decimal, size)}
}

// push appends v, returning the evicted value when the window was full.
func (w *window) push(v decimal.Decimal) (decimal.Decimal, bool) {
	if w.n < len(w.buf) {
		w.buf[(w.start+w.n)%len(w.buf)] = v
		w.n++
		return decimal.Zero, false
	}
	old := w.buf[w.start]
	w.buf[w.start] = v
	w.start = (w.start + 1) % len(w.buf)
	return old, true
}

// setLast overwrites the newest value and returns the previous one.
func (w *window) setLast(v decimal.Decimal) decimal.Decimal {
	if w.n == 0 {
		w.push(v)
		return decimal.Zero
	}
	i := (w.start + w.n - 1) % len(w.buf)
	old := w.buf[i]
	w.buf[i] = v
	return old
}

func (w *window) full() bool { return w.n == len(w.buf) }

func (w *window) reset() {
	w.start, w.n = 0, 0
}

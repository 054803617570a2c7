package indicators

import (
	"fmt"
	"math"

	"github.com/rustyeddy/tradesim/market"
	"github.com/shopspring/decimal"
)

// SimpleMA is a streaming simple moving average of closes.
type SimpleMA struct {
	period int
	win    *window
	sum    decimal.Decimal
}

func NewSMA(period int) *SimpleMA {
	return &SimpleMA{period: period, win: newWindow(period)}
}

func (m *SimpleMA) Name() string { return fmt.Sprintf("SMA(%d)", m.period) }
func (m *SimpleMA) Warmup() int { return m.period }

func (m *SimpleMA) Reset() {
	m.win.reset()
	m.sum = decimal.Zero
}

func (m *SimpleMA) Append(b market.Bar) {
	if old, evicted := m.win.push(b.Close); evicted {
		m.sum = m.sum.Sub(old)
	}
	m.sum = m.sum.Add(b.Close)
}

func (m *SimpleMA) Revise(b market.Bar) {
	m.sum = m.sum.Sub(m.win.setLast(b.Close)).Add(b.Close)
}

func (m *SimpleMA) Ready() bool { return m.win.full() }

func (m *SimpleMA) Value() decimal.Decimal {
	if !m.Ready() {
		return decimal.Zero
	}
	return m.sum.Div(decimal.NewFromInt(int64(m.period)))
}

// ExponentialMA seeds with the SMA of the first period closes, then
// applies (close-prev)*k + prev. The committed value covers sealed bars;
// the forming bar is applied on read.
type ExponentialMA struct {
	period     int
	multiplier decimal.Decimal
	ema        decimal.Decimal
	count      int
	warmupSum  decimal.Decimal
	forming    decimal.Decimal
	hasForming bool
}

func NewEMA(period int) *ExponentialMA {
	return &ExponentialMA{
		period:     period,
		multiplier: decimal.NewFromInt(2).Div(decimal.NewFromInt(int64(period + 1))),
	}
}

func (e *ExponentialMA) Name() string { return fmt.Sprintf("EMA(%d)", e.period) }
func (e *ExponentialMA) Warmup() int { return e.period }

func (e *ExponentialMA) Reset() {
	e.ema = decimal.Zero
	e.count = 0
	e.warmupSum = decimal.Zero
	e.forming = decimal.Zero
	e.hasForming = false
}

func (e *ExponentialMA) Append(b market.Bar) {
	if e.hasForming {
		e.ema = e.step(e.forming)
		if e.count < e.period {
			e.warmupSum = e.warmupSum.Add(e.forming)
		}
		e.count++
	}
	e.forming = b.Close
	e.hasForming = true
}

func (e *ExponentialMA) Revise(b market.Bar) {
	if !e.hasForming {
		e.Append(b)
		return
	}
	e.forming = b.Close
}

// step returns the value after folding c on top of the sealed bars.
func (e *ExponentialMA) step(c decimal.Decimal) decimal.Decimal {
	switch {
	case e.count+1 < e.period:
		return decimal.Zero
	case e.count+1 == e.period:
		return e.warmupSum.Add(c).Div(decimal.NewFromInt(int64(e.period)))
	default:
		return c.Sub(e.ema).Mul(e.multiplier).Add(e.ema)
	}
}

func (e *ExponentialMA) Ready() bool {
	return e.hasForming && e.count+1 >= e.period
}

func (e *ExponentialMA) Value() decimal.Decimal {
	if !e.Ready() {
		return decimal.Zero
	}
	return e.step(e.forming)
}

// StdDev is the rolling population standard deviation of closes. It
// keeps a running sum and sum of squares over a bounded window.
type StdDev struct {
	period int
	win    *window
	sum    decimal.Decimal
	sumSq  decimal.Decimal
}

func NewStdDev(period int) *StdDev {
	return &StdDev{period: period, win: newWindow(period)}
}

func (s *StdDev) Name() string { return fmt.Sprintf("STDDEV(%d)", s.period) }
func (s *StdDev) Warmup() int { return s.period }

func (s *StdDev) Reset() {
	s.win.reset()
	s.sum = decimal.Zero
	s.sumSq = decimal.Zero
}

func (s *StdDev) Append(b market.Bar) {
	if old, evicted := s.win.push(b.Close); evicted {
		s.remove(old)
	}
	s.add(b.Close)
}

func (s *StdDev) Revise(b market.Bar) {
	s.remove(s.win.setLast(b.Close))
	s.add(b.Close)
}

func (s *StdDev) add(v decimal.Decimal) {
	s.sum = s.sum.Add(v)
	s.sumSq = s.sumSq.Add(v.Mul(v))
}

func (s *StdDev) remove(v decimal.Decimal) {
	s.sum = s.sum.Sub(v)
	s.sumSq = s.sumSq.Sub(v.Mul(v))
}

func (s *StdDev) Ready() bool { return s.win.full() }

// Value is the population standard deviation of the window. The square
// root is taken in float64, so unlike the other indicators the result is
// not exact decimal.
func (s *StdDev) Value() decimal.Decimal {
	if !s.Ready() {
		return decimal.Zero
	}
	n := decimal.NewFromInt(int64(s.period))
	mean := s.sum.Div(n)
	variance := s.sumSq.Div(n).Sub(mean.Mul(mean))
	if variance.Sign() <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromFloat(math.Sqrt(variance.InexactFloat64()))
}

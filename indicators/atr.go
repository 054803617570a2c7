package indicators

import (
	"fmt"

	"github.com/rustyeddy/tradesim/market"
	"github.com/shopspring/decimal"
)

func trueRange(b market.Bar, prevClose decimal.Decimal, hasPrev bool) decimal.Decimal {
	hl := b.High.Sub(b.Low)
	if !hasPrev {
		return hl
	}
	return decimal.Max(hl, b.High.Sub(prevClose).Abs(), b.Low.Sub(prevClose).Abs())
}

// ATR is a streaming Average True Range with Wilder smoothing. The
// first bar only provides a previous close.
type ATR struct {
	period    int
	atr       decimal.Decimal
	count     int // true ranges folded into atr
	warmupSum decimal.Decimal
	sealed    int
	prevClose decimal.Decimal
	forming   market.Bar
	has       bool
}

func NewATR(period int) *ATR {
	return &ATR{period: period}
}

func (a *ATR) Name() string { return fmt.Sprintf("ATR(%d)", a.period) }

// Warmup is period+1 because a true range needs the previous close.
func (a *ATR) Warmup() int { return a.period + 1 }

func (a *ATR) Reset() {
	*a = ATR{period: a.period}
}

func (a *ATR) Append(b market.Bar) {
	if a.has {
		if a.sealed > 0 {
			a.atr = a.step(trueRange(a.forming, a.prevClose, true))
			if a.count < a.period {
				a.warmupSum = a.warmupSum.Add(trueRange(a.forming, a.prevClose, true))
			}
			a.count++
		}
		a.prevClose = a.forming.Close
		a.sealed++
	}
	a.forming = b
	a.has = true
}

func (a *ATR) Revise(b market.Bar) {
	if !a.has {
		a.Append(b)
		return
	}
	a.forming = b
}

func (a *ATR) step(tr decimal.Decimal) decimal.Decimal {
	p := decimal.NewFromInt(int64(a.period))
	switch {
	case a.count+1 < a.period:
		return decimal.Zero
	case a.count+1 == a.period:
		return a.warmupSum.Add(tr).Div(p)
	default:
		return a.atr.Mul(p.Sub(decimal.NewFromInt(1))).Add(tr).Div(p)
	}
}

func (a *ATR) Ready() bool {
	return a.has && a.sealed > 0 && a.count+1 >= a.period
}

func (a *ATR) Value() decimal.Decimal {
	if !a.Ready() {
		return decimal.Zero
	}
	return a.step(trueRange(a.forming, a.prevClose, true))
}

// SessionVWAP is the cumulative volume weighted price since the start
// of the UTC day of the first bar.
type SessionVWAP struct {
	day     int
	pv      decimal.Decimal
	vol     int64
	forming market.Bar
	has     bool
}

func NewVWAP() *SessionVWAP { return &SessionVWAP{} }

func (v *SessionVWAP) Name() string { return "VWAP" }
func (v *SessionVWAP) Warmup() int { return 1 }

func (v *SessionVWAP) Reset() { *v = SessionVWAP{} }

func dayOf(b market.Bar) int {
	y, m, d := b.Start.UTC().Date()
	return y*10000 + int(m)*100 + d
}

func (v *SessionVWAP) Append(b market.Bar) {
	if v.has {
		v.pv = v.pv.Add(price(v.forming).Mul(decimal.NewFromInt(v.forming.Volume)))
		v.vol += v.forming.Volume
	}
	if d := dayOf(b); d != v.day {
		v.day = d
		v.pv = decimal.Zero
		v.vol = 0
	}
	v.forming = b
	v.has = true
}

func (v *SessionVWAP) Revise(b market.Bar) {
	if !v.has {
		v.Append(b)
		return
	}
	v.forming = b
}

func price(b market.Bar) decimal.Decimal {
	if b.VWAP.IsZero() {
		return b.Close
	}
	return b.VWAP
}

func (v *SessionVWAP) Ready() bool { return v.has }

func (v *SessionVWAP) Value() decimal.Decimal {
	if !v.has {
		return decimal.Zero
	}
	vol := v.vol + v.forming.Volume
	if vol == 0 {
		return v.forming.Close
	}
	pv := v.pv.Add(price(v.forming).Mul(decimal.NewFromInt(v.forming.Volume)))
	return pv.Div(decimal.NewFromInt(vol))
}

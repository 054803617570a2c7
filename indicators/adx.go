package indicators

import (
	"fmt"

	"github.com/rustyeddy/tradesim/market"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// adxState is the Wilder state after the sealed bars. step returns a
// copy so the forming bar can be evaluated without committing it.
type adxState struct {
	n       int
	prev    market.Bar
	hasPrev bool
	periods int

	sumTR, sumPlusDM, sumMinusDM decimal.Decimal
	smTR, smPlusDM, smMinusDM    decimal.Decimal

	dxSum   decimal.Decimal
	dxCount int
	adx     decimal.Decimal
	ready   bool
}

func (s adxState) step(b market.Bar) adxState {
	if !s.hasPrev {
		s.prev, s.hasPrev = b, true
		return s
	}

	tr := trueRange(b, s.prev.Close, true)
	up := b.High.Sub(s.prev.High)
	down := s.prev.Low.Sub(b.Low)
	plusDM, minusDM := decimal.Zero, decimal.Zero
	if up.GreaterThan(down) && up.IsPositive() {
		plusDM = up
	}
	if down.GreaterThan(up) && down.IsPositive() {
		minusDM = down
	}
	s.periods++
	s.prev = b

	nf := decimal.NewFromInt(int64(s.n))
	if s.periods <= s.n {
		s.sumTR = s.sumTR.Add(tr)
		s.sumPlusDM = s.sumPlusDM.Add(plusDM)
		s.sumMinusDM = s.sumMinusDM.Add(minusDM)
		if s.periods == s.n {
			s.smTR, s.smPlusDM, s.smMinusDM = s.sumTR, s.sumPlusDM, s.sumMinusDM
			s.dxSum = directionalIndex(s.smPlusDM, s.smMinusDM, s.smTR)
			s.dxCount = 1
			s.ready = s.n == 1
			if s.ready {
				s.adx = s.dxSum
			}
		}
		return s
	}

	s.smTR = s.smTR.Sub(s.smTR.Div(nf)).Add(tr)
	s.smPlusDM = s.smPlusDM.Sub(s.smPlusDM.Div(nf)).Add(plusDM)
	s.smMinusDM = s.smMinusDM.Sub(s.smMinusDM.Div(nf)).Add(minusDM)
	dx := directionalIndex(s.smPlusDM, s.smMinusDM, s.smTR)

	if s.ready {
		s.adx = s.adx.Mul(nf.Sub(decimal.NewFromInt(1))).Add(dx).Div(nf)
		return s
	}
	s.dxSum = s.dxSum.Add(dx)
	s.dxCount++
	if s.dxCount >= s.n {
		s.adx = s.dxSum.Div(nf)
		s.ready = true
	}
	return s
}

// directionalIndex is DX: 100 * |+DI - -DI| / (+DI + -DI).
func directionalIndex(smPlusDM, smMinusDM, smTR decimal.Decimal) decimal.Decimal {
	if !smTR.IsPositive() {
		return decimal.Zero
	}
	plusDI := hundred.Mul(smPlusDM).Div(smTR)
	minusDI := hundred.Mul(smMinusDM).Div(smTR)
	den := plusDI.Add(minusDI)
	if !den.IsPositive() {
		return decimal.Zero
	}
	return hundred.Mul(plusDI.Sub(minusDI).Abs()).Div(den)
}

// ADX is Wilder's Average Directional Index. It reads 0 to 100 and
// needs about two periods of bars before it is ready.
type ADX struct {
	sealed  adxState
	forming market.Bar
	has     bool
}

func NewADX(period int) *ADX {
	return &ADX{sealed: adxState{n: period}}
}

func (a *ADX) Name() string { return fmt.Sprintf("ADX(%d)", a.sealed.n) }
func (a *ADX) Warmup() int  { return 2 * a.sealed.n }

func (a *ADX) Reset() {
	*a = ADX{sealed: adxState{n: a.sealed.n}}
}

func (a *ADX) Append(b market.Bar) {
	if a.has {
		a.sealed = a.sealed.step(a.forming)
	}
	a.forming, a.has = b, true
}

func (a *ADX) Revise(b market.Bar) {
	if !a.has {
		a.Append(b)
		return
	}
	a.forming = b
}

func (a *ADX) current() adxState {
	if !a.has {
		return a.sealed
	}
	return a.sealed.step(a.forming)
}

func (a *ADX) Ready() bool { return a.current().ready }

func (a *ADX) Value() decimal.Decimal {
	s := a.current()
	if !s.ready {
		return decimal.Zero
	}
	return s.adx
}

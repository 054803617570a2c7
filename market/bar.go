package market

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrBadBar     = errors.New("bar violates high/low bounds")
	ErrOutOfOrder = errors.New("bar is older than the forming bar")
	ErrRollup     = errors.New("rollup factor does not divide bar size")
	ErrNoCandles  = errors.New("no candles found")
)

// Bar is an OHLCV summary for one period. The last bar of a Series is
// the forming bar and may still be revised; every earlier bar is sealed.
type Bar struct {
	Start      time.Time
	End        time.Time
	Open       decimal.Decimal
	High       decimal.Decimal
	Low        decimal.Decimal
	Close      decimal.Decimal
	Volume     int64
	VWAP       decimal.Decimal
	Count      int64
	LastUpdate time.Time
}

// Green reports an up bar (close above open).
func (b Bar) Green() bool {
	return b.Close.GreaterThan(b.Open)
}

// Duration returns End-Start in whole seconds, or 0 when End is unset.
func (b Bar) Duration() int64 {
	if b.End.IsZero() {
		return 0
	}
	return int64(b.End.Sub(b.Start) / time.Second)
}

func (b Bar) Validate() error {
	if b.High.LessThan(decimal.Max(b.Open, b.Close)) || b.Low.GreaterThan(decimal.Min(b.Open, b.Close)) {
		return fmt.Errorf("%w: o=%s h=%s l=%s c=%s at %s",
			ErrBadBar, b.Open, b.High, b.Low, b.Close, b.Start.UTC().Format(time.RFC3339))
	}
	if b.Volume < 0 {
		return fmt.Errorf("%w: negative volume %d", ErrBadBar, b.Volume)
	}
	return nil
}

func (b Bar) String() string {
	return fmt.Sprintf("%s o=%s h=%s l=%s c=%s v=%d",
		b.Start.UTC().Format(time.RFC3339), b.Open, b.High, b.Low, b.Close, b.Volume)
}

// Merge folds next into b as if both covered the same period. Open and
// Start are kept from b; the volume weighted average is recomputed.
func Merge(b, next Bar) Bar {
	out := b
	out.High = decimal.Max(b.High, next.High)
	out.Low = decimal.Min(b.Low, next.Low)
	out.Close = next.Close
	total := b.Volume + next.Volume
	if total > 0 {
		num := b.VWAP.Mul(decimal.NewFromInt(b.Volume)).Add(next.VWAP.Mul(decimal.NewFromInt(next.Volume)))
		out.VWAP = num.Div(decimal.NewFromInt(total))
	} else {
		out.VWAP = next.VWAP
	}
	out.Volume = total
	out.Count = b.Count + next.Count
	if next.LastUpdate.After(out.LastUpdate) {
		out.LastUpdate = next.LastUpdate
	}
	return out
}

// PeriodStart truncates t to the start of its barSize period (epoch aligned).
func PeriodStart(t time.Time, barSize int64) time.Time {
	u := t.Unix()
	p := u - mod(u, barSize)
	return time.Unix(p, 0).UTC()
}

func mod(a, b int64) int64 {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}

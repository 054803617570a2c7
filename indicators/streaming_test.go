package indicators

import (
	"math"
	"testing"
	"time"

	"github.com/rustyeddy/tradesim/market"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2024, 1, 2, 14, 30, 0, 0, time.UTC)

func bar(i int, close float64) market.Bar {
	c := decimal.NewFromFloat(close)
	return market.Bar{
		Start:  baseTime.Add(time.Duration(i) * time.Minute),
		Open:   c,
		High:   c.Add(decimal.NewFromInt(1)),
		Low:    c.Sub(decimal.NewFromInt(1)),
		Close:  c,
		Volume: 100,
		VWAP:   c,
	}
}

var closes = []float64{102, 105, 106, 108, 110, 111, 113}

func feed(ind Indicator, cs []float64) {
	for i, c := range cs {
		ind.Append(bar(i, c))
	}
}

// feedWithRevisions appends a wrong close first and revises it to the
// real one, as a forming bar would.
func feedWithRevisions(ind Indicator, cs []float64) {
	for i, c := range cs {
		ind.Append(bar(i, c-7))
		ind.Revise(bar(i, c+3))
		ind.Revise(bar(i, c))
	}
}

func f64(d decimal.Decimal) float64 { return d.InexactFloat64() }

func TestSimpleMAStreaming(t *testing.T) {
	t.Run("basic functionality", func(t *testing.T) {
		ma := NewSMA(3)
		assert.Equal(t, "SMA(3)", ma.Name())
		assert.Equal(t, 3, ma.Warmup())
		assert.False(t, ma.Ready())
		assert.True(t, ma.Value().IsZero())

		feed(ma, closes[:3])
		assert.True(t, ma.Ready())
		assert.InDelta(t, (102.0+105.0+106.0)/3.0, f64(ma.Value()), 0.0001)

		ma.Append(bar(3, 108))
		assert.InDelta(t, (105.0+106.0+108.0)/3.0, f64(ma.Value()), 0.0001)
	})

	t.Run("revise replaces the forming bar", func(t *testing.T) {
		a, b := NewSMA(3), NewSMA(3)
		feed(a, closes)
		feedWithRevisions(b, closes)
		assert.True(t, a.Value().Equal(b.Value()))
	})

	t.Run("reset functionality", func(t *testing.T) {
		ma := NewSMA(2)
		feed(ma, closes[:2])
		assert.True(t, ma.Ready())
		ma.Reset()
		assert.False(t, ma.Ready())
	})
}

func TestExponentialMAStreaming(t *testing.T) {
	t.Run("basic functionality", func(t *testing.T) {
		ema := NewEMA(3)
		assert.Equal(t, "EMA(3)", ema.Name())
		assert.False(t, ema.Ready())

		feed(ema, closes[:2])
		assert.False(t, ema.Ready())

		ema.Append(bar(2, 106))
		require.True(t, ema.Ready())
		expectedSMA := (102.0 + 105.0 + 106.0) / 3.0
		assert.InDelta(t, expectedSMA, f64(ema.Value()), 0.0001)

		// multiplier = 2/(3+1) = 0.5
		ema.Append(bar(3, 108))
		expectedEMA := (108.0-expectedSMA)*0.5 + expectedSMA
		assert.InDelta(t, expectedEMA, f64(ema.Value()), 0.0001)

		ema.Revise(bar(3, 110))
		assert.InDelta(t, (110.0-expectedSMA)*0.5+expectedSMA, f64(ema.Value()), 0.0001)
	})

	t.Run("revise replaces the forming bar", func(t *testing.T) {
		a, b := NewEMA(3), NewEMA(3)
		feed(a, closes)
		feedWithRevisions(b, closes)
		assert.InDelta(t, f64(a.Value()), f64(b.Value()), 1e-9)
	})

	t.Run("reset functionality", func(t *testing.T) {
		ema := NewEMA(2)
		feed(ema, closes[:2])
		assert.True(t, ema.Ready())
		ema.Reset()
		assert.False(t, ema.Ready())
		assert.True(t, ema.Value().IsZero())
	})
}

func TestStdDevStreaming(t *testing.T) {
	sd := NewStdDev(4)
	feed(sd, closes[:3])
	assert.False(t, sd.Ready())

	feed(sd, closes)
	require.True(t, sd.Ready())

	// population deviation of the last 4 closes
	last := closes[len(closes)-4:]
	mean := 0.0
	for _, c := range last {
		mean += c
	}
	mean /= 4
	v := 0.0
	for _, c := range last {
		v += (c - mean) * (c - mean)
	}
	assert.InDelta(t, math.Sqrt(v/4), f64(sd.Value()), 0.0001)

	rev := NewStdDev(4)
	feedWithRevisions(rev, closes)
	assert.InDelta(t, f64(sd.Value()), f64(rev.Value()), 1e-9)

	flat := NewStdDev(3)
	feed(flat, []float64{5, 5, 5})
	assert.True(t, flat.Value().IsZero())
}

func TestATRStreaming(t *testing.T) {
	atr := NewATR(3)
	assert.Equal(t, 4, atr.Warmup())
	feed(atr, closes[:3])
	assert.False(t, atr.Ready())

	atr.Append(bar(3, closes[3]))
	require.True(t, atr.Ready())
	// true ranges: max(2, |h-prevClose|, |l-prevClose|) for each step
	trs := []float64{4, 2, 3}
	assert.InDelta(t, (trs[0]+trs[1]+trs[2])/3, f64(atr.Value()), 0.0001)

	rev := NewATR(3)
	feedWithRevisions(rev, closes)
	full := NewATR(3)
	feed(full, closes)
	assert.InDelta(t, f64(full.Value()), f64(rev.Value()), 1e-9)
}

func TestADXStreaming(t *testing.T) {
	up := []float64{100, 101, 102, 103, 104, 105, 106, 107}

	adx := NewADX(3)
	assert.Equal(t, "ADX(3)", adx.Name())
	assert.Equal(t, 6, adx.Warmup())
	feed(adx, up[:5])
	assert.False(t, adx.Ready())
	assert.True(t, adx.Value().IsZero())

	adx.Append(bar(5, up[5]))
	require.True(t, adx.Ready())
	assert.InDelta(t, 100.0, f64(adx.Value()), 1e-6)

	flat := NewADX(3)
	feed(flat, []float64{100, 100, 100, 100, 100, 100, 100})
	require.True(t, flat.Ready())
	assert.InDelta(t, 0.0, f64(flat.Value()), 1e-9)

	rev := NewADX(3)
	feedWithRevisions(rev, closes)
	full := NewADX(3)
	feed(full, closes)
	require.True(t, full.Ready())
	assert.InDelta(t, f64(full.Value()), f64(rev.Value()), 1e-9)

	full.Reset()
	assert.False(t, full.Ready())
}

func TestSessionVWAP(t *testing.T) {
	v := NewVWAP()
	v.Append(bar(0, 100))
	v.Append(bar(1, 110))
	assert.InDelta(t, 105.0, f64(v.Value()), 0.0001)

	next := bar(2, 50)
	next.Start = baseTime.Add(24 * time.Hour)
	v.Append(next)
	assert.InDelta(t, 50.0, f64(v.Value()), 0.0001)
}

func TestRegistry(t *testing.T) {
	for _, tag := range []string{"sma", "EMA", "stddev", "atr", "adx", "vwap"} {
		ind, err := New(tag, 5)
		require.NoError(t, err, tag)
		assert.NotEmpty(t, ind.Name())
	}

	_, err := New("rsi", 14)
	assert.ErrorContains(t, err, "unknown indicator")

	_, err = New("sma", 0)
	assert.Error(t, err)

	Register("sma2", func(p int) (Indicator, error) { return NewSMA(p * 2), nil })
	ind, err := New("sma2", 5)
	require.NoError(t, err)
	assert.Equal(t, "SMA(10)", ind.Name())
	assert.Contains(t, Tags(), "sma2")
}

func TestIndicatorInterface(t *testing.T) {
	var _ Indicator = &SimpleMA{}
	var _ Indicator = &ExponentialMA{}
	var _ Indicator = &StdDev{}
	var _ Indicator = &ATR{}
	var _ Indicator = &ADX{}
	var _ Indicator = &SessionVWAP{}
}

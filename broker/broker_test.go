package broker

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ts = time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func fill(action Action, qty, price string, at time.Time) Fill {
	q := dec(qty)
	return Fill{
		ExecID:     "x",
		Symbol:     "AAPL",
		Action:     action,
		Price:      dec(price),
		Quantity:   q,
		Commission: Commission(q),
		Time:       at,
	}
}

func TestCommission(t *testing.T) {
	t.Parallel()

	tests := []struct {
		qty  string
		want string
	}{
		{"1", "1"},
		{"100", "1"},
		{"200", "1"},
		{"201", "1.005"},
		{"1000", "5"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.qty, func(t *testing.T) {
			t.Parallel()
			assert.True(t, Commission(dec(tt.qty)).Equal(dec(tt.want)), Commission(dec(tt.qty)).String())
		})
	}
}

func TestPositionLifecycle(t *testing.T) {
	t.Run("first fill opens with signed quantity", func(t *testing.T) {
		p := NewPosition("p1", fill(Buy, "100", "50", ts))
		assert.True(t, p.IsOpen())
		assert.Equal(t, Long, p.Side)
		assert.True(t, p.OpenQuantity.Equal(dec("100")))
		assert.Equal(t, ts, p.OpenTime)

		s := NewPosition("p2", fill(Sell, "40", "50", ts))
		assert.Equal(t, Short, s.Side)
		assert.True(t, s.OpenQuantity.Equal(dec("-40")))
	})

	t.Run("opposite fill to zero closes", func(t *testing.T) {
		p := NewPosition("p1", fill(Buy, "100", "50", ts))
		closed, rest, err := p.Apply(fill(Sell, "60", "51", ts.Add(time.Minute)))
		require.NoError(t, err)
		assert.False(t, closed)
		assert.Nil(t, rest)
		assert.True(t, p.OpenQuantity.Equal(dec("40")))

		closed, rest, err = p.Apply(fill(Sell, "40", "52", ts.Add(2*time.Minute)))
		require.NoError(t, err)
		assert.True(t, closed)
		assert.Nil(t, rest)
		assert.False(t, p.IsOpen())
		assert.Equal(t, ts.Add(2*time.Minute), p.CloseTime)

		// 60*51 + 40*52 - 100*50 - 3 commissions of 1
		assert.True(t, p.RealizedPL().Equal(dec("137")), p.RealizedPL().String())

		_, _, err = p.Apply(fill(Buy, "1", "50", ts))
		assert.ErrorIs(t, err, ErrPositionClosed)
	})

	t.Run("crossing zero returns the remainder", func(t *testing.T) {
		p := NewPosition("p1", fill(Buy, "100", "50", ts))
		f := fill(Sell, "300", "49", ts.Add(time.Minute))
		closed, rest, err := p.Apply(f)
		require.NoError(t, err)
		assert.True(t, closed)
		require.NotNil(t, rest)
		assert.True(t, rest.Quantity.Equal(dec("200")))
		assert.True(t, p.SellQuantity.Equal(dec("100")))
		assert.True(t, rest.Commission.Add(p.Commission.Sub(dec("1"))).Equal(f.Commission))
	})

	t.Run("average price", func(t *testing.T) {
		p := NewPosition("p1", fill(Buy, "100", "50", ts))
		_, _, err := p.Apply(fill(Buy, "100", "52", ts))
		require.NoError(t, err)
		assert.True(t, p.AvgPrice().Equal(dec("51")))
	})
}

func TestParse(t *testing.T) {
	a, err := ParseAction("sell")
	require.NoError(t, err)
	assert.Equal(t, Sell, a)

	ot, err := ParseOrderType("stop-limit")
	require.NoError(t, err)
	assert.Equal(t, StopLimit, ot)
	assert.True(t, Trail.IsTrailing())

	_, err = ParseOrderType("iceberg")
	assert.Error(t, err)
}

func TestOrderRequestValidate(t *testing.T) {
	t.Parallel()

	base := OrderRequest{Symbol: "AAPL", Action: Buy, Type: Market, Quantity: dec("10")}
	with := func(mut func(*OrderRequest)) OrderRequest {
		r := base
		mut(&r)
		return r
	}

	tests := []struct {
		name    string
		req     OrderRequest
		wantErr bool
	}{
		{"market", base, false},
		{"no symbol", with(func(r *OrderRequest) { r.Symbol = "" }), true},
		{"bad action", with(func(r *OrderRequest) { r.Action = "HOLD" }), true},
		{"bad type", with(func(r *OrderRequest) { r.Type = "MOC" }), true},
		{"zero quantity", with(func(r *OrderRequest) { r.Quantity = decimal.Zero }), true},
		{"limit without price", with(func(r *OrderRequest) { r.Type = Limit }), true},
		{"limit", with(func(r *OrderRequest) { r.Type = Limit; r.LimitPrice = dec("99") }), false},
		{"stop without price", with(func(r *OrderRequest) { r.Type = Stop }), true},
		{"stop limit needs both", with(func(r *OrderRequest) { r.Type = StopLimit; r.AuxPrice = dec("100") }), true},
		{"stop limit", with(func(r *OrderRequest) {
			r.Type = StopLimit
			r.AuxPrice = dec("100")
			r.LimitPrice = dec("100.05")
		}), false},
		{"trail without distance", with(func(r *OrderRequest) { r.Type = Trail }), true},
		{"trail percent", with(func(r *OrderRequest) { r.Type = Trail; r.TrailPercent = dec("1") }), false},
		{"trail limit negative offset", with(func(r *OrderRequest) {
			r.Type = TrailLimit
			r.TrailAmount = dec("0.5")
			r.LimitOffset = dec("-0.1")
		}), true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.req.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidOrder)
				return
			}
			assert.NoError(t, err)
		})
	}
}

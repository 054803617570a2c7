package pgstore

import (
	"context"
	"errors"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/rustyeddy/tradesim/market"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

var startTime = time.Date(2024, 3, 4, 14, 30, 0, 0, time.UTC)

type mockCandleQueries struct {
	err  error
	rows []candleRow
	got  struct {
		symbol  string
		barSize int64
	}
}

func (m *mockCandleQueries) findCandles(_ context.Context, symbol string, barSize int64, start, end time.Time) ([]candleRow, error) {
	m.got.symbol, m.got.barSize = symbol, barSize
	if m.err != nil {
		return nil, m.err
	}
	var out []candleRow
	for _, r := range m.rows {
		if !r.StartTime.Before(start) && r.StartTime.Before(end) {
			out = append(out, r)
		}
	}
	return out, nil
}

func row(i int, o, h, l, c string) candleRow {
	ny, _ := time.LoadLocation("America/New_York")
	return candleRow{
		StartTime: startTime.Add(time.Duration(i) * 5 * time.Minute).In(ny),
		Open:      decimal.RequireFromString(o),
		High:      decimal.RequireFromString(h),
		Low:       decimal.RequireFromString(l),
		Close:     decimal.RequireFromString(c),
		Volume:    500,
	}
}

func TestFindCandles(t *testing.T) {
	dbErr := errors.New("connection reset")

	tests := []struct {
		name    string
		rows    []candleRow
		err     error
		want    int
		wantErr error
	}{
		{"no rows", nil, nil, 0, market.ErrNoCandles},
		{"query error", nil, dbErr, 0, dbErr},
		{"rows in range", []candleRow{
			row(0, "100", "101", "99.5", "100.5"),
			row(1, "100.5", "102", "100.25", "101.75"),
			row(20, "1", "1", "1", "1"),
		}, nil, 2, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &mockCandleQueries{rows: tt.rows, err: tt.err}
			s := &Store{candles: q}
			got, err := s.FindCandles(context.Background(), "AAPL", startTime, startTime.Add(time.Hour), 300)
			assert.Equal(t, "AAPL", q.got.symbol)
			assert.Equal(t, int64(300), q.got.barSize)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Len(t, got, tt.want)
			assert.Equal(t, startTime, got[0].Start)
			assert.Equal(t, startTime.Add(5*time.Minute), got[0].End)
			assert.Equal(t, got[1].End, got[1].LastUpdate)
			assert.True(t, got[1].High.Equal(decimal.NewFromInt(102)))
		})
	}
}

func TestFindCandlesSkipsMalformedRows(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	q := &mockCandleQueries{rows: []candleRow{
		row(0, "100", "101", "99.5", "100.5"),
		row(1, "100", "99", "98", "100"), // high below open
		row(2, "100.5", "102", "100.25", "101.75"),
	}}
	s := &Store{candles: q, log: zap.New(core)}

	got, err := s.FindCandles(context.Background(), "AAPL", startTime, startTime.Add(time.Hour), 300)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, startTime, got[0].Start)
	assert.Equal(t, startTime.Add(10*time.Minute), got[1].Start)

	warned := logs.FilterMessage("skipping malformed candle").All()
	require.Len(t, warned, 1)
	assert.Equal(t, "AAPL", warned[0].ContextMap()["symbol"])

	q.rows = q.rows[1:2]
	_, err = s.FindCandles(context.Background(), "AAPL", startTime, startTime.Add(time.Hour), 300)
	assert.ErrorIs(t, err, market.ErrNoCandles)
}

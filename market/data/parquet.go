// Package data moves bars in and out of columnar files.
package data

import (
	"fmt"
	"sort"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/rustyeddy/tradesim/market"
	"github.com/shopspring/decimal"
)

// Row is one bar in the polygon aggregate layout used by crawlers:
// millisecond start time and float prices.
type Row struct {
	Timestamp    int64   `json:"t" parquet:"t"`
	Open         float64 `json:"o" parquet:"o"`
	High         float64 `json:"h" parquet:"h"`
	Low          float64 `json:"l" parquet:"l"`
	Close        float64 `json:"c" parquet:"c"`
	Volume       int64   `json:"v" parquet:"v"`
	VWAP         float64 `json:"vw,omitempty" parquet:"vw,optional"`
	Transactions int64   `json:"n,omitempty" parquet:"n,optional"`
}

// Bar converts r to a sealed bar of barSize seconds.
func (r Row) Bar(barSize int64) market.Bar {
	start := time.UnixMilli(r.Timestamp).UTC()
	end := start.Add(time.Duration(barSize) * time.Second)
	return market.Bar{
		Start:      start,
		End:        end,
		Open:       decimal.NewFromFloat(r.Open),
		High:       decimal.NewFromFloat(r.High),
		Low:        decimal.NewFromFloat(r.Low),
		Close:      decimal.NewFromFloat(r.Close),
		Volume:     r.Volume,
		VWAP:       decimal.NewFromFloat(r.VWAP),
		Count:      r.Transactions,
		LastUpdate: end,
	}
}

func RowFromBar(b market.Bar) Row {
	return Row{
		Timestamp:    b.Start.UnixMilli(),
		Open:         b.Open.InexactFloat64(),
		High:         b.High.InexactFloat64(),
		Low:          b.Low.InexactFloat64(),
		Close:        b.Close.InexactFloat64(),
		Volume:       b.Volume,
		VWAP:         b.VWAP.InexactFloat64(),
		Transactions: b.Count,
	}
}

// ReadParquet loads the bars in path, oldest first. Every bar must be
// well formed.
func ReadParquet(path string, barSize int64) ([]market.Bar, error) {
	if barSize <= 0 {
		return nil, fmt.Errorf("bar size must be positive, got %d", barSize)
	}
	rows, err := parquet.ReadFile[Row](path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Timestamp < rows[j].Timestamp })

	bars := make([]market.Bar, 0, len(rows))
	for i, r := range rows {
		b := r.Bar(barSize)
		if err := b.Validate(); err != nil {
			return nil, fmt.Errorf("%s row %d: %w", path, i, err)
		}
		bars = append(bars, b)
	}
	return bars, nil
}

func WriteParquet(path string, bars []market.Bar) error {
	rows := make([]Row, len(bars))
	for i, b := range bars {
		rows[i] = RowFromBar(b)
	}
	if err := parquet.WriteFile(path, rows); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

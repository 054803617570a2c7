package broker

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var ErrPositionClosed = errors.New("position already closed")

type Side string

const (
	Long  Side = "LONG"
	Short Side = "SHORT"
)

// SideOf maps a bar direction to the side that profits from it.
func SideOf(green bool) Side {
	if green {
		return Long
	}
	return Short
}

// Position aggregates the fills of one instrument within a run.
// OpenQuantity is signed: positive long, negative short.
type Position struct {
	ID           string
	Symbol       string
	Side         Side
	OpenQuantity decimal.Decimal
	BuyQuantity  decimal.Decimal
	BuyValue     decimal.Decimal
	SellQuantity decimal.Decimal
	SellValue    decimal.Decimal
	Commission   decimal.Decimal
	OpenTime     time.Time
	CloseTime    time.Time
	Version      int64
}

// NewPosition opens a position from its first fill.
func NewPosition(id string, f Fill) Position {
	p := Position{
		ID:       id,
		Symbol:   f.Symbol,
		Side:     Long,
		OpenTime: f.Time,
	}
	if f.Action == Sell {
		p.Side = Short
	}
	p.add(f)
	p.OpenQuantity = f.Signed()
	return p
}

func (p Position) IsOpen() bool {
	return p.CloseTime.IsZero() && !p.OpenQuantity.IsZero()
}

// AvgPrice is the average entry price on the position's side.
func (p Position) AvgPrice() decimal.Decimal {
	if p.Side == Short {
		if p.SellQuantity.IsZero() {
			return decimal.Zero
		}
		return p.SellValue.Div(p.SellQuantity)
	}
	if p.BuyQuantity.IsZero() {
		return decimal.Zero
	}
	return p.BuyValue.Div(p.BuyQuantity)
}

// RealizedPL is sell value minus buy value minus commission. It is only
// meaningful once the position is closed.
func (p Position) RealizedPL() decimal.Decimal {
	return p.SellValue.Sub(p.BuyValue).Sub(p.Commission)
}

// Apply adds a fill to an open position. A fill that crosses zero
// closes the position with the part that flattens it and returns the
// remainder, which the caller opens as a new position.
func (p *Position) Apply(f Fill) (closed bool, rest *Fill, err error) {
	if !p.IsOpen() {
		return false, nil, ErrPositionClosed
	}

	next := p.OpenQuantity.Add(f.Signed())
	if !next.IsZero() && next.Sign() != p.OpenQuantity.Sign() {
		flat := p.OpenQuantity.Abs()
		part := f
		part.Quantity = flat
		part.Commission = f.Commission.Mul(flat).Div(f.Quantity)

		r := f
		r.Quantity = f.Quantity.Sub(flat)
		r.Commission = f.Commission.Sub(part.Commission)
		rest = &r

		f = part
		next = decimal.Zero
	}

	p.add(f)
	p.OpenQuantity = next
	if next.IsZero() {
		p.CloseTime = f.Time
		closed = true
	}
	return closed, rest, nil
}

func (p *Position) add(f Fill) {
	value := f.Quantity.Mul(f.Price)
	if f.Action == Buy {
		p.BuyQuantity = p.BuyQuantity.Add(f.Quantity)
		p.BuyValue = p.BuyValue.Add(value)
	} else {
		p.SellQuantity = p.SellQuantity.Add(f.Quantity)
		p.SellValue = p.SellValue.Add(value)
	}
	p.Commission = p.Commission.Add(f.Commission)
}

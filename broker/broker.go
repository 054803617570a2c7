package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rustyeddy/tradesim/market"
	"github.com/shopspring/decimal"
)

// ErrStaleSnapshot is returned when a position or order changed under
// the caller since it was read. Callers re-read and retry.
var ErrStaleSnapshot = errors.New("stale order snapshot")

var ErrInvalidOrder = errors.New("invalid order")

// Broker is the surface strategies trade against. The replay simulator
// implements it; a live broker would too.
type Broker interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (Order, error)
	CancelOrder(ctx context.Context, orderID string) error
	OpenPosition(ctx context.Context, symbol string) (*Position, error)
	Quote(symbol string) (market.Quote, error)
	Now() time.Time
}

// OrderRequest is what a strategy asks a broker to place. Prices the
// order type does not use are ignored.
type OrderRequest struct {
	Symbol         string
	Action         Action
	Type           OrderType
	Quantity       decimal.Decimal
	LimitPrice     decimal.Decimal
	AuxPrice       decimal.Decimal
	TrailAmount    decimal.Decimal
	TrailPercent   decimal.Decimal
	TrailStopPrice decimal.Decimal
	LimitOffset    decimal.Decimal
	OCAGroup       string
}

// Fill is one synthetic execution against a candle.
type Fill struct {
	ExecID     string
	OrderID    string
	Symbol     string
	Action     Action
	Price      decimal.Decimal
	Quantity   decimal.Decimal
	Commission decimal.Decimal
	Time       time.Time
}

// Signed returns the fill quantity, negative for sells.
func (f Fill) Signed() decimal.Decimal {
	if f.Action == Sell {
		return f.Quantity.Neg()
	}
	return f.Quantity
}

// OrderSet is the pending orders of a run as of Version.
type OrderSet struct {
	Version  int64
	Orders   []Order
	Position *Position
}

func (s OrderSet) PositionOpen() bool {
	return s.Position != nil && s.Position.IsOpen()
}

// Validate checks that req carries the prices its order type needs.
func (req OrderRequest) Validate() error {
	if req.Symbol == "" {
		return fmt.Errorf("%w: missing symbol", ErrInvalidOrder)
	}
	if req.Action != Buy && req.Action != Sell {
		return fmt.Errorf("%w: action %q", ErrInvalidOrder, req.Action)
	}
	if !req.Type.Valid() {
		return fmt.Errorf("%w: order type %q", ErrInvalidOrder, req.Type)
	}
	if req.Quantity.Sign() <= 0 {
		return fmt.Errorf("%w: quantity %s", ErrInvalidOrder, req.Quantity)
	}

	switch req.Type {
	case Limit:
		if req.LimitPrice.Sign() <= 0 {
			return fmt.Errorf("%w: LMT needs a limit price", ErrInvalidOrder)
		}
	case Stop:
		if req.AuxPrice.Sign() <= 0 {
			return fmt.Errorf("%w: STP needs a stop price", ErrInvalidOrder)
		}
	case StopLimit:
		if req.AuxPrice.Sign() <= 0 || req.LimitPrice.Sign() <= 0 {
			return fmt.Errorf("%w: STP LMT needs stop and limit prices", ErrInvalidOrder)
		}
	case Trail, TrailLimit:
		if req.TrailAmount.Sign() <= 0 && req.TrailPercent.Sign() <= 0 {
			return fmt.Errorf("%w: %s needs a trail amount or percent", ErrInvalidOrder, req.Type)
		}
		if req.TrailAmount.Sign() < 0 || req.TrailPercent.Sign() < 0 || req.LimitOffset.Sign() < 0 {
			return fmt.Errorf("%w: negative trail parameters", ErrInvalidOrder)
		}
	}
	return nil
}

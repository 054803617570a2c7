package sim

import (
	"context"
	"time"

	"github.com/rustyeddy/tradesim/broker"
	"github.com/rustyeddy/tradesim/market"
	"github.com/shopspring/decimal"
)

// CandleSource reads stored candles. It returns market.ErrNoCandles
// when the range is empty.
type CandleSource interface {
	FindCandles(ctx context.Context, symbol string, start, end time.Time, barSize int64) ([]market.Bar, error)
}

// OrderStore persists the orders, fills and positions of replay runs.
type OrderStore interface {
	FindPendingOrders(ctx context.Context, runID string) (broker.OrderSet, error)
	FindLastKnownVersion(ctx context.Context, runID string) (int64, error)
	FindOpenPosition(ctx context.Context, runID, symbol string) (*broker.Position, error)
	GetPosition(ctx context.Context, positionID string) (broker.Position, error)
	InsertOrder(ctx context.Context, o broker.Order) error
	RecordExecution(ctx context.Context, orderID string, f broker.Fill) error
	LastExecSeq(ctx context.Context, runID string) (int64, error)
	UpdateOrderStatus(ctx context.Context, orderID string, status broker.OrderStatus, commission decimal.Decimal) error
	UpdateOrderTrail(ctx context.Context, orderID string, aux, limit, distance decimal.Decimal) error
}

// PositionListener is told when fills open or flatten a position. The
// strategy layer uses it to place and retire protective orders.
type PositionListener interface {
	OnPositionOpened(ctx context.Context, pos broker.Position)
	OnPositionClosed(ctx context.Context, pos broker.Position)
}

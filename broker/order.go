package broker

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Action string

const (
	Buy  Action = "BUY"
	Sell Action = "SELL"
)

func (a Action) Opposite() Action {
	if a == Buy {
		return Sell
	}
	return Buy
}

type OrderType string

const (
	Market     OrderType = "MKT"
	Limit      OrderType = "LMT"
	Stop       OrderType = "STP"
	StopLimit  OrderType = "STP LMT"
	Trail      OrderType = "TRAIL"
	TrailLimit OrderType = "TRAIL LIMIT"
)

// IsTrailing reports whether the stop price moves with the market.
func (t OrderType) IsTrailing() bool {
	return t == Trail || t == TrailLimit
}

func (t OrderType) Valid() bool {
	switch t {
	case Market, Limit, Stop, StopLimit, Trail, TrailLimit:
		return true
	}
	return false
}

type OrderStatus string

const (
	Unsubmitted OrderStatus = "UNSUBMITTED"
	Submitted   OrderStatus = "SUBMITTED"
	Filled      OrderStatus = "FILLED"
	Cancelled   OrderStatus = "CANCELLED"
)

// Pending reports whether the order can still fill.
func (s OrderStatus) Pending() bool {
	return s == Unsubmitted || s == Submitted
}

type Order struct {
	ID       string
	RunID    string
	Symbol   string
	Action   Action
	Type     OrderType
	Quantity decimal.Decimal

	LimitPrice decimal.Decimal
	AuxPrice   decimal.Decimal

	TrailAmount    decimal.Decimal
	TrailPercent   decimal.Decimal
	TrailStopPrice decimal.Decimal

	// LimitOffset places the limit of a TRAIL LIMIT order this far
	// beyond its stop.
	LimitOffset decimal.Decimal

	// TrailDistance is resolved the first time a trailing order is
	// evaluated. Zero means the stop has not been initialized.
	TrailDistance decimal.Decimal

	OCAGroup   string
	Transmit   bool
	Status     OrderStatus
	Commission decimal.Decimal
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (o Order) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s %s", o.Action, o.Quantity, o.Symbol, o.Type)
	if !o.LimitPrice.IsZero() {
		fmt.Fprintf(&b, " lmt=%s", o.LimitPrice)
	}
	if !o.AuxPrice.IsZero() {
		fmt.Fprintf(&b, " aux=%s", o.AuxPrice)
	}
	if o.OCAGroup != "" {
		fmt.Fprintf(&b, " oca=%s", o.OCAGroup)
	}
	return b.String()
}

// Commission is the fixed per-share model: max(1, qty * 0.005).
func Commission(qty decimal.Decimal) decimal.Decimal {
	return decimal.Max(decimal.NewFromInt(1), qty.Abs().Mul(decimal.RequireFromString("0.005")))
}

func ParseAction(s string) (Action, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY", "BOT", "B":
		return Buy, nil
	case "SELL", "SLD", "S":
		return Sell, nil
	}
	return "", fmt.Errorf("unknown action %q", s)
}

func ParseOrderType(s string) (OrderType, error) {
	switch strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", " ")) {
	case "MKT", "MARKET":
		return Market, nil
	case "LMT", "LIMIT":
		return Limit, nil
	case "STP", "STOP":
		return Stop, nil
	case "STP LMT", "STOP LIMIT", "STPLMT":
		return StopLimit, nil
	case "TRAIL", "TRAILING", "TRAILING STOP":
		return Trail, nil
	case "TRAIL LIMIT", "TRAILING LIMIT":
		return TrailLimit, nil
	}
	return "", fmt.Errorf("unknown order type %q", s)
}

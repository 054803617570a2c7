package sim

import (
	"context"
	"errors"
	"fmt"

	"github.com/rustyeddy/tradesim/broker"
	"github.com/rustyeddy/tradesim/market"
	"github.com/rustyeddy/tradesim/pkg/id"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const maxRecordAttempts = 3

var hundred = decimal.NewFromInt(100)

// tryFill submits unsubmitted orders and fills whatever the candle's
// range reaches. orders is updated in place. A malformed candle is
// reported as market.ErrBadBar and touches nothing.
func (b *Broker) tryFill(ctx context.Context, orders []broker.Order, c market.Bar, pos *broker.Position, res *Result) (bool, error) {
	if err := c.Validate(); err != nil {
		return false, fmt.Errorf("fill candle: %w", err)
	}

	for i := range orders {
		o := &orders[i]
		if o.Symbol != b.cfg.Symbol || !o.Status.Pending() {
			continue
		}
		if o.Quantity.Sign() <= 0 {
			return false, fmt.Errorf("%w: order %s has quantity %s", ErrInvariant, o.ID, o.Quantity)
		}
		if !o.Type.Valid() {
			return false, fmt.Errorf("%w: order %s has unknown type %q", ErrInvariant, o.ID, o.Type)
		}
		if o.Status == broker.Unsubmitted {
			if err := b.store.UpdateOrderStatus(ctx, o.ID, broker.Submitted, decimal.Zero); err != nil {
				return false, fmt.Errorf("submit order %s: %w", o.ID, err)
			}
			o.Status = broker.Submitted
		}
	}

	dirty := make(map[string]bool)
	filled := false
	for i := range orders {
		o := &orders[i]
		if dirty[o.ID] || !b.fillable(o) {
			continue
		}
		price, ok, err := b.priceFor(ctx, o, c, pos)
		if err != nil {
			return filled, err
		}
		if !ok {
			continue
		}

		if o.OCAGroup == "" {
			dirty[o.ID] = true
			if err := b.record(ctx, o, price, c, res); err != nil {
				return filled, err
			}
			filled = true
			continue
		}

		winner, winPrice := o, price
		group := []*broker.Order{o}
		for j := range orders {
			s := &orders[j]
			if s.ID == o.ID || s.OCAGroup != o.OCAGroup || dirty[s.ID] || !s.Status.Pending() {
				continue
			}
			group = append(group, s)
			if !b.fillable(s) {
				continue
			}
			sp, sok, err := b.priceFor(ctx, s, c, pos)
			if err != nil {
				return filled, err
			}
			if sok && firstTouched(c, sp, winPrice) {
				winner, winPrice = s, sp
			}
		}

		for _, s := range group {
			dirty[s.ID] = true
		}
		if err := b.record(ctx, winner, winPrice, c, res); err != nil {
			return filled, err
		}
		filled = true
		for _, s := range group {
			if s == winner {
				continue
			}
			if err := b.cancel(ctx, s, res); err != nil {
				return filled, err
			}
		}
	}
	return filled, nil
}

func (b *Broker) fillable(o *broker.Order) bool {
	return o.Symbol == b.cfg.Symbol && o.Status == broker.Submitted && o.Transmit
}

// firstTouched decides which of two OCA siblings filling on the same
// candle is taken: the higher price on a green bar, the lower otherwise.
// This is an assumption about the intrabar path, not a certainty.
func firstTouched(c market.Bar, candidate, current decimal.Decimal) bool {
	if c.Green() {
		return candidate.GreaterThan(current)
	}
	return candidate.LessThan(current)
}

// priceFor returns the price o would have filled at on c.
func (b *Broker) priceFor(ctx context.Context, o *broker.Order, c market.Bar, pos *broker.Position) (decimal.Decimal, bool, error) {
	if o.CreatedAt.After(c.LastUpdate) {
		return decimal.Zero, false, nil
	}
	if o.Type == broker.Market {
		return c.Close, true, nil
	}
	if decimal.NewFromInt(c.Volume).LessThan(o.Quantity) {
		return decimal.Zero, false, nil
	}
	if o.Type.IsTrailing() {
		if err := b.resolveTrail(ctx, o, c, pos); err != nil {
			return decimal.Zero, false, err
		}
	}
	p, ok := fillPrice(*o, c)
	return p, ok, nil
}

// fillPrice applies the gap-aware fill rules for non-market orders.
func fillPrice(o broker.Order, c market.Bar) (decimal.Decimal, bool) {
	aux, lmt := o.AuxPrice, o.LimitPrice

	if o.Action == broker.Sell {
		switch o.Type {
		case broker.Stop, broker.Trail:
			if c.Low.LessThanOrEqual(aux) {
				if c.Open.LessThanOrEqual(aux) {
					return c.Open, true
				}
				return aux, true
			}
		case broker.StopLimit, broker.TrailLimit:
			if c.Low.LessThanOrEqual(aux) && c.High.GreaterThanOrEqual(lmt) {
				if c.Open.GreaterThanOrEqual(aux) {
					return aux, true
				}
				if c.Open.GreaterThanOrEqual(lmt) {
					return c.Open, true
				}
				return lmt, true
			}
		case broker.Limit:
			if c.High.GreaterThanOrEqual(lmt) {
				if c.Open.GreaterThanOrEqual(lmt) {
					return c.Open, true
				}
				return lmt, true
			}
		}
		return decimal.Zero, false
	}

	switch o.Type {
	case broker.Stop, broker.Trail:
		if c.High.GreaterThanOrEqual(aux) {
			if c.Open.GreaterThanOrEqual(aux) {
				return c.Open, true
			}
			return aux, true
		}
	case broker.StopLimit, broker.TrailLimit:
		if c.High.GreaterThanOrEqual(aux) && c.Low.LessThanOrEqual(lmt) {
			if c.Open.LessThanOrEqual(aux) {
				return aux, true
			}
			if c.Open.LessThanOrEqual(lmt) {
				return c.Open, true
			}
			return lmt, true
		}
	case broker.Limit:
		if c.Low.LessThanOrEqual(lmt) {
			if c.Open.LessThanOrEqual(lmt) {
				return c.Open, true
			}
			return lmt, true
		}
	}
	return decimal.Zero, false
}

// resolveTrail initializes a trailing stop on first sight and ratchets
// it in the position's favor afterwards. It never loosens the stop.
func (b *Broker) resolveTrail(ctx context.Context, o *broker.Order, c market.Bar, pos *broker.Position) error {
	sell := o.Action == broker.Sell
	changed := false

	if o.TrailDistance.IsZero() {
		dist := o.TrailAmount
		if dist.IsZero() && !o.TrailPercent.IsZero() {
			dist = c.Close.Mul(o.TrailPercent).Div(hundred)
		}
		if dist.Sign() <= 0 {
			return fmt.Errorf("%w: trailing order %s has no trail amount or percent", ErrInvariant, o.ID)
		}
		o.TrailDistance = dist
		switch {
		case !o.TrailStopPrice.IsZero():
			o.AuxPrice = o.TrailStopPrice
		case sell:
			o.AuxPrice = c.Close.Sub(dist)
		default:
			o.AuxPrice = c.Close.Add(dist)
		}
		changed = true
	} else {
		dist := o.TrailDistance
		moved := true
		if pos != nil && pos.IsOpen() {
			avg := pos.AvgPrice()
			if sell {
				moved = c.Close.Sub(avg).GreaterThanOrEqual(dist)
			} else {
				moved = avg.Sub(c.Close).GreaterThanOrEqual(dist)
			}
		}
		if moved {
			if sell {
				if next := c.Close.Sub(dist); next.GreaterThan(o.AuxPrice) {
					o.AuxPrice = next
					changed = true
				}
			} else {
				if next := c.Close.Add(dist); next.LessThan(o.AuxPrice) {
					o.AuxPrice = next
					changed = true
				}
			}
		}
	}

	if !changed {
		return nil
	}
	if o.Type == broker.TrailLimit {
		if sell {
			o.LimitPrice = o.AuxPrice.Sub(o.LimitOffset)
		} else {
			o.LimitPrice = o.AuxPrice.Add(o.LimitOffset)
		}
	}
	if err := b.store.UpdateOrderTrail(ctx, o.ID, o.AuxPrice, o.LimitPrice, o.TrailDistance); err != nil {
		return fmt.Errorf("update trail %s: %w", o.ID, err)
	}
	return nil
}

// record builds the synthetic fill for o and hands it to the store,
// retrying when the position snapshot went stale underneath it.
func (b *Broker) record(ctx context.Context, o *broker.Order, price decimal.Decimal, c market.Bar, res *Result) error {
	f := broker.Fill{
		ExecID:     id.Exec(b.cfg.RunID, b.nextExec()),
		OrderID:    o.ID,
		Symbol:     o.Symbol,
		Action:     o.Action,
		Price:      price,
		Quantity:   o.Quantity,
		Commission: broker.Commission(o.Quantity),
		Time:       c.LastUpdate,
	}

	var err error
	for attempt := 1; attempt <= maxRecordAttempts; attempt++ {
		err = b.store.RecordExecution(ctx, o.ID, f)
		if !errors.Is(err, broker.ErrStaleSnapshot) {
			break
		}
		b.log.Warn("stale position snapshot, retrying",
			zap.String("order", o.ID), zap.Int("attempt", attempt))
	}
	if err != nil {
		return fmt.Errorf("record execution %s: %w", f.ExecID, err)
	}
	if err := b.store.UpdateOrderStatus(ctx, o.ID, broker.Filled, f.Commission); err != nil {
		return fmt.Errorf("mark order %s filled: %w", o.ID, err)
	}

	o.Status = broker.Filled
	o.Commission = f.Commission
	res.Fills++
	b.log.Info("order filled",
		zap.String("order", o.ID),
		zap.String("exec", f.ExecID),
		zap.String("action", string(o.Action)),
		zap.String("type", string(o.Type)),
		zap.String("qty", o.Quantity.String()),
		zap.String("price", price.String()),
		zap.String("commission", f.Commission.String()),
		zap.Time("candle", c.Start),
	)
	return nil
}

func (b *Broker) cancel(ctx context.Context, o *broker.Order, res *Result) error {
	if err := b.store.UpdateOrderStatus(ctx, o.ID, broker.Cancelled, decimal.Zero); err != nil {
		return fmt.Errorf("cancel order %s: %w", o.ID, err)
	}
	o.Status = broker.Cancelled
	res.Cancels++
	b.log.Info("order cancelled", zap.String("order", o.ID), zap.String("oca", o.OCAGroup))
	return nil
}

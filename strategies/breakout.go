package strategies

import (
	"context"
	"fmt"

	"github.com/rustyeddy/tradesim/broker"
	"github.com/rustyeddy/tradesim/config"
	"github.com/rustyeddy/tradesim/datafeed"
	"github.com/rustyeddy/tradesim/risk"
	"github.com/shopspring/decimal"
)

var tick = decimal.RequireFromString("0.01")

// Breakout buys a move above the highest high of the last Lookback
// sealed bars with a stop-limit order, sized so that StopAmount below
// the entry loses RiskPct of Equity.
type Breakout struct {
	Lookback    int
	LimitOffset decimal.Decimal
	StopAmount  decimal.Decimal
	Equity      decimal.Decimal
	RiskPct     decimal.Decimal
	MaxRiskPct  decimal.Decimal
	Lot         decimal.Decimal

	// Filter names an indicator the last close must be above, e.g.
	// "SMA(20)". Empty disables it.
	Filter string

	placed string
}

func NewBreakout(cfg config.StrategyConfig) (*Breakout, error) {
	if cfg.Lookback <= 0 {
		return nil, fmt.Errorf("breakout: lookback must be positive, got %d", cfg.Lookback)
	}
	if cfg.StopAmount.Sign() <= 0 {
		return nil, fmt.Errorf("breakout: stop_amount must be positive")
	}
	return &Breakout{
		Lookback:    cfg.Lookback,
		LimitOffset: cfg.LimitOffset,
		StopAmount:  cfg.StopAmount,
		Equity:      cfg.Equity,
		RiskPct:     cfg.RiskPct,
		MaxRiskPct:  cfg.MaxRiskPct,
		Lot:         cfg.Lot,
		Filter:      cfg.Filter,
	}, nil
}

func (s *Breakout) Name() string { return "breakout" }

// Placed is the id of the entry order, or empty.
func (s *Breakout) Placed() string { return s.placed }

func (s *Breakout) OnBar(ctx context.Context, b broker.Broker, v *datafeed.View, u datafeed.Update) error {
	if !u.Live || s.placed != "" {
		return nil
	}

	base := v.Base()
	high, ok := base.HighestHigh(s.Lookback)
	if !ok {
		return nil
	}
	if s.Filter != "" {
		last, ok := base.Last()
		val, ready := v.Indicator(s.Filter)
		if !ok || !ready || !last.Close.GreaterThan(val) {
			return nil
		}
	}

	entry := high.Add(tick)
	limit := entry.Add(s.LimitOffset)
	stop := entry.Sub(s.StopAmount)
	size := risk.SizeForRisk(risk.Inputs{
		Equity:  s.Equity,
		RiskPct: s.RiskPct,
		Entry:   limit,
		Stop:    stop,
		Lot:     s.Lot,
	})
	if size.Quantity.Sign() <= 0 {
		return fmt.Errorf("breakout: %s risk does not buy one lot at %s", size.RiskAmount, limit)
	}
	d := risk.Evaluate(risk.Policy{MaxRiskPct: s.MaxRiskPct}, risk.TradeIntent{
		Symbol:   v.Symbol(),
		Quantity: size.Quantity,
		Entry:    limit,
		Stop:     stop,
	}, s.Equity)
	if !d.Allowed {
		return fmt.Errorf("breakout: entry rejected: %s", d.Error())
	}

	o, err := b.PlaceOrder(ctx, broker.OrderRequest{
		Symbol:     v.Symbol(),
		Action:     broker.Buy,
		Type:       broker.StopLimit,
		Quantity:   size.Quantity,
		AuxPrice:   entry,
		LimitPrice: limit,
	})
	if err != nil {
		return fmt.Errorf("breakout: place entry: %w", err)
	}
	s.placed = o.ID
	return nil
}

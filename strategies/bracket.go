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

// Bracket protects a new position with a one-cancels-all stop-loss and
// take-profit around its average price, or with a trailing stop when a
// trail amount or percent is configured.
type Bracket struct {
	StopAmount   decimal.Decimal
	RewardRisk   decimal.Decimal
	MinRR        decimal.Decimal
	TrailAmount  decimal.Decimal
	TrailPercent decimal.Decimal

	// ExitAfterBars closes the position at market after this many new
	// bars. Zero holds until a protective order fills.
	ExitAfterBars int

	pos    *broker.Position
	oca    string
	bars   int
	exited bool
}

func NewBracket(cfg config.StrategyConfig) (*Bracket, error) {
	trailing := cfg.TrailAmount.Sign() > 0 || cfg.TrailPercent.Sign() > 0
	if !trailing && cfg.StopAmount.Sign() <= 0 {
		return nil, fmt.Errorf("bracket: stop_amount or a trail is required")
	}
	return &Bracket{
		StopAmount:    cfg.StopAmount,
		RewardRisk:    cfg.RewardRisk,
		MinRR:         cfg.MinRR,
		TrailAmount:   cfg.TrailAmount,
		TrailPercent:  cfg.TrailPercent,
		ExitAfterBars: cfg.ExitAfterBars,
	}, nil
}

func (g *Bracket) Name() string { return "bracket" }

func (g *Bracket) trailing() bool {
	return g.TrailAmount.Sign() > 0 || g.TrailPercent.Sign() > 0
}

func (g *Bracket) OnPositionOpened(ctx context.Context, b broker.Broker, pos broker.Position) error {
	g.pos = &pos
	g.oca = "oca-" + pos.ID
	g.bars = 0
	g.exited = false

	exit := broker.Sell
	dir := decimal.NewFromInt(-1)
	if pos.Side == broker.Short {
		exit = broker.Buy
		dir = decimal.NewFromInt(1)
	}
	qty := pos.OpenQuantity.Abs()
	avg := pos.AvgPrice()

	if g.trailing() {
		_, err := b.PlaceOrder(ctx, broker.OrderRequest{
			Symbol:       pos.Symbol,
			Action:       exit,
			Type:         broker.Trail,
			Quantity:     qty,
			TrailAmount:  g.TrailAmount,
			TrailPercent: g.TrailPercent,
			OCAGroup:     g.oca,
		})
		if err != nil {
			return fmt.Errorf("bracket: place trailing stop: %w", err)
		}
		return nil
	}

	stop := avg.Add(dir.Mul(g.StopAmount))
	if _, err := b.PlaceOrder(ctx, broker.OrderRequest{
		Symbol:   pos.Symbol,
		Action:   exit,
		Type:     broker.Stop,
		Quantity: qty,
		AuxPrice: stop,
		OCAGroup: g.oca,
	}); err != nil {
		return fmt.Errorf("bracket: place stop: %w", err)
	}

	if g.RewardRisk.Sign() <= 0 {
		return nil
	}
	target := avg.Sub(dir.Mul(g.StopAmount.Mul(g.RewardRisk)))
	if rr := risk.RR(avg, stop, target); rr.LessThan(g.MinRR) {
		return nil
	}
	if _, err := b.PlaceOrder(ctx, broker.OrderRequest{
		Symbol:     pos.Symbol,
		Action:     exit,
		Type:       broker.Limit,
		Quantity:   qty,
		LimitPrice: target,
		OCAGroup:   g.oca,
	}); err != nil {
		return fmt.Errorf("bracket: place target: %w", err)
	}
	return nil
}

// OnBar counts new bars for the timed exit. The market exit joins the
// protective group so that only one of them closes the position.
func (g *Bracket) OnBar(ctx context.Context, b broker.Broker, v *datafeed.View, u datafeed.Update) error {
	if g.pos == nil || g.exited || g.ExitAfterBars <= 0 || !u.NewPeriod {
		return nil
	}
	g.bars++
	if g.bars < g.ExitAfterBars {
		return nil
	}

	exit := broker.Sell
	if g.pos.Side == broker.Short {
		exit = broker.Buy
	}
	if _, err := b.PlaceOrder(ctx, broker.OrderRequest{
		Symbol:   g.pos.Symbol,
		Action:   exit,
		Type:     broker.Market,
		Quantity: g.pos.OpenQuantity.Abs(),
		OCAGroup: g.oca,
	}); err != nil {
		return fmt.Errorf("bracket: place timed exit: %w", err)
	}
	g.exited = true
	return nil
}

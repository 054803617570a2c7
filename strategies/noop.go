package strategies

import (
	"context"

	"github.com/rustyeddy/tradesim/broker"
	"github.com/rustyeddy/tradesim/datafeed"
)

// Noop does nothing. It keeps a run streaming so that orders seeded
// from outside get their chance to fill.
type Noop struct{}

func (Noop) Name() string { return "noop" }

func (Noop) OnBar(ctx context.Context, b broker.Broker, v *datafeed.View, u datafeed.Update) error {
	return nil
}

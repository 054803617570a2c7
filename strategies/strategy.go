// Package strategies is the rule-evaluation side of a replay: entry
// strategies that open trades and guards that manage the position once
// it exists.
package strategies

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rustyeddy/tradesim/broker"
	"github.com/rustyeddy/tradesim/config"
	"github.com/rustyeddy/tradesim/datafeed"
)

// ErrDone is returned by a strategy that has nothing left to do. The
// manager stops it.
var ErrDone = errors.New("strategy done")

// Strategy is evaluated on every base-series update.
type Strategy interface {
	Name() string
	OnBar(ctx context.Context, b broker.Broker, v *datafeed.View, u datafeed.Update) error
}

// Guard manages a position after it opens: protective stops, targets
// and timed exits.
type Guard interface {
	Strategy
	OnPositionOpened(ctx context.Context, b broker.Broker, pos broker.Position) error
}

// Monitor receives the strategy layer's progress. sim.Monitor
// implements it.
type Monitor interface {
	StrategyStarted()
	StrategyStopped()
	RuleCompleted()
}

type (
	Factory      func(cfg config.StrategyConfig) (Strategy, error)
	GuardFactory func(cfg config.StrategyConfig) (Guard, error)
)

var (
	registry = map[string]Factory{
		"noop":     func(config.StrategyConfig) (Strategy, error) { return Noop{}, nil },
		"breakout": func(cfg config.StrategyConfig) (Strategy, error) { return NewBreakout(cfg) },
	}
	guards = map[string]GuardFactory{
		"bracket": func(cfg config.StrategyConfig) (Guard, error) { return NewBracket(cfg) },
	}
)

// Register adds or replaces an entry strategy.
func Register(name string, f Factory) {
	registry[strings.ToLower(name)] = f
}

// RegisterGuard adds or replaces a guard.
func RegisterGuard(name string, f GuardFactory) {
	guards[strings.ToLower(name)] = f
}

// New builds the entry strategy cfg.Name names.
func New(cfg config.StrategyConfig) (Strategy, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Name))
	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q (supported: %s)", cfg.Name, strings.Join(Names(), ", "))
	}
	return f(cfg)
}

// NewGuard builds the guard cfg.Guard names. "none" and the empty name
// return a nil guard.
func NewGuard(cfg config.StrategyConfig) (Guard, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Guard))
	if name == "" || name == "none" {
		return nil, nil
	}
	f, ok := guards[name]
	if !ok {
		return nil, fmt.Errorf("unknown guard %q (supported: none, %s)", cfg.Guard, strings.Join(keys(guards), ", "))
	}
	return f(cfg)
}

func Names() []string { return keys(registry) }

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

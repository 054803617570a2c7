package strategies

import (
	"context"
	"errors"
	"sync"

	"github.com/rustyeddy/tradesim/broker"
	"github.com/rustyeddy/tradesim/datafeed"
	"go.uber.org/zap"
)

type entry struct {
	s       Strategy
	running bool
}

// Manager runs entry strategies until a position opens, then hands the
// position to the guard until it closes. It reports every start, stop
// and finished evaluation to the monitor.
type Manager struct {
	log   *zap.Logger
	mon   Monitor
	guard Guard

	mu       sync.Mutex
	b        broker.Broker
	entries  []*entry
	guarding bool
	placed   []string
}

func NewManager(mon Monitor, log *zap.Logger, guard Guard, strategies ...Strategy) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	m := &Manager{log: log, mon: mon, guard: guard}
	for _, s := range strategies {
		m.entries = append(m.entries, &entry{s: s})
	}
	return m
}

// Bind sets the broker strategies trade against. It must be called
// before Start.
func (m *Manager) Bind(b broker.Broker) {
	m.mu.Lock()
	m.b = b
	m.mu.Unlock()
}

// Start marks every entry strategy as running.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.running {
			continue
		}
		e.running = true
		m.mon.StrategyStarted()
		m.log.Info("strategy started", zap.String("strategy", e.s.Name()))
	}
}

// Running is the number of entry strategies and guards running.
func (m *Manager) Running() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.entries {
		if e.running {
			n++
		}
	}
	if m.guarding {
		n++
	}
	return n
}

// OnUpdate evaluates whatever is running against the update and then
// reports the rule evaluation complete.
func (m *Manager) OnUpdate(ctx context.Context, v *datafeed.View, u datafeed.Update) {
	defer m.mon.RuleCompleted()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.b == nil {
		return
	}

	for _, e := range m.entries {
		if !e.running {
			continue
		}
		if err := e.s.OnBar(ctx, m.b, v, u); err != nil {
			if errors.Is(err, ErrDone) {
				m.stop(e)
				continue
			}
			m.log.Error("strategy failed", zap.String("strategy", e.s.Name()), zap.Error(err))
		}
	}

	if m.guarding {
		if err := m.guard.OnBar(ctx, m.recorder(), v, u); err != nil {
			m.log.Error("guard failed", zap.String("guard", m.guard.Name()), zap.Error(err))
		}
	}
}

// OnPositionOpened starts the guard, lets it place its orders and stops
// the entry strategies.
func (m *Manager) OnPositionOpened(ctx context.Context, pos broker.Position) {
	defer m.mon.RuleCompleted()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.guard != nil && !m.guarding && m.b != nil {
		m.guarding = true
		m.placed = m.placed[:0]
		m.mon.StrategyStarted()
		m.log.Info("guard started", zap.String("guard", m.guard.Name()), zap.String("position", pos.ID))
		if err := m.guard.OnPositionOpened(ctx, m.recorder(), pos); err != nil {
			m.log.Error("guard could not protect position",
				zap.String("guard", m.guard.Name()), zap.String("position", pos.ID), zap.Error(err))
		}
	}
	for _, e := range m.entries {
		if e.running {
			m.stop(e)
		}
	}
}

// OnPositionClosed stops the guard and cancels its orders that are
// still working.
func (m *Manager) OnPositionClosed(ctx context.Context, pos broker.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.guarding {
		return
	}

	for _, id := range m.placed {
		if err := m.b.CancelOrder(ctx, id); err != nil {
			m.log.Debug("guard order not cancelled", zap.String("order", id), zap.Error(err))
		}
	}
	m.placed = m.placed[:0]
	m.guarding = false
	m.mon.StrategyStopped()
	m.log.Info("guard stopped",
		zap.String("guard", m.guard.Name()),
		zap.String("position", pos.ID),
		zap.String("pl", pos.RealizedPL().String()),
	)
}

func (m *Manager) stop(e *entry) {
	e.running = false
	m.mon.StrategyStopped()
	m.log.Info("strategy stopped", zap.String("strategy", e.s.Name()))
}

func (m *Manager) recorder() broker.Broker {
	return &recorder{Broker: m.b, ids: &m.placed}
}

// recorder remembers the orders placed through it.
type recorder struct {
	broker.Broker
	ids *[]string
}

func (r *recorder) PlaceOrder(ctx context.Context, req broker.OrderRequest) (broker.Order, error) {
	o, err := r.Broker.PlaceOrder(ctx, req)
	if err == nil {
		*r.ids = append(*r.ids, o.ID)
	}
	return o, err
}

var _ datafeed.Listener = (*Manager)(nil)

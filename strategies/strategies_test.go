package strategies

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rustyeddy/tradesim/broker"
	"github.com/rustyeddy/tradesim/config"
	"github.com/rustyeddy/tradesim/datafeed"
	"github.com/rustyeddy/tradesim/market"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var t0 = time.Date(2024, 3, 4, 14, 30, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// mockBroker records what strategies ask of it.
type mockBroker struct {
	mu        sync.Mutex
	requests  []broker.OrderRequest
	cancelled []string
	placeErr  error
}

func (m *mockBroker) PlaceOrder(ctx context.Context, req broker.OrderRequest) (broker.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.placeErr != nil {
		return broker.Order{}, m.placeErr
	}
	m.requests = append(m.requests, req)
	return broker.Order{ID: fmt.Sprintf("O%d", len(m.requests)), Symbol: req.Symbol, Type: req.Type}, nil
}

func (m *mockBroker) CancelOrder(ctx context.Context, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelled = append(m.cancelled, orderID)
	return nil
}

func (m *mockBroker) OpenPosition(ctx context.Context, symbol string) (*broker.Position, error) {
	return nil, nil
}

func (m *mockBroker) Quote(symbol string) (market.Quote, error) {
	return market.Quote{}, market.ErrNoQuote
}

func (m *mockBroker) Now() time.Time { return t0 }

type countingMonitor struct {
	started, stopped, completed int
}

func (c *countingMonitor) StrategyStarted() { c.started++ }
func (c *countingMonitor) StrategyStopped() { c.stopped++ }
func (c *countingMonitor) RuleCompleted()   { c.completed++ }

func bar(i int, high string) market.Bar {
	h := dec(high)
	return market.Bar{
		Start:      t0.Add(time.Duration(i) * time.Minute),
		End:        t0.Add(time.Duration(i+1) * time.Minute),
		Open:       h.Sub(dec("0.50")),
		High:       h,
		Low:        h.Sub(dec("1")),
		Close:      h.Sub(dec("0.25")),
		Volume:     1000,
		LastUpdate: t0.Add(time.Duration(i+1) * time.Minute),
	}
}

// feedWith loads highs into a feed's base series without running its
// consumer.
func feedWith(t *testing.T, highs ...string) *datafeed.Feed {
	t.Helper()
	f := datafeed.New("AAPL", 60, zaptest.NewLogger(t))
	for i, h := range highs {
		require.NoError(t, f.OnBarArrival(bar(i, h), 1, true))
	}
	return f
}

func longPosition(t *testing.T) broker.Position {
	t.Helper()
	return broker.NewPosition("P1", broker.Fill{
		ExecID: "R1.000001", OrderID: "O1", Symbol: "AAPL", Action: broker.Buy,
		Price: dec("100"), Quantity: dec("100"), Commission: dec("1"), Time: t0,
	})
}

func strategyConfig() config.StrategyConfig {
	return config.Default().Strategy
}

func TestRegistry(t *testing.T) {
	s, err := New(config.StrategyConfig{Name: "noop"})
	require.NoError(t, err)
	assert.Equal(t, "noop", s.Name())

	s, err = New(strategyConfig())
	require.NoError(t, err)
	assert.Equal(t, "breakout", s.Name())

	_, err = New(config.StrategyConfig{Name: "martingale"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "breakout, noop")

	g, err := NewGuard(config.StrategyConfig{Guard: "none"})
	require.NoError(t, err)
	assert.Nil(t, g)

	g, err = NewGuard(strategyConfig())
	require.NoError(t, err)
	assert.Equal(t, "bracket", g.Name())

	_, err = NewGuard(config.StrategyConfig{Guard: "hedge"})
	assert.Error(t, err)

	_, err = NewGuard(config.StrategyConfig{Guard: "bracket"})
	assert.Error(t, err, "bracket without a stop or trail")
}

func TestBreakoutPlacesStopLimit(t *testing.T) {
	ctx := context.Background()
	s, err := NewBreakout(config.StrategyConfig{
		Lookback:    3,
		LimitOffset: dec("0.05"),
		StopAmount:  dec("0.50"),
		Equity:      dec("100000"),
		RiskPct:     dec("0.005"),
		Lot:         dec("1"),
	})
	require.NoError(t, err)
	mb := &mockBroker{}

	f := feedWith(t, "101", "103", "102")
	require.NoError(t, s.OnBar(ctx, mb, f.View(), datafeed.Update{Live: true}))
	assert.Empty(t, mb.requests, "needs three sealed bars")

	require.NoError(t, f.OnBarArrival(bar(3, "100.50"), 1, true))
	require.NoError(t, s.OnBar(ctx, mb, f.View(), datafeed.Update{Live: false}))
	assert.Empty(t, mb.requests, "warm-up bars never trade")

	require.NoError(t, s.OnBar(ctx, mb, f.View(), datafeed.Update{Live: true}))
	require.Len(t, mb.requests, 1)
	req := mb.requests[0]
	assert.Equal(t, "AAPL", req.Symbol)
	assert.Equal(t, broker.Buy, req.Action)
	assert.Equal(t, broker.StopLimit, req.Type)
	assert.True(t, req.AuxPrice.Equal(dec("103.01")), req.AuxPrice.String())
	assert.True(t, req.LimitPrice.Equal(dec("103.06")), req.LimitPrice.String())
	// 500 at risk over 0.55 per share
	assert.True(t, req.Quantity.Equal(dec("909")), req.Quantity.String())
	assert.Equal(t, "O1", s.Placed())

	require.NoError(t, s.OnBar(ctx, mb, f.View(), datafeed.Update{Live: true}))
	assert.Len(t, mb.requests, 1, "one entry per run")
}

func TestBreakoutFilter(t *testing.T) {
	cfg := strategyConfig()
	cfg.Lookback = 1
	cfg.Filter = "SMA(20)"
	s, err := NewBreakout(cfg)
	require.NoError(t, err)
	mb := &mockBroker{}

	f := feedWith(t, "101", "102")
	require.NoError(t, s.OnBar(context.Background(), mb, f.View(), datafeed.Update{Live: true}))
	assert.Empty(t, mb.requests, "unknown or cold indicator blocks the entry")
}

func TestBreakoutRejectsTinyRisk(t *testing.T) {
	cfg := strategyConfig()
	cfg.Lookback = 1
	cfg.Equity = dec("10")
	s, err := NewBreakout(cfg)
	require.NoError(t, err)

	f := feedWith(t, "101", "102")
	err = s.OnBar(context.Background(), &mockBroker{}, f.View(), datafeed.Update{Live: true})
	assert.Error(t, err)
	assert.Empty(t, s.Placed())
}

func TestBreakoutRiskPolicy(t *testing.T) {
	cfg := strategyConfig()
	cfg.Lookback = 3
	// 909 shares risking 0.55 each is just under 0.5% of equity
	cfg.MaxRiskPct = dec("0.004")
	s, err := NewBreakout(cfg)
	require.NoError(t, err)
	mb := &mockBroker{}

	f := feedWith(t, "101", "103", "102", "100.50")
	err = s.OnBar(context.Background(), mb, f.View(), datafeed.Update{Live: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RISK_TOO_HIGH")
	assert.Empty(t, mb.requests)
}

func TestBracket(t *testing.T) {
	short := broker.NewPosition("P2", broker.Fill{
		Symbol: "AAPL", Action: broker.Sell, Price: dec("100"), Quantity: dec("50"),
		Commission: dec("1"), Time: t0,
	})

	tests := []struct {
		name  string
		cfg   config.StrategyConfig
		pos   broker.Position
		check func(t *testing.T, reqs []broker.OrderRequest)
	}{
		{
			name: "long stop and target",
			cfg:  config.StrategyConfig{StopAmount: dec("0.50"), RewardRisk: dec("2"), MinRR: dec("1.5")},
			pos:  longPosition(t),
			check: func(t *testing.T, reqs []broker.OrderRequest) {
				require.Len(t, reqs, 2)
				assert.Equal(t, broker.Stop, reqs[0].Type)
				assert.Equal(t, broker.Sell, reqs[0].Action)
				assert.True(t, reqs[0].AuxPrice.Equal(dec("99.5")))
				assert.Equal(t, broker.Limit, reqs[1].Type)
				assert.True(t, reqs[1].LimitPrice.Equal(dec("101")))
				assert.True(t, reqs[1].Quantity.Equal(dec("100")))
				assert.Equal(t, "oca-P1", reqs[0].OCAGroup)
				assert.Equal(t, reqs[0].OCAGroup, reqs[1].OCAGroup)
			},
		},
		{
			name: "short stop and target",
			cfg:  config.StrategyConfig{StopAmount: dec("0.50"), RewardRisk: dec("2")},
			pos:  short,
			check: func(t *testing.T, reqs []broker.OrderRequest) {
				require.Len(t, reqs, 2)
				assert.Equal(t, broker.Buy, reqs[0].Action)
				assert.True(t, reqs[0].AuxPrice.Equal(dec("100.5")))
				assert.True(t, reqs[1].LimitPrice.Equal(dec("99")))
				assert.True(t, reqs[1].Quantity.Equal(dec("50")))
			},
		},
		{
			name: "target below min rr is skipped",
			cfg:  config.StrategyConfig{StopAmount: dec("0.50"), RewardRisk: dec("1"), MinRR: dec("1.5")},
			pos:  longPosition(t),
			check: func(t *testing.T, reqs []broker.OrderRequest) {
				require.Len(t, reqs, 1)
				assert.Equal(t, broker.Stop, reqs[0].Type)
			},
		},
		{
			name: "trailing stop",
			cfg:  config.StrategyConfig{StopAmount: dec("0.50"), RewardRisk: dec("2"), TrailAmount: dec("0.25")},
			pos:  longPosition(t),
			check: func(t *testing.T, reqs []broker.OrderRequest) {
				require.Len(t, reqs, 1)
				assert.Equal(t, broker.Trail, reqs[0].Type)
				assert.True(t, reqs[0].TrailAmount.Equal(dec("0.25")))
				assert.NoError(t, reqs[0].Validate())
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := NewBracket(tt.cfg)
			require.NoError(t, err)
			mb := &mockBroker{}
			require.NoError(t, g.OnPositionOpened(context.Background(), mb, tt.pos))
			for _, req := range mb.requests {
				assert.NoError(t, req.Validate())
			}
			tt.check(t, mb.requests)
		})
	}
}

func TestBracketTimedExit(t *testing.T) {
	ctx := context.Background()
	g, err := NewBracket(config.StrategyConfig{StopAmount: dec("0.50"), ExitAfterBars: 2})
	require.NoError(t, err)
	mb := &mockBroker{}

	require.NoError(t, g.OnBar(ctx, mb, nil, datafeed.Update{NewPeriod: true}))
	assert.Empty(t, mb.requests, "nothing to exit before a position")

	require.NoError(t, g.OnPositionOpened(ctx, mb, longPosition(t)))
	require.Len(t, mb.requests, 1)

	require.NoError(t, g.OnBar(ctx, mb, nil, datafeed.Update{NewPeriod: true}))
	require.NoError(t, g.OnBar(ctx, mb, nil, datafeed.Update{}))
	assert.Len(t, mb.requests, 1)

	require.NoError(t, g.OnBar(ctx, mb, nil, datafeed.Update{NewPeriod: true}))
	require.Len(t, mb.requests, 2)
	exit := mb.requests[1]
	assert.Equal(t, broker.Market, exit.Type)
	assert.Equal(t, broker.Sell, exit.Action)
	assert.Equal(t, "oca-P1", exit.OCAGroup)

	require.NoError(t, g.OnBar(ctx, mb, nil, datafeed.Update{NewPeriod: true}))
	assert.Len(t, mb.requests, 2)
}

type scripted struct {
	calls int
	err   error
}

func (s *scripted) Name() string { return "scripted" }

func (s *scripted) OnBar(ctx context.Context, b broker.Broker, v *datafeed.View, u datafeed.Update) error {
	s.calls++
	return s.err
}

func TestManagerLifecycle(t *testing.T) {
	ctx := context.Background()
	mon := &countingMonitor{}
	guard, err := NewBracket(config.StrategyConfig{StopAmount: dec("0.50"), RewardRisk: dec("2")})
	require.NoError(t, err)
	entry := &scripted{}
	mb := &mockBroker{}

	m := NewManager(mon, zaptest.NewLogger(t), guard, entry)
	m.Bind(mb)
	m.Start()
	m.Start()
	assert.Equal(t, 1, mon.started)
	assert.Equal(t, 1, m.Running())

	v := feedWith(t, "101").View()
	m.OnUpdate(ctx, v, datafeed.Update{Live: true})
	assert.Equal(t, 1, entry.calls)
	assert.Equal(t, 1, mon.completed)

	m.OnPositionOpened(ctx, longPosition(t))
	assert.Equal(t, 2, mon.started, "guard started")
	assert.Equal(t, 1, mon.stopped, "entry stopped")
	assert.Equal(t, 2, mon.completed)
	assert.Equal(t, 1, m.Running())
	require.Len(t, mb.requests, 2)

	m.OnUpdate(ctx, v, datafeed.Update{Live: true})
	assert.Equal(t, 1, entry.calls, "stopped entries are not evaluated")

	m.OnPositionClosed(ctx, longPosition(t))
	assert.Equal(t, []string{"O1", "O2"}, mb.cancelled)
	assert.Equal(t, 2, mon.stopped)
	assert.Equal(t, 0, m.Running())

	m.OnPositionClosed(ctx, longPosition(t))
	assert.Equal(t, 2, mon.stopped, "closing twice stops once")
}

func TestManagerWithoutGuard(t *testing.T) {
	mon := &countingMonitor{}
	m := NewManager(mon, nil, nil, Noop{})
	m.Bind(&mockBroker{})
	m.Start()

	m.OnPositionOpened(context.Background(), longPosition(t))
	assert.Equal(t, 1, mon.started)
	assert.Equal(t, 1, mon.stopped)
	assert.Equal(t, 1, mon.completed)
	assert.Equal(t, 0, m.Running())
}

func TestManagerStrategyErrors(t *testing.T) {
	ctx := context.Background()
	mon := &countingMonitor{}
	done := &scripted{err: ErrDone}
	failing := &scripted{err: errors.New("boom")}

	m := NewManager(mon, zaptest.NewLogger(t), nil, done, failing)
	m.Bind(&mockBroker{})
	m.Start()
	require.Equal(t, 2, m.Running())

	v := feedWith(t, "101").View()
	m.OnUpdate(ctx, v, datafeed.Update{})
	m.OnUpdate(ctx, v, datafeed.Update{})

	assert.Equal(t, 1, done.calls)
	assert.Equal(t, 2, failing.calls, "errors are logged, the strategy keeps running")
	assert.Equal(t, 1, m.Running())
	assert.Equal(t, 2, mon.completed)
}

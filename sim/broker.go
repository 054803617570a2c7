// Package sim replays stored candles through a data feed and the
// strategy layer and fills the strategies' orders against each candle.
package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rustyeddy/tradesim/broker"
	"github.com/rustyeddy/tradesim/datafeed"
	"github.com/rustyeddy/tradesim/market"
	"github.com/rustyeddy/tradesim/pkg/id"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Config describes one replay run.
type Config struct {
	RunID   string
	Symbol  string
	BarSize int64

	// Day is the trading day to replay. Only its date is used.
	Day      time.Time
	Location *time.Location

	// SessionOpen is the offset of the session open from midnight.
	// Candles starting earlier feed the indicators but never fill.
	SessionOpen time.Duration
	WarmupDays  int
}

func (c Config) validate() error {
	if c.RunID == "" {
		return errors.New("sim: missing run id")
	}
	if c.Symbol == "" {
		return errors.New("sim: missing symbol")
	}
	if c.BarSize <= 0 {
		return fmt.Errorf("sim: bar size %d", c.BarSize)
	}
	if c.Day.IsZero() {
		return errors.New("sim: missing replay day")
	}
	if c.SessionOpen < 0 || c.SessionOpen >= 24*time.Hour {
		return fmt.Errorf("sim: session open %s", c.SessionOpen)
	}
	if c.WarmupDays < 0 {
		return fmt.Errorf("sim: warmup days %d", c.WarmupDays)
	}
	return nil
}

// Cursor is the progress of a run.
type Cursor struct {
	Index         int
	LastProcessed int
	Total         int
	ExecSeq       int64
}

// Result summarizes a finished run.
type Result struct {
	RunID           string
	Symbol          string
	BarSize         int64
	ReplayBarSize   int64
	Candles         int
	Live            int
	Fills           int
	Cancels         int
	PositionsOpened int
	PositionsClosed int
	Errors          int
	Interrupted     bool
}

type Option func(*Broker)

func WithLogger(log *zap.Logger) Option {
	return func(b *Broker) {
		if log != nil {
			b.log = log
		}
	}
}

// WithPositionListener registers the strategy manager that reacts to
// positions opening and closing.
func WithPositionListener(l PositionListener) Option {
	return func(b *Broker) { b.listener = l }
}

// WithCandleHook calls fn after each candle has been processed.
func WithCandleHook(fn func(Cursor, market.Bar)) Option {
	return func(b *Broker) { b.hook = fn }
}

// candle is one stored bar queued for replay.
type candle struct {
	bar    market.Bar
	rollup int64
	live   bool
}

// Broker is the historical replay broker. It implements broker.Broker
// for the strategies of one run.
type Broker struct {
	cfg      Config
	candles  CandleSource
	store    OrderStore
	feed     *datafeed.Feed
	mon      *Monitor
	log      *zap.Logger
	listener PositionListener
	hook     func(Cursor, market.Bar)
	quotes   *market.QuoteStore

	mu     sync.Mutex
	state  State
	now    time.Time
	cursor Cursor

	cache  broker.OrderSet
	cached bool
	open   *broker.Position
}

func NewBroker(cfg Config, candles CandleSource, store OrderStore, feed *datafeed.Feed, mon *Monitor, opts ...Option) (*Broker, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if candles == nil || store == nil || feed == nil || mon == nil {
		return nil, errors.New("sim: candles, store, feed and monitor are required")
	}
	if feed.Symbol() != cfg.Symbol || feed.BarSize() != cfg.BarSize {
		return nil, fmt.Errorf("sim: feed is %s/%ds, run is %s/%ds",
			feed.Symbol(), feed.BarSize(), cfg.Symbol, cfg.BarSize)
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}

	b := &Broker{
		cfg:     cfg,
		candles: candles,
		store:   store,
		feed:    feed,
		mon:     mon,
		log:     zap.NewNop(),
		quotes:  market.NewQuoteStore(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.now, _ = b.session()
	b.log = b.log.With(
		zap.String("run", cfg.RunID),
		zap.String("symbol", cfg.Symbol),
		zap.Int64("bar_size", cfg.BarSize),
	)
	return b, nil
}

func (b *Broker) Config() Config { return b.cfg }
func (b *Broker) Feed() *datafeed.Feed { return b.feed }
func (b *Broker) Monitor() *Monitor { return b.mon }

func (b *Broker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Broker) Cursor() Cursor {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cursor
}

func (b *Broker) setState(s State) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
}

// Run replays the configured day. An interrupted wait ends the run
// with Result.Interrupted set and a nil error.
func (b *Broker) Run(ctx context.Context) (res Result, err error) {
	res = Result{RunID: b.cfg.RunID, Symbol: b.cfg.Symbol, BarSize: b.cfg.BarSize}
	defer b.finish()

	b.setState(Loading)
	queue, replaySize, err := b.load(ctx)
	if errors.Is(err, ErrDataUnavailable) {
		b.log.Warn("no replay-day candles at any fallback bar size",
			zap.Time("day", b.cfg.Day), zap.Int64s("tried", market.FallbackBarSizes(b.cfg.BarSize)))
		b.feed.Poke()
		b.feed.Cancel()
		return res, err
	}
	if err != nil {
		if b.interrupted(ctx, err) {
			res.Interrupted = true
			return res, nil
		}
		b.log.Error("load candles", zap.Error(err))
		return res, err
	}
	res.ReplayBarSize = replaySize

	// A reused run continues numbering after the fills it already has.
	seq, err := b.store.LastExecSeq(ctx, b.cfg.RunID)
	if err != nil {
		if b.interrupted(ctx, err) {
			res.Interrupted = true
			return res, nil
		}
		b.log.Error("read exec sequence", zap.Error(err))
		return res, err
	}

	b.mu.Lock()
	b.cursor = Cursor{LastProcessed: -1, Total: len(queue), ExecSeq: seq}
	b.mu.Unlock()

	b.setState(WaitingForStrategyStart)
	if err := b.mon.WaitForStart(ctx); err != nil {
		return b.stopped(ctx, res, err)
	}

	for i, c := range queue {
		b.setState(Streaming)
		b.advance(i, c.bar)
		res.Candles++

		b.mon.ResetCompletion()
		if err := b.feed.OnBarArrival(c.bar, c.rollup, c.live); err != nil {
			if errors.Is(err, datafeed.ErrCancelled) {
				res.Interrupted = true
				return res, nil
			}
			b.log.Error("feed rejected candle", zap.Error(err), zap.Time("candle", c.bar.Start))
			return res, err
		}

		b.setState(WaitingForStrategyReady)
		if err := b.mon.WaitForRuleCompletion(ctx); err != nil {
			return b.stopped(ctx, res, err)
		}

		if c.live {
			res.Live++
			b.setState(Filling)
			if err := b.fillCandle(ctx, c.bar, &res); err != nil {
				switch {
				case b.interrupted(ctx, err), errors.Is(err, ErrStrategyTimeout):
					return b.stopped(ctx, res, err)
				case errors.Is(err, ErrInvariant):
					cur := b.Cursor()
					b.log.Error("simulation invariant violated",
						zap.Error(err),
						zap.Time("candle", c.bar.Start),
						zap.Int("index", cur.Index),
						zap.Int("last_processed", cur.LastProcessed),
						zap.Int64("exec_seq", cur.ExecSeq),
					)
					return res, err
				default:
					res.Errors++
					b.log.Error("fill failed", zap.Error(err), zap.Time("candle", c.bar.Start))
				}
			}
		}

		b.processed(i)
		if b.hook != nil {
			b.hook(b.Cursor(), c.bar)
		}

		if b.open != nil {
			if err := b.mon.WaitForSingleStrategy(ctx); err != nil {
				return b.stopped(ctx, res, err)
			}
		} else if b.mon.Running() == 0 {
			b.log.Info("no strategies running and no open position",
				zap.Int("index", i), zap.Int("total", len(queue)))
			break
		}
	}

	b.setState(Closing)
	b.log.Info("replay finished",
		zap.Int("candles", res.Candles),
		zap.Int("fills", res.Fills),
		zap.Int("cancels", res.Cancels),
		zap.Int("errors", res.Errors),
	)
	return res, nil
}

// stopped converts a failed wait into the run's outcome.
func (b *Broker) stopped(ctx context.Context, res Result, err error) (Result, error) {
	if b.interrupted(ctx, err) {
		b.log.Info("replay interrupted", zap.String("state", b.State().String()))
		res.Interrupted = true
		return res, nil
	}
	b.log.Error("replay aborted", zap.Error(err), zap.String("state", b.State().String()))
	return res, err
}

func (b *Broker) interrupted(ctx context.Context, err error) bool {
	return errors.Is(err, ErrInterrupted) ||
		(ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)))
}

func (b *Broker) finish() {
	b.setState(Done)
	b.feed.Cancel()
	b.mon.Cancel()
}

// load resolves the warm-up and replay-day candles in the order they
// are streamed, and the bar size the replay day was found at.
func (b *Broker) load(ctx context.Context) ([]candle, int64, error) {
	day, open := b.session()

	var queue []candle
	if b.cfg.WarmupDays > 0 {
		start := priorWeekdays(day, b.cfg.WarmupDays)
		bars, err := b.candles.FindCandles(ctx, b.cfg.Symbol, start, day, b.cfg.BarSize)
		switch {
		case errors.Is(err, market.ErrNoCandles):
			b.log.Info("no warm-up candles", zap.Time("from", start), zap.Time("to", day))
		case err != nil:
			return nil, 0, fmt.Errorf("warm-up candles: %w", err)
		}
		for _, bar := range bars {
			queue = append(queue, candle{bar: normalize(bar, b.cfg.BarSize), rollup: 1})
		}
	}

	for _, size := range market.FallbackBarSizes(b.cfg.BarSize) {
		bars, err := b.candles.FindCandles(ctx, b.cfg.Symbol, day, day.Add(24*time.Hour), size)
		if errors.Is(err, market.ErrNoCandles) || (err == nil && len(bars) == 0) {
			b.log.Debug("no replay-day candles", zap.Int64("size", size))
			continue
		}
		if err != nil {
			return nil, 0, fmt.Errorf("replay-day candles at %ds: %w", size, err)
		}
		if size != b.cfg.BarSize {
			b.log.Info("replaying at fallback bar size", zap.Int64("size", size))
		}
		for _, bar := range bars {
			bar = normalize(bar, size)
			queue = append(queue, candle{
				bar:    bar,
				rollup: b.cfg.BarSize / size,
				live:   !bar.Start.Before(open),
			})
		}
		return queue, size, nil
	}
	return nil, 0, ErrDataUnavailable
}

// session returns midnight of the replay day and the session open, both
// in the run's location.
func (b *Broker) session() (time.Time, time.Time) {
	d := b.cfg.Day.In(b.cfg.Location)
	day := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, b.cfg.Location)
	return day, day.Add(b.cfg.SessionOpen)
}

// priorWeekdays steps back n weekdays from day.
func priorWeekdays(day time.Time, n int) time.Time {
	t := day
	for n > 0 {
		t = t.AddDate(0, 0, -1)
		if wd := t.Weekday(); wd != time.Saturday && wd != time.Sunday {
			n--
		}
	}
	return t
}

func normalize(b market.Bar, size int64) market.Bar {
	if b.End.IsZero() {
		b.End = b.Start.Add(time.Duration(size) * time.Second)
	}
	if b.LastUpdate.IsZero() {
		b.LastUpdate = b.End
	}
	return b
}

func (b *Broker) advance(i int, bar market.Bar) {
	b.quotes.Set(market.QuoteFromBar(b.cfg.Symbol, bar))
	b.mu.Lock()
	b.cursor.Index = i
	b.now = bar.LastUpdate
	b.mu.Unlock()
}

func (b *Broker) processed(i int) {
	b.mu.Lock()
	b.cursor.LastProcessed = i
	b.mu.Unlock()
}

func (b *Broker) nextExec() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cursor.ExecSeq++
	return b.cursor.ExecSeq
}

// pending returns the run's pending orders, re-reading them only when
// the store's version moved past the cached snapshot.
func (b *Broker) pending(ctx context.Context) (broker.OrderSet, error) {
	v, err := b.store.FindLastKnownVersion(ctx, b.cfg.RunID)
	if err != nil {
		return broker.OrderSet{}, fmt.Errorf("order version: %w", err)
	}
	if b.cached && v == b.cache.Version {
		return b.cache, nil
	}
	set, err := b.store.FindPendingOrders(ctx, b.cfg.RunID)
	if err != nil {
		return broker.OrderSet{}, fmt.Errorf("pending orders: %w", err)
	}
	b.cache, b.cached = set, true
	return set, nil
}

// fillCandle runs the fill simulator against c and reacts to positions
// it opened or closed.
func (b *Broker) fillCandle(ctx context.Context, c market.Bar, res *Result) error {
	set, err := b.pending(ctx)
	if err != nil {
		return err
	}
	before := b.open
	filled, err := b.tryFill(ctx, set.Orders, c, set.Position, res)
	if err != nil {
		return b.resync(ctx, before, err, res)
	}
	if !filled {
		return nil
	}

	opened, err := b.settle(ctx, before, res)
	if err != nil || !opened {
		return err
	}
	// Same-bar exit check once the new position is protected.
	if broker.SideOf(c.Green()) == b.open.Side {
		return nil
	}

	entry := b.open
	set, err = b.pending(ctx)
	if err != nil {
		return err
	}
	if _, err := b.tryFill(ctx, set.Orders, c, set.Position, res); err != nil {
		return b.resync(ctx, entry, err, res)
	}
	_, err = b.settle(ctx, entry, res)
	return err
}

// settle re-reads the store after fills, announces position changes
// and hands a newly opened position to the listener. It reports whether
// the listener was given one.
func (b *Broker) settle(ctx context.Context, before *broker.Position, res *Result) (bool, error) {
	set, err := b.pending(ctx)
	if err != nil {
		return false, err
	}
	if err := b.track(ctx, set.Position, res); err != nil {
		return false, err
	}

	opened := b.open != nil && (before == nil || before.ID != b.open.ID)
	if !opened || b.listener == nil || b.mon.Running() == 0 {
		return false, nil
	}
	b.mon.ResetCompletion()
	b.listener.OnPositionOpened(ctx, *b.open)
	if err := b.mon.WaitForRuleCompletion(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// resync brings the broker back in line with the store after a fill
// pass failed part way, so fills that did land are still announced.
func (b *Broker) resync(ctx context.Context, before *broker.Position, cause error, res *Result) error {
	b.cached = false
	if _, err := b.settle(ctx, before, res); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

// track compares the store's open position with the last one seen and
// announces whatever closed.
func (b *Broker) track(ctx context.Context, cur *broker.Position, res *Result) error {
	if cur != nil && !cur.IsOpen() {
		cur = nil
	}
	prev := b.open

	if prev != nil && (cur == nil || cur.ID != prev.ID) {
		closed, err := b.store.GetPosition(ctx, prev.ID)
		if err != nil {
			return fmt.Errorf("closed position %s: %w", prev.ID, err)
		}
		res.PositionsClosed++
		b.log.Info("position closed",
			zap.String("position", closed.ID),
			zap.String("side", string(closed.Side)),
			zap.String("pl", closed.RealizedPL().String()),
			zap.Time("closed_at", closed.CloseTime),
		)
		if b.listener != nil {
			b.listener.OnPositionClosed(ctx, closed)
		}
	}
	if cur != nil && (prev == nil || cur.ID != prev.ID) {
		res.PositionsOpened++
		b.log.Info("position opened",
			zap.String("position", cur.ID),
			zap.String("side", string(cur.Side)),
			zap.String("qty", cur.OpenQuantity.String()),
			zap.String("avg", cur.AvgPrice().String()),
		)
	}

	if cur != nil {
		p := *cur
		b.open = &p
	} else {
		b.open = nil
	}
	return nil
}

// PlaceOrder records a new unsubmitted order stamped with the replay
// clock. It is considered on the current candle's fill pass.
func (b *Broker) PlaceOrder(ctx context.Context, req broker.OrderRequest) (broker.Order, error) {
	if req.Symbol == "" {
		req.Symbol = b.cfg.Symbol
	}
	if err := req.Validate(); err != nil {
		return broker.Order{}, err
	}
	if req.Symbol != b.cfg.Symbol {
		return broker.Order{}, fmt.Errorf("%w: run trades %s, not %s", broker.ErrInvalidOrder, b.cfg.Symbol, req.Symbol)
	}

	now := b.Now()
	o := broker.Order{
		ID:             id.NewAt(now),
		RunID:          b.cfg.RunID,
		Symbol:         req.Symbol,
		Action:         req.Action,
		Type:           req.Type,
		Quantity:       req.Quantity,
		LimitPrice:     req.LimitPrice,
		AuxPrice:       req.AuxPrice,
		TrailAmount:    req.TrailAmount,
		TrailPercent:   req.TrailPercent,
		TrailStopPrice: req.TrailStopPrice,
		LimitOffset:    req.LimitOffset,
		OCAGroup:       req.OCAGroup,
		Transmit:       true,
		Status:         broker.Unsubmitted,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := b.store.InsertOrder(ctx, o); err != nil {
		return broker.Order{}, fmt.Errorf("insert order: %w", err)
	}
	b.log.Info("order placed", zap.String("order", o.ID), zap.Stringer("detail", o))
	return o, nil
}

func (b *Broker) CancelOrder(ctx context.Context, orderID string) error {
	if err := b.store.UpdateOrderStatus(ctx, orderID, broker.Cancelled, decimal.Zero); err != nil {
		return fmt.Errorf("cancel order %s: %w", orderID, err)
	}
	b.log.Info("order cancelled by strategy", zap.String("order", orderID))
	return nil
}

// OpenPosition returns the run's open position in symbol, or nil.
func (b *Broker) OpenPosition(ctx context.Context, symbol string) (*broker.Position, error) {
	return b.store.FindOpenPosition(ctx, b.cfg.RunID, symbol)
}

func (b *Broker) Quote(symbol string) (market.Quote, error) {
	return b.quotes.Get(symbol)
}

// Now is the replay clock: the last update time of the current candle.
func (b *Broker) Now() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.now
}

var _ broker.Broker = (*Broker)(nil)

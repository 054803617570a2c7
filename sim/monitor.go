package sim

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrInterrupted means a wait was cancelled. Runs treat it as a
	// user request to stop, not a failure.
	ErrInterrupted = errors.New("replay interrupted")

	// ErrStrategyTimeout means the strategy layer did not answer within
	// the configured wait timeout.
	ErrStrategyTimeout = errors.New("timed out waiting for strategies")
)

// Monitor is shared by the replay broker and the strategy layer. The
// strategy layer reports strategies starting and stopping and each
// completed rule evaluation; the broker waits on those counters.
type Monitor struct {
	mu          sync.Mutex
	cond        *sync.Cond
	running     int
	completions int
	cancelled   bool
	timeout     time.Duration
}

// NewMonitor returns a monitor. A zero timeout waits forever.
func NewMonitor(timeout time.Duration) *Monitor {
	m := &Monitor{timeout: timeout}
	m.cond = sync.NewCond(&m.mu)
	return m
}

func (m *Monitor) StrategyStarted() {
	m.mu.Lock()
	m.running++
	m.cond.Broadcast()
	m.mu.Unlock()
}

func (m *Monitor) StrategyStopped() {
	m.mu.Lock()
	if m.running > 0 {
		m.running--
	}
	m.cond.Broadcast()
	m.mu.Unlock()
}

func (m *Monitor) RuleCompleted() {
	m.mu.Lock()
	m.completions++
	m.cond.Broadcast()
	m.mu.Unlock()
}

// ResetCompletion zeroes the completion counter. The broker calls it
// before handing the strategy layer new work.
func (m *Monitor) ResetCompletion() {
	m.mu.Lock()
	m.completions = 0
	m.mu.Unlock()
}

func (m *Monitor) Running() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Cancel wakes every waiter; all current and future waits return
// ErrInterrupted.
func (m *Monitor) Cancel() {
	m.mu.Lock()
	m.cancelled = true
	m.cond.Broadcast()
	m.mu.Unlock()
}

// WaitForStart blocks until at least one strategy is running.
func (m *Monitor) WaitForStart(ctx context.Context) error {
	return m.wait(ctx, func() bool { return m.running < 1 })
}

// WaitForRuleCompletion blocks while strategies are running and none
// has finished evaluating the current bar.
func (m *Monitor) WaitForRuleCompletion(ctx context.Context) error {
	return m.wait(ctx, func() bool { return m.running > 0 && m.completions < 1 })
}

// WaitForSingleStrategy blocks while more than one strategy runs.
func (m *Monitor) WaitForSingleStrategy(ctx context.Context) error {
	return m.wait(ctx, func() bool { return m.running > 1 })
}

// wait blocks while blocked() holds. blocked is called with m.mu held.
func (m *Monitor) wait(ctx context.Context, blocked func() bool) error {
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}
	stop := context.AfterFunc(ctx, func() {
		m.mu.Lock()
		m.cond.Broadcast()
		m.mu.Unlock()
	})
	defer stop()

	m.mu.Lock()
	defer m.mu.Unlock()
	for {
		if m.cancelled {
			return ErrInterrupted
		}
		if err := ctx.Err(); err != nil {
			if m.timeout > 0 && errors.Is(err, context.DeadlineExceeded) {
				return ErrStrategyTimeout
			}
			return ErrInterrupted
		}
		if !blocked() {
			return nil
		}
		m.cond.Wait()
	}
}

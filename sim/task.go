package sim

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Task is a replay run in flight: the feed consumer and the broker,
// each on its own goroutine.
type Task struct {
	b      *Broker
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	res Result
	err error
}

// Start runs b and its feed until the replay finishes, fails or is
// cancelled. onDone callbacks run once both goroutines have returned
// and the feed's memory has been released.
func Start(ctx context.Context, b *Broker, onDone ...func(Result, error)) *Task {
	ctx, cancel := context.WithCancel(ctx)
	t := &Task{b: b, cancel: cancel, done: make(chan struct{})}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return b.feed.Run(gctx)
	})
	g.Go(func() error {
		res, err := b.Run(gctx)
		t.mu.Lock()
		t.res = res
		t.mu.Unlock()
		return err
	})

	go func() {
		err := g.Wait()
		b.feed.Release()
		cancel()

		t.mu.Lock()
		t.err = err
		res := t.res
		t.mu.Unlock()
		for _, fn := range onDone {
			fn(res, err)
		}
		close(t.done)
	}()
	return t
}

// Cancel interrupts the run. Wait still reports the partial result.
func (t *Task) Cancel() {
	t.cancel()
	t.b.mon.Cancel()
	t.b.feed.Cancel()
}

func (t *Task) Done() <-chan struct{} { return t.done }

func (t *Task) Broker() *Broker { return t.b }

// Wait blocks until the task has finished.
func (t *Task) Wait() (Result, error) {
	<-t.done
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.res, t.err
}

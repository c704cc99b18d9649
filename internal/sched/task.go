// Package sched provides cancelable interval-driven background tasks.
package sched

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrStopTask signals from a tick func that the task should tear itself down.
// Any other tick error is logged and the loop continues on the next tick.
var ErrStopTask = errors.New("sched: stop task")

// TickFunc is invoked on every tick. Returning ErrStopTask ends the task;
// returning any other error is treated as a transient failure.
type TickFunc func(ctx context.Context) error

// Task runs a TickFunc at a fixed interval until stopped or canceled.
type Task struct {
	name     string
	interval time.Duration
	fn       TickFunc
	clock    Clock
	logger   zerolog.Logger

	mu        sync.Mutex
	startOnce sync.Once
	stopOnce  sync.Once
	started   bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// Option configures a Task.
type Option func(*Task)

// WithClock overrides the task's clock.
func WithClock(c Clock) Option {
	return func(t *Task) { t.clock = c }
}

// WithLogger overrides the task's logger.
func WithLogger(l zerolog.Logger) Option {
	return func(t *Task) { t.logger = l }
}

// NewTask creates a task that runs fn every interval once started.
func NewTask(name string, interval time.Duration, fn TickFunc, opts ...Option) *Task {
	t := &Task{
		name:     name,
		interval: interval,
		fn:       fn,
		clock:    RealClock{},
		logger:   zerolog.Nop(),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start launches the task loop. It is safe to call only once. The
// ticker is registered before Start returns, so a manual clock advanced
// right after Start reaches it.
func (t *Task) Start(ctx context.Context) {
	t.startOnce.Do(func() {
		t.mu.Lock()
		ctx, t.cancel = context.WithCancel(ctx)
		t.started = true
		t.mu.Unlock()
		ticker := t.clock.NewTicker(t.interval)
		go t.loop(ctx, ticker)
	})
}

func (t *Task) loop(ctx context.Context, ticker Ticker) {
	defer close(t.done)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			if err := t.fn(ctx); err != nil {
				if errors.Is(err, ErrStopTask) {
					t.logger.Debug().Str("task", t.name).Msg("Task finished")
					return
				}
				// Transient tick failure, retried on the next tick.
				t.logger.Warn().Err(err).Str("task", t.name).Msg("Task tick failed")
			}
		}
	}
}

// Stop cancels the task and waits for the loop to exit. Idempotent.
func (t *Task) Stop() {
	t.mu.Lock()
	started := t.started
	t.mu.Unlock()
	if !started {
		return
	}
	t.stopOnce.Do(func() {
		t.cancel()
	})
	<-t.done
}

// Done returns a channel closed when the task loop has exited.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

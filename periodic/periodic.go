// Package periodic runs a function every N seconds on its own goroutine until
// stopped, and provides the cancellable sleep shared by the polling agents.
//
// A Task is strictly sequential: the next invocation never starts before the
// previous one returned. Stop is advisory; it is observed while the task is
// waiting, never in the middle of an invocation.
package periodic

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/theoremus-urban-solutions/gtfs-live/internal/logger"
)

// Sleep blocks for d or until ctx is done, whichever comes first.
// A non-positive d returns immediately.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Func is the unit of work run by a Task.
type Func func(ctx context.Context) error

// Option configures a Task.
type Option func(*Task)

// WithRunAtStart invokes the function once immediately instead of waiting a
// full period first.
func WithRunAtStart() Option {
	return func(t *Task) { t.runAtStart = true }
}

// WithLogger sets the logger used for failures.
func WithLogger(l logger.Logger) Option {
	return func(t *Task) { t.log = l }
}

// WithMetrics records run counts and durations.
func WithMetrics(m *Metrics) Option {
	return func(t *Task) { t.metrics = m }
}

// Task is a perpetual "run fn every period" loop.
type Task struct {
	name       string
	every      time.Duration
	fn         Func
	runAtStart bool
	log        logger.Logger
	metrics    *Metrics

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// Start builds the task and launches its loop. The loop ends when Stop is
// called or ctx is cancelled.
func Start(ctx context.Context, name string, every time.Duration, fn Func, opts ...Option) *Task {
	t := &Task{
		name:  name,
		every: every,
		fn:    fn,
		log:   logger.NewNop(),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	for _, o := range opts {
		o(t)
	}
	t.log = t.log.With(logger.String("task", name))
	go t.loop(ctx)
	return t
}

// Stop asks the loop to exit at its next wait. Safe to call more than once.
func (t *Task) Stop() {
	t.stopOnce.Do(func() { close(t.stop) })
}

// Done is closed once the loop has exited.
func (t *Task) Done() <-chan struct{} { return t.done }

// Name returns the task name given to Start.
func (t *Task) Name() string { return t.name }

func (t *Task) loop(ctx context.Context) {
	defer close(t.done)

	first := t.runAtStart
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		if !first {
			if timer == nil {
				timer = time.NewTimer(t.every)
			} else {
				timer.Reset(t.every)
			}
			select {
			case <-ctx.Done():
				t.log.Debug("periodic task cancelled")
				return
			case <-t.stop:
				t.log.Debug("periodic task stopped")
				return
			case <-timer.C:
			}
		}
		first = false

		select {
		case <-t.stop:
			return
		default:
		}

		t.invoke(ctx)
	}
}

func (t *Task) invoke(ctx context.Context) {
	start := time.Now()
	err := t.call(ctx)
	elapsed := time.Since(start)
	t.metrics.observe(t.name, err, elapsed)
	if err != nil {
		t.log.Error("periodic task failed", logger.Error(err), logger.Duration("elapsed", elapsed))
		return
	}
	t.log.Debug("periodic task finished", logger.Duration("elapsed", elapsed))
}

func (t *Task) call(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("periodic task %s panicked: %v", t.name, r)
		}
	}()
	return t.fn(ctx)
}

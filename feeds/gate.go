package feeds

import (
	"context"
	"sync"
	"time"
)

// Gate is a one-shot readiness signal. Once opened it stays open.
type Gate struct {
	once sync.Once
	ch   chan struct{}
}

func NewGate() *Gate {
	return &Gate{ch: make(chan struct{})}
}

// Open releases every current and future waiter. Safe to call repeatedly.
func (g *Gate) Open() {
	g.once.Do(func() { close(g.ch) })
}

func (g *Gate) IsOpen() bool {
	select {
	case <-g.ch:
		return true
	default:
		return false
	}
}

// Done is closed when the gate opens.
func (g *Gate) Done() <-chan struct{} { return g.ch }

// Wait blocks until the gate opens or ctx is done. An open gate returns nil
// even when ctx is already done.
func (g *Gate) Wait(ctx context.Context) error {
	if g.IsOpen() {
		return nil
	}
	select {
	case <-g.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitTimeout reports whether the gate opened within d. A zero d only polls.
func (g *Gate) WaitTimeout(d time.Duration) bool {
	if d <= 0 {
		return g.IsOpen()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-g.ch:
		return true
	case <-timer.C:
		return false
	}
}

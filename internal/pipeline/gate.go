package pipeline

import (
	"context"
	"sync"
)

// gate is a single-slot future. The loop arms it before announcing the wait,
// and an external signal resolves it at most once. Resolving a gate that is
// not armed does nothing.
type gate[T any] struct {
	mu sync.Mutex
	ch chan T
}

func (g *gate[T]) arm() <-chan T {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ch = make(chan T, 1)
	return g.ch
}

func (g *gate[T]) resolve(v T) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ch == nil {
		return false
	}
	g.ch <- v
	g.ch = nil
	return true
}

func (g *gate[T]) disarm() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ch = nil
}

func (g *gate[T]) armed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ch != nil
}

// wait blocks until the gate is resolved or ctx is done.
func (g *gate[T]) wait(ctx context.Context, ch <-chan T) (T, error) {
	select {
	case v := <-ch:
		return v, nil
	case <-ctx.Done():
		g.disarm()
		var zero T
		return zero, ctx.Err()
	}
}

// Decision is the answer to an approval request.
type Decision struct {
	Approved bool
	Feedback string
}

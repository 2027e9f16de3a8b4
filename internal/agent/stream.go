package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

const (
	DefaultTimeout     = 5 * time.Minute
	DefaultRetries     = 2
	DefaultBackoff     = 2 * time.Second
	DefaultPingTimeout = 10 * time.Second

	streamBuffer = 64
)

// Options bounds a single invocation.
type Options struct {
	// Timeout applies to each attempt. Zero disables it.
	Timeout time.Duration
	// Retries is the number of extra attempts after the first failure.
	Retries int
}

// Status is the liveness of an agent backend.
type Status struct {
	Connected bool      `json:"connected"`
	LastPing  time.Time `json:"lastPing"`
}

type liveness struct {
	mu        sync.RWMutex
	connected bool
	lastPing  time.Time
}

func (l *liveness) status() Status {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return Status{Connected: l.connected, LastPing: l.lastPing}
}

func (l *liveness) up() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.connected = true
	l.lastPing = time.Now()
}

func (l *liveness) down() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.connected = false
}

func (l *liveness) pinged() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastPing = time.Now()
}

// attemptFunc runs one attempt. emit forwards a chunk and reports false once
// the consumer is gone; the attempt should stop then. It returns the full
// response on success.
type attemptFunc func(ctx context.Context, emit func(chunk string) bool) (string, error)

// stream drives attempts under the timeout and retry policy and returns the
// event channel. The channel is closed after the terminal event.
func stream(ctx context.Context, name string, opts Options, backoff time.Duration, live *liveness, attempt attemptFunc) <-chan StreamEvent {
	out := make(chan StreamEvent, streamBuffer)

	send := func(typ EventType, content string) bool {
		ev := StreamEvent{Type: typ, Content: content, Timestamp: time.Now()}
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}
	fail := func(err error) {
		if send(EventError, err.Error()) {
			return
		}
		// Cancelled: deliver only if there is room, the close ends the stream anyway.
		select {
		case out <- StreamEvent{Type: EventError, Content: err.Error(), Timestamp: time.Now()}:
		default:
		}
	}

	go func() {
		defer close(out)

		var lastErr error
		for n := 1; ; n++ {
			attemptCtx, cancel := withTimeout(ctx, opts.Timeout)
			full, err := attempt(attemptCtx, func(chunk string) bool {
				return send(EventChunk, chunk)
			})
			timedOut := ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded)
			cancel()

			if timedOut {
				err = fmt.Errorf("%w after %s", ErrTimeout, opts.Timeout)
			}
			if err == nil {
				live.up()
				send(EventDone, full)
				return
			}
			if ctx.Err() != nil {
				fail(ctx.Err())
				return
			}

			lastErr = err
			if n > opts.Retries {
				break
			}
			log.Printf("[Agent] %s attempt %d/%d failed: %v (retrying in %s)", name, n, opts.Retries+1, err, backoff)

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				fail(ctx.Err())
				return
			}
		}

		live.down()
		log.Printf("[Agent] %s gave up after %d attempts: %v", name, opts.Retries+1, lastErr)
		fail(lastErr)
	}()

	return out
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

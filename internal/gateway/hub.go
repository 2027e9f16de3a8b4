package gateway

import (
	"log"
	"sync"

	"github.com/rahul/esteira/internal/pipeline"
)

// sinkBuffer is how many events a sink may fall behind before live output
// for it is shed.
const sinkBuffer = 256

func logf(format string, args ...any) {
	log.Printf("[Gateway] "+format, args...)
}

// Hub fans pipeline notifications out to its sinks. Each sink is fed by its
// own goroutine in publish order, so a slow sink never blocks the pipeline
// or the other sinks. When a sink falls sinkBuffer events behind, stream
// chunks and checklist updates for it are dropped until it catches up.
// Every other event is always delivered.
type Hub struct {
	mu     sync.Mutex
	sinks  []*hubSink
	closed bool
	wg     sync.WaitGroup
}

type hubSink struct {
	name string
	sink pipeline.Broadcaster
	wake chan struct{}

	mu      sync.Mutex
	queue   []pipeline.Event
	closed  bool
	dropped int
}

func NewHub() *Hub {
	return &Hub{}
}

// Add registers a sink under name.
func (h *Hub) Add(name string, sink pipeline.Broadcaster) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	s := &hubSink{name: name, sink: sink, wake: make(chan struct{}, 1)}
	h.sinks = append(h.sinks, s)
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		s.drain()
	}()
}

func (h *Hub) Publish(ev pipeline.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for _, s := range h.sinks {
		s.push(ev)
	}
}

// Close stops accepting events and waits for the sinks to drain.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	for _, s := range h.sinks {
		s.close()
	}
	h.mu.Unlock()
	h.wg.Wait()
}

// sheddable reports whether ev only carries live progress that a later
// event supersedes.
func sheddable(ev pipeline.Event) bool {
	return ev.Name == pipeline.EventStream || ev.Name == pipeline.EventTasksUpdated
}

func (s *hubSink) push(ev pipeline.Event) {
	s.mu.Lock()
	if sheddable(ev) && len(s.queue) >= sinkBuffer {
		s.dropped++
		s.mu.Unlock()
		return
	}
	if s.dropped > 0 && len(s.queue) < sinkBuffer {
		logf("Sink %s caught up after dropping %d events", s.name, s.dropped)
		s.dropped = 0
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *hubSink) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *hubSink) drain() {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return
			}
			<-s.wake
			continue
		}
		batch := s.queue
		s.queue = nil
		s.mu.Unlock()

		for _, ev := range batch {
			s.sink.Publish(ev)
		}
	}
}

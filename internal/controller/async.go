package controller

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// AsyncSink delivers events to next from its own goroutine, so a slow
// journal write or broker publish never holds up the control loop. When
// the queue is full new events are dropped and counted.
type AsyncSink struct {
	next   Sink
	queue  chan Event
	done   chan struct{}
	logger zerolog.Logger

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
}

// NewAsyncSink starts the delivery goroutine. Call Close to stop it.
func NewAsyncSink(next Sink, size int, logger zerolog.Logger) *AsyncSink {
	if size < 1 {
		size = 1
	}
	a := &AsyncSink{
		next:   next,
		queue:  make(chan Event, size),
		done:   make(chan struct{}),
		logger: logger,
	}
	go a.run()
	return a
}

func (a *AsyncSink) run() {
	defer close(a.done)
	for e := range a.queue {
		a.next.Emit(e)
	}
}

// Emit queues e without blocking. Events emitted after Close are discarded.
func (a *AsyncSink) Emit(e Event) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}
	select {
	case a.queue <- e:
	default:
		n := a.dropped.Add(1)
		a.logger.Warn().Str("event", string(e.Type)).Uint64("dropped", n).Msg("event queue full, dropping event")
	}
}

// Dropped returns the number of events discarded because the queue was full.
func (a *AsyncSink) Dropped() uint64 {
	return a.dropped.Load()
}

// Close stops accepting events and waits until queued ones are delivered.
func (a *AsyncSink) Close() {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()
	<-a.done
}

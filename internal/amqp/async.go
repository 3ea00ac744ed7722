package amqp

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"finadvisor/internal/log"
)

var (
	ErrQueueFull = errors.New("event queue is full")
	ErrClosed    = errors.New("publisher is closed")
)

// AsyncPublisher queues events and delivers them from a single goroutine, so
// a slow or stalled broker never blocks the caller. Events are dropped when
// the queue is full.
type AsyncPublisher struct {
	next    Publisher
	logger  *log.Logger
	events  chan Event
	done    chan struct{}
	dropped atomic.Int64

	mu     sync.RWMutex
	closed bool
}

func NewAsyncPublisher(next Publisher, size int, logger *log.Logger) *AsyncPublisher {
	if logger == nil {
		logger = log.Discard()
	}
	if size < 1 {
		size = 1
	}
	a := &AsyncPublisher{
		next:   next,
		logger: logger.WithComponent(log.ComponentAMQP),
		events: make(chan Event, size),
		done:   make(chan struct{}),
	}
	go a.run()
	return a
}

// Publish enqueues e without waiting for delivery.
func (a *AsyncPublisher) Publish(_ context.Context, e Event) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrClosed
	}
	select {
	case a.events <- e:
		return nil
	default:
		a.dropped.Add(1)
		return ErrQueueFull
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (a *AsyncPublisher) Dropped() int64 {
	return a.dropped.Load()
}

// Close stops accepting events, delivers what is queued and closes the
// underlying publisher.
func (a *AsyncPublisher) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.events)
	a.mu.Unlock()

	<-a.done
	return a.next.Close()
}

func (a *AsyncPublisher) run() {
	defer close(a.done)
	for e := range a.events {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout+connectTimeout)
		if err := a.next.Publish(ctx, e); err != nil {
			a.logger.Warn("Failed to deliver event", log.FieldError, err, "event_type", e.Type)
		}
		cancel()
	}
}

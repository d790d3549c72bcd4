// Package event carries job lifecycle notifications to secondary consumers
// such as webhooks. Live per-job progress does not go through the bus.
package event

import (
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// Type identifies a category of event.
type Type string

// Known event types.
const (
	JobStarted   Type = "folder_size.started"
	JobCompleted Type = "folder_size.completed"
	JobPartial   Type = "folder_size.partial"
	JobFailed    Type = "folder_size.failed"
	JobCanceled  Type = "folder_size.canceled"
)

// AllTypes lists every known type in lifecycle order.
var AllTypes = []Type{JobStarted, JobCompleted, JobPartial, JobFailed, JobCanceled}

// Known reports whether t is one of AllTypes.
func Known(t Type) bool {
	return slices.Contains(AllTypes, t)
}

// Terminal reports whether t ends a job.
func (t Type) Terminal() bool {
	return Known(t) && t != JobStarted
}

// Event is one lifecycle notification. Data holds the job fields relevant
// to the type.
type Event struct {
	Type      Type           `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Handler consumes an event. Handlers run on the bus goroutine one after
// another, so slow work belongs in a goroutine of the handler's own.
type Handler func(Event)

const defaultQueueSize = 256

// Bus fans events out to subscribers from a single goroutine. Publish never
// blocks; events beyond the queue size are dropped and counted.
type Bus struct {
	queue   chan Event
	logger  *slog.Logger
	dropped atomic.Uint64

	mu       sync.RWMutex
	byType   map[Type][]Handler
	wildcard []Handler

	quit     chan struct{}
	quitOnce sync.Once
	stopped  chan struct{}
}

// NewBus returns a bus queueing up to size events. A non-positive size
// uses the default of 256.
func NewBus(logger *slog.Logger, size int) *Bus {
	if size <= 0 {
		size = defaultQueueSize
	}
	return &Bus{
		queue:   make(chan Event, size),
		logger:  logger.With(slog.String("component", "event-bus")),
		byType:  make(map[Type][]Handler),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Subscribe calls h for events of type t.
func (b *Bus) Subscribe(t Type, h Handler) {
	b.mu.Lock()
	b.byType[t] = append(b.byType[t], h)
	b.mu.Unlock()
}

// SubscribeAll calls h for every event, after the type-specific handlers.
func (b *Bus) SubscribeAll(h Handler) {
	b.mu.Lock()
	b.wildcard = append(b.wildcard, h)
	b.mu.Unlock()
}

// Publish queues e, stamping it with the current time when unset.
func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	select {
	case b.queue <- e:
	default:
		n := b.dropped.Add(1)
		b.logger.Warn("event queue full, dropping event",
			slog.String("type", string(e.Type)),
			slog.Uint64("dropped_total", n))
	}
}

// Dropped returns how many events Publish has discarded.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Start delivers queued events until Stop, then delivers whatever is still
// queued and returns. Run it in its own goroutine.
func (b *Bus) Start() {
	defer close(b.stopped)
	for {
		select {
		case e := <-b.queue:
			b.deliver(e)
		case <-b.quit:
			b.drain()
			return
		}
	}
}

func (b *Bus) drain() {
	for {
		select {
		case e := <-b.queue:
			b.deliver(e)
		default:
			return
		}
	}
}

// Stop asks Start to finish. It may be called more than once.
func (b *Bus) Stop() {
	b.quitOnce.Do(func() { close(b.quit) })
}

// Wait blocks until Start has returned.
func (b *Bus) Wait() {
	<-b.stopped
}

func (b *Bus) handlers(t Type) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.Concat(b.byType[t], b.wildcard)
}

func (b *Bus) deliver(e Event) {
	for _, h := range b.handlers(e.Type) {
		b.call(h, e)
	}
}

// call runs h, logging a panic instead of letting it stop the bus.
func (b *Bus) call(h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				slog.String("type", string(e.Type)),
				slog.Any("panic", r))
		}
	}()
	h(e)
}

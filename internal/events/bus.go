// Package events fans queue events out to subscribers over channels.
// Each component publishes to one Bus; subscribers own their receive
// channel and unsubscribe when done.
package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/offsync/opqueue/internal/domain"
)

// DefaultBuffer is the per-subscriber channel depth.
const DefaultBuffer = 64

// Bus is a one-to-many event fan-out. Publish never blocks: a
// subscriber that falls behind loses events rather than stalling the
// queue.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan domain.Event
	nextID int
	buffer int
	closed bool
	logger *slog.Logger
}

// NewBus creates a bus with the given per-subscriber buffer depth.
// A non-positive buffer uses DefaultBuffer.
func NewBus(buffer int, logger *slog.Logger) *Bus {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Bus{
		subs:   make(map[int]chan domain.Event),
		buffer: buffer,
		logger: logger,
	}
}

// Subscribe registers a new subscriber and returns its receive channel
// together with an unsubscribe function. The channel is closed on
// unsubscribe and on bus Close.
func (b *Bus) Subscribe() (<-chan domain.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan domain.Event)
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	ch := make(chan domain.Event, b.buffer)
	b.subs[id] = ch

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, unsubscribe
}

// Publish delivers the event to every subscriber without blocking.
func (b *Bus) Publish(eventType domain.EventType, data interface{}) {
	evt := domain.Event{Type: eventType, Time: time.Now(), Data: data}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for id, ch := range b.subs {
		select {
		case ch <- evt:
		default:
			b.logger.Debug("Dropping event for slow subscriber",
				slog.Int("subscriber", id),
				slog.String("event", string(eventType)),
			)
		}
	}
}

// Close shuts the bus down and closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

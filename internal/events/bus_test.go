package events

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/offsync/opqueue/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestBus_FanOut(t *testing.T) {
	bus := NewBus(4, testLogger())
	defer bus.Close()

	ch1, unsub1 := bus.Subscribe()
	ch2, unsub2 := bus.Subscribe()
	defer unsub1()
	defer unsub2()

	bus.Publish(domain.EventEnqueued, "item-1")

	for _, ch := range []<-chan domain.Event{ch1, ch2} {
		select {
		case evt := <-ch:
			assert.Equal(t, domain.EventEnqueued, evt.Type)
			assert.Equal(t, "item-1", evt.Data)
			assert.WithinDuration(t, time.Now(), evt.Time, time.Second)
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestBus_SlowSubscriberDoesNotBlockPublish(t *testing.T) {
	bus := NewBus(1, testLogger())
	defer bus.Close()

	ch, unsub := bus.Subscribe()
	defer unsub()

	done := make(chan struct{})
	go func() {
		// Buffer is 1; the extra publishes must drop, not block.
		for i := 0; i < 10; i++ {
			bus.Publish(domain.EventCompleted, i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	evt := <-ch
	assert.Equal(t, domain.EventCompleted, evt.Type)
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(4, testLogger())
	defer bus.Close()

	ch, unsub := bus.Subscribe()
	unsub()

	_, open := <-ch
	assert.False(t, open, "channel must be closed after unsubscribe")

	// Publishing after unsubscribe must not panic.
	bus.Publish(domain.EventFailed, nil)

	// Unsubscribing twice must be safe.
	unsub()
}

func TestBus_Close(t *testing.T) {
	bus := NewBus(4, testLogger())

	ch, _ := bus.Subscribe()
	bus.Close()

	_, open := <-ch
	require.False(t, open)

	// Subscribe after close returns a closed channel.
	ch2, unsub := bus.Subscribe()
	_, open = <-ch2
	assert.False(t, open)
	unsub()

	// Idempotent close.
	bus.Close()
}

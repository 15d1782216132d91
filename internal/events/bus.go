package events

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"dramaforge/internal/logging"
)

// Listener observes events. A returned error is logged by the bus.
type Listener func(Event) error

type subscription struct {
	id       uint64
	listener Listener
}

// Bus is a synchronous publish/subscribe channel.
type Bus struct {
	logger *slog.Logger

	mu     sync.RWMutex
	nextID uint64
	subs   []subscription
}

// NewBus constructs an empty bus.
func NewBus(logger *slog.Logger) *Bus {
	return &Bus{logger: logging.NewComponentLogger(logger, "events")}
}

// Subscribe registers listener and returns a function that removes it.
// Calling the returned function more than once is harmless.
func (b *Bus) Subscribe(listener Listener) func() {
	if listener == nil {
		return func() {}
	}
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, listener: listener})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, sub := range b.subs {
				if sub.id == id {
					b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Emit delivers evt to every listener in subscription order.
func (b *Bus) Emit(evt Event) {
	if b == nil {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()

	for _, sub := range subs {
		if err := deliver(sub.listener, evt); err != nil {
			b.logger.Warn("event listener failed",
				logging.String(logging.FieldEventType, "event_listener_failed"),
				logging.String(logging.FieldErrorHint, "listener errors never reach the pipeline; inspect the listener"),
				logging.String("event", string(evt.Type)),
				logging.String(logging.FieldProjectID, evt.ProjectID),
				logging.Error(err))
		}
	}
}

// Len reports the number of active subscriptions.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func deliver(listener Listener, evt Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panic: %v", r)
		}
	}()
	return listener(evt)
}

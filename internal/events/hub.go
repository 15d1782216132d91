package events

import (
	"context"
	"sync"
)

// Hub buffers recent events and wakes long-poll readers.
type Hub struct {
	mu       sync.Mutex
	capacity int
	buffer   []Event
	nextSeq  uint64
	notify   chan struct{}
}

// NewHub constructs a hub holding at most capacity events.
func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Hub{capacity: capacity, notify: make(chan struct{})}
}

// Listener returns a bus listener that records into the hub.
func (h *Hub) Listener() Listener {
	return func(evt Event) error {
		h.Publish(evt)
		return nil
	}
}

// Publish appends evt, dropping the oldest event when full.
func (h *Hub) Publish(evt Event) {
	h.mu.Lock()
	h.nextSeq++
	evt.Sequence = h.nextSeq
	if len(h.buffer) == h.capacity {
		h.buffer = append(h.buffer[:0], h.buffer[1:]...)
	}
	h.buffer = append(h.buffer, evt)
	close(h.notify)
	h.notify = make(chan struct{})
	h.mu.Unlock()
}

// Fetch returns up to limit events with a sequence greater than since,
// optionally restricted to one project. When wait is set and nothing matches,
// Fetch blocks until a matching event arrives or ctx ends. The returned
// cursor is the sequence to pass as since on the next call.
func (h *Hub) Fetch(ctx context.Context, since uint64, projectID string, limit int, wait bool) ([]Event, uint64, error) {
	if limit <= 0 || limit > h.capacity {
		limit = h.capacity
	}
	for {
		h.mu.Lock()
		events, cursor := h.snapshotLocked(since, projectID, limit)
		notify := h.notify
		h.mu.Unlock()

		if len(events) > 0 || !wait {
			return events, cursor, nil
		}
		since = cursor
		select {
		case <-ctx.Done():
			return nil, cursor, ctx.Err()
		case <-notify:
		}
	}
}

func (h *Hub) snapshotLocked(since uint64, projectID string, limit int) ([]Event, uint64) {
	cursor := since
	var out []Event
	for _, evt := range h.buffer {
		if evt.Sequence <= since {
			continue
		}
		cursor = evt.Sequence
		if projectID != "" && evt.ProjectID != projectID {
			continue
		}
		out = append(out, evt)
		if len(out) == limit {
			break
		}
	}
	if len(out) == 0 {
		cursor = max(since, h.nextSeq)
	}
	return out, cursor
}

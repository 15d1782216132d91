package logging

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// LogEvent is one log record as served by the daemon's log API.
type LogEvent struct {
	Sequence      uint64            `json:"seq"`
	Timestamp     time.Time         `json:"ts"`
	Level         string            `json:"level"`
	Message       string            `json:"msg"`
	Component     string            `json:"component,omitempty"`
	ProjectID     string            `json:"project_id,omitempty"`
	Stage         string            `json:"stage,omitempty"`
	Item          string            `json:"item,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Fields        map[string]string `json:"fields,omitempty"`
}

// StreamHub keeps the most recent log events in memory for followers.
type StreamHub struct {
	mu     sync.Mutex
	ring   []LogEvent
	head   int // index of the oldest event once the ring is full
	seq    uint64
	wakeup chan struct{}
}

func NewStreamHub(capacity int) *StreamHub {
	if capacity <= 0 {
		capacity = 512
	}
	return &StreamHub{ring: make([]LogEvent, 0, capacity), wakeup: make(chan struct{})}
}

// Publish stores evt under the next sequence number, evicting the oldest
// event when full.
func (h *StreamHub) Publish(evt LogEvent) {
	if h == nil {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	h.mu.Lock()
	h.seq++
	evt.Sequence = h.seq
	if len(h.ring) < cap(h.ring) {
		h.ring = append(h.ring, evt)
	} else {
		h.ring[h.head] = evt
		h.head = (h.head + 1) % len(h.ring)
	}
	close(h.wakeup)
	h.wakeup = make(chan struct{})
	h.mu.Unlock()
}

// Fetch returns up to limit events after since that satisfy match (nil
// matches everything), plus the cursor for the next call. With wait set,
// Fetch blocks until a matching event arrives or ctx ends.
func (h *StreamHub) Fetch(ctx context.Context, since uint64, match func(LogEvent) bool, limit int, wait bool) ([]LogEvent, uint64, error) {
	if h == nil {
		return nil, since, nil
	}
	if limit <= 0 || limit > cap(h.ring) {
		limit = cap(h.ring)
	}
	for {
		h.mu.Lock()
		out, cursor := h.collectLocked(since, match, limit)
		wakeup := h.wakeup
		h.mu.Unlock()

		if len(out) > 0 || !wait {
			return out, cursor, nil
		}
		since = cursor
		select {
		case <-ctx.Done():
			return nil, cursor, ctx.Err()
		case <-wakeup:
		}
	}
}

func (h *StreamHub) collectLocked(since uint64, match func(LogEvent) bool, limit int) ([]LogEvent, uint64) {
	var out []LogEvent
	cursor := since
	for i := range h.ring {
		evt := h.ring[(h.head+i)%len(h.ring)]
		if evt.Sequence <= since {
			continue
		}
		cursor = evt.Sequence
		if match != nil && !match(evt) {
			continue
		}
		out = append(out, evt)
		if len(out) == limit {
			return out, cursor
		}
	}
	return out, max(cursor, h.seq)
}

// streamHandler converts records into LogEvents for a StreamHub. Groups are
// flattened into dotted field names.
type streamHandler struct {
	level   slog.Leveler
	hub     *StreamHub
	subject subject
	corrID  string
	group   string
	fields  map[string]string
}

func newStreamHandler(level slog.Leveler, hub *StreamHub) slog.Handler {
	return &streamHandler{level: level, hub: hub}
}

func (h *streamHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *streamHandler) Handle(_ context.Context, r slog.Record) error {
	next := h.clone()
	r.Attrs(func(a slog.Attr) bool {
		next.absorb(h.group, a)
		return true
	})
	h.hub.Publish(LogEvent{
		Timestamp:     r.Time.UTC(),
		Level:         levelLabel(r.Level),
		Message:       strings.TrimSpace(r.Message),
		Component:     next.subject.component,
		ProjectID:     next.subject.project,
		Stage:         next.subject.stage,
		Item:          next.subject.item,
		CorrelationID: next.corrID,
		Fields:        next.fields,
	})
	return nil
}

func (h *streamHandler) clone() *streamHandler {
	next := *h
	if len(h.fields) > 0 {
		next.fields = make(map[string]string, len(h.fields))
		for k, v := range h.fields {
			next.fields[k] = v
		}
	}
	return &next
}

func (h *streamHandler) absorb(group string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Value.Kind() == slog.KindGroup {
		for _, member := range a.Value.Group() {
			h.absorb(joinKey(group, a.Key), member)
		}
		return
	}
	if a.Key == "" {
		return
	}
	if group == "" {
		if a.Key == FieldCorrelationID {
			h.corrID = plain(a.Value)
			return
		}
		if h.subject.lift(a.Key, a.Value) {
			return
		}
	}
	if h.fields == nil {
		h.fields = make(map[string]string)
	}
	h.fields[joinKey(group, a.Key)] = plain(a.Value)
}

func (h *streamHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := h.clone()
	for _, a := range attrs {
		next.absorb(h.group, a)
	}
	return next
}

func (h *streamHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.group = joinKey(h.group, name)
	return &next
}

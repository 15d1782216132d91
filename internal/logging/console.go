package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// consoleHandler renders one human-oriented line per record:
//
//	2026-01-02T15:04:05Z INFO runner: stage started [p1/render#panel-3] items=4
//
// The component, project, stage and item attributes are lifted out of the
// key/value tail into the prefix and subject.
type consoleHandler struct {
	w      *syncWriter
	level  slog.Leveler
	source bool

	subject subject
	group   string
	// tail holds the pre-rendered " key=value" pairs added through WithAttrs.
	tail string
}

type subject struct {
	component, project, stage, item string
}

// lift claims key into the subject and reports whether it did. The first
// component wins; later project, stage and item values override.
func (s *subject) lift(key string, v slog.Value) bool {
	switch key {
	case FieldComponent:
		if s.component == "" {
			s.component = plain(v)
		}
	case FieldProjectID:
		s.project = plain(v)
	case FieldStage:
		s.stage = plain(v)
	case FieldItem:
		s.item = plain(v)
	default:
		return false
	}
	return true
}

func (s subject) String() string {
	path := s.project
	if s.stage != "" {
		if path != "" {
			path += "/"
		}
		path += s.stage
	}
	if s.item != "" {
		path += "#" + s.item
	}
	return path
}

type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) write(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.w.Write(p)
	return err
}

func newConsoleHandler(w io.Writer, level slog.Leveler, source bool) slog.Handler {
	return &consoleHandler{w: &syncWriter{w: w}, level: level, source: source}
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *consoleHandler) Handle(_ context.Context, r slog.Record) error {
	subj := h.subject
	var tail strings.Builder
	tail.WriteString(h.tail)
	r.Attrs(func(a slog.Attr) bool {
		h.render(&tail, &subj, h.group, a)
		return true
	})

	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	var line strings.Builder
	line.Grow(96 + tail.Len())
	line.WriteString(ts.UTC().Format(time.RFC3339))
	line.WriteByte(' ')
	line.WriteString(levelLabel(r.Level))
	line.WriteByte(' ')
	if subj.component != "" {
		line.WriteString(subj.component)
		line.WriteString(": ")
	}
	msg := strings.TrimSpace(r.Message)
	if msg == "" {
		msg = "(no message)"
	}
	line.WriteString(msg)
	if s := subj.String(); s != "" {
		fmt.Fprintf(&line, " [%s]", s)
	}
	if h.source && r.PC != 0 {
		if src := r.Source(); src != nil {
			fmt.Fprintf(&line, " (%s:%d)", filepath.Base(src.File), src.Line)
		}
	}
	line.WriteString(tail.String())
	line.WriteByte('\n')
	return h.w.write([]byte(line.String()))
}

// render appends a as " key=value" pairs, flattening groups into dotted keys.
// Top-level subject attributes are lifted instead of printed.
func (h *consoleHandler) render(b *strings.Builder, subj *subject, group string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		if a.Key != "" {
			group = joinKey(group, a.Key)
		}
		for _, member := range a.Value.Group() {
			h.render(b, subj, group, member)
		}
		return
	}
	if group == "" && subj.lift(a.Key, a.Value) {
		return
	}
	if a.Key == "" {
		return
	}
	b.WriteByte(' ')
	b.WriteString(joinKey(group, a.Key))
	b.WriteByte('=')
	b.WriteString(quoteIfNeeded(plain(a.Value)))
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	var tail strings.Builder
	tail.WriteString(h.tail)
	for _, a := range attrs {
		h.render(&tail, &next.subject, h.group, a)
	}
	next.tail = tail.String()
	return &next
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.group = joinKey(h.group, name)
	return &next
}

func joinKey(group, key string) string {
	if group == "" {
		return key
	}
	return group + "." + key
}

// plain formats v without quoting.
func plain(v slog.Value) string {
	v = v.Resolve()
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'f', -1, 64)
	case slog.KindTime:
		return v.Time().UTC().Format(time.RFC3339)
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return err.Error()
		}
		return fmt.Sprint(v.Any())
	default:
		return v.String()
	}
}

func quoteIfNeeded(s string) string {
	if s == "" || strings.ContainsFunc(s, func(r rune) bool { return r <= ' ' || r == '=' || r == '"' }) {
		return strconv.Quote(s)
	}
	return s
}

func levelLabel(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "ERROR"
	case level >= slog.LevelWarn:
		return "WARN"
	case level >= slog.LevelInfo:
		return "INFO"
	default:
		return "DEBUG"
	}
}

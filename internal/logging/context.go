package logging

import (
	"context"
	"log/slog"

	"dramaforge/internal/services"
)

// Standard attribute keys. Handlers treat the first four specially: the
// console prints them as a "project/stage#item" subject and the stream hub
// stores them as first-class LogEvent fields.
const (
	FieldComponent     = "component"
	FieldProjectID     = "project_id"
	FieldStage         = "stage"
	FieldItem          = "item"
	FieldCorrelationID = "correlation_id"

	FieldAttempt   = "attempt"    // 1-based attempt of a retried call
	FieldEventType = "event_type" // lifecycle event a line describes
	FieldErrorHint = "error_hint" // what an operator should do next
	FieldImpact    = "impact"     // user-visible consequence of a warning
	FieldAlert     = "alert"
)

var contextFields = []struct {
	key string
	get func(context.Context) (string, bool)
}{
	{FieldProjectID, services.ProjectIDFromContext},
	{FieldStage, services.StageFromContext},
	{FieldItem, services.ItemFromContext},
	{FieldCorrelationID, services.RequestIDFromContext},
}

// ContextFields returns the correlation attributes carried by ctx.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	var attrs []slog.Attr
	for _, f := range contextFields {
		if v, ok := f.get(ctx); ok {
			attrs = append(attrs, slog.String(f.key, v))
		}
	}
	return attrs
}

// WithContext binds the correlation attributes of ctx to logger.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	if attrs := ContextFields(ctx); len(attrs) > 0 {
		return logger.With(Args(attrs...)...)
	}
	return logger
}

package services

import "context"

// ctxKey namespaces the correlation values carried through a pipeline run.
type ctxKey uint8

const (
	keyProject ctxKey = iota
	keyStage
	keyItem
	keyRequest
)

func with(ctx context.Context, k ctxKey, v string) context.Context {
	if v == "" {
		return ctx
	}
	return context.WithValue(ctx, k, v)
}

func lookup(ctx context.Context, k ctxKey) (string, bool) {
	v, _ := ctx.Value(k).(string)
	return v, v != ""
}

// WithProjectID tags ctx with the project being processed. Empty ids are ignored.
func WithProjectID(ctx context.Context, id string) context.Context { return with(ctx, keyProject, id) }

func ProjectIDFromContext(ctx context.Context) (string, bool) { return lookup(ctx, keyProject) }

// WithStage tags ctx with the running stage id.
func WithStage(ctx context.Context, stage string) context.Context { return with(ctx, keyStage, stage) }

func StageFromContext(ctx context.Context) (string, bool) { return lookup(ctx, keyStage) }

// WithItem tags ctx with the fan-out item key, such as a panel or dialogue line.
func WithItem(ctx context.Context, item string) context.Context { return with(ctx, keyItem, item) }

func ItemFromContext(ctx context.Context) (string, bool) { return lookup(ctx, keyItem) }

// WithRequestID tags ctx with an API request correlation id.
func WithRequestID(ctx context.Context, id string) context.Context { return with(ctx, keyRequest, id) }

func RequestIDFromContext(ctx context.Context) (string, bool) { return lookup(ctx, keyRequest) }

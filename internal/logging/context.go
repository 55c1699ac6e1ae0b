package logging

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type contextKey string

const fieldsKey contextKey = "log_fields"

// Fields are the request scoped values attached to every context log line.
type Fields struct {
	RequestID string
	ContextID int64
	ActorID   int64
}

func NewRequestID() string {
	return uuid.NewString()
}

// WithFields stores f in ctx, merging with fields already present.
func WithFields(ctx context.Context, f Fields) context.Context {
	cur := FieldsFrom(ctx)
	if f.RequestID != "" {
		cur.RequestID = f.RequestID
	}
	if f.ContextID != 0 {
		cur.ContextID = f.ContextID
	}
	if f.ActorID != 0 {
		cur.ActorID = f.ActorID
	}
	return context.WithValue(ctx, fieldsKey, cur)
}

func FieldsFrom(ctx context.Context) Fields {
	f, _ := ctx.Value(fieldsKey).(Fields)
	return f
}

// Ctx returns the global logger enriched with the request fields of ctx.
func Ctx(ctx context.Context) *zerolog.Logger {
	f := FieldsFrom(ctx)
	c := Logger().With()
	if f.RequestID != "" {
		c = c.Str("request_id", f.RequestID)
	}
	if f.ContextID != 0 {
		c = c.Int64("context_id", f.ContextID)
	}
	if f.ActorID != 0 {
		c = c.Int64("actor_id", f.ActorID)
	}
	l := c.Logger()
	return &l
}

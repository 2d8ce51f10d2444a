package logger

import (
	"context"
	"log/slog"
)

type fieldsKey struct{}

// LogFields are identifiers attached to a context. TraceHandler writes the
// set ones onto every record logged with that context.
type LogFields struct {
	AgentID       *string
	CorrelationID *string
	EventID       *string
	DecisionID    *string
	Seq           *int64
	EventType     *string
	Component     string
}

// WithLogFields returns ctx carrying fields merged over any fields already
// present. Unset values in fields leave the existing ones alone.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	return context.WithValue(ctx, fieldsKey{}, GetLogFields(ctx).merge(fields))
}

func GetLogFields(ctx context.Context) LogFields {
	fields, _ := ctx.Value(fieldsKey{}).(LogFields)
	return fields
}

func (f LogFields) merge(over LogFields) LogFields {
	f.AgentID = pick(over.AgentID, f.AgentID)
	f.CorrelationID = pick(over.CorrelationID, f.CorrelationID)
	f.EventID = pick(over.EventID, f.EventID)
	f.DecisionID = pick(over.DecisionID, f.DecisionID)
	f.Seq = pick(over.Seq, f.Seq)
	f.EventType = pick(over.EventType, f.EventType)
	if over.Component != "" {
		f.Component = over.Component
	}
	return f
}

func pick[T any](preferred, fallback *T) *T {
	if preferred != nil {
		return preferred
	}
	return fallback
}

func (f LogFields) attrs() []slog.Attr {
	var out []slog.Attr
	str := func(key string, v *string) {
		if v != nil {
			out = append(out, slog.String(key, *v))
		}
	}
	str("agent_id", f.AgentID)
	str("correlation_id", f.CorrelationID)
	str("event_id", f.EventID)
	str("decision_id", f.DecisionID)
	if f.Seq != nil {
		out = append(out, slog.Int64("seq", *f.Seq))
	}
	str("event_type", f.EventType)
	if f.Component != "" {
		out = append(out, slog.String("component", f.Component))
	}
	return out
}

// Ptr returns a pointer to v, for filling LogFields inline.
func Ptr[T any](v T) *T {
	return &v
}

// Package logger configures the process-wide slog logger and carries
// per-request identifiers through context so every record below a handler
// or background loop is tagged with the agent and event it concerns.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/trace"

	"github.com/hpcomplexio/mission-control/core/config"
)

// Setup installs the default logger for cfg and returns it. Production
// with an OTLP endpoint logs through the otelslog bridge, other production
// runs log JSON, and everything else logs text.
func Setup(cfg config.Config) *slog.Logger {
	l := slog.New(newHandler(cfg, os.Stdout))
	slog.SetDefault(l)
	return l
}

func newHandler(cfg config.Config, w io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{Level: levelFor(cfg)}

	switch {
	case cfg.IsProduction() && cfg.OTel.Enabled():
		return otelslog.NewHandler(cfg.OTel.ServiceName,
			otelslog.WithLoggerProvider(global.GetLoggerProvider()),
			otelslog.WithVersion(cfg.OTel.ServiceVersion),
		)
	case cfg.IsProduction():
		return NewTraceHandler(slog.NewJSONHandler(w, opts))
	default:
		return NewTraceHandler(slog.NewTextHandler(w, opts))
	}
}

// levelFor honours an explicit level name and otherwise logs debug in
// development and info elsewhere.
func levelFor(cfg config.Config) slog.Level {
	var level slog.Level
	if name := strings.TrimSpace(cfg.LogLevel); name != "" {
		if err := level.UnmarshalText([]byte(name)); err == nil {
			return level
		}
	}
	if cfg.IsDevelopment() {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// TraceHandler decorates records with the active span and the LogFields
// stored in the context.
type TraceHandler struct {
	slog.Handler
}

func NewTraceHandler(h slog.Handler) *TraceHandler {
	return &TraceHandler{Handler: h}
}

func (h *TraceHandler) Handle(ctx context.Context, r slog.Record) error {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		r.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	r.AddAttrs(GetLogFields(ctx).attrs()...)
	return h.Handler.Handle(ctx, r)
}

func (h *TraceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &TraceHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *TraceHandler) WithGroup(name string) slog.Handler {
	return &TraceHandler{Handler: h.Handler.WithGroup(name)}
}

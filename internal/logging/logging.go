// Package logging configures the process-wide zerolog logger used by every
// component of the mission engine.
package logging

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
)

// Init configures the global zerolog logger. If logPath is non-empty, logs are
// written to that file in addition to stdout. Level accepts any zerolog level
// name (debug, info, warn, error); an unrecognized value falls back to info.
func Init(logPath string, level string) {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var w io.Writer = os.Stdout
	if logPath != "" {
		if f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
			w = io.MultiWriter(os.Stdout, f)
		} else {
			_, _ = os.Stderr.WriteString("logging: failed to open log file, falling back to stdout: " + err.Error() + "\n")
		}
	}
	log.Logger = log.Output(w).With().Timestamp().Caller().Logger()

	lvl := zerolog.InfoLevel
	if l, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level))); err == nil {
		lvl = l
	}
	zerolog.SetGlobalLevel(lvl)
}

// WithTrace returns a logger enriched with trace_id/span_id from ctx, when a
// span is present. Every agent and controller call site should log through
// this so that a mission's log entries can be correlated to OTel traces.
func WithTrace(ctx context.Context) *zerolog.Logger {
	l := log.Logger
	if ctx == nil {
		return &l
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		l = l.With().Str("trace_id", sc.TraceID().String()).Logger()
		if sc.HasSpanID() {
			l = l.With().Str("span_id", sc.SpanID().String()).Logger()
		}
	}
	return &l
}

// Mission returns a logger pre-bound with mission_id, for use in agent and
// controller code so every log line can be attributed without re-typing the
// field at each call site.
func Mission(ctx context.Context, missionID string) *zerolog.Logger {
	l := WithTrace(ctx).With().Str("mission_id", missionID).Logger()
	return &l
}

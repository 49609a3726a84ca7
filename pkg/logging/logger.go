package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

// Logger is a structured logger for visitbridge components.
type Logger struct {
	*slog.Logger
}

// New creates a JSON logger tagged with the component name.
func New(component string, level slog.Level, w io.Writer) *Logger {
	if w == nil {
		w = io.Discard
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	logger := slog.New(handler).With(
		slog.String("component", component),
		slog.String("system", "visitbridge"),
	)
	return &Logger{Logger: logger}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{Logger: slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 4}))}
}

// ParseLevel maps a configuration string to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// WithContext returns a logger carrying the trace and span ids of ctx, if any.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return l
	}
	return &Logger{
		Logger: l.Logger.With(
			slog.String("trace_id", spanCtx.TraceID().String()),
			slog.String("span_id", spanCtx.SpanID().String()),
		),
	}
}

// WithSession returns a logger with session-specific fields
func (l *Logger) WithSession(sessionID string) *Logger {
	return &Logger{Logger: l.Logger.With(slog.String("session_id", sessionID))}
}

// WithVisit returns a logger with visit-specific fields
func (l *Logger) WithVisit(visitID string) *Logger {
	return &Logger{Logger: l.Logger.With(slog.String("visit_id", visitID))}
}

// WithConnection returns a logger tagged with a renderer connection id.
func (l *Logger) WithConnection(connID string) *Logger {
	return &Logger{Logger: l.Logger.With(slog.String("conn_id", connID))}
}

// VisitRequested logs a host-initiated visit.
func (l *Logger) VisitRequested(location, action, state string) {
	l.Info("visit requested",
		slog.String("location", location),
		slog.String("action", action),
		slog.String("ready_state", state),
	)
}

// ColdBoot logs a full renderer load.
func (l *Logger) ColdBoot(location string) {
	l.Info("cold boot", slog.String("location", location))
}

// Ready logs a readiness report from the page.
func (l *Logger) Ready(ready bool) {
	if ready {
		l.Info("bridge ready")
		return
	}
	l.Warn("page does not support in-page visits")
}

// VisitStarted logs the start of a correlated visit.
func (l *Logger) VisitStarted(visitID string, hasSnapshot bool) {
	l.Debug("visit started",
		slog.String("visit_id", visitID),
		slog.Bool("has_cached_snapshot", hasSnapshot),
	)
}

// StaleMessage logs a bridge message whose visit id is no longer current.
func (l *Logger) StaleMessage(method, visitID, currentVisitID string) {
	l.Debug("stale message ignored",
		slog.String("method", method),
		slog.String("visit_id", visitID),
		slog.String("current_visit_id", currentVisitID),
	)
}

// AdapterCallback logs a host adapter notification.
func (l *Logger) AdapterCallback(callback string, attrs ...slog.Attr) {
	args := make([]any, 0, len(attrs)+1)
	args = append(args, slog.String("callback", callback))
	for _, a := range attrs {
		args = append(args, a)
	}
	l.Debug("adapter callback", args...)
}

// RendererError logs a renderer-level load failure.
func (l *Logger) RendererError(code int, description, url string, mainFrame bool) {
	l.Warn("renderer error",
		slog.Int("code", code),
		slog.String("description", description),
		slog.String("url", url),
		slog.Bool("main_frame", mainFrame),
	)
}

// BridgeCall logs an outbound bridge call.
func (l *Logger) BridgeCall(function string, argCount int) {
	l.Debug("bridge call",
		slog.String("function", function),
		slog.Int("arg_count", argCount),
	)
}

// EndpointRegistered logs an extra bridge endpoint registration.
func (l *Logger) EndpointRegistered(name string) {
	l.Info("endpoint registered", slog.String("endpoint", name))
}

// RendererAttached logs a renderer agent connecting to the host.
func (l *Logger) RendererAttached(sessionID, connID string) {
	l.Info("renderer attached",
		slog.String("session_id", sessionID),
		slog.String("conn_id", connID),
	)
}

// RendererDetached logs a renderer agent disconnecting.
func (l *Logger) RendererDetached(sessionID, connID string, err error) {
	if err != nil {
		l.Warn("renderer detached",
			slog.String("session_id", sessionID),
			slog.String("conn_id", connID),
			slog.String("error", err.Error()),
		)
		return
	}
	l.Info("renderer detached",
		slog.String("session_id", sessionID),
		slog.String("conn_id", connID),
	)
}

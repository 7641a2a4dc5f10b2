// Package log wraps log/slog with nil-safe helpers so every component can
// take a *slog.Logger without special-casing "no logger configured".
package log

import (
	"context"
	"log/slog"
	"runtime"
	"time"
)

// Logger wraps an *slog.Logger with nil-checking and a couple of
// domain-specific helpers (Packet, Error) used consistently across the
// module's packages.
type Logger struct {
	Wrapped *slog.Logger
}

// Attrs lets an error type contribute its own structured fields when logged.
type Attrs interface {
	Attrs() []slog.Attr
}

// Wrap adapts an *slog.Logger (nil included) into a Logger.
func Wrap(logger *slog.Logger) Logger {
	return Logger{logger}
}

// Enabled reports whether the logger would emit at the given level.
func (l Logger) Enabled(ctx context.Context, level slog.Level) bool {
	return l.Wrapped != nil && l.Wrapped.Enabled(ctx, level)
}

// Log is a building block for the wrappers below; it should not be called
// directly outside this package. See slog's "Wrapping output methods" docs.
func (l Logger) Log(ctx context.Context, level slog.Level, msg string, attrs ...slog.Attr) {
	if !l.Enabled(ctx, level) {
		return
	}

	var pcs [1]uintptr
	runtime.Callers(3, pcs[:])

	r := slog.NewRecord(time.Now(), level, msg, pcs[0])
	r.AddAttrs(attrs...)
	_ = l.Wrapped.Handler().Handle(ctx, r)
}

// Error logs err, pulling in any structured Attrs it exposes.
func (l Logger) Error(ctx context.Context, err error, attrs ...slog.Attr) {
	if err == nil {
		return
	}
	if a, ok := err.(Attrs); ok {
		l.Log(ctx, slog.LevelError, err.Error(), append(a.Attrs(), attrs...)...)
		return
	}
	l.Log(ctx, slog.LevelError, err.Error(), attrs...)
}

// Info logs a message at info level.
func (l Logger) Info(ctx context.Context, msg string, attrs ...slog.Attr) {
	l.Log(ctx, slog.LevelInfo, msg, attrs...)
}

// Warn logs a message at warn level.
func (l Logger) Warn(ctx context.Context, msg string, attrs ...slog.Attr) {
	l.Log(ctx, slog.LevelWarn, msg, attrs...)
}

// Packet logs a protocol-level event (MQTT packet, HTTP request/response) at
// debug level, since these fire far more often than ordinary lifecycle logs.
func (l Logger) Packet(ctx context.Context, msg string, packet any, attrs ...slog.Attr) {
	if !l.Enabled(ctx, slog.LevelDebug) {
		return
	}
	l.Log(ctx, slog.LevelDebug, msg, append(attrs, slog.Any("packet", packet))...)
}

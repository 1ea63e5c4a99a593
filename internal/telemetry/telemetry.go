// Package telemetry provides the leveled logging shim used across the
// engine. It wraps the standard library logger rather than a third-party
// structured logger, with just enough structure added (trace_id scoping,
// levels) to be useful across agent boundaries.
package telemetry

import (
	"context"
	"fmt"
	"log"
	"os"
)

type Logger struct {
	base    *log.Logger
	traceID string
}

func New() *Logger {
	return &Logger{base: log.New(os.Stdout, "", log.LstdFlags)}
}

// With returns a child logger scoped to a trace_id, the way a request-scoped
// logger would be derived in the HTTP layer.
func (l *Logger) With(traceID string) *Logger {
	return &Logger{base: l.base, traceID: traceID}
}

func (l *Logger) prefix(level string) string {
	if l.traceID == "" {
		return level
	}
	return fmt.Sprintf("%s trace=%s", level, l.traceID)
}

func (l *Logger) Info(format string, args ...any) {
	l.base.Printf("[INFO] %s %s", l.prefix(""), fmt.Sprintf(format, args...))
}

func (l *Logger) Warn(format string, args ...any) {
	l.base.Printf("[WARN] %s %s", l.prefix(""), fmt.Sprintf(format, args...))
}

func (l *Logger) Error(format string, args ...any) {
	l.base.Printf("[ERROR] %s %s", l.prefix(""), fmt.Sprintf(format, args...))
}

type ctxKey struct{}

// WithContext stashes a scoped logger on the context so deep call chains
// (agent.Run -> llm.Provider -> extract) don't need it threaded explicitly.
func WithContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(ctxKey{}).(*Logger); ok {
		return l
	}
	return New()
}

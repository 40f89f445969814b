package logging

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const (
	loggerKey  contextKey = "logger"
	traceIDKey contextKey = "trace_id"
)

// GenerateTraceID generates a new trace ID
func GenerateTraceID() string {
	return uuid.NewString()
}

// FromContext retrieves the logger from context
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey).(*Logger); ok {
		return l
	}
	return Default()
}

// NewContext creates a new context with the logger
func NewContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// WithTraceContext adds a trace ID to the context and returns a logger with it
func WithTraceContext(ctx context.Context) (context.Context, *Logger) {
	traceID := GenerateTraceID()
	l := FromContext(ctx).WithTraceID(traceID)
	newCtx := context.WithValue(ctx, traceIDKey, traceID)
	newCtx = context.WithValue(newCtx, loggerKey, l)
	return newCtx, l
}

// TraceIDFromContext returns the trace ID stored by WithTraceContext
func TraceIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(traceIDKey).(string); ok {
		return id
	}
	return ""
}

// SessionContext creates a logger for a per-pair trading session
func SessionContext(session, pair, interval string) *Logger {
	return Default().WithFields(map[string]interface{}{
		"session":  session,
		"pair":     pair,
		"interval": interval,
	}).WithComponent("session")
}

// TradeContext creates a logger context for position operations
func TradeContext(pair, positionID, direction string) *Logger {
	return Default().WithFields(map[string]interface{}{
		"pair":        pair,
		"position_id": positionID,
		"direction":   direction,
	}).WithComponent("lifecycle")
}

// StreamContext creates a logger context for market data streams
func StreamContext(pair, interval string) *Logger {
	return Default().WithFields(map[string]interface{}{
		"pair":     pair,
		"interval": interval,
	}).WithComponent("stream")
}

// WorkerContext creates a logger context for offloaded computations
func WorkerContext(workerID int) *Logger {
	return Default().WithField("worker", workerID).WithComponent("workers")
}

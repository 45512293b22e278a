// Package observability provides structured request logging for the search engine.
package observability

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

const (
	// LogFieldRequestID is the field name for request ID.
	LogFieldRequestID = "request_id"
	// LogFieldEntityKind is the field name for the searched entity kind.
	LogFieldEntityKind = "entity_kind"
	// LogFieldDuration is the field name for duration in milliseconds.
	LogFieldDuration = "duration_ms"
	// LogFieldQueryLen is the field name for query text length.
	LogFieldQueryLen = "query_length"
	// LogFieldResultCount is the field name for result count.
	LogFieldResultCount = "result_count"
	// LogFieldErrorCode is the field name for error code.
	LogFieldErrorCode = "error_code"
)

// RequestContext carries per-request logging state for a single search request.
type RequestContext struct {
	RequestID  string
	EntityKind string
	StartTime  time.Time
	Logger     *slog.Logger
}

// NewRequestContext creates a new request context with a generated request ID.
func NewRequestContext(logger *slog.Logger, entityKind string) *RequestContext {
	return &RequestContext{
		RequestID:  uuid.New().String(),
		EntityKind: entityKind,
		StartTime:  time.Now(),
		Logger:     logger,
	}
}

// NewRequestContextWithID creates a new request context with a specific request ID.
func NewRequestContextWithID(logger *slog.Logger, requestID, entityKind string) *RequestContext {
	return &RequestContext{
		RequestID:  requestID,
		EntityKind: entityKind,
		StartTime:  time.Now(),
		Logger:     logger,
	}
}

// Info logs an info message.
func (r *RequestContext) Info(msg string, attrs ...slog.Attr) {
	r.Logger.LogAttrs(context.Background(), slog.LevelInfo, msg, r.baseAttrsAppended(attrs...)...)
}

// Debug logs a debug message.
func (r *RequestContext) Debug(msg string, attrs ...slog.Attr) {
	r.Logger.LogAttrs(context.Background(), slog.LevelDebug, msg, r.baseAttrsAppended(attrs...)...)
}

// Warn logs a warning message.
func (r *RequestContext) Warn(msg string, attrs ...slog.Attr) {
	r.Logger.LogAttrs(context.Background(), slog.LevelWarn, msg, r.baseAttrsAppended(attrs...)...)
}

// Error logs an error message with the error.
func (r *RequestContext) Error(msg string, err error, attrs ...slog.Attr) {
	allAttrs := append(attrs, slog.String("error", err.Error()))
	r.Logger.LogAttrs(context.Background(), slog.LevelError, msg, r.baseAttrsAppended(allAttrs...)...)
}

// Duration returns the elapsed time since the request started.
func (r *RequestContext) Duration() time.Duration {
	return time.Since(r.StartTime)
}

// DurationMs returns the elapsed time in milliseconds.
func (r *RequestContext) DurationMs() int64 {
	return r.Duration().Milliseconds()
}

func (r *RequestContext) baseAttrs() []slog.Attr {
	return []slog.Attr{
		slog.String(LogFieldRequestID, r.RequestID),
		slog.String(LogFieldEntityKind, r.EntityKind),
	}
}

func (r *RequestContext) baseAttrsAppended(attrs ...slog.Attr) []slog.Attr {
	return append(r.baseAttrs(), attrs...)
}

type ctxKey struct{}

// WithRequestContext adds the request context to the context.
func WithRequestContext(ctx context.Context, reqCtx *RequestContext) context.Context {
	return context.WithValue(ctx, ctxKey{}, reqCtx)
}

// FromContext extracts the request context from the context.
func FromContext(ctx context.Context) (*RequestContext, bool) {
	reqCtx, ok := ctx.Value(ctxKey{}).(*RequestContext)
	return reqCtx, ok
}

// Пакет ctxmeta — метаданные, которые прокидываются через context.Context
// (request_id HTTP-запроса, назначение и запуск задачи чтения, trace/span).
// HTTP-слой, задача и логгер зависят от него, но не друг от друга.
package ctxmeta

import "context"

type ctxKey string

const (
	KeyRequestID   ctxKey = "request_id"
	KeyDestination ctxKey = "destination"
	KeyRunID       ctxKey = "run_id"
)

// WithRequestID кладёт request_id в контекст (пустое значение игнорируется).
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return withString(ctx, KeyRequestID, requestID)
}

// RequestIDFromContext достаёт request_id из контекста.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, KeyRequestID)
}

// WithDestination — назначение брокера, с которым работает текущий код.
func WithDestination(ctx context.Context, destination string) context.Context {
	return withString(ctx, KeyDestination, destination)
}

func DestinationFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, KeyDestination)
}

// WithRunID — идентификатор запуска задачи.
func WithRunID(ctx context.Context, runID string) context.Context {
	return withString(ctx, KeyRunID, runID)
}

func RunIDFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, KeyRunID)
}

func withString(ctx context.Context, key ctxKey, v string) context.Context {
	if ctx == nil || v == "" {
		return ctx
	}
	return context.WithValue(ctx, key, v)
}

func stringFrom(ctx context.Context, key ctxKey) (string, bool) {
	if ctx == nil {
		return "", false
	}
	if v, ok := ctx.Value(key).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

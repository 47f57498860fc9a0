// Пакет logger — адаптер zap под порт ports.Logger.
// Метаданные из контекста (request_id, destination, run_id, trace/span) уходят в поля записи.
package logger

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Gunvolt24/mq_reader/pkg/ctxmeta"
)

// Options — параметры логгера.
type Options struct {
	Production bool   // JSON-вывод и sampling zap
	Level      string // debug|info|warn|error; пусто — уровень пресета
}

type ZapLogger struct {
	base  *zap.Logger
	sugar *zap.SugaredLogger
}

// NewZapLogger — логгер с пресетом production/development.
func NewZapLogger(isProd bool) (*ZapLogger, func() error, error) {
	return New(Options{Production: isProd})
}

// New — логгер по Options; cleanup сбрасывает буферы zap.
func New(opts Options) (*ZapLogger, func() error, error) {
	cfg := zap.NewDevelopmentConfig()
	if opts.Production {
		cfg = zap.NewProductionConfig()
	}

	if opts.Level != "" {
		lvl, err := ParseLevel(opts.Level)
		if err != nil {
			return nil, nil, err
		}
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}

	base, err := cfg.Build()
	if err != nil {
		return nil, nil, err
	}

	l := FromZap(base)
	cleanup := func() error { return l.base.Sync() }
	return l, cleanup, nil
}

// FromZap — обёртка над готовым *zap.Logger (например, zaptest/observer в тестах).
func FromZap(base *zap.Logger) *ZapLogger {
	return &ZapLogger{base: base, sugar: base.Sugar()}
}

// ParseLevel — текстовый уровень в zapcore.Level.
func ParseLevel(s string) (zapcore.Level, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(s)))); err != nil {
		return lvl, fmt.Errorf("log level %q: %w", s, err)
	}
	return lvl, nil
}

func (z *ZapLogger) Infof(ctx context.Context, format string, args ...any) {
	z.with(ctx).Infof(format, args...)
}

func (z *ZapLogger) Warnf(ctx context.Context, format string, args ...any) {
	z.with(ctx).Warnf(format, args...)
}

func (z *ZapLogger) Errorf(ctx context.Context, format string, args ...any) {
	z.with(ctx).Errorf(format, args...)
}

func (z *ZapLogger) Base() *zap.Logger           { return z.base }
func (z *ZapLogger) Sugared() *zap.SugaredLogger { return z.sugar }

// with — sugared-логгер с полями из контекста; без метаданных возвращает базовый.
func (z *ZapLogger) with(ctx context.Context) *zap.SugaredLogger {
	fields := contextFields(ctx)
	if len(fields) == 0 {
		return z.sugar
	}
	return z.sugar.With(fields...)
}

func contextFields(ctx context.Context) []any {
	if ctx == nil {
		return nil
	}

	var fields []any
	add := func(key string, get func(context.Context) (string, bool)) {
		if v, ok := get(ctx); ok {
			fields = append(fields, key, v)
		}
	}
	add("request_id", ctxmeta.RequestIDFromContext)
	add("destination", ctxmeta.DestinationFromContext)
	add("run_id", ctxmeta.RunIDFromContext)
	add("trace_id", ctxmeta.TraceIDFromContext)
	add("span_id", ctxmeta.SpanIDFromContext)
	return fields
}

package reader

import (
	"context"
	"fmt"

	"github.com/Gunvolt24/mq_reader/internal/ports"
	"github.com/Gunvolt24/mq_reader/pkg/metrics"
	"github.com/Gunvolt24/mq_reader/pkg/validate"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Проверка, что Reader удовлетворяет интерфейсу ItemReader.
var _ ports.ItemReader = (*Reader)(nil)

type state int

const (
	stateUnopened state = iota
	stateOpen
	stateClosed
)

// Reader — читатель элементов из одного назначения брокера.
// Не потокобезопасен: Open, ReadItem и Close вызываются последовательно.
type Reader struct {
	session   ports.Session
	validator ports.ItemValidator
	log       ports.Logger
	cfg       Config
	tracer    trace.Tracer

	consumer    ports.Consumer
	destination string
	state       state
}

// NewReader — конструктор. Если validator не задан, используется validate.ItemValidator.
func NewReader(cfg Config, session ports.Session, validator ports.ItemValidator, log ports.Logger) *Reader {
	if cfg.Timeout < 0 {
		cfg.Timeout = 0
	}
	if validator == nil {
		validator = validate.NewItemValidator()
	}

	return &Reader{
		session:   session,
		validator: validator,
		log:       log,
		cfg:       cfg,
		tracer:    otel.Tracer("github.com/Gunvolt24/mq_reader/internal/reader"),
	}
}

// Open — создаёт консьюмера для destination с фильтром selector и запускает доставку.
func (r *Reader) Open(ctx context.Context, destination, selector string) error {
	switch r.state {
	case stateOpen:
		return ErrAlreadyOpen
	case stateClosed:
		return ErrClosed
	}

	consumer, err := r.session.CreateConsumer(ctx, destination, selector)
	if err != nil {
		return &ConnectionError{Op: "create consumer", Destination: destination, Err: err}
	}

	if err := r.session.Start(ctx); err != nil {
		r.release(ctx, destination, consumer)
		return &ConnectionError{Op: "start delivery", Destination: destination, Err: err}
	}

	r.consumer = consumer
	r.destination = destination
	r.state = stateOpen

	r.log.Infof(ctx, "reader opened destination=%s selector=%q timeout=%s shape=%q",
		destination, selector, r.cfg.Timeout, r.cfg.TargetShape)
	return nil
}

// ReadItem — ждёт следующее сообщение не дольше Timeout и декодирует его.
// Если сообщение не пришло — возвращает ErrEndOfStream.
func (r *Reader) ReadItem(ctx context.Context) (any, error) {
	if r.state != stateOpen {
		return nil, ErrNotOpen
	}

	ctx, span := r.tracer.Start(ctx, "reader.ReadItem",
		trace.WithAttributes(attribute.String("messaging.destination.name", r.destination)))
	defer span.End()

	msg, err := r.consumer.Receive(ctx, r.cfg.Timeout)
	if err != nil {
		metrics.ReadErrors.WithLabelValues(r.destination, "receive").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "receive failed")
		return nil, fmt.Errorf("receive from %s: %w", r.destination, err)
	}
	if msg == nil {
		metrics.ReadTimeouts.WithLabelValues(r.destination).Inc()
		span.SetAttributes(attribute.Bool("mq.end_of_stream", true))
		return nil, ErrEndOfStream
	}

	span.SetAttributes(
		attribute.String("messaging.message.id", msg.ID),
		attribute.String("mq.message.kind", string(msg.Kind())),
	)

	item, label, err := r.decode(ctx, msg)
	if err != nil {
		metrics.ReadErrors.WithLabelValues(r.destination, label).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, label)
		r.log.Warnf(ctx, "read failed destination=%s id=%s: %v", r.destination, msg.ID, err)
		return nil, err
	}

	metrics.ItemsRead.WithLabelValues(r.destination, label).Inc()
	return item, nil
}

// CheckpointInfo — позиция не отслеживается: повторную доставку обеспечивает брокер.
func (r *Reader) CheckpointInfo() any { return nil }

// Close — освобождает консьюмера. Повторный вызов и вызов без Open — no-op.
func (r *Reader) Close() {
	if r.state == stateClosed {
		return
	}
	r.state = stateClosed

	if r.consumer == nil {
		return
	}
	consumer := r.consumer
	r.consumer = nil
	r.release(context.Background(), r.destination, consumer)
}

// release — best-effort закрытие консьюмера: ошибка логируется и отбрасывается.
func (r *Reader) release(ctx context.Context, destination string, consumer ports.Consumer) {
	if err := consumer.Close(); err != nil {
		metrics.ConsumerReleaseFailures.Inc()
		r.log.Warnf(ctx, "failed to release consumer destination=%s: %v (ignored)", destination, err)
	}
}

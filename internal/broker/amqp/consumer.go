package amqp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Gunvolt24/mq_reader/internal/broker"
	"github.com/Gunvolt24/mq_reader/internal/domain"
	"github.com/Gunvolt24/mq_reader/internal/ports"
	"github.com/Gunvolt24/mq_reader/pkg/metrics"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Проверка, что Consumer удовлетворяет порту Consumer.
var _ ports.Consumer = (*Consumer)(nil)

var (
	ErrConsumerClosed = errors.New("amqp consumer is closed")
	// ErrDeliveryClosed — брокер закрыл канал доставки (обрыв соединения или basic.cancel).
	ErrDeliveryClosed = errors.New("amqp delivery channel closed")
)

// Consumer — подписка на одну очередь с ручным подтверждением.
type Consumer struct {
	ch     channel
	queue  string
	tag    string
	poller broker.Poller

	mu         sync.Mutex
	deliveries <-chan amqp.Delivery
	closed     bool
}

func (c *Consumer) start(prefetch int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConsumerClosed
	}
	if c.deliveries != nil {
		return nil
	}

	if err := c.ch.Qos(prefetch, 0, false); err != nil {
		return fmt.Errorf("amqp qos: %w", err)
	}
	deliveries, err := c.ch.Consume(c.queue, c.tag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("amqp consume %s: %w", c.queue, err)
	}
	c.deliveries = deliveries
	return nil
}

func (c *Consumer) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Receive — следующее сообщение очереди или (nil, nil) по истечении timeout.
func (c *Consumer) Receive(ctx context.Context, timeout time.Duration) (*domain.Message, error) {
	c.mu.Lock()
	deliveries, closed := c.deliveries, c.closed
	c.mu.Unlock()

	switch {
	case closed:
		return nil, ErrConsumerClosed
	case deliveries == nil:
		return nil, ErrNotStarted
	}

	return c.poller.Receive(ctx, timeout, func(ctx context.Context) (broker.Delivery, error) {
		for {
			select {
			case <-ctx.Done():
				return broker.Delivery{}, ctx.Err()
			case d, ok := <-deliveries:
				if !ok {
					return broker.Delivery{}, ErrDeliveryClosed
				}

				m, err := broker.Decode(c.queue, toEnvelope(&d))
				if err != nil {
					// битый конверт повторно не доставляем
					metrics.ReadErrors.WithLabelValues(c.queue, "wire").Inc()
					c.poller.Log.Warnf(ctx, "malformed message delivery_tag=%d: %v (rejected)", d.DeliveryTag, err)
					if rejErr := d.Reject(false); rejErr != nil {
						c.poller.Log.Warnf(ctx, "reject failed delivery_tag=%d: %v", d.DeliveryTag, rejErr)
					}
					continue
				}

				return broker.Delivery{
					Message: m,
					Ack:     func(context.Context) error { return d.Ack(false) },
				}, nil
			}
		}
	})
}

// Close — basic.cancel и закрытие канала. Неподтверждённые сообщения брокер вернёт в очередь.
func (c *Consumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConsumerClosed
	}
	c.closed = true

	var errs []error
	if c.deliveries != nil && c.tag != "" {
		if err := c.ch.Cancel(c.tag, false); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
	}
	if err := c.ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// toEnvelope — свойства AMQP-сообщения в транспортный конверт.
// Без заголовка mq-kind сообщения с content-type text/* считаются текстовыми.
func toEnvelope(d *amqp.Delivery) broker.Envelope {
	headers := make(map[string]string, len(d.Headers)+2)
	for k, v := range d.Headers {
		headers[k] = fmt.Sprint(v)
	}
	if _, ok := headers[broker.HeaderType]; !ok && d.Type != "" {
		headers[broker.HeaderType] = d.Type
	}
	if _, ok := headers[broker.HeaderKind]; !ok && strings.HasPrefix(d.ContentType, "text/") {
		headers[broker.HeaderKind] = string(domain.KindText)
	}

	return broker.Envelope{
		ID:        d.MessageId,
		Headers:   headers,
		Payload:   d.Body,
		Timestamp: d.Timestamp,
	}
}

// ToPublishing — конверт для basic.publish.
func ToPublishing(m *domain.Message) (amqp.Publishing, error) {
	env, err := broker.Encode(m)
	if err != nil {
		return amqp.Publishing{}, err
	}

	headers := amqp.Table{}
	for k, v := range env.Headers {
		headers[k] = v
	}
	return amqp.Publishing{
		MessageId:    env.ID,
		Type:         m.Type,
		Timestamp:    env.Timestamp,
		Headers:      headers,
		Body:         env.Payload,
		DeliveryMode: amqp.Persistent,
	}, nil
}

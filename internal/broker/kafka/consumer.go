package kafka

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Gunvolt24/mq_reader/internal/broker"
	"github.com/Gunvolt24/mq_reader/internal/domain"
	"github.com/Gunvolt24/mq_reader/internal/ports"
	"github.com/Gunvolt24/mq_reader/pkg/metrics"
	"github.com/segmentio/kafka-go"
)

// Проверка, что Consumer удовлетворяет порту Consumer.
var _ ports.Consumer = (*Consumer)(nil)

// Consumer — чтение одного топика без автокоммита.
type Consumer struct {
	reader reader
	poller broker.Poller
	log    ports.Logger

	closeOnce sync.Once
	closeErr  error
	closed    atomic.Bool
}

// Receive — следующее сообщение топика или (nil, nil) по истечении timeout.
// Ошибка FetchMessage повторяется один раз, затем возвращается как *broker.FetchError.
func (c *Consumer) Receive(ctx context.Context, timeout time.Duration) (*domain.Message, error) {
	return c.poller.Receive(ctx, timeout, c.fetch)
}

// Close — закрывает reader; повторный вызов возвращает результат первого.
func (c *Consumer) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.closeErr = c.reader.Close()
	})
	return c.closeErr
}

func (c *Consumer) isClosed() bool { return c.closed.Load() }

// fetch — одно сообщение из топика, уже разобранное в доменный конверт.
func (c *Consumer) fetch(ctx context.Context) (broker.Delivery, error) {
	topic := c.poller.Destination

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return broker.Delivery{}, ctx.Err()
			}
			return broker.Delivery{}, fmt.Errorf("kafka fetch topic=%s: %w", topic, err)
		}

		m, err := broker.Decode(topic, toEnvelope(&msg))
		if err != nil {
			// битый конверт не исправится повторной доставкой: коммитим и пропускаем
			metrics.ReadErrors.WithLabelValues(topic, "wire").Inc()
			c.log.Warnf(ctx, "malformed message offset=%d: %v (skipped)", msg.Offset, err)
			c.commitSafely(ctx, &msg)
			continue
		}

		return broker.Delivery{
			Message: m,
			Ack: func(ctx context.Context) error {
				return c.reader.CommitMessages(ctx, msg)
			},
		}, nil
	}
}

// commitSafely пытается закоммитить оффсет и логирует ошибку.
func (c *Consumer) commitSafely(ctx context.Context, msg *kafka.Message) {
	if commitErr := c.reader.CommitMessages(ctx, *msg); commitErr != nil {
		c.log.Warnf(ctx, "commit failed offset=%d: %v", msg.Offset, commitErr)
	}
}

// toEnvelope — заголовки Kafka в транспортный конверт; id по умолчанию — topic/partition/offset.
func toEnvelope(msg *kafka.Message) broker.Envelope {
	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	return broker.Envelope{
		ID:        fmt.Sprintf("%s/%d/%d", msg.Topic, msg.Partition, msg.Offset),
		Headers:   headers,
		Payload:   msg.Value,
		Timestamp: msg.Time,
	}
}

// ToMessage — обратное преобразование для публикации конверта в топик.
func ToMessage(m *domain.Message) (kafka.Message, error) {
	env, err := broker.Encode(m)
	if err != nil {
		return kafka.Message{}, err
	}
	out := kafka.Message{Value: env.Payload, Time: env.Timestamp}
	for k, v := range env.Headers {
		out.Headers = append(out.Headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	return out, nil
}

package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Gunvolt24/mq_reader/internal/broker"
	"github.com/Gunvolt24/mq_reader/internal/domain"
	"github.com/Gunvolt24/mq_reader/internal/ports"
	"github.com/Gunvolt24/mq_reader/pkg/metrics"
	"github.com/redis/go-redis/v9"
)

// Проверка, что Consumer удовлетворяет порту Consumer.
var _ ports.Consumer = (*Consumer)(nil)

var (
	ErrNotStarted     = errors.New("redis delivery is not started")
	ErrConsumerClosed = errors.New("redis consumer is closed")
)

// Consumer — чтение одного stream в составе consumer group.
type Consumer struct {
	session *Session
	stream  string
	poller  broker.Poller

	mu     sync.Mutex
	closed bool
}

// Receive — следующая запись stream или (nil, nil) по истечении timeout.
// Ошибка XREADGROUP повторяется один раз, затем возвращается как *broker.FetchError.
func (c *Consumer) Receive(ctx context.Context, timeout time.Duration) (*domain.Message, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, ErrConsumerClosed
	}
	if !c.session.isStarted() {
		return nil, ErrNotStarted
	}
	return c.poller.Receive(ctx, timeout, c.fetch)
}

// Close — консьюмер Redis не держит ресурсов; повторный вызов возвращает ErrConsumerClosed.
func (c *Consumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConsumerClosed
	}
	c.closed = true
	return nil
}

func (c *Consumer) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// fetch — XREADGROUP кусками по Block, пока не придёт запись или не истечёт ctx.
func (c *Consumer) fetch(ctx context.Context) (broker.Delivery, error) {
	cfg := c.session.cfg
	client := c.session.client

	for {
		if err := ctx.Err(); err != nil {
			return broker.Delivery{}, err
		}

		streams, err := client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    cfg.Group,
			Consumer: cfg.Consumer,
			Streams:  []string{c.stream, ">"},
			Count:    1,
			Block:    blockFor(ctx, cfg.Block),
		}).Result()
		switch {
		case errors.Is(err, redis.Nil):
			continue
		case err != nil:
			if ctx.Err() != nil {
				return broker.Delivery{}, ctx.Err()
			}
			return broker.Delivery{}, fmt.Errorf("redis XREADGROUP stream=%s: %w", c.stream, err)
		}

		for _, st := range streams {
			for _, xm := range st.Messages {
				id := xm.ID
				m, err := broker.Decode(c.stream, toEnvelope(xm))
				if err != nil {
					metrics.ReadErrors.WithLabelValues(c.stream, "wire").Inc()
					c.poller.Log.Warnf(ctx, "malformed entry stream=%s id=%s: %v (skipped)", c.stream, id, err)
					c.ack(ctx, id)
					continue
				}
				return broker.Delivery{
					Message: m,
					Ack: func(ctx context.Context) error {
						return client.XAck(ctx, c.stream, cfg.Group, id).Err()
					},
				}, nil
			}
		}
	}
}

func (c *Consumer) ack(ctx context.Context, id string) {
	if err := c.session.client.XAck(ctx, c.stream, c.session.cfg.Group, id).Err(); err != nil {
		c.poller.Log.Warnf(ctx, "XACK failed stream=%s id=%s: %v", c.stream, id, err)
	}
}

// blockFor — длительность BLOCK: не больше limit и не дольше дедлайна ctx, минимум 1ms
// (BLOCK 0 в Redis означает «ждать бесконечно»).
func blockFor(ctx context.Context, limit time.Duration) time.Duration {
	block := limit
	if dl, ok := ctx.Deadline(); ok {
		if remaining := time.Until(dl); remaining < block {
			block = remaining
		}
	}
	if block < time.Millisecond {
		block = time.Millisecond
	}
	return block
}

// toEnvelope — поля записи stream в транспортный конверт; id записи — id сообщения по умолчанию.
func toEnvelope(xm redis.XMessage) broker.Envelope {
	env := broker.Envelope{ID: xm.ID, Headers: make(map[string]string, len(xm.Values))}
	for k, v := range xm.Values {
		s := fmt.Sprint(v)
		if k == FieldPayload {
			env.Payload = []byte(s)
			continue
		}
		env.Headers[k] = s
	}
	return env
}

// ToValues — поля записи для XADD.
func ToValues(m *domain.Message) (map[string]any, error) {
	env, err := broker.Encode(m)
	if err != nil {
		return nil, err
	}
	values := make(map[string]any, len(env.Headers)+1)
	for k, v := range env.Headers {
		values[k] = v
	}
	values[FieldPayload] = string(env.Payload)
	return values, nil
}

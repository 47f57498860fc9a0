package sqs

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/Gunvolt24/mq_reader/internal/broker"
	"github.com/Gunvolt24/mq_reader/internal/domain"
	"github.com/Gunvolt24/mq_reader/internal/ports"
	"github.com/Gunvolt24/mq_reader/pkg/metrics"
)

// Проверка, что Consumer удовлетворяет порту Consumer.
var _ ports.Consumer = (*Consumer)(nil)

var (
	ErrNotStarted     = errors.New("sqs delivery is not started")
	ErrConsumerClosed = errors.New("sqs consumer is closed")
)

// Consumer — чтение одной очереди по одному сообщению.
type Consumer struct {
	session  *Session
	queueURL string
	poller   broker.Poller

	mu     sync.Mutex
	closed bool
}

// Receive — следующее сообщение очереди или (nil, nil) по истечении timeout.
// Ошибка ReceiveMessage повторяется один раз, затем возвращается как *broker.FetchError.
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

// Close — повторный вызов возвращает ErrConsumerClosed.
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

// fetch — long polling кусками не длиннее WaitTimeSeconds и остатка ctx.
func (c *Consumer) fetch(ctx context.Context) (broker.Delivery, error) {
	cfg := c.session.cfg
	client := c.session.client

	for {
		if err := ctx.Err(); err != nil {
			return broker.Delivery{}, err
		}

		out, err := client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:                    aws.String(c.queueURL),
			MaxNumberOfMessages:         1,
			WaitTimeSeconds:             waitFor(ctx, cfg.WaitTimeSeconds),
			VisibilityTimeout:           cfg.VisibilityTimeout,
			MessageAttributeNames:       []string{"All"},
			MessageSystemAttributeNames: []types.MessageSystemAttributeName{"SentTimestamp"},
		})
		if err != nil {
			if ctx.Err() != nil {
				return broker.Delivery{}, ctx.Err()
			}
			return broker.Delivery{}, fmt.Errorf("sqs receive queue=%s: %w", c.queueURL, err)
		}

		for _, sm := range out.Messages {
			if sm.ReceiptHandle == nil {
				continue
			}
			receipt := aws.ToString(sm.ReceiptHandle)
			m, err := broker.Decode(c.poller.Destination, toEnvelope(&sm))
			if err != nil {
				metrics.ReadErrors.WithLabelValues(c.poller.Destination, "wire").Inc()
				c.poller.Log.Warnf(ctx, "malformed message queue=%s id=%s: %v (deleted)",
					c.queueURL, aws.ToString(sm.MessageId), err)
				if delErr := c.delete(ctx, receipt); delErr != nil {
					c.poller.Log.Warnf(ctx, "sqs delete failed queue=%s: %v", c.queueURL, delErr)
				}
				continue
			}
			return broker.Delivery{
				Message: m,
				Ack:     func(ctx context.Context) error { return c.delete(ctx, receipt) },
			}, nil
		}
	}
}

func (c *Consumer) delete(ctx context.Context, receipt string) error {
	_, err := c.session.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: aws.String(receipt),
	})
	return err
}

// waitFor — WaitTimeSeconds для одного запроса: не дольше остатка дедлайна ctx.
func waitFor(ctx context.Context, limit int32) int32 {
	dl, ok := ctx.Deadline()
	if !ok {
		return limit
	}
	secs := int32(math.Ceil(time.Until(dl).Seconds()))
	switch {
	case secs < 0:
		return 0
	case secs < limit:
		return secs
	default:
		return limit
	}
}

// toEnvelope — строковые атрибуты сообщения в транспортный конверт.
func toEnvelope(sm *types.Message) broker.Envelope {
	env := broker.Envelope{
		ID:      aws.ToString(sm.MessageId),
		Headers: make(map[string]string, len(sm.MessageAttributes)),
		Payload: []byte(aws.ToString(sm.Body)),
	}
	for k, v := range sm.MessageAttributes {
		if v.StringValue != nil {
			env.Headers[k] = *v.StringValue
		}
	}
	if raw, ok := sm.Attributes["SentTimestamp"]; ok {
		if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
			env.Timestamp = time.UnixMilli(ms).UTC()
		}
	}
	return env
}

// ToSendInput — запрос SendMessage для очереди queueURL.
func ToSendInput(queueURL string, m *domain.Message) (*sqs.SendMessageInput, error) {
	env, err := broker.Encode(m)
	if err != nil {
		return nil, err
	}
	attrs := make(map[string]types.MessageAttributeValue, len(env.Headers))
	for k, v := range env.Headers {
		attrs[k] = types.MessageAttributeValue{DataType: aws.String("String"), StringValue: aws.String(v)}
	}
	return &sqs.SendMessageInput{
		QueueUrl:          aws.String(queueURL),
		MessageBody:       aws.String(string(env.Payload)),
		MessageAttributes: attrs,
	}, nil
}

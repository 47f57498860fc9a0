//go:build integration

package testutil

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	iamqp "github.com/Gunvolt24/mq_reader/internal/broker/amqp"
	inats "github.com/Gunvolt24/mq_reader/internal/broker/nats"
	iredis "github.com/Gunvolt24/mq_reader/internal/broker/redis"
	"github.com/Gunvolt24/mq_reader/internal/domain"
)

// PublishAMQP — объявляет durable-очередь queue и публикует в неё сообщения через default exchange.
// Без сообщений только объявляет очередь.
func PublishAMQP(ctx context.Context, url, queue string, msgs ...*domain.Message) error {
	conn, err := amqp.Dial(url)
	if err != nil {
		return fmt.Errorf("amqp dial: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("amqp channel: %w", err)
	}
	defer ch.Close()

	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare %s: %w", queue, err)
	}
	for _, m := range msgs {
		pub, err := iamqp.ToPublishing(m)
		if err != nil {
			return fmt.Errorf("encode %s: %w", m.ID, err)
		}
		if err := ch.PublishWithContext(ctx, "", queue, false, false, pub); err != nil {
			return fmt.Errorf("publish %s: %w", m.ID, err)
		}
	}
	return nil
}

// PublishNATS — публикует сообщения в subject. В core NATS их получат только уже подписанные.
func PublishNATS(ctx context.Context, url, subject string, msgs ...*domain.Message) error {
	nc, err := nats.Connect(url)
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}
	defer nc.Close()

	for _, m := range msgs {
		out, err := inats.ToMsg(subject, m)
		if err != nil {
			return fmt.Errorf("encode %s: %w", m.ID, err)
		}
		if err := nc.PublishMsg(out); err != nil {
			return fmt.Errorf("publish %s: %w", m.ID, err)
		}
	}
	return nc.FlushWithContext(ctx)
}

// PublishRedis — XADD каждого сообщения в stream.
func PublishRedis(ctx context.Context, addr, stream string, msgs ...*domain.Message) error {
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	for _, m := range msgs {
		values, err := iredis.ToValues(m)
		if err != nil {
			return fmt.Errorf("encode %s: %w", m.ID, err)
		}
		if err := client.XAdd(ctx, &redis.XAddArgs{Stream: stream, Values: values}).Err(); err != nil {
			return fmt.Errorf("xadd %s: %w", stream, err)
		}
	}
	return nil
}

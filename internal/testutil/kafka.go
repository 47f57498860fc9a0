//go:build integration

package testutil

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	ikafka "github.com/Gunvolt24/mq_reader/internal/broker/kafka"
	"github.com/Gunvolt24/mq_reader/internal/domain"
)

// UniqueTopicAndGroup — топик и consumer group, не пересекающиеся с другими тестами.
func UniqueTopicAndGroup(base string) (topic, group string) {
	suffix := UniqSuffix()
	return base + "-" + suffix, base + "-readers-" + suffix
}

// EnsureTopic — топик с одной партицией; существующий топик — не ошибка.
// Ждёт, пока партиция появится в метаданных брокера.
func EnsureTopic(ctx context.Context, broker, topic string) error {
	conn, err := kafka.DialContext(ctx, "tcp", broker)
	if err != nil {
		return fmt.Errorf("dial %s: %w", broker, err)
	}
	defer conn.Close()

	ctrl, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("controller: %w", err)
	}
	admin, err := kafka.DialContext(ctx, "tcp", net.JoinHostPort(ctrl.Host, strconv.Itoa(ctrl.Port)))
	if err != nil {
		return fmt.Errorf("dial controller: %w", err)
	}
	defer admin.Close()

	err = admin.CreateTopics(kafka.TopicConfig{Topic: topic, NumPartitions: 1, ReplicationFactor: 1})
	if err != nil && !errors.Is(err, kafka.TopicAlreadyExists) {
		return fmt.Errorf("create topic %s: %w", topic, err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	tick := time.NewTicker(200 * time.Millisecond)
	defer tick.Stop()

	for {
		parts, err := conn.ReadPartitions(topic)
		if err == nil && len(parts) > 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("topic %s not ready: %w", topic, errors.Join(ctx.Err(), err))
		case <-tick.C:
		}
	}
}

// PublishKafka — пишет сообщения в топик в формате, который читает сессия kafka.
func PublishKafka(ctx context.Context, brokers []string, topic string, msgs ...*domain.Message) error {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		RequiredAcks: kafka.RequireAll,
		Balancer:     &kafka.LeastBytes{},
	}
	defer w.Close()

	out := make([]kafka.Message, 0, len(msgs))
	for _, m := range msgs {
		km, err := ikafka.ToMessage(m)
		if err != nil {
			return fmt.Errorf("encode %s: %w", m.ID, err)
		}
		out = append(out, km)
	}
	if err := w.WriteMessages(ctx, out...); err != nil {
		return fmt.Errorf("write %s: %w", topic, err)
	}
	return nil
}

package kafka

import (
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// Config — параметры подключения к Kafka. Топик задаётся назначением при создании консьюмера.
type Config struct {
	Brokers     []string
	GroupID     string
	StartOffset string        // first | last (по умолчанию last)
	MaxWait     time.Duration // максимальное ожидание батча на стороне брокера
	DialTimeout time.Duration // таймаут проверки доступности в Start

	RetryInitial time.Duration
	RetryMax     time.Duration
}

// ReaderConfig — конфигурация kafka.Reader для топика: ручной коммит оффсетов.
func (c *Config) ReaderConfig(topic string) kafka.ReaderConfig {
	rc := kafka.ReaderConfig{
		Brokers:        c.Brokers,
		GroupID:        c.GroupID,
		Topic:          topic,
		MaxWait:        c.MaxWait,
		CommitInterval: 0,
	}

	switch strings.ToLower(strings.TrimSpace(c.StartOffset)) {
	case "first":
		rc.StartOffset = kafka.FirstOffset
	default:
		rc.StartOffset = kafka.LastOffset
	}

	return rc
}

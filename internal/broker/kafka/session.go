// Пакет kafka — сессия брокера поверх segmentio/kafka-go: назначение — топик, подтверждение — коммит оффсета.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/Gunvolt24/mq_reader/internal/broker"
	"github.com/Gunvolt24/mq_reader/internal/ports"
	"github.com/Gunvolt24/mq_reader/internal/selector"
	"github.com/segmentio/kafka-go"
)

// Проверка, что Session удовлетворяет порту Session.
var _ ports.Session = (*Session)(nil)

var ErrSessionClosed = errors.New("kafka session is closed")

// reader — минимальный контракт над kafka.Reader, чтобы подменять его моками в тестах.
type reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Config() kafka.ReaderConfig
	Close() error
}

// Session — фабрика консьюмеров по топикам.
type Session struct {
	cfg Config
	log ports.Logger

	newReader func(kafka.ReaderConfig) reader
	dial      func(ctx context.Context, addr string) error

	mu        sync.Mutex
	consumers []*Consumer
	closed    bool
}

// NewSession — конструктор. Для каждого консьюмера создаётся свой kafka.Reader.
func NewSession(cfg Config, log ports.Logger) *Session {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	return &Session{
		cfg:       cfg,
		log:       log,
		newReader: func(rc kafka.ReaderConfig) reader { return kafka.NewReader(rc) },
		dial:      dialBroker,
	}
}

// CreateConsumer — консьюмер топика destination; selector компилируется сразу.
func (s *Session) CreateConsumer(ctx context.Context, destination, expression string) (ports.Consumer, error) {
	if destination == "" {
		return nil, errors.New("kafka: topic is required")
	}
	if len(s.cfg.Brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}
	sel, err := selector.Compile(expression)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}

	c := &Consumer{
		reader: s.newReader(s.cfg.ReaderConfig(destination)),
		poller: broker.Poller{
			Destination: destination,
			Filter:      sel,
			Log:         s.log,
			Backoff:     broker.NewBackoff(s.cfg.RetryInitial, s.cfg.RetryMax),
		},
		log: s.log,
	}
	s.pruneLocked()
	s.consumers = append(s.consumers, c)

	rc := c.reader.Config()
	s.log.Infof(ctx, "kafka consumer created topic=%s group_id=%s brokers=%v selector=%q", rc.Topic, rc.GroupID, rc.Brokers, sel)
	return c, nil
}

// Start — проверяет, что хотя бы один брокер доступен.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrSessionClosed
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.DialTimeout)
	defer cancel()

	var errs []error
	for _, addr := range s.cfg.Brokers {
		err := s.dial(ctx, addr)
		if err == nil {
			s.log.Infof(ctx, "kafka session started broker=%s group_id=%s", addr, s.cfg.GroupID)
			return nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", addr, err))
	}
	return fmt.Errorf("kafka: no broker reachable: %w", errors.Join(errs...))
}

// Close — закрывает все созданные консьюмеры; повторный вызов — no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	consumers := s.consumers
	s.consumers = nil
	s.mu.Unlock()

	var errs []error
	for _, c := range consumers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// pruneLocked — убирает закрытых читателем консьюмеров. Вызывается под s.mu.
func (s *Session) pruneLocked() {
	s.consumers = slices.DeleteFunc(s.consumers, (*Consumer).isClosed)
}

func dialBroker(ctx context.Context, addr string) error {
	conn, err := kafka.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return conn.Close()
}

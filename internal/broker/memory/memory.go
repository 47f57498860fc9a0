// Пакет memory — брокер в памяти процесса: очереди по имени назначения.
package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Gunvolt24/mq_reader/internal/broker"
	"github.com/Gunvolt24/mq_reader/internal/domain"
	"github.com/Gunvolt24/mq_reader/internal/ports"
	"github.com/Gunvolt24/mq_reader/internal/selector"
)

var (
	ErrNotStarted     = errors.New("memory session is not started")
	ErrSessionClosed  = errors.New("memory session is closed")
	ErrConsumerClosed = errors.New("memory consumer is closed")
)

// Broker — набор очередей; безопасен для конкурентной публикации.
type Broker struct {
	mu     sync.Mutex
	queues map[string]*queue
}

// NewBroker — конструктор Broker.
func NewBroker() *Broker {
	return &Broker{queues: map[string]*queue{}}
}

// Publish — кладёт сообщения в очередь destination в порядке аргументов.
func (b *Broker) Publish(destination string, msgs ...*domain.Message) {
	q := b.queue(destination)
	for _, m := range msgs {
		q.push(m)
	}
}

// Len — количество недоставленных сообщений.
func (b *Broker) Len(destination string) int {
	return b.queue(destination).len()
}

func (b *Broker) queue(destination string) *queue {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.queues[destination]
	if !ok {
		q = &queue{notify: make(chan struct{}, 1)}
		b.queues[destination] = q
	}
	return q
}

type queue struct {
	mu     sync.Mutex
	items  []*domain.Message
	notify chan struct{}
}

func (q *queue) push(m *domain.Message) {
	q.mu.Lock()
	q.items = append(q.items, m)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// pop — блокируется до появления сообщения или отмены ctx.
func (q *queue) pop(ctx context.Context) (*domain.Message, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			m := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			q.mu.Unlock()
			return m, nil
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Проверка, что Session удовлетворяет интерфейсу Session.
var _ ports.Session = (*Session)(nil)

// Session — сессия поверх Broker.
type Session struct {
	broker *Broker
	log    ports.Logger

	mu      sync.Mutex
	started bool
	closed  bool
}

// NewSession — конструктор Session.
func NewSession(b *Broker, log ports.Logger) *Session {
	return &Session{broker: b, log: log}
}

// CreateConsumer — консьюмер очереди destination с фильтром selector.
func (s *Session) CreateConsumer(_ context.Context, destination, expression string) (ports.Consumer, error) {
	if s.isClosed() {
		return nil, ErrSessionClosed
	}
	if destination == "" {
		return nil, errors.New("destination is required")
	}
	sel, err := selector.Compile(expression)
	if err != nil {
		return nil, err
	}

	return &Consumer{
		session: s,
		queue:   s.broker.queue(destination),
		poller:  broker.Poller{Destination: destination, Filter: sel, Log: s.log},
	}, nil
}

// Start — разрешает доставку.
func (s *Session) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.started = true
	return nil
}

// Close — закрывает сессию; повторный вызов — no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *Session) isStarted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started && !s.closed
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Consumer — подписка на очередь в памяти.
type Consumer struct {
	session *Session
	queue   *queue
	poller  broker.Poller

	mu     sync.Mutex
	closed bool
}

// Receive — следующее сообщение или (nil, nil) по истечении timeout.
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

	return c.poller.Receive(ctx, timeout, func(ctx context.Context) (broker.Delivery, error) {
		m, err := c.queue.pop(ctx)
		if err != nil {
			return broker.Delivery{}, err
		}
		return broker.Delivery{Message: m}, nil
	})
}

// Close — закрывает консьюмера; повторный вызов возвращает ErrConsumerClosed.
func (c *Consumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConsumerClosed
	}
	c.closed = true
	return nil
}

// Пакет nats — сессия брокера поверх nats-io/nats.go: назначение — subject, опционально очередь-группа.
package nats

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/Gunvolt24/mq_reader/internal/broker"
	"github.com/Gunvolt24/mq_reader/internal/domain"
	"github.com/Gunvolt24/mq_reader/internal/ports"
	"github.com/Gunvolt24/mq_reader/internal/selector"
	"github.com/Gunvolt24/mq_reader/pkg/metrics"
	"github.com/nats-io/nats.go"
)

// Проверка, что Session и Consumer удовлетворяют портам.
var (
	_ ports.Session  = (*Session)(nil)
	_ ports.Consumer = (*Consumer)(nil)
)

var (
	ErrSessionClosed  = errors.New("nats session is closed")
	ErrConsumerClosed = errors.New("nats consumer is closed")
)

// Config — параметры подключения к NATS.
type Config struct {
	URL            string
	QueueGroup     string // пусто — каждая подписка получает все сообщения subject
	ConnectTimeout time.Duration
}

// conn/subscription — минимальные контракты над *nats.Conn и *nats.Subscription для тестов.
type conn interface {
	SubscribeSync(subject string) (subscription, error)
	QueueSubscribeSync(subject, queue string) (subscription, error)
	FlushWithContext(ctx context.Context) error
	Close()
}

type subscription interface {
	NextMsgWithContext(ctx context.Context) (*nats.Msg, error)
	Unsubscribe() error
}

// Session — одно соединение NATS. Подписка создаётся в CreateConsumer,
// поэтому сообщения, опубликованные до неё, не доставляются.
type Session struct {
	cfg     Config
	log     ports.Logger
	connect func(cfg Config, log ports.Logger) (conn, error)

	mu        sync.Mutex
	nc        conn
	consumers []*Consumer
	started   bool
	closed    bool
}

// NewSession — конструктор. Соединение устанавливается при создании первого консьюмера.
func NewSession(cfg Config, log ports.Logger) *Session {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	return &Session{cfg: cfg, log: log, connect: connectNATS}
}

// CreateConsumer — синхронная подписка на subject destination.
func (s *Session) CreateConsumer(ctx context.Context, destination, expression string) (ports.Consumer, error) {
	if destination == "" {
		return nil, errors.New("nats: subject is required")
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
	if s.nc == nil {
		nc, err := s.connect(s.cfg, s.log)
		if err != nil {
			return nil, fmt.Errorf("nats connect: %w", err)
		}
		s.nc = nc
	}

	var sub subscription
	if s.cfg.QueueGroup != "" {
		sub, err = s.nc.QueueSubscribeSync(destination, s.cfg.QueueGroup)
	} else {
		sub, err = s.nc.SubscribeSync(destination)
	}
	if err != nil {
		return nil, fmt.Errorf("nats subscribe %s: %w", destination, err)
	}

	c := &Consumer{
		session: s,
		sub:     sub,
		poller:  broker.Poller{Destination: destination, Filter: sel, Log: s.log},
	}
	s.pruneLocked()
	s.consumers = append(s.consumers, c)
	s.log.Infof(ctx, "nats consumer created subject=%s queue=%s selector=%q", destination, s.cfg.QueueGroup, sel)
	return c, nil
}

// Start — flush до сервера: подписки зарегистрированы, соединение живо.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if s.nc == nil {
		nc, err := s.connect(s.cfg, s.log)
		if err != nil {
			return fmt.Errorf("nats connect: %w", err)
		}
		s.nc = nc
	}

	s.pruneLocked()
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()
	if err := s.nc.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}
	s.started = true
	return nil
}

// Close — отписывает консьюмеров и закрывает соединение; повторный вызов — no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	for _, c := range s.consumers {
		if err := c.Close(); err != nil && !errors.Is(err, ErrConsumerClosed) {
			errs = append(errs, err)
		}
	}
	s.consumers = nil
	if s.nc != nil {
		s.nc.Close()
		s.nc = nil
	}
	return errors.Join(errs...)
}

// pruneLocked — убирает закрытых читателем консьюмеров. Вызывается под s.mu.
func (s *Session) pruneLocked() {
	s.consumers = slices.DeleteFunc(s.consumers, (*Consumer).isClosed)
}

func (s *Session) isStarted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Consumer — синхронная подписка на subject. В core NATS подтверждений нет.
type Consumer struct {
	session *Session
	sub     subscription
	poller  broker.Poller

	mu     sync.Mutex
	closed bool
}

// Receive — следующее сообщение subject или (nil, nil) по истечении timeout.
func (c *Consumer) Receive(ctx context.Context, timeout time.Duration) (*domain.Message, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, ErrConsumerClosed
	}
	if !c.session.isStarted() {
		return nil, errors.New("nats: delivery is not started")
	}

	subject := c.poller.Destination
	return c.poller.Receive(ctx, timeout, func(ctx context.Context) (broker.Delivery, error) {
		for {
			msg, err := c.sub.NextMsgWithContext(ctx)
			if err != nil {
				return broker.Delivery{}, err
			}
			m, err := broker.Decode(subject, toEnvelope(msg))
			if err != nil {
				metrics.ReadErrors.WithLabelValues(subject, "wire").Inc()
				c.poller.Log.Warnf(ctx, "malformed message subject=%s: %v (skipped)", msg.Subject, err)
				continue
			}
			return broker.Delivery{Message: m}, nil
		}
	})
}

func (c *Consumer) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close — отписка; повторный вызов возвращает ErrConsumerClosed.
func (c *Consumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConsumerClosed
	}
	c.closed = true
	if err := c.sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) && !errors.Is(err, nats.ErrBadSubscription) {
		return err
	}
	return nil
}

// toEnvelope — заголовки NATS (первое значение каждого ключа) в транспортный конверт.
func toEnvelope(msg *nats.Msg) broker.Envelope {
	headers := make(map[string]string, len(msg.Header))
	for k := range msg.Header {
		headers[k] = msg.Header.Get(k)
	}
	return broker.Envelope{Headers: headers, Payload: msg.Data}
}

// ToMsg — сообщение NATS для публикации в subject.
func ToMsg(subject string, m *domain.Message) (*nats.Msg, error) {
	env, err := broker.Encode(m)
	if err != nil {
		return nil, err
	}
	out := nats.NewMsg(subject)
	out.Data = env.Payload
	for k, v := range env.Headers {
		out.Header.Set(k, v)
	}
	return out, nil
}

type natsConn struct{ *nats.Conn }

func (c natsConn) SubscribeSync(subject string) (subscription, error) {
	sub, err := c.Conn.SubscribeSync(subject)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (c natsConn) QueueSubscribeSync(subject, queue string) (subscription, error) {
	sub, err := c.Conn.QueueSubscribeSync(subject, queue)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func connectNATS(cfg Config, log ports.Logger) (conn, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Timeout(cfg.ConnectTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warnf(context.Background(), "nats disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Infof(context.Background(), "nats reconnected")
		}),
	)
	if err != nil {
		return nil, err
	}
	return natsConn{nc}, nil
}

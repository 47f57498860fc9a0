// Пакет redis — сессия брокера поверх Redis Streams (redis/go-redis/v9):
// назначение — stream, чтение через consumer group, подтверждение — XACK.
package redis

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/Gunvolt24/mq_reader/internal/broker"
	"github.com/Gunvolt24/mq_reader/internal/ports"
	"github.com/Gunvolt24/mq_reader/internal/selector"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Проверка, что Session удовлетворяет порту Session.
var _ ports.Session = (*Session)(nil)

var ErrSessionClosed = errors.New("redis session is closed")

// FieldPayload — поле записи stream с телом сообщения; остальные поля — заголовки.
const FieldPayload = "mq-payload"

// Config — параметры подключения и consumer group.
type Config struct {
	Addr     string
	Password string
	DB       int

	Group    string        // consumer group (обязательно)
	Consumer string        // имя консьюмера в группе; пустое — сгенерированное
	StartID  string        // позиция новой группы: "0" — с начала stream, "$" — только новые
	Block    time.Duration // максимальная длительность одного XREADGROUP BLOCK

	RetryInitial time.Duration
	RetryMax     time.Duration
}

// Session — клиент Redis и созданные консьюмеры.
type Session struct {
	cfg    Config
	client *redis.Client
	log    ports.Logger

	mu        sync.Mutex
	consumers []*Consumer
	started   bool
	closed    bool
}

// NewSession — конструктор поверх нового клиента.
func NewSession(cfg Config, log ports.Logger) *Session {
	return NewSessionWithClient(cfg, redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}), log)
}

// NewSessionWithClient — конструктор поверх готового клиента; Close сессии закрывает клиент.
func NewSessionWithClient(cfg Config, client *redis.Client, log ports.Logger) *Session {
	if cfg.Consumer == "" {
		cfg.Consumer = "mq-reader-" + uuid.NewString()
	}
	if cfg.StartID == "" {
		cfg.StartID = "0"
	}
	if cfg.Block <= 0 {
		cfg.Block = time.Second
	}
	return &Session{cfg: cfg, client: client, log: log}
}

// CreateConsumer — консьюмер stream destination; consumer group создаётся при необходимости.
func (s *Session) CreateConsumer(ctx context.Context, destination, expression string) (ports.Consumer, error) {
	if destination == "" {
		return nil, errors.New("redis: stream is required")
	}
	if s.cfg.Group == "" {
		return nil, errors.New("redis: consumer group is required")
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

	err = s.client.XGroupCreateMkStream(ctx, destination, s.cfg.Group, s.cfg.StartID).Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("redis create group %s/%s: %w", destination, s.cfg.Group, err)
	}

	c := &Consumer{
		session: s,
		stream:  destination,
		poller: broker.Poller{
			Destination: destination,
			Filter:      sel,
			Log:         s.log,
			Backoff:     broker.NewBackoff(s.cfg.RetryInitial, s.cfg.RetryMax),
		},
	}
	s.pruneLocked()
	s.consumers = append(s.consumers, c)
	s.log.Infof(ctx, "redis consumer created stream=%s group=%s consumer=%s selector=%q",
		destination, s.cfg.Group, s.cfg.Consumer, sel)
	return c, nil
}

// Start — PING: сервер доступен.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}

	s.pruneLocked()
	ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.client.Ping(ctxPing).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	s.started = true
	return nil
}

// Close — закрывает консьюмеров и клиент; повторный вызов — no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	for _, c := range s.consumers {
		_ = c.Close()
	}
	s.consumers = nil
	return s.client.Close()
}

// pruneLocked — убирает закрытых читателем консьюмеров. Вызывается под s.mu.
func (s *Session) pruneLocked() {
	s.consumers = slices.DeleteFunc(s.consumers, (*Consumer).isClosed)
}

func (s *Session) isStarted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started && !s.closed
}

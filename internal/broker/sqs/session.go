// Пакет sqs — сессия брокера поверх AWS SQS (aws-sdk-go-v2): назначение — имя или URL очереди,
// ожидание — long polling, подтверждение — DeleteMessage.
package sqs

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/Gunvolt24/mq_reader/internal/broker"
	"github.com/Gunvolt24/mq_reader/internal/ports"
	"github.com/Gunvolt24/mq_reader/internal/selector"
)

// Проверка, что Session удовлетворяет порту Session.
var _ ports.Session = (*Session)(nil)

var ErrSessionClosed = errors.New("sqs session is closed")

// maxWaitTimeSeconds — верхняя граница long polling в SQS.
const maxWaitTimeSeconds = 20

// sqsAPI — подмножество операций SQS, нужное сессии.
type sqsAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	GetQueueUrl(ctx context.Context, params *sqs.GetQueueUrlInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error)
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

// Config — параметры SQS.
type Config struct {
	Region            string
	Endpoint          string // пусто — эндпоинт AWS по умолчанию (для localstack — http://localhost:4566)
	WaitTimeSeconds   int32  // long polling, не больше 20 (по умолчанию 20)
	VisibilityTimeout int32  // 0 — значение очереди

	RetryInitial time.Duration
	RetryMax     time.Duration
}

// Session — клиент SQS и созданные консьюмеры.
type Session struct {
	cfg    Config
	client sqsAPI
	log    ports.Logger

	mu        sync.Mutex
	consumers []*Consumer
	started   bool
	closed    bool
}

// NewSession — клиент из стандартной цепочки AWS-конфигурации.
func NewSession(ctx context.Context, cfg Config, log ports.Logger) (*Session, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return newSession(cfg, client, log), nil
}

func newSession(cfg Config, client sqsAPI, log ports.Logger) *Session {
	if cfg.WaitTimeSeconds <= 0 || cfg.WaitTimeSeconds > maxWaitTimeSeconds {
		cfg.WaitTimeSeconds = maxWaitTimeSeconds
	}
	return &Session{cfg: cfg, client: client, log: log}
}

// CreateConsumer — консьюмер очереди destination (имя очереди или её URL).
func (s *Session) CreateConsumer(ctx context.Context, destination, expression string) (ports.Consumer, error) {
	if destination == "" {
		return nil, errors.New("sqs: queue is required")
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

	queueURL := destination
	if !strings.HasPrefix(destination, "http://") && !strings.HasPrefix(destination, "https://") {
		out, err := s.client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: aws.String(destination)})
		if err != nil {
			return nil, fmt.Errorf("sqs resolve queue %s: %w", destination, err)
		}
		queueURL = aws.ToString(out.QueueUrl)
	}

	c := &Consumer{
		session:  s,
		queueURL: queueURL,
		poller: broker.Poller{
			Destination: destination,
			Filter:      sel,
			Log:         s.log,
			Backoff:     broker.NewBackoff(s.cfg.RetryInitial, s.cfg.RetryMax),
		},
	}
	s.pruneLocked()
	s.consumers = append(s.consumers, c)
	s.log.Infof(ctx, "sqs consumer created queue=%s selector=%q", queueURL, sel)
	return c, nil
}

// Start — запрос атрибутов каждой очереди: права и доступность.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}

	s.pruneLocked()
	for _, c := range s.consumers {
		_, err := s.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
			QueueUrl:       aws.String(c.queueURL),
			AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameApproximateNumberOfMessages},
		})
		if err != nil {
			return fmt.Errorf("sqs queue check %s: %w", c.queueURL, err)
		}
	}
	s.started = true
	return nil
}

// Close — у клиента SQS нет соединений для закрытия; помечает консьюмеров закрытыми.
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
	return nil
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

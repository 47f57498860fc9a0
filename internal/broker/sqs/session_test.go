package sqs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/Gunvolt24/mq_reader/internal/broker"
	"github.com/Gunvolt24/mq_reader/internal/domain"
)

type nopLogger struct{}

func (nopLogger) Infof(context.Context, string, ...any)  {}
func (nopLogger) Warnf(context.Context, string, ...any)  {}
func (nopLogger) Errorf(context.Context, string, ...any) {}

const queueURL = "https://sqs.eu-west-1.amazonaws.com/000000000000/items"

// fakeSQS — очередь в памяти с семантикой ReceiveMessage/DeleteMessage.
type fakeSQS struct {
	mu       sync.Mutex
	queue    []types.Message
	deleted  []string
	waits    []int32
	attrsErr error
	recvErrs int // сколько первых ReceiveMessage вернут ошибку
}

func (f *fakeSQS) send(t *testing.T, m *domain.Message) {
	t.Helper()
	in, err := ToSendInput(queueURL, m)
	if err != nil {
		t.Fatalf("ToSendInput: %v", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.queue) + len(f.deleted)
	f.queue = append(f.queue, types.Message{
		MessageId:         aws.String("sqs-" + string(rune('a'+n))),
		ReceiptHandle:     aws.String("rh-" + string(rune('a'+n))),
		Body:              in.MessageBody,
		MessageAttributes: in.MessageAttributes,
		Attributes:        map[string]string{"SentTimestamp": "1700000000000"},
	})
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.mu.Lock()
	f.waits = append(f.waits, in.WaitTimeSeconds)
	if f.recvErrs > 0 {
		f.recvErrs--
		f.mu.Unlock()
		return nil, errors.New("throttled")
	}
	if len(f.queue) > 0 {
		m := f.queue[0]
		f.queue = f.queue[1:]
		f.mu.Unlock()
		return &sqs.ReceiveMessageOutput{Messages: []types.Message{m}}, nil
	}
	f.mu.Unlock()

	// пустая очередь: long polling до WaitTimeSeconds или отмены
	t := time.NewTimer(time.Duration(in.WaitTimeSeconds) * time.Second)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.C:
		return &sqs.ReceiveMessageOutput{}, nil
	}
}

func (f *fakeSQS) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func (f *fakeSQS) GetQueueUrl(_ context.Context, in *sqs.GetQueueUrlInput, _ ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error) {
	if aws.ToString(in.QueueName) != "items" {
		return nil, errors.New("AWS.SimpleQueueService.NonExistentQueue")
	}
	return &sqs.GetQueueUrlOutput{QueueUrl: aws.String(queueURL)}, nil
}

func (f *fakeSQS) GetQueueAttributes(context.Context, *sqs.GetQueueAttributesInput, ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error) {
	return &sqs.GetQueueAttributesOutput{}, f.attrsErr
}

func startedConsumer(t *testing.T, api *fakeSQS, destination, expression string) *Consumer {
	t.Helper()
	s := newSession(Config{RetryInitial: time.Millisecond, RetryMax: 2 * time.Millisecond}, api, nopLogger{})
	t.Cleanup(func() { _ = s.Close() })

	c, err := s.CreateConsumer(context.Background(), destination, expression)
	if err != nil {
		t.Fatalf("CreateConsumer: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return c.(*Consumer)
}

func TestConsumer_Receive_DeletesAndDecodes(t *testing.T) {
	api := &fakeSQS{}
	api.send(t, &domain.Message{ID: "m-1", Type: "Order", Body: domain.ObjectBody{Data: []byte(`{"id":1}`)}})

	c := startedConsumer(t, api, "items", "")
	if c.queueURL != queueURL {
		t.Fatalf("queue name not resolved: %s", c.queueURL)
	}

	m, err := c.Receive(context.Background(), 2*time.Second)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if m.ID != "m-1" || m.Type != "Order" || m.Destination != "items" {
		t.Fatalf("unexpected message %s", m)
	}
	if string(m.Body.(domain.ObjectBody).Data) != `{"id":1}` {
		t.Fatalf("unexpected body %#v", m.Body)
	}
	if !m.Timestamp.Equal(time.UnixMilli(1700000000000)) {
		t.Fatalf("unexpected timestamp %s", m.Timestamp)
	}
	if len(api.deleted) != 1 || api.deleted[0] != "rh-a" {
		t.Fatalf("want message deleted, got %v", api.deleted)
	}
}

func TestConsumer_Receive_TimeoutShortensLongPolling(t *testing.T) {
	api := &fakeSQS{}
	c := startedConsumer(t, api, queueURL, "")

	start := time.Now()
	m, err := c.Receive(context.Background(), 300*time.Millisecond)
	if err != nil || m != nil {
		t.Fatalf("want (nil, nil), got (%v, %v)", m, err)
	}
	if time.Since(start) > 3*time.Second {
		t.Fatal("long polling ignored the read timeout")
	}
	if api.waits[0] != 1 {
		t.Fatalf("want WaitTimeSeconds=1 for a 300ms timeout, got %d", api.waits[0])
	}
}

func TestConsumer_Receive_RetriesOnceAndFilters(t *testing.T) {
	api := &fakeSQS{recvErrs: 1}
	api.send(t, &domain.Message{Properties: map[string]any{"tier": "free"}, Body: domain.TextBody{Text: "free"}})
	api.send(t, &domain.Message{Properties: map[string]any{"tier": "gold"}, Body: domain.TextBody{Text: "gold"}})

	c := startedConsumer(t, api, "items", `tier == "gold"`)

	m, err := c.Receive(context.Background(), 2*time.Second)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if m.Body.(domain.TextBody).Text != "gold" {
		t.Fatalf("selector let through %s", m)
	}
	// отфильтрованное тоже удаляется из очереди
	if len(api.deleted) != 2 {
		t.Fatalf("want both messages deleted, got %v", api.deleted)
	}
}

func TestConsumer_Receive_PersistentFailure_ReturnsFetchError(t *testing.T) {
	api := &fakeSQS{recvErrs: 10}
	api.send(t, &domain.Message{Body: domain.TextBody{Text: "never read"}})

	c := startedConsumer(t, api, "items", "")

	m, err := c.Receive(context.Background(), 2*time.Second)
	var fetchErr *broker.FetchError
	if !errors.As(err, &fetchErr) || m != nil {
		t.Fatalf("want *broker.FetchError, got (%v, %v)", m, err)
	}
	if fetchErr.Destination != "items" {
		t.Fatalf("unexpected destination %q", fetchErr.Destination)
	}
	if api.recvErrs != 8 {
		t.Fatalf("want exactly one retry, %d errors left", api.recvErrs)
	}
}

func TestSession_Errors(t *testing.T) {
	s := newSession(Config{}, &fakeSQS{attrsErr: errors.New("access denied")}, nopLogger{})

	if _, err := s.CreateConsumer(context.Background(), "missing", ""); err == nil {
		t.Fatal("want resolve error for unknown queue")
	}
	c, err := s.CreateConsumer(context.Background(), "items", "")
	if err != nil {
		t.Fatalf("CreateConsumer: %v", err)
	}
	if _, err := c.Receive(context.Background(), time.Millisecond); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("want ErrNotStarted, got %v", err)
	}
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("want queue check error from Start")
	}

	_ = s.Close()
	if _, err := c.Receive(context.Background(), time.Millisecond); !errors.Is(err, ErrConsumerClosed) {
		t.Fatalf("want ErrConsumerClosed, got %v", err)
	}
	if _, err := s.CreateConsumer(context.Background(), "items", ""); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("want ErrSessionClosed, got %v", err)
	}
}

func TestWaitFor(t *testing.T) {
	if got := waitFor(context.Background(), 20); got != 20 {
		t.Fatalf("no deadline: want 20, got %d", got)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if got := waitFor(ctx, 20); got != 5 {
		t.Fatalf("5s deadline: want 5, got %d", got)
	}
}

func TestSession_ReusedAfterConsumerClose(t *testing.T) {
	api := &fakeSQS{}
	api.send(t, &domain.Message{Body: domain.TextBody{Text: "one"}})
	api.send(t, &domain.Message{Body: domain.TextBody{Text: "two"}})

	s := newSession(Config{}, api, nopLogger{})
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()

	for i, want := range []string{"one", "two"} {
		c, err := s.CreateConsumer(ctx, "items", "")
		if err != nil {
			t.Fatalf("CreateConsumer #%d: %v", i+1, err)
		}
		if err := s.Start(ctx); err != nil {
			t.Fatalf("Start #%d: %v", i+1, err)
		}
		m, err := c.Receive(ctx, 2*time.Second)
		if err != nil || m.Body.(domain.TextBody).Text != want {
			t.Fatalf("Receive #%d: want %q, got (%v, %v)", i+1, want, m, err)
		}
		if err := c.Close(); err != nil {
			t.Fatalf("Close #%d: %v", i+1, err)
		}
	}

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if n := len(s.consumers); n != 0 {
		t.Fatalf("closed consumers must not be kept, got %d", n)
	}
}

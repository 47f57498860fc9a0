package amqp

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Gunvolt24/mq_reader/internal/broker"
	"github.com/Gunvolt24/mq_reader/internal/domain"
	"github.com/Gunvolt24/mq_reader/internal/reader"
)

type nopLogger struct{}

func (nopLogger) Infof(context.Context, string, ...any)  {}
func (nopLogger) Warnf(context.Context, string, ...any)  {}
func (nopLogger) Errorf(context.Context, string, ...any) {}

// fakeAck — Acknowledger, запоминающий подтверждения и отказы.
type fakeAck struct {
	mu       sync.Mutex
	acked    []uint64
	rejected []uint64
	ackErr   error
}

func (a *fakeAck) Ack(tag uint64, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acked = append(a.acked, tag)
	return a.ackErr
}

func (a *fakeAck) Nack(uint64, bool, bool) error { return nil }

func (a *fakeAck) Reject(tag uint64, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rejected = append(a.rejected, tag)
	return nil
}

type fakeChannel struct {
	deliveries chan amqp.Delivery
	missing    bool // очередь не существует
	consumeErr error

	qos       int
	cancelled bool
	closed    bool
}

func (f *fakeChannel) Qos(n, _ int, _ bool) error { f.qos = n; return nil }

func (f *fakeChannel) QueueDeclarePassive(name string, _, _, _, _ bool, _ amqp.Table) (amqp.Queue, error) {
	if f.missing {
		return amqp.Queue{}, &amqp.Error{Code: amqp.NotFound, Reason: "NOT_FOUND - no queue '" + name + "'"}
	}
	return amqp.Queue{Name: name}, nil
}

func (f *fakeChannel) Consume(string, string, bool, bool, bool, bool, amqp.Table) (<-chan amqp.Delivery, error) {
	if f.consumeErr != nil {
		return nil, f.consumeErr
	}
	return f.deliveries, nil
}

func (f *fakeChannel) Cancel(string, bool) error { f.cancelled = true; return nil }
func (f *fakeChannel) Close() error              { f.closed = true; return nil }

type fakeConn struct {
	ch     *fakeChannel
	next   []*fakeChannel // если не пусто — каналы выдаются по очереди, затем ch
	closed bool
}

func (f *fakeConn) Channel() (channel, error) {
	if len(f.next) > 0 {
		ch := f.next[0]
		f.next = f.next[1:]
		return ch, nil
	}
	return f.ch, nil
}
func (f *fakeConn) Close() error              { f.closed = true; return nil }

func newTestSession(ch *fakeChannel) (*Session, *fakeConn) {
	conn := &fakeConn{ch: ch}
	s := NewSession(Config{URL: "amqp://test", Prefetch: 5, ConsumerTag: "reader"}, nopLogger{})
	s.dial = func(string) (connection, error) { return conn, nil }
	return s, conn
}

func delivery(ack *fakeAck, tag uint64, kind, body string, headers amqp.Table) amqp.Delivery {
	h := amqp.Table{}
	if kind != "" {
		h[broker.HeaderKind] = kind
	}
	for k, v := range headers {
		h[k] = v
	}
	return amqp.Delivery{Acknowledger: ack, DeliveryTag: tag, MessageId: "m", Headers: h, Body: []byte(body)}
}

func TestConsumer_Receive_AcksAndDecodes(t *testing.T) {
	ack := &fakeAck{}
	ch := &fakeChannel{deliveries: make(chan amqp.Delivery, 4)}
	ch.deliveries <- delivery(ack, 1, "map", `{"a":1}`, amqp.Table{"region": "eu"})

	s, _ := newTestSession(ch)
	c, err := s.CreateConsumer(context.Background(), "orders", "")
	if err != nil {
		t.Fatalf("CreateConsumer: %v", err)
	}
	if _, err := c.Receive(context.Background(), time.Second); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("want ErrNotStarted before Start, got %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if ch.qos != 5 {
		t.Fatalf("prefetch: want 5, got %d", ch.qos)
	}

	m, err := c.Receive(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if m.Destination != "orders" || m.Properties["region"] != "eu" {
		t.Fatalf("unexpected message %s", m)
	}
	if got := m.Body.(domain.MapBody).Entries["a"]; got != int64(1) {
		t.Fatalf("want a=1, got %v", got)
	}
	if len(ack.acked) != 1 || ack.acked[0] != 1 {
		t.Fatalf("want delivery 1 acked, got %v", ack.acked)
	}
}

func TestConsumer_Receive_TimeoutAndTextContentType(t *testing.T) {
	ack := &fakeAck{}
	ch := &fakeChannel{deliveries: make(chan amqp.Delivery, 1)}
	d := delivery(ack, 7, "", "plain", nil)
	d.ContentType = "text/plain"
	d.Type = "Note"
	ch.deliveries <- d

	s, _ := newTestSession(ch)
	c, _ := s.CreateConsumer(context.Background(), "notes", "")
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	m, err := c.Receive(context.Background(), 50*time.Millisecond)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if m.Type != "Note" || m.Body.(domain.TextBody).Text != "plain" {
		t.Fatalf("unexpected message %s", m)
	}

	m, err = c.Receive(context.Background(), 20*time.Millisecond)
	if err != nil || m != nil {
		t.Fatalf("want (nil, nil) on empty queue, got (%v, %v)", m, err)
	}
}

func TestConsumer_Receive_MalformedRejected(t *testing.T) {
	ack := &fakeAck{}
	ch := &fakeChannel{deliveries: make(chan amqp.Delivery, 2)}
	ch.deliveries <- delivery(ack, 1, "map", "{", nil)
	ch.deliveries <- delivery(ack, 2, "text", "ok", nil)

	s, _ := newTestSession(ch)
	c, _ := s.CreateConsumer(context.Background(), "orders", "")
	_ = s.Start(context.Background())

	m, err := c.Receive(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if m.Body.(domain.TextBody).Text != "ok" {
		t.Fatalf("unexpected message %s", m)
	}
	if len(ack.rejected) != 1 || ack.rejected[0] != 1 {
		t.Fatalf("want delivery 1 rejected, got %v", ack.rejected)
	}
}

func TestConsumer_Receive_SelectorAndDeliveryClosed(t *testing.T) {
	ack := &fakeAck{}
	ch := &fakeChannel{deliveries: make(chan amqp.Delivery, 2)}
	ch.deliveries <- delivery(ack, 1, "text", "skip", amqp.Table{"priority": "1"})
	close(ch.deliveries)

	s, _ := newTestSession(ch)
	c, _ := s.CreateConsumer(context.Background(), "orders", `priority == "9"`)
	_ = s.Start(context.Background())

	if _, err := c.Receive(context.Background(), time.Second); !errors.Is(err, ErrDeliveryClosed) {
		t.Fatalf("want ErrDeliveryClosed, got %v", err)
	}
	// отфильтрованное сообщение всё равно подтверждено
	if len(ack.acked) != 1 {
		t.Fatalf("want filtered delivery acked, got %v", ack.acked)
	}
}

func TestSession_CreateConsumer_Errors(t *testing.T) {
	s, _ := newTestSession(&fakeChannel{missing: true})
	if _, err := s.CreateConsumer(context.Background(), "", ""); err == nil {
		t.Fatal("want error for empty queue")
	}
	if _, err := s.CreateConsumer(context.Background(), "ghost", ""); err == nil {
		t.Fatal("want error for missing queue")
	}

	s, _ = newTestSession(&fakeChannel{})
	s.dial = func(string) (connection, error) { return nil, errors.New("connection refused") }
	if _, err := s.CreateConsumer(context.Background(), "orders", ""); err == nil {
		t.Fatal("want dial error")
	}
}

func TestSession_Start_ConsumeFails(t *testing.T) {
	s, _ := newTestSession(&fakeChannel{consumeErr: errors.New("access refused")})
	if _, err := s.CreateConsumer(context.Background(), "orders", ""); err != nil {
		t.Fatalf("CreateConsumer: %v", err)
	}
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("want consume error from Start")
	}
}

func TestSession_Close(t *testing.T) {
	ch := &fakeChannel{deliveries: make(chan amqp.Delivery)}
	s, conn := newTestSession(ch)
	c, _ := s.CreateConsumer(context.Background(), "orders", "")
	_ = s.Start(context.Background())

	if err := c.Close(); err != nil {
		t.Fatalf("consumer Close: %v", err)
	}
	if !ch.cancelled || !ch.closed {
		t.Fatalf("want basic.cancel and channel close, got cancelled=%v closed=%v", ch.cancelled, ch.closed)
	}
	if err := c.Close(); !errors.Is(err, ErrConsumerClosed) {
		t.Fatalf("want ErrConsumerClosed on second Close, got %v", err)
	}
	if _, err := c.Receive(context.Background(), time.Millisecond); !errors.Is(err, ErrConsumerClosed) {
		t.Fatalf("want ErrConsumerClosed from Receive, got %v", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("session Close: %v", err)
	}
	if !conn.closed {
		t.Fatal("connection not closed")
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second session Close: %v", err)
	}
	if _, err := s.CreateConsumer(context.Background(), "orders", ""); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("want ErrSessionClosed, got %v", err)
	}
}

func TestToPublishing(t *testing.T) {
	p, err := ToPublishing(&domain.Message{ID: "p-1", Type: "Order", Body: domain.TextBody{Text: "x"}})
	if err != nil {
		t.Fatalf("ToPublishing: %v", err)
	}
	if p.MessageId != "p-1" || p.Type != "Order" || string(p.Body) != "x" || p.Headers[broker.HeaderKind] != "text" {
		t.Fatalf("unexpected publishing %+v", p)
	}
	if _, err := ToPublishing(nil); err == nil {
		t.Fatal("want error for nil message")
	}
}

func TestSession_ReusedByNextReader(t *testing.T) {
	ack := &fakeAck{}
	first := &fakeChannel{deliveries: make(chan amqp.Delivery, 1)}
	second := &fakeChannel{deliveries: make(chan amqp.Delivery, 1)}
	first.deliveries <- delivery(ack, 1, "text", "one", nil)
	second.deliveries <- delivery(ack, 2, "text", "two", nil)

	s, conn := newTestSession(first)
	conn.next = []*fakeChannel{first, second}
	t.Cleanup(func() { _ = s.Close() })

	for i, want := range []string{"one", "two"} {
		r := reader.NewReader(reader.Config{Timeout: time.Second}, s, nil, nopLogger{})
		if err := r.Open(context.Background(), "orders", ""); err != nil {
			t.Fatalf("Open #%d: %v", i+1, err)
		}
		item, err := r.ReadItem(context.Background())
		if err != nil || item != want {
			t.Fatalf("ReadItem #%d: want %q, got (%v, %v)", i+1, want, item, err)
		}
		r.Close()
	}

	if !first.closed || !second.closed {
		t.Fatalf("both channels must be closed, got first=%v second=%v", first.closed, second.closed)
	}
	// повторный Start без живых консьюмеров — не ошибка, закрытые вычищены
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start after readers closed: %v", err)
	}
	if n := len(s.consumers); n != 0 {
		t.Fatalf("closed consumers must not be kept by the session, got %d", n)
	}
}

func TestSession_CreateConsumer_StartedSession_ConsumeFails(t *testing.T) {
	ok := &fakeChannel{deliveries: make(chan amqp.Delivery)}
	broken := &fakeChannel{consumeErr: errors.New("access refused")}

	s, conn := newTestSession(ok)
	conn.next = []*fakeChannel{ok, broken}
	t.Cleanup(func() { _ = s.Close() })

	if _, err := s.CreateConsumer(context.Background(), "orders", ""); err != nil {
		t.Fatalf("CreateConsumer #1: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if _, err := s.CreateConsumer(context.Background(), "audit", ""); err == nil {
		t.Fatal("want consume error for the started session")
	}
	if !broken.closed {
		t.Fatal("channel of the failed consumer must be closed")
	}
	if n := len(s.consumers); n != 1 {
		t.Fatalf("failed consumer must not be kept, got %d consumers", n)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start after failed CreateConsumer: %v", err)
	}
}

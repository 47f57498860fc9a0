package jsonl_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Gunvolt24/mq_reader/internal/domain"
	"github.com/Gunvolt24/mq_reader/internal/sink/jsonl"
)

type closeTracker struct {
	bytes.Buffer
	closed bool
}

func (c *closeTracker) Close() error { c.closed = true; return nil }

func TestWriteItems_OneLinePerItem(t *testing.T) {
	var buf bytes.Buffer
	w := jsonl.NewWriter(&buf, false)

	items := []any{"text", map[string]any{"a": int64(1)}, map[string]any{}}
	if err := w.WriteItems(context.Background(), items); err != nil {
		t.Fatalf("WriteItems: %v", err)
	}

	want := "\"text\"\n{\"a\":1}\n{}\n"
	if buf.String() != want {
		t.Fatalf("want %q, got %q", want, buf.String())
	}
}

func TestWriteItems_Envelope(t *testing.T) {
	var buf bytes.Buffer
	w := jsonl.NewWriter(&buf, false)

	msg := &domain.Message{
		ID:          "m-1",
		Type:        "OrderCreated",
		Destination: "orders",
		Timestamp:   time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
		Body:        domain.ObjectBody{Data: []byte(`{"id":"o-1"}`)},
	}
	if err := w.WriteItems(context.Background(), []any{msg}); err != nil {
		t.Fatalf("WriteItems: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got["id"] != "m-1" || got["kind"] != "object" || got["timestamp"] != "2025-01-02T03:04:05Z" {
		t.Fatalf("unexpected envelope %v", got)
	}
	body, ok := got["body"].(map[string]any)
	if !ok || body["id"] != "o-1" {
		t.Fatalf("body must be embedded JSON, got %v", got["body"])
	}
}

func TestWriteItems_Unmarshalable(t *testing.T) {
	var buf bytes.Buffer
	w := jsonl.NewWriter(&buf, false)

	err := w.WriteItems(context.Background(), []any{make(chan int)})
	if err == nil || !strings.Contains(err.Error(), "item #0") {
		t.Fatalf("want item error, got %v", err)
	}
}

func TestWriteItems_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w := jsonl.NewWriter(&bytes.Buffer{}, false)
	if err := w.WriteItems(ctx, []any{"x"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}

func TestClose_OwnedOnly(t *testing.T) {
	owned := &closeTracker{}
	if err := jsonl.NewWriter(owned, true).Close(); err != nil || !owned.closed {
		t.Fatalf("owned stream must be closed: err=%v closed=%v", err, owned.closed)
	}

	shared := &closeTracker{}
	if err := jsonl.NewWriter(shared, false).Close(); err != nil || shared.closed {
		t.Fatalf("shared stream must stay open: err=%v closed=%v", err, shared.closed)
	}
}

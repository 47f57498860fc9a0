//go:build integration

package testutil

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/Gunvolt24/mq_reader/internal/domain"
)

func randHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func UniqSuffix() string { return randHex(6) }

// MakeItem — валидный объект-заказ в виде обобщённого JSON-значения.
func MakeItem() map[string]any {
	return map[string]any{
		"id":       "ord-" + UniqSuffix(),
		"customer": "cust-" + UniqSuffix(),
		"amount":   123,
		"created":  time.Now().UTC().Truncate(time.Second).Format(time.RFC3339),
	}
}

// MakeMessage — объектное сообщение с MakeItem в теле; opts переопределяют поля.
func MakeMessage(opts ...func(*domain.Message)) *domain.Message {
	data, _ := json.Marshal(MakeItem())
	m := &domain.Message{
		ID:        "msg-" + UniqSuffix(),
		Type:      "OrderCreated",
		Timestamp: time.Now().UTC().Truncate(time.Millisecond),
		Body:      domain.ObjectBody{Data: data},
	}
	for _, fn := range opts {
		fn(m)
	}
	return m
}

func WithType(typ string) func(*domain.Message) {
	return func(m *domain.Message) { m.Type = typ }
}

func WithProperty(key string, value any) func(*domain.Message) {
	return func(m *domain.Message) {
		if m.Properties == nil {
			m.Properties = map[string]any{}
		}
		m.Properties[key] = value
	}
}

func WithText(text string) func(*domain.Message) {
	return func(m *domain.Message) { m.Body = domain.TextBody{Text: text} }
}

// WithoutBody — generic-сообщение без тела.
func WithoutBody() func(*domain.Message) {
	return func(m *domain.Message) { m.Body = nil }
}

// Пакет broker — общее для сессий брокеров: формат сообщения «на проводе» и цикл приёма с фильтром.
package broker

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Gunvolt24/mq_reader/internal/domain"
)

// Заголовки, в которых конверт переносится через брокер.
const (
	HeaderMessageID  = "mq-message-id"
	HeaderType       = "mq-type"
	HeaderKind       = "mq-kind"       // object|map|text; отсутствие — generic
	HeaderProperties = "mq-properties" // JSON-объект пользовательских свойств
)

// Envelope — сообщение в транспортном представлении: заголовки + байты.
type Envelope struct {
	ID        string // нативный идентификатор брокера (если есть)
	Headers   map[string]string
	Payload   []byte
	Timestamp time.Time
}

// Decode — восстанавливает доменное сообщение из транспортного представления.
// Заголовки без префикса "mq-" попадают в свойства как строки.
func Decode(destination string, env Envelope) (*domain.Message, error) {
	msg := &domain.Message{
		ID:          env.ID,
		Destination: destination,
		Timestamp:   env.Timestamp,
		Properties:  map[string]any{},
	}

	for k, v := range env.Headers {
		switch k {
		case HeaderMessageID:
			if v != "" {
				msg.ID = v
			}
		case HeaderType:
			msg.Type = v
		case HeaderKind:
			// разбираем ниже, после свойств
		case HeaderProperties:
			props, err := decodeObject([]byte(v))
			if err != nil {
				return nil, fmt.Errorf("decode %s header: %w", HeaderProperties, err)
			}
			for pk, pv := range props {
				msg.Properties[pk] = pv
			}
		default:
			if !strings.HasPrefix(k, "mq-") {
				if _, exists := msg.Properties[k]; !exists {
					msg.Properties[k] = v
				}
			}
		}
	}

	switch domain.Kind(env.Headers[HeaderKind]) {
	case domain.KindObject:
		msg.Body = domain.ObjectBody{Data: env.Payload}
	case domain.KindMap:
		entries := map[string]any{}
		if len(bytes.TrimSpace(env.Payload)) > 0 {
			var err error
			if entries, err = decodeObject(env.Payload); err != nil {
				return nil, fmt.Errorf("decode map payload: %w", err)
			}
		}
		msg.Body = domain.MapBody{Entries: entries}
	case domain.KindText:
		msg.Body = domain.TextBody{Text: string(env.Payload)}
	default:
		// generic: тело не распознано
	}

	return msg, nil
}

// Encode — транспортное представление сообщения (используется тестами и отправкой).
func Encode(msg *domain.Message) (Envelope, error) {
	if msg == nil {
		return Envelope{}, errors.New("message is nil")
	}

	env := Envelope{
		ID:        msg.ID,
		Headers:   map[string]string{},
		Timestamp: msg.Timestamp,
	}
	if msg.ID != "" {
		env.Headers[HeaderMessageID] = msg.ID
	}
	if msg.Type != "" {
		env.Headers[HeaderType] = msg.Type
	}
	if len(msg.Properties) > 0 {
		raw, err := json.Marshal(msg.Properties)
		if err != nil {
			return Envelope{}, fmt.Errorf("encode properties: %w", err)
		}
		env.Headers[HeaderProperties] = string(raw)
	}

	switch body := msg.Body.(type) {
	case domain.ObjectBody:
		env.Headers[HeaderKind] = string(domain.KindObject)
		env.Payload = body.Data
	case domain.MapBody:
		env.Headers[HeaderKind] = string(domain.KindMap)
		entries := body.Entries
		if entries == nil {
			entries = map[string]any{}
		}
		raw, err := json.Marshal(entries)
		if err != nil {
			return Envelope{}, fmt.Errorf("encode map payload: %w", err)
		}
		env.Payload = raw
	case domain.TextBody:
		env.Headers[HeaderKind] = string(domain.KindText)
		env.Payload = []byte(body.Text)
	}

	return env, nil
}

// decodeObject — JSON-объект с нормализацией чисел: целые → int64, остальные → float64.
func decodeObject(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}
	if obj == nil {
		obj = map[string]any{}
	}
	for k, v := range obj {
		obj[k] = normalize(v)
	}
	return obj, nil
}

func normalize(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]any:
		for k, inner := range t {
			t[k] = normalize(inner)
		}
		return t
	case []any:
		for i, inner := range t {
			t[i] = normalize(inner)
		}
		return t
	default:
		return v
	}
}

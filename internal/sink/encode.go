// Пакет sink — общие помощники приёмников элементов.
package sink

import (
	"encoding/json"
	"time"

	"github.com/Gunvolt24/mq_reader/internal/domain"
)

// Envelope — JSON-представление конверта, который отдаёт читатель в режиме envelope.
type Envelope struct {
	ID          string         `json:"id,omitempty"`
	Type        string         `json:"type,omitempty"`
	Destination string         `json:"destination,omitempty"`
	Timestamp   string         `json:"timestamp,omitempty"`
	Properties  map[string]any `json:"properties,omitempty"`
	Kind        domain.Kind    `json:"kind"`
	Body        any            `json:"body,omitempty"`
}

// Encodable — привести элемент к виду, пригодному для json.Marshal.
// Конверт сообщения раскладывается по полям, остальное отдаётся как есть.
func Encodable(item any) any {
	m, ok := item.(*domain.Message)
	if !ok || m == nil {
		return item
	}

	e := Envelope{
		ID:          m.ID,
		Type:        m.Type,
		Destination: m.Destination,
		Properties:  m.Properties,
		Kind:        m.Kind(),
	}
	if !m.Timestamp.IsZero() {
		e.Timestamp = m.Timestamp.UTC().Format(time.RFC3339Nano)
	}
	switch b := m.Body.(type) {
	case domain.ObjectBody:
		if json.Valid(b.Data) {
			e.Body = json.RawMessage(b.Data)
		} else {
			e.Body = string(b.Data)
		}
	case domain.MapBody:
		e.Body = b.Entries
	case domain.TextBody:
		e.Body = b.Text
	}
	return e
}

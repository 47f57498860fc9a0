package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"
)

// Kind — вид полезной нагрузки сообщения.
type Kind string

const (
	KindObject  Kind = "object"  // сериализованный объект
	KindMap     Kind = "map"     // набор пар ключ/значение
	KindText    Kind = "text"    // строка
	KindGeneric Kind = "generic" // тело отсутствует или не распознано
)

// Body — закрытый вариант тела сообщения: ObjectBody | MapBody | TextBody.
// nil означает «generic»-сообщение без распознанного тела.
type Body interface {
	kind() Kind
}

// ObjectBody — сериализованный объект (JSON).
type ObjectBody struct {
	Data []byte
}

// MapBody — свойства в виде имя → значение.
type MapBody struct {
	Entries map[string]any
}

// TextBody — текстовое содержимое, пустая строка допустима.
type TextBody struct {
	Text string
}

func (ObjectBody) kind() Kind { return KindObject }
func (MapBody) kind() Kind    { return KindMap }
func (TextBody) kind() Kind   { return KindText }

// Message — конверт сообщения, полученного из назначения брокера.
type Message struct {
	ID          string         // идентификатор, присвоенный брокером/отправителем
	Type        string         // объявленный тип сообщения (может быть пустым)
	Destination string         // очередь/топик, из которого пришло сообщение
	Timestamp   time.Time      // время отправки, если известно
	Properties  map[string]any // пользовательские свойства (заголовки)
	Body        Body
}

// Kind — вид тела; для nil-тела возвращает KindGeneric.
func (m *Message) Kind() Kind {
	if m == nil || m.Body == nil {
		return KindGeneric
	}
	return m.Body.kind()
}

// String — диагностическое представление для логов и ошибок.
func (m *Message) String() string {
	if m == nil {
		return "Message<nil>"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Message{id=%q type=%q destination=%q kind=%s", m.ID, m.Type, m.Destination, m.Kind())
	if !m.Timestamp.IsZero() {
		fmt.Fprintf(&sb, " timestamp=%s", m.Timestamp.UTC().Format(time.RFC3339Nano))
	}
	if len(m.Properties) > 0 {
		// ключи сортируем, чтобы вывод был стабильным
		keys := make([]string, 0, len(m.Properties))
		for k := range m.Properties {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		sb.WriteString(" properties={")
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "%s=%v", k, m.Properties[k])
		}
		sb.WriteString("}")
	}
	switch b := m.Body.(type) {
	case ObjectBody:
		fmt.Fprintf(&sb, " body=%d bytes", len(b.Data))
	case MapBody:
		fmt.Fprintf(&sb, " body=%d entries", len(b.Entries))
	case TextBody:
		fmt.Fprintf(&sb, " body=%d chars", utf8.RuneCountInString(b.Text))
	}
	sb.WriteString("}")
	return sb.String()
}

package reader

import (
	"fmt"
	"strings"
	"time"
)

// Shape — форма возвращаемого элемента.
type Shape string

const (
	// ShapeAuto — элемент определяется видом тела сообщения.
	ShapeAuto Shape = ""
	// ShapeEnvelope — возвращается сам конверт *domain.Message.
	ShapeEnvelope Shape = "envelope"
)

// ParseShape — разбор значения из конфигурации (регистр и пробелы не важны).
func ParseShape(s string) (Shape, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return ShapeAuto, nil
	case "envelope", "message":
		return ShapeEnvelope, nil
	default:
		return ShapeAuto, fmt.Errorf("unknown target shape %q (want auto|envelope)", s)
	}
}

// Config — настройки читателя.
//
// Значения по умолчанию: Timeout=0 (ждать бесконечно), TargetShape=ShapeAuto, SkipValidation=false.
type Config struct {
	Timeout        time.Duration
	TargetShape    Shape
	SkipValidation bool

	// NewObject — фабрика целевого значения для объектных сообщений (должна возвращать указатель).
	// Если nil — объект декодируется в обобщённое JSON-значение.
	NewObject func() any
}

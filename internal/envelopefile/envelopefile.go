// Пакет envelopefile — чтение конвертов сообщений из JSON/JSONL-файлов (офлайн-прогон через декодер).
package envelopefile

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Gunvolt24/mq_reader/internal/broker"
	"github.com/Gunvolt24/mq_reader/internal/domain"
	"github.com/Gunvolt24/mq_reader/internal/ports"
)

// InputFormat допустимые значения.
type InputFormat string

const (
	FormatAuto  InputFormat = "auto"
	FormatJSON  InputFormat = "json"
	FormatJSONL InputFormat = "jsonl"
)

// ErrInvalidRecord — запись не является корректным конвертом.
var ErrInvalidRecord = errors.New("invalid envelope record")

// Record — конверт в файловом представлении.
// Body: JSON-объект для object/map, строка для text; без kind — generic.
type Record struct {
	ID          string          `json:"id"`
	Type        string          `json:"type,omitempty"`
	Destination string          `json:"destination,omitempty"`
	Timestamp   time.Time       `json:"timestamp,omitempty"`
	Properties  json.RawMessage `json:"properties,omitempty"`
	Kind        string          `json:"kind,omitempty" validate:"omitempty,oneof=object map text generic"`
	Body        json.RawMessage `json:"body,omitempty"`
}

// Result — статистика чтения файла.
type Result struct {
	Loaded  int
	Invalid int
}

// ToMessage — доменное сообщение через тот же транспортный кодек, что и у брокеров.
func (r *Record) ToMessage(defaultDestination string) (*domain.Message, error) {
	env := broker.Envelope{ID: r.ID, Headers: map[string]string{}, Timestamp: r.Timestamp}
	if r.Type != "" {
		env.Headers[broker.HeaderType] = r.Type
	}
	if props := bytes.TrimSpace(r.Properties); len(props) > 0 && !bytes.Equal(props, []byte("null")) {
		env.Headers[broker.HeaderProperties] = string(props)
	}

	body := bytes.TrimSpace(r.Body)
	switch domain.Kind(r.Kind) {
	case domain.KindObject, domain.KindMap:
		env.Headers[broker.HeaderKind] = r.Kind
		env.Payload = body
	case domain.KindText:
		env.Headers[broker.HeaderKind] = r.Kind
		var text string
		if len(body) > 0 {
			if err := json.Unmarshal(body, &text); err != nil {
				return nil, fmt.Errorf("%w: text body must be a JSON string: %v", ErrInvalidRecord, err)
			}
		}
		env.Payload = []byte(text)
	}

	dest := r.Destination
	if dest == "" {
		dest = defaultDestination
	}
	m, err := broker.Decode(dest, env)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return m, nil
}

// Loader — читает конверты и проверяет их теги валидатором.
type Loader struct {
	validator   ports.ItemValidator
	destination string
	log         ports.Logger
}

// NewLoader — destination подставляется в записи без своего назначения.
func NewLoader(validator ports.ItemValidator, destination string, log ports.Logger) *Loader {
	return &Loader{validator: validator, destination: destination, log: log}
}

// LoadFile — читает файл как JSON (один конверт или массив) или JSONL. Путь "-" — stdin.
func (l *Loader) LoadFile(ctx context.Context, filePath string, format InputFormat) ([]*domain.Message, Result, error) {
	// auto по расширению
	if format == FormatAuto || format == "" {
		switch strings.ToLower(filepath.Ext(filePath)) {
		case ".json":
			format = FormatJSON
		default:
			// stdin и всё остальное считаем JSONL
			format = FormatJSONL
		}
	}

	var in io.Reader = os.Stdin
	if filePath != "-" && filePath != "" {
		file, err := os.Open(filePath)
		if err != nil {
			return nil, Result{}, fmt.Errorf("open file: %w", err)
		}
		defer file.Close()
		in = file
	}

	switch format {
	case FormatJSON:
		raw, err := io.ReadAll(in)
		if err != nil {
			return nil, Result{}, fmt.Errorf("read file: %w", err)
		}
		return l.LoadJSON(ctx, raw)
	case FormatJSONL:
		return l.LoadJSONL(ctx, in)
	default:
		return nil, Result{}, fmt.Errorf("unsupported format: %s", format)
	}
}

// LoadJSON — один конверт или массив конвертов. Любая невалидная запись — ошибка.
func (l *Loader) LoadJSON(ctx context.Context, raw []byte) ([]*domain.Message, Result, error) {
	raw = bytes.TrimSpace(raw)

	var records []Record
	if len(raw) > 0 && raw[0] == '[' {
		if err := json.Unmarshal(raw, &records); err != nil {
			return nil, Result{Invalid: 1}, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
		}
	} else {
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, Result{Invalid: 1}, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
		}
		records = []Record{rec}
	}

	out := make([]*domain.Message, 0, len(records))
	for i := range records {
		m, err := l.toMessage(ctx, &records[i])
		if err != nil {
			return nil, Result{Loaded: len(out), Invalid: 1}, fmt.Errorf("record %d: %w", i, err)
		}
		out = append(out, m)
	}
	return out, Result{Loaded: len(out)}, nil
}

// LoadJSONL — по конверту на строку. Пустые строки пропускаются,
// невалидные считаются и пропускаются без ошибки.
func (l *Loader) LoadJSONL(ctx context.Context, in io.Reader) ([]*domain.Message, Result, error) {
	var (
		res Result
		out []*domain.Message
	)

	scanner := bufio.NewScanner(in)
	// запас на большие строки
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 10*1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		lineBytes := bytes.TrimSpace(scanner.Bytes())
		if len(lineBytes) == 0 {
			continue
		}

		var rec Record
		if err := json.Unmarshal(lineBytes, &rec); err != nil {
			res.Invalid++
			l.log.Warnf(ctx, "line %d: %v: %v (skipped)", line, ErrInvalidRecord, err)
			continue
		}
		m, err := l.toMessage(ctx, &rec)
		if err != nil {
			res.Invalid++
			l.log.Warnf(ctx, "line %d: %v (skipped)", line, err)
			continue
		}
		out = append(out, m)
		res.Loaded++
	}
	if err := scanner.Err(); err != nil {
		return out, res, fmt.Errorf("scan: %w", err)
	}
	return out, res, nil
}

func (l *Loader) toMessage(ctx context.Context, rec *Record) (*domain.Message, error) {
	if err := l.validator.Validate(ctx, rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return rec.ToMessage(l.destination)
}

// Пакет jsonl — приёмник элементов: одна JSON-строка на элемент.
package jsonl

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/Gunvolt24/mq_reader/internal/ports"
	"github.com/Gunvolt24/mq_reader/internal/sink"
)

// Проверка, что Writer удовлетворяет интерфейсу ItemWriter.
var _ ports.ItemWriter = (*Writer)(nil)

// Writer — построчная запись элементов в io.Writer.
type Writer struct {
	mu  sync.Mutex
	out *bufio.Writer
	c   io.Closer // nil — поток не наш, не закрываем
}

// NewWriter — запись в w; если w реализует io.Closer и owned=true, Close закроет его.
func NewWriter(w io.Writer, owned bool) *Writer {
	wr := &Writer{out: bufio.NewWriter(w)}
	if c, ok := w.(io.Closer); ok && owned {
		wr.c = c
	}
	return wr
}

// WriteItems — записать чанк и сбросить буфер.
func (w *Writer) WriteItems(ctx context.Context, items []any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for i, it := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		line, err := json.Marshal(sink.Encodable(it))
		if err != nil {
			return fmt.Errorf("item #%d: %w", i, err)
		}
		if _, err := w.out.Write(line); err != nil {
			return err
		}
		if err := w.out.WriteByte('\n'); err != nil {
			return err
		}
	}
	return w.out.Flush()
}

// Close — сбросить буфер и закрыть поток, если он принадлежит писателю.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	err := w.out.Flush()
	if w.c != nil {
		if cErr := w.c.Close(); err == nil {
			err = cErr
		}
		w.c = nil
	}
	return err
}

// Пакет batch — минимальный хост чанковой обработки: читает элементы до конца потока
// и передаёт их писателю чанками фиксированного размера.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Gunvolt24/mq_reader/internal/ports"
	"github.com/Gunvolt24/mq_reader/internal/reader"
	"github.com/Gunvolt24/mq_reader/pkg/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Проверка, что ChunkRunner удовлетворяет порту Job.
var _ ports.Job = (*ChunkRunner)(nil)

// ErrSkipLimitExceeded — пропущено больше элементов, чем разрешает SkipLimit.
var ErrSkipLimitExceeded = errors.New("skip limit exceeded")

// Config — параметры задачи.
type Config struct {
	Destination string
	Selector    string
	ChunkSize   int // по умолчанию 100
	SkipLimit   int // 0 — любой пропускаемый сбой останавливает задачу
}

// State — этап выполнения задачи.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Stats — снимок прогресса для /status.
type Stats struct {
	State      State     `json:"state"`
	Read       int       `json:"read"`
	Written    int       `json:"written"`
	Skipped    int       `json:"skipped"`
	Chunks     int       `json:"chunks"`
	StartedAt  *time.Time `json:"started_at,omitempty"` // nil, пока задача не запускалась
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// ChunkRunner — задача «прочитать назначение и записать чанками».
type ChunkRunner struct {
	cfg    Config
	reader ports.ItemReader
	writer ports.ItemWriter
	log    ports.Logger
	tracer trace.Tracer

	mu    sync.RWMutex
	stats Stats
}

// NewChunkRunner — DI-конструктор.
func NewChunkRunner(cfg Config, r ports.ItemReader, w ports.ItemWriter, log ports.Logger) *ChunkRunner {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 100
	}
	if cfg.SkipLimit < 0 {
		cfg.SkipLimit = 0
	}
	return &ChunkRunner{
		cfg:    cfg,
		reader: r,
		writer: w,
		log:    log,
		tracer: otel.Tracer("github.com/Gunvolt24/mq_reader/internal/batch"),
		stats:  Stats{State: StateIdle},
	}
}

// Run — открыть читателя, читать до конца потока, писать чанками.
// Открытый читатель закрывается при любом исходе; неудачный Open освобождает ресурсы сам, Close не вызывается.
// При ошибке незаписанный хвост чанка отбрасывается: брокер уже подтвердил эти сообщения,
// поэтому ошибка возвращается вызывающему, а не маскируется.
func (r *ChunkRunner) Run(ctx context.Context) (err error) {
	r.update(func(s *Stats) {
		started := time.Now().UTC()
		*s = Stats{State: StateRunning, StartedAt: &started}
	})
	defer func() {
		r.update(func(s *Stats) {
			finished := time.Now().UTC()
			s.FinishedAt = &finished
			if err != nil {
				s.State = StateFailed
				s.Error = err.Error()
				return
			}
			s.State = StateCompleted
		})
	}()

	if err := r.reader.Open(ctx, r.cfg.Destination, r.cfg.Selector); err != nil {
		return fmt.Errorf("open reader: %w", err)
	}
	defer r.reader.Close()

	r.log.Infof(ctx, "job started destination=%s chunk_size=%d skip_limit=%d",
		r.cfg.Destination, r.cfg.ChunkSize, r.cfg.SkipLimit)

	chunk := make([]any, 0, r.cfg.ChunkSize)
	for {
		item, readErr := r.reader.ReadItem(ctx)
		switch {
		case errors.Is(readErr, reader.ErrEndOfStream):
			if err := r.flush(ctx, chunk); err != nil {
				return err
			}
			st := r.Stats()
			r.log.Infof(ctx, "job completed destination=%s read=%d written=%d skipped=%d chunks=%d",
				r.cfg.Destination, st.Read, st.Written, st.Skipped, st.Chunks)
			return nil

		case readErr != nil:
			reason, skippable := skipReason(readErr)
			if !skippable {
				return fmt.Errorf("read item: %w", readErr)
			}
			if err := r.skip(ctx, reason, readErr); err != nil {
				return err
			}
			continue
		}

		r.update(func(s *Stats) { s.Read++ })
		chunk = append(chunk, item)
		if len(chunk) >= r.cfg.ChunkSize {
			if err := r.flush(ctx, chunk); err != nil {
				return err
			}
			chunk = make([]any, 0, r.cfg.ChunkSize)
		}
	}
}

// Stats — текущий снимок прогресса.
func (r *ChunkRunner) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stats
}

func (r *ChunkRunner) update(fn func(*Stats)) {
	r.mu.Lock()
	fn(&r.stats)
	r.mu.Unlock()
}

// flush — записать чанк; пустой чанк не пишется.
func (r *ChunkRunner) flush(ctx context.Context, chunk []any) error {
	if len(chunk) == 0 {
		return nil
	}

	ctx, span := r.tracer.Start(ctx, "batch.WriteChunk",
		trace.WithAttributes(attribute.Int("batch.chunk.size", len(chunk))))
	defer span.End()

	if err := r.writer.WriteItems(ctx, chunk); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "write failed")
		return fmt.Errorf("write chunk of %d items: %w", len(chunk), err)
	}

	metrics.ChunksWritten.Inc()
	metrics.ItemsWritten.Add(float64(len(chunk)))
	r.update(func(s *Stats) {
		s.Chunks++
		s.Written += len(chunk)
	})
	return nil
}

// skip — учесть пропущенный элемент; превышение лимита — ошибка.
func (r *ChunkRunner) skip(ctx context.Context, reason string, cause error) error {
	var skipped int
	r.update(func(s *Stats) {
		s.Skipped++
		skipped = s.Skipped
	})
	if skipped > r.cfg.SkipLimit {
		return fmt.Errorf("%w (%d): %w", ErrSkipLimitExceeded, r.cfg.SkipLimit, cause)
	}

	metrics.ItemsSkipped.WithLabelValues(reason).Inc()
	r.log.Warnf(ctx, "item skipped reason=%s (%d/%d): %v", reason, skipped, r.cfg.SkipLimit, cause)
	return nil
}

// skipReason — пропускаются только ошибки содержимого сообщения.
func skipReason(err error) (string, bool) {
	var (
		vErr *reader.ValidationError
		uErr *reader.UnsupportedMessageTypeError
	)
	switch {
	case errors.As(err, &vErr):
		return "validation", true
	case errors.As(err, &uErr):
		return "unsupported", true
	default:
		return "", false
	}
}

// Пакет postgres — приёмник элементов в таблицу read_items.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Gunvolt24/mq_reader/internal/ports"
	"github.com/Gunvolt24/mq_reader/internal/sink"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Проверка, что ItemWriter удовлетворяет интерфейсу ItemWriter.
var _ ports.ItemWriter = (*ItemWriter)(nil)

const insertItem = `INSERT INTO read_items (destination, payload) VALUES ($1, $2)`

// db — то, что нужно писателю от пула; *pgxpool.Pool подходит.
type db interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// ItemWriter — каждый чанк пишется одной транзакцией.
type ItemWriter struct {
	pool        db
	destination string
	log         ports.Logger
}

// NewItemWriter — конструктор; destination сохраняется в каждой строке.
func NewItemWriter(pool db, destination string, log ports.Logger) *ItemWriter {
	return &ItemWriter{pool: pool, destination: destination, log: log}
}

// WriteItems — вставить чанк целиком или не вставить ничего.
func (w *ItemWriter) WriteItems(ctx context.Context, items []any) error {
	if len(items) == 0 {
		return nil
	}

	// сериализуем заранее, чтобы не открывать транзакцию ради заведомо битого чанка
	payloads := make([][]byte, 0, len(items))
	for i, it := range items {
		raw, err := json.Marshal(sink.Encodable(it))
		if err != nil {
			return fmt.Errorf("marshal item #%d: %w", i, err)
		}
		payloads = append(payloads, raw)
	}

	transaction, err := w.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		// после Commit Rollback вернёт ErrTxClosed — это норма
		if rbErr := transaction.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			w.log.Warnf(ctx, "rollback failed: %v", rbErr)
		}
	}()

	batch := &pgx.Batch{}
	for _, p := range payloads {
		batch.Queue(insertItem, w.destination, p)
	}
	if err := execBatch(ctx, transaction, batch); err != nil {
		return err
	}

	if err := transaction.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Close — закрыть пул.
func (w *ItemWriter) Close() error {
	w.pool.Close()
	return nil
}

func execBatch(ctx context.Context, tx pgx.Tx, b *pgx.Batch) error {
	res := tx.SendBatch(ctx, b)
	for i := 0; i < b.Len(); i++ {
		if _, err := res.Exec(); err != nil {
			_ = res.Close()
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) {
				return fmt.Errorf("insert item #%d: %s (%s): %w", i, pgErr.Message, pgErr.Code, err)
			}
			return fmt.Errorf("insert item #%d: %w", i, err)
		}
	}
	return res.Close()
}

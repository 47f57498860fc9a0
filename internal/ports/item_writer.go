package ports

import "context"

// ItemWriter — приёмник чанка элементов.
type ItemWriter interface {
	WriteItems(ctx context.Context, items []any) error
	Close() error
}

package ports

import "context"

// ItemReader — источник элементов для чанковой обработки.
type ItemReader interface {
	Open(ctx context.Context, destination, selector string) error
	ReadItem(ctx context.Context) (any, error)
	CheckpointInfo() any
	Close()
}

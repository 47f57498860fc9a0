package ports

import "context"

// ItemValidator — проверка декодированного объекта.
type ItemValidator interface {
	Validate(ctx context.Context, item any) error
}

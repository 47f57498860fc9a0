package ports

import "context"

// Job — фоновая задача приложения (чанковое чтение назначения).
type Job interface {
	Run(ctx context.Context) error
}

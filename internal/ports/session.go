package ports

import (
	"context"
	"time"

	"github.com/Gunvolt24/mq_reader/internal/domain"
)

// Session — соединение с брокером, общее для читателя и писателя.
// Жизненным циклом сессии управляет вызывающая сторона (bootstrap).
type Session interface {
	// CreateConsumer — создать консьюмера для destination; selector может быть пустым (без фильтра).
	CreateConsumer(ctx context.Context, destination, selector string) (Consumer, error)
	// Start — запустить доставку сообщений.
	Start(ctx context.Context) error
	// Close — закрыть соединение.
	Close() error
}

// Consumer — подписка на одно назначение.
type Consumer interface {
	// Receive ждёт следующее сообщение не дольше timeout (0 — без ограничения).
	// Возвращает (nil, nil), если сообщение за отведённое время не пришло.
	Receive(ctx context.Context, timeout time.Duration) (*domain.Message, error)
	Close() error
}

package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Gunvolt24/mq_reader/internal/domain"
	"github.com/Gunvolt24/mq_reader/internal/ports"
	"github.com/Gunvolt24/mq_reader/internal/selector"
	"github.com/Gunvolt24/mq_reader/pkg/metrics"
)

// Delivery — одно полученное сообщение и способ подтвердить его брокеру.
type Delivery struct {
	Message *domain.Message
	Ack     func(ctx context.Context) error // может быть nil
}

// FetchFunc — блокирующее получение одного сообщения; при отмене ctx возвращает ошибку.
type FetchFunc func(ctx context.Context) (Delivery, error)

// FetchError — отказ брокера при получении сообщения. Истечение ожидания сюда не относится.
type FetchError struct {
	Destination string
	Err         error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch from %s: %v", e.Destination, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Poller — общий цикл приёма: дедлайн, подтверждение и фильтр по селектору.
type Poller struct {
	Destination string
	Filter      *selector.Selector
	Log         ports.Logger
	Backoff     *Backoff // пауза перед единственным повтором после ошибки брокера; nil — без повтора
}

// Receive — ждёт подходящее под фильтр сообщение не дольше timeout (0 — без ограничения).
// Истечение timeout при пустом ожидании — не ошибка: возвращается (nil, nil).
// Ошибка брокера повторяется не более одного раза, затем возвращается как *FetchError,
// в том числе когда timeout истёк во время паузы перед повтором или самого повтора.
// Каждое полученное сообщение подтверждается; не прошедшие фильтр отбрасываются.
func (p *Poller) Receive(ctx context.Context, timeout time.Duration, fetch FetchFunc) (*domain.Message, error) {
	fetchCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var lastErr error // ошибка брокера, после которой идёт повтор
	for {
		d, err := fetch(fetchCtx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if fetchCtx.Err() != nil && isContextErr(err) {
				// дедлайн истёк во время повтора — отказ брокера остаётся отказом
				if lastErr != nil {
					return nil, &FetchError{Destination: p.Destination, Err: lastErr}
				}
				return nil, nil
			}
			if lastErr != nil || p.Backoff == nil {
				return nil, &FetchError{Destination: p.Destination, Err: err}
			}
			lastErr = err
			p.Log.Warnf(ctx, "fetch failed destination=%s: %v (retrying once)", p.Destination, err)
			if !p.Backoff.Wait(fetchCtx) {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return nil, ctxErr
				}
				return nil, &FetchError{Destination: p.Destination, Err: err}
			}
			continue
		}
		if p.Backoff != nil {
			p.Backoff.Reset()
		}
		if d.Message == nil {
			continue
		}
		if d.Message.Destination == "" {
			d.Message.Destination = p.Destination
		}

		if d.Ack != nil {
			if ackErr := d.Ack(ctx); ackErr != nil {
				p.Log.Warnf(ctx, "ack failed destination=%s id=%s: %v", p.Destination, d.Message.ID, ackErr)
			}
		}

		ok, matchErr := p.Filter.Match(d.Message)
		if matchErr != nil {
			p.Log.Warnf(ctx, "selector failed destination=%s id=%s: %v", p.Destination, d.Message.ID, matchErr)
		}
		if ok {
			return d.Message, nil
		}
		metrics.MessagesFiltered.WithLabelValues(p.Destination).Inc()
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

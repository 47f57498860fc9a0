package broker

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Backoff — экспоненциальная задержка с equal-jitter между повторами после ошибок брокера.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration

	mu      sync.Mutex
	current time.Duration
	rnd     *rand.Rand
}

// NewBackoff — конструктор. Параметры по умолчанию: 1s → 30s.
func NewBackoff(initial, max time.Duration) *Backoff {
	if initial <= 0 {
		initial = 1 * time.Second
	}
	if max <= 0 {
		max = 30 * time.Second
	}
	if max < initial {
		max = initial
	}
	return &Backoff{
		Initial: initial,
		Max:     max,
		current: initial,
		// источник случайности, чтобы рассинхронизировать повторы разных консьюмеров
		rnd: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Reset — после успешной операции начинаем с Initial.
func (b *Backoff) Reset() {
	b.mu.Lock()
	b.current = b.Initial
	b.mu.Unlock()
}

// Next — задержка перед следующим повтором; интервал удваивается до Max.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	d := b.withJitterEqual(b.current)
	b.current *= 2
	if b.current > b.Max {
		b.current = b.Max
	}
	return d
}

// Wait — ждёт Next() или отмену ctx. false — контекст отменён.
func (b *Backoff) Wait(ctx context.Context) bool {
	return Sleep(ctx, b.Next())
}

// withJitterEqual — половина задержки фиксирована, вторая половина случайна.
func (b *Backoff) withJitterEqual(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	half := d / 2
	jitter := time.Duration(b.rnd.Int63n(int64(d-half) + 1))
	return half + jitter
}

// Sleep ждёт d или останавливается по контексту.
func Sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

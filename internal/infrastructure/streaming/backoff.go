package streaming

import (
	"context"
	"time"
)

// Backoff политика задержек между попытками переподключения
type Backoff struct {
	Initial time.Duration // Задержка перед первой попыткой
	Max     time.Duration // Потолок задержки
	Factor  float64       // Множитель для следующей попытки
}

// DefaultBackoff 1с, 2с, 4с, затем 5с
func DefaultBackoff() Backoff {
	return Backoff{
		Initial: 1 * time.Second,
		Max:     5 * time.Second,
		Factor:  2,
	}
}

// Delay задержка перед попыткой attempt (начиная с 1).
// Последовательность не убывает и не превышает Max.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	factor := b.Factor
	if factor < 1 {
		factor = 1
	}

	delay := float64(b.Initial)
	for i := 1; i < attempt; i++ {
		delay *= factor
		if b.Max > 0 && delay >= float64(b.Max) {
			return b.Max
		}
	}
	if b.Max > 0 && time.Duration(delay) > b.Max {
		return b.Max
	}
	return time.Duration(delay)
}

// sleepContext ждет d или отмены контекста
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

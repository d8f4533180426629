package queue

import (
	"context"
	"time"
)

const (
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

// backoff doubles from initialBackoff up to maxBackoff.
type backoff struct {
	wait time.Duration
}

func newBackoff() *backoff {
	return &backoff{wait: initialBackoff}
}

func (b *backoff) next() time.Duration {
	d := b.wait
	b.wait = min(b.wait*2, maxBackoff)
	return d
}

func (b *backoff) reset() {
	b.wait = initialBackoff
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

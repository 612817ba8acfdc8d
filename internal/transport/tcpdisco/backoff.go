package tcpdisco

import (
	"context"
	"math/rand/v2"
	"time"
)

// sleepCtx blocks for d or until ctx is done. Returns true if the
// sleep completed (context still alive).
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// backoff implements simple exponential backoff capped at a maximum.
type backoff struct {
	base    time.Duration
	max     time.Duration
	current time.Duration
}

func newBackoff(base, max time.Duration) *backoff {
	return &backoff{base: base, max: max, current: base}
}

// Next returns a jittered delay based on the current backoff interval,
// then doubles the interval for the next call. Full jitter (uniform
// random between 0 and current) prevents thundering-herd effects when
// many nodes reconnect simultaneously after a seed restart.
func (b *backoff) Next() time.Duration {
	d := b.current
	jittered := time.Duration(rand.Int64N(int64(d) + 1))
	if next := b.current * 2; next > b.max {
		b.current = b.max
	} else {
		b.current = next
	}
	return jittered
}

// Reset sets the delay back to the base value.
func (b *backoff) Reset() {
	b.current = b.base
}

package stream

import (
	"context"
	"math/rand"
	"time"
)

// BackoffStrategy is an exponential backoff with jitter, reset on success.
// Used between upstream reconnect attempts so a dead source is not hammered.
type BackoffStrategy struct {
	initial time.Duration
	max     time.Duration
	current time.Duration
}

func NewBackoffStrategy(initial, max time.Duration) *BackoffStrategy {
	if initial <= 0 {
		initial = 100 * time.Millisecond
	}
	if max < initial {
		max = initial
	}
	return &BackoffStrategy{
		initial: initial,
		max:     max,
		current: initial,
	}
}

// Next returns the current delay with up to 25% jitter and doubles the base
// for the next call, capped at max.
func (b *BackoffStrategy) Next() time.Duration {
	current := b.current
	b.current *= 2
	if b.current > b.max {
		b.current = b.max
	}
	jitter := time.Duration(rand.Int63n(int64(current)/4 + 1))
	return current + jitter
}

// Sleep waits for the next delay or until the context is done.
func (b *BackoffStrategy) Sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(b.Next()):
	}
}

// Reset returns the strategy to its initial delay.
func (b *BackoffStrategy) Reset() {
	b.current = b.initial
}

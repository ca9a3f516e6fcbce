package membership

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	// DefaultInitialDelay is the wait after the first failed join.
	DefaultInitialDelay = 2 * time.Second
	// DefaultMaxDelay is the longest wait before giving up on a room.
	DefaultMaxDelay = time.Hour
)

// Backoff produces the doubling join-retry delays for one room: 2s, 4s,
// 8s and so on. It is deterministic (no jitter).
type Backoff struct {
	exp      *backoff.ExponentialBackOff
	maxDelay time.Duration
}

// NewBackoff returns a Backoff starting at initial that stops once the
// next delay would exceed maxDelay.
func NewBackoff(initial, maxDelay time.Duration) *Backoff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = initial
	exp.RandomizationFactor = 0
	exp.Multiplier = 2
	// The cap is enforced by Next; the library must not clamp below it.
	exp.MaxInterval = 2 * maxDelay
	exp.Reset()
	return &Backoff{exp: exp, maxDelay: maxDelay}
}

// Next returns the delay before the next attempt. ok is false when that
// delay would exceed the cap and the caller should give up.
func (b *Backoff) Next() (delay time.Duration, ok bool) {
	delay = b.exp.NextBackOff()
	if delay > b.maxDelay {
		return delay, false
	}
	return delay, true
}

package scheduler

import (
	"math/rand"
	"time"
)

// Decorrelated-jitter backoff parameters (spec.md §4.8): each retry
// sleeps a random duration between the base and the previous sleep
// scaled by factor, capped at max. A success resets to base.
const (
	backoffBase   = 100 * time.Millisecond
	backoffMax    = 60 * time.Second
	backoffFactor = 2.0
)

// Backoff computes successive decorrelated-jitter delays.
type Backoff struct {
	sleep time.Duration
}

// NewBackoff returns a Backoff starting at the base delay.
func NewBackoff() *Backoff {
	return &Backoff{sleep: backoffBase}
}

// Next returns the next delay and advances the internal state.
func (b *Backoff) Next() time.Duration {
	upper := time.Duration(float64(b.sleep) * backoffFactor)
	if upper > backoffMax {
		upper = backoffMax
	}
	if upper <= backoffBase {
		b.sleep = backoffBase
		return b.sleep
	}
	span := int64(upper - backoffBase)
	d := backoffBase + time.Duration(rand.Int63n(span+1))
	if d > backoffMax {
		d = backoffMax
	}
	b.sleep = d
	return d
}

// Reset returns the backoff to its base delay, called after a successful
// cycle so the next failure doesn't inherit an inflated sleep.
func (b *Backoff) Reset() {
	b.sleep = backoffBase
}
